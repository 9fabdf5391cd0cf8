// Package shamir implements Shamir secret sharing over GF(256), used by the
// seal manager to split the unseal key into operator shares and reconstruct
// it from a quorum of them. No HSM or external dependency is involved: the
// field arithmetic and polynomial evaluation are self-contained.
package shamir

import (
	"crypto/rand"
	"fmt"

	"github.com/vaultcore/vault/internal/crypto"
)

// SecretSize is the length in bytes of the secret this package splits. The
// seal manager always shares a 256-bit unseal key.
const SecretSize = 32

// ShareSize is the length of one encoded share: the secret bytes followed by
// a single index byte in [1, 255].
const ShareSize = SecretSize + 1

// Split divides secret into n shares such that any t of them reconstruct it,
// and fewer than t reveal nothing. Requires 1 <= t <= n <= 255.
func Split(secret []byte, t, n int) ([][]byte, error) {
	if len(secret) != SecretSize {
		return nil, fmt.Errorf("shamir: secret must be %d bytes, got %d", SecretSize, len(secret))
	}
	if t <= 0 {
		return nil, fmt.Errorf("shamir: threshold must be positive, got %d", t)
	}
	if n > 255 {
		return nil, fmt.Errorf("shamir: shares must be at most 255, got %d", n)
	}
	if t > n {
		return nil, fmt.Errorf("shamir: threshold %d exceeds share count %d", t, n)
	}

	// One polynomial of degree t-1 per secret byte, constant term = secret byte.
	coeffs := make([][]byte, SecretSize)
	for i := 0; i < SecretSize; i++ {
		poly := make([]byte, t)
		poly[0] = secret[i]
		if t > 1 {
			random := make([]byte, t-1)
			if _, err := rand.Read(random); err != nil {
				return nil, fmt.Errorf("shamir: generate coefficients: %w", err)
			}
			copy(poly[1:], random)
		}
		coeffs[i] = poly
	}

	shares := make([][]byte, n)
	for shareIdx := 0; shareIdx < n; shareIdx++ {
		x := byte(shareIdx + 1)
		share := make([]byte, ShareSize)
		for byteIdx := 0; byteIdx < SecretSize; byteIdx++ {
			share[byteIdx] = evalPoly(coeffs[byteIdx], x)
		}
		share[SecretSize] = x
		shares[shareIdx] = share
	}

	for _, c := range coeffs {
		crypto.ZeroBytes(c)
	}

	return shares, nil
}

// Combine reconstructs the secret from t or more shares via Lagrange
// interpolation at x=0. Returns an error if shares are malformed, empty, or
// carry duplicate indices. Fewer shares than the split threshold are not
// detected: they yield a wrong secret without an error.
func Combine(shares [][]byte) ([]byte, error) {
	if len(shares) < 1 {
		return nil, fmt.Errorf("shamir: need at least one share")
	}

	xs := make([]byte, len(shares))
	seen := make(map[byte]bool, len(shares))
	for i, s := range shares {
		if len(s) != ShareSize {
			return nil, fmt.Errorf("shamir: share %d has length %d, want %d", i, len(s), ShareSize)
		}
		x := s[SecretSize]
		if x == 0 {
			return nil, fmt.Errorf("shamir: share %d has invalid index 0", i)
		}
		if seen[x] {
			return nil, fmt.Errorf("shamir: duplicate share index %d", x)
		}
		seen[x] = true
		xs[i] = x
	}

	secret := make([]byte, SecretSize)
	for byteIdx := 0; byteIdx < SecretSize; byteIdx++ {
		ys := make([]byte, len(shares))
		for i, s := range shares {
			ys[i] = s[byteIdx]
		}
		secret[byteIdx] = interpolateAtZero(xs, ys)
	}

	return secret, nil
}

// evalPoly evaluates a polynomial (coefficients low-to-high degree) at x
// using Horner's method over GF(256).
func evalPoly(coeffs []byte, x byte) byte {
	var result byte
	for i := len(coeffs) - 1; i >= 0; i-- {
		result = gfAdd(gfMul(result, x), coeffs[i])
	}
	return result
}

// interpolateAtZero computes the Lagrange interpolation of the points
// (xs[i], ys[i]) evaluated at x=0, i.e. the constant term of the unique
// polynomial through those points.
func interpolateAtZero(xs, ys []byte) byte {
	var result byte
	for i := range xs {
		var term byte = 1
		for j := range xs {
			if i == j {
				continue
			}
			// term *= xs[j] / (xs[j] - xs[i]); subtraction is XOR in GF(256).
			numerator := xs[j]
			denominator := gfAdd(xs[j], xs[i])
			term = gfMul(term, gfMul(numerator, gfInv(denominator)))
		}
		result = gfAdd(result, gfMul(ys[i], term))
	}
	return result
}

// gfAdd is addition in GF(256): bitwise XOR.
func gfAdd(a, b byte) byte { return a ^ b }

// gfMul multiplies two elements of GF(256) using the AES reduction
// polynomial x^8 + x^4 + x^3 + x + 1 (0x11B).
func gfMul(a, b byte) byte {
	var result byte
	for b > 0 {
		if b&1 != 0 {
			result ^= a
		}
		hiBitSet := a & 0x80
		a <<= 1
		if hiBitSet != 0 {
			a ^= 0x1B
		}
		b >>= 1
	}
	return result
}

// gfInv returns the multiplicative inverse of a nonzero element of GF(256)
// via exponentiation: a^254 == a^-1 since the multiplicative group has order
// 255.
func gfInv(a byte) byte {
	if a == 0 {
		return 0
	}
	var result byte = 1
	base := a
	exp := 254
	for exp > 0 {
		if exp&1 != 0 {
			result = gfMul(result, base)
		}
		base = gfMul(base, base)
		exp >>= 1
	}
	return result
}
