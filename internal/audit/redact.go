package audit

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/PaesslerAG/jsonpath"

	"github.com/vaultcore/vault/infrastructure/security"
)

// redactor replaces sensitive fields in an entry's Data with the HMAC-SHA256
// of their original value, so the field's presence and consistency (the
// same secret redacts to the same token) stay auditable without exposing
// the secret itself.
type redactor struct {
	key   []byte
	paths []string
}

func newRedactor(key []byte, paths []string) *redactor {
	return &redactor{key: key, paths: paths}
}

func (r *redactor) redact(entry Entry) Entry {
	if entry.TokenHash != "" {
		entry.TokenHash = r.hmac(entry.TokenHash)
	}
	if entry.Error != "" {
		entry.Error = security.SanitizeError(fmt.Errorf("%s", entry.Error))
	}

	if len(entry.Data) == 0 {
		return entry
	}

	data := make(map[string]interface{}, len(entry.Data))
	for k, v := range entry.Data {
		data[k] = v
	}
	entry.Data = data

	// JSONPath-targeted fields are replaced by an HMAC so the same secret
	// always redacts to the same token (useful for correlating audit lines
	// without exposing the secret).
	redacted := make(map[string]bool, len(r.paths))
	for _, path := range r.paths {
		value, err := jsonpath.Get(path, map[string]interface{}(data))
		if err != nil {
			continue
		}
		key, ok := leafKeyForPath(path, data)
		if !ok {
			continue
		}
		data[key] = r.hmac(fmt.Sprintf("%v", value))
		redacted[key] = true
	}

	// Defense-in-depth pass over whatever the configured paths didn't
	// already cover: a plain mask, not an HMAC, since these fields were
	// never meant to be individually addressed by this pipeline's
	// configuration and so have no consistency property to preserve.
	for k, v := range data {
		if redacted[k] {
			continue
		}
		if security.IsSensitiveKey(k) {
			data[k] = "[REDACTED]"
			continue
		}
		if s, ok := v.(string); ok {
			data[k] = security.SanitizeString(s)
		}
	}

	return entry
}

func (r *redactor) hmac(value string) string {
	mac := hmac.New(sha256.New, r.key)
	mac.Write([]byte(value))
	return "hmac-sha256:" + hex.EncodeToString(mac.Sum(nil))
}

// leafKeyForPath resolves a JSONPath expression of the shape "$.field" to
// the top-level key it addresses in data. Only top-level fields are
// supported for redaction; nested-object paths are left untouched since the
// audit pipeline's Data map is a flat field set by convention.
func leafKeyForPath(path string, data map[string]interface{}) (string, bool) {
	key := path
	if len(key) > 2 && key[0] == '$' && key[1] == '.' {
		key = key[2:]
	}
	if _, ok := data[key]; ok {
		return key, true
	}
	return "", false
}
