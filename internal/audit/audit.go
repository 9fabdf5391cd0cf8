// Package audit implements the fail-closed, multi-backend audit pipeline:
// every privileged operation is logged to each configured backend, with
// HMAC-redacted sensitive fields, before the caller's request is allowed to
// proceed.
package audit

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/vaultcore/vault/infrastructure/resilience"
	"github.com/vaultcore/vault/internal/vaulterrors"
)

// Entry is one audit record. Data carries request/response payload fields
// eligible for redaction; Metadata carries non-sensitive context always
// logged in full.
type Entry struct {
	Time       time.Time              `json:"time"`
	Type       string                 `json:"type"` // "request" or "response"
	Operation  string                 `json:"operation"`
	Path       string                 `json:"path"`
	TokenHash  string                 `json:"token_hash,omitempty"`
	Policies   []string               `json:"policies,omitempty"`
	Error      string                 `json:"error,omitempty"`
	RemoteAddr string                 `json:"remote_addr,omitempty"`
	Data       map[string]interface{} `json:"data,omitempty"`
	Metadata   map[string]string      `json:"metadata,omitempty"`
}

// Backend persists audit entries somewhere durable.
type Backend interface {
	Name() string
	Write(ctx context.Context, entry Entry) error
}

// Logger fans an entry out to every configured backend, redacts sensitive
// fields first, and fails closed: if at least one backend is configured and
// every configured backend fails, Log returns an AuditFailClosed error so
// the caller can refuse the operation it was about to log.
type Logger struct {
	mu       sync.Mutex
	backends []Backend
	breakers map[string]*resilience.CircuitBreaker
	redactor *redactor
	metrics  *Metrics
	log      *logrus.Logger
}

// New constructs a Logger. sensitivePaths are JSONPath expressions (e.g.
// "$.password", "$.private_key") matched against each entry's Data and
// replaced with their HMAC-SHA256 under hmacKey. Each backend gets its own
// circuit breaker so a wedged SIEM collector or database doesn't add
// latency to every write once it starts failing.
func New(backends []Backend, hmacKey []byte, sensitivePaths []string, metrics *Metrics) *Logger {
	breakers := make(map[string]*resilience.CircuitBreaker, len(backends))
	for _, b := range backends {
		breakers[b.Name()] = resilience.New(resilience.DefaultConfig())
	}
	return &Logger{
		backends: backends,
		breakers: breakers,
		redactor: newRedactor(hmacKey, sensitivePaths),
		metrics:  metrics,
		log:      logrus.StandardLogger(),
	}
}

// Log redacts entry and writes it to every backend. Returns nil if zero
// backends are configured or at least one write succeeds; returns an
// AuditFailClosed error only when backends are configured and all of them
// failed.
func (l *Logger) Log(ctx context.Context, entry Entry) error {
	redacted := l.redactor.redact(entry)

	l.mu.Lock()
	backends := l.backends
	l.mu.Unlock()

	if len(backends) == 0 {
		return nil
	}

	var lastErr error
	successes := 0
	for _, b := range backends {
		breaker := l.breakers[b.Name()]
		start := time.Now()
		err := breaker.Execute(ctx, func() error { return b.Write(ctx, redacted) })
		if l.metrics != nil {
			l.metrics.ObserveWrite(b.Name(), time.Since(start), err)
		}
		if err != nil {
			lastErr = err
			l.log.WithError(err).WithField("backend", b.Name()).Error("audit: backend write failed")
			continue
		}
		successes++
	}

	if successes == 0 {
		return vaulterrors.AuditFailClosed(lastErr)
	}
	return nil
}
