package audit

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/vaultcore/vault/internal/vaulterrors"
)

type fakeBackend struct {
	name    string
	mu      sync.Mutex
	entries []Entry
	failing bool
}

func (f *fakeBackend) Name() string { return f.name }

func (f *fakeBackend) Write(ctx context.Context, entry Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return fmt.Errorf("backend %s unavailable", f.name)
	}
	f.entries = append(f.entries, entry)
	return nil
}

func newMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}

func TestLogWithNoBackendsSucceeds(t *testing.T) {
	l := New(nil, []byte("key"), nil, newMetrics())
	require.NoError(t, l.Log(context.Background(), Entry{Operation: "read"}))
}

func TestLogSucceedsIfOneBackendSucceeds(t *testing.T) {
	good := &fakeBackend{name: "good"}
	bad := &fakeBackend{name: "bad", failing: true}
	l := New([]Backend{good, bad}, []byte("key"), nil, newMetrics())

	require.NoError(t, l.Log(context.Background(), Entry{Operation: "read"}))
	require.Len(t, good.entries, 1)
}

func TestLogFailsClosedWhenAllBackendsFail(t *testing.T) {
	bad1 := &fakeBackend{name: "bad1", failing: true}
	bad2 := &fakeBackend{name: "bad2", failing: true}
	l := New([]Backend{bad1, bad2}, []byte("key"), nil, newMetrics())

	err := l.Log(context.Background(), Entry{Operation: "read"})
	require.True(t, vaulterrors.Is(err, vaulterrors.KindAuditFailClosed))
}

func TestLogRedactsSensitivePaths(t *testing.T) {
	backend := &fakeBackend{name: "file"}
	l := New([]Backend{backend}, []byte("hmac-key"), []string{"$.password"}, newMetrics())

	err := l.Log(context.Background(), Entry{
		Operation: "write",
		Data:      map[string]interface{}{"password": "hunter2", "username": "alice"},
	})
	require.NoError(t, err)
	require.Len(t, backend.entries, 1)

	got := backend.entries[0].Data
	require.Equal(t, "alice", got["username"])
	require.NotEqual(t, "hunter2", got["password"])
	require.Contains(t, got["password"], "hmac-sha256:")
}

func TestRedactionIsDeterministic(t *testing.T) {
	backend := &fakeBackend{name: "file"}
	l := New([]Backend{backend}, []byte("hmac-key"), []string{"$.password"}, newMetrics())

	entry := Entry{Operation: "write", Data: map[string]interface{}{"password": "hunter2"}}
	require.NoError(t, l.Log(context.Background(), entry))
	require.NoError(t, l.Log(context.Background(), entry))

	require.Equal(t, backend.entries[0].Data["password"], backend.entries[1].Data["password"])
}

func TestLogRedactsTokenHash(t *testing.T) {
	backend := &fakeBackend{name: "file"}
	l := New([]Backend{backend}, []byte("hmac-key"), nil, newMetrics())

	err := l.Log(context.Background(), Entry{Operation: "read", TokenHash: "abc123"})
	require.NoError(t, err)
	require.Len(t, backend.entries, 1)

	got := backend.entries[0].TokenHash
	require.NotEqual(t, "abc123", got)
	require.Contains(t, got, "hmac-sha256:")
}

func TestLogRedactsUnconfiguredSensitiveField(t *testing.T) {
	backend := &fakeBackend{name: "file"}
	l := New([]Backend{backend}, []byte("hmac-key"), nil, newMetrics())

	err := l.Log(context.Background(), Entry{
		Operation: "write",
		Data:      map[string]interface{}{"api_key": "super-secret", "username": "alice"},
	})
	require.NoError(t, err)

	got := backend.entries[0].Data
	require.Equal(t, "alice", got["username"])
	require.Equal(t, "[REDACTED]", got["api_key"])
}

func TestUnmatchedPathLeavesDataUntouched(t *testing.T) {
	backend := &fakeBackend{name: "file"}
	l := New([]Backend{backend}, []byte("hmac-key"), []string{"$.does_not_exist"}, newMetrics())

	err := l.Log(context.Background(), Entry{
		Operation: "write",
		Data:      map[string]interface{}{"username": "alice"},
	})
	require.NoError(t, err)
	require.Equal(t, "alice", backend.entries[0].Data["username"])
}
