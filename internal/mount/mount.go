// Package mount implements the prefix-to-engine routing table: an
// in-process read-mostly cache backed by one encrypted record in the
// Barrier, resolved by longest-prefix match.
package mount

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/vaultcore/vault/internal/barrier"
	"github.com/vaultcore/vault/internal/vaulterrors"
)

const mountTableKey = "sys/mounts"

// Entry describes one mounted secrets engine.
type Entry struct {
	Path        string            `json:"path"`
	EngineType  string            `json:"engine_type"`
	Description string            `json:"description,omitempty"`
	Config      map[string]string `json:"config,omitempty"`
}

// Manager holds the mount table in memory behind a read-mostly lock and
// persists the entire table as one Barrier record on every mutation.
type Manager struct {
	mu    sync.RWMutex
	table map[string]Entry

	barrier *barrier.Barrier
}

// New constructs an empty Manager. Call Load to recover a persisted table.
func New(b *barrier.Barrier) *Manager {
	return &Manager{table: make(map[string]Entry), barrier: b}
}

// Load recovers the persisted mount table, if any, replacing the in-memory
// copy. Call once after unseal.
func (m *Manager) Load(ctx context.Context) error {
	raw, ok, err := m.barrier.Get(ctx, mountTableKey)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	var table map[string]Entry
	if err := json.Unmarshal(raw, &table); err != nil {
		return vaulterrors.Internal("mount: decode table", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.table = table
	return nil
}

// Mount adds entry to the table. The path is normalized to end with "/".
// Fails with BadRequest on an empty path, Conflict on a duplicate.
func (m *Manager) Mount(ctx context.Context, entry Entry) error {
	path := normalizePath(entry.Path)
	if path == "/" {
		return vaulterrors.BadRequest("mount path must not be empty")
	}
	entry.Path = path

	m.mu.Lock()
	if _, exists := m.table[path]; exists {
		m.mu.Unlock()
		return vaulterrors.Conflict("mount path already in use").WithDetail("path", path)
	}
	next := cloneTable(m.table)
	next[path] = entry
	m.mu.Unlock()

	if err := m.persist(ctx, next); err != nil {
		return err
	}

	m.mu.Lock()
	m.table = next
	m.mu.Unlock()
	return nil
}

// Unmount removes the entry at path and returns it. The caller is
// responsible for cascading lease revocation for the mount's engine prefix
// before or after this call.
func (m *Manager) Unmount(ctx context.Context, path string) (Entry, error) {
	path = normalizePath(path)

	m.mu.Lock()
	entry, exists := m.table[path]
	if !exists {
		m.mu.Unlock()
		return Entry{}, vaulterrors.NotFound("mount", path)
	}
	next := cloneTable(m.table)
	delete(next, path)
	m.mu.Unlock()

	if err := m.persist(ctx, next); err != nil {
		return Entry{}, err
	}

	m.mu.Lock()
	m.table = next
	m.mu.Unlock()
	return entry, nil
}

// Resolve returns the mount entry whose path is the longest prefix of path,
// along with the remainder of path past the mount prefix. Returns
// (Entry{}, "", false) if no mount matches.
func (m *Manager) Resolve(path string) (entry Entry, remainder string, ok bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var bestPath string
	var best Entry
	found := false
	for mountPath, e := range m.table {
		if strings.HasPrefix(path, mountPath) && len(mountPath) > len(bestPath) {
			bestPath = mountPath
			best = e
			found = true
		}
	}
	if !found {
		return Entry{}, "", false
	}
	return best, path[len(bestPath):], true
}

// List returns a snapshot of the current mount table.
func (m *Manager) List() map[string]Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return cloneTable(m.table)
}

func (m *Manager) persist(ctx context.Context, table map[string]Entry) error {
	raw, err := json.Marshal(table)
	if err != nil {
		return vaulterrors.Internal("mount: encode table", err)
	}
	return m.barrier.Put(ctx, mountTableKey, raw)
}

func cloneTable(table map[string]Entry) map[string]Entry {
	next := make(map[string]Entry, len(table))
	for k, v := range table {
		next[k] = v
	}
	return next
}

func normalizePath(path string) string {
	if path == "" {
		return "/"
	}
	if !strings.HasSuffix(path, "/") {
		return path + "/"
	}
	return path
}
