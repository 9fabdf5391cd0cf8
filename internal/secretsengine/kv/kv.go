// Package kv implements a key-value secrets engine: arbitrary JSON-ish data
// stored and retrieved by path, encrypted through the Barrier exactly like
// every other vault record. Grounded on the teacher's secrets.Service,
// whose AES-GCM envelope-encryption-over-a-master-key pattern becomes "read
// and write through the Barrier" once the master key is the vault's own
// root key rather than a Marble-injected one.
package kv

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/vaultcore/vault/internal/barrier"
	"github.com/vaultcore/vault/internal/secretsengine"
	"github.com/vaultcore/vault/internal/vaulterrors"
)

// versionMeta is the companion record kept alongside each secret so
// Metadata can report version/created-at/updated-at without touching the
// secret's own payload.
type versionMeta struct {
	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Engine is a key-value secrets engine instance scoped to one mount.
type Engine struct {
	barrier   *barrier.Barrier
	mountPath string // e.g. "secret/" — prepended to every storage key
}

// New constructs an Engine backed by b, namespacing all of its records
// under mountPath so two kv mounts never collide in storage.
func New(b *barrier.Barrier, mountPath string) *Engine {
	return &Engine{barrier: b, mountPath: mountPath}
}

// Type implements secretsengine.Engine.
func (e *Engine) Type() string { return "kv" }

func (e *Engine) storageKey(path string) string {
	return "data/" + e.mountPath + path
}

func (e *Engine) metaKey(path string) string {
	return "meta/" + e.mountPath + path
}

// Handle implements secretsengine.Engine.
func (e *Engine) Handle(ctx context.Context, req secretsengine.Request) (secretsengine.Response, error) {
	switch req.Operation {
	case secretsengine.OperationRead:
		return e.read(ctx, req.Path)
	case secretsengine.OperationWrite:
		return e.write(ctx, req.Path, req.Data)
	case secretsengine.OperationDelete:
		if err := e.barrier.Delete(ctx, e.storageKey(req.Path)); err != nil {
			return secretsengine.Response{}, err
		}
		return secretsengine.Response{}, e.barrier.Delete(ctx, e.metaKey(req.Path))
	case secretsengine.OperationList:
		return e.list(ctx, req.Path)
	default:
		return secretsengine.Response{}, vaulterrors.BadRequest("kv: unsupported operation").
			WithDetail("operation", string(req.Operation))
	}
}

func (e *Engine) read(ctx context.Context, path string) (secretsengine.Response, error) {
	raw, ok, err := e.barrier.Get(ctx, e.storageKey(path))
	if err != nil {
		return secretsengine.Response{}, err
	}
	if !ok {
		return secretsengine.Response{}, vaulterrors.NotFound("secret", path)
	}
	var data map[string]interface{}
	if err := json.Unmarshal(raw, &data); err != nil {
		return secretsengine.Response{}, vaulterrors.Internal("kv: decode secret", err)
	}
	return secretsengine.Response{Data: data}, nil
}

func (e *Engine) write(ctx context.Context, path string, data map[string]interface{}) (secretsengine.Response, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return secretsengine.Response{}, vaulterrors.Internal("kv: encode secret", err)
	}
	if err := e.barrier.Put(ctx, e.storageKey(path), raw); err != nil {
		return secretsengine.Response{}, err
	}
	if err := e.bumpMeta(ctx, path); err != nil {
		return secretsengine.Response{}, err
	}
	return secretsengine.Response{Data: data}, nil
}

func (e *Engine) bumpMeta(ctx context.Context, path string) error {
	now := time.Now()
	meta := versionMeta{Version: 1, CreatedAt: now, UpdatedAt: now}
	if raw, ok, err := e.barrier.Get(ctx, e.metaKey(path)); err != nil {
		return err
	} else if ok {
		var existing versionMeta
		if err := json.Unmarshal(raw, &existing); err == nil {
			meta.Version = existing.Version + 1
			meta.CreatedAt = existing.CreatedAt
		}
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return vaulterrors.Internal("kv: encode metadata", err)
	}
	return e.barrier.Put(ctx, e.metaKey(path), raw)
}

// Metadata implements secretsengine.Engine.
func (e *Engine) Metadata(ctx context.Context, path string) (secretsengine.Metadata, error) {
	raw, ok, err := e.barrier.Get(ctx, e.metaKey(path))
	if err != nil {
		return secretsengine.Metadata{}, err
	}
	if !ok {
		return secretsengine.Metadata{}, vaulterrors.NotFound("secret", path)
	}
	var meta versionMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return secretsengine.Metadata{}, vaulterrors.Internal("kv: decode metadata", err)
	}
	return secretsengine.Metadata{
		Version:   meta.Version,
		CreatedAt: meta.CreatedAt,
		UpdatedAt: meta.UpdatedAt,
	}, nil
}

func (e *Engine) list(ctx context.Context, path string) (secretsengine.Response, error) {
	children, err := e.barrier.List(ctx, e.storageKey(path))
	if err != nil {
		return secretsengine.Response{}, err
	}
	sort.Strings(children)
	keys := make([]interface{}, len(children))
	for i, c := range children {
		keys[i] = c
	}
	return secretsengine.Response{Data: map[string]interface{}{"keys": keys}}, nil
}

// Revoke implements secretsengine.Engine. The kv engine issues no
// time-bound grants, so there is nothing external to tear down.
func (e *Engine) Revoke(ctx context.Context, leaseData map[string]interface{}) error {
	return nil
}
