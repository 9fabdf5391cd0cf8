package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Postgres is a Backend backed by a single `vault_kv(key, value)` table. The
// query helpers below (ExecContext/QueryRowContext over an *sqlx.DB,
// fmt.Sprintf-built statements with $N placeholders) follow the same shape
// as the base store helpers used elsewhere in this codebase's Postgres
// stores, trimmed to the single key-value table this backend needs.
type Postgres struct {
	db        *sqlx.DB
	tableName string
}

// NewPostgres wraps an existing connection. The caller is responsible for
// running migrations (see internal/storage/migrations) before first use.
func NewPostgres(db *sqlx.DB) *Postgres {
	return &Postgres{db: db, tableName: "vault_kv"}
}

func (p *Postgres) Get(ctx context.Context, key string) ([]byte, bool, error) {
	query := fmt.Sprintf("SELECT value FROM %s WHERE key = $1", p.tableName)
	var value []byte
	err := p.db.QueryRowContext(ctx, query, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("storage: postgres get %q: %w", key, err)
	}
	return value, true, nil
}

func (p *Postgres) Put(ctx context.Context, key string, value []byte) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value
	`, p.tableName)
	if _, err := p.db.ExecContext(ctx, query, key, value); err != nil {
		return fmt.Errorf("storage: postgres put %q: %w", key, err)
	}
	return nil
}

func (p *Postgres) Delete(ctx context.Context, key string) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE key = $1", p.tableName)
	if _, err := p.db.ExecContext(ctx, query, key); err != nil {
		return fmt.Errorf("storage: postgres delete %q: %w", key, err)
	}
	return nil
}

func (p *Postgres) Exists(ctx context.Context, key string) (bool, error) {
	query := fmt.Sprintf("SELECT EXISTS(SELECT 1 FROM %s WHERE key = $1)", p.tableName)
	var exists bool
	if err := p.db.QueryRowContext(ctx, query, key).Scan(&exists); err != nil {
		return false, fmt.Errorf("storage: postgres exists %q: %w", key, err)
	}
	return exists, nil
}

func (p *Postgres) List(ctx context.Context, prefix string) ([]string, error) {
	query := fmt.Sprintf("SELECT key FROM %s WHERE key LIKE $1", p.tableName)
	rows, err := p.db.QueryContext(ctx, query, prefix+"%")
	if err != nil {
		return nil, fmt.Errorf("storage: postgres list %q: %w", prefix, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("storage: postgres list scan: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: postgres list rows: %w", err)
	}

	return groupImmediateChildren(keys, prefix), nil
}
