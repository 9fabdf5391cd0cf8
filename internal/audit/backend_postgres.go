package audit

import (
	"context"
	"encoding/json"

	"github.com/jmoiron/sqlx"

	"github.com/vaultcore/vault/internal/vaulterrors"
)

// PostgresBackend writes audit entries to a single append-only table.
// Grounded on the teacher's postgresAuditSink (internal/app/httpapi/audit.go),
// generalized from the HTTP-request entry shape to the vault's own Entry.
type PostgresBackend struct {
	db *sqlx.DB
}

// NewPostgresBackend wraps db. The vault_audit_log table is created by the
// storage package's migrations.
func NewPostgresBackend(db *sqlx.DB) *PostgresBackend {
	return &PostgresBackend{db: db}
}

// Name implements Backend.
func (b *PostgresBackend) Name() string { return "postgres" }

// Write implements Backend.
func (b *PostgresBackend) Write(ctx context.Context, entry Entry) error {
	data, err := json.Marshal(entry.Data)
	if err != nil {
		return vaulterrors.Internal("audit: encode data", err)
	}
	metadata, err := json.Marshal(entry.Metadata)
	if err != nil {
		return vaulterrors.Internal("audit: encode metadata", err)
	}

	_, err = b.db.ExecContext(ctx, `
		INSERT INTO vault_audit_log
			(occurred_at, entry_type, operation, path, token_hash, error, remote_addr, data, metadata)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, entry.Time, entry.Type, entry.Operation, entry.Path, entry.TokenHash, entry.Error, entry.RemoteAddr, data, metadata)
	if err != nil {
		return vaulterrors.Internal("audit: insert entry", err)
	}
	return nil
}
