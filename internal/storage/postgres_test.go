package storage

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
)

func newMockPostgres(t *testing.T) (*Postgres, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgres(sqlx.NewDb(db, "postgres")), mock
}

func TestPostgresGetFound(t *testing.T) {
	p, mock := newMockPostgres(t)
	mock.ExpectQuery("SELECT value FROM vault_kv WHERE key = \\$1").
		WithArgs("sys/root-key").
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow([]byte("encrypted")))

	v, ok, err := p.Get(context.Background(), "sys/root-key")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("encrypted"), v)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetNotFound(t *testing.T) {
	p, mock := newMockPostgres(t)
	mock.ExpectQuery("SELECT value FROM vault_kv WHERE key = \\$1").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"value"}))

	_, ok, err := p.Get(context.Background(), "missing")
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresPutUpsert(t *testing.T) {
	p, mock := newMockPostgres(t)
	mock.ExpectExec("INSERT INTO vault_kv").
		WithArgs("sys/mounts", []byte("table")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, p.Put(context.Background(), "sys/mounts", []byte("table")))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresDelete(t *testing.T) {
	p, mock := newMockPostgres(t)
	mock.ExpectExec("DELETE FROM vault_kv WHERE key = \\$1").
		WithArgs("sys/leases/abc").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, p.Delete(context.Background(), "sys/leases/abc"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresExists(t *testing.T) {
	p, mock := newMockPostgres(t)
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("sys/init").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	ok, err := p.Exists(context.Background(), "sys/init")
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresList(t *testing.T) {
	p, mock := newMockPostgres(t)
	mock.ExpectQuery("SELECT key FROM vault_kv WHERE key LIKE").
		WithArgs("sys/tokens/%").
		WillReturnRows(sqlmock.NewRows([]string{"key"}).
			AddRow("sys/tokens/aaa").
			AddRow("sys/tokens/bbb"))

	keys, err := p.List(context.Background(), "sys/tokens/")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"aaa", "bbb"}, keys)
	require.NoError(t, mock.ExpectationsWereMet())
}
