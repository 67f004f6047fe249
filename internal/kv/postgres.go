package kv

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/lib/pq"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	getEntryQuery    = "SELECT value, versionstamp FROM kv_entries WHERE key = $1"
	listEntriesQuery = "SELECT key, value, versionstamp FROM kv_entries " +
		"WHERE key >= $1 AND key < $2 ORDER BY key LIMIT $3"
	lockVersionQuery = "SELECT versionstamp FROM kv_entries WHERE key = $1 FOR UPDATE"
	lockValueQuery   = "SELECT value FROM kv_entries WHERE key = $1 FOR UPDATE"
	nextVersionQuery = "SELECT nextval('kv_versionstamp_seq')"
	upsertEntryQuery = "INSERT INTO kv_entries (key, value, versionstamp) VALUES ($1, $2, $3) " +
		"ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, versionstamp = EXCLUDED.versionstamp"
)

// SQLSTATE codes that mean a concurrent transaction won.
var conflictCodes = map[pq.ErrorCode]struct{}{
	"40001": {}, // serialization_failure
	"40P01": {}, // deadlock_detected
	"23505": {}, // unique_violation
}

// PostgresStore keeps entries in the kv_entries table. Commits run in
// SERIALIZABLE transactions.
type PostgresStore struct {
	db       *sql.DB
	pageSize int
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, pageSize: DefaultPageSize}
}

// OpenPostgresStore connects to dsn, applies the schema migrations and
// returns the store.
func OpenPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, unavailable("open", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, unavailable("open", err)
	}

	if err := MigratePostgres(db); err != nil {
		db.Close()
		return nil, err
	}

	return NewPostgresStore(db), nil
}

// migrateUp is a seam for tests.
var migrateUp = func(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return err
	}
	drv, err := migratepg.WithInstance(db, &migratepg.Config{MigrationsTable: "kv_schema_migrations"})
	if err != nil {
		return err
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", drv)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// MigratePostgres creates or upgrades the kv schema.
func MigratePostgres(db *sql.DB) error {
	if err := migrateUp(db); err != nil {
		return fmt.Errorf("kv migrate: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, key Key) (Entry, error) {
	b, err := key.Encode()
	if err != nil {
		return Entry{}, err
	}

	var (
		value []byte
		vs    int64
	)
	err = s.db.QueryRowContext(ctx, getEntryQuery, b).Scan(&value, &vs)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{Key: key}, nil
	}
	if err != nil {
		return Entry{}, unavailable("get", err)
	}

	return Entry{Key: key, Value: value, Versionstamp: Versionstamp(vs)}, nil
}

func (s *PostgresStore) List(ctx context.Context, prefix Key) *Iterator {
	return newIterator(ctx, prefix, s.pageSize, s.page)
}

func (s *PostgresStore) page(ctx context.Context, start, end []byte, limit int) ([]rawEntry, error) {
	rows, err := s.db.QueryContext(ctx, listEntriesQuery, start, end, limit)
	if err != nil {
		return nil, unavailable("list", err)
	}
	defer rows.Close()

	out := make([]rawEntry, 0, limit)
	for rows.Next() {
		var (
			e  rawEntry
			vs int64
		)
		if err := rows.Scan(&e.key, &e.value, &vs); err != nil {
			return nil, unavailable("list", err)
		}
		e.vs = Versionstamp(vs)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list", err)
	}

	return out, nil
}

func (s *PostgresStore) Commit(ctx context.Context, op *AtomicOperation) (Versionstamp, error) {
	checks, muts, err := op.encode()
	if err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return 0, unavailable("commit", err)
	}

	vs, err := s.commitTx(ctx, tx, checks, muts)
	if err != nil {
		_ = tx.Rollback()
		return 0, classifyPgError(err)
	}

	if err := tx.Commit(); err != nil {
		return 0, classifyPgError(err)
	}

	return vs, nil
}

func (s *PostgresStore) commitTx(ctx context.Context, tx *sql.Tx, checks []encodedCheck, muts []encodedMutation) (Versionstamp, error) {
	for _, c := range checks {
		var cur int64
		err := tx.QueryRowContext(ctx, lockVersionQuery, c.key).Scan(&cur)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return 0, err
		}
		if Versionstamp(cur) != c.vs {
			return 0, ErrCheckFailed
		}
	}

	writes, err := resolveWrites(muts, func(key []byte) ([]byte, bool, error) {
		var value []byte
		err := tx.QueryRowContext(ctx, lockValueQuery, key).Scan(&value)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		if err != nil {
			return nil, false, err
		}
		return value, true, nil
	})
	if err != nil {
		return 0, err
	}

	var vs int64
	if err := tx.QueryRowContext(ctx, nextVersionQuery).Scan(&vs); err != nil {
		return 0, err
	}

	for _, w := range writes {
		if _, err := tx.ExecContext(ctx, upsertEntryQuery, w.key, w.value, vs); err != nil {
			return 0, err
		}
	}

	return Versionstamp(vs), nil
}

func classifyPgError(err error) error {
	if errors.Is(err, ErrCheckFailed) || errors.Is(err, ErrInvalidMutation) {
		return err
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		if _, ok := conflictCodes[pqErr.Code]; ok {
			return ErrCheckFailed
		}
	}
	return unavailable("commit", err)
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
