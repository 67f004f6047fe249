package kv

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPostgresWithMock(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err, "sqlmock.New")
	t.Cleanup(func() {
		db.Close()
	})
	return NewPostgresStore(db), mock
}

func TestPostgresStoreGet(t *testing.T) {
	key := Key{"user", 1}
	enc := mustEncode(t, key)

	tcases := []struct {
		name    string
		rows    *sqlmock.Rows
		dbErr   error
		want    Entry
		wantErr error
	}{
		{
			name: "found",
			rows: sqlmock.NewRows([]string{"value", "versionstamp"}).AddRow([]byte(`{"name":"alice"}`), int64(4)),
			want: Entry{Key: key, Value: []byte(`{"name":"alice"}`), Versionstamp: 4},
		},
		{
			name: "absent",
			rows: sqlmock.NewRows([]string{"value", "versionstamp"}),
			want: Entry{Key: key},
		},
		{
			name:    "database down",
			dbErr:   errors.New("connection refused"),
			wantErr: ErrStoreUnavailable,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			s, mock := newPostgresWithMock(t)
			q := mock.ExpectQuery(getEntryQuery).WithArgs(enc)
			if tc.dbErr != nil {
				q.WillReturnError(tc.dbErr)
			} else {
				q.WillReturnRows(tc.rows)
			}

			got, err := s.Get(context.Background(), key)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tc.want, got)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestPostgresStoreList(t *testing.T) {
	s, mock := newPostgresWithMock(t)
	s.pageSize = 2

	start, end, err := prefixRange(Key{"room_act"})
	require.NoError(t, err)
	k0, k1, k2 := mustEncode(t, Key{"room_act", 0}), mustEncode(t, Key{"room_act", 1}), mustEncode(t, Key{"room_act", 2})

	mock.ExpectQuery(listEntriesQuery).
		WithArgs(start, end, 2).
		WillReturnRows(sqlmock.NewRows([]string{"key", "value", "versionstamp"}).
			AddRow(k0, []byte("a"), int64(1)).
			AddRow(k1, []byte("b"), int64(2)))
	mock.ExpectQuery(listEntriesQuery).
		WithArgs(successor(k1), end, 2).
		WillReturnRows(sqlmock.NewRows([]string{"key", "value", "versionstamp"}).
			AddRow(k2, []byte("c"), int64(3)))

	got := collect(t, s.List(context.Background(), Key{"room_act"}))
	assert.Equal(t, []Key{{"room_act", int64(0)}, {"room_act", int64(1)}, {"room_act", int64(2)}}, keysOf(got))
	assert.Equal(t, Versionstamp(3), got[2].Versionstamp)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreCommit(t *testing.T) {
	name := Key{"room_name", "lobby"}
	act := Key{"room_act", 0}
	counter := Key{"next_room_id"}
	nameEnc, actEnc, counterEnc := mustEncode(t, name), mustEncode(t, act), mustEncode(t, counter)

	op := func() *AtomicOperation {
		return NewAtomic().
			Check(name, 0).
			Set(act, []byte("room")).
			Set(name, []byte("room")).
			Sum(counter, 1)
	}
	noRows := func() *sqlmock.Rows { return sqlmock.NewRows([]string{"versionstamp"}) }

	tcases := []struct {
		name    string
		setup   func(mock sqlmock.Sqlmock)
		wantVs  Versionstamp
		wantErr error
	}{
		{
			name: "applies writes under one versionstamp",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectQuery(lockVersionQuery).WithArgs(nameEnc).WillReturnRows(noRows())
				mock.ExpectQuery(lockValueQuery).WithArgs(counterEnc).
					WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow(U64(1)))
				mock.ExpectQuery(nextVersionQuery).
					WillReturnRows(sqlmock.NewRows([]string{"nextval"}).AddRow(int64(9)))
				mock.ExpectExec(upsertEntryQuery).WithArgs(actEnc, []byte("room"), int64(9)).
					WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectExec(upsertEntryQuery).WithArgs(nameEnc, []byte("room"), int64(9)).
					WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectExec(upsertEntryQuery).WithArgs(counterEnc, U64(2), int64(9)).
					WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectCommit()
			},
			wantVs: 9,
		},
		{
			name: "check fails",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectQuery(lockVersionQuery).WithArgs(nameEnc).
					WillReturnRows(sqlmock.NewRows([]string{"versionstamp"}).AddRow(int64(3)))
				mock.ExpectRollback()
			},
			wantErr: ErrCheckFailed,
		},
		{
			name: "serialization failure on commit",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectQuery(lockVersionQuery).WithArgs(nameEnc).WillReturnRows(noRows())
				mock.ExpectQuery(lockValueQuery).WithArgs(counterEnc).
					WillReturnRows(sqlmock.NewRows([]string{"value"}))
				mock.ExpectQuery(nextVersionQuery).
					WillReturnRows(sqlmock.NewRows([]string{"nextval"}).AddRow(int64(10)))
				mock.ExpectExec(upsertEntryQuery).WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectExec(upsertEntryQuery).WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectExec(upsertEntryQuery).WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectCommit().WillReturnError(&pq.Error{Code: "40001"})
			},
			wantErr: ErrCheckFailed,
		},
		{
			name: "unique violation on upsert",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectQuery(lockVersionQuery).WithArgs(nameEnc).WillReturnRows(noRows())
				mock.ExpectQuery(lockValueQuery).WithArgs(counterEnc).
					WillReturnRows(sqlmock.NewRows([]string{"value"}))
				mock.ExpectQuery(nextVersionQuery).
					WillReturnRows(sqlmock.NewRows([]string{"nextval"}).AddRow(int64(10)))
				mock.ExpectExec(upsertEntryQuery).WillReturnError(&pq.Error{Code: "23505"})
				mock.ExpectRollback()
			},
			wantErr: ErrCheckFailed,
		},
		{
			name: "begin fails",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin().WillReturnError(errors.New("too many connections"))
			},
			wantErr: ErrStoreUnavailable,
		},
		{
			name: "query fails",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectQuery(lockVersionQuery).WithArgs(nameEnc).WillReturnError(errors.New("connection reset by peer"))
				mock.ExpectRollback()
			},
			wantErr: ErrStoreUnavailable,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			s, mock := newPostgresWithMock(t)
			tc.setup(mock)

			vs, err := s.Commit(context.Background(), op())
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tc.wantVs, vs)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestMigratePostgres(t *testing.T) {
	orig := migrateUp
	t.Cleanup(func() { migrateUp = orig })

	migrateUp = func(db *sql.DB) error { return errors.New("dirty database version 1") }
	err := MigratePostgres(nil)
	assert.Error(t, err)
	assert.Regexp(t, regexp.MustCompile(`^kv migrate: dirty`), err.Error())

	migrateUp = func(db *sql.DB) error { return nil }
	assert.NoError(t, MigratePostgres(nil))
}

func TestMigrationsEmbedded(t *testing.T) {
	entries, err := migrationsFS.ReadDir("migrations")
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.Contains(t, names, "000001_create_kv_entries.up.sql")
	assert.Contains(t, names, "000001_create_kv_entries.down.sql")
}
