// Package store is the thin, serialized gateway to histd's embedded
// SQLite database. It is the only component that touches SQL; every
// other component borrows it through this package's API.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/basalt-labs/histd/pkg/histderr"
	"github.com/basalt-labs/histd/pkg/log"
	"github.com/basalt-labs/histd/pkg/types"
)

// Store owns the single embedded SQL connection and serializes every
// operation behind mu. The mutex is held for the complete duration of
// each operation — it is never released mid-operation (spec section
// 4.1's concurrency rule).
type Store struct {
	mu sync.Mutex
	db *sql.DB
}

// Open creates or opens a SQLite database at path, applies the pragmas
// spec section 4.1 calls for (WAL journal mode, exclusive locking,
// relaxed synchronous commits), bootstraps the schema, and sets
// user_version = 1.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, histderr.Storage("open database", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, histderr.Storage("connect to database", err)
	}

	// SQLite allows only one writer; a single connection avoids
	// SQLITE_BUSY contention since the mutex already serializes access.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.bootstrap(ctx); err != nil {
		db.Close()
		return nil, err
	}
	log.WithComponent("store").Info().Str("path", path).Msg("schema bootstrap complete")
	return s, nil
}

// bootstrap applies pragmas, creates the schema if absent, and sets
// the schema version pragma.
func (s *Store) bootstrap(ctx context.Context) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA locking_mode = EXCLUSIVE",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := s.db.ExecContext(ctx, p); err != nil {
			return histderr.Storage(fmt.Sprintf("apply pragma %q", p), err)
		}
	}

	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return histderr.Storage("create schema", err)
	}

	if _, err := s.db.ExecContext(ctx, "PRAGMA user_version = 1"); err != nil {
		return histderr.Storage("set user_version", err)
	}

	return nil
}

// Close closes the underlying connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// InsertEvent upserts the Command (keyed on argv) and Place (keyed on
// host+dir), then inserts one History row referencing both. All three
// statements run under one transaction, sequentially, inside the
// single Store mutex (spec section 4.1: "the body is not required to
// be one atomic transaction, but an implementation is free to wrap it
// in one" — this one does, to make the three statements one round
// trip through the mutex).
func (s *Store) InsertEvent(ctx context.Context, rec types.IngestRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return histderr.Storage("begin transaction", err)
	}
	defer tx.Rollback()

	commandID, err := upsertCommand(ctx, tx, rec.Argv)
	if err != nil {
		return err
	}

	placeID, err := upsertPlace(ctx, tx, rec.Host, rec.Dir)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO history (session, command_id, place_id, exit_status, end_time)
		VALUES (?, ?, ?, ?, ?)
	`, rec.Session, commandID, placeID, rec.ExitStatus, rec.EndTime)
	if err != nil {
		return histderr.Storage("insert history row", err)
	}

	if err := tx.Commit(); err != nil {
		return histderr.Storage("commit transaction", err)
	}
	return nil
}

type execQueryRower interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// upsertCommand returns the id of the Command row with the given argv,
// inserting one if it does not already exist.
func upsertCommand(ctx context.Context, tx execQueryRower, argv string) (int64, error) {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO commands (argv) VALUES (?)
		ON CONFLICT(argv) DO UPDATE SET argv = excluded.argv
	`, argv)
	if err != nil {
		return 0, histderr.Storage("upsert command", err)
	}
	// When ON CONFLICT DO UPDATE fires, SQLite leaves last_insert_rowid
	// at whatever row was last inserted on the connection (often a
	// history row), so LastInsertId cannot be trusted here; look the id
	// up instead.
	var id int64
	if err := tx.QueryRowContext(ctx, `SELECT id FROM commands WHERE argv = ?`, argv).Scan(&id); err != nil {
		return 0, histderr.Storage("lookup command id", err)
	}
	return id, nil
}

// upsertPlace returns the id of the Place row for (host, dir),
// inserting one if it does not already exist.
func upsertPlace(ctx context.Context, tx execQueryRower, host, dir string) (int64, error) {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO places (host, dir) VALUES (?, ?)
		ON CONFLICT(host, dir) DO UPDATE SET host = excluded.host
	`, host, dir)
	if err != nil {
		return 0, histderr.Storage("upsert place", err)
	}
	var id int64
	if err := tx.QueryRowContext(ctx, `SELECT id FROM places WHERE host = ? AND dir = ?`, host, dir).Scan(&id); err != nil {
		return 0, histderr.Storage("lookup place id", err)
	}
	return id, nil
}
