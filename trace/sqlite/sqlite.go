// Package sqlite provides a SQLite store for frozen trace snapshots.
//
// # Calling Conventions
//
// Methods execute against s.conn, which is either the underlying
// *sql.DB (autocommit mode) or a *sql.Tx (transactional mode). Save
// writes a snapshot row and one row per point; outside a transaction
// it opens its own so a snapshot is never stored partially.
//
// For operations spanning several calls, use RunInTransaction:
//
//	err := store.RunInTransaction(ctx, func(tx *sqlite.Store) error {
//	    if err := tx.Delete(ctx, old); err != nil {
//	        return err // triggers rollback
//	    }
//	    return tx.Save(ctx, snap) // commits if nil
//	})
//
// # Prepared Statements
//
// All queries are prepared once against *sql.DB when the store is
// opened. RunInTransaction binds them to the transaction with
// tx.StmtContext; the masters stay valid across transactions.
//
// The database is opened in WAL mode with foreign keys enforced, so
// deleting a snapshot removes its points.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

//go:embed schema.sql
var schemaSQL string

// dbConn abstracts *sql.DB and *sql.Tx for query execution.
type dbConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store keeps trace snapshots in SQLite. It implements trace.Sink
// and trace.Source.
type Store struct {
	db     *sql.DB // original connection, used for BeginTx
	conn   dbConn  // active connection (db or tx)
	inTx   bool
	logger *slog.Logger

	stmtSaveSnapshot   *sql.Stmt
	stmtSavePoint      *sql.Stmt
	stmtGetSnapshot    *sql.Stmt
	stmtGetPoints      *sql.Stmt
	stmtListSnapshots  *sql.Stmt
	stmtDeleteSnapshot *sql.Stmt
}

// New opens (creating if needed) a store at dbPath.
func New(ctx context.Context, dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "store", "db", dbPath)

	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open(driverName, dsn(dbPath, filePragmas))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s, err := open(ctx, db, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("opened database", "path", dbPath)
	return s, nil
}

// NewInMemory creates an in-memory store for testing.
func NewInMemory(ctx context.Context, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "store", "db", ":memory:")

	db, err := sql.Open(driverName, dsn(":memory:", memoryPragmas))
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory database: %w", err)
	}
	// Every connection to :memory: is a distinct database.
	db.SetMaxOpenConns(1)

	s, err := open(ctx, db, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("opened in-memory database")
	return s, nil
}

func open(ctx context.Context, db *sql.DB, logger *slog.Logger) (*Store, error) {
	s := &Store{db: db, conn: db, logger: logger}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	if err := s.prepareStatements(ctx); err != nil {
		s.closeStatements()
		db.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}
	return s, nil
}

// Close closes all prepared statements and the database connection.
func (s *Store) Close() error {
	s.closeStatements()
	return s.db.Close()
}

// closeStatements closes all prepared statements. Each close error
// is silently ignored because the database is about to be closed.
func (s *Store) closeStatements() {
	stmts := []*sql.Stmt{
		s.stmtSaveSnapshot,
		s.stmtSavePoint,
		s.stmtGetSnapshot,
		s.stmtGetPoints,
		s.stmtListSnapshots,
		s.stmtDeleteSnapshot,
	}
	for _, stmt := range stmts {
		if stmt != nil {
			stmt.Close()
		}
	}
}

func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	return nil
}

// RunInTransaction executes fn within a database transaction. If fn
// returns nil the transaction commits, otherwise it rolls back.
//
// The transactional store binds the master prepared statements to
// the transaction with tx.StmtContext. Those handles become invalid
// after commit or rollback; the masters do not.
func (s *Store) RunInTransaction(ctx context.Context, fn func(*Store) error) error {
	if s.inTx {
		return fn(s)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	txStore := &Store{
		db:     s.db,
		conn:   tx,
		inTx:   true,
		logger: s.logger,

		stmtSaveSnapshot:   tx.StmtContext(ctx, s.stmtSaveSnapshot),
		stmtSavePoint:      tx.StmtContext(ctx, s.stmtSavePoint),
		stmtGetSnapshot:    tx.StmtContext(ctx, s.stmtGetSnapshot),
		stmtGetPoints:      tx.StmtContext(ctx, s.stmtGetPoints),
		stmtListSnapshots:  tx.StmtContext(ctx, s.stmtListSnapshots),
		stmtDeleteSnapshot: tx.StmtContext(ctx, s.stmtDeleteSnapshot),
	}

	if err := fn(txStore); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
