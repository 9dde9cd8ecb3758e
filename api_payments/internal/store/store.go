// Package store is the Postgres data layer for the payments schema.
package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"frameworks/pkg/database"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Store runs queries either against the pool or inside one transaction.
type Store struct {
	db *sql.DB
	q  DBTX
	tx bool
}

// New returns a Store backed by the connection pool.
func New(db *sql.DB) *Store {
	return &Store{db: db, q: db}
}

// DB returns the underlying pool.
func (s *Store) DB() *sql.DB {
	return s.db
}

// WithTx returns a copy of s whose queries run inside tx.
func (s *Store) WithTx(tx *sql.Tx) *Store {
	return &Store{db: s.db, q: tx, tx: true}
}

// Transactional reports whether s is bound to an open transaction.
func (s *Store) Transactional() bool {
	return s.tx
}

// InTx runs fn inside a transaction. A Store already bound to a
// transaction runs fn directly so nested calls share it.
func (s *Store) InTx(ctx context.Context, fn func(*Store) error) error {
	if s.tx {
		return fn(s)
	}
	return database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		return fn(s.WithTx(tx))
	})
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func nullTime(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	v := nt.Time
	return &v
}

func stringArg(s *string) interface{} {
	if s == nil || *s == "" {
		return nil
	}
	return *s
}

func timeArg(t *time.Time) interface{} {
	if t == nil || t.IsZero() {
		return nil
	}
	return *t
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
