// Package store is the local entity store: a SQLite database holding every
// synced entity type, with predicate queries, one-shot write contexts and the
// reference columns the linker resolves.
//
// Only this package opens or queries the database. Other packages receive a
// [*Store] and go through its functions.
package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/huandu/go-sqlbuilder"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

//go:embed schema.sql
var schema string

// schemaVersion is written to PRAGMA user_version after the DDL applies.
const schemaVersion = 1

// maxBindVars keeps IN lists under SQLite's bound-parameter limit.
const maxBindVars = 500

// ErrClosed is returned by a write context used after Save or Discard.
var ErrClosed = errors.New("write context already closed")

// Store is the SQLite-backed entity store.
type Store struct {
	db *sqlx.DB
}

// DefaultDBPath returns the default database location:
// ~/.local/share/finsync/finsync.db
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "finsync", "finsync.db"), nil
}

// Open opens (or creates) the database at path, applies the schema, and
// configures WAL mode, foreign keys and a busy timeout.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}

	db, err := sqlx.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening database %q: %w", path, err)
	}

	// Single writer to avoid SQLITE_BUSY under WAL. Callers must never read
	// through the Store while holding an open WriteContext.
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// SchemaVersion reports the applied schema version.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	var v int
	if err := s.db.GetContext(ctx, &v, "PRAGMA user_version"); err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}
	return v, nil
}

func migrate(db *sqlx.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return err
	}
	_, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion))
	return err
}

// --- write contexts ----------------------------------------------------------

// WriteContext is a one-shot background write transaction. Everything done
// through it becomes visible atomically on Save, or not at all.
type WriteContext struct {
	ctx  context.Context
	tx   *sqlx.Tx
	done bool
}

// NewWriteContext begins a write transaction.
func (s *Store) NewWriteContext(ctx context.Context) (*WriteContext, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning write context: %w", err)
	}
	return &WriteContext{ctx: ctx, tx: tx}, nil
}

// Save commits the write context.
func (w *WriteContext) Save() error {
	if w.done {
		return ErrClosed
	}
	w.done = true
	if err := w.tx.Commit(); err != nil {
		return fmt.Errorf("saving write context: %w", err)
	}
	return nil
}

// Discard rolls back anything not yet saved. It is a no-op after Save, so
// callers can defer it unconditionally.
func (w *WriteContext) Discard() {
	if w.done {
		return
	}
	w.done = true
	_ = w.tx.Rollback()
}

// Context returns the context the write context was opened with.
func (w *WriteContext) Context() context.Context { return w.ctx }

// --- reads -------------------------------------------------------------------

// Reader is either the Store (main read context) or an open WriteContext.
type Reader interface {
	queryer() sqlx.QueryerContext
}

func (s *Store) queryer() sqlx.QueryerContext        { return s.db }
func (w *WriteContext) queryer() sqlx.QueryerContext { return w.tx }

// Sort orders query results. The zero value sorts by the table key.
type Sort []string

// Desc returns the descending form of column for use in a Sort.
func Desc(column string) string { return column + " DESC" }

// Query returns the rows of t matching pred, ordered by sort (table key
// ascending when empty), at most limit rows when limit > 0.
func Query[T any](ctx context.Context, r Reader, t Table[T], pred Predicate, sort Sort, limit int) ([]T, error) {
	sb := sqlbuilder.SQLite.NewSelectBuilder()
	sb.Select("*").From(t.Name)
	if expr := pred(&sb.Cond); expr != "" {
		sb.Where(expr)
	}
	if len(sort) == 0 {
		sort = Sort{t.Key}
	}
	sb.OrderBy(sort...)
	if limit > 0 {
		sb.Limit(limit)
	}

	q, args := sb.Build()
	var rows []T
	if err := sqlx.SelectContext(ctx, r.queryer(), &rows, q, args...); err != nil {
		return nil, fmt.Errorf("querying %s: %w", t.Name, err)
	}
	return rows, nil
}

// Get returns the row of t with the given key, or (nil, nil) if absent.
func Get[T any](ctx context.Context, r Reader, t Table[T], key any) (*T, error) {
	rows, err := Query(ctx, r, t, Eq(t.Key, key), nil, 1)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil //nolint:nilnil // intentional: "not found" sentinel
	}
	return &rows[0], nil
}

// Count returns the number of rows of t matching pred.
func Count[T any](ctx context.Context, r Reader, t Table[T], pred Predicate) (int, error) {
	sb := sqlbuilder.SQLite.NewSelectBuilder()
	sb.Select("COUNT(*)").From(t.Name)
	if expr := pred(&sb.Cond); expr != "" {
		sb.Where(expr)
	}
	q, args := sb.Build()
	var n int
	if err := sqlx.GetContext(ctx, r.queryer(), &n, q, args...); err != nil {
		return 0, fmt.Errorf("counting %s: %w", t.Name, err)
	}
	return n, nil
}

// ExistingIDs returns the subset of ids present as keys of t.
func ExistingIDs[T any](ctx context.Context, r Reader, t Table[T], ids []int64) ([]int64, error) {
	var found []int64
	for chunk := range slices.Chunk(ids, maxBindVars) {
		sb := sqlbuilder.SQLite.NewSelectBuilder()
		sb.Select(t.Key).From(t.Name)
		sb.Where(InInts(t.Key, chunk)(&sb.Cond))
		q, args := sb.Build()
		var part []int64
		if err := sqlx.SelectContext(ctx, r.queryer(), &part, q, args...); err != nil {
			return nil, fmt.Errorf("looking up %s keys: %w", t.Name, err)
		}
		found = append(found, part...)
	}
	return found, nil
}

// ReferencedIDs returns the distinct values among ids that column of t
// holds in at least one row.
func ReferencedIDs[T any](ctx context.Context, r Reader, t Table[T], column string, ids []int64) ([]int64, error) {
	var found []int64
	for chunk := range slices.Chunk(ids, maxBindVars) {
		sb := sqlbuilder.SQLite.NewSelectBuilder()
		sb.Select(column).Distinct().From(t.Name)
		sb.Where(InInts(column, chunk)(&sb.Cond))
		q, args := sb.Build()
		var part []int64
		if err := sqlx.SelectContext(ctx, r.queryer(), &part, q, args...); err != nil {
			return nil, fmt.Errorf("looking up %s.%s references: %w", t.Name, column, err)
		}
		found = append(found, part...)
	}
	return found, nil
}

// --- writes ------------------------------------------------------------------

// Upsert creates row, or updates the existing row with the same key.
func Upsert[T any](w *WriteContext, t Table[T], row *T) error {
	if w.done {
		return ErrClosed
	}
	if _, err := sqlx.NamedExecContext(w.ctx, w.tx, t.upsert, row); err != nil {
		return fmt.Errorf("upserting into %s: %w", t.Name, err)
	}
	return nil
}

// DeleteKeys removes the rows of t with the given keys.
func DeleteKeys[T any, K comparable](w *WriteContext, t Table[T], keys []K) (int64, error) {
	if w.done {
		return 0, ErrClosed
	}
	var total int64
	for chunk := range slices.Chunk(keys, maxBindVars) {
		n, err := deleteWhere(w, t.Name, In(t.Key, anySlice(chunk)...))
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// DeleteWhere removes every row of t matching pred.
func DeleteWhere[T any](w *WriteContext, t Table[T], pred Predicate) (int64, error) {
	if w.done {
		return 0, ErrClosed
	}
	return deleteWhere(w, t.Name, pred)
}

func deleteWhere(w *WriteContext, table string, pred Predicate) (int64, error) {
	del := sqlbuilder.SQLite.NewDeleteBuilder()
	del.DeleteFrom(table)
	if expr := pred(&del.Cond); expr != "" {
		del.Where(expr)
	}
	q, args := del.Build()
	res, err := w.tx.ExecContext(w.ctx, q, args...)
	if err != nil {
		return 0, fmt.Errorf("deleting from %s: %w", table, err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// ResolveLinks points the reference column of every child row whose foreign
// key is in parentIDs at that parent. Callers pass only IDs that exist as
// parent keys. It returns the number of child rows changed.
func ResolveLinks[T any](w *WriteContext, child Table[T], link Link, parentIDs []int64) (int64, error) {
	if w.done {
		return 0, ErrClosed
	}
	var total int64
	for chunk := range slices.Chunk(parentIDs, maxBindVars) {
		ub := sqlbuilder.SQLite.NewUpdateBuilder()
		ub.Update(child.Name)
		ub.Set(fmt.Sprintf("%s = %s", link.Ref, link.Column))
		ub.Where(
			InInts(link.Column, chunk)(&ub.Cond),
			ub.Or(ub.IsNull(link.Ref), fmt.Sprintf("%s != %s", link.Ref, link.Column)),
		)
		q, args := ub.Build()
		res, err := w.tx.ExecContext(w.ctx, q, args...)
		if err != nil {
			return total, fmt.Errorf("resolving %s.%s: %w", child.Name, link.Ref, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}
