package docstore

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - pre-migration
// 1 - initial documents table
const currentSchemaVersion = 1

// SQLite is the production Store backed by a SQLite database.
//
// SQLite supports one writer at a time; the connection pool is pinned to a
// single connection so concurrent callers queue on the pool instead of
// surfacing SQLITE_BUSY.
type SQLite struct {
	db *sql.DB
}

var _ Store = (*SQLite)(nil)

// Open creates or opens the database at path (":memory:" is accepted for
// tests) and applies pragmas and schema migrations. Idempotent.
func Open(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect database: %w", err)
	}

	// Single writer; see type doc.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the database connection.
func (s *SQLite) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB exposes the underlying handle for diagnostics. Prefer Store methods.
func (s *SQLite) DB() *sql.DB {
	return s.db
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}

	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version < currentSchemaVersion {
		if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
			return fmt.Errorf("set user_version: %w", err)
		}
	}
	return nil
}

// Get implements Store.
func (s *SQLite) Get(ctx context.Context, ref Ref) (Doc, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `
		SELECT body FROM documents WHERE collection = ? AND key = ?
	`, ref.Collection, ref.Key).Scan(&body)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%s: %w", ref, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", ref, err)
	}
	return decodeDoc([]byte(body))
}

// GetInto implements Store.
func (s *SQLite) GetInto(ctx context.Context, ref Ref, v any) error {
	var body string
	err := s.db.QueryRowContext(ctx, `
		SELECT body FROM documents WHERE collection = ? AND key = ?
	`, ref.Collection, ref.Key).Scan(&body)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%s: %w", ref, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("get %s: %w", ref, err)
	}
	if err := unmarshalStrictNumbers([]byte(body), v); err != nil {
		return fmt.Errorf("decode %s: %w", ref, err)
	}
	return nil
}

// Set implements Store.
func (s *SQLite) Set(ctx context.Context, ref Ref, v any) error {
	return execSet(ctx, s.db, ref, v)
}

// Update implements Store.
func (s *SQLite) Update(ctx context.Context, ref Ref, fields map[string]any) error {
	return execUpdate(ctx, s.db, ref, fields)
}

// Increment implements Store.
func (s *SQLite) Increment(ctx context.Context, ref Ref, field string, delta int64) error {
	return execIncrement(ctx, s.db, ref, field, delta)
}

// Delete implements Store.
func (s *SQLite) Delete(ctx context.Context, ref Ref) error {
	if _, err := s.db.ExecContext(ctx, `
		DELETE FROM documents WHERE collection = ? AND key = ?
	`, ref.Collection, ref.Key); err != nil {
		return fmt.Errorf("delete %s: %w", ref, err)
	}
	return nil
}

// List implements Store.
func (s *SQLite) List(ctx context.Context, collection string, opts ListOptions) ([]Entry, error) {
	query := `SELECT key, body FROM documents WHERE collection = ?`

	if opts.OrderBy != "" {
		path, err := jsonPath(opts.OrderBy)
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", collection, err)
		}
		dir := "ASC"
		if opts.Descending {
			dir = "DESC"
		}
		// Key tiebreak keeps scans deterministic.
		query += fmt.Sprintf(" ORDER BY json_extract(body, '%s') %s, key ASC", path, dir)
	} else {
		query += " ORDER BY key ASC"
	}

	args := []any{collection}
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", collection, err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var key, body string
		if err := rows.Scan(&key, &body); err != nil {
			return nil, fmt.Errorf("list %s: scan: %w", collection, err)
		}
		doc, err := decodeDoc([]byte(body))
		if err != nil {
			return nil, fmt.Errorf("list %s: key %s: %w", collection, key, err)
		}
		entries = append(entries, Entry{Key: key, Doc: doc})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list %s: %w", collection, err)
	}
	return entries, nil
}

// NewBatch implements Store.
func (s *SQLite) NewBatch() Batch {
	return &sqliteBatch{db: s.db}
}

// sqliteBatch queues ops and applies them inside one transaction.
type sqliteBatch struct {
	db  *sql.DB
	ops []batchOp
}

func (b *sqliteBatch) Set(ref Ref, v any) {
	b.ops = append(b.ops, batchOp{kind: opSet, ref: ref, value: v})
}

func (b *sqliteBatch) Update(ref Ref, fields map[string]any) {
	b.ops = append(b.ops, batchOp{kind: opUpdate, ref: ref, fields: fields})
}

func (b *sqliteBatch) Increment(ref Ref, field string, delta int64) {
	b.ops = append(b.ops, batchOp{kind: opIncrement, ref: ref, field: field, delta: delta})
}

func (b *sqliteBatch) Delete(ref Ref) {
	b.ops = append(b.ops, batchOp{kind: opDelete, ref: ref})
}

func (b *sqliteBatch) Len() int {
	return len(b.ops)
}

// Commit applies every queued op in order within a single transaction.
// On any failure the transaction rolls back and no op is visible.
func (b *sqliteBatch) Commit(ctx context.Context) error {
	if len(b.ops) == 0 {
		return nil
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("batch: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed.

	for i, op := range b.ops {
		var err error
		switch op.kind {
		case opSet:
			err = execSet(ctx, tx, op.ref, op.value)
		case opUpdate:
			err = execUpdate(ctx, tx, op.ref, op.fields)
		case opIncrement:
			err = execIncrement(ctx, tx, op.ref, op.field, op.delta)
		case opDelete:
			_, err = tx.ExecContext(ctx, `
				DELETE FROM documents WHERE collection = ? AND key = ?
			`, op.ref.Collection, op.ref.Key)
		default:
			err = fmt.Errorf("unknown op kind %q", op.kind)
		}
		if err != nil {
			return fmt.Errorf("batch: op %d (%s %s): %w", i, op.kind, op.ref, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("batch: commit: %w", err)
	}
	return nil
}

// execer covers *sql.DB and *sql.Tx so single ops and batch ops share the
// same statements.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func execSet(ctx context.Context, ex execer, ref Ref, v any) error {
	body, err := marshalBody(v)
	if err != nil {
		return fmt.Errorf("set %s: %w", ref, err)
	}
	_, err = ex.ExecContext(ctx, `
		INSERT INTO documents (collection, key, body, updated_at)
		VALUES (?, ?, json(?), ?)
		ON CONFLICT(collection, key) DO UPDATE SET
			body = excluded.body,
			updated_at = excluded.updated_at
	`, ref.Collection, ref.Key, string(body), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("set %s: %w", ref, err)
	}
	return nil
}

func execUpdate(ctx context.Context, ex execer, ref Ref, fields map[string]any) error {
	body, err := marshalBody(fields)
	if err != nil {
		return fmt.Errorf("update %s: %w", ref, err)
	}
	// json_patch performs an RFC 7386 merge: given fields replace their
	// keys, everything else in the stored body survives.
	_, err = ex.ExecContext(ctx, `
		INSERT INTO documents (collection, key, body, updated_at)
		VALUES (?, ?, json(?), ?)
		ON CONFLICT(collection, key) DO UPDATE SET
			body = json_patch(documents.body, excluded.body),
			updated_at = excluded.updated_at
	`, ref.Collection, ref.Key, string(body), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("update %s: %w", ref, err)
	}
	return nil
}

func execIncrement(ctx context.Context, ex execer, ref Ref, field string, delta int64) error {
	path, err := jsonPath(field)
	if err != nil {
		return fmt.Errorf("increment %s: %w", ref, err)
	}
	// The whole read-add-write happens inside one UPDATE, so concurrent
	// increments never lose counts.
	query := fmt.Sprintf(`
		INSERT INTO documents (collection, key, body, updated_at)
		VALUES (?, ?, json_set('{}', '%s', ?), ?)
		ON CONFLICT(collection, key) DO UPDATE SET
			body = json_set(documents.body, '%s',
				COALESCE(json_extract(documents.body, '%s'), 0) + ?),
			updated_at = excluded.updated_at
	`, path, path, path)
	_, err = ex.ExecContext(ctx, query,
		ref.Collection, ref.Key, delta, time.Now().UnixMilli(), delta)
	if err != nil {
		return fmt.Errorf("increment %s field %s: %w", ref, field, err)
	}
	return nil
}

// fieldPattern restricts field names interpolated into JSON paths.
// Parameters cannot be used for json_extract paths, so reject anything
// that could escape the quoted path literal.
var fieldPattern = regexp.MustCompile(`^[A-Za-z0-9_]+(\.[A-Za-z0-9_]+)*$`)

// jsonPath turns a dotted field name into a JSON1 path ("stats.executions"
// -> "$.stats.executions").
func jsonPath(field string) (string, error) {
	if !fieldPattern.MatchString(field) {
		return "", fmt.Errorf("invalid field name %q", field)
	}
	return "$." + field, nil
}

// unmarshalStrictNumbers unmarshals preserving integer precision for any
// interface{}-typed destinations.
func unmarshalStrictNumbers(data []byte, v any) error {
	dec := newNumberDecoder(data)
	return dec.Decode(v)
}

func newNumberDecoder(data []byte) *json.Decoder {
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.UseNumber()
	return dec
}
