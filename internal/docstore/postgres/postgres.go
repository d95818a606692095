// Package postgres is a PostgreSQL docstore backend storing every collection
// in one JSONB table keyed by (collection, id).
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/lib/pq"

	"github.com/ignite/campaign-mailer/internal/docstore"
)

// MaxBatchSize caps a batch transaction.
const MaxBatchSize = 500

// Schema creates the documents table and the index the recipient lookup
// relies on.
const Schema = `
CREATE TABLE IF NOT EXISTS documents (
	collection TEXT NOT NULL,
	id         TEXT NOT NULL,
	data       JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (collection, id)
);
CREATE INDEX IF NOT EXISTS documents_list_id_idx ON documents (collection, (data->>'listId'));
`

// Store implements docstore.Store on PostgreSQL.
type Store struct {
	db *sql.DB
}

var _ docstore.Store = (*Store)(nil)

// New wraps an open database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB exposes the handle for advisory locking.
func (s *Store) DB() *sql.DB { return s.db }

// EnsureSchema creates the documents table if needed.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("creating documents schema: %w", err)
	}
	return nil
}

func (s *Store) Create(ctx context.Context, collection string, data map[string]any) (string, error) {
	id := docstore.NewID()
	raw, err := encode(data)
	if err != nil {
		return "", err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO documents (collection, id, data) VALUES ($1, $2, $3::jsonb)`,
		collection, id, raw)
	if err != nil {
		return "", fmt.Errorf("inserting %s document: %w", collection, err)
	}
	return id, nil
}

const (
	upsertReplace = `INSERT INTO documents (collection, id, data) VALUES ($1, $2, $3::jsonb)
ON CONFLICT (collection, id) DO UPDATE SET data = EXCLUDED.data`
	upsertMerge = `INSERT INTO documents (collection, id, data) VALUES ($1, $2, $3::jsonb)
ON CONFLICT (collection, id) DO UPDATE SET data = documents.data || EXCLUDED.data`
)

func (s *Store) Set(ctx context.Context, collection, id string, data map[string]any, merge bool) error {
	raw, err := encode(data)
	if err != nil {
		return err
	}
	q := upsertReplace
	if merge {
		q = upsertMerge
	}
	if _, err := s.db.ExecContext(ctx, q, collection, id, raw); err != nil {
		return fmt.Errorf("upserting %s/%s: %w", collection, id, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, collection, id string) (*docstore.Document, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM documents WHERE collection = $1 AND id = $2`,
		collection, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, docstore.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("selecting %s/%s: %w", collection, id, err)
	}
	data, err := decode(raw)
	if err != nil {
		return nil, err
	}
	return &docstore.Document{ID: id, Data: data}, nil
}

// Query compares fields as text (data->>field), which matches how list ids
// and emails are stored.
func (s *Store) Query(ctx context.Context, collection string, filters ...docstore.Filter) ([]docstore.Document, error) {
	if err := docstore.ValidateFilters(filters); err != nil {
		return nil, err
	}
	q, args := buildQuery(collection, filters)
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", collection, err)
	}
	defer rows.Close()

	var docs []docstore.Document
	for rows.Next() {
		var id string
		var raw []byte
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("scanning %s row: %w", collection, err)
		}
		data, err := decode(raw)
		if err != nil {
			return nil, err
		}
		docs = append(docs, docstore.Document{ID: id, Data: data})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating %s rows: %w", collection, err)
	}
	return docs, nil
}

func buildQuery(collection string, filters []docstore.Filter) (string, []any) {
	var b strings.Builder
	b.WriteString(`SELECT id, data FROM documents WHERE collection = $1`)
	args := []any{collection}
	for _, f := range filters {
		args = append(args, f.Field)
		fieldArg := len(args)
		switch f.Op {
		case docstore.OpEqual:
			args = append(args, docstore.String(f.Values[0]))
			fmt.Fprintf(&b, ` AND data->>$%d = $%d`, fieldArg, len(args))
		case docstore.OpIn:
			vals := make([]string, len(f.Values))
			for i, v := range f.Values {
				vals[i] = docstore.String(v)
			}
			args = append(args, pq.Array(vals))
			fmt.Fprintf(&b, ` AND data->>$%d = ANY($%d)`, fieldArg, len(args))
		}
	}
	b.WriteString(` ORDER BY created_at, id`)
	return b.String(), args
}

func (s *Store) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	raw, err := encode(fields)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET data = data || $3::jsonb WHERE collection = $1 AND id = $2`,
		collection, id, raw)
	if err != nil {
		return fmt.Errorf("updating %s/%s: %w", collection, id, err)
	}
	return requireRow(res)
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM documents WHERE collection = $1 AND id = $2`, collection, id)
	if err != nil {
		return fmt.Errorf("deleting %s/%s: %w", collection, id, err)
	}
	return nil
}

// Mutate runs one UPDATE so the membership test and the counter changes are
// applied under the same row lock. Zero affected rows means either the
// document is missing or the member was already present; a follow-up
// existence check tells them apart.
func (s *Store) Mutate(ctx context.Context, collection, id string, m docstore.Mutation) (bool, error) {
	if err := m.Validate(); err != nil {
		return false, err
	}
	q, args := buildMutation(collection, id, m)
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return false, fmt.Errorf("mutating %s/%s: %w", collection, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mutating %s/%s: %w", collection, id, err)
	}
	if n > 0 {
		return true, nil
	}

	var exists bool
	err = s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM documents WHERE collection = $1 AND id = $2)`,
		collection, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking %s/%s: %w", collection, id, err)
	}
	if !exists {
		return false, docstore.ErrNotFound
	}
	return false, nil
}

func buildMutation(collection, id string, m docstore.Mutation) (string, []any) {
	args := []any{collection, id}
	var sets []string

	fields := make([]string, 0, len(m.Increments))
	for f := range m.Increments {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	for _, f := range fields {
		args = append(args, f, m.Increments[f])
		fa, da := len(args)-1, len(args)
		sets = append(sets, fmt.Sprintf(
			`jsonb_build_object($%d::text, COALESCE((data->>$%d)::bigint, 0) + $%d)`, fa, fa, da))
	}

	where := `collection = $1 AND id = $2`
	if u := m.AppendUnique; u != nil {
		args = append(args, u.Field, u.Value)
		fa, va := len(args)-1, len(args)
		sets = append(sets, fmt.Sprintf(
			`jsonb_build_object($%d::text, COALESCE(data->$%d, '[]'::jsonb) || jsonb_build_array($%d::text))`, fa, fa, va))
		where += fmt.Sprintf(` AND NOT COALESCE(data->$%d, '[]'::jsonb) @> jsonb_build_array($%d::text)`, fa, va)
	}

	q := `UPDATE documents SET data = data || ` + strings.Join(sets, ` || `) + ` WHERE ` + where
	return q, args
}

func (s *Store) NewBatch() docstore.Batch {
	return &batch{store: s}
}

func (s *Store) MaxBatchSize() int { return MaxBatchSize }

func (s *Store) Close() error { return s.db.Close() }

type op struct {
	collection string
	id         string
	data       map[string]any
	delete     bool
}

type batch struct {
	store *Store
	ops   []op
}

func (b *batch) Set(collection, id string, data map[string]any) {
	b.ops = append(b.ops, op{collection: collection, id: id, data: data})
}

func (b *batch) Delete(collection, id string) {
	b.ops = append(b.ops, op{collection: collection, id: id, delete: true})
}

func (b *batch) Len() int { return len(b.ops) }

// Commit applies every op in one transaction.
func (b *batch) Commit(ctx context.Context) error {
	if len(b.ops) > MaxBatchSize {
		return fmt.Errorf("%w: %d ops, limit %d", docstore.ErrBatchTooLarge, len(b.ops), MaxBatchSize)
	}
	tx, err := b.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning batch: %w", err)
	}
	defer tx.Rollback()

	for _, o := range b.ops {
		if o.delete {
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM documents WHERE collection = $1 AND id = $2`, o.collection, o.id); err != nil {
				return fmt.Errorf("batch delete %s/%s: %w", o.collection, o.id, err)
			}
			continue
		}
		raw, err := encode(o.data)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, upsertReplace, o.collection, o.id, raw); err != nil {
			return fmt.Errorf("batch set %s/%s: %w", o.collection, o.id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing batch: %w", err)
	}
	b.ops = nil
	return nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return docstore.ErrNotFound
	}
	return nil
}

func encode(data map[string]any) (string, error) {
	if data == nil {
		return "{}", nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("encoding document: %w", err)
	}
	return string(raw), nil
}

func decode(raw []byte) (map[string]any, error) {
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("decoding document: %w", err)
	}
	if data == nil {
		data = make(map[string]any)
	}
	return data, nil
}
