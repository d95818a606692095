// Package memory is an in-process docstore backend. It is used for local
// development and as the fake store in service tests.
package memory

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/ignite/campaign-mailer/internal/docstore"
)

// DefaultMaxBatchSize matches the 500-operation batch limit of hosted
// document stores.
const DefaultMaxBatchSize = 500

type entry struct {
	seq  uint64
	data map[string]any
}

// Store keeps every collection in memory. Safe for concurrent use.
type Store struct {
	mu           sync.RWMutex
	collections  map[string]map[string]*entry
	seq          uint64
	maxBatchSize int
}

var _ docstore.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		collections:  make(map[string]map[string]*entry),
		maxBatchSize: DefaultMaxBatchSize,
	}
}

// WithMaxBatchSize overrides the batch limit, mainly so tests can exercise
// multi-batch paths with small inputs.
func (s *Store) WithMaxBatchSize(n int) *Store {
	s.maxBatchSize = n
	return s
}

func (s *Store) Create(ctx context.Context, collection string, data map[string]any) (string, error) {
	id := docstore.NewID()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.put(collection, id, data, false)
	return id, nil
}

func (s *Store) Set(ctx context.Context, collection, id string, data map[string]any, merge bool) error {
	if id == "" {
		return fmt.Errorf("memory: empty document id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.put(collection, id, data, merge)
	return nil
}

func (s *Store) Get(ctx context.Context, collection, id string) (*docstore.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.collections[collection][id]
	if !ok {
		return nil, docstore.ErrNotFound
	}
	return &docstore.Document{ID: id, Data: cloneMap(e.data)}, nil
}

func (s *Store) Query(ctx context.Context, collection string, filters ...docstore.Filter) ([]docstore.Document, error) {
	if err := docstore.ValidateFilters(filters); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	type hit struct {
		seq uint64
		doc docstore.Document
	}
	var hits []hit
	for id, e := range s.collections[collection] {
		if !matches(e.data, filters) {
			continue
		}
		hits = append(hits, hit{seq: e.seq, doc: docstore.Document{ID: id, Data: cloneMap(e.data)}})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].seq < hits[j].seq })

	docs := make([]docstore.Document, len(hits))
	for i, h := range hits {
		docs[i] = h.doc
	}
	return docs, nil
}

func (s *Store) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.collections[collection][id]; !ok {
		return docstore.ErrNotFound
	}
	s.put(collection, id, fields, true)
	return nil
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.collections[collection], id)
	return nil
}

func (s *Store) Mutate(ctx context.Context, collection, id string, m docstore.Mutation) (bool, error) {
	if err := m.Validate(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.collections[collection][id]
	if !ok {
		return false, docstore.ErrNotFound
	}

	if u := m.AppendUnique; u != nil {
		members := docstore.Strings(e.data[u.Field])
		for _, existing := range members {
			if existing == u.Value {
				return false, nil
			}
		}
		e.data[u.Field] = append(members, u.Value)
	}
	for field, delta := range m.Increments {
		e.data[field] = docstore.Int64(e.data[field]) + delta
	}
	return true, nil
}

func (s *Store) NewBatch() docstore.Batch {
	return &batch{store: s}
}

func (s *Store) MaxBatchSize() int { return s.maxBatchSize }

func (s *Store) Close() error { return nil }

// put writes under s.mu.
func (s *Store) put(collection, id string, data map[string]any, merge bool) {
	coll, ok := s.collections[collection]
	if !ok {
		coll = make(map[string]*entry)
		s.collections[collection] = coll
	}
	e, exists := coll[id]
	if !exists {
		s.seq++
		e = &entry{seq: s.seq, data: make(map[string]any)}
		coll[id] = e
	}
	if !merge {
		e.data = make(map[string]any, len(data))
	}
	for k, v := range data {
		e.data[k] = cloneValue(v)
	}
}

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

// Commit applies every op under one lock so readers never see a partial batch.
func (b *batch) Commit(ctx context.Context) error {
	if len(b.ops) > b.store.maxBatchSize {
		return fmt.Errorf("%w: %d ops, limit %d", docstore.ErrBatchTooLarge, len(b.ops), b.store.maxBatchSize)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	b.store.mu.Lock()
	defer b.store.mu.Unlock()
	for _, o := range b.ops {
		if o.delete {
			delete(b.store.collections[o.collection], o.id)
			continue
		}
		b.store.put(o.collection, o.id, o.data, false)
	}
	b.ops = nil
	return nil
}

func matches(data map[string]any, filters []docstore.Filter) bool {
	for _, f := range filters {
		v, ok := data[f.Field]
		if !ok {
			return false
		}
		found := false
		for _, want := range f.Values {
			if equal(v, want) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func equal(a, b any) bool {
	if isNumber(a) && isNumber(b) {
		return docstore.Int64(a) == docstore.Int64(b)
	}
	return reflect.DeepEqual(a, b)
}

func isNumber(v any) bool {
	switch v.(type) {
	case int, int32, int64, float32, float64:
		return true
	}
	return false
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	case []string:
		out := make([]string, len(t))
		copy(out, t)
		return out
	}
	return v
}
