package docstore

import (
	"context"
	"errors"
	"fmt"
)

// MaxInValues is the most values a single In filter may carry. Callers that
// need more must split their values and issue one query per chunk.
const MaxInValues = 10

var (
	ErrNotFound        = errors.New("docstore: document not found")
	ErrTooManyValues   = fmt.Errorf("docstore: in filter accepts at most %d values", MaxInValues)
	ErrEmptyIn         = errors.New("docstore: in filter requires at least one value")
	ErrBatchTooLarge   = errors.New("docstore: batch exceeds backend limit")
	ErrInvalidMutation = errors.New("docstore: mutation has nothing to apply")
)

// Document is a stored record: its id plus its fields.
type Document struct {
	ID   string
	Data map[string]any
}

// Op is a query comparison operator.
type Op string

const (
	OpEqual Op = "=="
	OpIn    Op = "in"
)

// Filter restricts a query to documents whose Field matches Values.
type Filter struct {
	Field  string
	Op     Op
	Values []any
}

// Eq matches documents whose field equals v.
func Eq(field string, v any) Filter {
	return Filter{Field: field, Op: OpEqual, Values: []any{v}}
}

// In matches documents whose field equals any of vs.
func In(field string, vs ...any) Filter {
	return Filter{Field: field, Op: OpIn, Values: vs}
}

// ValidateFilters enforces the operator limits shared by all backends.
func ValidateFilters(filters []Filter) error {
	for _, f := range filters {
		switch f.Op {
		case OpEqual:
			if len(f.Values) != 1 {
				return fmt.Errorf("docstore: equality on %q needs exactly one value", f.Field)
			}
		case OpIn:
			if len(f.Values) == 0 {
				return ErrEmptyIn
			}
			if len(f.Values) > MaxInValues {
				return ErrTooManyValues
			}
		default:
			return fmt.Errorf("docstore: unsupported operator %q", f.Op)
		}
	}
	return nil
}

// Member names an array field and a value to add to it.
type Member struct {
	Field string
	Value string
}

// Mutation is applied atomically to one existing document. Increments are
// added to numeric fields (missing fields count as zero). When AppendUnique
// is set, the member is appended to the array field and the whole mutation,
// increments included, is skipped if the member is already present.
type Mutation struct {
	Increments   map[string]int64
	AppendUnique *Member
}

// Validate rejects empty mutations.
func (m Mutation) Validate() error {
	if len(m.Increments) == 0 && m.AppendUnique == nil {
		return ErrInvalidMutation
	}
	if m.AppendUnique != nil && m.AppendUnique.Field == "" {
		return fmt.Errorf("%w: append field is empty", ErrInvalidMutation)
	}
	return nil
}

// Store is the document-store contract. Implementations must be safe for
// concurrent use.
type Store interface {
	// Create inserts a document under a generated id and returns the id.
	Create(ctx context.Context, collection string, data map[string]any) (string, error)

	// Set writes a document under an explicit id. With merge, listed fields
	// overwrite existing ones and unlisted fields are preserved; without
	// merge the document is replaced.
	Set(ctx context.Context, collection, id string, data map[string]any, merge bool) error

	// Get returns a single document or ErrNotFound.
	Get(ctx context.Context, collection, id string) (*Document, error)

	// Query returns every document matching all filters. No filters lists
	// the whole collection.
	Query(ctx context.Context, collection string, filters ...Filter) ([]Document, error)

	// Update merges fields into an existing document or returns ErrNotFound.
	Update(ctx context.Context, collection, id string, fields map[string]any) error

	// Delete removes a document. Deleting a missing document is not an error.
	Delete(ctx context.Context, collection, id string) error

	// Mutate applies m atomically. It reports whether the mutation was
	// applied and returns ErrNotFound if the document does not exist.
	Mutate(ctx context.Context, collection, id string, m Mutation) (bool, error)

	// NewBatch starts a multi-document write of at most MaxBatchSize ops.
	NewBatch() Batch

	// MaxBatchSize is the backend's per-batch operation limit.
	MaxBatchSize() int

	Close() error
}

// Batch accumulates writes that are committed together.
type Batch interface {
	Set(collection, id string, data map[string]any)
	Delete(collection, id string)
	Len() int
	Commit(ctx context.Context) error
}
