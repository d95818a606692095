package docstore

import (
	"context"
	"fmt"
)

// BatchWriter spreads an arbitrary number of writes over as many batches as
// the backend's MaxBatchSize requires, committing each one as it fills.
// Writes already committed stay committed if a later batch fails.
type BatchWriter struct {
	store     Store
	batch     Batch
	committed int
	batches   int
}

// NewBatchWriter creates a writer over s.
func NewBatchWriter(s Store) *BatchWriter {
	return &BatchWriter{store: s, batch: s.NewBatch()}
}

// Set queues a document write.
func (w *BatchWriter) Set(ctx context.Context, collection, id string, data map[string]any) error {
	w.batch.Set(collection, id, data)
	return w.commitIfFull(ctx)
}

// Delete queues a document delete.
func (w *BatchWriter) Delete(ctx context.Context, collection, id string) error {
	w.batch.Delete(collection, id)
	return w.commitIfFull(ctx)
}

// Flush commits any pending writes.
func (w *BatchWriter) Flush(ctx context.Context) error {
	if w.batch.Len() == 0 {
		return nil
	}
	return w.commit(ctx)
}

// Committed returns how many operations have been committed so far.
func (w *BatchWriter) Committed() int { return w.committed }

// Batches returns how many batches have been committed so far.
func (w *BatchWriter) Batches() int { return w.batches }

func (w *BatchWriter) commitIfFull(ctx context.Context) error {
	if w.batch.Len() < w.store.MaxBatchSize() {
		return nil
	}
	return w.commit(ctx)
}

func (w *BatchWriter) commit(ctx context.Context) error {
	n := w.batch.Len()
	if err := w.batch.Commit(ctx); err != nil {
		return fmt.Errorf("committing batch of %d after %d written: %w", n, w.committed, err)
	}
	w.committed += n
	w.batches++
	w.batch = w.store.NewBatch()
	return nil
}
