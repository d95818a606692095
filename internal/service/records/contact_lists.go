package records

import (
	"context"
	"fmt"
	"time"

	"github.com/ignite/campaign-mailer/internal/docstore"
	"github.com/ignite/campaign-mailer/internal/domain"
)

const lockPollInterval = 50 * time.Millisecond

// CreateContactList creates a list named name. name must be a non-empty
// string. The existence check and the insert run under a lock on the name,
// which closes the race between instances sharing the lock backend.
func (s *Service) CreateContactList(ctx context.Context, name any) (string, error) {
	listName, ok := name.(string)
	if !ok || listName == "" {
		return "", &domain.ValidationError{Field: domain.FieldListName, Message: "listName is required and must be a string"}
	}

	var id string
	err := s.locks.Do(ctx, "contact-list:"+listName, lockPollInterval, func(ctx context.Context) error {
		existing, err := s.store.Query(ctx, domain.CollectionContactLists, docstore.Eq(domain.FieldListName, listName))
		if err != nil {
			return fmt.Errorf("%w: checking list name: %w", domain.ErrUpstream, err)
		}
		if len(existing) > 0 {
			return fmt.Errorf("%w: a contact list with the name %q already exists", domain.ErrConflict, listName)
		}
		id, err = s.create(ctx, domain.CollectionContactLists, map[string]any{domain.FieldListName: listName})
		return err
	})
	if err != nil {
		return "", err
	}
	s.log.Info("contact list created", "list_id", id, "list_name", listName)
	return id, nil
}

// ListContactLists returns every contact list.
func (s *Service) ListContactLists(ctx context.Context) ([]domain.ContactList, error) {
	docs, err := s.store.Query(ctx, domain.CollectionContactLists)
	if err != nil {
		return nil, fmt.Errorf("%w: listing contact lists: %w", domain.ErrUpstream, err)
	}
	out := make([]domain.ContactList, 0, len(docs))
	for _, d := range docs {
		out = append(out, domain.ContactList{
			ID:        d.ID,
			ListName:  docstore.String(d.Data[domain.FieldListName]),
			CreatedAt: docstore.String(d.Data[domain.FieldCreatedAt]),
		})
	}
	return out, nil
}

// DeleteContactList removes the list and every investor whose listId is id,
// returning the number of investors removed. Deletes are committed in
// batches no larger than the store allows, list document last.
func (s *Service) DeleteContactList(ctx context.Context, id string) (int, error) {
	if _, err := s.store.Get(ctx, domain.CollectionContactLists, id); err != nil {
		return 0, storeErr(domain.CollectionContactLists, id, err)
	}

	investors, err := s.store.Query(ctx, domain.CollectionInvestors, docstore.Eq(domain.FieldListID, id))
	if err != nil {
		return 0, fmt.Errorf("%w: finding investors of %s: %w", domain.ErrUpstream, id, err)
	}

	w := docstore.NewBatchWriter(s.store)
	for _, inv := range investors {
		if err := w.Delete(ctx, domain.CollectionInvestors, inv.ID); err != nil {
			return 0, fmt.Errorf("%w: deleting investors of %s: %w", domain.ErrUpstream, id, err)
		}
	}
	if err := w.Delete(ctx, domain.CollectionContactLists, id); err != nil {
		return 0, fmt.Errorf("%w: deleting list %s: %w", domain.ErrUpstream, id, err)
	}
	if err := w.Flush(ctx); err != nil {
		return 0, fmt.Errorf("%w: deleting list %s: %w", domain.ErrUpstream, id, err)
	}

	s.log.Info("contact list deleted", "list_id", id, "investors", len(investors), "batches", w.Batches())
	return len(investors), nil
}
