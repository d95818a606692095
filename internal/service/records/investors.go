package records

import (
	"context"
	"fmt"
	"sort"

	"github.com/ignite/campaign-mailer/internal/docstore"
	"github.com/ignite/campaign-mailer/internal/domain"
)

// CreateInvestors stores each investor under a new id. Every investor needs
// a Partner Email and a listId; the whole request is rejected before any
// write if one does not.
func (s *Service) CreateInvestors(ctx context.Context, investors []map[string]any) ([]string, error) {
	if len(investors) == 0 {
		return nil, &domain.ValidationError{Field: "investors", Message: "Invalid request: Array of investor data is required"}
	}
	for _, inv := range investors {
		if docstore.String(inv[domain.FieldPartnerEmail]) == "" || docstore.String(inv[domain.FieldListID]) == "" {
			return nil, &domain.ValidationError{Field: domain.FieldPartnerEmail, Message: "Each investor must have partnerEmail and listId"}
		}
	}

	ids := make([]string, 0, len(investors))
	w := docstore.NewBatchWriter(s.store)
	for _, inv := range investors {
		id := docstore.NewID()
		if err := w.Set(ctx, domain.CollectionInvestors, id, inv); err != nil {
			return nil, fmt.Errorf("%w: adding investors: %w", domain.ErrUpstream, err)
		}
		ids = append(ids, id)
	}
	if err := w.Flush(ctx); err != nil {
		return nil, fmt.Errorf("%w: adding investors: %w", domain.ErrUpstream, err)
	}
	return ids, nil
}

func (s *Service) ListInvestors(ctx context.Context) ([]domain.Record, error) {
	return s.list(ctx, domain.CollectionInvestors)
}

// UpdateInvestor merges fields into an existing investor and returns the
// updated field names, sorted.
func (s *Service) UpdateInvestor(ctx context.Context, id string, fields map[string]any) ([]string, error) {
	if len(fields) == 0 {
		return nil, &domain.ValidationError{Field: "body", Message: "Update data is required"}
	}
	for _, f := range []string{"partnerEmail", domain.FieldPartnerEmail, domain.FieldListID} {
		if v, ok := fields[f]; ok && docstore.String(v) == "" {
			return nil, &domain.ValidationError{Field: f, Message: "partnerEmail and listId cannot be empty"}
		}
	}

	if err := s.store.Update(ctx, domain.CollectionInvestors, id, fields); err != nil {
		return nil, storeErr(domain.CollectionInvestors, id, err)
	}

	names := make([]string, 0, len(fields))
	for k := range fields {
		names = append(names, k)
	}
	sort.Strings(names)
	return names, nil
}

func (s *Service) DeleteInvestor(ctx context.Context, id string) error {
	return s.deleteExisting(ctx, domain.CollectionInvestors, id)
}
