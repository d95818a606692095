// Package records implements the record CRUD behind the API: clients,
// campaign metadata, contact lists and investors, including CSV import and
// the cascade delete of a contact list.
package records

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/ignite/campaign-mailer/internal/docstore"
	"github.com/ignite/campaign-mailer/internal/domain"
	"github.com/ignite/campaign-mailer/internal/pkg/logger"
)

// Locker serialises critical sections by key across instances.
type Locker interface {
	Do(ctx context.Context, key string, interval time.Duration, fn func(context.Context) error) error
}

// Archiver keeps a copy of an uploaded file and returns where it went.
type Archiver interface {
	Archive(ctx context.Context, listID, filename string, body io.Reader, size int64) (string, error)
}

// Option customises a Service.
type Option func(*Service)

// WithArchiver stores every imported CSV through a.
func WithArchiver(a Archiver) Option {
	return func(s *Service) { s.archiver = a }
}

// Service owns the record collections.
type Service struct {
	store    docstore.Store
	locks    Locker
	archiver Archiver
	log      *logger.Logger
	now      func() time.Time
}

// New creates the service. locks guards contact-list name uniqueness.
func New(store docstore.Store, locks Locker, opts ...Option) *Service {
	s := &Service{
		store: store,
		locks: locks,
		log:   logger.Default().With("component", "records"),
		now:   time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// CreateClient stores data with a createdAt stamp.
func (s *Service) CreateClient(ctx context.Context, data map[string]any) (string, error) {
	return s.create(ctx, domain.CollectionClients, data)
}

// ListClients returns every client, or those whose email equals email.
func (s *Service) ListClients(ctx context.Context, email string) ([]domain.Record, error) {
	var filters []docstore.Filter
	if email != "" {
		filters = append(filters, docstore.Eq(domain.FieldClientEmail, email))
	}
	return s.list(ctx, domain.CollectionClients, filters...)
}

func (s *Service) DeleteClient(ctx context.Context, id string) error {
	return s.deleteExisting(ctx, domain.CollectionClients, id)
}

// CreateCampaign stores campaign metadata with a createdAt stamp.
func (s *Service) CreateCampaign(ctx context.Context, data map[string]any) (string, error) {
	return s.create(ctx, domain.CollectionCampaigns, data)
}

func (s *Service) ListCampaigns(ctx context.Context) ([]domain.Record, error) {
	return s.list(ctx, domain.CollectionCampaigns)
}

func (s *Service) GetCampaign(ctx context.Context, id string) (domain.Record, error) {
	doc, err := s.store.Get(ctx, domain.CollectionCampaigns, id)
	if err != nil {
		return nil, storeErr(domain.CollectionCampaigns, id, err)
	}
	return toRecord(*doc), nil
}

func (s *Service) DeleteCampaign(ctx context.Context, id string) error {
	return s.deleteExisting(ctx, domain.CollectionCampaigns, id)
}

// Counts sizes the clients, investors and contact list collections.
func (s *Service) Counts(ctx context.Context) (*domain.Counts, error) {
	var c domain.Counts
	for _, q := range []struct {
		collection string
		dst        *int
	}{
		{domain.CollectionClients, &c.Clients},
		{domain.CollectionInvestors, &c.InvestorLists},
		{domain.CollectionContactLists, &c.TotalContacts},
	} {
		docs, err := s.store.Query(ctx, q.collection)
		if err != nil {
			return nil, fmt.Errorf("%w: counting %s: %w", domain.ErrUpstream, q.collection, err)
		}
		*q.dst = len(docs)
	}
	return &c, nil
}

func (s *Service) create(ctx context.Context, collection string, data map[string]any) (string, error) {
	doc := make(map[string]any, len(data)+1)
	for k, v := range data {
		doc[k] = v
	}
	doc[domain.FieldCreatedAt] = domain.Timestamp(s.now())
	id, err := s.store.Create(ctx, collection, doc)
	if err != nil {
		return "", fmt.Errorf("%w: creating %s: %w", domain.ErrUpstream, collection, err)
	}
	return id, nil
}

func (s *Service) list(ctx context.Context, collection string, filters ...docstore.Filter) ([]domain.Record, error) {
	docs, err := s.store.Query(ctx, collection, filters...)
	if err != nil {
		return nil, fmt.Errorf("%w: listing %s: %w", domain.ErrUpstream, collection, err)
	}
	out := make([]domain.Record, 0, len(docs))
	for _, d := range docs {
		out = append(out, toRecord(d))
	}
	return out, nil
}

func (s *Service) deleteExisting(ctx context.Context, collection, id string) error {
	if _, err := s.store.Get(ctx, collection, id); err != nil {
		return storeErr(collection, id, err)
	}
	if err := s.store.Delete(ctx, collection, id); err != nil {
		return fmt.Errorf("%w: deleting %s/%s: %w", domain.ErrUpstream, collection, id, err)
	}
	return nil
}

// toRecord flattens a document into its fields plus "id".
func toRecord(d docstore.Document) domain.Record {
	r := make(domain.Record, len(d.Data)+1)
	for k, v := range d.Data {
		r[k] = v
	}
	r["id"] = d.ID
	return r
}

func storeErr(collection, id string, err error) error {
	if errors.Is(err, docstore.ErrNotFound) {
		return fmt.Errorf("%s/%s: %w", collection, id, domain.ErrNotFound)
	}
	return fmt.Errorf("%w: %s/%s: %w", domain.ErrUpstream, collection, id, err)
}
