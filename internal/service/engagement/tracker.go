// Package engagement maintains the per-campaign engagement counters: opens
// from the tracking pixel, bounces and complaints from SES event
// notifications. Every change is a single atomic store mutation.
package engagement

import (
	"context"
	"errors"
	"fmt"

	"github.com/ignite/campaign-mailer/internal/docstore"
	"github.com/ignite/campaign-mailer/internal/domain"
	"github.com/ignite/campaign-mailer/internal/pkg/logger"
)

// Tracker applies engagement events to emailTracking records.
type Tracker struct {
	store docstore.Store
	log   *logger.Logger
}

// NewTracker creates a tracker over store.
func NewTracker(store docstore.Store) *Tracker {
	return &Tracker{store: store, log: logger.Default().With("component", "engagement")}
}

// RegisterOpen records the first open of campaignID by recipient. The
// membership test on openedBy and the three field changes are one
// conditional mutation, so concurrent duplicate hits count once. An empty
// recipient only checks that the campaign exists.
func (t *Tracker) RegisterOpen(ctx context.Context, campaignID, recipient string) error {
	if campaignID == "" {
		return domain.Required("campaignId")
	}

	if recipient == "" {
		if _, err := t.store.Get(ctx, domain.CollectionEmailTracking, campaignID); err != nil {
			return mapStoreErr(campaignID, err)
		}
		return nil
	}

	applied, err := t.store.Mutate(ctx, domain.CollectionEmailTracking, campaignID, docstore.Mutation{
		Increments: map[string]int64{
			domain.FieldOpenedCount: 1,
			domain.FieldUnreadCount: -1,
		},
		AppendUnique: &docstore.Member{Field: domain.FieldOpenedBy, Value: recipient},
	})
	if err != nil {
		return mapStoreErr(campaignID, err)
	}
	if applied {
		t.log.Debug("open registered", "campaign_id", campaignID, "recipient", recipient)
	}
	return nil
}

// IngestProviderEvent applies one SES bounce or complaint notification.
// Other event kinds, events without a campaignId tag and events for unknown
// campaigns are dropped without error. Only malformed payloads and store
// failures are returned.
func (t *Tracker) IngestProviderEvent(ctx context.Context, raw []byte) error {
	ev, err := ParseEvent(raw)
	if err != nil {
		return err
	}

	var field string
	switch ev.Kind() {
	case domain.EventBounce:
		field = domain.FieldBouncedCount
	case domain.EventComplaint:
		field = domain.FieldSpamCount
	default:
		return nil
	}

	campaignID := ev.CampaignID()
	if campaignID == "" {
		t.log.Debug("event without campaign tag dropped", "kind", ev.Kind())
		return nil
	}

	_, err = t.store.Mutate(ctx, domain.CollectionEmailTracking, campaignID, docstore.Mutation{
		Increments: map[string]int64{field: 1},
	})
	if errors.Is(err, docstore.ErrNotFound) {
		t.log.Warn("event for unknown campaign dropped", "campaign_id", campaignID, "kind", ev.Kind())
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: applying %s to %s: %w", domain.ErrUpstream, ev.Kind(), campaignID, err)
	}
	t.log.Info("delivery event applied", "campaign_id", campaignID, "kind", ev.Kind())
	return nil
}

// Stats returns the projection of one campaign's tracking record.
func (t *Tracker) Stats(ctx context.Context, campaignID string) (*domain.CampaignStats, error) {
	doc, err := t.store.Get(ctx, domain.CollectionEmailTracking, campaignID)
	if err != nil {
		return nil, mapStoreErr(campaignID, err)
	}
	stats := RecordFromDocument(*doc).Stats()
	return &stats, nil
}

// ListStats returns the projection of every tracking record.
func (t *Tracker) ListStats(ctx context.Context) ([]domain.CampaignStats, error) {
	docs, err := t.store.Query(ctx, domain.CollectionEmailTracking)
	if err != nil {
		return nil, fmt.Errorf("%w: listing tracking records: %w", domain.ErrUpstream, err)
	}
	out := make([]domain.CampaignStats, 0, len(docs))
	for _, d := range docs {
		out = append(out, RecordFromDocument(d).Stats())
	}
	return out, nil
}

// RecordFromDocument decodes a stored tracking record. Absent counters read
// as zero.
func RecordFromDocument(doc docstore.Document) *domain.EmailTrackingRecord {
	d := doc.Data
	return &domain.EmailTrackingRecord{
		CampaignID:      doc.ID,
		Sender:          docstore.String(d[domain.FieldSender]),
		RecipientEmails: docstore.Strings(d[domain.FieldRecipientEmails]),
		Subject:         docstore.String(d[domain.FieldSubject]),
		SentAt:          docstore.String(d[domain.FieldSentAt]),
		SentCount:       docstore.Int64(d[domain.FieldSentCount]),
		OpenedCount:     docstore.Int64(d[domain.FieldOpenedCount]),
		BouncedCount:    docstore.Int64(d[domain.FieldBouncedCount]),
		SpamCount:       docstore.Int64(d[domain.FieldSpamCount]),
		UnreadCount:     docstore.Int64(d[domain.FieldUnreadCount]),
		OpenedBy:        docstore.Strings(d[domain.FieldOpenedBy]),
	}
}

func mapStoreErr(campaignID string, err error) error {
	if errors.Is(err, docstore.ErrNotFound) {
		return fmt.Errorf("campaign %s: %w", campaignID, domain.ErrNotFound)
	}
	return fmt.Errorf("%w: campaign %s: %w", domain.ErrUpstream, campaignID, err)
}
