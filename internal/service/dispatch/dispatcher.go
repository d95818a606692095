// Package dispatch sends a campaign: one message per resolved recipient,
// each carrying its own open-tracking pixel, followed by a single upsert of
// the campaign's tracking record.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ignite/campaign-mailer/internal/docstore"
	"github.com/ignite/campaign-mailer/internal/domain"
	"github.com/ignite/campaign-mailer/internal/pkg/logger"
	"github.com/ignite/campaign-mailer/internal/service/sending"
)

// RecipientResolver expands a list specification into addresses.
type RecipientResolver interface {
	Resolve(ctx context.Context, spec string) []string
}

// Config tunes the dispatcher.
type Config struct {
	// TrackingBaseURL is the public origin serving /track-open.
	TrackingBaseURL string
	// Concurrency bounds in-flight sends; values <= 1 send sequentially.
	Concurrency int
}

// Request is one campaign send.
type Request struct {
	CampaignID  string
	HTMLContent string
	ListSpec    string
	Sender      string
	Subject     string
}

// Validate checks required fields in a fixed order and reports the first
// one missing.
func (r Request) Validate() error {
	switch {
	case r.CampaignID == "":
		return domain.Required("campaignId")
	case r.HTMLContent == "":
		return domain.Required("content.html")
	case r.ListSpec == "":
		return domain.Required("recipients")
	case r.Sender == "":
		return domain.Required("sender")
	case r.Subject == "":
		return domain.Required("subject")
	}
	return nil
}

// Result reports a completed send.
type Result struct {
	CampaignID string              `json:"campaignId"`
	Recipients []string            `json:"recipients"`
	Results    []domain.SendResult `json:"results"`
}

// SendError aborts a campaign at the first provider failure. Sent holds the
// results of messages that were already accepted.
type SendError struct {
	Recipient string
	Sent      []domain.SendResult
	Err       error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("sending to %s: %v", logger.RedactEmail(e.Recipient), e.Err)
}

// Unwrap matches both domain.ErrUpstream and the provider error.
func (e *SendError) Unwrap() []error { return []error{domain.ErrUpstream, e.Err} }

// Dispatcher sends campaigns.
type Dispatcher struct {
	store    docstore.Store
	resolver RecipientResolver
	sender   sending.Sender
	cfg      Config
	log      *logger.Logger
	now      func() time.Time
}

// New creates a dispatcher.
func New(store docstore.Store, resolver RecipientResolver, sender sending.Sender, cfg Config) *Dispatcher {
	return &Dispatcher{
		store:    store,
		resolver: resolver,
		sender:   sender,
		cfg:      cfg,
		log:      logger.Default().With("component", "dispatch"),
		now:      time.Now,
	}
}

// Send validates req, resolves its recipients and sends one message to
// each. Sends are not cancelled when ctx is; once started, a campaign runs
// to completion or to its first failure. The tracking record is written
// only after every send succeeded.
func (d *Dispatcher) Send(ctx context.Context, req Request) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	recipients := d.resolver.Resolve(ctx, req.ListSpec)
	if len(recipients) == 0 {
		return nil, domain.ErrNoRecipients
	}

	ctx = context.WithoutCancel(ctx)
	d.log.Info("sending campaign", "campaign_id", req.CampaignID, "recipients", len(recipients), "concurrency", d.cfg.Concurrency)

	var results []domain.SendResult
	var err error
	if d.cfg.Concurrency > 1 {
		results, err = d.sendParallel(ctx, req, recipients)
	} else {
		results, err = d.sendSequential(ctx, req, recipients)
	}
	if err != nil {
		d.log.Error("campaign send aborted", "campaign_id", req.CampaignID, "error", err)
		return nil, err
	}

	if err := d.recordSend(ctx, req, recipients); err != nil {
		return nil, err
	}
	d.log.Info("campaign sent", "campaign_id", req.CampaignID, "sent", len(results))

	return &Result{CampaignID: req.CampaignID, Recipients: recipients, Results: results}, nil
}

func (d *Dispatcher) sendSequential(ctx context.Context, req Request, recipients []string) ([]domain.SendResult, error) {
	results := make([]domain.SendResult, 0, len(recipients))
	for _, rcpt := range recipients {
		res, err := d.sendOne(ctx, req, rcpt)
		if err != nil {
			return nil, &SendError{Recipient: rcpt, Sent: results, Err: err}
		}
		results = append(results, *res)
	}
	return results, nil
}

// sendParallel keeps results in recipient order. After the first failure
// no further sends start; Sent then holds every message accepted before the
// group drained.
func (d *Dispatcher) sendParallel(ctx context.Context, req Request, recipients []string) ([]domain.SendResult, error) {
	slots := make([]*domain.SendResult, len(recipients))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.Concurrency)

	for i, rcpt := range recipients {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			res, err := d.sendOne(ctx, req, rcpt)
			if err != nil {
				return &SendError{Recipient: rcpt, Err: err}
			}
			slots[i] = res
			return nil
		})
	}
	err := g.Wait()

	results := make([]domain.SendResult, 0, len(recipients))
	for _, r := range slots {
		if r != nil {
			results = append(results, *r)
		}
	}
	if err != nil {
		var se *SendError
		if errors.As(err, &se) {
			se.Sent = results
		}
		return nil, err
	}
	return results, nil
}

func (d *Dispatcher) sendOne(ctx context.Context, req Request, recipient string) (*domain.SendResult, error) {
	msg := &domain.EmailMessage{
		From:        req.Sender,
		To:          []string{recipient},
		Subject:     req.Subject,
		HTMLContent: req.HTMLContent + TrackingPixel(d.cfg.TrackingBaseURL, req.CampaignID, recipient),
		Tags:        map[string]string{domain.TagCampaignID: req.CampaignID},
	}
	res, err := d.sender.Send(ctx, msg)
	if err != nil {
		return nil, err
	}
	if res.Recipient == "" {
		res.Recipient = recipient
	}
	return res, nil
}

// recordSend merge-upserts the tracking record, resetting every counter.
func (d *Dispatcher) recordSend(ctx context.Context, req Request, recipients []string) error {
	n := int64(len(recipients))
	data := map[string]any{
		domain.FieldSender:          req.Sender,
		domain.FieldRecipientEmails: append([]string(nil), recipients...),
		domain.FieldSubject:         req.Subject,
		domain.FieldSentAt:          domain.Timestamp(d.now()),
		domain.FieldSentCount:       n,
		domain.FieldOpenedCount:     int64(0),
		domain.FieldBouncedCount:    int64(0),
		domain.FieldSpamCount:       int64(0),
		domain.FieldUnreadCount:     n,
		domain.FieldOpenedBy:        []string{},
	}
	if err := d.store.Set(ctx, domain.CollectionEmailTracking, req.CampaignID, data, true); err != nil {
		return fmt.Errorf("%w: recording campaign %s: %w", domain.ErrUpstream, req.CampaignID, err)
	}
	return nil
}

// TrackingPixel returns the invisible 1x1 image appended to each message.
func TrackingPixel(baseURL, campaignID, recipient string) string {
	return fmt.Sprintf(`<img src="%s/track-open?campaignId=%s&recipient=%s" width="1" height="1" style="display:none;" />`,
		baseURL, url.QueryEscape(campaignID), url.QueryEscape(recipient))
}
