// Package tracking is the engagement surface: the open-tracking pixel, the
// SNS webhook for SES delivery events and the SQS consumer that reads the
// same events from a queue.
package tracking

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/campaign-mailer/internal/domain"
	"github.com/ignite/campaign-mailer/internal/pkg/httputil"
	"github.com/ignite/campaign-mailer/internal/pkg/logger"
	"github.com/ignite/campaign-mailer/internal/service/engagement"
)

// maxEventBytes bounds a webhook body. SNS messages are at most 256 KiB.
const maxEventBytes = 512 << 10

// Tracker applies engagement events. *engagement.Tracker satisfies it.
type Tracker interface {
	RegisterOpen(ctx context.Context, campaignID, recipient string) error
	IngestProviderEvent(ctx context.Context, raw []byte) error
}

// Confirmer visits an SNS SubscribeURL.
type Confirmer interface {
	Get(ctx context.Context, url string) error
}

// Handler serves the pixel and webhook routes.
type Handler struct {
	tracker   Tracker
	confirmer Confirmer
	log       *logger.Logger
}

// NewHandler creates the handler. A nil confirmer leaves subscription
// confirmations unanswered.
func NewHandler(tracker Tracker, confirmer Confirmer) *Handler {
	return &Handler{
		tracker:   tracker,
		confirmer: confirmer,
		log:       logger.Default().With("component", "tracking"),
	}
}

// Mount registers the routes on r.
func (h *Handler) Mount(r chi.Router) {
	r.Get("/track-open", h.HandleOpen)
	r.Post("/sns-email-events", h.HandleEvents)
}

// HandleOpen registers an open for ?campaignId=&recipient=. It answers a
// bare 200 unless campaignId is missing (400) or unknown (404); store
// failures are logged and still answered 200.
func (h *Handler) HandleOpen(w http.ResponseWriter, r *http.Request) {
	campaignID := r.URL.Query().Get("campaignId")
	recipient := r.URL.Query().Get("recipient")

	err := h.tracker.RegisterOpen(r.Context(), campaignID, recipient)
	switch {
	case errors.Is(err, domain.ErrValidation):
		httputil.JSON(w, http.StatusBadRequest, map[string]string{"message": "campaignId is required"})
		return
	case errors.Is(err, domain.ErrNotFound):
		httputil.JSON(w, http.StatusNotFound, map[string]string{"message": "Campaign not found"})
		return
	case err != nil:
		h.log.Error("open not recorded", "campaign_id", campaignID, "recipient", recipient, "error", err)
	}

	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	w.WriteHeader(http.StatusOK)
}

// HandleEvents accepts SNS deliveries. Subscription confirmations are
// confirmed; notifications go to the tracker. Every request is answered 200
// so SNS does not retry events the tracker chose to drop.
func (h *Handler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	defer w.WriteHeader(http.StatusOK)

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxEventBytes))
	if err != nil {
		h.log.Warn("reading sns body failed", "error", err)
		return
	}

	env, err := engagement.ParseEnvelope(raw)
	if err != nil {
		h.log.Warn("sns payload rejected", "error", err)
		return
	}

	switch env.Type {
	case engagement.SNSSubscriptionConfirmation:
		h.confirm(r.Context(), env)
	case engagement.SNSUnsubscribeConfirmation:
		h.log.Info("sns subscription removed", "topic", env.TopicArn)
	default:
		if err := h.tracker.IngestProviderEvent(r.Context(), raw); err != nil {
			h.log.Error("sns event not applied", "message_id", env.MessageID, "error", err)
		}
	}
}

func (h *Handler) confirm(ctx context.Context, env *engagement.Envelope) {
	if h.confirmer == nil {
		h.log.Warn("sns subscription confirmation ignored", "topic", env.TopicArn)
		return
	}
	if !TrustedSubscribeURL(env.SubscribeURL) {
		h.log.Warn("sns subscribe url rejected", "topic", env.TopicArn, "url", env.SubscribeURL)
		return
	}
	if err := h.confirmer.Get(ctx, env.SubscribeURL); err != nil {
		h.log.Error("sns subscription confirmation failed", "topic", env.TopicArn, "error", err)
		return
	}
	h.log.Info("sns subscription confirmed", "topic", env.TopicArn)
}

// TrustedSubscribeURL reports whether raw is an https URL on an
// amazonaws.com host.
func TrustedSubscribeURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "https" {
		return false
	}
	return strings.HasSuffix(strings.ToLower(u.Hostname()), ".amazonaws.com")
}
