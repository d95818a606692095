package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/campaign-mailer/internal/domain"
	"github.com/ignite/campaign-mailer/internal/pkg/httputil"
	"github.com/ignite/campaign-mailer/internal/pkg/logger"
	"github.com/ignite/campaign-mailer/internal/service/dispatch"
)

// SendEmailRequest is the body of POST /send-email.
type SendEmailRequest struct {
	CampaignID string `json:"campaignId"`
	Content    struct {
		HTML string `json:"html"`
	} `json:"content"`
	Recipients string `json:"recipients"`
	Sender     string `json:"sender"`
	Subject    string `json:"subject"`
}

// SendEmail handles POST /send-email
func (h *Handlers) SendEmail(w http.ResponseWriter, r *http.Request) {
	var body SendEmailRequest
	if err := decodeJSON(r, &body); err != nil {
		httputil.JSON(w, http.StatusBadRequest, map[string]string{"message": "Missing required fields", "error": err.Error()})
		return
	}

	res, err := h.dispatcher.Send(r.Context(), dispatch.Request{
		CampaignID:  body.CampaignID,
		HTMLContent: body.Content.HTML,
		ListSpec:    body.Recipients,
		Sender:      body.Sender,
		Subject:     body.Subject,
	})
	switch {
	case errors.Is(err, domain.ErrValidation):
		httputil.JSON(w, http.StatusBadRequest, map[string]string{"message": "Missing required fields", "error": err.Error()})
	case errors.Is(err, domain.ErrNoRecipients):
		httputil.JSON(w, http.StatusBadRequest, map[string]string{"message": "No valid recipient emails found"})
	case err != nil:
		logger.Error("send campaign failed", "campaign_id", body.CampaignID, "error", err)
		resp := map[string]any{"message": "Failed to send campaign emails", "error": err.Error()}
		var se *dispatch.SendError
		if errors.As(err, &se) {
			sent := se.Sent
			if sent == nil {
				sent = []domain.SendResult{}
			}
			resp["failedRecipient"] = se.Recipient
			resp["sent"] = sent
		}
		httputil.JSON(w, http.StatusInternalServerError, resp)
	default:
		httputil.OK(w, map[string]any{
			"message":    "Campaign emails sent successfully",
			"campaignId": res.CampaignID,
			"recipients": res.Recipients,
			"results":    res.Results,
		})
	}
}

// GetEmailStats handles GET /email-stats/{campaignId}
func (h *Handlers) GetEmailStats(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "campaignId")
	stats, err := h.tracker.Stats(r.Context(), id)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		httputil.JSON(w, http.StatusNotFound, map[string]string{"message": "Campaign stats not found"})
	case err != nil:
		logger.Error("fetch stats failed", "campaign_id", id, "error", err)
		httputil.JSON(w, http.StatusInternalServerError, map[string]string{"message": "Failed to fetch stats", "error": err.Error()})
	default:
		httputil.OK(w, stats)
	}
}

// ListEmailStats handles GET /email-stats
func (h *Handlers) ListEmailStats(w http.ResponseWriter, r *http.Request) {
	all, err := h.tracker.ListStats(r.Context())
	if err != nil {
		logger.Error("fetch all stats failed", "error", err)
		httputil.JSON(w, http.StatusInternalServerError, map[string]string{"message": "Failed to fetch all email stats", "error": err.Error()})
		return
	}
	msg := "Successfully retrieved all email stats"
	if len(all) == 0 {
		msg = "No email campaigns found"
	}
	httputil.OK(w, map[string]any{
		"message":        msg,
		"totalCampaigns": len(all),
		"data":           all,
	})
}

func decodeJSON(r *http.Request, dst any) error {
	return json.NewDecoder(r.Body).Decode(dst)
}
