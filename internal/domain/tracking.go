package domain

// Tracking record fields as persisted in the emailTracking collection.
const (
	FieldSender          = "sender"
	FieldRecipientEmails = "recipientEmails"
	FieldSubject         = "subject"
	FieldSentAt          = "sentAt"
	FieldSentCount       = "sentCount"
	FieldOpenedCount     = "openedCount"
	FieldBouncedCount    = "bouncedCount"
	FieldSpamCount       = "spamCount"
	FieldUnreadCount     = "unreadCount"
	FieldOpenedBy        = "openedBy"
)

// TagCampaignID is the provider message tag that correlates delivery events
// back to the campaign that sent them.
const TagCampaignID = "campaignId"

// ProviderEventType enumerates the delivery events the tracker acts on.
type ProviderEventType string

const (
	EventBounce    ProviderEventType = "Bounce"
	EventComplaint ProviderEventType = "Complaint"
)

// EmailTrackingRecord summarizes one campaign send. It is keyed by the
// campaign id. OpenedCount+UnreadCount always equals SentCount.
type EmailTrackingRecord struct {
	CampaignID      string   `json:"campaignId"`
	Sender          string   `json:"sender"`
	RecipientEmails []string `json:"recipientEmails"`
	Subject         string   `json:"subject"`
	SentAt          string   `json:"sentAt"`
	SentCount       int64    `json:"sentCount"`
	OpenedCount     int64    `json:"openedCount"`
	BouncedCount    int64    `json:"bouncedCount"`
	SpamCount       int64    `json:"spamCount"`
	UnreadCount     int64    `json:"unreadCount"`
	OpenedBy        []string `json:"openedBy"`
}

// Stats projects the record into its public shape.
func (r *EmailTrackingRecord) Stats() CampaignStats {
	return CampaignStats{
		CampaignID: r.CampaignID,
		Sender:     r.Sender,
		Subject:    r.Subject,
		SentAt:     r.SentAt,
		Stats: EngagementStats{
			Sent:    r.SentCount,
			Opened:  r.OpenedCount,
			Bounced: r.BouncedCount,
			Spammed: r.SpamCount,
			Unread:  r.UnreadCount,
		},
	}
}

// CampaignStats is the read-only projection served by the stats endpoints.
type CampaignStats struct {
	CampaignID string          `json:"campaignId"`
	Sender     string          `json:"sender"`
	Subject    string          `json:"subject"`
	SentAt     string          `json:"sentAt"`
	Stats      EngagementStats `json:"stats"`
}

// EngagementStats holds the counters of a CampaignStats projection.
type EngagementStats struct {
	Sent    int64 `json:"sent"`
	Opened  int64 `json:"opened"`
	Bounced int64 `json:"bounced"`
	Spammed int64 `json:"spammed"`
	Unread  int64 `json:"unread"`
}
