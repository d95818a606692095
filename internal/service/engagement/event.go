package engagement

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ignite/campaign-mailer/internal/domain"
)

// ErrMalformedEvent marks payloads that are not valid notifications.
var ErrMalformedEvent = errors.New("malformed provider event")

// SNS envelope types.
const (
	SNSNotification             = "Notification"
	SNSSubscriptionConfirmation = "SubscriptionConfirmation"
	SNSUnsubscribeConfirmation  = "UnsubscribeConfirmation"
)

// Envelope is the SNS HTTP/SQS wrapper around an SES event.
type Envelope struct {
	Type         string `json:"Type"`
	MessageID    string `json:"MessageId"`
	TopicArn     string `json:"TopicArn"`
	Message      string `json:"Message"`
	SubscribeURL string `json:"SubscribeURL"`
}

// ParseEnvelope decodes an SNS envelope.
func ParseEnvelope(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	return &env, nil
}

// Event is the part of an SES event or notification the tracker reads.
// Event publishing sets eventType; feedback notifications set
// notificationType.
type Event struct {
	EventType        string `json:"eventType"`
	NotificationType string `json:"notificationType"`
	Mail             struct {
		MessageID string              `json:"messageId"`
		Tags      map[string][]string `json:"tags"`
	} `json:"mail"`
}

// Kind returns the event kind from whichever field is set.
func (e *Event) Kind() domain.ProviderEventType {
	if e.EventType != "" {
		return domain.ProviderEventType(e.EventType)
	}
	return domain.ProviderEventType(e.NotificationType)
}

// CampaignID returns the first campaignId tag value, or "".
func (e *Event) CampaignID() string {
	if v := e.Mail.Tags[domain.TagCampaignID]; len(v) > 0 {
		return v[0]
	}
	return ""
}

// ParseEvent unwraps an SNS envelope and decodes the SES event in its
// Message. A payload without a Message is read as a bare SES event, which is
// what SQS delivers when raw message delivery is enabled.
func ParseEvent(raw []byte) (*Event, error) {
	env, err := ParseEnvelope(raw)
	if err != nil {
		return nil, err
	}
	body := []byte(env.Message)
	if env.Message == "" {
		body = raw
	}
	var ev Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	return &ev, nil
}
