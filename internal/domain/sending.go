package domain

import "time"

// EmailMessage is the fully-resolved message ready for the mail provider.
// By the time a message reaches this struct the tracking pixel has already
// been injected into HTMLContent.
type EmailMessage struct {
	From        string            `json:"from"`
	To          []string          `json:"to"`
	Subject     string            `json:"subject"`
	HTMLContent string            `json:"html_content"`
	Tags        map[string]string `json:"tags,omitempty"`
}

// SendResult is returned by the mail provider after accepting a message.
type SendResult struct {
	Recipient string    `json:"recipient"`
	MessageID string    `json:"messageId"`
	SentAt    time.Time `json:"sentAt"`
}
