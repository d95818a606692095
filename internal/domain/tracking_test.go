package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTrackingRecordStats(t *testing.T) {
	rec := &EmailTrackingRecord{
		CampaignID:  "C1",
		Sender:      "ir@fund.com",
		Subject:     "Q3 update",
		SentAt:      "2026-01-02T03:04:05.000Z",
		SentCount:   5,
		OpenedCount: 2,
		UnreadCount: 3,
		SpamCount:   1,
		OpenedBy:    []string{"a@x.com", "b@x.com"},
	}

	s := rec.Stats()
	assert.Equal(t, "C1", s.CampaignID)
	assert.Equal(t, EngagementStats{Sent: 5, Opened: 2, Unread: 3, Spammed: 1}, s.Stats)
}

func TestValidationErrorUnwrap(t *testing.T) {
	err := fmt.Errorf("send: %w", Required("subject"))
	assert.True(t, errors.Is(err, ErrValidation))
	assert.Equal(t, "send: subject is required", err.Error())

	var ve *ValidationError
	assert.True(t, errors.As(err, &ve))
	assert.Equal(t, "subject", ve.Field)
}
