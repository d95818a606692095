package tracking

import (
	"context"
	"errors"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/ignite/campaign-mailer/internal/domain"
	"github.com/ignite/campaign-mailer/internal/pkg/logger"
)

// SQSAPI is the subset of the SQS client the consumer uses.
type SQSAPI interface {
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// EventIngester applies one provider event. *engagement.Tracker satisfies it.
type EventIngester interface {
	IngestProviderEvent(ctx context.Context, raw []byte) error
}

// ConsumerConfig tunes the receive loop.
type ConsumerConfig struct {
	QueueURL     string
	WaitSeconds  int32
	MaxMessages  int32
	ErrorBackoff time.Duration
}

// Consumer long-polls an SQS queue subscribed to the SES event topic.
type Consumer struct {
	client  SQSAPI
	tracker EventIngester
	cfg     ConsumerConfig
	log     *logger.Logger
}

// NewConsumer creates a consumer. Zero config values default to a 20s long
// poll, 10 messages per receive and a 5s pause after a receive error.
func NewConsumer(client SQSAPI, tracker EventIngester, cfg ConsumerConfig) *Consumer {
	if cfg.WaitSeconds <= 0 {
		cfg.WaitSeconds = 20
	}
	if cfg.MaxMessages <= 0 || cfg.MaxMessages > 10 {
		cfg.MaxMessages = 10
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = 5 * time.Second
	}
	return &Consumer{
		client:  client,
		tracker: tracker,
		cfg:     cfg,
		log:     logger.Default().With("component", "sqs-consumer", "queue", cfg.QueueURL),
	}
}

// Run polls until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	c.log.Info("sqs consumer started")
	for {
		if ctx.Err() != nil {
			c.log.Info("sqs consumer stopped")
			return nil
		}
		if _, err := c.PollOnce(ctx); err != nil {
			if ctx.Err() != nil {
				continue
			}
			c.log.Error("sqs receive failed", "error", err)
			select {
			case <-ctx.Done():
			case <-time.After(c.cfg.ErrorBackoff):
			}
		}
	}
}

// PollOnce receives one batch and handles it, returning how many messages
// were deleted. Messages whose handling failed upstream stay on the queue
// and reappear after the visibility timeout; everything else, including
// malformed and dropped events, is deleted.
func (c *Consumer) PollOnce(ctx context.Context) (int, error) {
	out, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(c.cfg.QueueURL),
		MaxNumberOfMessages: c.cfg.MaxMessages,
		WaitTimeSeconds:     c.cfg.WaitSeconds,
	})
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, msg := range out.Messages {
		if c.handle(ctx, msg) {
			deleted++
		}
	}
	return deleted, nil
}

func (c *Consumer) handle(ctx context.Context, msg types.Message) bool {
	id := aws.ToString(msg.MessageId)
	err := c.tracker.IngestProviderEvent(ctx, []byte(aws.ToString(msg.Body)))
	if errors.Is(err, domain.ErrUpstream) {
		c.log.Warn("sqs message left for redelivery", "message_id", id, "error", err)
		return false
	}
	if err != nil {
		c.log.Warn("sqs message discarded", "message_id", id, "error", err)
	}

	_, derr := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.cfg.QueueURL),
		ReceiptHandle: msg.ReceiptHandle,
	})
	if derr != nil {
		c.log.Error("sqs delete failed", "message_id", id, "error", derr)
		return false
	}
	return true
}
