// Package ses sends campaign mail through the AWS SES v2 API.
package ses

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	appconfig "github.com/ignite/campaign-mailer/internal/config"
	"github.com/ignite/campaign-mailer/internal/domain"
	"github.com/ignite/campaign-mailer/internal/pkg/logger"
	"github.com/ignite/campaign-mailer/internal/service/sending"
)

// API is the subset of the SES v2 client used here.
type API interface {
	SendEmail(ctx context.Context, in *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// Sender implements sending.Sender on SES.
type Sender struct {
	client           API
	configurationSet string
	timeout          time.Duration
	now              func() time.Time
}

var _ sending.Sender = (*Sender)(nil)

// New wraps an SES client.
func New(client API, cfg appconfig.SESConfig) *Sender {
	return &Sender{
		client:           client,
		configurationSet: cfg.ConfigurationSet,
		timeout:          cfg.Timeout(),
		now:              time.Now,
	}
}

// NewFromConfig builds the SES client. Static keys are used when both are
// set; otherwise the default credential chain applies (IAM role on ECS).
func NewFromConfig(ctx context.Context, cfg appconfig.SESConfig) (*Sender, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return New(sesv2.NewFromConfig(awsCfg), cfg), nil
}

// Send issues one SendEmail call with an HTML body and the message tags.
func (s *Sender) Send(ctx context.Context, msg *domain.EmailMessage) (*domain.SendResult, error) {
	if len(msg.To) == 0 {
		return nil, fmt.Errorf("ses: message has no destination")
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(msg.From),
		Destination:      &types.Destination{ToAddresses: msg.To},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
				Body: &types.Body{
					Html: &types.Content{Data: aws.String(msg.HTMLContent), Charset: aws.String("UTF-8")},
				},
			},
		},
		EmailTags: messageTags(msg.Tags),
	}
	if s.configurationSet != "" {
		input.ConfigurationSetName = aws.String(s.configurationSet)
	}

	out, err := s.client.SendEmail(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("ses send to %s: %w", logger.RedactEmail(msg.To[0]), err)
	}

	res := &domain.SendResult{
		Recipient: msg.To[0],
		MessageID: aws.ToString(out.MessageId),
		SentAt:    s.now().UTC(),
	}
	logger.Debug("ses accepted message", "recipient", res.Recipient, "message_id", res.MessageID)
	return res, nil
}

func messageTags(tags map[string]string) []types.MessageTag {
	if len(tags) == 0 {
		return nil
	}
	names := make([]string, 0, len(tags))
	for k := range tags {
		names = append(names, k)
	}
	sort.Strings(names)
	out := make([]types.MessageTag, 0, len(names))
	for _, k := range names {
		out = append(out, types.MessageTag{Name: aws.String(k), Value: aws.String(tags[k])})
	}
	return out
}
