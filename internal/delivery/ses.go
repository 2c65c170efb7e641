package delivery

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"go.uber.org/zap"

	"github.com/lalithlochan/vigil/internal/db"
)

type sesAPI interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

type SESConfig struct {
	Region    string
	FromEmail string
	ToEmail   string
	Types     []db.NotificationType
}

// SESNotifier sends an email copy of a notification. It is meant for the
// mission types, where a missed push is costly.
type SESNotifier struct {
	client sesAPI
	cfg    SESConfig
	logger *zap.Logger
}

func NewSESNotifier(ctx context.Context, cfg SESConfig, logger *zap.Logger) (*SESNotifier, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load default AWS config: %w", err)
	}
	return newSESNotifier(ses.NewFromConfig(awsCfg), cfg, logger), nil
}

func newSESNotifier(client sesAPI, cfg SESConfig, logger *zap.Logger) *SESNotifier {
	if len(cfg.Types) == 0 {
		cfg.Types = []db.NotificationType{db.TypeMissionDeadline, db.TypeMissionReminder}
	}
	return &SESNotifier{client: client, cfg: cfg, logger: logger}
}

func (s *SESNotifier) Notify(ctx context.Context, d Display) error {
	if s.cfg.ToEmail == "" {
		return fmt.Errorf("ses notifier has no recipient")
	}

	text := d.Body
	if url := d.Data["url"]; url != "" {
		text = strings.TrimSpace(text + "\n\n" + url)
	}

	result, err := s.client.SendEmail(ctx, &ses.SendEmailInput{
		Source:      aws.String(s.cfg.FromEmail),
		Destination: &types.Destination{ToAddresses: []string{s.cfg.ToEmail}},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(d.Title), Charset: aws.String("UTF-8")},
			Body: &types.Body{
				Text: &types.Content{Data: aws.String(text), Charset: aws.String("UTF-8")},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("ses send failed: %w", err)
	}

	s.logger.Info("notification emailed via SES",
		zap.String("notification_id", d.ID),
		zap.String("message_id", aws.ToString(result.MessageId)),
	)
	return nil
}

func (s *SESNotifier) Supports(t db.NotificationType) bool {
	return typeSet(s.cfg.Types).has(t)
}
