package delivery

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"go.uber.org/zap"

	"github.com/lalithlochan/vigil/internal/db"
)

// snsAPI is the part of the SNS client the notifier uses.
type snsAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

type SNSConfig struct {
	Region   string
	TopicARN string
	Types    []db.NotificationType
}

// SNSNotifier publishes displays to an SNS topic that fans out to the
// device's platform push endpoint.
type SNSNotifier struct {
	client snsAPI
	cfg    SNSConfig
	logger *zap.Logger
}

func NewSNSNotifier(ctx context.Context, cfg SNSConfig, logger *zap.Logger) (*SNSNotifier, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load default AWS config for SNS: %w", err)
	}
	return newSNSNotifier(sns.NewFromConfig(awsCfg), cfg, logger), nil
}

func newSNSNotifier(client snsAPI, cfg SNSConfig, logger *zap.Logger) *SNSNotifier {
	return &SNSNotifier{client: client, cfg: cfg, logger: logger}
}

func (s *SNSNotifier) Notify(ctx context.Context, d Display) error {
	if s.cfg.TopicARN == "" {
		return fmt.Errorf("sns notifier has no topic arn")
	}

	body, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal display payload: %w", err)
	}

	attrs := map[string]types.MessageAttributeValue{
		"type": {DataType: aws.String("String"), StringValue: aws.String(string(d.Type))},
	}
	if d.Tag != "" {
		attrs["tag"] = types.MessageAttributeValue{DataType: aws.String("String"), StringValue: aws.String(d.Tag)}
	}

	result, err := s.client.Publish(ctx, &sns.PublishInput{
		TopicArn:          aws.String(s.cfg.TopicARN),
		Subject:           aws.String(d.Title),
		Message:           aws.String(string(body)),
		MessageAttributes: attrs,
	})
	if err != nil {
		return fmt.Errorf("sns publish failed: %w", err)
	}

	s.logger.Info("notification published via SNS",
		zap.String("notification_id", d.ID),
		zap.String("message_id", aws.ToString(result.MessageId)),
	)
	return nil
}

func (s *SNSNotifier) Supports(t db.NotificationType) bool {
	return typeSet(s.cfg.Types).has(t)
}
