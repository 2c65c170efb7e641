package control

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.uber.org/zap"

	"github.com/lalithlochan/vigil/internal/metrics"
)

// SQSConfig holds SQS configuration.
type SQSConfig struct {
	Region   string
	QueueURL string

	// WaitTime is the long-poll duration; defaults to 20s.
	WaitTime time.Duration
	// ErrorBackoff is the pause after a failed receive; defaults to 5s.
	ErrorBackoff time.Duration
}

type sqsAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

func newSQSClient(ctx context.Context, cfg SQSConfig) (*sqs.Client, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return sqs.NewFromConfig(awsCfg), nil
}

// SQSPublisher sends control messages to the worker's queue.
type SQSPublisher struct {
	client   sqsAPI
	queueURL string
	logger   *zap.Logger
}

var _ Publisher = (*SQSPublisher)(nil)

func NewSQSPublisher(ctx context.Context, cfg SQSConfig, logger *zap.Logger) (*SQSPublisher, error) {
	client, err := newSQSClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	logger.Info("sqs control publisher initialized", zap.String("queue_url", cfg.QueueURL))
	return &SQSPublisher{client: client, queueURL: cfg.QueueURL, logger: logger}, nil
}

func (p *SQSPublisher) Publish(ctx context.Context, m Message) error {
	if err := m.Validate(); err != nil {
		return err
	}
	body, err := Encode(m)
	if err != nil {
		return err
	}

	result, err := p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"kind": {DataType: aws.String("String"), StringValue: aws.String(string(m.Kind))},
		},
	})
	if err != nil {
		p.logger.Error("failed to send control message",
			zap.Error(err),
			zap.String("kind", string(m.Kind)),
		)
		return fmt.Errorf("sqs send failed: %w", err)
	}

	metrics.RecordControlMessage(string(m.Kind), "sent")
	p.logger.Debug("control message sent",
		zap.String("kind", string(m.Kind)),
		zap.String("message_id", aws.ToString(result.MessageId)),
	)
	return nil
}

// SQSConsumer long-polls the queue and hands each message to a Handler.
type SQSConsumer struct {
	client sqsAPI
	cfg    SQSConfig
	logger *zap.Logger
}

func NewSQSConsumer(ctx context.Context, cfg SQSConfig, logger *zap.Logger) (*SQSConsumer, error) {
	client, err := newSQSClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	logger.Info("sqs control consumer initialized", zap.String("queue_url", cfg.QueueURL))
	return newSQSConsumer(client, cfg, logger), nil
}

func newSQSConsumer(client sqsAPI, cfg SQSConfig, logger *zap.Logger) *SQSConsumer {
	if cfg.WaitTime == 0 {
		cfg.WaitTime = 20 * time.Second
	}
	if cfg.ErrorBackoff == 0 {
		cfg.ErrorBackoff = 5 * time.Second
	}
	return &SQSConsumer{client: client, cfg: cfg, logger: logger}
}

// Run receives until ctx is done. A message is deleted once handled or
// found malformed; a handler error leaves it for redelivery.
func (c *SQSConsumer) Run(ctx context.Context, h Handler) {
	for {
		if ctx.Err() != nil {
			c.logger.Info("sqs control consumer stopping")
			return
		}

		n, err := c.poll(ctx, h)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				continue
			}
			c.logger.Error("failed to receive control messages", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(c.cfg.ErrorBackoff):
			}
			continue
		}
		if n > 0 {
			c.logger.Debug("control messages handled", zap.Int("count", n))
		}
	}
}

func (c *SQSConsumer) poll(ctx context.Context, h Handler) (int, error) {
	result, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(c.cfg.QueueURL),
		MaxNumberOfMessages: 10,
		WaitTimeSeconds:     int32(c.cfg.WaitTime / time.Second),
		VisibilityTimeout:   60,
	})
	if err != nil {
		return 0, fmt.Errorf("sqs receive failed: %w", err)
	}

	for _, raw := range result.Messages {
		c.handle(ctx, h, raw)
	}
	return len(result.Messages), nil
}

func (c *SQSConsumer) handle(ctx context.Context, h Handler, raw types.Message) {
	m, err := Decode([]byte(aws.ToString(raw.Body)))
	if err != nil {
		c.logger.Warn("dropping malformed control message",
			zap.Error(err),
			zap.String("message_id", aws.ToString(raw.MessageId)),
		)
		c.delete(ctx, raw.ReceiptHandle)
		return
	}

	metrics.RecordControlMessage(string(m.Kind), "received")
	if err := h.HandleMessage(ctx, m); err != nil {
		c.logger.Error("failed to handle control message",
			zap.Error(err),
			zap.String("kind", string(m.Kind)),
		)
		return
	}
	c.delete(ctx, raw.ReceiptHandle)
}

func (c *SQSConsumer) delete(ctx context.Context, receiptHandle *string) {
	_, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.cfg.QueueURL),
		ReceiptHandle: receiptHandle,
	})
	if err != nil {
		c.logger.Warn("sqs delete failed", zap.Error(err))
	}
}
