// Package events announces completed marketplace actions to other systems.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"go.uber.org/zap"

	"carbon-x/marketplace/marketplace-backend/internal/transactions"
)

// Event is the published payload.
type Event struct {
	Type      string    `json:"type"`
	CreditID  uint64    `json:"credit_id"`
	ProjectID string    `json:"project_id"`
	Amount    string    `json:"amount,omitempty"`
	From      string    `json:"from,omitempty"`
	To        string    `json:"to,omitempty"`
	TxHash    string    `json:"tx_hash,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// FromRecord builds the event for a history record.
func FromRecord(r transactions.Record) Event {
	return Event{
		Type:      string(r.Type),
		CreditID:  r.CreditID,
		ProjectID: r.ProjectID,
		Amount:    r.Amount,
		From:      r.From,
		To:        r.To,
		TxHash:    r.TxHash,
		Timestamp: r.Timestamp,
	}
}

// Publisher delivers events.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// SNSAPI is the part of the SNS client the publisher calls.
type SNSAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSPublisher publishes events as JSON messages to a topic.
type SNSPublisher struct {
	client   SNSAPI
	topicARN string
	logger   *zap.Logger
}

// NewSNSPublisher creates a publisher for topicARN
func NewSNSPublisher(client SNSAPI, topicARN string, logger *zap.Logger) *SNSPublisher {
	return &SNSPublisher{
		client:   client,
		topicARN: topicARN,
		logger:   logger,
	}
}

func (p *SNSPublisher) Publish(ctx context.Context, e Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	out, err := p.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(p.topicARN),
		Message:  aws.String(string(body)),
		Subject:  aws.String("carbonx." + e.Type),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"event_type": {
				DataType:    aws.String("String"),
				StringValue: aws.String(e.Type),
			},
			"credit_id": {
				DataType:    aws.String("Number"),
				StringValue: aws.String(fmt.Sprintf("%d", e.CreditID)),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to publish %s event: %w", e.Type, err)
	}

	p.logger.Debug("Event published",
		zap.String("type", e.Type),
		zap.Uint64("credit_id", e.CreditID),
		zap.String("message_id", aws.ToString(out.MessageId)))
	return nil
}

// LogPublisher writes events to the log only.
type LogPublisher struct {
	logger *zap.Logger
}

// NewLogPublisher creates a LogPublisher
func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(ctx context.Context, e Event) error {
	p.logger.Info("Marketplace event",
		zap.String("type", e.Type),
		zap.Uint64("credit_id", e.CreditID),
		zap.String("project_id", e.ProjectID),
		zap.String("amount", e.Amount),
		zap.String("tx_hash", e.TxHash))
	return nil
}

// Multi delivers every event to each publisher in order and returns the
// joined errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, e Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
