package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	json "github.com/goccy/go-json"
)

type sqsAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// OutboundSMS is the queue message consumed by the downstream SMS worker.
type OutboundSMS struct {
	To       string    `json:"to"`
	Body     string    `json:"body"`
	QueuedAt time.Time `json:"queued_at"`
}

// SQSSender enqueues messages for an SMS worker instead of calling a
// provider inline.
type SQSSender struct {
	client   sqsAPI
	queueURL string
	now      func() time.Time
}

// NewSQSSender wraps an SQS client.
func NewSQSSender(client *sqs.Client, queueURL string) *SQSSender {
	if client == nil {
		panic("notify: SQS client cannot be nil")
	}
	if queueURL == "" {
		panic("notify: SQS queueURL cannot be empty")
	}
	return &SQSSender{client: client, queueURL: queueURL, now: func() time.Time { return time.Now().UTC() }}
}

func (s *SQSSender) SendSMS(ctx context.Context, to, body string) error {
	if to == "" {
		return errors.New("notify: to required")
	}
	payload, err := json.Marshal(OutboundSMS{To: to, Body: body, QueuedAt: s.now()})
	if err != nil {
		return fmt.Errorf("notify: marshal sms: %w", err)
	}
	_, err = s.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(s.queueURL),
		MessageBody: aws.String(string(payload)),
	})
	if err != nil {
		return fmt.Errorf("notify: failed to send SQS message: %w", err)
	}
	return nil
}
