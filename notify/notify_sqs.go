// Package notify publishes job lifecycle events to external consumers.
package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/baldanca/dataset-exporter/registry"
)

type sqsAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQS publishes terminal job events to one SQS queue, one JSON message per
// event.
//
// Delivery runs through the configured RetryPolicy. The default sends once
// and reports the failure to the caller; wire DefaultRetry (or your own) via
// SetRetryPolicy when the queue is allowed to flap.
type SQS struct {
	client      sqsAPI
	queueURL    string
	queueURLPtr *string
	retry       RetryPolicy
}

var _ registry.Notifier = (*SQS)(nil)

// NewSQS builds a notifier for queueURL. Panics when client is nil or
// queueURL is empty.
func NewSQS(client sqsAPI, queueURL string) *SQS {
	if client == nil {
		panic("sqs client is required")
	}
	if queueURL == "" {
		panic("queue url is required")
	}

	s := &SQS{client: client, queueURL: queueURL, retry: nopRetry{}}
	s.queueURLPtr = &s.queueURL
	return s
}

// SetRetryPolicy replaces the delivery retry policy. nil restores single-shot
// delivery.
func (s *SQS) SetRetryPolicy(p RetryPolicy) {
	if p == nil {
		s.retry = nopRetry{}
		return
	}
	s.retry = p
}

// Notify sends ev as one JSON message.
func (s *SQS) Notify(ctx context.Context, ev registry.Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("notify: marshal event: %w", err)
	}
	msg := string(body)

	return s.retry.Do(ctx, func(ctx context.Context) error {
		_, err := s.client.SendMessage(ctx, &sqs.SendMessageInput{
			QueueUrl:    s.queueURLPtr,
			MessageBody: &msg,
		})
		if err != nil {
			return fmt.Errorf("notify: send message: %w", err)
		}
		return nil
	})
}
