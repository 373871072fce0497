// Package queue moves webhook reconciliation off the request path through
// SQS. The API publishes parsed notifications; cmd/reconcile-worker consumes
// them.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"guied/internal/types"
)

// SQSSender is the SendMessage half of *sqs.Client.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// ReconcilePublisher sends ReconcileMessages to the reconciliation queue.
type ReconcilePublisher struct {
	client   SQSSender
	queueURL string
	logger   *slog.Logger
}

// NewReconcilePublisher creates a ReconcilePublisher for queueURL.
func NewReconcilePublisher(client SQSSender, queueURL string, logger *slog.Logger) *ReconcilePublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReconcilePublisher{client: client, queueURL: queueURL, logger: logger}
}

// Publish enqueues msg. Redelivered notifications produce duplicate
// messages; the store's payment claim makes that harmless.
func (p *ReconcilePublisher) Publish(ctx context.Context, msg types.ReconcileMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("queue: failed to marshal ReconcileMessage: %w", err)
	}

	out, err := p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqsTypes.MessageAttributeValue{
			"kind": {
				DataType:    aws.String("String"),
				StringValue: aws.String(msg.Kind),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("queue: failed to send ReconcileMessage: %w", err)
	}

	p.logger.InfoContext(ctx, "reconcile message queued",
		"message_id", aws.ToString(out.MessageId),
		"kind", msg.Kind,
		"payment_id", msg.PaymentID,
		"order_id", msg.OrderID,
	)
	return nil
}

// DecodeMessage parses a queue message body.
func DecodeMessage(body string) (types.ReconcileMessage, error) {
	var msg types.ReconcileMessage
	if err := json.Unmarshal([]byte(body), &msg); err != nil {
		return types.ReconcileMessage{}, fmt.Errorf("queue: malformed ReconcileMessage: %w", err)
	}
	return msg, nil
}
