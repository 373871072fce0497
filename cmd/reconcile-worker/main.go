// Package main is the Lambda entry point for the reconcile worker.
//
// When RECONCILE_QUEUE_URL is configured the API enqueues every recognized
// webhook notification instead of processing it inline. This worker consumes
// that queue and runs the same fetch-then-reconcile pipeline. Messages whose
// processing fails are reported as batch item failures so SQS redelivers only
// those; malformed bodies are acknowledged and dropped.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"guied/internal/app"
	"guied/internal/billing"
	"guied/internal/config"
	"guied/internal/queue"
)

// Processor runs one notification through fetch and reconcile.
type Processor interface {
	Process(ctx context.Context, n billing.Notification) (billing.Outcome, error)
}

// Flusher pushes buffered metrics before the invocation freezes.
type Flusher interface {
	Flush(ctx context.Context)
}

// Handler holds the worker's dependencies.
type Handler struct {
	processor Processor
	flusher   Flusher
	logger    *slog.Logger
}

// Handle processes an SQS batch with partial batch responses.
func (h *Handler) Handle(ctx context.Context, event events.SQSEvent) (events.SQSEventResponse, error) {
	response := events.SQSEventResponse{}

	for _, record := range event.Records {
		if err := h.processMessage(ctx, record); err != nil {
			h.logger.ErrorContext(ctx, "failed to process reconcile message",
				"message_id", record.MessageId,
				"error", err,
			)
			response.BatchItemFailures = append(response.BatchItemFailures,
				events.SQSBatchItemFailure{ItemIdentifier: record.MessageId},
			)
		}
	}

	if h.flusher != nil {
		h.flusher.Flush(ctx)
	}
	return response, nil
}

func (h *Handler) processMessage(ctx context.Context, record events.SQSMessage) error {
	msg, err := queue.DecodeMessage(record.Body)
	if err != nil {
		// Redelivery cannot fix a malformed body.
		h.logger.ErrorContext(ctx, "dropping malformed reconcile message",
			"message_id", record.MessageId,
			"error", err,
		)
		return nil
	}

	logger := h.logger.With(
		"message_id", record.MessageId,
		"request_id", msg.RequestID,
		"kind", msg.Kind,
	)
	if !msg.ReceivedAt.IsZero() {
		logger = logger.With("queue_delay_ms", time.Since(msg.ReceivedAt).Milliseconds())
	}

	outcome, err := h.processor.Process(ctx, billing.NotificationFromMessage(msg))
	if err != nil {
		return err
	}
	logger.InfoContext(ctx, "reconcile message processed", "outcome", outcome)
	return nil
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	logger := app.NewLogger(cfg.LogLevel)

	// The worker never publishes; it only consumes.
	deps, err := app.Build(context.Background(), cfg, logger, app.Options{SkipQueue: true})
	if err != nil {
		return fmt.Errorf("wiring dependencies: %w", err)
	}

	h := &Handler{processor: deps.Processor, logger: logger}
	if deps.Recorder != nil {
		h.flusher = deps.Recorder
	}

	logger.Info("reconcile worker initialized", "environment", cfg.Environment, "version", cfg.Build.Version)
	lambda.Start(h.Handle)
	return nil
}
