package event

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jarrod-lowe/webview-ipc-bridge/internal/plugin"
	"github.com/jarrod-lowe/webview-ipc-bridge/pkg/ipccontract"
)

// SQSClient is the interface for SQS operations
type SQSClient interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// EventTargetGetter provides event targets from the plugin registry
type EventTargetGetter interface {
	EventTargets(event string) []plugin.EventTarget
}

// SQSPublisher publishes events to the SQS queues remote plugins declared
type SQSPublisher struct {
	client   SQSClient
	registry EventTargetGetter
	logger   *slog.Logger
}

// NewSQSPublisher creates a new SQSPublisher
func NewSQSPublisher(client SQSClient, registry EventTargetGetter, logger *slog.Logger) *SQSPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQSPublisher{client: client, registry: registry, logger: logger}
}

// Publish sends the event to all registered SQS targets. A failing target is
// logged and skipped so one broken queue cannot block the others.
func (p *SQSPublisher) Publish(ctx context.Context, payload ipccontract.EventPayload) error {
	targets := p.registry.EventTargets(payload.EventType)
	if len(targets) == 0 {
		return nil
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event payload: %w", err)
	}

	for _, target := range targets {
		if target.TargetType != "sqs" {
			p.logger.WarnContext(ctx, "Unknown target type, skipping",
				slog.String("target_type", target.TargetType),
				slog.String("target_arn", target.TargetArn))
			continue
		}

		queueURL := arnToQueueURL(target.TargetArn)
		if queueURL == "" {
			p.logger.WarnContext(ctx, "Invalid SQS target ARN, skipping",
				slog.String("target_arn", target.TargetArn))
			continue
		}

		_, err := p.client.SendMessage(ctx, &sqs.SendMessageInput{
			QueueUrl:    aws.String(queueURL),
			MessageBody: aws.String(string(body)),
		})
		if err != nil {
			p.logger.ErrorContext(ctx, "Failed to publish event",
				slog.String("queue_url", queueURL),
				slog.String("error", err.Error()))
			continue
		}
		p.logger.InfoContext(ctx, "Published event",
			slog.String("event_type", payload.EventType),
			slog.String("queue_url", queueURL))
	}
	return nil
}

// arnToQueueURL converts arn:aws:sqs:region:account:name to a queue URL
func arnToQueueURL(arn string) string {
	parts := strings.Split(arn, ":")
	if len(parts) != 6 {
		return ""
	}
	return fmt.Sprintf("https://sqs.%s.amazonaws.com/%s/%s", parts[3], parts[4], parts[5])
}
