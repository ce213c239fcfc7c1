package actions

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"slasentinel/internal/sla"
	"slasentinel/internal/types"
)

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// AlertMessage is the queue payload consumed by the downstream email worker.
// Template rendering and actual delivery happen there; this channel only
// hands off the violation facts.
type AlertMessage struct {
	ViolationID     string    `json:"violation_id"`
	ShipmentID      string    `json:"shipment_id"`
	TrackingNumber  string    `json:"tracking_number"`
	RuleName        string    `json:"rule_name"`
	RuleType        string    `json:"rule_type"`
	RulePriority    string    `json:"rule_priority"`
	DelayMinutes    int       `json:"delay_minutes"`
	DetectedAt      time.Time `json:"detected_at"`
	Recipients      []string  `json:"recipients"`
	EscalationLevel int       `json:"escalation_level"`
}

var _ sla.ActionChannel = (*EmailAlertChannel)(nil)

// EmailAlertChannel publishes violation alerts to the notification queue.
type EmailAlertChannel struct {
	client   SQSSender
	queueURL string
	clock    types.Clock
	logger   *slog.Logger
}

func NewEmailAlertChannel(client SQSSender, queueURL string, clock types.Clock, logger *slog.Logger) *EmailAlertChannel {
	if clock == nil {
		clock = types.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &EmailAlertChannel{client: client, queueURL: queueURL, clock: clock, logger: logger}
}

func (c *EmailAlertChannel) Type() types.ActionType { return types.ActionEmailAlert }

func (c *EmailAlertChannel) Configured(actions types.ActionSet) bool {
	return actions.EmailAlert != nil
}

// Execute serializes the alert and sends it to SQS. An empty recipient list
// is a configuration fault and fails the channel without touching the queue.
func (c *EmailAlertChannel) Execute(ctx context.Context, detail types.ViolationDetail) types.ActionExecutionResult {
	result := types.ActionExecutionResult{
		ActionType: types.ActionEmailAlert,
		Timestamp:  c.clock.Now(),
	}

	cfg := detail.Rule.Actions.EmailAlert
	if cfg == nil || len(cfg.Recipients) == 0 {
		result.Message = "no alert recipients configured"
		return result
	}

	msg := AlertMessage{
		ViolationID:     detail.Violation.ID,
		ShipmentID:      detail.Shipment.ID,
		TrackingNumber:  detail.Shipment.TrackingNumber,
		RuleName:        detail.Rule.Name,
		RuleType:        string(detail.Rule.RuleType),
		RulePriority:    string(detail.Rule.Priority),
		DelayMinutes:    detail.Violation.DelayMinutes,
		DetectedAt:      detail.Violation.DetectedAt,
		Recipients:      cfg.Recipients,
		EscalationLevel: detail.Rule.Actions.EscalationLevel,
	}

	body, err := json.Marshal(msg)
	if err != nil {
		result.Message = fmt.Sprintf("marshaling alert message: %v", err)
		return result
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(c.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqsTypes.MessageAttributeValue{
			"action_type": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(types.ActionEmailAlert)),
			},
		},
	}

	out, err := c.client.SendMessage(ctx, input)
	if err != nil {
		c.logger.ErrorContext(ctx, "alert enqueue failed",
			"violation_id", detail.Violation.ID,
			"queue_url", c.queueURL,
			"error", err,
		)
		result.Message = fmt.Sprintf("sending alert message: %v", err)
		return result
	}

	c.logger.InfoContext(ctx, "alert message enqueued",
		"violation_id", detail.Violation.ID,
		"queue_url", c.queueURL,
		"recipients", len(cfg.Recipients),
	)

	result.Success = true
	result.Message = fmt.Sprintf("alert queued for %d recipients", len(cfg.Recipients))
	result.Details = map[string]any{"queue_url": c.queueURL}
	if out.MessageId != nil {
		result.Details["message_id"] = *out.MessageId
	}
	return result
}
