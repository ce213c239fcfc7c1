package actions

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"slasentinel/internal/sla"
	"slasentinel/internal/types"
)

// maxWebhookResponseRead caps how much of a partner response body is kept
// for diagnostics.
const maxWebhookResponseRead = 2048

// WebhookPayload is the wire shape posted to partner endpoints on violation
// detection. The shape is stable; partners key integrations off it.
type WebhookPayload struct {
	Event          string         `json:"event"`
	ViolationID    string         `json:"violation_id"`
	ShipmentID     string         `json:"shipment_id"`
	TrackingNumber string         `json:"tracking_number"`
	RuleName       string         `json:"rule_name"`
	RuleType       string         `json:"rule_type"`
	RulePriority   string         `json:"rule_priority"`
	DelayMinutes   int            `json:"delay_minutes"`
	DetectedAt     time.Time      `json:"detected_at"`
	Shipment       types.Shipment `json:"shipment"`
}

// webhookEventViolation is the event name carried in the payload and the
// X-Sentinel-Event header.
const webhookEventViolation = "sla.violation.detected"

var _ sla.ActionChannel = (*WebhookChannel)(nil)

// WebhookChannel POSTs signed violation payloads to the URL configured on
// the rule. Requests run through the shared ResilientClient so partner
// outages trip the webhook circuit breaker instead of hammering the endpoint.
type WebhookChannel struct {
	client        *ResilientClient
	signingSecret string
	clock         types.Clock
	logger        *slog.Logger
}

func NewWebhookChannel(client *ResilientClient, signingSecret string, clock types.Clock, logger *slog.Logger) *WebhookChannel {
	if clock == nil {
		clock = types.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookChannel{client: client, signingSecret: signingSecret, clock: clock, logger: logger}
}

func (c *WebhookChannel) Type() types.ActionType { return types.ActionWebhook }

func (c *WebhookChannel) Configured(actions types.ActionSet) bool {
	return actions.Webhook != nil && actions.Webhook.URL != ""
}

func (c *WebhookChannel) Execute(ctx context.Context, detail types.ViolationDetail) types.ActionExecutionResult {
	result := types.ActionExecutionResult{
		ActionType: types.ActionWebhook,
		Timestamp:  c.clock.Now(),
	}

	cfg := detail.Rule.Actions.Webhook
	if cfg == nil || cfg.URL == "" {
		result.Message = "no webhook url configured"
		return result
	}

	payload := WebhookPayload{
		Event:          webhookEventViolation,
		ViolationID:    detail.Violation.ID,
		ShipmentID:     detail.Shipment.ID,
		TrackingNumber: detail.Shipment.TrackingNumber,
		RuleName:       detail.Rule.Name,
		RuleType:       string(detail.Rule.RuleType),
		RulePriority:   string(detail.Rule.Priority),
		DelayMinutes:   detail.Violation.DelayMinutes,
		DetectedAt:     detail.Violation.DetectedAt,
		Shipment:       detail.Shipment,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		result.Message = fmt.Sprintf("marshaling webhook payload: %v", err)
		return result
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.URL, bytes.NewReader(body))
	if err != nil {
		result.Message = fmt.Sprintf("building webhook request: %v", err)
		return result
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Sentinel-Event", webhookEventViolation)
	if c.signingSecret != "" {
		req.Header.Set("X-Sentinel-Signature", SignPayload(body, c.signingSecret, c.clock.Now()))
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.ErrorContext(ctx, "webhook delivery failed",
			"violation_id", detail.Violation.ID,
			"url", cfg.URL,
			"error", err,
		)
		result.Message = fmt.Sprintf("delivering webhook: %v", err)
		return result
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxWebhookResponseRead))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		result.Message = fmt.Sprintf("webhook endpoint returned %d", resp.StatusCode)
		result.Details = map[string]any{
			"status_code": resp.StatusCode,
			"body":        string(respBody),
		}
		return result
	}

	c.logger.InfoContext(ctx, "webhook delivered",
		"violation_id", detail.Violation.ID,
		"url", cfg.URL,
		"status", resp.StatusCode,
	)

	result.Success = true
	result.Message = fmt.Sprintf("webhook delivered with status %d", resp.StatusCode)
	result.Details = map[string]any{"status_code": resp.StatusCode}
	return result
}

// SignPayload computes the webhook signature header value. The signed
// content is "{unix_timestamp}.{payload}" under HMAC-SHA256; the header
// format is "t=<unix>,v1=<hex>" so receivers can bind the signature to a
// timestamp and reject replays.
func SignPayload(payload []byte, secret string, now time.Time) string {
	timestamp := now.Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", timestamp, payload)
	return fmt.Sprintf("t=%d,v1=%s", timestamp, hex.EncodeToString(mac.Sum(nil)))
}

// VerifySignature checks a payload against a signature header produced by
// SignPayload. Exposed for receiver-side tests and partner tooling.
func VerifySignature(payload []byte, header, secret string) bool {
	var timestamp int64
	var v1 string
	if _, err := fmt.Sscanf(header, "t=%d,v1=%s", &timestamp, &v1); err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", timestamp, payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(v1), []byte(expected))
}
