package actions

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	stripe "github.com/stripe/stripe-go/v82"

	"slasentinel/internal/sla"
	"slasentinel/internal/types"
)

// stripeAPIBase is the default Stripe API base URL. Overridable in tests via
// PenaltyChannelConfig.BaseURL.
const stripeAPIBase = "https://api.stripe.com"

// BillingLookup resolves a platform customer ID into its Stripe customer ID.
// Returns an error when the customer has no billing account; the penalty
// channel reports that as a channel failure.
type BillingLookup interface {
	StripeCustomerID(ctx context.Context, customerID string) (string, error)
}

// PassthroughBillingLookup treats the platform customer ID as the Stripe
// customer ID. Deployments whose fulfillment system provisions shipments with
// Stripe IDs directly use this; others supply a mapping-backed lookup.
type PassthroughBillingLookup struct{}

func (PassthroughBillingLookup) StripeCustomerID(_ context.Context, customerID string) (string, error) {
	if customerID == "" {
		return "", fmt.Errorf("shipment has no customer id")
	}
	return customerID, nil
}

// PenaltyChannelConfig holds the configuration for creating a PenaltyChannel.
type PenaltyChannelConfig struct {
	SecretKey string
	BaseURL   string // test override; defaults to stripeAPIBase
	Currency  string // defaults to "usd"
}

var _ sla.ActionChannel = (*PenaltyChannel)(nil)

// PenaltyChannel records a monetary penalty against the shipment's customer
// by creating a Stripe invoice item. The charge lands on the customer's next
// invoice; this channel never triggers an immediate payment. Calls go through
// the shared ResilientClient for circuit breaking and retries.
type PenaltyChannel struct {
	client    *ResilientClient
	billing   BillingLookup
	secretKey string
	baseURL   string
	currency  string
	clock     types.Clock
	logger    *slog.Logger
}

func NewPenaltyChannel(client *ResilientClient, billing BillingLookup, cfg PenaltyChannelConfig, clock types.Clock, logger *slog.Logger) *PenaltyChannel {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = stripeAPIBase
	}
	currency := cfg.Currency
	if currency == "" {
		currency = "usd"
	}
	if clock == nil {
		clock = types.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PenaltyChannel{
		client:    client,
		billing:   billing,
		secretKey: cfg.SecretKey,
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		currency:  currency,
		clock:     clock,
		logger:    logger,
	}
}

func (c *PenaltyChannel) Type() types.ActionType { return types.ActionPenalty }

func (c *PenaltyChannel) Configured(actions types.ActionSet) bool {
	return actions.Penalty != nil && actions.Penalty.AmountCents > 0
}

func (c *PenaltyChannel) Execute(ctx context.Context, detail types.ViolationDetail) types.ActionExecutionResult {
	result := types.ActionExecutionResult{
		ActionType: types.ActionPenalty,
		Timestamp:  c.clock.Now(),
	}

	cfg := detail.Rule.Actions.Penalty
	if cfg == nil || cfg.AmountCents <= 0 {
		result.Message = "no penalty amount configured"
		return result
	}

	customerID, err := c.billing.StripeCustomerID(ctx, detail.Shipment.CustomerID)
	if err != nil {
		result.Message = fmt.Sprintf("resolving billing account for customer %s: %v", detail.Shipment.CustomerID, err)
		return result
	}

	params := url.Values{}
	params.Set("customer", customerID)
	params.Set("amount", strconv.FormatInt(cfg.AmountCents, 10))
	params.Set("currency", c.currency)
	params.Set("description", fmt.Sprintf("SLA penalty: %s breached on shipment %s",
		detail.Rule.Name, detail.Shipment.TrackingNumber))
	params.Set("metadata[violation_id]", detail.Violation.ID)
	params.Set("metadata[shipment_id]", detail.Shipment.ID)
	params.Set("metadata[rule_id]", detail.Rule.ID)

	resp, err := c.doPost(ctx, "/v1/invoiceitems", params)
	if err != nil {
		c.logger.ErrorContext(ctx, "penalty creation failed",
			"violation_id", detail.Violation.ID,
			"customer_id", detail.Shipment.CustomerID,
			"error", err,
		)
		result.Message = fmt.Sprintf("creating penalty invoice item: %v", err)
		return result
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		result.Message = fmt.Sprintf("billing api returned %d", resp.StatusCode)
		result.Details = map[string]any{"status_code": resp.StatusCode}
		return result
	}

	var item struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&item); err != nil {
		result.Message = fmt.Sprintf("decoding invoice item response: %v", err)
		return result
	}

	c.logger.InfoContext(ctx, "penalty recorded",
		"violation_id", detail.Violation.ID,
		"customer_id", detail.Shipment.CustomerID,
		"invoice_item_id", item.ID,
		"amount_cents", cfg.AmountCents,
	)

	result.Success = true
	result.Message = fmt.Sprintf("penalty of %d cents recorded", cfg.AmountCents)
	result.Details = map[string]any{
		"invoice_item_id": item.ID,
		"amount_cents":    cfg.AmountCents,
		"currency":        c.currency,
	}
	return result
}

// doPost performs an authenticated form-encoded POST to the billing API.
func (c *PenaltyChannel) doPost(ctx context.Context, path string, params url.Values) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(params.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Stripe-Version", stripe.APIVersion)

	return c.client.Do(req)
}
