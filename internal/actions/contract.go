package actions

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"slasentinel/internal/sla"
	"slasentinel/internal/types"
)

// ContractReport is the violation record submitted to the on-chain registry.
type ContractReport struct {
	ContractAddress string
	ViolationID     string
	ShipmentID      string
	TrackingNumber  string
	RuleID          string
	DelayMinutes    int
	DetectedAt      time.Time
}

// ContractClient submits violation reports to a smart-contract registry and
// returns the transaction hash. The production chain client is pluggable;
// the engine ships with SimulatedLedgerClient.
type ContractClient interface {
	RecordViolation(ctx context.Context, report ContractReport) (txHash string, err error)
}

// SimulatedLedgerClient is the default ContractClient. It does not touch a
// chain: it derives a deterministic pseudo transaction hash from the report
// so downstream bookkeeping and tests behave as if a submission happened.
type SimulatedLedgerClient struct{}

func (SimulatedLedgerClient) RecordViolation(_ context.Context, report ContractReport) (string, error) {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s|%d|%d",
		report.ContractAddress,
		report.ViolationID,
		report.ShipmentID,
		report.DelayMinutes,
		report.DetectedAt.Unix(),
	)))
	return "0x" + hex.EncodeToString(sum[:]), nil
}

var _ sla.ActionChannel = (*ContractChannel)(nil)

// ContractChannel records violations on chain through a ContractClient
// wrapped in a circuit breaker, so a stalled chain endpoint degrades to fast
// channel failures instead of queueing submissions.
type ContractChannel struct {
	client  ContractClient
	breaker *gobreaker.CircuitBreaker[string]
	clock   types.Clock
	logger  *slog.Logger
}

func NewContractChannel(client ContractClient, clock types.Clock, logger *slog.Logger) *ContractChannel {
	if clock == nil {
		clock = types.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	breaker := gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        "contract",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	})
	return &ContractChannel{client: client, breaker: breaker, clock: clock, logger: logger}
}

func (c *ContractChannel) Type() types.ActionType { return types.ActionSmartContract }

func (c *ContractChannel) Configured(actions types.ActionSet) bool {
	return actions.SmartContract != nil && actions.SmartContract.Address != ""
}

func (c *ContractChannel) Execute(ctx context.Context, detail types.ViolationDetail) types.ActionExecutionResult {
	result := types.ActionExecutionResult{
		ActionType: types.ActionSmartContract,
		Timestamp:  c.clock.Now(),
	}

	cfg := detail.Rule.Actions.SmartContract
	if cfg == nil || cfg.Address == "" {
		result.Message = "no contract address configured"
		return result
	}

	report := ContractReport{
		ContractAddress: cfg.Address,
		ViolationID:     detail.Violation.ID,
		ShipmentID:      detail.Shipment.ID,
		TrackingNumber:  detail.Shipment.TrackingNumber,
		RuleID:          detail.Rule.ID,
		DelayMinutes:    detail.Violation.DelayMinutes,
		DetectedAt:      detail.Violation.DetectedAt,
	}

	txHash, err := c.breaker.Execute(func() (string, error) {
		return c.client.RecordViolation(ctx, report)
	})
	if err != nil {
		c.logger.ErrorContext(ctx, "on-chain report failed",
			"violation_id", detail.Violation.ID,
			"contract_address", cfg.Address,
			"error", err,
		)
		result.Message = fmt.Sprintf("recording violation on chain: %v", err)
		return result
	}

	c.logger.InfoContext(ctx, "violation recorded on chain",
		"violation_id", detail.Violation.ID,
		"contract_address", cfg.Address,
		"tx_hash", txHash,
	)

	result.Success = true
	result.Message = "violation recorded on chain"
	result.Details = map[string]any{
		"contract_address": cfg.Address,
		"tx_hash":          txHash,
	}
	return result
}
