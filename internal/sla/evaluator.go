// Package sla implements the SLA rule evaluation and violation enforcement
// engine: candidate selection, pure rule evaluation, the monitoring
// orchestrator, open-episode reconciliation, and the remedial action
// dispatcher.
package sla

import (
	"errors"
	"time"

	"slasentinel/internal/types"
)

// ErrUnsupportedRuleType is returned by Evaluate for rule types without an
// implemented evaluation branch (currently response_time). The orchestrator
// logs it and skips the rule; it never aborts a monitoring pass.
var ErrUnsupportedRuleType = errors.New("sla: rule type has no evaluation branch")

// EvaluationOutcome is the verdict of evaluating one shipment against one
// rule at a fixed point in time.
type EvaluationOutcome struct {
	IsViolated   bool
	DelayMinutes int
	ExpectedTime time.Time
	ActualTime   *time.Time
}

// Evaluate decides violation state and delay magnitude for a (shipment, rule)
// pair. It is a pure function of the shipment snapshot, the rule snapshot,
// and the supplied now; callers inject the clock.
//
// For every supported rule type the breach test is the same: if the measured
// event has not happened and now is past the expected time, the delay is the
// elapsed time in whole minutes, and the pair is violated iff the delay
// strictly exceeds the rule's grace period. A delay exactly equal to the
// grace period is not a violation.
func Evaluate(shipment *types.Shipment, rule *types.SLARule, now time.Time) (EvaluationOutcome, error) {
	threshold := time.Duration(rule.ThresholdMinutes) * time.Minute

	var expected time.Time
	var actual *time.Time

	switch rule.RuleType {
	case types.RuleDeliveryTime:
		expected = shipment.ExpectedDeliveryAt
		actual = shipment.ActualDeliveryAt

	case types.RulePickupTime:
		expected = shipment.CreatedAt.Add(threshold)
		actual = shipment.PickedUpAt

	case types.RuleProcessingTime:
		start := shipment.CreatedAt
		if shipment.PickedUpAt != nil {
			start = *shipment.PickedUpAt
		}
		expected = start.Add(threshold)
		actual = shipment.ActualDeliveryAt

	default:
		return EvaluationOutcome{}, ErrUnsupportedRuleType
	}

	outcome := EvaluationOutcome{
		ExpectedTime: expected,
		ActualTime:   actual,
	}

	if actual == nil && now.After(expected) {
		outcome.DelayMinutes = int(now.Sub(expected) / time.Minute)
		outcome.IsViolated = outcome.DelayMinutes > rule.GracePeriodMinutes
	}

	return outcome, nil
}

// Result assembles the externally visible MonitoringResult from an
// evaluation outcome. DelayMinutes is populated only for violated pairs.
func Result(shipment *types.Shipment, rule *types.SLARule, outcome EvaluationOutcome) types.MonitoringResult {
	res := types.MonitoringResult{
		ShipmentID:     shipment.ID,
		TrackingNumber: shipment.TrackingNumber,
		RuleID:         rule.ID,
		RuleName:       rule.Name,
		IsViolated:     outcome.IsViolated,
		ExpectedTime:   outcome.ExpectedTime,
		ActualTime:     outcome.ActualTime,
		Status:         shipment.Status,
	}
	if outcome.IsViolated {
		delay := outcome.DelayMinutes
		res.DelayMinutes = &delay
	}
	return res
}
