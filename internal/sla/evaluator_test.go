package sla

import (
	"errors"
	"testing"
	"time"

	"slasentinel/internal/types"
)

var evalNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func ts(t time.Time) *time.Time { return &t }

func TestEvaluateDeliveryTime(t *testing.T) {
	rule := &types.SLARule{
		ID:                 "rule-1",
		RuleType:           types.RuleDeliveryTime,
		ThresholdMinutes:   240,
		GracePeriodMinutes: 30,
	}

	tests := []struct {
		name         string
		expected     time.Time
		actual       *time.Time
		wantViolated bool
		wantDelay    int
	}{
		{
			name:         "delivered shipments never violate",
			expected:     evalNow.Add(-2 * time.Hour),
			actual:       ts(evalNow.Add(-time.Hour)),
			wantViolated: false,
		},
		{
			name:         "expected still in the future",
			expected:     evalNow.Add(time.Hour),
			wantViolated: false,
		},
		{
			name:         "delay inside grace period",
			expected:     evalNow.Add(-20 * time.Minute),
			wantViolated: false,
		},
		{
			name:         "delay exactly at grace boundary is not a violation",
			expected:     evalNow.Add(-30 * time.Minute),
			wantViolated: false,
		},
		{
			name:         "one minute past grace violates",
			expected:     evalNow.Add(-31 * time.Minute),
			wantViolated: true,
			wantDelay:    31,
		},
		{
			name:         "partial minutes truncate before the grace comparison",
			expected:     evalNow.Add(-30*time.Minute - 59*time.Second),
			wantViolated: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			shipment := &types.Shipment{
				ID:                 "ship-1",
				Status:             types.ShipmentInTransit,
				ExpectedDeliveryAt: tt.expected,
				ActualDeliveryAt:   tt.actual,
			}

			outcome, err := Evaluate(shipment, rule, evalNow)
			if err != nil {
				t.Fatalf("Evaluate() error: %v", err)
			}
			if outcome.IsViolated != tt.wantViolated {
				t.Errorf("IsViolated = %v, want %v", outcome.IsViolated, tt.wantViolated)
			}
			if tt.wantViolated && outcome.DelayMinutes != tt.wantDelay {
				t.Errorf("DelayMinutes = %d, want %d", outcome.DelayMinutes, tt.wantDelay)
			}
			if !outcome.ExpectedTime.Equal(tt.expected) {
				t.Errorf("ExpectedTime = %v, want %v", outcome.ExpectedTime, tt.expected)
			}
		})
	}
}

func TestEvaluatePickupTime(t *testing.T) {
	rule := &types.SLARule{
		RuleType:           types.RulePickupTime,
		ThresholdMinutes:   60,
		GracePeriodMinutes: 15,
	}

	t.Run("picked up shipments never violate", func(t *testing.T) {
		shipment := &types.Shipment{
			CreatedAt:  evalNow.Add(-5 * time.Hour),
			PickedUpAt: ts(evalNow.Add(-4 * time.Hour)),
		}
		outcome, err := Evaluate(shipment, rule, evalNow)
		if err != nil {
			t.Fatalf("Evaluate() error: %v", err)
		}
		if outcome.IsViolated {
			t.Error("picked up shipment should not violate a pickup rule")
		}
	})

	t.Run("expected derives from creation plus threshold", func(t *testing.T) {
		created := evalNow.Add(-2 * time.Hour)
		shipment := &types.Shipment{CreatedAt: created}
		outcome, err := Evaluate(shipment, rule, evalNow)
		if err != nil {
			t.Fatalf("Evaluate() error: %v", err)
		}
		wantExpected := created.Add(60 * time.Minute)
		if !outcome.ExpectedTime.Equal(wantExpected) {
			t.Errorf("ExpectedTime = %v, want %v", outcome.ExpectedTime, wantExpected)
		}
		// 120 minutes since creation, 60 allowed, delay 60 > grace 15.
		if !outcome.IsViolated || outcome.DelayMinutes != 60 {
			t.Errorf("outcome = %+v, want violated with 60 minute delay", outcome)
		}
	})
}

func TestEvaluateProcessingTime(t *testing.T) {
	rule := &types.SLARule{
		RuleType:           types.RuleProcessingTime,
		ThresholdMinutes:   120,
		GracePeriodMinutes: 0,
	}

	t.Run("interval starts at pickup when present", func(t *testing.T) {
		pickedUp := evalNow.Add(-3 * time.Hour)
		shipment := &types.Shipment{
			CreatedAt:  evalNow.Add(-6 * time.Hour),
			PickedUpAt: ts(pickedUp),
		}
		outcome, err := Evaluate(shipment, rule, evalNow)
		if err != nil {
			t.Fatalf("Evaluate() error: %v", err)
		}
		if !outcome.ExpectedTime.Equal(pickedUp.Add(2 * time.Hour)) {
			t.Errorf("ExpectedTime = %v, want pickup + threshold", outcome.ExpectedTime)
		}
		if !outcome.IsViolated || outcome.DelayMinutes != 60 {
			t.Errorf("outcome = %+v, want violated with 60 minute delay", outcome)
		}
	})

	t.Run("falls back to creation when never picked up", func(t *testing.T) {
		created := evalNow.Add(-4 * time.Hour)
		shipment := &types.Shipment{CreatedAt: created}
		outcome, err := Evaluate(shipment, rule, evalNow)
		if err != nil {
			t.Fatalf("Evaluate() error: %v", err)
		}
		if !outcome.ExpectedTime.Equal(created.Add(2 * time.Hour)) {
			t.Errorf("ExpectedTime = %v, want creation + threshold", outcome.ExpectedTime)
		}
	})

	t.Run("delivery closes the interval", func(t *testing.T) {
		shipment := &types.Shipment{
			CreatedAt:        evalNow.Add(-8 * time.Hour),
			ActualDeliveryAt: ts(evalNow.Add(-time.Hour)),
		}
		outcome, err := Evaluate(shipment, rule, evalNow)
		if err != nil {
			t.Fatalf("Evaluate() error: %v", err)
		}
		if outcome.IsViolated {
			t.Error("delivered shipment should not violate a processing rule")
		}
	})
}

func TestEvaluateUnsupportedRuleType(t *testing.T) {
	rule := &types.SLARule{RuleType: types.RuleResponseTime}
	_, err := Evaluate(&types.Shipment{}, rule, evalNow)
	if !errors.Is(err, ErrUnsupportedRuleType) {
		t.Fatalf("Evaluate() error = %v, want ErrUnsupportedRuleType", err)
	}
}

func TestResultDelayOnlyWhenViolated(t *testing.T) {
	shipment := &types.Shipment{ID: "ship-1", TrackingNumber: "TRK-1", Status: types.ShipmentInTransit}
	rule := &types.SLARule{ID: "rule-1", Name: "Express delivery"}

	res := Result(shipment, rule, EvaluationOutcome{IsViolated: false, DelayMinutes: 0})
	if res.DelayMinutes != nil {
		t.Error("non-violated result should omit delay")
	}

	res = Result(shipment, rule, EvaluationOutcome{IsViolated: true, DelayMinutes: 42})
	if res.DelayMinutes == nil || *res.DelayMinutes != 42 {
		t.Errorf("DelayMinutes = %v, want 42", res.DelayMinutes)
	}
	if res.ShipmentID != "ship-1" || res.RuleID != "rule-1" || res.RuleName != "Express delivery" {
		t.Errorf("identity fields not carried: %+v", res)
	}
}
