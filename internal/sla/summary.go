package sla

import (
	"context"
	"fmt"
	"math"
	"time"

	"slasentinel/internal/types"
)

// SummarySource is the reporting query surface of the violation store. Nil
// bounds mean no constraint on detection time.
type SummarySource interface {
	ListWithRules(ctx context.Context, from, to *time.Time) ([]types.ViolationWithRule, error)
}

// Summarize aggregates violations into the operator-facing summary. Active
// counts open episodes (detected or processing), resolved counts only the
// resolved status; escalated episodes appear in the total but in neither
// bucket. The average delay rounds half away from zero.
func Summarize(violations []types.ViolationWithRule) types.ViolationSummary {
	summary := types.ViolationSummary{
		ViolationsByPriority: map[string]int{},
		ViolationsByType:     map[string]int{},
	}

	totalDelay := 0
	for _, v := range violations {
		summary.TotalViolations++
		totalDelay += v.Violation.DelayMinutes

		switch {
		case v.Violation.Status.IsOpen():
			summary.ActiveViolations++
		case v.Violation.Status == types.ViolationResolved:
			summary.ResolvedViolations++
		}

		summary.ViolationsByPriority[string(v.RulePriority)]++
		summary.ViolationsByType[string(v.RuleType)]++
	}

	if summary.TotalViolations > 0 {
		avg := float64(totalDelay) / float64(summary.TotalViolations)
		summary.AverageDelayMinutes = int(math.Round(avg))
	}

	return summary
}

// SummaryService computes the violation summary from the store.
type SummaryService struct {
	source SummarySource
}

func NewSummaryService(source SummarySource) *SummaryService {
	return &SummaryService{source: source}
}

// Summary aggregates the violations whose detection time falls inside the
// optional [from, to) window.
func (s *SummaryService) Summary(ctx context.Context, from, to *time.Time) (types.ViolationSummary, error) {
	violations, err := s.source.ListWithRules(ctx, from, to)
	if err != nil {
		return types.ViolationSummary{}, fmt.Errorf("listing violations for summary: %w", err)
	}
	return Summarize(violations), nil
}
