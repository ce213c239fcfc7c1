package types

import (
	"time"
)

// SLARule is a named policy describing the allowed duration for a shipment
// lifecycle interval, plus the remedial actions taken on breach. Rules are
// plain CRUD records; their content parameterizes the evaluator.
type SLARule struct {
	ID          string       `json:"id" db:"id"`
	Name        string       `json:"name" db:"name"`
	Description string       `json:"description,omitempty" db:"description"`
	RuleType    RuleType     `json:"rule_type" db:"rule_type"`
	Priority    RulePriority `json:"priority" db:"priority"`

	// ThresholdMinutes is the allowed duration for the rule's measured
	// interval. GracePeriodMinutes is additional slack before a breach
	// becomes actionable; a delay exactly equal to the grace period is NOT
	// a violation.
	ThresholdMinutes   int `json:"threshold_minutes" db:"threshold_minutes"`
	GracePeriodMinutes int `json:"grace_period_minutes" db:"grace_period_minutes"`

	Conditions *RuleConditions `json:"conditions,omitempty" db:"conditions"`
	Actions    ActionSet       `json:"actions" db:"actions"`
	IsActive   bool            `json:"is_active" db:"is_active"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Shipment is the read-only view of a shipment record owned by the
// surrounding system. The engine never mutates shipment state.
type Shipment struct {
	ID             string         `json:"id" db:"id"`
	TrackingNumber string         `json:"tracking_number" db:"tracking_number"`
	Status         ShipmentStatus `json:"status" db:"status"`
	Priority       string         `json:"priority" db:"priority"`
	Origin         string         `json:"origin" db:"origin"`
	Destination    string         `json:"destination" db:"destination"`
	CustomerID     string         `json:"customer_id" db:"customer_id"`

	CreatedAt          time.Time  `json:"created_at" db:"created_at"`
	PickedUpAt         *time.Time `json:"picked_up_at,omitempty" db:"picked_up_at"`
	ExpectedDeliveryAt time.Time  `json:"expected_delivery_at" db:"expected_delivery_at"`
	ActualDeliveryAt   *time.Time `json:"actual_delivery_at,omitempty" db:"actual_delivery_at"`
}

// IsTerminal reports whether the shipment is in a state where no further
// breach can occur (candidate selection always excludes these).
func (s *Shipment) IsTerminal() bool {
	return s.Status == ShipmentDelivered || s.Status == ShipmentCancelled
}

// SLAViolation is one breach episode for a (shipment, rule) pair.
// DetectedAt is immutable after creation; DelayMinutes tracks the most
// recently measured breach magnitude while the episode is open.
type SLAViolation struct {
	ID         string          `json:"id" db:"id"`
	ShipmentID string          `json:"shipment_id" db:"shipment_id"`
	RuleID     string          `json:"rule_id" db:"rule_id"`
	Status     ViolationStatus `json:"status" db:"status"`

	DelayMinutes int        `json:"delay_minutes" db:"delay_minutes"`
	DetectedAt   time.Time  `json:"detected_at" db:"detected_at"`
	ResolvedAt   *time.Time `json:"resolved_at,omitempty" db:"resolved_at"`

	// ActionsTaken is the append-only log of channel outcomes across every
	// dispatch pass, including manual retriggers.
	ActionsTaken ActionLog `json:"actions_taken" db:"actions_taken"`
	Notes        string    `json:"notes,omitempty" db:"notes"`
}

// ViolationDetail is a violation hydrated with its owning rule and the
// shipment snapshot, as needed by the action dispatcher.
type ViolationDetail struct {
	Violation SLAViolation
	Rule      SLARule
	Shipment  Shipment
}

// ViolationWithRule pairs a violation with the rule fields the summary
// aggregation needs. Produced by the violation store's reporting query.
type ViolationWithRule struct {
	Violation    SLAViolation
	RuleName     string
	RuleType     RuleType
	RulePriority RulePriority
}

// MonitoringResult is the verdict for one evaluated (shipment, rule) pair.
type MonitoringResult struct {
	ShipmentID     string         `json:"shipment_id"`
	TrackingNumber string         `json:"tracking_number"`
	RuleID         string         `json:"rule_id"`
	RuleName       string         `json:"rule_name"`
	IsViolated     bool           `json:"is_violated"`
	DelayMinutes   *int           `json:"delay_minutes,omitempty"`
	ExpectedTime   time.Time      `json:"expected_time"`
	ActualTime     *time.Time     `json:"actual_time,omitempty"`
	Status         ShipmentStatus `json:"status"`
}

// ActionExecutionResult is the outcome of one channel execution.
type ActionExecutionResult struct {
	ActionType ActionType     `json:"action_type"`
	Success    bool           `json:"success"`
	Message    string         `json:"message"`
	Timestamp  time.Time      `json:"timestamp"`
	Details    map[string]any `json:"details,omitempty"`
}

// ActionLog is the JSONB-persisted list of ActionExecutionResult entries.
type ActionLog []ActionExecutionResult

// ViolationSummary is the read-side aggregate over the violation store.
type ViolationSummary struct {
	TotalViolations      int            `json:"total_violations"`
	ActiveViolations     int            `json:"active_violations"`
	ResolvedViolations   int            `json:"resolved_violations"`
	AverageDelayMinutes  int            `json:"average_delay_minutes"`
	ViolationsByPriority map[string]int `json:"violations_by_priority"`
	ViolationsByType     map[string]int `json:"violations_by_type"`
}

// ShipmentQuery is the candidate-selection filter built from a rule and
// executed by the shipment source. Zero-valued fields mean "no constraint".
type ShipmentQuery struct {
	// ExcludeStatuses is always populated with the terminal states.
	ExcludeStatuses []ShipmentStatus
	// Statuses restricts to specific states (pickup/processing rules).
	Statuses []ShipmentStatus
	// ExpectedDeliveryBefore pre-filters delivery_time candidates whose
	// expected delivery is already in the past.
	ExpectedDeliveryBefore *time.Time
	// Priority is an exact-match condition from the rule.
	Priority string
	// OriginContains is a case-insensitive substring condition from the rule.
	OriginContains string
}
