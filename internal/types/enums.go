package types

// RuleType identifies the shipment lifecycle interval an SLA rule measures.
type RuleType string

const (
	RuleDeliveryTime   RuleType = "delivery_time"
	RulePickupTime     RuleType = "pickup_time"
	RuleProcessingTime RuleType = "processing_time"
	// RuleResponseTime is accepted at the CRUD layer but has no evaluation
	// branch yet; the evaluator reports it as unsupported.
	RuleResponseTime RuleType = "response_time"
)

// AllRuleTypes lists every accepted rule type for request validation.
var AllRuleTypes = []RuleType{
	RuleDeliveryTime,
	RulePickupTime,
	RuleProcessingTime,
	RuleResponseTime,
}

// RulePriority is the operator-facing severity of a rule. Informational only;
// it never affects evaluation order.
type RulePriority string

const (
	PriorityLow      RulePriority = "low"
	PriorityMedium   RulePriority = "medium"
	PriorityHigh     RulePriority = "high"
	PriorityCritical RulePriority = "critical"
)

// ShipmentStatus represents the externally-owned shipment lifecycle.
// The engine only reads these states; transitions happen elsewhere.
type ShipmentStatus string

const (
	ShipmentCreated        ShipmentStatus = "created"
	ShipmentPickedUp       ShipmentStatus = "picked_up"
	ShipmentInTransit      ShipmentStatus = "in_transit"
	ShipmentOutForDelivery ShipmentStatus = "out_for_delivery"
	ShipmentDelivered      ShipmentStatus = "delivered"
	ShipmentFailed         ShipmentStatus = "failed"
	ShipmentCancelled      ShipmentStatus = "cancelled"
)

// ViolationStatus is the lifecycle state of one violation episode.
// Linear and re-enterable: a resolved episode does not preclude a fresh one
// later, but only one open episode per (shipment, rule) may exist at a time.
type ViolationStatus string

const (
	ViolationDetected   ViolationStatus = "detected"
	ViolationProcessing ViolationStatus = "processing"
	ViolationResolved   ViolationStatus = "resolved"
	ViolationEscalated  ViolationStatus = "escalated"
)

// OpenViolationStatuses are the states that count as an open episode for the
// one-open-episode-per-(shipment,rule) invariant.
var OpenViolationStatuses = []ViolationStatus{ViolationDetected, ViolationProcessing}

// IsOpen reports whether the status counts as an open episode.
func (s ViolationStatus) IsOpen() bool {
	return s == ViolationDetected || s == ViolationProcessing
}

// ActionType identifies a remedial action channel.
type ActionType string

const (
	ActionEmailAlert    ActionType = "email_alert"
	ActionWebhook       ActionType = "webhook"
	ActionSmartContract ActionType = "smart_contract"
	ActionPenalty       ActionType = "penalty"
)
