package sla

import (
	"time"

	"slasentinel/internal/types"
)

// terminalStatuses are shipment states in which no further breach can occur.
// Every candidate query excludes them.
var terminalStatuses = []types.ShipmentStatus{
	types.ShipmentDelivered,
	types.ShipmentCancelled,
}

// BuildShipmentQuery narrows the shipment source to the candidates eligible
// for evaluation under the given rule. It is a pure read-side construction;
// the shipment source executes the query (pushing the predicates down to SQL
// where it can).
//
// Per rule type:
//   - delivery_time: only shipments whose expected delivery is already in the
//     past (cheap pre-filter ahead of per-shipment evaluation).
//   - pickup_time: only shipments still in the created state.
//   - processing_time: only shipments picked up or in transit.
//
// The rule's conditions (priority exact match, origin substring) are applied
// as additional conjunctive filters.
func BuildShipmentQuery(rule *types.SLARule, now time.Time) types.ShipmentQuery {
	q := types.ShipmentQuery{
		ExcludeStatuses: terminalStatuses,
	}

	switch rule.RuleType {
	case types.RuleDeliveryTime:
		cutoff := now
		q.ExpectedDeliveryBefore = &cutoff
	case types.RulePickupTime:
		q.Statuses = []types.ShipmentStatus{types.ShipmentCreated}
	case types.RuleProcessingTime:
		q.Statuses = []types.ShipmentStatus{types.ShipmentPickedUp, types.ShipmentInTransit}
	}

	if rule.Conditions != nil {
		q.Priority = rule.Conditions.Priority
		q.OriginContains = rule.Conditions.Origin
	}

	return q
}
