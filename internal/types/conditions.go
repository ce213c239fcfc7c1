package types

import "strings"

// RuleConditions is the conjunctive filter a rule applies on top of its
// type-specific candidate selection. Absence of a field means "no constraint
// on that attribute".
type RuleConditions struct {
	// Priority requires an exact match on the shipment's priority.
	Priority string `json:"priority,omitempty"`
	// Origin requires a case-insensitive substring match on the shipment's
	// origin (ILIKE %origin% when pushed down to SQL).
	Origin string `json:"origin,omitempty"`
}

// IsZero reports whether no condition is set.
func (c *RuleConditions) IsZero() bool {
	return c == nil || (c.Priority == "" && c.Origin == "")
}

// Matches applies the conditions in memory. The SQL shipment source pushes
// the same predicates down to the database; this form serves in-memory
// sources and tests.
func (c *RuleConditions) Matches(s *Shipment) bool {
	if c == nil {
		return true
	}
	if c.Priority != "" && s.Priority != c.Priority {
		return false
	}
	if c.Origin != "" && !strings.Contains(strings.ToLower(s.Origin), strings.ToLower(c.Origin)) {
		return false
	}
	return true
}
