package types

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Compile-time assertions that the JSONB column types implement both
// sql.Scanner and driver.Valuer. Scan is on pointer receivers; Value on
// value receivers.
var (
	_ sql.Scanner   = (*RuleConditions)(nil)
	_ driver.Valuer = RuleConditions{}
	_ sql.Scanner   = (*ActionSet)(nil)
	_ driver.Valuer = ActionSet{}
	_ sql.Scanner   = (*ActionLog)(nil)
	_ driver.Valuer = ActionLog(nil)
)

// scanJSONB scans a JSONB database value into a Go pointer, handling nil,
// []byte, and string representations.
func scanJSONB(dest any, value any) error {
	if value == nil {
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("jsonb: unsupported scan type %T", value)
	}
	return json.Unmarshal(data, dest)
}

// valueJSONB marshals a Go value to a JSONB-compatible driver.Value.
func valueJSONB(v any) (driver.Value, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

// Scan implements sql.Scanner for reading JSONB rule conditions.
func (c *RuleConditions) Scan(value any) error {
	return scanJSONB(c, value)
}

// Value implements driver.Valuer for writing JSONB rule conditions.
func (c RuleConditions) Value() (driver.Value, error) {
	return valueJSONB(c)
}

// Scan implements sql.Scanner for reading a JSONB action set.
func (a *ActionSet) Scan(value any) error {
	return scanJSONB(a, value)
}

// Value implements driver.Valuer for writing a JSONB action set.
func (a ActionSet) Value() (driver.Value, error) {
	return valueJSONB(a)
}

// Scan implements sql.Scanner for reading the JSONB action log.
func (l *ActionLog) Scan(value any) error {
	if value == nil {
		*l = nil
		return nil
	}
	return scanJSONB(l, value)
}

// Value implements driver.Valuer for writing the JSONB action log.
func (l ActionLog) Value() (driver.Value, error) {
	if l == nil {
		return nil, nil
	}
	return json.Marshal(l)
}
