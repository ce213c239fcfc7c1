package types

import (
	"fmt"
	"net/url"
	"strings"
)

// ActionSet is the bag of remedial-channel configurations attached to a rule.
// Each channel is a distinct config type carrying only its own parameters;
// a nil pointer means the channel is not configured for the rule.
type ActionSet struct {
	EmailAlert    *EmailAction    `json:"email_alert,omitempty"`
	Webhook       *WebhookAction  `json:"webhook,omitempty"`
	SmartContract *ContractAction `json:"smart_contract,omitempty"`
	Penalty       *PenaltyAction  `json:"penalty,omitempty"`

	// EscalationLevel is informational metadata carried into alert payloads.
	EscalationLevel int `json:"escalation_level,omitempty"`
}

// EmailAction configures the alert-email channel.
type EmailAction struct {
	Recipients []string `json:"recipients"`
}

// WebhookAction configures the webhook notification channel.
type WebhookAction struct {
	URL string `json:"url"`
}

// ContractAction configures the on-chain reporting channel.
type ContractAction struct {
	Address string `json:"address"`
}

// PenaltyAction configures the penalty assessment channel.
type PenaltyAction struct {
	AmountCents int64 `json:"amount_cents"`
}

// IsEmpty reports whether no channel is configured at all. Rules with an
// empty action set still produce violations; dispatch just has nothing to do.
func (a ActionSet) IsEmpty() bool {
	return a.EmailAlert == nil && a.Webhook == nil && a.SmartContract == nil && a.Penalty == nil
}

// Validate checks each configured channel's parameters. Malformed channel
// configs are configuration errors: rejected at the CRUD boundary rather
// than discovered during dispatch.
func (a ActionSet) Validate() error {
	if a.EmailAlert != nil {
		if len(a.EmailAlert.Recipients) == 0 {
			return fmt.Errorf("actions: email_alert requires at least one recipient")
		}
		for _, r := range a.EmailAlert.Recipients {
			if !strings.Contains(r, "@") {
				return fmt.Errorf("actions: invalid alert recipient %q", r)
			}
		}
	}
	if a.Webhook != nil {
		u, err := url.Parse(a.Webhook.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("actions: webhook url must be an absolute http(s) URL")
		}
	}
	if a.SmartContract != nil && a.SmartContract.Address == "" {
		return fmt.Errorf("actions: smart_contract requires a contract address")
	}
	if a.Penalty != nil && a.Penalty.AmountCents <= 0 {
		return fmt.Errorf("actions: penalty amount must be positive")
	}
	if a.EscalationLevel < 0 {
		return fmt.Errorf("actions: escalation level must not be negative")
	}
	return nil
}
