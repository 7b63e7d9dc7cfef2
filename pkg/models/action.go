package models

import "time"

// ActionCategory classifies a request for policy evaluation.
// The set is closed; unknown requests map to CategoryOther.
type ActionCategory string

const (
	CategoryAddressChange       ActionCategory = "address_change"
	CategoryPaymentMethodChange ActionCategory = "payment_method_change"
	CategoryPasswordChange      ActionCategory = "password_change"
	CategoryCardOrder           ActionCategory = "card_order"
	CategoryHighValueTx         ActionCategory = "high_value_transaction"
	CategoryTransfer            ActionCategory = "transfer"
	CategoryPurchase            ActionCategory = "purchase"
	CategoryAccountClosure      ActionCategory = "account_closure"
	CategoryQuery               ActionCategory = "query"
	CategoryOther               ActionCategory = "other"
)

// AllCategories lists every defined category, used by config validation.
var AllCategories = []ActionCategory{
	CategoryAddressChange,
	CategoryPaymentMethodChange,
	CategoryPasswordChange,
	CategoryCardOrder,
	CategoryHighValueTx,
	CategoryTransfer,
	CategoryPurchase,
	CategoryAccountClosure,
	CategoryQuery,
	CategoryOther,
}

// ValidCategory reports whether s names a defined category.
func ValidCategory(s string) bool {
	for _, c := range AllCategories {
		if string(c) == s {
			return true
		}
	}
	return false
}

// UserAction is one append-only history entry. Recorded only after a
// fully-successful, non-denied, executed request.
type UserAction struct {
	UserID     string         `json:"user_id"`
	Category   ActionCategory `json:"category"`
	Timestamp  time.Time      `json:"timestamp"`
	AgentNames []string       `json:"agent_names"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// EvaluationResult is the outcome of policy evaluation. A denial carries a
// user-facing reason and, for timed restrictions, the absolute time at
// which the restriction lifts.
type EvaluationResult struct {
	Allowed             bool           `json:"allowed"`
	Evaluator           string         `json:"evaluator,omitempty"`
	Reason              string         `json:"reason,omitempty"`
	RestrictionLiftTime *time.Time     `json:"restriction_lift_time,omitempty"`
	Metadata            map[string]any `json:"metadata,omitempty"`
}

// Allow is the zero-reason success result.
func Allow() EvaluationResult {
	return EvaluationResult{Allowed: true}
}

// Deny builds a denial result attributed to the named evaluator.
func Deny(evaluator, reason string) EvaluationResult {
	return EvaluationResult{Evaluator: evaluator, Reason: reason}
}
