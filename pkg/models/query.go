// Package models defines the shared domain types that flow through the
// orchestrator pipeline: the parsed query, selection plans, agent responses,
// validation reports, policy results, and the per-query audit record.
package models

import (
	"encoding/json"
	"fmt"
)

// Reserved top-level request keys. Everything else is treated as a free-form
// operation field and handed to agents as part of the input.
const (
	KeyQuery     = "query"
	KeyStream    = "stream"
	KeySessionID = "session_id"
	KeyUserID    = "user_id"
	KeyMetadata  = "metadata"
)

// AnonymousUserID is used when neither the request body nor the session
// carries a user identity.
const AnonymousUserID = "anonymous"

// QueryRequest is the normalized form of a POST /v1/query body.
// Fields holds every non-reserved top-level key (operation fields such as
// "operation", "operands", "amount"); agents receive a merge of Fields and
// any per-agent parameter overrides from the selection plan.
type QueryRequest struct {
	Query     string
	Stream    bool
	SessionID string
	UserID    string
	Metadata  map[string]any
	Fields    map[string]any
}

// UnmarshalJSON splits reserved keys from free-form operation fields.
func (r *QueryRequest) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*r = QueryRequest{Fields: make(map[string]any)}

	for key, val := range raw {
		switch key {
		case KeyQuery:
			if err := json.Unmarshal(val, &r.Query); err != nil {
				return fmt.Errorf("field %q: %w", key, err)
			}
		case KeyStream:
			if err := json.Unmarshal(val, &r.Stream); err != nil {
				return fmt.Errorf("field %q: %w", key, err)
			}
		case KeySessionID:
			if err := json.Unmarshal(val, &r.SessionID); err != nil {
				return fmt.Errorf("field %q: %w", key, err)
			}
		case KeyUserID:
			if err := json.Unmarshal(val, &r.UserID); err != nil {
				return fmt.Errorf("field %q: %w", key, err)
			}
		case KeyMetadata:
			if err := json.Unmarshal(val, &r.Metadata); err != nil {
				return fmt.Errorf("field %q: %w", key, err)
			}
		default:
			var v any
			if err := json.Unmarshal(val, &v); err != nil {
				return fmt.Errorf("field %q: %w", key, err)
			}
			r.Fields[key] = v
		}
	}
	return nil
}

// EffectiveUserID resolves the user identity for policy evaluation.
// Priority: explicit user_id > session_id > "anonymous".
func (r *QueryRequest) EffectiveUserID() string {
	if r.UserID != "" {
		return r.UserID
	}
	if r.SessionID != "" {
		return r.SessionID
	}
	return AnonymousUserID
}

// BaseInput returns the input map delivered to agents before per-agent
// parameter overrides are applied. The query text is always present under
// "query"; reserved routing keys are not.
func (r *QueryRequest) BaseInput() map[string]any {
	input := make(map[string]any, len(r.Fields)+1)
	for k, v := range r.Fields {
		input[k] = v
	}
	input[KeyQuery] = r.Query
	return input
}

// Echo returns the request as a generic map for audit logging.
// The caller is responsible for redacting secrets before persisting.
func (r *QueryRequest) Echo() map[string]any {
	echo := make(map[string]any, len(r.Fields)+4)
	for k, v := range r.Fields {
		echo[k] = v
	}
	echo[KeyQuery] = r.Query
	if r.SessionID != "" {
		echo[KeySessionID] = r.SessionID
	}
	if r.UserID != "" {
		echo[KeyUserID] = r.UserID
	}
	if r.Metadata != nil {
		echo[KeyMetadata] = r.Metadata
	}
	return echo
}
