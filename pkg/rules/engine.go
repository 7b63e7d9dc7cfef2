// Package rules evaluates a priority-ordered list of declarative routing
// rules against request fields, producing ranked candidate agent sets.
// Rules are immutable after load; evaluation is read-only and safe for
// concurrent use.
package rules

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/maestroproj/maestro/pkg/config"
	"github.com/maestroproj/maestro/pkg/models"
)

// compiledRule is a rule with its regex conditions pre-compiled.
type compiledRule struct {
	cfg      *config.RuleConfig
	patterns []*regexp.Regexp // parallel to cfg.Conditions; nil for non-regex atoms
}

// Engine holds the compiled rule set.
type Engine struct {
	rules []compiledRule
}

// NewEngine compiles the configured rules. Config validation has already
// verified the patterns, so a compile failure here is a programming error.
func NewEngine(cfgs []*config.RuleConfig) (*Engine, error) {
	e := &Engine{rules: make([]compiledRule, 0, len(cfgs))}
	for _, cfg := range cfgs {
		cr := compiledRule{cfg: cfg, patterns: make([]*regexp.Regexp, len(cfg.Conditions))}
		for i, cond := range cfg.Conditions {
			if cond.Type != config.ConditionFieldRegex {
				continue
			}
			re, err := regexp.Compile(cond.Pattern)
			if err != nil {
				return nil, fmt.Errorf("rule %s: condition %d: %w", cfg.Name, i, err)
			}
			cr.patterns[i] = re
		}
		e.rules = append(e.rules, cr)
	}
	return e, nil
}

// Evaluate returns every matching rule as a ranked list, sorted by
// priority (descending) then rule name (ascending). A rule matches iff
// all of its condition atoms match.
func (e *Engine) Evaluate(input map[string]any) []models.RuleMatch {
	var matches []models.RuleMatch
	for _, cr := range e.rules {
		if cr.matches(input) {
			matches = append(matches, models.RuleMatch{
				RuleName:     cr.cfg.Name,
				TargetAgents: append([]string(nil), cr.cfg.TargetAgents...),
				Confidence:   cr.cfg.Confidence,
				Priority:     cr.cfg.Priority,
			})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Priority != matches[j].Priority {
			return matches[i].Priority > matches[j].Priority
		}
		return matches[i].RuleName < matches[j].RuleName
	})
	return matches
}

func (cr *compiledRule) matches(input map[string]any) bool {
	for i, cond := range cr.cfg.Conditions {
		val, exists := input[cond.Field]
		switch cond.Type {
		case config.ConditionFieldExists:
			if !exists || val == nil {
				return false
			}
		case config.ConditionKeyword:
			if !exists || !keywordMatch(coerceString(val), cond.Value) {
				return false
			}
		case config.ConditionFieldEquals:
			if !exists || coerceString(val) != cond.Value {
				return false
			}
		case config.ConditionFieldRegex:
			if !exists || !cr.patterns[i].MatchString(coerceString(val)) {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// keywordMatch performs a case-insensitive whole-word match of keyword
// against text. Multi-word keywords match as a phrase.
func keywordMatch(text, keyword string) bool {
	words := tokenize(text)
	keywords := tokenize(keyword)
	if len(keywords) == 0 {
		return false
	}
	for i := 0; i+len(keywords) <= len(words); i++ {
		hit := true
		for j, kw := range keywords {
			if words[i+j] != kw {
				hit = false
				break
			}
		}
		if hit {
			return true
		}
	}
	return false
}

// tokenize splits text into lowercased word tokens.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	})
}

// coerceString renders a request field for matching: strings pass through,
// lists are space-joined, objects serialize to flat JSON, scalars format
// naturally.
func coerceString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []any:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			parts = append(parts, coerceString(item))
		}
		return strings.Join(parts, " ")
	case map[string]any:
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(data)
	case nil:
		return ""
	default:
		return fmt.Sprint(t)
	}
}
