package policy

import (
	"fmt"
	"strings"

	"github.com/maestroproj/maestro/pkg/models"
)

// builtinPhrases maps each category to the phrases that select it. The
// classifier scans categories in classifyOrder; the first category with a
// matching phrase wins, so more specific categories come first.
var builtinPhrases = map[models.ActionCategory][]string{
	models.CategoryAccountClosure:      {"close account", "close my account", "cancel account", "terminate account", "delete account"},
	models.CategoryAddressChange:       {"change address", "update address", "new address", "change my address", "moved house"},
	models.CategoryPaymentMethodChange: {"payment method", "update billing", "change card details", "new payment"},
	models.CategoryPasswordChange:      {"password", "passphrase", "credentials reset"},
	models.CategoryCardOrder:           {"new card", "order card", "order a card", "replacement card", "replace card"},
	models.CategoryHighValueTx:         {"large transfer", "large payment", "high value"},
	models.CategoryTransfer:            {"transfer", "send money", "wire", "remit"},
	models.CategoryPurchase:            {"buy", "purchase", "order"},
}

var classifyOrder = []models.ActionCategory{
	models.CategoryAccountClosure,
	models.CategoryAddressChange,
	models.CategoryPaymentMethodChange,
	models.CategoryPasswordChange,
	models.CategoryCardOrder,
	models.CategoryHighValueTx,
	models.CategoryTransfer,
	models.CategoryPurchase,
}

// Classifier assigns an action category to a request by phrase matching
// over the query text and free-form fields. Settings may replace the
// phrase list of any category.
type Classifier struct {
	phrases map[models.ActionCategory][]string
}

// NewClassifier builds a classifier from the built-in phrase table with
// per-category overrides from configuration. An override replaces the
// category's phrase list wholesale; an unknown category name is an error.
func NewClassifier(overrides map[string][]string) (*Classifier, error) {
	phrases := make(map[models.ActionCategory][]string, len(builtinPhrases))
	for cat, list := range builtinPhrases {
		if len(list) > 0 {
			phrases[cat] = list
		}
	}
	for name, list := range overrides {
		if !models.ValidCategory(name) {
			return nil, fmt.Errorf("unknown action category %q in categories config", name)
		}
		phrases[models.ActionCategory(name)] = list
	}
	return &Classifier{phrases: phrases}, nil
}

// Classify returns the request's action category. An explicit, valid
// "category" field on the request wins; otherwise the first category in
// precedence order with a phrase present in the request text is chosen.
// Requests matching nothing map to CategoryOther.
func (c *Classifier) Classify(req *models.QueryRequest) models.ActionCategory {
	if explicit, ok := req.Fields["category"].(string); ok && models.ValidCategory(explicit) {
		return models.ActionCategory(explicit)
	}

	text := classifyText(req)
	for _, cat := range classifyOrder {
		for _, phrase := range c.phrases[cat] {
			if phraseMatch(text, phrase) {
				return cat
			}
		}
	}
	return models.CategoryOther
}

// classifyText flattens the query plus string-valued free-form fields into
// one lowercase haystack.
func classifyText(req *models.QueryRequest) string {
	var b strings.Builder
	b.WriteString(req.Query)
	for _, v := range req.Fields {
		if s, ok := v.(string); ok {
			b.WriteByte(' ')
			b.WriteString(s)
		}
	}
	return b.String()
}

// phraseMatch performs a case-insensitive whole-word match of phrase
// against text; multi-word phrases must appear contiguously.
func phraseMatch(text, phrase string) bool {
	haystack := words(text)
	target := words(phrase)
	if len(target) == 0 {
		return false
	}
	for i := 0; i+len(target) <= len(haystack); i++ {
		hit := true
		for j, w := range target {
			if haystack[i+j] != w {
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

func words(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	})
}
