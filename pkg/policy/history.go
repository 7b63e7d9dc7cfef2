// Package policy decides whether a classified request may proceed. An
// ordered chain of evaluators inspects the user's recent action history;
// the first denial wins and execution is skipped entirely.
package policy

import (
	"sync"
	"time"

	"github.com/maestroproj/maestro/pkg/config"
	"github.com/maestroproj/maestro/pkg/models"
)

// History is the in-memory per-user action store backing the evaluators.
// Entries are append-only and time-ordered; capacity and age bounds evict
// oldest-first.
type History struct {
	maxPerUser int
	maxAge     time.Duration
	now        func() time.Time // injected in tests

	mu    sync.RWMutex
	users map[string][]models.UserAction
}

// NewHistory creates an empty history bounded by the given settings.
func NewHistory(cfg config.HistorySettings) *History {
	maxPer := cfg.MaxActionsPerUser
	if maxPer <= 0 {
		maxPer = 1000
	}
	return &History{
		maxPerUser: maxPer,
		maxAge:     cfg.MaxAge.Std(),
		now:        time.Now,
		users:      make(map[string][]models.UserAction),
	}
}

// Record appends an action to the user's history, evicting the oldest
// entries past the per-user cap. A zero timestamp is stamped with now.
func (h *History) Record(action models.UserAction) {
	if action.UserID == "" {
		return
	}
	if action.Timestamp.IsZero() {
		action.Timestamp = h.now()
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	actions := append(h.users[action.UserID], action)
	if over := len(actions) - h.maxPerUser; over > 0 {
		actions = actions[over:]
	}
	h.users[action.UserID] = actions
}

// ActionsSince returns the user's actions at or after since, oldest first.
// When categories are given, only actions in one of them are returned.
func (h *History) ActionsSince(userID string, since time.Time, categories ...models.ActionCategory) []models.UserAction {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var out []models.UserAction
	for _, a := range h.users[userID] {
		if a.Timestamp.Before(since) {
			continue
		}
		if len(categories) > 0 && !containsCategory(categories, a.Category) {
			continue
		}
		out = append(out, a)
	}
	return out
}

// CountSince counts the user's actions in the given categories at or after
// since.
func (h *History) CountSince(userID string, since time.Time, categories ...models.ActionCategory) int {
	return len(h.ActionsSince(userID, since, categories...))
}

// Last returns the user's most recent action in any of the given
// categories; ok is false when there is none.
func (h *History) Last(userID string, categories ...models.ActionCategory) (models.UserAction, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	actions := h.users[userID]
	for i := len(actions) - 1; i >= 0; i-- {
		if len(categories) == 0 || containsCategory(categories, actions[i].Category) {
			return actions[i], true
		}
	}
	return models.UserAction{}, false
}

// Sweep drops entries older than the configured max age and returns the
// number removed. Users left with no entries are removed from the map.
// A zero max age disables age-based eviction.
func (h *History) Sweep() int {
	if h.maxAge <= 0 {
		return 0
	}
	cutoff := h.now().Add(-h.maxAge)

	h.mu.Lock()
	defer h.mu.Unlock()

	removed := 0
	for userID, actions := range h.users {
		i := 0
		for i < len(actions) && actions[i].Timestamp.Before(cutoff) {
			i++
		}
		if i == 0 {
			continue
		}
		removed += i
		if i == len(actions) {
			delete(h.users, userID)
			continue
		}
		h.users[userID] = append([]models.UserAction(nil), actions[i:]...)
	}
	return removed
}

// Len returns the number of stored actions for the user.
func (h *History) Len(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userID])
}

func containsCategory(categories []models.ActionCategory, c models.ActionCategory) bool {
	for _, want := range categories {
		if want == c {
			return true
		}
	}
	return false
}
