package hub

import "sync"

// TypingTracker holds the ephemeral per-conversation set of users who
// are currently typing. Entries live only in memory: they are cleared
// on explicit stop or when the user's connection goes away.
type TypingTracker struct {
	mu   sync.Mutex
	sets map[string]map[string]struct{} // conversation id -> user ids
}

// NewTypingTracker creates an empty tracker.
func NewTypingTracker() *TypingTracker {
	return &TypingTracker{sets: make(map[string]map[string]struct{})}
}

// Start marks the user as typing in the conversation. It reports
// whether the state changed (false when the user was already typing).
func (t *TypingTracker) Start(conversationID, userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	set, ok := t.sets[conversationID]
	if !ok {
		set = make(map[string]struct{})
		t.sets[conversationID] = set
	}
	if _, ok := set[userID]; ok {
		return false
	}
	set[userID] = struct{}{}
	return true
}

// Stop removes the user from the conversation's typing set. Removing a
// user who is not typing is a no-op and reports false.
func (t *TypingTracker) Stop(conversationID, userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopLocked(conversationID, userID)
}

func (t *TypingTracker) stopLocked(conversationID, userID string) bool {
	set, ok := t.sets[conversationID]
	if !ok {
		return false
	}
	if _, ok := set[userID]; !ok {
		return false
	}
	delete(set, userID)
	if len(set) == 0 {
		delete(t.sets, conversationID)
	}
	return true
}

// Disconnect clears the user from every conversation's typing set and
// returns the affected conversation ids, each exactly once. The caller
// emits one stop event per returned conversation.
func (t *TypingTracker) Disconnect(userID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var affected []string
	for conversationID := range t.sets {
		if t.stopLocked(conversationID, userID) {
			affected = append(affected, conversationID)
		}
	}
	return affected
}

// Typing returns a snapshot of the user ids typing in a conversation.
func (t *TypingTracker) Typing(conversationID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]string, 0, len(t.sets[conversationID]))
	for userID := range t.sets[conversationID] {
		out = append(out, userID)
	}
	return out
}
