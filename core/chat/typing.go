package chat

import (
	"sort"
	"sync"
	"time"
)

// TypingTracker holds the ephemeral set of users currently typing per
// conversation. Entries expire after a fixed delay; a repeated signal renews
// the timer, so a continuously typing user stays visible. Display-only,
// best-effort: a lost stop signal at worst leaves a stale indicator for one
// expiry window.
type TypingTracker struct {
	mu     sync.Mutex
	expiry time.Duration
	timers map[string]map[string]*time.Timer // conversationID -> userID -> expiry timer
}

func NewTypingTracker(expiry time.Duration) *TypingTracker {
	return &TypingTracker{
		expiry: expiry,
		timers: make(map[string]map[string]*time.Timer),
	}
}

// MarkTyping records userID as typing in the conversation and (re)schedules
// its expiry.
func (t *TypingTracker) MarkTyping(conversationID, userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	conv := t.timers[conversationID]
	if conv == nil {
		conv = make(map[string]*time.Timer)
		t.timers[conversationID] = conv
	}
	if timer, ok := conv[userID]; ok {
		timer.Reset(t.expiry)
		return
	}
	conv[userID] = time.AfterFunc(t.expiry, func() {
		t.clear(conversationID, userID)
	})
}

// ClearTyping removes userID immediately (e.g. their message just arrived).
func (t *TypingTracker) ClearTyping(conversationID, userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if timer, ok := t.timers[conversationID][userID]; ok {
		timer.Stop()
	}
	t.remove(conversationID, userID)
}

// IsTyping reports whether anyone is typing in the conversation.
func (t *TypingTracker) IsTyping(conversationID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.timers[conversationID]) > 0
}

// Typing returns the sorted user ids currently typing in the conversation.
func (t *TypingTracker) Typing(conversationID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]string, 0, len(t.timers[conversationID]))
	for id := range t.timers[conversationID] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Stop cancels all pending expiries.
func (t *TypingTracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for convID, users := range t.timers {
		for _, timer := range users {
			timer.Stop()
		}
		delete(t.timers, convID)
	}
}

func (t *TypingTracker) clear(conversationID, userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.remove(conversationID, userID)
}

func (t *TypingTracker) remove(conversationID, userID string) {
	conv := t.timers[conversationID]
	if conv == nil {
		return
	}
	delete(conv, userID)
	if len(conv) == 0 {
		delete(t.timers, conversationID)
	}
}
