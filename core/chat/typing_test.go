package chat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTypingExpires(t *testing.T) {
	tracker := NewTypingTracker(30 * time.Millisecond)
	defer tracker.Stop()

	tracker.MarkTyping("c1", "u1")
	assert.True(t, tracker.IsTyping("c1"))

	time.Sleep(60 * time.Millisecond)
	assert.False(t, tracker.IsTyping("c1"))
}

func TestTypingRenewsOnRepeatedSignals(t *testing.T) {
	tracker := NewTypingTracker(50 * time.Millisecond)
	defer tracker.Stop()

	tracker.MarkTyping("c1", "u1")
	time.Sleep(30 * time.Millisecond)
	tracker.MarkTyping("c1", "u1") // renews, does not stack
	time.Sleep(30 * time.Millisecond)

	// past the first deadline but within the renewed one
	assert.True(t, tracker.IsTyping("c1"))

	time.Sleep(60 * time.Millisecond)
	assert.False(t, tracker.IsTyping("c1"))
}

func TestTypingTracksUsersPerConversation(t *testing.T) {
	tracker := NewTypingTracker(time.Minute)
	defer tracker.Stop()

	tracker.MarkTyping("c1", "u2")
	tracker.MarkTyping("c1", "u1")
	tracker.MarkTyping("c2", "u3")

	assert.Equal(t, []string{"u1", "u2"}, tracker.Typing("c1"))
	assert.Equal(t, []string{"u3"}, tracker.Typing("c2"))
	assert.Empty(t, tracker.Typing("c3"))
}

func TestClearTyping(t *testing.T) {
	tracker := NewTypingTracker(time.Minute)
	defer tracker.Stop()

	tracker.MarkTyping("c1", "u1")
	tracker.ClearTyping("c1", "u1")
	assert.False(t, tracker.IsTyping("c1"))

	// clearing an absent user is a no-op
	tracker.ClearTyping("c1", "u9")
	tracker.ClearTyping("c9", "u1")
}
