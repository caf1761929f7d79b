package testutil

import (
	"testing"
	"time"

	"github.com/shuleapp/shule/core/chat"
	"github.com/shuleapp/shule/core/directory"
)

// Msg builds a delivered message fixture.
func Msg(id, convID, senderID, body string, at time.Time) chat.Message {
	return chat.Message{
		ID:             id,
		ConversationID: convID,
		SenderID:       senderID,
		Body:           body,
		CreatedAt:      at.UTC(),
		Delivery:       chat.DeliveryDelivered,
	}
}

// Contact builds a directory contact fixture.
func Contact(id, name, role string) directory.Contact {
	return directory.Contact{ID: id, Name: name, Role: role, Email: id + "@school.local"}
}

// HistoryItem builds a history fixture.
func HistoryItem(from, body string, at time.Time, read bool) directory.HistoryItem {
	return directory.HistoryItem{From: from, Body: body, Date: at.UTC(), Read: read}
}

// Eventually polls cond every tick until it holds or the deadline passes.
func Eventually(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition never held: %s", msg)
}
