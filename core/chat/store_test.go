package chat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/shuleapp/shule/core/directory"
)

var t0 = time.Date(2024, time.March, 4, 9, 0, 0, 0, time.UTC)

func msg(id, convID, senderID, body string, at time.Time) Message {
	return Message{
		ID:             id,
		ConversationID: convID,
		SenderID:       senderID,
		Body:           body,
		CreatedAt:      at,
		Delivery:       DeliveryDelivered,
	}
}

func TestLoadInitialMergesContactsAndHistory(t *testing.T) {
	store := NewConversationStore(nil)

	contacts := []directory.Contact{
		{ID: "teacher-amina", Name: "Amina Yusuf", Role: "teacher"},
		{ID: "school-office", Name: "School Office", Role: "admin"},
	}
	history := []directory.HistoryItem{
		{From: "teacher-amina", Body: "Homework is due Friday", Date: t0, Read: true},
		{From: "parent-john", Body: "Thanks for the update", Date: t0.Add(time.Hour), Read: false},
	}

	store.LoadInitial(contacts, history)
	convs := store.Conversations()
	assert.Len(t, convs, 3)

	// history-derived conversation has activity, so it sorts first
	assert.Equal(t, "parent-john", convs[0].ID)
	assert.Equal(t, 1, convs[0].UnreadCount)
	assert.Len(t, convs[0].Messages, 1)

	// the directory placeholder wins over the history entry with the same id
	amina, ok := store.Conversation("teacher-amina")
	assert.True(t, ok)
	assert.Equal(t, "Amina Yusuf", amina.DisplayName)
	assert.Equal(t, PlaceholderSummary, amina.LastMessageText)
	assert.Empty(t, amina.Messages)

	office, ok := store.Conversation("school-office")
	assert.True(t, ok)
	assert.Equal(t, PlaceholderSummary, office.LastMessageText)
}

func TestLoadInitialSortsHistoryWithinConversation(t *testing.T) {
	store := NewConversationStore(nil)

	history := []directory.HistoryItem{
		{From: "c1", Body: "second", Date: t0.Add(time.Minute)},
		{From: "c1", Body: "first", Date: t0},
	}
	store.LoadInitial(nil, history)

	conv, ok := store.Conversation("c1")
	assert.True(t, ok)
	assert.Len(t, conv.Messages, 2)
	assert.Equal(t, "first", conv.Messages[0].Body)
	assert.Equal(t, "second", conv.Messages[1].Body)
	assert.Equal(t, "second", conv.LastMessageText)
}

func TestApplyIncomingDeduplicatesByID(t *testing.T) {
	store := NewConversationStore(nil)

	store.ApplyIncoming(msg("m1", "c1", "c1", "hello", t0))
	store.ApplyIncoming(msg("m1", "c1", "c1", "hello", t0))

	conv, ok := store.Conversation("c1")
	assert.True(t, ok)
	assert.Len(t, conv.Messages, 1)
}

func TestApplyIncomingKeepsCreatedAtOrder(t *testing.T) {
	store := NewConversationStore(nil)

	store.ApplyIncoming(msg("m2", "c1", "c1", "second", t0.Add(time.Minute)))
	store.ApplyIncoming(msg("m1", "c1", "c1", "first", t0))

	conv, _ := store.Conversation("c1")
	assert.Equal(t, []string{"m1", "m2"}, []string{conv.Messages[0].ID, conv.Messages[1].ID})
}

func TestApplyIncomingUnreadAccounting(t *testing.T) {
	store := NewConversationStore(nil)
	store.SelectConversation("c1")

	// active conversation: applied read, no unread bump
	store.ApplyIncoming(msg("m1", "c1", "c1", "hi", t0))
	conv, _ := store.Conversation("c1")
	assert.Equal(t, 0, conv.UnreadCount)
	assert.Equal(t, DeliveryRead, conv.Messages[0].Delivery)

	// inactive conversation: one bump per message
	store.ApplyIncoming(msg("m2", "c2", "c2", "hey", t0))
	store.ApplyIncoming(msg("m3", "c2", "c2", "there", t0.Add(time.Second)))
	conv, _ = store.Conversation("c2")
	assert.Equal(t, 2, conv.UnreadCount)
	assert.Equal(t, "there", conv.LastMessageText)

	// selecting resets and never goes negative
	store.SelectConversation("c2")
	conv, _ = store.Conversation("c2")
	assert.Equal(t, 0, conv.UnreadCount)
	store.SelectConversation("c2")
	conv, _ = store.Conversation("c2")
	assert.Equal(t, 0, conv.UnreadCount)
}

func TestApplyIncomingFiresNotifyForInactiveOnly(t *testing.T) {
	var notified []string
	store := NewConversationStore(func(conv Conversation, m Message) {
		notified = append(notified, m.ID)
	})
	store.SelectConversation("c1")

	store.ApplyIncoming(msg("m1", "c1", "c1", "active", t0))
	store.ApplyIncoming(msg("m2", "c2", "c2", "inactive", t0))

	assert.Equal(t, []string{"m2"}, notified)
}

func TestSendOptimisticIsImmediatelyVisible(t *testing.T) {
	store := NewConversationStore(nil)
	store.SetSelf("me")

	tempID := store.SendOptimistic("c1", "hello")
	assert.True(t, IsTempID(tempID))

	conv, ok := store.Conversation("c1")
	assert.True(t, ok)
	assert.Len(t, conv.Messages, 1)
	assert.Equal(t, DeliverySending, conv.Messages[0].Delivery)
	assert.Equal(t, "me", conv.Messages[0].SenderID)
	assert.Equal(t, "hello", conv.LastMessageText)
}

func TestResolveSendReplacesTempID(t *testing.T) {
	store := NewConversationStore(nil)
	store.SetSelf("me")

	tempID := store.SendOptimistic("c1", "hello")
	store.ResolveSend(tempID, SendOutcome{MessageID: "srv-1"})

	conv, _ := store.Conversation("c1")
	assert.Len(t, conv.Messages, 1)
	assert.Equal(t, "srv-1", conv.Messages[0].ID)
	assert.Equal(t, DeliverySent, conv.Messages[0].Delivery)
	for _, m := range conv.Messages {
		assert.False(t, IsTempID(m.ID))
	}
}

func TestResolveSendFailure(t *testing.T) {
	store := NewConversationStore(nil)

	tempID := store.SendOptimistic("c1", "hello")
	store.ResolveSend(tempID, SendOutcome{Err: assert.AnError})

	conv, _ := store.Conversation("c1")
	assert.Equal(t, DeliveryFailed, conv.Messages[0].Delivery)
	assert.Equal(t, tempID, conv.Messages[0].ID)
}

func TestWireEchoReconcilesPendingSend(t *testing.T) {
	store := NewConversationStore(nil)
	store.SetSelf("me")

	tempID := store.SendOptimistic("c1", "hello")

	echo := msg("srv-1", "c1", "me", "hello", t0)
	echo.ClientMsgID = tempID
	store.ApplyIncoming(echo)

	conv, _ := store.Conversation("c1")
	assert.Len(t, conv.Messages, 1)
	assert.Equal(t, "srv-1", conv.Messages[0].ID)

	// the late REST outcome is then a no-op
	store.ResolveSend(tempID, SendOutcome{MessageID: "srv-1"})
	conv, _ = store.Conversation("c1")
	assert.Len(t, conv.Messages, 1)
}

func TestResolveSendDropsTempWhenEchoArrivedFirst(t *testing.T) {
	store := NewConversationStore(nil)
	store.SetSelf("me")

	tempID := store.SendOptimistic("c1", "hello")
	// echo arrives without a correlation id, so it lands as a new entry
	store.ApplyIncoming(msg("srv-1", "c1", "me", "hello", t0))

	store.ResolveSend(tempID, SendOutcome{MessageID: "srv-1"})

	conv, _ := store.Conversation("c1")
	assert.Len(t, conv.Messages, 1)
	assert.Equal(t, "srv-1", conv.Messages[0].ID)
}

func TestFailStalePending(t *testing.T) {
	store := NewConversationStore(nil)
	store.now = func() time.Time { return t0 }
	tempID := store.SendOptimistic("c1", "stuck")

	store.now = func() time.Time { return t0.Add(time.Minute) }
	assert.Equal(t, 1, store.FailStalePending(30*time.Second))

	conv, _ := store.Conversation("c1")
	assert.Equal(t, DeliveryFailed, conv.Messages[0].Delivery)
	assert.Equal(t, tempID, conv.Messages[0].ID)

	// already failed entries are not counted again
	assert.Equal(t, 0, store.FailStalePending(30*time.Second))
}

func TestOwnEchoDoesNotBumpUnread(t *testing.T) {
	store := NewConversationStore(nil)
	store.SetSelf("me")
	store.SelectConversation("c1")

	// echo of our own send lands in an inactive conversation
	store.SelectConversation("c2")
	store.ApplyIncoming(msg("srv-1", "c1", "me", "hello", t0))

	conv, _ := store.Conversation("c1")
	assert.Equal(t, 0, conv.UnreadCount)
}

func TestTotalUnread(t *testing.T) {
	store := NewConversationStore(nil)
	store.ApplyIncoming(msg("m1", "c1", "c1", "a", t0))
	store.ApplyIncoming(msg("m2", "c2", "c2", "b", t0))
	assert.Equal(t, 2, store.TotalUnread())
}
