package chat

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shuleapp/shule/core/directory"
)

// PlaceholderSummary is the chat-list preview for a contact with no messages.
const PlaceholderSummary = "Click to start a conversation"

// ConversationStore is the single writer of conversation and message state.
// Every other component reads snapshots or dispatches intents; all mutation
// happens behind the store's mutex.
type ConversationStore struct {
	mu       sync.Mutex
	order    []string // conversation display order
	convs    map[string]*Conversation
	activeID string
	selfID   string
	now      func() time.Time

	// onNotify fires (outside the lock) for messages applied to an inactive
	// conversation; wired to services/notify.
	onNotify func(Conversation, Message)
}

func NewConversationStore(onNotify func(Conversation, Message)) *ConversationStore {
	return &ConversationStore{
		convs:    make(map[string]*Conversation),
		now:      time.Now,
		onNotify: onNotify,
	}
}

// SetSelf records the current user's id, used as SenderID of optimistic sends.
func (s *ConversationStore) SetSelf(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selfID = userID
}

// LoadInitial builds the chat list from the contact directory and the fetched
// message history. Contacts become zero-message placeholder conversations;
// history items are grouped by counterpart. Duplicates (by conversation id)
// keep the first occurrence in contact-then-history order, i.e. a directory
// placeholder wins over a history-derived entry for the same person. That
// precedence is a compatibility decision, not an accident. The resulting list
// is sorted by last activity, newest first.
func (s *ConversationStore) LoadInitial(contacts []directory.Contact, history []directory.HistoryItem) {
	merged := make([]*Conversation, 0, len(contacts)+len(history))

	for _, c := range contacts {
		merged = append(merged, &Conversation{
			ID:              c.ID,
			DisplayName:     c.Name,
			CounterpartRole: c.Role,
			LastMessageText: PlaceholderSummary,
		})
	}
	merged = append(merged, historyConversations(history)...)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.order = s.order[:0]
	s.convs = make(map[string]*Conversation, len(merged))
	for _, conv := range merged {
		if _, dup := s.convs[conv.ID]; dup {
			continue // first occurrence wins
		}
		s.convs[conv.ID] = conv
		s.order = append(s.order, conv.ID)
	}

	sort.SliceStable(s.order, func(i, j int) bool {
		return s.convs[s.order[i]].LastMessageAt.After(s.convs[s.order[j]].LastMessageAt)
	})
}

// historyConversations groups history items by counterpart, oldest first
// within each conversation.
func historyConversations(history []directory.HistoryItem) []*Conversation {
	byFrom := make(map[string]*Conversation)
	var order []string

	sorted := make([]directory.HistoryItem, len(history))
	copy(sorted, history)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Date.Before(sorted[j].Date) })

	for _, item := range sorted {
		conv, ok := byFrom[item.From]
		if !ok {
			conv = &Conversation{ID: item.From, DisplayName: item.From}
			byFrom[item.From] = conv
			order = append(order, item.From)
		}
		delivery := DeliveryDelivered
		if item.Read {
			delivery = DeliveryRead
		}
		conv.Messages = append(conv.Messages, Message{
			ID:             fmt.Sprintf("hist-%s-%d", item.From, item.Date.UnixNano()),
			ConversationID: conv.ID,
			SenderID:       item.From,
			Body:           item.Body,
			CreatedAt:      item.Date,
			Delivery:       delivery,
		})
		conv.LastMessageText = item.Body
		conv.LastMessageAt = item.Date
		if !item.Read {
			conv.UnreadCount++
		}
	}

	out := make([]*Conversation, 0, len(order))
	for _, id := range order {
		out = append(out, byFrom[id])
	}
	return out
}

// ApplyIncoming reconciles a pushed message into its conversation. Duplicate
// ids collapse to one entry; an echo carrying the client correlation id of a
// pending optimistic send replaces that entry instead of duplicating it.
// Messages land in the active conversation already read; anywhere else they
// bump the unread count and fire the notification hook. The conversation's
// preview fields are refreshed either way.
func (s *ConversationStore) ApplyIncoming(msg Message) {
	var notifyConv Conversation
	var notify bool

	s.mu.Lock()
	conv := s.ensure(msg.ConversationID, msg.SenderID)

	switch {
	case msg.ClientMsgID != "" && s.reconcile(conv, msg):
		// optimistic entry replaced in place
	case s.hasMessage(conv, msg.ID):
		// duplicate push, keep the stored entry
	default:
		if msg.Delivery == "" {
			msg.Delivery = DeliveryDelivered
		}
		if conv.ID == s.activeID {
			msg.Delivery = DeliveryRead
		} else if msg.SenderID != s.selfID {
			conv.UnreadCount++
			notifyConv, notify = *conv, s.onNotify != nil
		}
		insertByCreatedAt(conv, msg)
	}

	conv.LastMessageText = msg.Body
	conv.LastMessageAt = msg.CreatedAt
	s.mu.Unlock()

	if notify {
		s.onNotify(notifyConv, msg)
	}
}

// SendOptimistic appends a pending message with a temporary id and returns
// that id immediately so the view renders before any network round-trip.
func (s *ConversationStore) SendOptimistic(conversationID, body string) string {
	tempID := TempIDPrefix + uuid.New().String()

	s.mu.Lock()
	conv := s.ensure(conversationID, conversationID)
	msg := Message{
		ID:             tempID,
		ConversationID: conversationID,
		SenderID:       s.selfID,
		Body:           body,
		CreatedAt:      s.now().UTC(),
		Delivery:       DeliverySending,
		ClientMsgID:    tempID,
	}
	conv.Messages = append(conv.Messages, msg)
	conv.LastMessageText = body
	conv.LastMessageAt = msg.CreatedAt
	s.mu.Unlock()

	return tempID
}

// SendOutcome reports how a send concluded.
type SendOutcome struct {
	MessageID string // server-assigned id; may be empty on success
	Err       error
}

// ResolveSend transitions the optimistic entry for tempID to sent (adopting
// the server id) or failed. If the server echo already arrived over the wire,
// the temp entry is dropped in favor of the stored one, so exactly one
// message remains either way. Unknown temp ids are a no-op.
func (s *ConversationStore) ResolveSend(tempID string, outcome SendOutcome) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, idx := s.findMessage(tempID)
	if conv == nil {
		return
	}
	if outcome.Err != nil {
		conv.Messages[idx].Delivery = DeliveryFailed
		return
	}
	if outcome.MessageID != "" && outcome.MessageID != tempID {
		if s.hasMessage(conv, outcome.MessageID) {
			conv.Messages = append(conv.Messages[:idx], conv.Messages[idx+1:]...)
			return
		}
		conv.Messages[idx].ID = outcome.MessageID
	}
	conv.Messages[idx].Delivery = DeliverySent
}

// SelectConversation makes id the active conversation and clears its unread
// count. Selecting an unknown id creates the conversation (a contact opened
// for the first time).
func (s *ConversationStore) SelectConversation(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv := s.ensure(id, id)
	s.activeID = id
	conv.UnreadCount = 0
}

// FailStalePending fails optimistic entries that never got a send outcome
// within maxAge and returns how many were failed.
func (s *ConversationStore) FailStalePending(maxAge time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().UTC().Add(-maxAge)
	var n int
	for _, conv := range s.convs {
		for i := range conv.Messages {
			m := &conv.Messages[i]
			if m.Pending() && m.CreatedAt.Before(cutoff) {
				m.Delivery = DeliveryFailed
				n++
			}
		}
	}
	return n
}

// ActiveID returns the currently selected conversation id ("" when none).
func (s *ConversationStore) ActiveID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeID
}

// Conversation returns a snapshot of one conversation.
func (s *ConversationStore) Conversation(id string) (Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.convs[id]
	if !ok {
		return Conversation{}, false
	}
	return cloneConversation(conv), true
}

// Conversations returns a snapshot of the chat list in display order.
func (s *ConversationStore) Conversations() []Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Conversation, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, cloneConversation(s.convs[id]))
	}
	return out
}

// TotalUnread sums unread counts across all conversations.
func (s *ConversationStore) TotalUnread() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int
	for _, conv := range s.convs {
		n += conv.UnreadCount
	}
	return n
}

// locked helpers

func (s *ConversationStore) ensure(id, displayName string) *Conversation {
	if conv, ok := s.convs[id]; ok {
		return conv
	}
	conv := &Conversation{ID: id, DisplayName: displayName}
	s.convs[id] = conv
	s.order = append(s.order, id)
	return conv
}

func (s *ConversationStore) hasMessage(conv *Conversation, id string) bool {
	for i := range conv.Messages {
		if conv.Messages[i].ID == id {
			return true
		}
	}
	return false
}

func (s *ConversationStore) findMessage(id string) (*Conversation, int) {
	for _, conv := range s.convs {
		for i := range conv.Messages {
			if conv.Messages[i].ID == id {
				return conv, i
			}
		}
	}
	return nil, -1
}

// reconcile replaces the pending entry matching msg.ClientMsgID, keeping the
// server's id and timestamp. Reports whether a replacement happened.
func (s *ConversationStore) reconcile(conv *Conversation, msg Message) bool {
	for i := range conv.Messages {
		m := &conv.Messages[i]
		if m.ClientMsgID == msg.ClientMsgID && m.Pending() {
			m.ID = msg.ID
			m.CreatedAt = msg.CreatedAt
			m.Delivery = DeliverySent
			return true
		}
	}
	return false
}

// insertByCreatedAt keeps the message sequence in non-decreasing CreatedAt
// order even when the transport delivers out of order. (The web client only
// appended; sorting on insert is a deliberate strengthening.)
func insertByCreatedAt(conv *Conversation, msg Message) {
	i := sort.Search(len(conv.Messages), func(i int) bool {
		return conv.Messages[i].CreatedAt.After(msg.CreatedAt)
	})
	conv.Messages = append(conv.Messages, Message{})
	copy(conv.Messages[i+1:], conv.Messages[i:])
	conv.Messages[i] = msg
}

func cloneConversation(conv *Conversation) Conversation {
	out := *conv
	out.Messages = make([]Message, len(conv.Messages))
	copy(out.Messages, conv.Messages)
	return out
}
