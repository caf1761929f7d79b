package chat

import (
	"context"
	"encoding/json"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/shuleapp/shule/core"
	"github.com/shuleapp/shule/core/directory"
	"github.com/shuleapp/shule/core/realtime"
	"github.com/shuleapp/shule/core/session"
)

type (
	// Connection is what the messenger needs from the realtime layer;
	// satisfied by *realtime.Manager.
	Connection interface {
		Connect(userID, role string)
		Disconnect()
		Subscribe(event string, h realtime.Handler) (unsubscribe func())
		Send(v interface{}) bool
		SendTyping(conversationID string)
		State() realtime.State
	}

	// DirectoryService is the REST collaborator; satisfied by *directory.Client.
	DirectoryService interface {
		Contacts(ctx context.Context) ([]directory.Contact, error)
		History(ctx context.Context) ([]directory.HistoryItem, error)
		SendMessage(ctx context.Context, req directory.SendRequest) (string, error)
	}

	// MessageCache is the optional local store backing offline history;
	// satisfied by *msgcache.Cache.
	MessageCache interface {
		SaveMessage(ctx context.Context, msg Message) error
		Recent(ctx context.Context, limit int) ([]Message, error)
	}

	// Notifier surfaces messages that arrive for an inactive conversation.
	Notifier interface {
		NotifyMessage(conv Conversation, msg Message)
	}

	// Messenger glues the conversation store, typing tracker, realtime
	// connection, directory and cache into the single service the messaging
	// view talks to.
	Messenger struct {
		conf       *core.Config
		log        core.Logger
		validate   *validator.Validate
		translator ut.Translator

		store  *ConversationStore
		typing *TypingTracker
		conn   Connection
		dir    DirectoryService
		cache  MessageCache // may be nil
		sess   session.Provider

		self    session.Session
		unsubs  []func()
		stopped chan struct{}
	}
)

const cacheRecentLimit = 200

func NewMessenger(
	conf *core.Config,
	log core.Logger,
	conn Connection,
	dir DirectoryService,
	cache MessageCache,
	sess session.Provider,
	notifier Notifier,
) *Messenger {
	if log == nil {
		log = core.NopLogger{}
	}
	validate, translator := core.NewValidator()
	var hook func(Conversation, Message)
	if notifier != nil {
		hook = notifier.NotifyMessage
	}
	return &Messenger{
		conf:       conf,
		log:        log,
		validate:   validate,
		translator: translator,
		store:      NewConversationStore(hook),
		typing:     NewTypingTracker(conf.Messaging.TypingExpiry),
		conn:       conn,
		dir:        dir,
		cache:      cache,
		sess:       sess,
		stopped:    make(chan struct{}),
	}
}

// Store exposes the conversation state for the view to read.
func (m *Messenger) Store() *ConversationStore { return m.store }

// Typing returns the user ids currently typing in the conversation.
func (m *Messenger) Typing(conversationID string) []string {
	return m.typing.Typing(conversationID)
}

// ConnectionState is the derived (optimistic) state the view renders.
func (m *Messenger) ConnectionState() realtime.State { return m.conn.State() }

// Start connects the realtime channel, subscribes to pushed events and loads
// the initial chat list. Directory failures degrade (fallback contacts,
// cached history) rather than failing Start; only a missing session is fatal.
func (m *Messenger) Start(ctx context.Context) error {
	sess, err := m.sess.Get()
	if err != nil {
		return errors.Wrap(err, "reading session")
	}
	m.self = sess
	m.store.SetSelf(sess.UserID)

	m.unsubs = append(m.unsubs,
		m.conn.Subscribe(realtime.EventMessage, m.handleMessage),
		m.conn.Subscribe(realtime.EventTyping, m.handleTyping),
		m.conn.Subscribe(realtime.EventDisconnect, func([]byte) {
			m.log.Warn("messenger: realtime channel lost")
		}),
	)

	m.conn.Connect(sess.UserID, sess.EffectiveRole())
	m.loadInitial(ctx)

	go m.sweepPending()
	return nil
}

// Stop unsubscribes, stops timers and tears down the connection.
func (m *Messenger) Stop() {
	select {
	case <-m.stopped:
	default:
		close(m.stopped)
	}
	for _, unsub := range m.unsubs {
		unsub()
	}
	m.unsubs = nil
	m.typing.Stop()
	m.conn.Disconnect()
}

// Retry is the manual "retry" affordance on the connection banner.
func (m *Messenger) Retry() {
	m.conn.Disconnect()
	m.conn.Connect(m.self.UserID, m.self.EffectiveRole())
}

// Send validates and optimistically appends the message, then completes the
// send in the background. The returned temp id is renderable immediately;
// the entry transitions to sent or failed once the REST call concludes.
// A conversation switch does not cancel the in-flight send.
func (m *Messenger) Send(conversationID, body string) (string, error) {
	nm := NewMessage{To: conversationID, Body: body}
	if err := nm.Validate(m.validate, m.translator); err != nil {
		return "", err
	}

	tempID := m.store.SendOptimistic(conversationID, nm.Body)

	// best-effort realtime push so the counterpart sees it without polling
	if conv, ok := m.store.Conversation(conversationID); ok {
		for i := range conv.Messages {
			if conv.Messages[i].ID == tempID {
				if payload, err := json.Marshal(conv.Messages[i]); err == nil {
					m.conn.Send(realtime.Envelope{Type: realtime.EventMessage, Payload: payload})
				}
				break
			}
		}
	}

	go m.completeSend(nm, tempID, conversationID)
	return tempID, nil
}

// SelectConversation switches the active conversation, clearing its unread
// count.
func (m *Messenger) SelectConversation(id string) { m.store.SelectConversation(id) }

// NotifyTyping pings the counterpart that the local user is typing.
func (m *Messenger) NotifyTyping(conversationID string) { m.conn.SendTyping(conversationID) }

func (m *Messenger) loadInitial(ctx context.Context) {
	contacts, err := m.dir.Contacts(ctx)
	if err != nil || len(contacts) == 0 {
		if err != nil {
			m.log.Warn("messenger: contacts fetch failed, using fallback directory", err)
		}
		contacts = directory.FallbackContacts()
	}

	history, err := m.dir.History(ctx)
	if err != nil {
		m.log.Warn("messenger: history fetch failed", err)
		history = m.cachedHistory(ctx)
	}

	m.store.LoadInitial(contacts, history)
}

// cachedHistory rebuilds history items from the local cache when the REST
// history endpoint is unreachable.
func (m *Messenger) cachedHistory(ctx context.Context) []directory.HistoryItem {
	if m.cache == nil {
		return nil
	}
	msgs, err := m.cache.Recent(ctx, cacheRecentLimit)
	if err != nil {
		m.log.Warn("messenger: cache read failed", err)
		return nil
	}
	items := make([]directory.HistoryItem, 0, len(msgs))
	for _, msg := range msgs {
		items = append(items, directory.HistoryItem{
			From: msg.ConversationID,
			Body: msg.Body,
			Date: msg.CreatedAt,
			Read: msg.Delivery == DeliveryRead,
		})
	}
	return items
}

func (m *Messenger) completeSend(nm NewMessage, tempID, conversationID string) {
	// detached from the caller: a view navigation must not cancel the send
	ctx, cancel := context.WithTimeout(context.Background(), m.conf.API.Timeout)
	defer cancel()

	id, err := m.dir.SendMessage(ctx, directory.SendRequest{
		To:          nm.To,
		Body:        nm.Body,
		Subject:     nm.Subject,
		From:        m.self.UserID,
		Timestamp:   time.Now().UTC(),
		ClientMsgID: tempID,
	})
	m.store.ResolveSend(tempID, SendOutcome{MessageID: id, Err: err})
	if err != nil {
		m.log.Warn("messenger: send failed", err)
		return
	}

	if conv, ok := m.store.Conversation(conversationID); ok {
		for i := range conv.Messages {
			if conv.Messages[i].ClientMsgID == tempID {
				m.saveToCache(ctx, conv.Messages[i])
				break
			}
		}
	}
}

func (m *Messenger) handleMessage(payload []byte) {
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		m.log.Debug("messenger: dropping malformed message payload", err)
		return
	}
	if msg.ID == "" || msg.ConversationID == "" {
		return
	}
	if msg.Delivery == "" {
		// normalize before caching too, or offline reloads would resurrect
		// these rows as unread
		msg.Delivery = DeliveryDelivered
	}
	m.typing.ClearTyping(msg.ConversationID, msg.SenderID)
	m.store.ApplyIncoming(msg)
	m.saveToCache(context.Background(), msg)
}

func (m *Messenger) handleTyping(payload []byte) {
	var p realtime.TypingPayload
	if err := json.Unmarshal(payload, &p); err != nil || p.UserID == "" {
		return
	}
	convID := p.ConversationID
	if convID == "" {
		// direct chats: the conversation is keyed by the counterpart
		convID = p.UserID
	}
	m.typing.MarkTyping(convID, p.UserID)
}

func (m *Messenger) saveToCache(ctx context.Context, msg Message) {
	if m.cache == nil {
		return
	}
	if err := m.cache.SaveMessage(ctx, msg); err != nil {
		m.log.Debug("messenger: cache write failed", err)
	}
}

// sweepPending periodically fails optimistic sends that never resolved.
func (m *Messenger) sweepPending() {
	maxAge := m.conf.Messaging.PendingSendExpiry
	if maxAge <= 0 {
		return
	}
	// tick at half the expiry so a stale entry is failed soon after it ages
	// out instead of surviving up to a whole extra period
	tick := maxAge / 2
	if tick <= 0 {
		tick = maxAge
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopped:
			return
		case <-ticker.C:
			if n := m.store.FailStalePending(maxAge); n > 0 {
				m.log.Warn("messenger: failed stale pending sends", map[string]interface{}{"count": n})
			}
		}
	}
}
