package testutil

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shuleapp/shule/core"
	"github.com/shuleapp/shule/core/chat"
	"github.com/shuleapp/shule/core/directory"
	"github.com/shuleapp/shule/core/realtime"
	"github.com/shuleapp/shule/core/session"
	msgcache "github.com/shuleapp/shule/storage/cache"
)

// pipeConn is an in-process realtime transport: frames pushed into in are
// what the manager reads, writes are recorded.
type pipeConn struct {
	in chan []byte

	mu     sync.Mutex
	closed bool
	wrote  [][]byte
}

func newPipeConn() *pipeConn { return &pipeConn{in: make(chan []byte, 16)} }

func (c *pipeConn) ReadMessage() ([]byte, error) {
	data, ok := <-c.in
	if !ok {
		return nil, io.EOF
	}
	return data, nil
}

func (c *pipeConn) WriteJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.wrote = append(c.wrote, data)
	c.mu.Unlock()
	return nil
}

func (c *pipeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.in)
	}
	return nil
}

func (c *pipeConn) push(t *testing.T, event string, payload interface{}) {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	data, err := json.Marshal(realtime.Envelope{Type: event, Payload: raw})
	require.NoError(t, err)
	c.in <- data
}

func newBackend(t *testing.T, history []directory.HistoryItem) *httptest.Server {
	t.Helper()
	if history == nil {
		history = []directory.HistoryItem{}
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {})
	mux.HandleFunc("/messages/contacts", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"data": []directory.Contact{
			Contact("t1", "Ms. Achieng", "teacher"),
			Contact("t2", "Mr. Otieno", "teacher"),
		}})
	})
	mux.HandleFunc("/messages/history", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"messages": history})
	})
	mux.HandleFunc("/messages/send", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"messageId": "srv-1"})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestConfig(baseURL string) *core.Config {
	conf := &core.Config{}
	conf.API.BaseURL = baseURL
	conf.API.Timeout = 2 * time.Second
	conf.Messaging.TypingExpiry = 3 * time.Second
	conf.Messaging.PendingSendExpiry = 30 * time.Second
	return conf
}

func TestMessengerEndToEnd(t *testing.T) {
	t0 := time.Date(2021, 9, 1, 8, 0, 0, 0, time.UTC)
	srv := newBackend(t, []directory.HistoryItem{
		HistoryItem("head-teacher", "homework is due Friday", t0, true),
	})

	conf := newTestConfig(srv.URL)
	sess := session.NewMemoryProvider(session.Session{
		UserID: "p1", Role: session.RoleParent, Token: "tok",
	})

	conn := newPipeConn()
	mgr := realtime.NewManager(realtime.Options{
		Dial: func(url, userID, role string) (realtime.Conn, error) { return conn, nil },
	})

	cache, err := msgcache.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { cache.Close() })

	m := chat.NewMessenger(conf, nil, mgr, directory.NewClient(conf, sess, nil), cache, sess, nil)
	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(m.Stop)

	// the chat list merges the directory with fetched history; the history
	// counterpart is not a directory contact, so it appears as its own entry
	convs := m.Store().Conversations()
	require.Len(t, convs, 3)
	withHistory, ok := m.Store().Conversation("head-teacher")
	require.True(t, ok)
	assert.Equal(t, "homework is due Friday", withHistory.LastMessageText)

	// sending resolves the optimistic entry against the server ack
	m.SelectConversation("t1")
	tempID, err := m.Send("t1", "thanks, she is on it")
	require.NoError(t, err)
	assert.True(t, chat.IsTempID(tempID))

	Eventually(t, 2*time.Second, func() bool {
		conv, _ := m.Store().Conversation("t1")
		for _, msg := range conv.Messages {
			if msg.ClientMsgID == tempID {
				return msg.ID == "srv-1" && msg.Delivery == chat.DeliverySent
			}
		}
		return false
	}, "send never resolved")

	// a pushed message for the inactive conversation lands there unread and
	// survives into the offline cache
	conn.push(t, realtime.EventMessage, Msg("m9", "t2", "t2", "PTA meeting moved to Monday", t0.Add(time.Hour)))
	Eventually(t, 2*time.Second, func() bool {
		conv, ok := m.Store().Conversation("t2")
		return ok && conv.UnreadCount == 1 && conv.LastMessageText == "PTA meeting moved to Monday"
	}, "pushed message never applied")

	cached, err := cache.RecentByConversation(context.Background(), "t2", 10)
	require.NoError(t, err)
	require.Len(t, cached, 1)
	assert.Equal(t, "m9", cached[0].ID)
}

func TestMessengerTypingOverTheWire(t *testing.T) {
	srv := newBackend(t, nil)
	conf := newTestConfig(srv.URL)
	sess := session.NewMemoryProvider(session.Session{
		UserID: "p1", Role: session.RoleParent, Token: "tok",
	})

	conn := newPipeConn()
	mgr := realtime.NewManager(realtime.Options{
		Dial: func(url, userID, role string) (realtime.Conn, error) { return conn, nil },
	})

	m := chat.NewMessenger(conf, nil, mgr, directory.NewClient(conf, sess, nil), nil, sess, nil)
	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(m.Stop)

	conn.push(t, realtime.EventTyping, realtime.TypingPayload{UserID: "t1"})
	Eventually(t, 2*time.Second, func() bool {
		return len(m.Typing("t1")) == 1
	}, "typing signal never applied")

	// the outgoing ping goes through the transport
	Eventually(t, 2*time.Second, func() bool { return mgr.Connected() }, "never connected")
	m.NotifyTyping("t1")
	conn.mu.Lock()
	defer conn.mu.Unlock()
	require.NotEmpty(t, conn.wrote)
	var env realtime.Envelope
	require.NoError(t, json.Unmarshal(conn.wrote[len(conn.wrote)-1], &env))
	assert.Equal(t, realtime.EventTyping, env.Type)
}
