package realtime

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/shuleapp/shule/core"
)

type (
	Options struct {
		// URL of the websocket endpoint.
		URL string
		// Dial defaults to WebsocketDialer.
		Dial Dialer
		// Health is the lightweight REST probe consulted after an unexpected
		// disconnect; nil disables the probe.
		Health func() bool
		// AssumeConnectedAfter / HealthProbeAfter degrade the reported state
		// towards optimism; see Manager.
		AssumeConnectedAfter time.Duration
		HealthProbeAfter     time.Duration
		Logger               core.Logger
	}

	// Manager owns the single realtime connection and fans events out to
	// subscribers.
	//
	// The state it reports via State is deliberately more optimistic than the
	// raw transport state: school networks routinely block websockets while
	// REST still works, so a connect that produced no connect event within
	// AssumeConnectedAfter is reported as connected anyway, and an unexpected
	// disconnect is re-reported as connected if the REST health probe (run
	// HealthProbeAfter later) succeeds. RawState exposes the transport truth.
	// Both fallbacks fire once per connection attempt; there is no retry loop.
	Manager struct {
		mu   sync.Mutex
		opts Options
		log  core.Logger

		conn    Conn
		raw     State
		derived State
		userID  string
		role    string
		gen     int // bumped on every Connect/Disconnect; guards stale loops and timers

		subMu   sync.Mutex
		subs    map[string]map[int]Handler
		nextSub int
	}
)

func NewManager(opts Options) *Manager {
	if opts.Dial == nil {
		opts.Dial = WebsocketDialer
	}
	log := opts.Logger
	if log == nil {
		log = core.NopLogger{}
	}
	return &Manager{
		opts:    opts,
		log:     log,
		raw:     StateDisconnected,
		derived: StateDisconnected,
		subs:    make(map[string]map[int]Handler),
	}
}

// Connect establishes the realtime transport for the given identity. It is
// idempotent while already connected (or connecting) for the same identity.
// Failures never surface as errors; they show up as the disconnect event and
// a disconnected state.
func (m *Manager) Connect(userID, role string) {
	m.mu.Lock()
	if m.raw != StateDisconnected && m.userID == userID && m.role == role {
		m.mu.Unlock()
		return
	}
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}
	m.userID, m.role = userID, role
	m.raw, m.derived = StateConnecting, StateConnecting
	m.gen++
	gen := m.gen
	m.mu.Unlock()

	if d := m.opts.AssumeConnectedAfter; d > 0 {
		time.AfterFunc(d, func() { m.assumeConnected(gen) })
	}

	go m.dial(gen, userID, role)
}

// Disconnect tears the transport down. Always safe to call.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.gen++
	conn := m.conn
	m.conn = nil
	wasDown := m.raw == StateDisconnected && m.derived == StateDisconnected
	m.raw, m.derived = StateDisconnected, StateDisconnected
	m.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	if !wasDown {
		m.emit(EventDisconnect, nil)
	}
}

// State returns the derived (optimistic) connection state consumers render.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.derived
}

// RawState returns the actual transport state.
func (m *Manager) RawState() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.raw
}

func (m *Manager) Connected() bool { return m.State() == StateConnected }

// Subscribe registers a handler for an event; the returned func removes it.
// Removing twice is a no-op. Handlers run on the read loop goroutine in the
// order the transport emitted the events.
func (m *Manager) Subscribe(event string, h Handler) (unsubscribe func()) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	id := m.nextSub
	m.nextSub++
	if m.subs[event] == nil {
		m.subs[event] = make(map[int]Handler)
	}
	m.subs[event][id] = h
	return func() {
		m.subMu.Lock()
		defer m.subMu.Unlock()
		delete(m.subs[event], id)
	}
}

// Send hands a payload to the transport. The boolean only signals local
// hand-off, not delivery. It never blocks on the network outcome.
func (m *Manager) Send(v interface{}) bool {
	m.mu.Lock()
	conn := m.conn
	up := m.raw == StateConnected
	m.mu.Unlock()

	if conn == nil || !up {
		return false
	}
	if err := conn.WriteJSON(v); err != nil {
		m.log.Debug("realtime: send failed", err)
		return false
	}
	return true
}

// SendTyping fires a typing ping for the conversation; no acknowledgement.
func (m *Manager) SendTyping(conversationID string) {
	m.mu.Lock()
	userID := m.userID
	m.mu.Unlock()

	payload, err := json.Marshal(TypingPayload{UserID: userID, ConversationID: conversationID})
	if err != nil {
		return
	}
	m.Send(Envelope{Type: EventTyping, Payload: payload})
}

func (m *Manager) dial(gen int, userID, role string) {
	conn, err := m.opts.Dial(m.opts.URL, userID, role)

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	if err != nil {
		m.mu.Unlock()
		m.log.Warn("realtime: connect failed", err)
		m.drop(gen)
		return
	}
	m.conn = conn
	m.raw, m.derived = StateConnected, StateConnected
	m.mu.Unlock()

	m.emit(EventConnect, nil)
	m.readLoop(gen, conn)
}

func (m *Manager) readLoop(gen int, conn Conn) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			m.drop(gen)
			return
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			m.log.Debug("realtime: dropping malformed frame", err)
			continue
		}
		if env.Type == "" {
			continue
		}
		m.emit(env.Type, env.Payload)
	}
}

// drop records an unexpected transport loss and schedules the health probe.
func (m *Manager) drop(gen int) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}
	m.raw, m.derived = StateDisconnected, StateDisconnected
	m.mu.Unlock()

	m.emit(EventDisconnect, nil)

	if m.opts.Health != nil && m.opts.HealthProbeAfter > 0 {
		time.AfterFunc(m.opts.HealthProbeAfter, func() { m.probe(gen) })
	}
}

func (m *Manager) assumeConnected(gen int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen || m.derived == StateConnected {
		return
	}
	m.log.Info("realtime: no connect event in window, assuming REST-only connectivity")
	m.derived = StateConnected
}

func (m *Manager) probe(gen int) {
	if !m.opts.Health() {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen || m.derived == StateConnected {
		return
	}
	m.log.Info("realtime: transport down but REST healthy, reporting connected")
	m.derived = StateConnected
}

func (m *Manager) emit(event string, payload []byte) {
	m.subMu.Lock()
	handlers := m.subs[event]
	ids := make([]int, 0, len(handlers))
	for id := range handlers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	hs := make([]Handler, 0, len(ids))
	for _, id := range ids {
		hs = append(hs, handlers[id])
	}
	m.subMu.Unlock()

	for _, h := range hs {
		h(payload)
	}
}
