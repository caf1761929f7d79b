package main

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"

	"github.com/shuleapp/shule/core"
	"github.com/shuleapp/shule/core/chat"
	"github.com/shuleapp/shule/core/directory"
	"github.com/shuleapp/shule/core/realtime"
	"github.com/shuleapp/shule/core/session"
)

type server struct {
	conf *core.Config
	log  core.Logger
	app  *echo.Echo
	hub  *hub

	mu       sync.Mutex
	history  map[string][]directory.HistoryItem // userID -> items
	contacts []directory.Contact

	upgrader websocket.Upgrader
}

func newServer(conf *core.Config, log core.Logger) *server {
	s := &server{
		conf:    conf,
		log:     log,
		app:     echo.New(),
		hub:     newHub(log),
		history: make(map[string][]directory.HistoryItem),
		contacts: []directory.Contact{
			{ID: "teacher-amina", Name: "Amina Yusuf", Role: "teacher", Email: "amina@school.local"},
			{ID: "teacher-baraka", Name: "Baraka Otieno", Role: "teacher", Email: "baraka@school.local"},
			{ID: "school-office", Name: "School Office", Role: "admin", Email: "office@school.local"},
		},
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
	}
	s.setup()
	return s
}

func (s *server) setup() {
	s.app.Pre(middleware.RemoveTrailingSlash())
	if s.conf.Debug {
		s.app.Use(middleware.Logger())
	} else {
		s.app.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{LogLevel: log.ERROR}))
	}
	s.app.HideBanner = true

	v1 := s.app.Group("/v1")
	v1.GET("/health", s.health)
	v1.POST("/login", s.login)
	v1.GET("/messages/contacts", s.getContacts)
	v1.GET("/messages/history", s.getHistory)
	v1.POST("/messages/send", s.sendMessage)
	v1.GET("/ws", s.websocket)
}

func (s *server) start(addr string) {
	s.app.Logger.Fatal(s.app.Start(addr))
}

func (s *server) health(ctx echo.Context) error {
	return ctx.String(http.StatusOK, "ok")
}

// login issues a signed dev token so the SDK's claims parsing has something
// real to chew on.
func (s *server) login(ctx echo.Context) error {
	var data struct {
		UserID string `json:"userId"`
		Role   string `json:"role"`
		Name   string `json:"name"`
		Email  string `json:"email"`
	}
	if err := ctx.Bind(&data); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid login payload")
	}
	if data.UserID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "userId is required")
	}

	now := time.Now()
	claims := &session.Claims{
		StandardClaims: jwt.StandardClaims{
			Issuer:    s.conf.AppName,
			Subject:   data.UserID,
			IssuedAt:  now.Unix(),
			ExpiresAt: now.Add(7 * 24 * time.Hour).Unix(),
		},
		Username:  data.Name,
		Email:     data.Email,
		Role:      data.Role,
		IsParent:  data.Role == session.RoleParent,
		IsTeacher: data.Role == session.RoleTeacher,
		IsAdmin:   data.Role == session.RoleAdmin,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.conf.SecretKey))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "signing token")
	}
	return ctx.JSON(http.StatusOK, echo.Map{"accessToken": token, "role": data.Role, "userId": data.UserID})
}

func (s *server) getContacts(ctx echo.Context) error {
	s.mu.Lock()
	contacts := make([]directory.Contact, len(s.contacts))
	copy(contacts, s.contacts)
	s.mu.Unlock()
	// the production backend wraps this list; serve the wrapped shape so
	// clients keep exercising their normalization
	return ctx.JSON(http.StatusOK, echo.Map{"data": contacts})
}

func (s *server) getHistory(ctx echo.Context) error {
	userID := s.bearerSubject(ctx)
	if userID == "" {
		userID = ctx.QueryParam("userId")
	}
	s.mu.Lock()
	items := make([]directory.HistoryItem, len(s.history[userID]))
	copy(items, s.history[userID])
	s.mu.Unlock()
	return ctx.JSON(http.StatusOK, echo.Map{"messages": items})
}

func (s *server) sendMessage(ctx echo.Context) error {
	var req directory.SendRequest
	if err := ctx.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid send payload")
	}
	if req.To == "" || req.Body == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "to and message are required")
	}
	if req.Timestamp.IsZero() {
		req.Timestamp = time.Now().UTC()
	}

	id := "msg-" + uuid.New().String()

	// push to the recipient: from their side the conversation is keyed by
	// the sender
	s.push(req.To, chat.Message{
		ID:             id,
		ConversationID: req.From,
		SenderID:       req.From,
		Body:           req.Body,
		CreatedAt:      req.Timestamp,
	})
	// echo to the sender (other tabs/devices) carrying the correlation id
	s.push(req.From, chat.Message{
		ID:             id,
		ConversationID: req.To,
		SenderID:       req.From,
		Body:           req.Body,
		CreatedAt:      req.Timestamp,
		ClientMsgID:    req.ClientMsgID,
	})

	s.mu.Lock()
	s.history[req.To] = append(s.history[req.To], directory.HistoryItem{
		From: req.From, Body: req.Body, Date: req.Timestamp,
	})
	s.mu.Unlock()

	return ctx.JSON(http.StatusOK, echo.Map{"messageId": id})
}

// bearerSubject extracts the user id from the Authorization header, empty
// when absent or unverifiable.
func (s *server) bearerSubject(ctx echo.Context) string {
	auth := ctx.Request().Header.Get(echo.HeaderAuthorization)
	if !strings.HasPrefix(auth, "Bearer ") {
		return ""
	}
	claims, err := session.ParseClaims(strings.TrimPrefix(auth, "Bearer "), s.conf.SecretKey)
	if err != nil {
		return ""
	}
	return claims.Subject
}

func (s *server) push(userID string, msg chat.Message) {
	payload, err := json.Marshal(msg)
	if err != nil {
		s.log.Error("devserver: marshaling message", err)
		return
	}
	s.hub.sendTo(userID, realtime.Envelope{Type: realtime.EventMessage, Payload: payload})
}

func (s *server) websocket(ctx echo.Context) error {
	userID := ctx.QueryParam("userId")
	if userID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "userId is required")
	}

	conn, err := s.upgrader.Upgrade(ctx.Response(), ctx.Request(), nil)
	if err != nil {
		return err
	}

	c := &wsClient{
		userID: userID,
		role:   ctx.QueryParam("role"),
		conn:   conn,
		send:   make(chan []byte, 32),
	}
	s.hub.register(c)
	go c.writePump()
	go c.readPump(s.hub, s.onFrame)
	return nil
}

// onFrame relays client frames. Only typing is forwarded; message frames get
// their authoritative delivery via the REST send endpoint, so relaying them
// here would duplicate.
func (s *server) onFrame(from *wsClient, env realtime.Envelope) {
	if env.Type != realtime.EventTyping {
		return
	}
	var p realtime.TypingPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil || p.ConversationID == "" {
		return
	}

	out, err := json.Marshal(realtime.TypingPayload{UserID: from.userID, ConversationID: from.userID})
	if err != nil {
		return
	}
	s.hub.sendTo(p.ConversationID, realtime.Envelope{Type: realtime.EventTyping, Payload: out})
}
