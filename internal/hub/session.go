package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hivedesk/relay/internal/observability"
	"github.com/hivedesk/relay/pkg/models"
)

const (
	wsProtocolVersion = 1
	wsMaxPayloadBytes = 1 << 20
	wsPingInterval    = 15 * time.Second
	wsPongWait        = 45 * time.Second
	wsWriteWait       = 10 * time.Second
	wsSendBuffer      = 64
)

// WSHandler upgrades HTTP requests into realtime sessions.
type WSHandler struct {
	hub      *Hub
	metrics  *observability.Metrics
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewWSHandler creates the websocket endpoint for the hub.
func NewWSHandler(hub *Hub, metrics *observability.Metrics, logger *slog.Logger) *WSHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSHandler{
		hub:     hub,
		metrics: metrics,
		logger:  logger.With("component", "ws"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  8192,
			WriteBufferSize: 8192,
			CheckOrigin: func(*http.Request) bool {
				return true
			},
		},
	}
}

type wsFrame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Event   string          `json:"event,omitempty"`
	OK      *bool           `json:"ok,omitempty"`
	Payload any             `json:"payload,omitempty"`
	Error   *wsError        `json:"error,omitempty"`
	Seq     *int64          `json:"seq,omitempty"`
}

type wsError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type wsConnectParams struct {
	MinProtocol int            `json:"minProtocol"`
	MaxProtocol int            `json:"maxProtocol"`
	Auth        *wsAuthPayload `json:"auth,omitempty"`
}

type wsAuthPayload struct {
	Token string `json:"token"`
}

type wsRoomParams struct {
	ConversationID string `json:"conversationId"`
}

type wsMessageParams struct {
	ConversationID string `json:"conversationId"`
	Content        string `json:"content"`
	IdempotencyKey string `json:"idempotencyKey,omitempty"`
}

type wsReactParams struct {
	MessageID string `json:"messageId"`
	Emoji     string `json:"emoji"`
}

type wsMarkReadParams struct {
	MessageID string `json:"messageId"`
}

type wsPresenceParams struct {
	Status string `json:"status"`
}

// wsSession is one live websocket connection. Events within a session
// are handled in arrival order; nothing is ordered across sessions.
type wsSession struct {
	handler    *WSHandler
	conn       *websocket.Conn
	send       chan []byte
	ctx        context.Context
	cancel     context.CancelFunc
	writerDone chan struct{}

	hubConn     *Connection
	connected   atomic.Bool
	seq         int64
	headerToken string
	idempotency map[string]struct{}
	idemMu      sync.Mutex
}

var _ Transport = (*wsSession)(nil)

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	session := &wsSession{
		handler:     h,
		conn:        conn,
		send:        make(chan []byte, wsSendBuffer),
		ctx:         ctx,
		cancel:      cancel,
		writerDone:  make(chan struct{}),
		headerToken: bearerToken(r),
		idempotency: make(map[string]struct{}),
	}
	session.run()
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(header), "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}

func (s *wsSession) run() {
	defer s.close()
	go s.writeLoop()
	s.readLoop()
}

func (s *wsSession) close() {
	if s.hubConn != nil {
		s.handler.hub.Disconnect(s.hubConn)
		s.hubConn = nil
	}
	s.cancel()
	_ = s.conn.Close()
}

func (s *wsSession) readLoop() {
	s.conn.SetReadLimit(wsMaxPayloadBytes)
	_ = s.conn.SetReadDeadline(time.Now().Add(wsPongWait)) //nolint:errcheck
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		frame, err := s.decodeFrame(data)
		if err != nil {
			s.sendError("", "invalid_frame", err.Error())
			continue
		}

		if !s.connected.Load() {
			if frame.Method != "connect" {
				s.sendError(frame.ID, "handshake_required", "first request must be connect")
				continue
			}
			if err := s.handleConnect(frame); err != nil {
				// Handshake failure is terminal for this attempt; the
				// client gets the textual reason before the close.
				s.rejectHandshake(frame.ID, err.Error())
				return
			}
			continue
		}

		s.handler.metrics.InboundEvent(frame.Method)
		if err := s.handleRequest(frame); err != nil {
			s.sendError(frame.ID, errorCode(err), err.Error())
		}
	}
}

// errorCode maps hub errors onto wire codes.
func errorCode(err error) string {
	if errors.Is(err, ErrNotParticipant) {
		return "forbidden"
	}
	return "request_failed"
}

// rejectHandshake answers a failed connect on the socket itself. The
// writer goroutine is stopped first so the rejection cannot be raced out
// by teardown or lost in the send queue.
func (s *wsSession) rejectHandshake(id string, message string) {
	s.cancel()
	<-s.writerDone

	ok := false
	data, err := json.Marshal(wsFrame{
		Type:  "res",
		ID:    id,
		OK:    &ok,
		Error: &wsError{Code: "connect_failed", Message: message},
	})
	if err != nil {
		return
	}
	deadline := time.Now().Add(wsWriteWait)
	_ = s.conn.SetWriteDeadline(deadline) //nolint:errcheck
	_ = s.conn.WriteMessage(websocket.TextMessage, data) //nolint:errcheck
	closeMsg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "connect failed")
	_ = s.conn.WriteControl(websocket.CloseMessage, closeMsg, deadline) //nolint:errcheck
}

func (s *wsSession) writeLoop() {
	defer close(s.writerDone)
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait)) //nolint:errcheck
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case msg := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait)) //nolint:errcheck
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}
}

func (s *wsSession) decodeFrame(raw []byte) (*wsFrame, error) {
	var frame wsFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return nil, err
	}
	if frame.Type == "" {
		frame.Type = "req"
	}
	if frame.Type != "req" {
		return nil, fmt.Errorf("unsupported frame type %q", frame.Type)
	}
	if frame.Method == "" {
		return nil, fmt.Errorf("method is required")
	}
	return &frame, nil
}

func (s *wsSession) handleConnect(frame *wsFrame) error {
	var params wsConnectParams
	if len(frame.Params) > 0 {
		if err := json.Unmarshal(frame.Params, &params); err != nil {
			return err
		}
	}

	minProtocol := params.MinProtocol
	maxProtocol := params.MaxProtocol
	if minProtocol <= 0 {
		minProtocol = wsProtocolVersion
	}
	if maxProtocol <= 0 {
		maxProtocol = wsProtocolVersion
	}
	if wsProtocolVersion < minProtocol || wsProtocolVersion > maxProtocol {
		return fmt.Errorf("unsupported protocol version")
	}

	token := s.headerToken
	if token == "" && params.Auth != nil {
		token = params.Auth.Token
	}

	conn, hello, err := s.handler.hub.Connect(s.ctx, token, s)
	if err != nil {
		return err
	}
	s.hubConn = conn

	payload := map[string]any{
		"type":     "hello-ok",
		"protocol": wsProtocolVersion,
		"self":     hello,
		"policy": map[string]any{
			"maxPayloadBytes": wsMaxPayloadBytes,
			"pingIntervalMs":  wsPingInterval.Milliseconds(),
		},
	}
	if err := s.sendResponse(frame.ID, true, payload, nil); err != nil {
		return err
	}
	s.connected.Store(true)
	return nil
}

func (s *wsSession) handleRequest(frame *wsFrame) error {
	switch frame.Method {
	case "ping":
		return s.sendResponse(frame.ID, true, map[string]any{"timestamp": time.Now().UnixMilli()}, nil)
	case "join-room":
		return s.handleJoinRoom(frame)
	case "leave-room":
		return s.handleLeaveRoom(frame)
	case "typing-start":
		return s.handleTyping(frame, true)
	case "typing-stop":
		return s.handleTyping(frame, false)
	case "new-message":
		return s.handleNewMessage(frame)
	case "react":
		return s.handleReact(frame)
	case "mark-read":
		return s.handleMarkRead(frame)
	case "presence-update":
		return s.handlePresence(frame)
	default:
		return fmt.Errorf("unknown method %q", frame.Method)
	}
}

func (s *wsSession) handleJoinRoom(frame *wsFrame) error {
	var params wsRoomParams
	if err := json.Unmarshal(frame.Params, &params); err != nil {
		return err
	}
	if params.ConversationID == "" {
		return errors.New("conversationId is required")
	}
	if err := s.handler.hub.JoinRoom(s.ctx, s.hubConn, params.ConversationID); err != nil {
		return err
	}
	return s.sendResponse(frame.ID, true, map[string]any{"joined": params.ConversationID}, nil)
}

func (s *wsSession) handleLeaveRoom(frame *wsFrame) error {
	var params wsRoomParams
	if err := json.Unmarshal(frame.Params, &params); err != nil {
		return err
	}
	if params.ConversationID == "" {
		return errors.New("conversationId is required")
	}
	s.handler.hub.LeaveRoom(s.hubConn, params.ConversationID)
	return s.sendResponse(frame.ID, true, map[string]any{"left": params.ConversationID}, nil)
}

func (s *wsSession) handleTyping(frame *wsFrame, start bool) error {
	var params wsRoomParams
	if err := json.Unmarshal(frame.Params, &params); err != nil {
		return err
	}
	if params.ConversationID == "" {
		return errors.New("conversationId is required")
	}
	var err error
	if start {
		err = s.handler.hub.TypingStart(s.ctx, s.hubConn, params.ConversationID)
	} else {
		err = s.handler.hub.TypingStop(s.ctx, s.hubConn, params.ConversationID)
	}
	if err != nil {
		return err
	}
	return s.sendResponse(frame.ID, true, nil, nil)
}

func (s *wsSession) handleNewMessage(frame *wsFrame) error {
	var params wsMessageParams
	if err := json.Unmarshal(frame.Params, &params); err != nil {
		return err
	}
	if params.ConversationID == "" {
		return errors.New("conversationId is required")
	}
	if strings.TrimSpace(params.Content) == "" {
		return errors.New("content is required")
	}
	if params.IdempotencyKey != "" && s.isIdempotencyDuplicate(params.IdempotencyKey) {
		return s.sendResponse(frame.ID, true, map[string]any{"status": "duplicate"}, nil)
	}

	msg, err := s.handler.hub.NewMessage(s.ctx, s.hubConn, params.ConversationID, params.Content)
	if err != nil {
		return err
	}
	return s.sendResponse(frame.ID, true, msg, nil)
}

func (s *wsSession) handleReact(frame *wsFrame) error {
	var params wsReactParams
	if err := json.Unmarshal(frame.Params, &params); err != nil {
		return err
	}
	if params.MessageID == "" || params.Emoji == "" {
		return errors.New("messageId and emoji are required")
	}
	event, err := s.handler.hub.React(s.ctx, s.hubConn, params.MessageID, params.Emoji)
	if err != nil {
		return err
	}
	return s.sendResponse(frame.ID, true, event, nil)
}

func (s *wsSession) handleMarkRead(frame *wsFrame) error {
	var params wsMarkReadParams
	if err := json.Unmarshal(frame.Params, &params); err != nil {
		return err
	}
	if params.MessageID == "" {
		return errors.New("messageId is required")
	}
	receipt, err := s.handler.hub.MarkRead(s.ctx, s.hubConn, params.MessageID)
	if err != nil {
		return err
	}
	return s.sendResponse(frame.ID, true, receipt, nil)
}

func (s *wsSession) handlePresence(frame *wsFrame) error {
	var params wsPresenceParams
	if err := json.Unmarshal(frame.Params, &params); err != nil {
		return err
	}
	status := models.PresenceStatus(params.Status)
	switch status {
	case models.PresenceOnline, models.PresenceAway, models.PresenceBusy, models.PresenceOffline:
	default:
		return fmt.Errorf("unknown presence status %q", params.Status)
	}
	s.handler.hub.Presence(s.hubConn, status)
	return s.sendResponse(frame.ID, true, nil, nil)
}

// SendEvent implements Transport for the broadcaster and dispatcher.
func (s *wsSession) SendEvent(event string, payload any) error {
	seq := atomic.AddInt64(&s.seq, 1)
	return s.enqueue(wsFrame{
		Type:    "event",
		Event:   event,
		Payload: payload,
		Seq:     &seq,
	})
}

func (s *wsSession) sendResponse(id string, ok bool, payload any, wsErr *wsError) error {
	return s.enqueue(wsFrame{
		Type:    "res",
		ID:      id,
		OK:      &ok,
		Payload: payload,
		Error:   wsErr,
	})
}

func (s *wsSession) sendError(id string, code string, message string) {
	_ = s.sendResponse(id, false, nil, &wsError{Code: code, Message: message}) //nolint:errcheck
}

func (s *wsSession) enqueue(frame wsFrame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	if len(data) > wsMaxPayloadBytes {
		return fmt.Errorf("payload too large")
	}
	select {
	case <-s.ctx.Done():
		return fmt.Errorf("session closed")
	case s.send <- data:
		return nil
	default:
		return fmt.Errorf("send buffer full")
	}
}

func (s *wsSession) isIdempotencyDuplicate(key string) bool {
	key = strings.TrimSpace(key)
	if key == "" {
		return false
	}
	s.idemMu.Lock()
	defer s.idemMu.Unlock()
	if _, ok := s.idempotency[key]; ok {
		return true
	}
	s.idempotency[key] = struct{}{}
	return false
}

// SupportedMethods lists the client-to-server methods.
func SupportedMethods() []string {
	return []string{
		"connect",
		"ping",
		"join-room",
		"leave-room",
		"typing-start",
		"typing-stop",
		"new-message",
		"react",
		"mark-read",
		"presence-update",
	}
}

// SupportedEvents lists the server-to-client events.
func SupportedEvents() []string {
	return []string{
		"message-received",
		"typing-changed",
		"message-reaction",
		"message-read",
		"user-presence",
		"new-notification",
		"notification-updated",
		"notification-deleted",
		"error",
	}
}
