package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"nhooyr.io/websocket"

	"github.com/lotas/tabgruppen/internal/applog"
	"github.com/lotas/tabgruppen/internal/browser"
	"github.com/lotas/tabgruppen/internal/types"
)

// Inbound message types.
const (
	MsgTabCreated   = "tab.created"
	MsgTabUpdated   = "tab.updated"
	MsgTabRemoved   = "tab.removed"
	MsgNavBefore    = "nav.before"
	MsgLinkGesture  = "link.gesture"
	MsgPromptAnswer = "prompt.answer"
	MsgUndo         = "notification.undo"
)

// ErrNotConnected is returned by Call when no extension is connected.
var ErrNotConnected = errors.New("extension not connected")

// DefaultCallTimeout bounds a command round trip when none is configured.
const DefaultCallTimeout = 10 * time.Second

// IncomingMsg is a message from the extension: either a lifecycle event
// (Type set) or the response to a command (ID set, Type empty).
type IncomingMsg struct {
	Type           string          `json:"type,omitempty"`
	Tab            json.RawMessage `json:"tab,omitempty"`
	TabID          int             `json:"tabId,omitempty"`
	URL            string          `json:"url,omitempty"`
	FrameID        int             `json:"frameId,omitempty"`
	WindowID       int             `json:"windowId,omitempty"`
	PromptID       string          `json:"promptId,omitempty"`
	Value          string          `json:"value,omitempty"`
	Cancelled      bool            `json:"cancelled,omitempty"`
	NotificationID string          `json:"notificationId,omitempty"`
	// Command response fields
	ID      string          `json:"id,omitempty"`
	OK      *bool           `json:"ok,omitempty"`
	Error   string          `json:"error,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// IsResponse reports whether m answers a command.
func (m IncomingMsg) IsResponse() bool {
	return m.Type == "" && m.ID != ""
}

// OutgoingMsg is a command from the engine to the extension.
type OutgoingMsg struct {
	ID           string                 `json:"id"`
	Action       string                 `json:"action"`
	TabID        int                    `json:"tabId,omitempty"`
	TabIDs       []int                  `json:"tabIds,omitempty"`
	GroupID      int                    `json:"groupId,omitempty"`
	WindowID     int                    `json:"windowId,omitempty"`
	URL          string                 `json:"url,omitempty"`
	Title        string                 `json:"title,omitempty"`
	Update       *browser.GroupUpdate   `json:"update,omitempty"`
	Prompt       *browser.PromptRequest `json:"prompt,omitempty"`
	Notification *types.Notification    `json:"notification,omitempty"`
}

// HostError is a command the extension answered with ok=false. The message
// is the browser's own error text.
type HostError struct {
	Action  string
	Message string
}

func (e *HostError) Error() string {
	return e.Action + ": " + e.Message
}

// Server manages the WebSocket connection to the extension.
type Server struct {
	timeout time.Duration

	mu      sync.Mutex
	conn    *websocket.Conn
	connCtx context.Context
	pending map[string]chan IncomingMsg
	subs    map[int]*subscriber
	nextSub int
}

// New creates a new Server. timeout bounds each Call; zero uses
// DefaultCallTimeout.
func New(timeout time.Duration) *Server {
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	return &Server{
		timeout: timeout,
		pending: make(map[string]chan IncomingMsg),
		subs:    make(map[int]*subscriber),
	}
}

// Connected reports whether an extension is connected.
func (s *Server) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// Subscribe returns a channel of lifecycle events and a func that ends the
// subscription. Events queue without bound so a busy subscriber never
// stalls the read loop, which also delivers command responses.
func (s *Server) Subscribe() (<-chan IncomingMsg, func()) {
	sub := newSubscriber()
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = sub
	s.mu.Unlock()
	go sub.run()

	var once sync.Once
	return sub.out, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
			close(sub.done)
		})
	}
}

// Send sends a command to the connected extension without waiting for a
// response.
func (s *Server) Send(msg OutgoingMsg) error {
	s.mu.Lock()
	conn := s.conn
	ctx := s.connCtx
	s.mu.Unlock()

	if conn == nil {
		return ErrNotConnected
	}

	applog.Info("ws.send", "action", msg.Action, "id", msg.ID)
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

// Call sends a command and waits for its response. The response payload
// is returned raw for the caller to decode.
func (s *Server) Call(ctx context.Context, msg OutgoingMsg) (json.RawMessage, error) {
	msg.ID = uuid.NewString()
	ch := make(chan IncomingMsg, 1)

	s.mu.Lock()
	s.pending[msg.ID] = ch
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.pending, msg.ID)
		s.mu.Unlock()
	}()

	if err := s.Send(msg); err != nil {
		return nil, fmt.Errorf("%s: %w", msg.Action, err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	select {
	case resp := <-ch:
		if resp.OK != nil && !*resp.OK {
			return nil, &HostError{Action: msg.Action, Message: resp.Error}
		}
		return resp.Payload, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", msg.Action, ctx.Err())
	}
}

func (s *Server) dispatch(msg IncomingMsg) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if msg.IsResponse() {
		ch, ok := s.pending[msg.ID]
		if !ok {
			applog.Warn("ws.orphan", nil, "id", msg.ID)
			return
		}
		select {
		case ch <- msg:
		default:
		}
		return
	}
	for _, sub := range s.subs {
		sub.push(msg)
	}
}

// extensionSchemes are the page origins allowed to connect. Requests
// without an Origin header come from local non-browser clients.
var extensionSchemes = []string{"moz-extension", "chrome-extension"}

func allowedOrigin(origin string) bool {
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	return slices.Contains(extensionSchemes, strings.ToLower(u.Scheme))
}

// Handler returns an http.Handler that accepts WebSocket upgrades from the
// browser extension.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); !allowedOrigin(origin) {
			applog.Warn("ws.origin", nil, "origin", origin, "remote", r.RemoteAddr)
			http.Error(w, "origin not allowed", http.StatusForbidden)
			return
		}
		// The scheme was checked above; extension ids are random hosts.
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: []string{"*"},
		})
		if err != nil {
			applog.Error("ws.accept", err)
			return
		}

		conn.SetReadLimit(4 << 20)

		ctx := r.Context()
		s.mu.Lock()
		if s.conn != nil {
			applog.Info("ws.replaced")
			s.conn.CloseNow()
		}
		s.conn = conn
		s.connCtx = ctx
		s.mu.Unlock()

		applog.Info("ws.connected", "remote", r.RemoteAddr)

		defer func() {
			s.mu.Lock()
			if s.conn == conn {
				s.conn = nil
				s.connCtx = nil
			}
			s.mu.Unlock()
			conn.CloseNow()
			applog.Info("ws.disconnected")
		}()

		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var msg IncomingMsg
			if err := json.Unmarshal(data, &msg); err != nil {
				applog.Error("ws.parse", err)
				continue
			}
			if !msg.IsResponse() {
				applog.Info("ws.recv", "type", msg.Type)
			}
			s.dispatch(msg)
		}
	})
}

// ListenAndServe serves h on addr until ctx is done.
func ListenAndServe(ctx context.Context, addr string, h http.Handler) error {
	applog.Info("server.start", "addr", addr)
	srv := &http.Server{Addr: addr, Handler: h}

	go func() {
		<-ctx.Done()
		srv.Close()
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// subscriber queues events for one consumer.
type subscriber struct {
	mu     sync.Mutex
	queue  []IncomingMsg
	signal chan struct{}
	out    chan IncomingMsg
	done   chan struct{}
}

func newSubscriber() *subscriber {
	return &subscriber{
		signal: make(chan struct{}, 1),
		out:    make(chan IncomingMsg),
		done:   make(chan struct{}),
	}
}

func (sub *subscriber) push(msg IncomingMsg) {
	sub.mu.Lock()
	sub.queue = append(sub.queue, msg)
	sub.mu.Unlock()
	select {
	case sub.signal <- struct{}{}:
	default:
	}
}

func (sub *subscriber) run() {
	defer close(sub.out)
	for {
		sub.mu.Lock()
		if len(sub.queue) == 0 {
			sub.mu.Unlock()
			select {
			case <-sub.signal:
				continue
			case <-sub.done:
				return
			}
		}
		msg := sub.queue[0]
		sub.queue = sub.queue[1:]
		sub.mu.Unlock()

		select {
		case sub.out <- msg:
		case <-sub.done:
			return
		}
	}
}
