package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/charlesng35/greentrace/internal/notify"
	"github.com/charlesng35/greentrace/pkg/logger"
	"github.com/charlesng35/greentrace/pkg/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20 // 1 MiB

	defaultBufferSize = 64
)

// Frame types sent by windows.
const (
	FrameRegister          = "register"
	FrameNavigate          = "navigate"
	FrameMessage           = "message"
	FrameNotificationClick = "notificationclick"
	FramePing              = "ping"
)

// Event names sent to windows.
const (
	EventRegistered       = "registered"
	EventNotification     = "notification"
	EventFocus            = "focus"
	EventOpenWindow       = "openwindow"
	EventNavigate         = "navigate"
	EventControllerChange = "controllerchange"
	EventReply            = "reply"
	EventPong             = "pong"
)

// ErrWindowNotFound is returned when a window id does not match a connected window.
var ErrWindowNotFound = errors.New("realtime: window not connected")

// Message is a JSON payload delivered to a window.
type Message struct {
	Event string `json:"event"`
	// ID correlates a reply with the frame that asked for it.
	ID   string `json:"id,omitempty"`
	Data any    `json:"data,omitempty"`
}

// Frame is a JSON payload received from a window.
type Frame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	URL     string          `json:"url,omitempty"`
	Message json.RawMessage `json:"message,omitempty"`
	Click   *notify.Click   `json:"click,omitempty"`
}

// InboundHandler receives the frames the hub does not handle itself.
type InboundHandler interface {
	HandleMessage(ctx context.Context, raw json.RawMessage, reply func(v any) error)
	HandleNotificationClick(ctx context.Context, click notify.Click)
}

// Hub tracks the page windows connected over websocket. It implements notify.Clients and
// notify.Presenter and claims windows on activation.
type Hub struct {
	mu      sync.RWMutex
	windows map[string]*connection
	seq     uint64
	// pending holds open-window requests made while no window was connected.
	pending []string
	handler InboundHandler

	upgrader websocket.Upgrader
	log      *zap.Logger
}

// NewHub constructs a window hub.
func NewHub() *Hub {
	return &Hub{
		windows: make(map[string]*connection),
		log:     logger.WithModule("realtime"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Allow same-origin requests and explicit localhost development.
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				originHost := hostWithoutPort(origin)
				requestHost := hostWithoutPort(r.Host)
				return originHost == requestHost || isLoopback(originHost)
			},
		},
	}
}

// SetHandler installs the receiver of control messages and notification clicks.
func (h *Hub) SetHandler(handler InboundHandler) {
	h.mu.Lock()
	h.handler = handler
	h.mu.Unlock()
}

// Serve upgrades the HTTP connection and registers the window until it disconnects. The window URL
// comes from the "url" query parameter or the Referer header and is updated by navigate frames.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	initialURL := strings.TrimSpace(r.URL.Query().Get("url"))
	if initialURL == "" {
		initialURL = r.Referer()
	}

	client := newConnection(h, conn, uuid.NewString(), initialURL)
	h.register(client)

	go client.writeLoop()
	client.readLoop(r.Context())
}

// Count returns the number of connected windows.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.windows)
}

// MatchAll lists connected windows in connection order.
func (h *Hub) MatchAll(context.Context) []notify.Window {
	h.mu.RLock()
	conns := make([]*connection, 0, len(h.windows))
	for _, c := range h.windows {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	sort.Slice(conns, func(i, j int) bool { return conns[i].seq < conns[j].seq })
	windows := make([]notify.Window, 0, len(conns))
	for _, c := range conns {
		windows = append(windows, notify.Window{ID: c.id, URL: c.currentURL()})
	}
	return windows
}

// Focus asks a window to bring itself to the front.
func (h *Hub) Focus(_ context.Context, id string) error {
	h.mu.RLock()
	client, ok := h.windows[id]
	h.mu.RUnlock()
	if !ok {
		return ErrWindowNotFound
	}
	h.enqueue(client, Message{Event: EventFocus})
	return nil
}

// OpenWindow asks the most recently connected window to open url. With no window connected the
// request is held and the next window to register navigates to it.
func (h *Hub) OpenWindow(_ context.Context, url string) error {
	h.mu.Lock()
	var newest *connection
	for _, c := range h.windows {
		if newest == nil || c.seq > newest.seq {
			newest = c
		}
	}
	if newest == nil {
		h.pending = append(h.pending, url)
		h.mu.Unlock()
		h.log.Debug("no window connected, holding open request", zap.String("url", url))
		return nil
	}
	h.mu.Unlock()

	h.enqueue(newest, Message{Event: EventOpenWindow, Data: map[string]string{"url": url}})
	return nil
}

// ShowNotification delivers a notification to every connected window.
func (h *Hub) ShowNotification(_ context.Context, intent notify.Intent) error {
	h.broadcast(Message{Event: EventNotification, Data: intent})
	return nil
}

// Claim tells every connected window that it is now controlled by the current worker.
func (h *Hub) Claim(context.Context) error {
	h.broadcast(Message{Event: EventControllerChange})
	return nil
}

// Close disconnects every window.
func (h *Hub) Close() {
	h.mu.RLock()
	conns := make([]*connection, 0, len(h.windows))
	for _, c := range h.windows {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		c.close()
	}
}

func (h *Hub) register(client *connection) {
	h.mu.Lock()
	h.seq++
	client.seq = h.seq
	h.windows[client.id] = client
	pending := h.pending
	h.pending = nil
	count := len(h.windows)
	h.mu.Unlock()

	metrics.ConnectedWindows.Set(float64(count))
	h.enqueue(client, Message{Event: EventRegistered, Data: map[string]string{"id": client.id}})
	for _, url := range pending {
		h.enqueue(client, Message{Event: EventNavigate, Data: map[string]string{"url": url}})
	}
}

func (h *Hub) unregister(client *connection) {
	h.mu.Lock()
	delete(h.windows, client.id)
	count := len(h.windows)
	h.mu.Unlock()

	metrics.ConnectedWindows.Set(float64(count))
}

func (h *Hub) broadcast(message Message) {
	h.mu.RLock()
	conns := make([]*connection, 0, len(h.windows))
	for _, c := range h.windows {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		h.enqueue(c, message)
	}
}

func (h *Hub) enqueue(client *connection, message Message) {
	select {
	case <-client.done:
	case client.send <- message:
	default:
		h.log.Warn("dropping backpressured window", zap.String("window", client.id))
		client.close()
	}
}

func (h *Hub) inbound() InboundHandler {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.handler
}

type connection struct {
	hub    *Hub
	socket *websocket.Conn
	id     string
	seq    uint64
	send   chan Message
	done   chan struct{}
	once   sync.Once

	mu  sync.RWMutex
	url string
}

func newConnection(hub *Hub, conn *websocket.Conn, id, url string) *connection {
	return &connection{
		hub:    hub,
		socket: conn,
		id:     id,
		url:    url,
		send:   make(chan Message, defaultBufferSize),
		done:   make(chan struct{}),
	}
}

func (c *connection) currentURL() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.url
}

func (c *connection) setURL(url string) {
	c.mu.Lock()
	c.url = url
	c.mu.Unlock()
}

func (c *connection) readLoop(ctx context.Context) {
	defer c.close()

	c.socket.SetReadLimit(maxMessageSize)
	_ = c.socket.SetReadDeadline(time.Now().Add(pongWait))
	c.socket.SetPongHandler(func(string) error {
		_ = c.socket.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, payload, err := c.socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Debug("unexpected close", zap.String("window", c.id), zap.Error(err))
			}
			break
		}

		if len(payload) == 0 {
			continue
		}

		var frame Frame
		if err := json.Unmarshal(payload, &frame); err != nil {
			c.hub.log.Warn("dropping malformed frame", zap.String("window", c.id), zap.Error(err))
			continue
		}
		c.handle(ctx, frame)
	}
}

func (c *connection) handle(ctx context.Context, frame Frame) {
	switch strings.ToLower(strings.TrimSpace(frame.Type)) {
	case FrameRegister, FrameNavigate:
		if url := strings.TrimSpace(frame.URL); url != "" {
			c.setURL(url)
		}
	case FrameMessage:
		handler := c.hub.inbound()
		if handler == nil {
			return
		}
		id := frame.ID
		// Control messages may fetch from the origin; keep reading frames meanwhile.
		go handler.HandleMessage(ctx, frame.Message, func(v any) error {
			c.hub.enqueue(c, Message{Event: EventReply, ID: id, Data: v})
			return nil
		})
	case FrameNotificationClick:
		handler := c.hub.inbound()
		if handler == nil || frame.Click == nil {
			c.hub.log.Warn("dropping notification click without payload", zap.String("window", c.id))
			return
		}
		go handler.HandleNotificationClick(ctx, *frame.Click)
	case FramePing:
		c.hub.enqueue(c, Message{Event: EventPong})
	default:
		c.hub.log.Info("ignoring unsupported frame", zap.String("window", c.id), zap.String("type", frame.Type))
	}
}

func (c *connection) writeLoop() {
	defer c.close()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.socket.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case message := <-c.send:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.socket.WriteJSON(message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.socket.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *connection) close() {
	c.once.Do(func() {
		c.hub.unregister(c)
		close(c.done)
		_ = c.socket.Close()
	})
}

func hostWithoutPort(host string) string {
	host = strings.TrimSpace(host)
	if host == "" {
		return ""
	}

	if strings.HasPrefix(host, "http://") || strings.HasPrefix(host, "https://") {
		parsed, err := http.NewRequest(http.MethodGet, host, nil)
		if err == nil {
			return hostWithoutPort(parsed.URL.Host)
		}
	}

	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}

func isLoopback(host string) bool {
	ip := net.ParseIP(host)
	if ip != nil {
		return ip.IsLoopback()
	}
	return strings.EqualFold(host, "localhost")
}
