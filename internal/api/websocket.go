package api

import (
	"context"
	"net/http"
	"slices"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/brulejr/autohome/internal/broker"
	"github.com/brulejr/autohome/internal/eventbus"
	"github.com/brulejr/autohome/internal/infrastructure/config"
	"github.com/brulejr/autohome/internal/infrastructure/logging"
	"github.com/brulejr/autohome/internal/metrics"
)

// Feed frame types.
const (
	FrameEvent  = "event"
	FrameFilter = "filter"
	FramePing   = "ping"
	FramePong   = "pong"
	FrameAck    = "ack"
	FrameError  = "error"

	// EventRelayMessage is the event_type of every relayed message frame.
	EventRelayMessage = "relay.message"

	feedQueueSize = 256

	defaultPingInterval = 30 * time.Second
	defaultPongTimeout  = 10 * time.Second
)

// Frame is one JSON message on the live feed, in either direction.
type Frame struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// FilterRequest selects the message kinds a feed client receives.
// An empty Kinds list pauses the feed.
type FilterRequest struct {
	Kinds []string `json:"kinds"`
}

// RelayEvent is the payload of a relay.message frame.
type RelayEvent struct {
	Kind    string `json:"kind"`
	Type    string `json:"type,omitempty"`
	Payload any    `json:"payload"`
}

func relayEvent(event any) RelayEvent {
	if s, ok := event.(string); ok {
		return RelayEvent{Kind: metrics.KindRaw, Payload: s}
	}
	ev := RelayEvent{Kind: metrics.KindTyped, Payload: event}
	if env, ok := event.(broker.Envelope); ok {
		ev.Type = env.MessageType()
	}
	return ev
}

var relayKinds = []string{metrics.KindRaw, metrics.KindTyped}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Feed streams messages delivered on the local bus to WebSocket clients.
type Feed struct {
	cfg    config.WebSocketConfig
	logger *logging.Logger

	mu      sync.RWMutex
	viewers map[*viewer]struct{}
}

// viewer is one WebSocket client of the feed. Only the feed closes queue.
type viewer struct {
	feed  *Feed
	conn  *websocket.Conn
	queue chan []byte

	mu    sync.RWMutex
	kinds map[string]bool
}

// NewFeed creates an idle feed; Run attaches it to a bus.
func NewFeed(cfg config.WebSocketConfig, logger *logging.Logger) *Feed {
	return &Feed{
		cfg:     cfg,
		logger:  logger,
		viewers: make(map[*viewer]struct{}),
	}
}

func (f *Feed) newViewer(conn *websocket.Conn) *viewer {
	v := &viewer{
		feed:  f,
		conn:  conn,
		queue: make(chan []byte, feedQueueSize),
		kinds: make(map[string]bool, len(relayKinds)),
	}
	for _, k := range relayKinds {
		v.kinds[k] = true
	}
	return v
}

// Run observes every bus event until ctx is cancelled, then disconnects
// all viewers.
func (f *Feed) Run(ctx context.Context, bus *eventbus.Bus) {
	unsubscribe := eventbus.SubscribeAll(bus, f.relay)
	<-ctx.Done()
	unsubscribe()
	f.disconnectAll()
}

// relay runs on the broker receive loop, so it never blocks on a viewer.
func (f *Feed) relay(event any) {
	if f.Viewers() == 0 {
		return
	}
	f.publish(relayEvent(event))
}

func (f *Feed) publish(ev RelayEvent) {
	data, err := json.Marshal(Frame{
		Type:      FrameEvent,
		EventType: EventRelayMessage,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Payload:   ev,
	})
	if err != nil {
		f.logger.Error("encoding feed frame", "kind", ev.Kind, "error", err)
		return
	}

	f.mu.RLock()
	targets := make([]*viewer, 0, len(f.viewers))
	for v := range f.viewers {
		if v.wants(ev.Kind) {
			targets = append(targets, v)
		}
	}
	f.mu.RUnlock()

	for _, v := range targets {
		if !v.enqueue(data) {
			metrics.FeedDropped.WithLabelValues(ev.Kind).Inc()
		}
	}
}

// Viewers returns the number of connected feed clients.
func (f *Feed) Viewers() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.viewers)
}

func (f *Feed) attach(v *viewer) {
	f.mu.Lock()
	f.viewers[v] = struct{}{}
	n := len(f.viewers)
	f.mu.Unlock()
	f.logger.Debug("feed viewer connected", "viewers", n)
}

// detach removes v and closes its queue. Safe to call more than once.
func (f *Feed) detach(v *viewer) {
	f.mu.Lock()
	_, ok := f.viewers[v]
	delete(f.viewers, v)
	n := len(f.viewers)
	f.mu.Unlock()

	if ok {
		close(v.queue)
		f.logger.Debug("feed viewer disconnected", "viewers", n)
	}
}

func (f *Feed) disconnectAll() {
	f.mu.Lock()
	viewers := f.viewers
	f.viewers = make(map[*viewer]struct{})
	f.mu.Unlock()

	for v := range viewers {
		close(v.queue)
		if v.conn != nil {
			v.conn.Close()
		}
	}
}

// handleWebSocket attaches the caller to the live feed.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("feed upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	v := s.feed.newViewer(conn)
	s.feed.attach(v)

	ping, pong := keepalive(s.wsCfg)
	go v.writeLoop(ping, pong)
	go v.readLoop(int64(s.wsCfg.MaxMessageSize), ping+pong)
}

// keepalive returns the ping interval and pong timeout, defaulting unset
// values.
func keepalive(cfg config.WebSocketConfig) (ping, pong time.Duration) {
	ping, pong = defaultPingInterval, defaultPongTimeout
	if cfg.PingInterval > 0 {
		ping = time.Duration(cfg.PingInterval) * time.Second
	}
	if cfg.PongTimeout > 0 {
		pong = time.Duration(cfg.PongTimeout) * time.Second
	}
	return ping, pong
}

// readLoop handles control frames until the connection fails or goes idle
// for longer than idle.
func (v *viewer) readLoop(limit int64, idle time.Duration) {
	defer func() {
		v.feed.detach(v)
		v.conn.Close()
	}()

	if limit > 0 {
		v.conn.SetReadLimit(limit)
	}
	extend := func(string) error {
		return v.conn.SetReadDeadline(time.Now().Add(idle))
	}
	//nolint:errcheck // a failed deadline surfaces as a read error
	extend("")
	v.conn.SetPongHandler(extend)

	for {
		_, data, err := v.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				v.feed.logger.Warn("feed read failed", "error", err)
			}
			return
		}
		//nolint:errcheck // a failed deadline surfaces as a read error
		extend("")
		v.handle(data)
	}
}

// writeLoop drains the queue and pings the client every interval.
func (v *viewer) writeLoop(interval, timeout time.Duration) {
	ticker := time.NewTicker(interval)
	defer func() {
		ticker.Stop()
		v.conn.Close()
	}()

	write := func(kind int, data []byte) error {
		//nolint:errcheck // a failed deadline surfaces as a write error
		v.conn.SetWriteDeadline(time.Now().Add(timeout))
		return v.conn.WriteMessage(kind, data)
	}

	for {
		select {
		case data, ok := <-v.queue:
			if !ok {
				//nolint:errcheck // peer may already be gone
				write(websocket.CloseMessage, nil)
				return
			}
			if write(websocket.TextMessage, data) != nil {
				return
			}
		case <-ticker.C:
			if write(websocket.PingMessage, nil) != nil {
				return
			}
		}
	}
}

// handle processes one control frame from the client.
func (v *viewer) handle(data []byte) {
	var in struct {
		Type    string          `json:"type"`
		ID      string          `json:"id"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &in); err != nil {
		v.reply("", FrameError, errorBody("malformed frame"))
		return
	}

	switch in.Type {
	case FrameFilter:
		var req FilterRequest
		if len(in.Payload) == 0 || json.Unmarshal(in.Payload, &req) != nil {
			v.reply(in.ID, FrameError, errorBody("filter needs a kinds list"))
			return
		}
		for _, k := range req.Kinds {
			if !slices.Contains(relayKinds, k) {
				v.reply(in.ID, FrameError, errorBody("unknown kind: "+k))
				return
			}
		}
		v.setKinds(req.Kinds)
		v.reply(in.ID, FrameAck, FilterRequest{Kinds: v.activeKinds()})
	case FramePing:
		v.reply(in.ID, FramePong, nil)
	default:
		v.reply(in.ID, FrameError, errorBody("unsupported frame type: "+in.Type))
	}
}

func errorBody(msg string) map[string]string {
	return map[string]string{"message": msg}
}

func (v *viewer) setKinds(kinds []string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, k := range relayKinds {
		v.kinds[k] = slices.Contains(kinds, k)
	}
}

// activeKinds never returns nil so the ack always carries a list.
func (v *viewer) activeKinds() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]string, 0, len(relayKinds))
	for _, k := range relayKinds {
		if v.kinds[k] {
			out = append(out, k)
		}
	}
	return out
}

func (v *viewer) wants(kind string) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.kinds[kind]
}

func (v *viewer) reply(id, frameType string, payload any) {
	data, err := json.Marshal(Frame{
		Type:      frameType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		return
	}
	v.enqueue(data)
}

// enqueue reports false when the frame was dropped because the queue is
// full or the viewer has already been detached.
func (v *viewer) enqueue(data []byte) (sent bool) {
	defer func() {
		if recover() != nil {
			sent = false
		}
	}()
	select {
	case v.queue <- data:
		return true
	default:
		return false
	}
}
