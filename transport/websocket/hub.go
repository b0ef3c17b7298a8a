package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/zyedidia/generic/mapset"
	"go.uber.org/zap"

	"github.com/wricardo/wellmap/game/engine"
)

const (
	writeTimeout   = 10 * time.Second
	idleTimeout    = 60 * time.Second
	pingInterval   = idleTimeout * 9 / 10
	maxFilterBytes = 1024

	// Frames queued for the Run loop before Publish starts dropping
	broadcastBuffer = 256

	// Frames queued per viewer before it is considered stuck and dropped
	viewerBuffer = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// The map viewer may be served from another origin
		return true
	},
}

// Frame is one outbound message: an engine event addressed to a session
type Frame struct {
	SessionID string `json:"session_id"`
	Event     string `json:"event"`
	Data      any    `json:"data,omitempty"`
}

// Filter is what a viewer may send to narrow the events it receives.
// An empty list restores the full stream.
type Filter struct {
	Events []engine.EventType `json:"events"`
}

// viewer is one connected map view following a session
type viewer struct {
	hub     *Hub
	conn    *websocket.Conn
	out     chan []byte
	session string

	// only touched by the Run goroutine; nil means every event
	events map[string]bool
}

type filterChange struct {
	v      *viewer
	events map[string]bool
}

// Hub fans engine events out to the map views following each session.
// The viewer table is owned by the Run goroutine.
type Hub struct {
	views     map[string]mapset.Set[*viewer]
	broadcast chan Frame
	register  chan *viewer
	leave     chan *viewer
	filters   chan filterChange
	done      chan struct{}
	log       *zap.Logger
}

// NewHub creates a hub; call Run before serving connections
func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		views:     make(map[string]mapset.Set[*viewer]),
		broadcast: make(chan Frame, broadcastBuffer),
		register:  make(chan *viewer),
		leave:     make(chan *viewer),
		filters:   make(chan filterChange),
		done:      make(chan struct{}),
		log:       log,
	}
}

// Run processes joins, leaves, filter changes and frames until ctx is done
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for _, set := range h.views {
				set.Each(h.drop)
			}
			return
		case v := <-h.register:
			h.add(v)
		case v := <-h.leave:
			h.drop(v)
		case fc := <-h.filters:
			fc.v.events = fc.events
		case f := <-h.broadcast:
			h.deliver(f)
		}
	}
}

// ServeWS upgrades the request and attaches the connection to sessionID
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, sessionID string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.String("session", sessionID), zap.Error(err))
		return
	}

	v := &viewer{
		hub:     h,
		conn:    conn,
		out:     make(chan []byte, viewerBuffer),
		session: sessionID,
	}
	select {
	case h.register <- v:
	case <-h.done:
		conn.Close()
		return
	}

	go v.writeLoop()
	go v.readLoop()
}

// Publish is an engine.Observer. It never blocks the engine: when the hub
// falls behind the event is dropped.
func (h *Hub) Publish(e engine.Event) {
	h.BroadcastEvent(e.Context, string(e.Type), e)
}

// BroadcastEvent queues an arbitrary payload for the viewers of a session
func (h *Hub) BroadcastEvent(sessionID, event string, data any) {
	select {
	case h.broadcast <- Frame{SessionID: sessionID, Event: event, Data: data}:
	default:
		h.log.Warn("websocket frame dropped", zap.String("session", sessionID), zap.String("event", event))
	}
}

func (h *Hub) add(v *viewer) {
	set, ok := h.views[v.session]
	if !ok {
		set = mapset.New[*viewer]()
		h.views[v.session] = set
	}
	set.Put(v)
	h.log.Debug("viewer joined", zap.String("session", v.session), zap.Int("viewers", set.Size()))
}

func (h *Hub) drop(v *viewer) {
	set, ok := h.views[v.session]
	if !ok || !set.Has(v) {
		return
	}
	set.Remove(v)
	close(v.out)
	if set.Size() == 0 {
		delete(h.views, v.session)
	}
	h.log.Debug("viewer left", zap.String("session", v.session), zap.Int("viewers", set.Size()))
}

func (h *Hub) deliver(f Frame) {
	set, ok := h.views[f.SessionID]
	if !ok {
		return
	}
	data, err := json.Marshal(f)
	if err != nil {
		h.log.Warn("failed to encode frame", zap.String("event", f.Event), zap.Error(err))
		return
	}

	set.Each(func(v *viewer) {
		if v.events != nil && !v.events[f.Event] {
			return
		}
		select {
		case v.out <- data:
		default:
			h.log.Warn("dropping stalled viewer", zap.String("session", v.session))
			h.drop(v)
		}
	})
}

func parseFilter(raw []byte) (map[string]bool, error) {
	var f Filter
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, err
	}
	if len(f.Events) == 0 {
		return nil, nil
	}
	events := make(map[string]bool, len(f.Events))
	for _, e := range f.Events {
		events[string(e)] = true
	}
	return events, nil
}

// readLoop handles pongs and filter messages until the peer goes away
func (v *viewer) readLoop() {
	defer func() {
		select {
		case v.hub.leave <- v:
		case <-v.hub.done:
		}
		v.conn.Close()
	}()

	v.conn.SetReadLimit(maxFilterBytes)
	v.conn.SetReadDeadline(time.Now().Add(idleTimeout))
	v.conn.SetPongHandler(func(string) error {
		return v.conn.SetReadDeadline(time.Now().Add(idleTimeout))
	})

	for {
		_, raw, err := v.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				v.hub.log.Debug("viewer connection closed", zap.String("session", v.session), zap.Error(err))
			}
			return
		}
		events, err := parseFilter(raw)
		if err != nil {
			v.hub.log.Debug("ignoring malformed filter", zap.String("session", v.session), zap.Error(err))
			continue
		}
		select {
		case v.hub.filters <- filterChange{v: v, events: events}:
		case <-v.hub.done:
			return
		}
	}
}

// writeLoop sends one frame per websocket message and keeps the peer alive with pings
func (v *viewer) writeLoop() {
	ping := time.NewTicker(pingInterval)
	defer func() {
		ping.Stop()
		v.conn.Close()
	}()

	for {
		select {
		case data, ok := <-v.out:
			v.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				v.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := v.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ping.C:
			v.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := v.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
