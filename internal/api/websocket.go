package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/minifc/internal/controller"
	"github.com/nerrad567/minifc/internal/infrastructure/logging"
	"github.com/nerrad567/minifc/internal/router"
)

// Feed channels.
const (
	// ChannelStage carries every stage event of the device.
	ChannelStage = "stage"

	// ChannelPatch carries desired-state patches applied by the brain.
	ChannelPatch = "patch"
)

const (
	feedBuffer     = 64
	feedReadLimit  = 512
	feedPingPeriod = 30 * time.Second
	feedWriteWait  = 10 * time.Second
)

// Frame is one message on the live feed.
type Frame struct {
	Channel   string `json:"channel"`
	Timestamp string `json:"timestamp"`
	Data      any    `json:"data"`
}

// Hub fans stage events and routed patches out to WebSocket viewers.
//
// The feed is one way: a viewer picks its channels with ?channel= when it
// connects and anything it sends is discarded. A viewer more than
// feedBuffer frames behind loses the overflow, counted in Dropped.
type Hub struct {
	logger  *logging.Logger
	mu      sync.Mutex
	viewers map[*viewer]struct{}
	dropped atomic.Uint64
}

type viewer struct {
	conn     *websocket.Conn
	channels map[string]bool
	out      chan []byte
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  512,
	WriteBufferSize: 1024,
	// LAN-local server; no browser origin policy to enforce.
	CheckOrigin: func(*http.Request) bool { return true },
}

// NewHub creates an empty hub.
func NewHub(logger *logging.Logger) *Hub {
	return &Hub{
		logger:  logger,
		viewers: make(map[*viewer]struct{}),
	}
}

// Run blocks until ctx is cancelled, then disconnects every viewer.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.mu.Lock()
	defer h.mu.Unlock()
	for v := range h.viewers {
		delete(h.viewers, v)
		close(v.out)
	}
}

// StageSink returns a controller.Sink relaying stage events to the
// stage channel.
func (h *Hub) StageSink() controller.Sink {
	return func(ev controller.StageEvent) {
		h.publish(ChannelStage, ev)
	}
}

// PatchObserver relays applied patches to the patch channel.
func (h *Hub) PatchObserver(source string, patch router.Patch) {
	h.publish(ChannelPatch, map[string]any{
		"source": source,
		"patch":  patch,
	})
}

// ClientCount returns the number of connected viewers.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.viewers)
}

// Dropped returns the number of frames lost to slow viewers.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

// publish queues one frame for every viewer of channel. Sends and closes
// of a viewer's queue both happen under h.mu.
func (h *Hub) publish(channel string, data any) {
	frame, err := json.Marshal(Frame{
		Channel:   channel,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Data:      data,
	})
	if err != nil {
		h.logger.Error("feed frame not encodable", "channel", channel, "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for v := range h.viewers {
		if !v.channels[channel] {
			continue
		}
		select {
		case v.out <- frame:
		default:
			h.dropped.Add(1)
		}
	}
}

func (h *Hub) add(v *viewer) {
	h.mu.Lock()
	h.viewers[v] = struct{}{}
	n := len(h.viewers)
	h.mu.Unlock()
	h.logger.Debug("feed viewer connected", "viewers", n)
}

// remove drops v and closes its queue. Later calls are no-ops.
func (h *Hub) remove(v *viewer) {
	h.mu.Lock()
	_, ok := h.viewers[v]
	if ok {
		delete(h.viewers, v)
		close(v.out)
	}
	n := len(h.viewers)
	h.mu.Unlock()
	if ok {
		h.logger.Debug("feed viewer disconnected", "viewers", n)
	}
}

// feedChannels parses the channel query parameter. Values may repeat or be
// comma separated; none selects every channel.
func feedChannels(q url.Values) (map[string]bool, error) {
	channels := make(map[string]bool)
	for _, raw := range q["channel"] {
		for _, name := range strings.Split(raw, ",") {
			switch name = strings.TrimSpace(name); name {
			case ChannelStage, ChannelPatch:
				channels[name] = true
			case "":
			default:
				return nil, fmt.Errorf("unknown feed channel %q", name)
			}
		}
	}
	if len(channels) == 0 {
		channels[ChannelStage] = true
		channels[ChannelPatch] = true
	}
	return channels, nil
}

// handleWebSocket upgrades the request into a feed viewer.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	channels, err := feedChannels(r.URL.Query())
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	v := &viewer{conn: conn, channels: channels, out: make(chan []byte, feedBuffer)}
	s.hub.add(v)
	go s.hub.write(v)
	go s.hub.discard(v)
}

// discard reads and drops whatever the viewer sends, keeping pongs and the
// close handshake flowing. A read error ends the viewer.
func (h *Hub) discard(v *viewer) {
	defer h.remove(v)

	v.conn.SetReadLimit(feedReadLimit)
	v.conn.SetReadDeadline(time.Now().Add(feedPingPeriod + feedWriteWait)) //nolint:errcheck // read error follows
	v.conn.SetPongHandler(func(string) error {
		return v.conn.SetReadDeadline(time.Now().Add(feedPingPeriod + feedWriteWait))
	})
	for {
		if _, _, err := v.conn.NextReader(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("feed viewer read error", "error", err)
			}
			return
		}
	}
}

// write drains the viewer's queue and pings it. The queue closing ends the
// connection.
func (h *Hub) write(v *viewer) {
	ticker := time.NewTicker(feedPingPeriod)
	defer func() {
		ticker.Stop()
		v.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-v.out:
			v.conn.SetWriteDeadline(time.Now().Add(feedWriteWait)) //nolint:errcheck // write error follows
			if !ok {
				v.conn.WriteMessage(websocket.CloseMessage, nil) //nolint:errcheck // best-effort close
				return
			}
			if err := v.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				h.remove(v)
				return
			}
		case <-ticker.C:
			v.conn.SetWriteDeadline(time.Now().Add(feedWriteWait)) //nolint:errcheck // write error follows
			if err := v.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.remove(v)
				return
			}
		}
	}
}
