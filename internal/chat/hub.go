package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/cheerup/internal/observability"
)

var ErrNoListeners = errors.New("no listeners on channel")

type client struct {
	ch chan []byte
}

// Hub fans messages out to websocket clients subscribed to a channel. Slow
// clients drop messages rather than block senders.
type Hub struct {
	mu       sync.RWMutex
	channels map[string]map[*client]struct{}
	logger   *slog.Logger

	// RequireListener makes Send fail with ErrNoListeners when nobody is
	// subscribed to the channel.
	RequireListener bool
	Metrics         *observability.Metrics
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		channels: make(map[string]map[*client]struct{}),
		logger:   logger,
	}
}

func (h *Hub) Send(_ context.Context, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	subs := h.channels[msg.ChannelID]
	if len(subs) == 0 {
		if h.RequireListener {
			return fmt.Errorf("%w: %q", ErrNoListeners, msg.ChannelID)
		}
		return nil
	}
	for c := range subs {
		select {
		case c.ch <- data:
		default:
			h.logger.Warn("hub client slow, message dropped", slog.String("channel_id", msg.ChannelID))
		}
	}
	return nil
}

// Listeners returns the number of clients subscribed to channelID.
func (h *Hub) Listeners(channelID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels[channelID])
}

func (h *Hub) subscribe(channelID string) (*client, func()) {
	c := &client{ch: make(chan []byte, 64)}
	h.mu.Lock()
	if _, ok := h.channels[channelID]; !ok {
		h.channels[channelID] = make(map[*client]struct{})
	}
	h.channels[channelID][c] = struct{}{}
	h.mu.Unlock()

	return c, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		subs := h.channels[channelID]
		if _, ok := subs[c]; ok {
			delete(subs, c)
			close(c.ch)
		}
		if len(subs) == 0 {
			delete(h.channels, channelID)
		}
	}
}

// Serve streams channelID's messages to conn until the peer goes away or ctx
// ends. Inbound frames are read only to notice the close.
func (h *Hub) Serve(ctx context.Context, channelID string, conn *websocket.Conn) {
	channelID = strings.TrimSpace(channelID)
	c, unsubscribe := h.subscribe(channelID)
	defer unsubscribe()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		defer cancel()
		conn.SetReadLimit(4 << 10)
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
			h.Metrics.IncWSMessage("inbound", "frame")
			_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		}
	}()

	ping := time.NewTicker(30 * time.Second)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case data, ok := <-c.ch:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.logger.Debug("hub write failed", slog.String("channel_id", channelID), slog.Any("err", err))
				return
			}
			h.Metrics.IncWSMessage("outbound", "chat_message")
		}
	}
}
