package ws

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"parkpilot/internal/http/middleware"
	"parkpilot/internal/livefeed"
)

const (
	writeTimeout = 10 * time.Second
	pongTimeout  = 60 * time.Second
	pingInterval = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// FeedHandler pushes the caller's live session events over a websocket. It
// is the outward transport of the store→client subscription: a device keeps
// one open while the app is foregrounded.
type FeedHandler struct {
	subscriber *livefeed.Subscriber
	logger     *zap.Logger
}

// NewFeedHandler builds handler.
func NewFeedHandler(subscriber *livefeed.Subscriber, logger *zap.Logger) *FeedHandler {
	return &FeedHandler{
		subscriber: subscriber,
		logger:     logger,
	}
}

// Handle upgrades GET /sessions/feed and streams events until the client
// disconnects.
func (h *FeedHandler) Handle(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		http.Error(w, "missing user", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx := r.Context()
	events, err := h.subscriber.Subscribe(ctx, userID)
	if err != nil {
		h.logger.Warn("failed to subscribe session feed",
			zap.Int64("user_id", userID),
			zap.Error(err),
		)
		return
	}

	// Reads only service control frames; a read error means the client went
	// away and the write loop should stop.
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(512)
		conn.SetReadDeadline(time.Now().Add(pongTimeout))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(pongTimeout))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case ev, ok := <-events:
			if !ok {
				return
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				h.logger.Warn("failed to encode feed event", zap.Error(err))
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				h.logger.Info("feed connection closed",
					zap.Int64("user_id", userID),
					zap.Error(err),
				)
				return
			}
		}
	}
}
