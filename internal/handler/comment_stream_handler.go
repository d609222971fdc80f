package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/vidshare/backend/internal/broker"
	"github.com/vidshare/backend/internal/service"
	"github.com/vidshare/backend/pkg/logger"
	"go.uber.org/zap"
)

const (
	maxSessionLifetime = 15 * time.Minute
	writeWait          = 10 * time.Second // Time allowed to write a message to the peer
	pongWait           = 60 * time.Second
	pingPeriod         = (pongWait * 9) / 10 // 54 seconds
	maxMessageSize     = 512                 // clients only send control frames
)

// StreamFrame is one JSON frame sent to a live comment client.
type StreamFrame struct {
	Type    string          `json:"type"` // "comment", "session_expired", "error"
	Comment json.RawMessage `json:"comment,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// CommentStreamHandler pushes new comments of one video over a WebSocket.
type CommentStreamHandler struct {
	commentService  *service.CommentService
	upgrader        websocket.Upgrader
	sessionLifetime time.Duration

	mu      sync.Mutex
	clients map[*websocket.Conn]string // conn -> video id
}

func NewCommentStreamHandler(commentService *service.CommentService, allowedOrigins []string) *CommentStreamHandler {
	return &CommentStreamHandler{
		commentService: commentService,
		upgrader: websocket.Upgrader{
			CheckOrigin: originChecker(allowedOrigins),
		},
		sessionLifetime: maxSessionLifetime,
		clients:         make(map[*websocket.Conn]string),
	}
}

// ActiveStreams reports how many clients are connected.
func (h *CommentStreamHandler) ActiveStreams() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *CommentStreamHandler) Stream(c *gin.Context) {
	videoID := c.Param("videoId")

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// Subscribe before the upgrade so a missing broker is still a plain HTTP answer
	events, err := h.commentService.Subscribe(ctx, videoID)
	if err != nil {
		if errors.Is(err, broker.ErrUnavailable) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "live comments unavailable"})
			return
		}
		respondError(c, err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Log.Warn("WebSocket upgrade failed",
			zap.String("video_id", videoID),
			zap.Error(err),
		)
		return
	}

	h.addClient(conn, videoID)
	defer h.removeClient(conn)

	connectedAt := time.Now()
	logger.Log.Info("Live comment client connected",
		zap.String("video_id", videoID),
		zap.Int("active", h.ActiveStreams()),
	)

	go h.readPump(conn, cancel)
	h.writePump(ctx, conn, events)

	logger.Log.Info("Live comment client disconnected",
		zap.String("video_id", videoID),
		zap.Duration("session_duration", time.Since(connectedAt).Round(time.Second)),
	)
}

// readPump discards client frames and keeps the read deadline alive.
// It cancels the session when the peer goes away.
func (h *CommentStreamHandler) readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Log.Debug("WebSocket read error", zap.Error(err))
			}
			return
		}
	}
}

// writePump is the only writer on conn.
func (h *CommentStreamHandler) writePump(ctx context.Context, conn *websocket.Conn, events <-chan broker.Event) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	sessionTimer := time.NewTimer(h.sessionLifetime)
	defer sessionTimer.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-sessionTimer.C:
			h.closeGracefully(conn, "session expired after 15 minutes")
			return

		case event, ok := <-events:
			if !ok {
				h.closeGracefully(conn, "comment stream closed")
				return
			}
			if event.Type != broker.EventCommentPosted {
				continue
			}

			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(StreamFrame{Type: "comment", Comment: event.Payload}); err != nil {
				logger.Log.Debug("Failed to write comment frame", zap.Error(err))
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *CommentStreamHandler) closeGracefully(conn *websocket.Conn, reason string) {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(StreamFrame{Type: "session_expired", Error: reason}); err != nil {
		logger.Log.Debug("Failed to send session_expired frame", zap.Error(err))
	}

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason),
	); err != nil {
		logger.Log.Debug("Failed to send close frame", zap.Error(err))
	}
}

func (h *CommentStreamHandler) addClient(conn *websocket.Conn, videoID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[conn] = videoID
}

func (h *CommentStreamHandler) removeClient(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.clients[conn]; exists {
		delete(h.clients, conn)
		conn.Close()
	}
}

// originChecker allows same-origin requests, requests without an Origin
// header, and origins in the allow list. "*" allows everything.
func originChecker(allowed []string) func(r *http.Request) bool {
	allowAll := false
	set := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		if origin == "*" {
			allowAll = true
		}
		set[origin] = struct{}{}
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if allowAll || origin == "" {
			return true
		}
		if _, ok := set[origin]; ok {
			return true
		}
		u, err := url.Parse(origin)
		return err == nil && u.Host == r.Host
	}
}
