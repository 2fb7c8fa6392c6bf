package realtime

import (
	"context"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/z-interview/backend/internal/service/interview"
)

const (
	readTimeout  = 60 * time.Second
	writeTimeout = 10 * time.Second
	pingInterval = 54 * time.Second
)

// Sessions 是推送通道依赖的会话能力。
type Sessions interface {
	Say(ctx context.Context, room, text string, start time.Time) (interview.SayResult, error)
	AttachClient(room string, client interview.Client) error
	DetachClient(room string, client interview.Client)
}

// WebSocketHandler 把面试房间的事件推送给浏览器，并接收文本消息驱动对话
type WebSocketHandler struct {
	sessions Sessions
	upgrader websocket.Upgrader
}

// NewWebSocketHandler 创建WebSocket处理器
func NewWebSocketHandler(sessions Sessions) *WebSocketHandler {
	return &WebSocketHandler{
		sessions: sessions,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes 注册WebSocket路由
func (h *WebSocketHandler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/{room}", h.handleWebSocket)
}

type inboundMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// wsClient 串行化对同一连接的写入。
type wsClient struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *wsClient) Send(event interview.Event) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteJSON(event)
}

// handleWebSocket 处理WebSocket连接
func (h *WebSocketHandler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	room := chi.URLParam(r, "room")

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[websocket] upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	client := &wsClient{conn: conn}
	if err := h.sessions.AttachClient(room, client); err != nil {
		log.Printf("[websocket] room=%s attach failed: %v", room, err)
		h.send(client, interview.ErrorEvent("Room not found"))
		closeMsg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "room not found")
		_ = conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(writeTimeout))
		return
	}
	defer h.sessions.DetachClient(room, client)

	log.Printf("[websocket] new connection for room: %s", room)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	go h.pingLoop(ctx, conn)

	h.send(client, interview.ConnectedEvent(room))

	for {
		var msg inboundMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[websocket] room=%s read error: %v", room, err)
			}
			return
		}

		h.handleMessage(ctx, client, room, &msg)
		conn.SetReadDeadline(time.Now().Add(readTimeout))
	}
}

func (h *WebSocketHandler) handleMessage(ctx context.Context, client *wsClient, room string, msg *inboundMessage) {
	switch msg.Type {
	case "message":
		if msg.Message == "" {
			h.send(client, interview.ErrorEvent("message is required"))
			return
		}
		start := time.Now()
		h.send(client, interview.ProcessingEvent())

		result, err := h.sessions.Say(ctx, room, msg.Message, start)
		if err != nil {
			log.Printf("[websocket] room=%s say failed: %v", room, err)
			h.send(client, interview.ErrorEvent(errorText(err)))
			return
		}
		h.send(client, interview.ResponseEvent(result))
		log.Printf("[websocket] room=%s replied in %s", room, time.Since(start).Round(time.Millisecond))
	case "ping":
		h.send(client, interview.PongEvent())
	default:
		h.send(client, interview.ErrorEvent("unsupported message type: "+msg.Type))
	}
}

func (h *WebSocketHandler) send(client *wsClient, event interview.Event) {
	if err := client.Send(event); err != nil {
		log.Printf("[websocket] write %s failed: %v", event.Type, err)
	}
}

func errorText(err error) string {
	if errors.Is(err, interview.ErrSessionNotFound) {
		return "Room not found"
	}
	return err.Error()
}

// pingLoop 定期发送ping消息
func (h *WebSocketHandler) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		}
	}
}
