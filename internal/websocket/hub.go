package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"replyhub/backend/internal/auth/jwt"
	"replyhub/backend/internal/reconcile"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// allWorkspaces 订阅全部工作区时使用的键
const allWorkspaces = "*"

// upgraderFactory 创建带有 Origin 验证的 WebSocket 升级器
func upgraderFactory(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			requestOrigin := r.Header.Get("Origin")
			if requestOrigin == "" {
				return true
			}
			for _, origin := range allowedOrigins {
				if origin == "*" || requestOrigin == origin {
					return true
				}
			}
			return false
		},
	}
}

// MessageType 定义WebSocket消息类型
type MessageType string

const (
	MessageTypeReconciled  MessageType = reconcile.NotificationMessageReconciled
	MessageTypeSubscribe   MessageType = "subscribe"
	MessageTypeUnsubscribe MessageType = "unsubscribe"
	MessageTypeSubscribed  MessageType = "subscribed"
	MessageTypeError       MessageType = "error"
)

// Message 定义WebSocket消息结构
type Message struct {
	Type           MessageType `json:"type"`
	WorkspaceID    string      `json:"workspaceId,omitempty"`
	ConversationID string      `json:"conversationId,omitempty"`
	MessageID      string      `json:"messageId,omitempty"`
	Platform       string      `json:"platform,omitempty"`
	Error          string      `json:"error,omitempty"`
	Timestamp      time.Time   `json:"timestamp"`
}

// Client 代表一个WebSocket客户端连接
type Client struct {
	ID     string
	UserID string

	conn       *websocket.Conn
	send       chan []byte
	hub        *Hub
	workspaces map[string]bool // 订阅的工作区，"*" 表示全部
	mu         sync.Mutex
}

// Hub 管理所有WebSocket连接，并把对账引擎产生的新邮件通知推送给订阅者
type Hub struct {
	clients    map[string]*Client            // clientID -> Client
	workspaces map[string]map[string]*Client // workspaceID -> clientID -> Client
	register   chan *Client
	unregister chan *Client
	broadcast  chan *Message
	done       chan struct{}
	mu         sync.RWMutex

	tokens         *jwt.Manager
	allowedOrigins []string
	log            *zap.Logger
}

// NewHub 创建WebSocket Hub
func NewHub(allowedOrigins []string, tokens *jwt.Manager, log *zap.Logger) *Hub {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	if log == nil {
		log = zap.NewNop()
	}

	return &Hub{
		clients:        make(map[string]*Client),
		workspaces:     make(map[string]map[string]*Client),
		register:       make(chan *Client),
		unregister:     make(chan *Client),
		broadcast:      make(chan *Message, 256),
		done:           make(chan struct{}),
		tokens:         tokens,
		allowedOrigins: allowedOrigins,
		log:            log,
	}
}

// Run 启动Hub，ctx 取消时关闭所有连接
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.log.Info("websocket hub stopped")
			h.closeAllClients()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.ID] = client
			h.mu.Unlock()
			h.log.Debug("client registered", zap.String("client_id", client.ID), zap.String("user_id", client.UserID))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.ID]; ok {
				for workspaceID := range client.workspaces {
					h.removeSubscriberLocked(workspaceID, client.ID)
				}
				delete(h.clients, client.ID)
				close(client.send)
				h.log.Debug("client unregistered", zap.String("client_id", client.ID))
			}
			h.mu.Unlock()

		case msg := <-h.broadcast:
			h.broadcastToWorkspace(msg)
		}
	}
}

// Notify 实现 reconcile.Notifier，不阻塞对账流程
func (h *Hub) Notify(n reconcile.Notification) {
	msg := &Message{
		Type:           MessageType(n.Type),
		WorkspaceID:    n.WorkspaceID,
		ConversationID: n.ConversationID,
		MessageID:      n.MessageID,
		Platform:       n.Platform.Tag(),
		Timestamp:      time.Now().UTC(),
	}

	select {
	case h.broadcast <- msg:
	default:
		h.log.Warn("notification dropped, broadcast buffer full",
			zap.String("workspace_id", n.WorkspaceID),
			zap.String("message_id", n.MessageID))
	}
}

// ClientCount 当前连接数
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// broadcastToWorkspace 向订阅该工作区（或全部工作区）的客户端广播
func (h *Hub) broadcastToWorkspace(msg *Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.log.Error("failed to marshal message", zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	sent := make(map[string]bool)
	for _, key := range []string{msg.WorkspaceID, allWorkspaces} {
		for id, client := range h.workspaces[key] {
			if sent[id] {
				continue
			}
			sent[id] = true
			select {
			case client.send <- data:
			default:
				h.log.Warn("client channel blocked, skipping", zap.String("client_id", id))
			}
		}
	}
}

func (h *Hub) subscribe(c *Client, workspaceID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.workspaces[workspaceID] == nil {
		h.workspaces[workspaceID] = make(map[string]*Client)
	}
	h.workspaces[workspaceID][c.ID] = c
}

func (h *Hub) unsubscribe(c *Client, workspaceID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeSubscriberLocked(workspaceID, c.ID)
}

func (h *Hub) removeSubscriberLocked(workspaceID, clientID string) {
	if clients, ok := h.workspaces[workspaceID]; ok {
		delete(clients, clientID)
		if len(clients) == 0 {
			delete(h.workspaces, workspaceID)
		}
	}
}

// closeAllClients 关闭所有客户端连接，读写协程随之退出
func (h *Hub) closeAllClients() {
	close(h.done)

	h.mu.Lock()
	defer h.mu.Unlock()

	for _, client := range h.clients {
		client.conn.Close()
	}
	h.clients = make(map[string]*Client)
	h.workspaces = make(map[string]map[string]*Client)
}

// HandleWebSocket 处理WebSocket连接，令牌通过 ?token= 或 Authorization 头传入
func HandleWebSocket(hub *Hub) gin.HandlerFunc {
	upgrader := upgraderFactory(hub.allowedOrigins)

	return func(c *gin.Context) {
		token := c.Query("token")
		if token == "" {
			if h := c.GetHeader("Authorization"); len(h) > 7 && h[:7] == "Bearer " {
				token = h[7:]
			}
		}
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}

		claims, err := hub.tokens.ValidateToken(token)
		if err != nil {
			hub.log.Warn("websocket authentication failed",
				zap.Error(err),
				zap.String("remote_addr", c.ClientIP()))
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			hub.log.Error("failed to upgrade connection",
				zap.Error(err),
				zap.String("origin", c.Request.Header.Get("Origin")),
				zap.String("remote_addr", c.ClientIP()))
			return
		}

		client := &Client{
			ID:         uuid.New().String(),
			UserID:     claims.UserID,
			conn:       conn,
			send:       make(chan []byte, 256),
			hub:        hub,
			workspaces: make(map[string]bool),
		}
		select {
		case hub.register <- client:
		case <-hub.done:
			conn.Close()
			return
		}

		go client.writePump()
		go client.readPump()
	}
}

// readPump 处理客户端消息
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Warn("websocket error", zap.String("client_id", c.ID), zap.Error(err))
			}
			return
		}
		c.handleMessage(&msg)
	}
}

// writePump 发送消息给客户端
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.hub.done:
			return
		}
	}
}

// handleMessage 处理订阅请求，workspaceId 为空表示订阅全部工作区
func (c *Client) handleMessage(msg *Message) {
	workspaceID := msg.WorkspaceID
	if workspaceID == "" {
		workspaceID = allWorkspaces
	}

	switch msg.Type {
	case MessageTypeSubscribe:
		c.mu.Lock()
		c.workspaces[workspaceID] = true
		c.mu.Unlock()
		c.hub.subscribe(c, workspaceID)
		c.sendMessage(&Message{Type: MessageTypeSubscribed, WorkspaceID: msg.WorkspaceID, Timestamp: time.Now().UTC()})

	case MessageTypeUnsubscribe:
		c.mu.Lock()
		delete(c.workspaces, workspaceID)
		c.mu.Unlock()
		c.hub.unsubscribe(c, workspaceID)

	default:
		c.sendMessage(&Message{Type: MessageTypeError, Error: "unknown message type", Timestamp: time.Now().UTC()})
	}
}

// sendMessage 发送消息给客户端
func (c *Client) sendMessage(msg *Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}

	select {
	case c.send <- data:
	default:
		c.hub.log.Warn("client channel blocked", zap.String("client_id", c.ID))
	}
}
