package service

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"xapi_sync_backend/internal/model"
	"xapi_sync_backend/pkg/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WSMessage 推给前端的事件信封
type WSMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

const (
	WSTypeSyncState       = "SYNC_STATE"
	WSTypeSyncProgress    = "SYNC_PROGRESS"
	WSTypeStatementUpdate = "STATEMENT_UPDATE"
	WSTypeCourseProgress  = "COURSE_PROGRESS"
	WSTypeQueueEvent      = "QUEUE_EVENT"
)

// SyncClient 一条 websocket 连接
type SyncClient struct {
	Hub     *SyncHub
	Conn    *websocket.Conn
	Send    chan []byte
	ID      string
	Limiter *rate.Limiter
}

func (c *SyncClient) readPump() {
	defer func() {
		c.Hub.unregister <- c
		c.Conn.Close()
	}()
	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error { c.Conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		// 纯下行通道，上行内容只用于保活，读到即丢
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Log.Error("WebSocket unexpected close", zap.Error(err), zap.String("clientId", c.ID))
			}
			break
		}
		if !c.Limiter.Allow() {
			continue
		}
	}
}

func (c *SyncClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.Conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			if n := len(c.Send); n > 0 {
				for i := 0; i < n; i++ {
					w.Write(<-c.Send)
				}
			}

			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// SyncHub 把同步引擎的事件实时推给订阅端
type SyncHub struct {
	mu         sync.RWMutex
	clients    map[string]*SyncClient
	broadcast  chan []byte
	register   chan *SyncClient
	unregister chan *SyncClient
	done       chan struct{}
	stopOnce   sync.Once
}

func NewSyncHub() *SyncHub {
	return &SyncHub{
		clients:    make(map[string]*SyncClient),
		broadcast:  make(chan []byte, 64),
		register:   make(chan *SyncClient),
		unregister: make(chan *SyncClient),
		done:       make(chan struct{}),
	}
}

// Attach 订阅同步引擎的各路事件
func (h *SyncHub) Attach(manager *SyncManager, processor *StatementProcessor, queue *StatementQueue) {
	manager.OnStateChange(func(state model.SyncState) {
		h.Broadcast(WSMessage{Type: WSTypeSyncState, Data: map[string]interface{}{"state": state}})
	})
	manager.OnProgress(func(progress float64) {
		h.Broadcast(WSMessage{Type: WSTypeSyncProgress, Data: map[string]interface{}{"progress": progress}})
	})
	processor.OnStatementUpdate(func(update model.StatementUpdate) {
		h.Broadcast(WSMessage{Type: WSTypeStatementUpdate, Data: update})
	})
	processor.OnProgressUpdate(func(update model.ProgressUpdate) {
		h.Broadcast(WSMessage{Type: WSTypeCourseProgress, Data: update})
	})
	queue.Subscribe(func(ev model.QueueEvent) {
		h.Broadcast(WSMessage{Type: WSTypeQueueEvent, Data: ev})
	})
}

func (h *SyncHub) Run() {
	for {
		select {
		case <-h.done:
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.ID] = client
			h.mu.Unlock()
			logger.Log.Debug("sync client connected", zap.String("clientId", client.ID))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.ID]; ok {
				delete(h.clients, client.ID)
				close(client.Send)
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.RLock()
			for _, client := range h.clients {
				select {
				case client.Send <- message:
				default:
					// 慢消费者丢弃，不阻塞广播
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Broadcast 序列化一次，推给全部连接
func (h *SyncHub) Broadcast(msg WSMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case h.broadcast <- payload:
	default:
		logger.Log.Warn("sync hub broadcast buffer full, dropping event", zap.String("type", msg.Type))
	}
}

func (h *SyncHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Stop 关闭全部连接并停止事件循环
func (h *SyncHub) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
	})

	h.mu.Lock()
	closed := 0
	for id, client := range h.clients {
		close(client.Send)
		delete(h.clients, id)
		closed++
	}
	h.mu.Unlock()

	logger.Log.Info("sync hub stopped", zap.Int("closedConnections", closed))
}

// ServeSyncWs 升级连接并挂到 hub
func ServeSyncWs(hub *SyncHub, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Log.Error("WebSocket upgrade failed", zap.Error(err))
		return
	}
	client := &SyncClient{
		Hub:     hub,
		Conn:    conn,
		Send:    make(chan []byte, 256),
		ID:      uuid.NewString(),
		Limiter: rate.NewLimiter(rate.Limit(10), 20),
	}
	client.Hub.register <- client

	go client.writePump()
	go client.readPump()
}
