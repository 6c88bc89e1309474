// Package websocket — доставка обновлений прогонов подписанным клиентам.
// Хаб держит активные соединения; обновления приходят из очереди run_updates
// и рассылаются владельцу прогона.
package websocket

import (
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Client — одно WebSocket-соединение, подписанное на конкретный прогон.
type Client struct {
	UserID uint64
	RunID  uuid.UUID
	Conn   *websocket.Conn
	send   chan []byte
}

// Hub управляет активными соединениями. Регистрация и дерегистрация идут
// через каналы в один управляющий цикл, карта защищена мьютексом для чтения
// из SendRunUpdate.
type Hub struct {
	clients    map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
	logger     *zap.Logger
}

// NewHub создает и запускает хаб.
func NewHub(logger *zap.Logger) *Hub {
	h := &Hub{
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logger.Named("WSHub"),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	h.logger.Info("WebSocket hub started")
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = struct{}{}
			h.mu.Unlock()
			h.logger.Info("Client registered",
				zap.Uint64("user_id", client.UserID),
				zap.String("run_id", client.RunID.String()))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			h.logger.Info("Client unregistered",
				zap.Uint64("user_id", client.UserID),
				zap.String("run_id", client.RunID.String()))
		}
	}
}

// RegisterClient регистрирует подписку клиента на прогон.
func (h *Hub) RegisterClient(client *Client) {
	h.register <- client
}

// UnregisterClient удаляет клиента.
func (h *Hub) UnregisterClient(client *Client) {
	h.unregister <- client
}

// SendRunUpdate рассылает сообщение всем соединениям пользователя,
// подписанным на данный прогон. Переполненные очереди пропускаются:
// медленный клиент не должен задерживать рассылку.
func (h *Hub) SendRunUpdate(userID uint64, runID uuid.UUID, message []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		if client.UserID != userID || client.RunID != runID {
			continue
		}
		select {
		case client.send <- message:
		default:
			h.logger.Warn("Client send queue full, dropping update",
				zap.Uint64("user_id", userID),
				zap.String("run_id", runID.String()))
		}
	}
}
