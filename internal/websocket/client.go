package websocket

import (
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Время, разрешенное для записи сообщения клиенту.
	writeWait = 10 * time.Second
	// Время, разрешенное для чтения следующего pong сообщения от клиента.
	pongWait = 60 * time.Second
	// Отправлять пинги клиенту с этим периодом. Должно быть меньше pongWait.
	pingPeriod = (pongWait * 9) / 10
	// Максимальный размер сообщения, разрешенный от клиента.
	maxMessageSize = 512
	// Буфер исходящей очереди клиента.
	sendBufferSize = 256
)

// NewClient создает клиента с буферизованной очередью отправки.
func NewClient(userID uint64, runID uuid.UUID, conn *websocket.Conn) *Client {
	return &Client{
		UserID: userID,
		RunID:  runID,
		Conn:   conn,
		send:   make(chan []byte, sendBufferSize),
	}
}

// Serve запускает насосы чтения и записи; возвращается после разрыва соединения.
func (c *Client) Serve(hub *Hub, logger *zap.Logger) {
	log := logger.With(zap.Uint64("user_id", c.UserID), zap.String("run_id", c.RunID.String()))
	go c.writePump(log)
	c.readPump(hub, log)
}

// readPump читает соединение только ради pong'ов и закрытия: клиентские
// сообщения протоколом не предусмотрены и игнорируются.
func (c *Client) readPump(hub *Hub, log *zap.Logger) {
	defer func() {
		hub.UnregisterClient(c)
		_ = c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warn("WebSocket read error", zap.Error(err))
			}
			return
		}
		log.Warn("Received unexpected message from client (ignored)", zap.Int("size", len(message)))
	}
}

// writePump пишет сообщения из очереди send и периодические пинги.
func (c *Client) writePump(log *zap.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error("Failed to write message", zap.Error(err))
				return
			}

		case <-ticker.C:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
