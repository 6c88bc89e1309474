package handler

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"shootsafe-server/internal/middleware"
	ws "shootsafe-server/internal/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// TODO: ограничить Origin списком доверенных фронтендов
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WSHandler обслуживает подписки на прогресс прогонов.
type WSHandler struct {
	hub       *ws.Hub
	jwtSecret string
	logger    *zap.Logger
}

// NewWSHandler создает WSHandler.
func NewWSHandler(hub *ws.Hub, jwtSecret string, logger *zap.Logger) *WSHandler {
	return &WSHandler{
		hub:       hub,
		jwtSecret: jwtSecret,
		logger:    logger.Named("WSHandler"),
	}
}

// ServeRunUpdates обрабатывает GET /ws/runs/:id. Токен передается
// query-параметром: браузерный WebSocket не умеет ставить заголовки.
func (h *WSHandler) ServeRunUpdates(c echo.Context) error {
	tokenString := c.QueryParam("token")
	if tokenString == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "Missing token")
	}
	claims, err := middleware.ParseToken(tokenString, h.jwtSecret)
	if err != nil {
		h.logger.Warn("WebSocket auth failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusUnauthorized, "Invalid token")
	}

	runID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid run id")
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.logger.Error("Failed to upgrade connection", zap.Error(err))
		return nil // upgrader уже ответил клиенту
	}

	client := ws.NewClient(claims.UserID, runID, conn)
	h.hub.RegisterClient(client)
	h.logger.Info("WebSocket subscription established",
		zap.Uint64("user_id", claims.UserID),
		zap.String("run_id", runID.String()))

	go client.Serve(h.hub, h.logger)
	return nil
}
