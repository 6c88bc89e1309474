// Package handler — HTTP-слой API-сервера: маршруты Echo, DTO и маппинг
// доменных ошибок в HTTP-статусы.
package handler

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"shootsafe-server/internal/middleware"
	"shootsafe-server/internal/models"
	"shootsafe-server/internal/service"
)

// APIError — тело ответа с ошибкой.
type APIError struct {
	Error string `json:"error"`
}

// HTTPHandler обслуживает REST API анализа сценариев.
type HTTPHandler struct {
	service *service.AnalysisService
	logger  *zap.Logger
}

// NewHTTPHandler создает HTTPHandler.
func NewHTTPHandler(svc *service.AnalysisService, logger *zap.Logger) *HTTPHandler {
	return &HTTPHandler{
		service: svc,
		logger:  logger.Named("HTTPHandler"),
	}
}

// RegisterRoutes вешает маршруты API на группу с JWT-аутентификацией.
func (h *HTTPHandler) RegisterRoutes(g *echo.Group) {
	g.POST("/projects", h.CreateProject)
	g.GET("/projects", h.ListProjects)
	g.GET("/projects/:id", h.GetProject)
	g.DELETE("/projects/:id", h.DeleteProject)
	g.PUT("/projects/:id/script", h.UploadScript)
	g.POST("/projects/:id/runs", h.StartRun)
	g.GET("/projects/:id/runs", h.ListRuns)
	g.GET("/runs/:id", h.GetRun)
	g.GET("/runs/:id/result", h.GetRunResult)
	g.GET("/runs/:id/scenes", h.GetRunScenes)
	g.GET("/runs/:id/insights", h.GetRunInsights)
	g.GET("/runs/:id/progress", h.GetRunProgress)
	g.POST("/whatif", h.WhatIf)
}

type createProjectRequest struct {
	Name     string `json:"name"`
	BaseCity string `json:"base_city"`
	Scale    string `json:"scale"`
}

// CreateProject обрабатывает POST /projects.
func (h *HTTPHandler) CreateProject(c echo.Context) error {
	userID, err := middleware.UserIDFromContext(c)
	if err != nil {
		return err
	}

	var req createProjectRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, APIError{Error: "invalid request body"})
	}

	project, err := h.service.CreateProject(c.Request().Context(), userID, req.Name, req.BaseCity, req.Scale)
	if err != nil {
		return h.mapError(c, err)
	}
	return c.JSON(http.StatusCreated, project)
}

// ListProjects обрабатывает GET /projects.
func (h *HTTPHandler) ListProjects(c echo.Context) error {
	userID, err := middleware.UserIDFromContext(c)
	if err != nil {
		return err
	}

	projects, err := h.service.ListProjects(c.Request().Context(), userID)
	if err != nil {
		return h.mapError(c, err)
	}
	return c.JSON(http.StatusOK, projects)
}

// GetProject обрабатывает GET /projects/:id.
func (h *HTTPHandler) GetProject(c echo.Context) error {
	userID, projectID, err := h.userAndID(c)
	if err != nil {
		return err
	}

	project, err := h.service.GetProject(c.Request().Context(), userID, projectID)
	if err != nil {
		return h.mapError(c, err)
	}
	return c.JSON(http.StatusOK, project)
}

// DeleteProject обрабатывает DELETE /projects/:id.
func (h *HTTPHandler) DeleteProject(c echo.Context) error {
	userID, projectID, err := h.userAndID(c)
	if err != nil {
		return err
	}

	if err := h.service.DeleteProject(c.Request().Context(), userID, projectID); err != nil {
		return h.mapError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

type uploadScriptRequest struct {
	ScriptText string `json:"script_text"`
}

// UploadScript обрабатывает PUT /projects/:id/script.
func (h *HTTPHandler) UploadScript(c echo.Context) error {
	userID, projectID, err := h.userAndID(c)
	if err != nil {
		return err
	}

	var req uploadScriptRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, APIError{Error: "invalid request body"})
	}

	if err := h.service.UploadScript(c.Request().Context(), userID, projectID, req.ScriptText); err != nil {
		return h.mapError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// StartRun обрабатывает POST /projects/:id/runs.
func (h *HTTPHandler) StartRun(c echo.Context) error {
	userID, projectID, err := h.userAndID(c)
	if err != nil {
		return err
	}

	run, err := h.service.StartRun(c.Request().Context(), userID, projectID)
	if err != nil {
		return h.mapError(c, err)
	}
	return c.JSON(http.StatusAccepted, run)
}

// ListRuns обрабатывает GET /projects/:id/runs.
func (h *HTTPHandler) ListRuns(c echo.Context) error {
	userID, projectID, err := h.userAndID(c)
	if err != nil {
		return err
	}

	runs, err := h.service.ListRuns(c.Request().Context(), userID, projectID)
	if err != nil {
		return h.mapError(c, err)
	}
	return c.JSON(http.StatusOK, runs)
}

// GetRun обрабатывает GET /runs/:id.
func (h *HTTPHandler) GetRun(c echo.Context) error {
	userID, runID, err := h.userAndID(c)
	if err != nil {
		return err
	}

	run, err := h.service.GetRun(c.Request().Context(), userID, runID)
	if err != nil {
		return h.mapError(c, err)
	}
	return c.JSON(http.StatusOK, run)
}

// GetRunResult обрабатывает GET /runs/:id/result.
func (h *HTTPHandler) GetRunResult(c echo.Context) error {
	userID, runID, err := h.userAndID(c)
	if err != nil {
		return err
	}

	result, err := h.service.GetRunResult(c.Request().Context(), userID, runID)
	if err != nil {
		return h.mapError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

// GetRunScenes обрабатывает GET /runs/:id/scenes: срез результата по сценам.
func (h *HTTPHandler) GetRunScenes(c echo.Context) error {
	userID, runID, err := h.userAndID(c)
	if err != nil {
		return err
	}

	result, err := h.service.GetRunResult(c.Request().Context(), userID, runID)
	if err != nil {
		return h.mapError(c, err)
	}
	return c.JSON(http.StatusOK, result.Scenes)
}

// GetRunInsights обрабатывает GET /runs/:id/insights: срез результата по инсайтам.
func (h *HTTPHandler) GetRunInsights(c echo.Context) error {
	userID, runID, err := h.userAndID(c)
	if err != nil {
		return err
	}

	result, err := h.service.GetRunResult(c.Request().Context(), userID, runID)
	if err != nil {
		return h.mapError(c, err)
	}
	return c.JSON(http.StatusOK, result.Insights)
}

// GetRunProgress обрабатывает GET /runs/:id/progress.
func (h *HTTPHandler) GetRunProgress(c echo.Context) error {
	userID, runID, err := h.userAndID(c)
	if err != nil {
		return err
	}

	progress, err := h.service.GetRunProgress(c.Request().Context(), userID, runID)
	if err != nil {
		return h.mapError(c, err)
	}
	return c.JSON(http.StatusOK, progress)
}

// WhatIf обрабатывает POST /whatif: синхронный детерминированный расчёт.
func (h *HTTPHandler) WhatIf(c echo.Context) error {
	if _, err := middleware.UserIDFromContext(c); err != nil {
		return err
	}

	var req service.WhatIfRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, APIError{Error: "invalid request body"})
	}

	result, err := h.service.WhatIf(c.Request().Context(), req)
	if err != nil {
		return h.mapError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

func (h *HTTPHandler) userAndID(c echo.Context) (uint64, uuid.UUID, error) {
	userID, err := middleware.UserIDFromContext(c)
	if err != nil {
		return 0, uuid.Nil, err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return 0, uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return userID, id, nil
}

// mapError транслирует доменные ошибки в HTTP-статусы.
func (h *HTTPHandler) mapError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, models.ErrNotFound):
		return c.JSON(http.StatusNotFound, APIError{Error: "not found"})
	case errors.Is(err, models.ErrAccessDenied):
		return c.JSON(http.StatusForbidden, APIError{Error: "access denied"})
	case errors.Is(err, models.ErrInvalidScale),
		errors.Is(err, models.ErrScriptEmpty),
		errors.Is(err, models.ErrValidation):
		return c.JSON(http.StatusBadRequest, APIError{Error: err.Error()})
	case errors.Is(err, models.ErrRunNotReady):
		return c.JSON(http.StatusConflict, APIError{Error: "analysis run is not completed yet"})
	default:
		h.logger.Error("Unhandled service error", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, APIError{Error: "internal server error"})
	}
}
