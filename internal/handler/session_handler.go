package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"manga-server/internal/hub"
	"manga-server/internal/model"
	"manga-server/internal/service"
)

// SessionHandler обрабатывает HTTP запросы жизненного цикла сессий генерации.
type SessionHandler struct {
	service   *service.SessionService
	wsHandler *hub.WSHandler
	jwtSecret string
	logger    *zap.Logger
}

func NewSessionHandler(s *service.SessionService, wsHandler *hub.WSHandler, jwtSecret string, logger *zap.Logger) *SessionHandler {
	return &SessionHandler{
		service:   s,
		wsHandler: wsHandler,
		jwtSecret: jwtSecret,
		logger:    logger.Named("SessionHandler"),
	}
}

// RegisterRoutes регистрирует маршруты обработчика.
func (h *SessionHandler) RegisterRoutes(router *gin.Engine) {
	protected := router.Group("/api")
	protected.Use(AuthMiddleware(h.jwtSecret, h.logger))
	{
		protected.POST("/sessions", h.createSession)
		protected.GET("/sessions", h.listSessions)
		protected.GET("/sessions/:id", h.getSession)
		protected.POST("/sessions/:id/feedback", h.submitFeedback)
		protected.POST("/sessions/:id/cancel", h.cancelSession)
		protected.GET("/sessions/:id/results", h.getResults)
		protected.GET("/sessions/:id/versions", h.getVersions)
		protected.GET("/sessions/:id/events", h.getEvents)
	}

	// WebSocket аутентифицируется внутри по query token (браузеры не умеют
	// Authorization header на апгрейде)
	router.GET("/ws/sessions/:id", h.serveWS)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}

func (h *SessionHandler) createSession(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		handleServiceError(c, model.ErrUnauthorized)
		return
	}

	var req service.CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, APIError{Message: "Invalid request body: " + err.Error()})
		return
	}

	session, err := h.service.CreateSession(c.Request.Context(), userID, req)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, session)
}

func (h *SessionHandler) listSessions(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		handleServiceError(c, model.ErrUnauthorized)
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	sessions, err := h.service.ListSessions(c.Request.Context(), userID, limit)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

func (h *SessionHandler) getSession(c *gin.Context) {
	userID, sessionID, ok := h.sessionRequest(c)
	if !ok {
		return
	}

	session, err := h.service.GetSession(c.Request.Context(), userID, sessionID)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, session)
}

func (h *SessionHandler) submitFeedback(c *gin.Context) {
	userID, sessionID, ok := h.sessionRequest(c)
	if !ok {
		return
	}

	var req model.FeedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, APIError{Message: "Invalid request body: " + err.Error()})
		return
	}

	fb, err := h.service.SubmitFeedback(c.Request.Context(), userID, sessionID, req)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, fb)
}

func (h *SessionHandler) cancelSession(c *gin.Context) {
	userID, sessionID, ok := h.sessionRequest(c)
	if !ok {
		return
	}

	if err := h.service.CancelSession(c.Request.Context(), userID, sessionID); err != nil {
		handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "cancelling"})
}

func (h *SessionHandler) getResults(c *gin.Context) {
	userID, sessionID, ok := h.sessionRequest(c)
	if !ok {
		return
	}

	results, err := h.service.GetResults(c.Request.Context(), userID, sessionID)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"results": results})
}

func (h *SessionHandler) getVersions(c *gin.Context) {
	userID, sessionID, ok := h.sessionRequest(c)
	if !ok {
		return
	}

	versions, err := h.service.GetVersions(c.Request.Context(), userID, sessionID)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"versions": versions})
}

func (h *SessionHandler) getEvents(c *gin.Context) {
	userID, sessionID, ok := h.sessionRequest(c)
	if !ok {
		return
	}

	events, err := h.service.GetEvents(c.Request.Context(), userID, sessionID)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"events": events})
}

func (h *SessionHandler) serveWS(c *gin.Context) {
	h.wsHandler.ServeWS(c.Writer, c.Request, c.Param("id"))
}

// sessionRequest достает user_id и session_id запроса, отвечая ошибкой
// при их отсутствии или невалидности.
func (h *SessionHandler) sessionRequest(c *gin.Context) (uuid.UUID, uuid.UUID, bool) {
	userID, ok := getUserID(c)
	if !ok {
		handleServiceError(c, model.ErrUnauthorized)
		return uuid.Nil, uuid.Nil, false
	}

	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, APIError{Message: "Invalid session id"})
		return uuid.Nil, uuid.Nil, false
	}

	return userID, sessionID, true
}
