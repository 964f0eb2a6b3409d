package hub

import (
	"context"
	"fmt"
	"net/http"

	"manga-server/internal/model"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// TODO: Добавить проверку Origin для безопасности
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// SessionGateway - операции сервисного слоя, нужные WebSocket подключению.
type SessionGateway interface {
	// GetSession возвращает сессию, проверяя владельца.
	GetSession(ctx context.Context, userID, sessionID uuid.UUID) (*model.Session, error)
	// SubmitFeedback сохраняет фидбек и сигналит активному ожиданию.
	SubmitFeedback(ctx context.Context, userID, sessionID uuid.UUID, req model.FeedbackRequest) (*model.UserFeedback, error)
}

// EventReplayer отдает сохраненную историю событий сессии для повторной доставки.
type EventReplayer interface {
	ListEvents(ctx context.Context, sessionID uuid.UUID) ([]model.SessionEvent, error)
}

// WSHandler обрабатывает запросы на установку WebSocket соединения с сессией.
type WSHandler struct {
	hub       *SessionHub
	gateway   SessionGateway
	history   EventReplayer
	jwtSecret []byte
	logger    *zap.Logger
}

// NewWSHandler создает новый обработчик WebSocket.
func NewWSHandler(hub *SessionHub, gateway SessionGateway, history EventReplayer, jwtSecret string, logger *zap.Logger) *WSHandler {
	return &WSHandler{
		hub:       hub,
		gateway:   gateway,
		history:   history,
		jwtSecret: []byte(jwtSecret),
		logger:    logger.Named("WSHandler"),
	}
}

// ServeWS обрабатывает входящий HTTP запрос для WebSocket.
// Токен передается query-параметром 'token', ID сессии - частью пути.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request, sessionIDStr string) {
	tokenString := r.URL.Query().Get("token")
	if tokenString == "" {
		h.logger.Warn("Missing 'token' query parameter")
		http.Error(w, "Unauthorized: Missing token", http.StatusUnauthorized)
		return
	}

	userID, err := h.validateToken(tokenString)
	if err != nil {
		h.logger.Warn("Invalid token", zap.Error(err))
		http.Error(w, fmt.Sprintf("Unauthorized: %s", err.Error()), http.StatusUnauthorized)
		return
	}

	sessionID, err := uuid.Parse(sessionIDStr)
	if err != nil {
		http.Error(w, "Bad request: invalid session id", http.StatusBadRequest)
		return
	}

	// Проверяем, что сессия существует и принадлежит пользователю
	if _, err := h.gateway.GetSession(r.Context(), userID, sessionID); err != nil {
		h.logger.Warn("Session access denied",
			zap.String("sessionID", sessionID.String()),
			zap.String("userID", userID.String()), zap.Error(err))
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade connection",
			zap.String("sessionID", sessionID.String()), zap.Error(err))
		return
	}

	h.logger.Info("WebSocket connection established",
		zap.String("sessionID", sessionID.String()),
		zap.String("userID", userID.String()))

	client := newClient(conn, h.hub, h.gateway, sessionID, userID,
		h.logger.With(zap.String("sessionID", sessionID.String()), zap.String("userID", userID.String())))

	// Реплеим сохраненную историю событий до подключения к live-потоку
	if h.history != nil {
		if events, err := h.history.ListEvents(r.Context(), sessionID); err == nil {
			client.replay(events)
		} else {
			h.logger.Warn("Failed to replay event history",
				zap.String("sessionID", sessionID.String()), zap.Error(err))
		}
	}

	client.start()
}

// validateToken проверяет JWT токен и возвращает UserID из claim 'sub'.
func (h *WSHandler) validateToken(tokenString string) (uuid.UUID, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return h.jwtSecret, nil
	})
	if err != nil {
		return uuid.Nil, fmt.Errorf("token parse error: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return uuid.Nil, fmt.Errorf("invalid token")
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return uuid.Nil, fmt.Errorf("userID ('sub') not found in token claims")
	}

	userID, err := uuid.Parse(sub)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid userID in token claims: %w", err)
	}
	return userID, nil
}
