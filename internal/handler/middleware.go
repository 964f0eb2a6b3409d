package handler

import (
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"manga-server/internal/model"
)

const userIDContextKey = "user_id"

// AuthMiddleware проверяет JWT access токен (HS256) и кладет user_id в контекст.
// Идентификатор пользователя берется из клейма sub.
func AuthMiddleware(jwtSecret string, logger *zap.Logger) gin.HandlerFunc {
	secret := []byte(jwtSecret)
	log := logger.Named("AuthMiddleware")

	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			handleServiceError(c, model.ErrUnauthorized)
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			log.Warn("Invalid Authorization header format")
			handleServiceError(c, model.ErrUnauthorized)
			return
		}

		userID, err := parseUserToken(parts[1], secret)
		if err != nil {
			log.Warn("Access token verification failed", zap.Error(err))
			handleServiceError(c, model.ErrUnauthorized)
			return
		}

		c.Set(userIDContextKey, userID)
		c.Next()
	}
}

func parseUserToken(tokenString string, secret []byte) (uuid.UUID, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return uuid.Nil, err
	}
	if !token.Valid {
		return uuid.Nil, jwt.ErrTokenUnverifiable
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return uuid.Nil, jwt.ErrTokenInvalidClaims
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return uuid.Nil, jwt.ErrTokenInvalidClaims
	}
	return uuid.Parse(sub)
}

// getUserID достает user_id, положенный AuthMiddleware.
func getUserID(c *gin.Context) (uuid.UUID, bool) {
	value, exists := c.Get(userIDContextKey)
	if !exists {
		return uuid.Nil, false
	}
	userID, ok := value.(uuid.UUID)
	return userID, ok
}
