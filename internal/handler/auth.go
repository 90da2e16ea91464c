package handler

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/richoz-sanitaire/intervention-service/internal/model"
)

const (
	ctxUserID = "auth.user_id"
	ctxRole   = "auth.role"
)

// Claims — токен оператора: sub = id пользователя, role = admin|secretary|technician.
type Claims struct {
	Role model.Role `json:"role"`
	jwt.RegisteredClaims
}

// IssueToken подписывает HS256-токен. Используется CLI и тестами.
func IssueToken(secret string, userID uuid.UUID, role model.Role, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("jwt secret is empty")
	}
	now := time.Now()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func bearer(c *gin.Context) string {
	h := c.GetHeader("Authorization")
	if len(h) < 7 || !strings.EqualFold(h[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(h[7:])
}

// WebhookAuth сверяет Bearer с общим секретом за постоянное время. Пустой секрет закрывает все вебхуки.
func WebhookAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearer(c)
		if secret == "" || token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
			fail(c, http.StatusUnauthorized, msgUnauthorized, nil)
			return
		}
		c.Next()
	}
}

// JWTAuth проверяет токен оператора и кладёт id и роль в контекст gin.
func JWTAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := bearer(c)
		if secret == "" || raw == "" {
			fail(c, http.StatusUnauthorized, msgUnauthorized, nil)
			return
		}
		var claims Claims
		_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (interface{}, error) {
			return []byte(secret), nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
		if err != nil {
			fail(c, http.StatusUnauthorized, msgUnauthorized, nil)
			return
		}
		id, err := uuid.Parse(claims.Subject)
		if err != nil {
			fail(c, http.StatusUnauthorized, msgUnauthorized, nil)
			return
		}
		c.Set(ctxUserID, id)
		c.Set(ctxRole, claims.Role)
		c.Next()
	}
}

// RequireRole пропускает только перечисленные роли (403 иначе).
func RequireRole(roles ...model.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		role, _ := c.Get(ctxRole)
		for _, r := range roles {
			if role == r {
				c.Next()
				return
			}
		}
		fail(c, http.StatusForbidden, msgForbidden, nil)
	}
}

func actorID(c *gin.Context) *uuid.UUID {
	v, ok := c.Get(ctxUserID)
	if !ok {
		return nil
	}
	id, ok := v.(uuid.UUID)
	if !ok {
		return nil
	}
	return &id
}
