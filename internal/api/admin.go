package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/BTreeMap/CarSherpa/internal/models"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// AdminSubjectKey is the gin context key holding the authenticated admin subject.
const AdminSubjectKey = "admin_subject"

// DefaultAdminTokenTTL is the lifetime of tokens minted by NewAdminToken.
const DefaultAdminTokenTTL = time.Hour

// NewAdminToken signs an HS256 admin token for subject.
func NewAdminToken(secret, subject string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// adminAuth rejects requests without a valid HS256 bearer token.
func adminAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || raw == "" {
			writeJSON(c, http.StatusUnauthorized, models.Error("Missing bearer token"))
			c.Abort()
			return
		}
		claims := &jwt.RegisteredClaims{}
		token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
			return []byte(secret), nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil || !token.Valid {
			slog.Warn("Server.adminAuth: token rejected", "error", err)
			writeJSON(c, http.StatusUnauthorized, models.Error("Invalid token"))
			c.Abort()
			return
		}
		c.Set(AdminSubjectKey, claims.Subject)
		c.Next()
	}
}

func (s *Server) invalidateCacheHandler(c *gin.Context) {
	if s.cfg.Cache == nil {
		writeJSON(c, http.StatusNotImplemented, models.Error("Reference cache not configured"))
		return
	}
	s.cfg.Cache.Invalidate()
	slog.Info("Server.invalidateCacheHandler: reference cache invalidated", "admin", c.GetString(AdminSubjectKey))
	writeJSON(c, http.StatusOK, models.SuccessWithMessage("Reference cache invalidated", nil))
}

var errNoConversations = errors.New("conversation store not configured")

func (s *Server) getConversationHandler(c *gin.Context) {
	if s.cfg.Conversations == nil {
		writeJSON(c, http.StatusNotImplemented, models.Error(errNoConversations.Error()))
		return
	}
	user := c.Param("user")
	rec, ok := s.cfg.Conversations.Get(user)
	if !ok {
		writeJSON(c, http.StatusNotFound, models.Error("Conversation not found"))
		return
	}
	writeJSON(c, http.StatusOK, models.Success(rec))
}

func (s *Server) deleteConversationHandler(c *gin.Context) {
	if s.cfg.Conversations == nil {
		writeJSON(c, http.StatusNotImplemented, models.Error(errNoConversations.Error()))
		return
	}
	user := c.Param("user")
	unlock := s.cfg.Conversations.Lock(user)
	s.cfg.Conversations.Clear(user)
	unlock()
	slog.Info("Server.deleteConversationHandler: conversation cleared", "user", user, "admin", c.GetString(AdminSubjectKey))
	writeJSON(c, http.StatusOK, models.SuccessWithMessage("Conversation cleared", nil))
}
