package server

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	auditdomain "github.com/studyowl/creditgate/internal/audit/domain"
	"github.com/studyowl/creditgate/internal/auditcontext"
	"go.uber.org/zap"
)

const userIDKey = "user_id"

// RequestContextMiddleware tags every request with a request id and stashes
// forensic metadata on the context for the audit trail.
func RequestContextMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header("X-Request-ID", requestID)

		ctx := c.Request.Context()
		ctx = auditcontext.WithRequestID(ctx, requestID)
		ctx = auditcontext.WithIPAddress(ctx, c.ClientIP())
		ctx = auditcontext.WithUserAgent(ctx, c.Request.UserAgent())
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

func RequestLoggingMiddleware(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		log.Info("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", auditcontext.RequestIDFromContext(c.Request.Context())),
		)
	}
}

// AuthRequired resolves the session cookie to a user id. Requests without a
// valid session never reach the handlers behind it; each rejection is written
// to the audit trail with no user attached, since none is known yet.
func (s *Server) AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := s.sessions.ReadToken(c)
		if !ok {
			s.auditAuthRejected(c, "missing_session")
			AbortWithError(c, ErrUnauthorized)
			return
		}

		sess, err := s.authSvc.Authenticate(c.Request.Context(), token)
		if err != nil {
			s.sessions.Clear(c)
			s.auditAuthRejected(c, "invalid_session")
			AbortWithError(c, err)
			return
		}

		c.Set(userIDKey, sess.UserID)
		c.Next()
	}
}

func (s *Server) auditAuthRejected(c *gin.Context, reason string) {
	err := s.auditSvc.Record(c.Request.Context(), auditdomain.Entry{
		Action:   auditdomain.ActionAuthRejected,
		Severity: auditdomain.SeverityInfo,
		Details: map[string]any{
			"method": c.Request.Method,
			"path":   c.FullPath(),
			"reason": reason,
		},
	})
	if err != nil {
		s.log.Warn("audit write failed", zap.Error(err))
	}
}

func userFromContext(c *gin.Context) (snowflake.ID, bool) {
	value, exists := c.Get(userIDKey)
	if !exists {
		return 0, false
	}
	id, ok := value.(snowflake.ID)
	return id, ok
}
