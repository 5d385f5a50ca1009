package server

import (
	"net/http"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
)

type devLoginRequest struct {
	UserID string `json:"userId"`
}

// DevLogin issues a session without a password. It exists for local
// development and demos only and is unmapped in production.
func (s *Server) DevLogin(c *gin.Context) {
	if s.cfg.IsProduction() {
		AbortWithError(c, ErrNotFound)
		return
	}

	var req devLoginRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, ErrInvalidRequest)
			return
		}
	}

	userID := s.genID.Generate()
	if req.UserID != "" {
		parsed, err := snowflake.ParseString(req.UserID)
		if err != nil {
			AbortWithError(c, ErrInvalidRequest)
			return
		}
		userID = parsed
	}

	sess, err := s.authSvc.Issue(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.sessions.Set(c, sess.Token, sess.ExpiresAt)
	c.JSON(http.StatusOK, gin.H{
		"userId":    userID.String(),
		"expiresAt": sess.ExpiresAt,
	})
}

func (s *Server) Logout(c *gin.Context) {
	s.sessions.Clear(c)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) Me(c *gin.Context) {
	userID, ok := userFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}
	c.JSON(http.StatusOK, gin.H{"userId": userID.String()})
}
