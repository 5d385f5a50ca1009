package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/studyowl/creditgate/internal/audit/domain"
	ledgerdomain "github.com/studyowl/creditgate/internal/ledger/domain"
)

type debitUsageRequest struct {
	Credits int64  `json:"credits" binding:"required"`
	Reason  string `json:"reason"`
}

// DebitUsage charges credits for one unit of metered work. The balance
// check and decrement happen in a single statement, so concurrent debits
// cannot overdraw.
func (s *Server) DebitUsage(c *gin.Context) {
	userID, ok := userFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req debitUsageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	if req.Credits < 1 {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = "chat_message"
	}

	remaining, err := s.ledgerSvc.ApplyDebit(c.Request.Context(), ledgerdomain.DebitRequest{
		UserID:  userID,
		Credits: req.Credits,
		Reason:  reason,
	})
	if err != nil {
		if errors.Is(err, ledgerdomain.ErrInsufficientBalance) {
			_ = s.auditSvc.Record(c.Request.Context(), auditdomain.Entry{
				UserID:   &userID,
				Action:   auditdomain.ActionUsageDenied,
				Severity: auditdomain.SeverityInfo,
				Details: map[string]any{
					"credits": req.Credits,
					"reason":  reason,
				},
			})
		}
		AbortWithError(c, err)
		return
	}

	_ = s.auditSvc.Record(c.Request.Context(), auditdomain.Entry{
		UserID:   &userID,
		Action:   auditdomain.ActionUsageDebited,
		Severity: auditdomain.SeverityInfo,
		Details: map[string]any{
			"credits": req.Credits,
			"reason":  reason,
		},
	})
	if s.metrics != nil {
		s.metrics.RecordUsageDebit()
	}

	c.JSON(http.StatusOK, gin.H{
		"remaining": remaining,
	})
}
