package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

func (s *Server) GetBalance(c *gin.Context) {
	userID, ok := userFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	limit := defaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			AbortWithError(c, ErrInvalidRequest)
			return
		}
		limit = parsed
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	remaining, err := s.ledgerSvc.GetBalance(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	transactions, err := s.ledgerSvc.ListTransactions(c.Request.Context(), userID, limit)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	history := make([]gin.H, 0, len(transactions))
	for _, tx := range transactions {
		history = append(history, gin.H{
			"id":           tx.ID.String(),
			"kind":         tx.Kind,
			"status":       tx.Status,
			"amountMinor":  tx.AmountMinor,
			"creditsDelta": tx.CreditsDelta,
			"createdAt":    tx.CreatedAt,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"remaining":    remaining,
		"transactions": history,
	})
}
