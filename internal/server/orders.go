package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	purchasedomain "github.com/studyowl/creditgate/internal/purchase/domain"
)

type createOrderRequest struct {
	PackageID string `json:"packageId" binding:"required"`
}

func (s *Server) CreateOrder(c *gin.Context) {
	userID, ok := userFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	result, err := s.purchaseSvc.CreateOrder(c.Request.Context(), purchasedomain.CreateOrderRequest{
		UserID:    userID,
		PackageID: req.PackageID,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"orderId":      result.OrderID,
		"amountMinor":  result.AmountMinor,
		"currency":     result.Currency,
		"credits":      result.Credits,
		"packageLabel": result.PackageLabel,
	})
}

type captureOrderRequest struct {
	OrderID string `json:"orderId" binding:"required"`
}

func (s *Server) CaptureOrder(c *gin.Context) {
	userID, ok := userFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req captureOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	if strings.TrimSpace(req.OrderID) == "" {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	result, err := s.purchaseSvc.CaptureOrder(c.Request.Context(), purchasedomain.CaptureRequest{
		UserID:          userID,
		ExternalOrderID: strings.TrimSpace(req.OrderID),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":          true,
		"creditsAdded":     result.CreditsAdded,
		"creditsRemaining": result.CreditsRemaining,
		"transactionId":    result.TransactionID.String(),
		"replayed":         result.Replayed,
	})
}
