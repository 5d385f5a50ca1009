package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	authdomain "github.com/studyowl/creditgate/internal/auth/domain"
	"github.com/studyowl/creditgate/internal/catalog"
	gatewaydomain "github.com/studyowl/creditgate/internal/gateway/domain"
	intentdomain "github.com/studyowl/creditgate/internal/intent/domain"
	ledgerdomain "github.com/studyowl/creditgate/internal/ledger/domain"
	purchasedomain "github.com/studyowl/creditgate/internal/purchase/domain"
	"gorm.io/gorm"
)

type errorPayload struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
	ResetAt string `json:"reset_at,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrNotFound       = errors.New("not_found")
	ErrInvalidRequest = errors.New("invalid_request")
	ErrInternal       = errors.New("internal_error")
)

// ErrorHandlingMiddleware converts errors recorded on the gin context
// into the structured error envelope. Internal detail never leaks to
// the client; the audit log and server log carry it instead.
func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)

		var denied *purchasedomain.AdmissionDeniedError
		if errors.As(lastErr.Err, &denied) {
			retryAfter := int(time.Until(denied.ResetAt).Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header("Retry-After", strconv.Itoa(retryAfter))
		}

		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func mapError(err error) (int, errorPayload) {
	var denied *purchasedomain.AdmissionDeniedError
	if errors.As(err, &denied) {
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Code:    "admission_denied",
			Message: "too many order attempts, try again later",
			ResetAt: denied.ResetAt.UTC().Format(time.RFC3339),
		}
	}

	switch {
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, authdomain.ErrInvalidSession),
		errors.Is(err, authdomain.ErrSessionExpired):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Code:    "unauthorized",
			Message: "unauthorized",
		}

	case errors.Is(err, purchasedomain.ErrOwnershipViolation):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Code:    "ownership_violation",
			Message: "order does not belong to the caller",
		}

	case errors.Is(err, purchasedomain.ErrIntentNotFound),
		errors.Is(err, intentdomain.ErrNotFound):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Code:    "intent_not_found",
			Message: "order not found",
		}

	case errors.Is(err, ErrNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Code:    "not_found",
			Message: "not found",
		}

	case errors.Is(err, intentdomain.ErrDuplicateOrder):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Code:    "duplicate_order",
			Message: "order already exists",
		}

	case errors.Is(err, purchasedomain.ErrInvalidPackage),
		errors.Is(err, catalog.ErrUnknownPackage):
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Code:    "invalid_package",
			Message: "unknown package",
		}

	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, purchasedomain.ErrInvalidRequest),
		errors.Is(err, ledgerdomain.ErrInvalidCredits),
		errors.Is(err, ledgerdomain.ErrInvalidAmount):
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Code:    "invalid_request",
			Message: "invalid request",
		}

	case errors.Is(err, purchasedomain.ErrGatewayRejected):
		return http.StatusBadRequest, errorPayload{
			Type:    "payment_error",
			Code:    "gateway_rejected",
			Message: "payment was not completed",
		}

	case errors.Is(err, purchasedomain.ErrOrderFailed):
		return http.StatusBadRequest, errorPayload{
			Type:    "payment_error",
			Code:    "order_failed",
			Message: "order already failed",
		}

	case errors.Is(err, purchasedomain.ErrAmountMismatch):
		return http.StatusBadRequest, errorPayload{
			Type:    "payment_error",
			Code:    "amount_mismatch",
			Message: "payment verification failed",
		}

	case errors.Is(err, ledgerdomain.ErrInsufficientBalance):
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Code:    "insufficient_balance",
			Message: "not enough credits",
		}

	case errors.Is(err, purchasedomain.ErrLedgerWrite),
		errors.Is(err, purchasedomain.ErrCreditApply):
		// Flagged for manual reconciliation: the gateway may already
		// hold captured funds.
		return http.StatusInternalServerError, errorPayload{
			Type:    "ledger_error",
			Code:    "reconciliation_required",
			Message: "payment recorded but crediting failed, support has been notified",
		}

	case errors.Is(err, gatewaydomain.ErrUnavailable):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Code:    "gateway_unavailable",
			Message: "payment provider unavailable",
		}

	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Code:    "internal",
			Message: "internal server error",
		}
	}
}
