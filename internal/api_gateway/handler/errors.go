package handler

import (
	"errors"
	"net/http"

	"github.com/escrow-invite-ledger/internal/api_gateway/middleware"
	"github.com/escrow-invite-ledger/internal/domain/account"
	"github.com/escrow-invite-ledger/internal/domain/hold"
	"github.com/escrow-invite-ledger/internal/domain/identity"
	escrow "github.com/escrow-invite-ledger/internal/escrow/service"
	"github.com/gin-gonic/gin"
)

// retryAfterSeconds is advertised on 503s
const retryAfterSeconds = 2

// validationErrors are caller mistakes answered with 400
var validationErrors = []error{
	escrow.ErrInvalidAmount,
	escrow.ErrInvalidTTL,
	escrow.ErrInvalidRecipient,
	escrow.ErrMessageTooLong,
	escrow.ErrSelfTransfer,
	hold.ErrInvalidAmount,
	hold.ErrInvalidTTL,
	identity.ErrUnknownMethod,
	identity.ErrInvalidEmail,
	identity.ErrInvalidPhone,
	identity.ErrInvalidUsername,
	account.ErrNegativeBalance,
}

// AlreadyResolvedResponse is the 409 body of a lost resolution
type AlreadyResolvedResponse struct {
	Response
	Status string `json:"status"`
}

// respondEngineError maps the escrow error taxonomy onto HTTP. Anything else is a 500.
func respondEngineError(c *gin.Context, err error) {
	var resolved escrow.ErrAlreadyResolved
	if errors.As(err, &resolved) {
		body := AlreadyResolvedResponse{
			Response: *NewErrorResponse("ALREADY_RESOLVED", resolved.Error()),
			Status:   string(resolved.Status),
		}
		body.CorrelationID = middleware.GetCorrelationID(c)
		c.JSON(http.StatusConflict, body)
		return
	}

	for _, target := range validationErrors {
		if errors.Is(err, target) {
			RespondBadRequest(c, err.Error())
			return
		}
	}

	switch {
	case errors.Is(err, escrow.ErrInsufficientFunds):
		RespondUnprocessable(c, "INSUFFICIENT_FUNDS", "Insufficient funds")
	case errors.Is(err, escrow.ErrIdempotencyKeyReused):
		RespondUnprocessable(c, "IDEMPOTENCY_KEY_REUSED", err.Error())
	case errors.Is(err, escrow.ErrRecipientNotRegistered):
		RespondWithError(c, http.StatusNotFound, "RECIPIENT_NOT_REGISTERED", "No account is registered for the recipient")
	case errors.Is(err, escrow.ErrNotFound), errors.Is(err, account.ErrAccountNotFound{}):
		RespondNotFound(c, "Transfer not found")
	case errors.Is(err, escrow.ErrIdentityMismatch):
		RespondForbidden(c, "This transfer is not addressed to you")
	case errors.Is(err, escrow.ErrUnavailable{}):
		RespondServiceUnavailable(c, retryAfterSeconds)
	default:
		RespondInternalError(c)
	}
}
