package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/escrow-invite-ledger/internal/api_gateway/middleware"
	"github.com/escrow-invite-ledger/internal/api_gateway/service"
	"github.com/escrow-invite-ledger/internal/domain/account"
	"github.com/escrow-invite-ledger/internal/domain/ledger"
	"github.com/escrow-invite-ledger/internal/domain/shared"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// AccountHandler handles HTTP requests for account operations
type AccountHandler struct {
	accountService service.AccountService
	logger         *slog.Logger
}

// NewAccountHandler creates a new account handler
func NewAccountHandler(logger *slog.Logger, accountService service.AccountService) *AccountHandler {
	return &AccountHandler{
		accountService: accountService,
		logger:         logger,
	}
}

// Create registers an account and returns its first access token
func (h *AccountHandler) Create(c *gin.Context) {
	var req RegisterAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Info("Invalid request body", "correlation_id", middleware.GetCorrelationID(c), "error", err)
		RespondBadRequest(c, "Invalid request body: "+err.Error())
		return
	}

	reg, err := h.accountService.Register(c.Request.Context(), req.Username, req.Email, req.Phone, req.InitialBalance)
	if err != nil {
		var duplicate account.ErrDuplicateIdentity
		if errors.As(err, &duplicate) {
			h.logger.Warn("Attempt to register a taken identity", "field", duplicate.Field)
			RespondConflict(c, duplicate.Error())
			return
		}
		for _, target := range validationErrors {
			if errors.Is(err, target) {
				RespondBadRequest(c, err.Error())
				return
			}
		}
		h.logger.Error("Failed to register account", "error", err)
		RespondInternalError(c)
		return
	}

	RespondCreated(c, RegistrationResponse{
		Account:     mapAccountToResponse(reg.Account),
		AccessToken: reg.AccessToken,
	})
}

// GetByID returns the caller's own account. Other accounts are forbidden.
func (h *AccountHandler) GetByID(c *gin.Context) {
	id, ok := h.selfParam(c)
	if !ok {
		return
	}

	acc, err := h.accountService.GetAccountByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, account.ErrAccountNotFound{}) {
			RespondNotFound(c, "Account not found")
			return
		}
		h.logger.Error("Failed to get account", "id", id.String(), "error", err)
		RespondInternalError(c)
		return
	}

	RespondOK(c, mapAccountToResponse(acc))
}

// History pages through the caller's ledger entries, newest first
func (h *AccountHandler) History(c *gin.Context) {
	id, ok := h.selfParam(c)
	if !ok {
		return
	}

	var pagination PaginationParams
	if err := c.ShouldBindQuery(&pagination); err != nil {
		RespondBadRequest(c, "Invalid pagination parameters")
		return
	}

	entries, total, err := h.accountService.GetHistory(c.Request.Context(), id, pagination.Page, pagination.PerPage)
	if err != nil {
		if errors.Is(err, account.ErrAccountNotFound{}) {
			RespondNotFound(c, "Account not found")
			return
		}
		h.logger.Error("Failed to get ledger history", "account_id", id.String(), "error", err)
		RespondInternalError(c)
		return
	}

	response := make([]EntryResponse, 0, len(entries))
	for _, entry := range entries {
		response = append(response, mapEntryToResponse(entry))
	}

	RespondWithPaginatedData(c, http.StatusOK, response, pagination.Page, pagination.PerPage, int(total))
}

// selfParam parses :id and requires it to be the authenticated account
func (h *AccountHandler) selfParam(c *gin.Context) (uuid.UUID, bool) {
	idParam := c.Param("id")
	id, err := uuid.Parse(idParam)
	if err != nil {
		RespondBadRequest(c, "Invalid account ID")
		return uuid.Nil, false
	}

	caller, ok := middleware.AccountID(c)
	if !ok {
		RespondUnauthorized(c, "")
		return uuid.Nil, false
	}
	if caller != id {
		RespondForbidden(c, "Accounts can only be viewed by their owner")
		return uuid.Nil, false
	}
	return id, true
}

// mapAccountToResponse maps an account entity to an account response DTO
func mapAccountToResponse(acc *account.Account) AccountResponse {
	return AccountResponse{
		ID:             acc.ID.String(),
		Username:       acc.Username,
		Email:          acc.Email,
		Phone:          acc.Phone,
		Balance:        acc.Balance,
		DisplayBalance: shared.FormatMinorUnits(acc.Balance),
		CreatedAt:      acc.CreatedAt.Format(time.RFC3339),
		UpdatedAt:      acc.UpdatedAt.Format(time.RFC3339),
	}
}

// mapEntryToResponse maps a ledger entry to an entry response DTO
func mapEntryToResponse(entry *ledger.Entry) EntryResponse {
	signed := entry.SignedAmount()
	return EntryResponse{
		ID:            entry.ID.String(),
		Kind:          string(entry.Kind),
		HoldID:        entry.HoldID.String(),
		Amount:        entry.Amount,
		SignedAmount:  signed,
		DisplayAmount: shared.FormatMinorUnits(signed),
		Reason:        string(entry.Reason),
		CreatedAt:     entry.CreatedAt.Format(time.RFC3339),
	}
}
