package handler

import (
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/escrow-invite-ledger/internal/api_gateway/middleware"
	"github.com/escrow-invite-ledger/internal/api_gateway/service"
	"github.com/escrow-invite-ledger/internal/domain/hold"
	"github.com/escrow-invite-ledger/internal/domain/identity"
	"github.com/escrow-invite-ledger/internal/domain/shared"
	escrow "github.com/escrow-invite-ledger/internal/escrow/service"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// IdempotencyKeyHeader lets a client retry a create without a second debit
const IdempotencyKeyHeader = "Idempotency-Key"

// maxTTLSeconds is the largest ttl_seconds that still fits a time.Duration
const maxTTLSeconds = math.MaxInt64 / int64(time.Second)

const maskedContact = "***"

// TransferHandler handles HTTP requests for escrowed transfers
type TransferHandler struct {
	transfers service.TransferService
	logger    *slog.Logger
}

// NewTransferHandler creates a new transfer handler
func NewTransferHandler(logger *slog.Logger, transfers service.TransferService) *TransferHandler {
	return &TransferHandler{
		transfers: transfers,
		logger:    logger,
	}
}

// Create escrows the amount for the recipient. A replayed idempotency key
// answers 200 with the original transfer instead of 201.
func (h *TransferHandler) Create(c *gin.Context) {
	sender, ok := actor(c)
	if !ok {
		return
	}

	var req CreateTransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Info("Invalid request body", "correlation_id", middleware.GetCorrelationID(c), "error", err)
		RespondBadRequest(c, "Invalid request body: "+err.Error())
		return
	}

	if req.TTLSeconds > maxTTLSeconds {
		RespondBadRequest(c, "ttl_seconds out of range")
		return
	}

	recipient, err := identity.Parse(req.Recipient.Method, req.Recipient.Contact)
	if err != nil {
		RespondBadRequest(c, err.Error())
		return
	}

	result, err := h.transfers.CreateTransfer(c.Request.Context(), escrow.CreateTransferRequest{
		SenderID:       sender,
		Amount:         req.Amount,
		Recipient:      recipient,
		TTL:            time.Duration(req.TTLSeconds) * time.Second,
		Message:        req.Message,
		IdempotencyKey: c.GetHeader(IdempotencyKeyHeader),
	})
	if err != nil {
		respondEngineError(c, err)
		return
	}

	response := mapHoldToResponse(result.Hold, true)
	response.Token = result.Hold.Token
	if result.Replayed {
		RespondOK(c, response)
		return
	}
	RespondCreated(c, response)
}

// Get returns one transfer to its sender or its recipient
func (h *TransferHandler) Get(c *gin.Context) {
	viewer, id, ok := actorAndHold(c)
	if !ok {
		return
	}

	view, err := h.transfers.ViewTransfer(c.Request.Context(), id, viewer)
	if err != nil {
		respondEngineError(c, err)
		return
	}

	RespondOK(c, mapHoldToResponse(view.Hold, view.ViewerIsSender))
}

// Entries returns the authoritative ledger entries posted for a transfer
func (h *TransferHandler) Entries(c *gin.Context) {
	viewer, id, ok := actorAndHold(c)
	if !ok {
		return
	}

	audit, err := h.transfers.AuditTransfer(c.Request.Context(), id, viewer)
	if err != nil {
		respondEngineError(c, err)
		return
	}

	response := TransferEntriesResponse{
		Transfer: mapHoldToResponse(audit.Hold, audit.Hold.SenderAccountID == viewer),
		Entries:  make([]EntryResponse, 0, len(audit.Entries)),
		Released: audit.Released,
	}
	for _, entry := range audit.Entries {
		response.Entries = append(response.Entries, mapEntryToResponse(entry))
	}
	RespondOK(c, response)
}

// ListSent pages through the caller's outgoing transfers, newest first
func (h *TransferHandler) ListSent(c *gin.Context) {
	sender, ok := actor(c)
	if !ok {
		return
	}

	var pagination PaginationParams
	if err := c.ShouldBindQuery(&pagination); err != nil {
		RespondBadRequest(c, "Invalid pagination parameters")
		return
	}

	holds, total, err := h.transfers.ListSent(c.Request.Context(), sender, pagination.PerPage, pagination.offset())
	if err != nil {
		respondEngineError(c, err)
		return
	}

	RespondWithPaginatedData(c, http.StatusOK, mapHolds(holds, true), pagination.Page, pagination.PerPage, int(total))
}

// ListReceived lists transfers still awaiting the caller's decision
func (h *TransferHandler) ListReceived(c *gin.Context) {
	recipient, ok := actor(c)
	if !ok {
		return
	}

	var pagination PaginationParams
	if err := c.ShouldBindQuery(&pagination); err != nil {
		RespondBadRequest(c, "Invalid pagination parameters")
		return
	}

	holds, err := h.transfers.ListReceived(c.Request.Context(), recipient, pagination.PerPage, pagination.offset())
	if err != nil {
		respondEngineError(c, err)
		return
	}

	RespondOK(c, mapHolds(holds, false))
}

// Accept releases the escrowed amount to the caller
func (h *TransferHandler) Accept(c *gin.Context) {
	recipient, token, ok := actorAndToken(c)
	if !ok {
		return
	}

	result, err := h.transfers.Accept(c.Request.Context(), token, recipient)
	if err != nil {
		respondEngineError(c, err)
		return
	}

	RespondOK(c, AcceptResponse{
		Transfer:          mapHoldToResponse(result.Hold, false),
		Amount:            result.Amount,
		NewBalance:        result.NewBalance,
		DisplayNewBalance: shared.FormatMinorUnits(result.NewBalance),
	})
}

// Decline returns the escrowed amount to the sender
func (h *TransferHandler) Decline(c *gin.Context) {
	recipient, id, ok := actorAndHold(c)
	if !ok {
		return
	}

	result, err := h.transfers.Decline(c.Request.Context(), id, recipient)
	if err != nil {
		respondEngineError(c, err)
		return
	}

	RespondOK(c, mapDecline(result))
}

// DeclineByToken is Decline for the invite link
func (h *TransferHandler) DeclineByToken(c *gin.Context) {
	recipient, token, ok := actorAndToken(c)
	if !ok {
		return
	}

	result, err := h.transfers.DeclineByToken(c.Request.Context(), token, recipient)
	if err != nil {
		respondEngineError(c, err)
		return
	}

	RespondOK(c, mapDecline(result))
}

// Open records that the recipient has seen the invite
func (h *TransferHandler) Open(c *gin.Context) {
	recipient, id, ok := actorAndHold(c)
	if !ok {
		return
	}

	opened, err := h.transfers.MarkOpened(c.Request.Context(), id, recipient)
	if err != nil {
		respondEngineError(c, err)
		return
	}

	RespondOK(c, mapHoldToResponse(opened, false))
}

// OpenByToken is Open for the invite link
func (h *TransferHandler) OpenByToken(c *gin.Context) {
	recipient, token, ok := actorAndToken(c)
	if !ok {
		return
	}

	opened, err := h.transfers.OpenByToken(c.Request.Context(), token, recipient)
	if err != nil {
		respondEngineError(c, err)
		return
	}

	RespondOK(c, mapHoldToResponse(opened, false))
}

func actor(c *gin.Context) (uuid.UUID, bool) {
	id, ok := middleware.AccountID(c)
	if !ok {
		RespondUnauthorized(c, "")
	}
	return id, ok
}

func actorAndHold(c *gin.Context) (uuid.UUID, uuid.UUID, bool) {
	caller, ok := actor(c)
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondBadRequest(c, "Invalid transfer ID")
		return uuid.Nil, uuid.Nil, false
	}
	return caller, id, true
}

func actorAndToken(c *gin.Context) (uuid.UUID, string, bool) {
	caller, ok := actor(c)
	if !ok {
		return uuid.Nil, "", false
	}
	var req TokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBadRequest(c, "Invalid request body: "+err.Error())
		return uuid.Nil, "", false
	}
	return caller, req.Token, true
}

func mapHolds(holds []*hold.Hold, asSender bool) []TransferResponse {
	out := make([]TransferResponse, 0, len(holds))
	for _, h := range holds {
		out = append(out, mapHoldToResponse(h, asSender))
	}
	return out
}

func mapDecline(result *escrow.DeclineResult) DeclineResponse {
	return DeclineResponse{
		Transfer:       mapHoldToResponse(result.Hold, false),
		RefundedAmount: result.RefundedAmount,
	}
}

// mapHoldToResponse maps a hold to a transfer response DTO. The token is never
// included here; only the create response carries it.
func mapHoldToResponse(h *hold.Hold, asSender bool) TransferResponse {
	response := TransferResponse{
		ID:               h.ID.String(),
		SenderAccountID:  h.SenderAccountID.String(),
		Amount:           h.Amount,
		DisplayAmount:    shared.FormatMinorUnits(h.Amount),
		RecipientMethod:  string(h.Recipient.Method()),
		RecipientContact: maskedContact,
		Status:           string(h.Status),
		Message:          h.Message,
		CreatedAt:        h.CreatedAt.Format(time.RFC3339),
		ExpiresAt:        h.ExpiresAt.Format(time.RFC3339),
		DeliveredAt:      formatOptional(h.DeliveredAt),
		OpenedAt:         formatOptional(h.OpenedAt),
		ResolvedAt:       formatOptional(h.ResolvedAt),
	}
	if asSender {
		response.RecipientContact = h.Recipient.Contact()
	}
	return response
}

func formatOptional(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339)
}
