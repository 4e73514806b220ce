package hold

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/escrow-invite-ledger/internal/domain/identity"
	"github.com/google/uuid"
)

// Status is the lifecycle state of a hold
type Status string

const (
	StatusPending   Status = "pending"
	StatusDelivered Status = "delivered"
	StatusOpened    Status = "opened"
	StatusAccepted  Status = "accepted"
	StatusDeclined  Status = "declined"
	StatusExpired   Status = "expired"
)

// TokenBytes is the entropy of a hold token before encoding
const TokenBytes = 32

// MaxMessageLength bounds the optional sender note
const MaxMessageLength = 280

var (
	ErrInvalidAmount   = errors.New("amount must be positive")
	ErrInvalidTTL      = errors.New("ttl must be positive")
	ErrMessageTooLong  = fmt.Errorf("message cannot exceed %d characters", MaxMessageLength)
	ErrMissingIdentity = errors.New("recipient identity is required")

	// ErrInvalidTransition rejects a compare-and-swap that is not an edge of the state machine
	ErrInvalidTransition = errors.New("invalid hold status transition")
)

// ResolvableStatuses are the states from which accept, decline and expire may fire
var ResolvableStatuses = []Status{StatusPending, StatusDelivered, StatusOpened}

// ValidTransitions maps each status to the statuses it may move to.
// Terminal statuses have no outgoing edges.
var ValidTransitions = map[Status][]Status{
	StatusPending:   {StatusDelivered, StatusOpened, StatusAccepted, StatusDeclined, StatusExpired},
	StatusDelivered: {StatusOpened, StatusAccepted, StatusDeclined, StatusExpired},
	StatusOpened:    {StatusAccepted, StatusDeclined, StatusExpired},
	StatusAccepted:  {},
	StatusDeclined:  {},
	StatusExpired:   {},
}

// IsValidTransition checks whether from -> to is an edge of the state machine
func IsValidTransition(from, to Status) bool {
	for _, s := range ValidTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is permitted
func (s Status) IsTerminal() bool {
	return s == StatusAccepted || s == StatusDeclined || s == StatusExpired
}

// IsResolvable reports whether a terminal transition may still fire
func (s Status) IsResolvable() bool {
	return s == StatusPending || s == StatusDelivered || s == StatusOpened
}

// Hold is an escrowed transfer awaiting resolution
type Hold struct {
	ID                 uuid.UUID
	SenderAccountID    uuid.UUID
	Amount             int64 // minor units
	Recipient          identity.Identity
	RecipientAccountID *uuid.UUID
	Status             Status
	Token              string
	Message            string
	IdempotencyKey     string
	CreatedAt          time.Time
	ExpiresAt          time.Time
	DeliveredAt        *time.Time
	OpenedAt           *time.Time
	ResolvedAt         *time.Time
	EscrowTxnID        uuid.UUID
	ResolutionTxnID    *uuid.UUID
}

// New builds a pending hold with a fresh id and token. EscrowTxnID is left for the caller
// to fill from the debit entry.
func New(sender uuid.UUID, amount int64, recipient identity.Identity, ttl time.Duration, now time.Time) (*Hold, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if ttl <= 0 {
		return nil, ErrInvalidTTL
	}
	if recipient == nil {
		return nil, ErrMissingIdentity
	}

	token, err := NewToken()
	if err != nil {
		return nil, err
	}

	now = now.UTC()
	return &Hold{
		ID:              uuid.New(),
		SenderAccountID: sender,
		Amount:          amount,
		Recipient:       recipient,
		Status:          StatusPending,
		Token:           token,
		CreatedAt:       now,
		ExpiresAt:       now.Add(ttl),
	}, nil
}

// NewToken returns TokenBytes of crypto/rand entropy in unpadded URL-safe base64
func NewToken() (string, error) {
	buf := make([]byte, TokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate hold token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// SetMessage attaches the optional sender note
func (h *Hold) SetMessage(message string) error {
	if len([]rune(message)) > MaxMessageLength {
		return ErrMessageTooLong
	}
	h.Message = message
	return nil
}

// IsExpired reports whether the deadline has been reached (expires_at <= now)
func (h *Hold) IsExpired(now time.Time) bool {
	return !now.Before(h.ExpiresAt)
}

// Transition describes one compare-and-swap on a hold's status
type Transition struct {
	HoldID             uuid.UUID
	From               []Status
	To                 Status
	ResolutionTxnID    uuid.UUID
	RecipientAccountID *uuid.UUID
	At                 time.Time
}

// Validate checks that every From status may move to To and that To is terminal
func (t Transition) Validate() error {
	if !t.To.IsTerminal() || len(t.From) == 0 || t.ResolutionTxnID == uuid.Nil {
		return ErrInvalidTransition
	}
	for _, from := range t.From {
		if !IsValidTransition(from, t.To) {
			return ErrInvalidTransition
		}
	}
	return nil
}

// FromStrings renders From for storage-level array parameters
func (t Transition) FromStrings() []string {
	out := make([]string, len(t.From))
	for i, s := range t.From {
		out[i] = string(s)
	}
	return out
}
