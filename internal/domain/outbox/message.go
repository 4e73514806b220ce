package outbox

import (
	"encoding/json"
	"time"

	"github.com/escrow-invite-ledger/internal/domain/ledger"
	"github.com/escrow-invite-ledger/internal/domain/shared"
	"github.com/google/uuid"
)

// Message carries a committed ledger entry to the history read model
type Message struct {
	ID            int64               `json:"id"`
	EntryID       uuid.UUID           `json:"entry_id"`
	HoldID        uuid.UUID           `json:"hold_id"`
	Payload       json.RawMessage     `json:"payload"`
	Status        shared.OutboxStatus `json:"status"`
	Attempts      int                 `json:"attempts"`
	CreatedAt     time.Time           `json:"created_at"`
	LastAttemptAt *time.Time          `json:"last_attempt_at,omitempty"`
}

func NewMessage(entry *ledger.Entry) (*Message, error) {
	payload, err := json.Marshal(entry)
	if err != nil {
		return nil, err
	}

	return &Message{
		EntryID:   entry.ID,
		HoldID:    entry.HoldID,
		Payload:   payload,
		Status:    shared.OutboxStatusPending,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// LedgerEntry decodes the mirrored entry
func (m *Message) LedgerEntry() (*ledger.Entry, error) {
	var entry ledger.Entry
	if err := json.Unmarshal(m.Payload, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

// Exhausted reports whether one more failed attempt reaches the retry budget
func (m *Message) Exhausted(maxAttempts int) bool {
	return m.Attempts+1 >= maxAttempts
}
