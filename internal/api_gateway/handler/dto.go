package handler

// RegisterAccountRequest represents a request to open an account. Email and phone are optional.
type RegisterAccountRequest struct {
	Username       string `json:"username" binding:"required"`
	Email          string `json:"email"`
	Phone          string `json:"phone"`
	InitialBalance int64  `json:"initial_balance" binding:"min=0"`
}

// AccountResponse represents an account in API responses
type AccountResponse struct {
	ID             string `json:"id"`
	Username       string `json:"username"`
	Email          string `json:"email,omitempty"`
	Phone          string `json:"phone,omitempty"`
	Balance        int64  `json:"balance"`
	DisplayBalance string `json:"display_balance"`
	CreatedAt      string `json:"created_at"`
	UpdatedAt      string `json:"updated_at"`
}

// RegistrationResponse is returned once, when the account is created
type RegistrationResponse struct {
	Account     AccountResponse `json:"account"`
	AccessToken string          `json:"access_token"`
}

// EntryResponse represents a ledger entry in API responses
type EntryResponse struct {
	ID            string `json:"id"`
	Kind          string `json:"kind"`
	HoldID        string `json:"hold_id"`
	Amount        int64  `json:"amount"`
	SignedAmount  int64  `json:"signed_amount"`
	DisplayAmount string `json:"display_amount"`
	Reason        string `json:"reason,omitempty"`
	CreatedAt     string `json:"created_at"`
}

// TransferEntriesResponse lists the ledger entries posted for one transfer
type TransferEntriesResponse struct {
	Transfer TransferResponse `json:"transfer"`
	Entries  []EntryResponse  `json:"entries"`
	Released bool             `json:"released"`
}

// RecipientRequest addresses the recipient by one contact method
type RecipientRequest struct {
	Method  string `json:"method" binding:"required,oneof=email phone username"`
	Contact string `json:"contact" binding:"required"`
}

// CreateTransferRequest represents a request to send money into escrow.
// TTLSeconds of zero selects the server default.
type CreateTransferRequest struct {
	Amount     int64            `json:"amount" binding:"required"`
	Recipient  RecipientRequest `json:"recipient"`
	TTLSeconds int64            `json:"ttl_seconds" binding:"min=0"`
	Message    string           `json:"message"`
}

// TokenRequest carries the hold token from the invite link
type TokenRequest struct {
	Token string `json:"token" binding:"required"`
}

// TransferResponse represents a hold in API responses. Token is only set on the
// create response, and the recipient contact is masked for anyone but the sender.
type TransferResponse struct {
	ID               string `json:"id"`
	SenderAccountID  string `json:"sender_account_id"`
	Amount           int64  `json:"amount"`
	DisplayAmount    string `json:"display_amount"`
	RecipientMethod  string `json:"recipient_method"`
	RecipientContact string `json:"recipient_contact"`
	Status           string `json:"status"`
	Message          string `json:"message,omitempty"`
	Token            string `json:"token,omitempty"`
	CreatedAt        string `json:"created_at"`
	ExpiresAt        string `json:"expires_at"`
	DeliveredAt      string `json:"delivered_at,omitempty"`
	OpenedAt         string `json:"opened_at,omitempty"`
	ResolvedAt       string `json:"resolved_at,omitempty"`
}

// AcceptResponse reports the released amount and the recipient's new balance
type AcceptResponse struct {
	Transfer          TransferResponse `json:"transfer"`
	Amount            int64            `json:"amount"`
	NewBalance        int64            `json:"new_balance"`
	DisplayNewBalance string           `json:"display_new_balance"`
}

// DeclineResponse reports the amount returned to the sender
type DeclineResponse struct {
	Transfer       TransferResponse `json:"transfer"`
	RefundedAmount int64            `json:"refunded_amount"`
}

// PaginationParams represents pagination parameters for list endpoints
type PaginationParams struct {
	Page    int `form:"page,default=1" binding:"min=1"`
	PerPage int `form:"per_page,default=10" binding:"min=1,max=100"`
}

func (p PaginationParams) offset() int {
	return (p.Page - 1) * p.PerPage
}
