package shared

// EventType names a notification about a transfer
type EventType string

const (
	EventTransferCreated  EventType = "transfer.created"
	EventTransferOpened   EventType = "transfer.opened"
	EventTransferAccepted EventType = "transfer.accepted"
	EventTransferDeclined EventType = "transfer.declined"
	EventTransferExpired  EventType = "transfer.expired"
)
