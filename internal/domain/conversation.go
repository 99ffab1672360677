package domain

// Message is a single persisted chat exchange.
type Message struct {
	PK             string
	SK             string
	ConversationID string
	UserID         string
	Text           string
	Answer         string
	Outcome        string
	Status         string
	CreatedAt      string
	TTL            int64
}

// ConversationMeta stores aggregate conversation state. The turns counter
// lives only in the table and is incremented on every saved exchange.
type ConversationMeta struct {
	PK             string
	SK             string
	ConversationID string
	UserID         string
	LastActivity   string
	TTL            int64
}
