package model

// ChatType distinguishes ordinary text from system notices and
// structured message kinds
type ChatType string

const (
	ChatTypeText     ChatType = "text"
	ChatTypeSystem   ChatType = "system"
	ChatTypeReaction ChatType = "reaction"
	ChatTypePoll     ChatType = "poll"
)

// MessageID is a store-assigned chat message identifier. Store-assigned
// ids are monotonic enough to break ties between messages with the same
// CreatedAt.
type MessageID string

// ChatMessage is a single chat log entry. Confirmed messages are
// immutable once written. A local echo is a client-only ChatMessage with
// a locally generated id; it never reaches the shared store.
type ChatMessage struct {
	ID        MessageID `json:"id"`
	RoomID    RoomID    `json:"roomId"`
	PlayerID  PlayerID  `json:"playerId"`
	Name      string    `json:"name"`
	CreatedAt int64     `json:"createdAt"`
	Type      ChatType  `json:"type"`
	Text      string    `json:"text,omitempty"`
}

// Before orders messages by CreatedAt, breaking ties by id
func (m ChatMessage) Before(other ChatMessage) bool {
	if m.CreatedAt != other.CreatedAt {
		return m.CreatedAt < other.CreatedAt
	}
	return m.ID < other.ID
}
