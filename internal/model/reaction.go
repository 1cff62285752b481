package model

// ReactionType is one of a fixed closed set of emoji categories
type ReactionType string

const (
	ReactionWave  ReactionType = "wave"
	ReactionClap  ReactionType = "clap"
	ReactionLaugh ReactionType = "laugh"
	ReactionWow   ReactionType = "wow"
	ReactionNope  ReactionType = "nope"
)

// ReactionTypes lists every valid reaction
var ReactionTypes = []ReactionType{
	ReactionWave,
	ReactionClap,
	ReactionLaugh,
	ReactionWow,
	ReactionNope,
}

// ValidReactionType reports whether t is a member of the closed enum
func ValidReactionType(t ReactionType) bool {
	for _, rt := range ReactionTypes {
		if t == rt {
			return true
		}
	}
	return false
}

// ReactionID is a store-assigned reaction event identifier
type ReactionID string

// ReactionEvent is a write-once, short-lived emoji burst in the shared
// reaction log; stale entries are eligible for pruning
type ReactionEvent struct {
	ID        ReactionID   `json:"id"`
	PlayerID  PlayerID     `json:"playerId"`
	Type      ReactionType `json:"type"`
	CreatedAt int64        `json:"createdAt"`
}
