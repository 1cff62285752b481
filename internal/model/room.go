package model

// RoomID uniquely identifies a room in the shared store
type RoomID string

// JoinCode is a short human-typeable code mapping to a room
type JoinCode string

// RoomStatus represents where a room is in its lifecycle
type RoomStatus string

const (
	RoomStatusLobby    RoomStatus = "lobby"    // Waiting for players
	RoomStatusStarting RoomStatus = "starting" // Countdown in progress
	RoomStatusInGame   RoomStatus = "inGame"   // Round underway
	RoomStatusEnded    RoomStatus = "ended"    // Round finished
)

// DefaultMaxPlayers is the player cap applied when a room doesn't specify one
const DefaultMaxPlayers = 8

// MaxChatDelayMs bounds the slow-mode interval a host may configure
const MaxChatDelayMs = 60_000

// RoomOptions holds the host-configurable settings for a room.
// ChatDelayMs is always written fully-specified so observers never see
// a missing required field.
type RoomOptions struct {
	ChatDelayMs      int  `json:"chatDelayMs"`
	ReactionsEnabled bool `json:"reactionsEnabled"`
	Spectators       bool `json:"spectators"`
}

// DefaultRoomOptions returns the options applied to a newly created room
func DefaultRoomOptions() RoomOptions {
	return RoomOptions{
		ChatDelayMs:      0,
		ReactionsEnabled: true,
		Spectators:       false,
	}
}

// Room is the shared metadata record for an ephemeral session.
// HostID is set at creation and never changes for the room's life.
// Timestamps are epoch milliseconds so every client converges on the
// same wall-clock target regardless of local drift.
type Room struct {
	ID         RoomID      `json:"id"`
	Slug       string      `json:"slug"`
	Version    string      `json:"version"`
	JoinCode   JoinCode    `json:"joinCode"`
	Private    bool        `json:"private"`
	MaxPlayers int         `json:"maxPlayers"`
	Status     RoomStatus  `json:"status"`
	HostID     PlayerID    `json:"hostId"`
	CreatedAt  int64       `json:"createdAt"`
	EpochStart int64       `json:"epochStart,omitempty"`
	Options    RoomOptions `json:"options"`
}

// CodeMapping is the reservation record under the join-code namespace,
// written exactly once per code and never overwritten
type CodeMapping struct {
	RoomID    RoomID `json:"roomId"`
	CreatedAt int64  `json:"createdAt"`
}
