package model

import "time"

// PlayerID uniquely identifies a player across the system.
// It is the client's stable device identifier (or authenticated user id).
type PlayerID string

// PlayerRole distinguishes the host from ordinary players and spectators
type PlayerRole string

const (
	RoleHost      PlayerRole = "host"
	RolePlayer    PlayerRole = "player"
	RoleSpectator PlayerRole = "spectator"
)

// MaxNameLength is the display name cap applied on create/join
const MaxNameLength = 20

// Avatar is either a preset reference or a doodle payload drawn by the
// player. The doodle bitmap codec lives outside this module; the RLE
// string is carried opaquely.
type Avatar struct {
	Kind string `json:"kind"` // "preset" or "doodle"
	ID   string `json:"id,omitempty"`
	RLE  string `json:"rle,omitempty"`
}

// PresetAvatarIDs are the built-in avatars assigned when a player
// doesn't bring their own
var PresetAvatarIDs = []string{"p1", "p2", "p3", "p4", "p5", "p6", "p7", "p8"}

// Player is a member's shared record within a room, keyed by identity.
// MutedUntil, when set and in the future, marks the player shadow-muted.
type Player struct {
	ID         PlayerID   `json:"id"`
	Name       string     `json:"name"`
	Role       PlayerRole `json:"role"`
	Avatar     *Avatar    `json:"avatar,omitempty"`
	MutedUntil int64      `json:"mutedUntil,omitempty"`
	LastSeen   int64      `json:"lastSeen"`
}

// MutedAt reports whether the player is shadow-muted at the given time
func (p *Player) MutedAt(now time.Time) bool {
	return p.MutedUntil > now.UnixMilli()
}

// Presence is the lightweight liveness record written alongside the
// Player record and refreshed by heartbeats
type Presence struct {
	LastSeen int64 `json:"lastSeen"`
}
