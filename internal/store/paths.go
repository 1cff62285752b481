package store

import (
	"fmt"

	"github.com/joinhall/lobbysync/internal/model"
)

// Logical path layout:
//
//	rooms/<roomID>/meta                  Room record (leaf)
//	rooms/<roomID>/players/<playerID>    Player records
//	rooms/<roomID>/chat/<messageID>      Confirmed chat log
//	rooms/<roomID>/ready/<playerID>      Ready set (presence of entry = ready)
//	rooms/<roomID>/reactions/<id>        Reaction log
//	rooms/<roomID>/presence/<playerID>   Heartbeat records
//	codes/<CODE>                         Global join-code mapping

// RoomsPath is the branch under which rooms are pushed
const RoomsPath = "rooms"

// RoomMetaPath returns the leaf path of a room's metadata record
func RoomMetaPath(roomID model.RoomID) string {
	return fmt.Sprintf("rooms/%s/meta", roomID)
}

// RoomPlayersPath returns the branch holding a room's player records
func RoomPlayersPath(roomID model.RoomID) string {
	return fmt.Sprintf("rooms/%s/players", roomID)
}

// RoomPlayerPath returns the leaf path of one player's record in a room
func RoomPlayerPath(roomID model.RoomID, playerID model.PlayerID) string {
	return fmt.Sprintf("rooms/%s/players/%s", roomID, playerID)
}

// RoomChatPath returns the branch holding a room's confirmed chat log
func RoomChatPath(roomID model.RoomID) string {
	return fmt.Sprintf("rooms/%s/chat", roomID)
}

// RoomReadyPath returns the branch holding a room's ready set
func RoomReadyPath(roomID model.RoomID) string {
	return fmt.Sprintf("rooms/%s/ready", roomID)
}

// PlayerReadyPath returns the leaf path of one player's ready entry
func PlayerReadyPath(roomID model.RoomID, playerID model.PlayerID) string {
	return fmt.Sprintf("rooms/%s/ready/%s", roomID, playerID)
}

// RoomReactionsPath returns the branch holding a room's reaction log
func RoomReactionsPath(roomID model.RoomID) string {
	return fmt.Sprintf("rooms/%s/reactions", roomID)
}

// ReactionPath returns the leaf path of one reaction event
func ReactionPath(roomID model.RoomID, id model.ReactionID) string {
	return fmt.Sprintf("rooms/%s/reactions/%s", roomID, id)
}

// RoomPresencePath returns the branch holding a room's presence records
func RoomPresencePath(roomID model.RoomID) string {
	return fmt.Sprintf("rooms/%s/presence", roomID)
}

// PlayerPresencePath returns the leaf path of one player's presence record
func PlayerPresencePath(roomID model.RoomID, playerID model.PlayerID) string {
	return fmt.Sprintf("rooms/%s/presence/%s", roomID, playerID)
}

// CodePath returns the leaf path of a join-code reservation
func CodePath(code model.JoinCode) string {
	return fmt.Sprintf("codes/%s", code)
}
