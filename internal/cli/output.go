package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/joinhall/lobbysync/internal/model"
	"github.com/joinhall/lobbysync/internal/moderation"
)

// Output handles formatting output based on the configured format.
// Prints are serialized so interleaved subscription callbacks don't
// mangle lines.
type Output struct {
	mu     sync.Mutex
	format string
}

// NewOutput creates a new Output formatter
func NewOutput(format string) *Output {
	return &Output{format: format}
}

// PrintError outputs an error
func (o *Output) PrintError(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.format == "json" {
		data, _ := json.Marshal(map[string]any{
			"error": map[string]string{"message": err.Error()},
		})
		fmt.Fprintln(os.Stderr, string(data))
	} else {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
	}
}

// PrintMessage outputs a simple message
func (o *Output) PrintMessage(msg string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.format == "json" {
		data, _ := json.Marshal(map[string]string{"message": msg})
		fmt.Println(string(data))
	} else {
		fmt.Println(msg)
	}
}

// PrintRoom outputs a room record
func (o *Output) PrintRoom(room *model.Room) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.format == "json" {
		o.printJSON(room)
		return
	}
	fmt.Printf("Room: %s\n", room.ID)
	fmt.Printf("Join Code: %s\n", room.JoinCode)
	fmt.Printf("Status: %s\n", room.Status)
	fmt.Printf("Max Players: %d\n", room.MaxPlayers)
	if room.Options.ChatDelayMs > 0 {
		fmt.Printf("Slow Mode: %dms\n", room.Options.ChatDelayMs)
	}
	if room.Status == model.RoomStatusStarting {
		fmt.Printf("Starting At: %s\n", time.UnixMilli(room.EpochStart).Format(time.TimeOnly))
	}
}

// PrintPlayers outputs the current roster
func (o *Output) PrintPlayers(players []model.Player, hostID model.PlayerID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.format == "json" {
		o.printJSON(players)
		return
	}
	fmt.Printf("Players (%d):\n", len(players))
	for _, p := range players {
		suffix := ""
		if p.ID == hostID {
			suffix = " [host]"
		}
		if p.Role == model.RoleSpectator {
			suffix += " [spectator]"
		}
		fmt.Printf("  - %s (%s)%s\n", p.Name, p.ID, suffix)
	}
}

// PrintChat outputs one chat message
func (o *Output) PrintChat(msg model.ChatMessage) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.format == "json" {
		o.printJSON(msg)
		return
	}
	ts := time.UnixMilli(msg.CreatedAt).Format(time.TimeOnly)
	fmt.Printf("[%s] %s: %s\n", ts, msg.Name, msg.Text)
}

// PrintReaction outputs one reaction event
func (o *Output) PrintReaction(ev model.ReactionEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.format == "json" {
		o.printJSON(ev)
		return
	}
	fmt.Printf("* %s reacts: %s\n", ev.PlayerID, ev.Type)
}

// PrintModeration outputs a rejected send
func (o *Output) PrintModeration(res moderation.Result) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.format == "json" {
		o.printJSON(res)
		return
	}
	switch res.Reason {
	case moderation.ReasonCooldown:
		fmt.Printf("Message blocked: slow mode, %.1fs left\n", float64(res.CooldownMsLeft)/1000)
	default:
		fmt.Printf("Message blocked: %s\n", res.Reason)
	}
}

// PrintReady outputs the ready set against the roster
func (o *Output) PrintReady(ready map[model.PlayerID]bool, players []model.Player) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.format == "json" {
		o.printJSON(ready)
		return
	}
	fmt.Printf("Ready: %d/%d\n", len(ready), len(players))
}

func (o *Output) printJSON(data any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(data)
}
