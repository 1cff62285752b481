package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joinhall/lobbysync/internal/lobby"
	"github.com/joinhall/lobbysync/internal/model"
	"github.com/joinhall/lobbysync/internal/moderation"
	"github.com/joinhall/lobbysync/internal/roomsync"
)

const sessionHelp = `Commands:
  /ready            toggle your ready state
  /start [seconds]  start the countdown (host only)
  /react <type>     send a reaction (wave, clap, laugh, wow, nope)
  /delay <ms>       set chat slow mode (host only)
  /mute <id> [min]  shadow-mute a player (host only)
  /unmute <id>      clear a player's mute (host only)
  /who              show the roster
  /help             show this help
  /quit             leave the room and exit
Anything else is sent as chat.`

// session streams room activity to stdout and drives the client from
// stdin until the user quits or the process is signalled
type session struct {
	client *lobby.Client
	out    *Output

	seenChat   map[model.MessageID]bool
	seenReacts map[model.ReactionID]bool
	lastStatus model.RoomStatus
}

// runSession attaches the interactive console to the client's current room
func runSession(ctx context.Context, client *lobby.Client, room *model.Room) error {
	out := NewOutput(cfg.Output)
	s := &session{
		client:     client,
		out:        out,
		seenChat:   make(map[model.MessageID]bool),
		seenReacts: make(map[model.ReactionID]bool),
		lastStatus: room.Status,
	}

	out.PrintRoom(room)
	out.PrintMessage("Type /help for commands.")

	var unsubs []roomsync.Unsubscribe
	defer func() {
		for _, unsub := range unsubs {
			unsub()
		}
	}()

	sync := client.Sync()
	unsubs = append(unsubs,
		sync.OnRoom(s.onRoom),
		sync.OnChat(s.onChat),
		sync.OnReactions(s.onReactions),
		client.OnModeration(s.onModeration),
	)

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	for {
		select {
		case <-ctx.Done():
			client.LeaveRoom(context.Background())
			return nil
		case <-sigCh:
			out.PrintMessage("Leaving room...")
			client.LeaveRoom(context.Background())
			return nil
		case line, ok := <-lines:
			if !ok {
				client.LeaveRoom(context.Background())
				return nil
			}
			if s.handleLine(ctx, line) {
				client.LeaveRoom(context.Background())
				return nil
			}
		}
	}
}

// handleLine dispatches one input line; returns true when the session
// should end
func (s *session) handleLine(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}

	if !strings.HasPrefix(line, "/") {
		if _, err := s.client.SendText(ctx, line); err != nil {
			s.out.PrintError(err)
		}
		return false
	}

	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit":
		return true
	case "/help":
		s.out.PrintMessage(sessionHelp)
	case "/ready":
		if err := s.client.ToggleReady(ctx); err != nil {
			s.out.PrintError(err)
		} else {
			s.out.PrintReady(s.client.Sync().Ready(), s.client.Sync().Players())
		}
	case "/start":
		seconds := 3
		if len(fields) > 1 {
			if n, err := strconv.Atoi(fields[1]); err == nil {
				seconds = n
			}
		}
		if err := s.client.HostStartCountdown(ctx, seconds); err != nil {
			s.out.PrintError(err)
		}
	case "/react":
		if len(fields) < 2 {
			s.out.PrintError(fmt.Errorf("usage: /react <type>"))
			return false
		}
		if err := s.client.SendReaction(ctx, model.ReactionType(fields[1])); err != nil {
			s.out.PrintError(err)
		}
	case "/delay":
		if len(fields) < 2 {
			s.out.PrintError(fmt.Errorf("usage: /delay <ms>"))
			return false
		}
		ms, err := strconv.Atoi(fields[1])
		if err != nil {
			s.out.PrintError(fmt.Errorf("bad delay: %q", fields[1]))
			return false
		}
		if err := s.client.UpdateOptions(ctx, lobby.OptionsPatch{ChatDelayMs: &ms}); err != nil {
			s.out.PrintError(err)
		}
	case "/mute":
		if len(fields) < 2 {
			s.out.PrintError(fmt.Errorf("usage: /mute <player-id> [minutes]"))
			return false
		}
		minutes := 10
		if len(fields) > 2 {
			if n, err := strconv.Atoi(fields[2]); err == nil {
				minutes = n
			}
		}
		target := model.PlayerID(fields[1])
		if err := s.client.ShadowMute(ctx, target, time.Duration(minutes)*time.Minute); err != nil {
			s.out.PrintError(err)
		}
	case "/unmute":
		if len(fields) < 2 {
			s.out.PrintError(fmt.Errorf("usage: /unmute <player-id>"))
			return false
		}
		if err := s.client.ShadowUnmute(ctx, model.PlayerID(fields[1])); err != nil {
			s.out.PrintError(err)
		}
	case "/who":
		room := s.client.Room()
		var hostID model.PlayerID
		if room != nil {
			hostID = room.HostID
		}
		s.out.PrintPlayers(s.client.Sync().Players(), hostID)
	default:
		s.out.PrintError(fmt.Errorf("unknown command %q, try /help", fields[0]))
	}
	return false
}

// Subscription callbacks. Snapshots carry full state; the session
// tracks what it already printed and emits only the new entries.

func (s *session) onRoom(room *model.Room) {
	if room == nil {
		return
	}
	if room.Status != s.lastStatus {
		s.lastStatus = room.Status
		if room.Status == model.RoomStatusStarting {
			secs := time.Until(time.UnixMilli(room.EpochStart)).Seconds()
			s.out.PrintMessage(fmt.Sprintf("Starting in %.0fs", secs))
		} else {
			s.out.PrintMessage(fmt.Sprintf("Room is now %s", room.Status))
		}
	}
}

func (s *session) onChat(msgs []model.ChatMessage) {
	for _, msg := range msgs {
		if s.seenChat[msg.ID] {
			continue
		}
		s.seenChat[msg.ID] = true
		s.out.PrintChat(msg)
	}
}

func (s *session) onReactions(events []model.ReactionEvent) {
	for _, ev := range events {
		if s.seenReacts[ev.ID] {
			continue
		}
		s.seenReacts[ev.ID] = true
		s.out.PrintReaction(ev)
	}
}

func (s *session) onModeration(res moderation.Result) {
	if res.OK {
		return
	}
	s.out.PrintModeration(res)
}
