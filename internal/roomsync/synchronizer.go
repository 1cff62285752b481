package roomsync

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/joinhall/lobbysync/internal/dependencies/clock"
	"github.com/joinhall/lobbysync/internal/model"
	"github.com/joinhall/lobbysync/internal/store"
)

const (
	// LocalEchoRetention bounds how long a client-only echo stays in
	// the merged chat view
	LocalEchoRetention = 60 * time.Second

	// ReactionLogLimit is the retention threshold beyond which the
	// host prunes the shared reaction log
	ReactionLogLimit = 50
	// ReactionPruneInterval is the minimum gap between pruning passes
	ReactionPruneInterval = 10 * time.Second
)

// Unsubscribe detaches a listener registered with one of the On
// functions
type Unsubscribe func()

// Synchronizer owns the five per-room subscription channels (metadata,
// players, chat, ready set, reactions), each delivering the full
// current snapshot on every change. It merges confirmed chat with
// client-only echoes and performs opportunistic host-led pruning of the
// reaction log.
type Synchronizer struct {
	store  store.Store
	clock  clock.Clock
	logger *slog.Logger

	mu       sync.Mutex
	roomID   model.RoomID
	selfID   model.PlayerID
	attached bool
	unsubs   []store.UnsubscribeFunc

	room      *model.Room
	players   []model.Player
	confirmed []model.ChatMessage
	echoes    []model.ChatMessage
	merged    []model.ChatMessage
	ready     map[model.PlayerID]bool
	reactions []model.ReactionEvent

	roomListeners     map[int]func(*model.Room)
	playerListeners   map[int]func([]model.Player)
	chatListeners     map[int]func([]model.ChatMessage)
	readyListeners    map[int]func(map[model.PlayerID]bool)
	reactionListeners map[int]func([]model.ReactionEvent)
	nextListener      int

	lastPruneAt time.Time
	pruning     bool
}

// New creates a synchronizer
func New(st store.Store, clk clock.Clock, logger *slog.Logger) *Synchronizer {
	return &Synchronizer{
		store:             st,
		clock:             clk,
		logger:            logger.With(slog.String("component", "roomsync")),
		ready:             make(map[model.PlayerID]bool),
		roomListeners:     make(map[int]func(*model.Room)),
		playerListeners:   make(map[int]func([]model.Player)),
		chatListeners:     make(map[int]func([]model.ChatMessage)),
		readyListeners:    make(map[int]func(map[model.PlayerID]bool)),
		reactionListeners: make(map[int]func([]model.ReactionEvent)),
	}
}

// Attach subscribes the five channels for a room. Attaching twice to
// the same room is a no-op; listeners registered before or after keep
// receiving snapshots either way.
func (s *Synchronizer) Attach(ctx context.Context, roomID model.RoomID, selfID model.PlayerID) error {
	s.mu.Lock()
	if s.attached && s.roomID == roomID {
		s.mu.Unlock()
		return nil
	}
	if s.attached {
		s.detachLocked()
	}
	s.roomID = roomID
	s.selfID = selfID
	s.attached = true
	s.mu.Unlock()

	subs := []struct {
		path string
		fn   func(store.Snapshot)
	}{
		{store.RoomMetaPath(roomID), s.onMeta},
		{store.RoomPlayersPath(roomID), s.onPlayers},
		{store.RoomChatPath(roomID), s.onChat},
		{store.RoomReadyPath(roomID), s.onReady},
		{store.RoomReactionsPath(roomID), s.onReactions},
	}
	for _, sub := range subs {
		unsub, err := s.store.Subscribe(ctx, sub.path, sub.fn)
		if err != nil {
			s.Detach()
			return err
		}
		s.mu.Lock()
		s.unsubs = append(s.unsubs, unsub)
		s.mu.Unlock()
	}

	s.logger.Info("attached to room", slog.String("room_id", string(roomID)))
	return nil
}

// Detach drops all channel subscriptions and resets local state,
// pushing empty snapshots so subscribers observe the reset
func (s *Synchronizer) Detach() {
	s.mu.Lock()
	s.detachLocked()
	s.mu.Unlock()

	s.notifyRoom()
	s.notifyPlayers()
	s.notifyChat()
	s.notifyReady()
	s.notifyReactions()
}

func (s *Synchronizer) detachLocked() {
	for _, unsub := range s.unsubs {
		unsub()
	}
	s.unsubs = nil
	s.attached = false
	s.roomID = ""
	s.room = nil
	s.players = nil
	s.confirmed = nil
	s.echoes = nil
	s.merged = nil
	s.ready = make(map[model.PlayerID]bool)
	s.reactions = nil
}

// Room returns the most recently observed room record, or nil
func (s *Synchronizer) Room() *model.Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.room == nil {
		return nil
	}
	room := *s.room
	return &room
}

// Players returns the current sorted player list
func (s *Synchronizer) Players() []model.Player {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Player(nil), s.players...)
}

// Chat returns the merged chat view (confirmed messages + live echoes)
func (s *Synchronizer) Chat() []model.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.ChatMessage(nil), s.merged...)
}

// Ready returns the current ready set
func (s *Synchronizer) Ready() map[model.PlayerID]bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyReady(s.ready)
}

// Reactions returns the current reaction log, oldest first
func (s *Synchronizer) Reactions() []model.ReactionEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.ReactionEvent(nil), s.reactions...)
}

// AddEcho inserts a client-only chat message into the merged view. It
// is never written to the shared store and expires after the retention
// window.
func (s *Synchronizer) AddEcho(msg model.ChatMessage) {
	s.mu.Lock()
	s.echoes = append(s.echoes, msg)
	s.rebuildChatLocked()
	s.mu.Unlock()
	s.notifyChat()
}

// Listener registration. The most recent known snapshot is delivered
// synchronously to a newly registered listener when one exists.

// OnRoom registers a listener for room metadata snapshots
func (s *Synchronizer) OnRoom(fn func(*model.Room)) Unsubscribe {
	s.mu.Lock()
	id := s.nextListener
	s.nextListener++
	s.roomListeners[id] = fn
	room := s.room
	s.mu.Unlock()

	if room != nil {
		copied := *room
		fn(&copied)
	}
	return func() {
		s.mu.Lock()
		delete(s.roomListeners, id)
		s.mu.Unlock()
	}
}

// OnPlayers registers a listener for player list snapshots
func (s *Synchronizer) OnPlayers(fn func([]model.Player)) Unsubscribe {
	s.mu.Lock()
	id := s.nextListener
	s.nextListener++
	s.playerListeners[id] = fn
	current := append([]model.Player(nil), s.players...)
	attached := s.attached
	s.mu.Unlock()

	if attached && len(current) > 0 {
		fn(current)
	}
	return func() {
		s.mu.Lock()
		delete(s.playerListeners, id)
		s.mu.Unlock()
	}
}

// OnChat registers a listener for merged chat snapshots
func (s *Synchronizer) OnChat(fn func([]model.ChatMessage)) Unsubscribe {
	s.mu.Lock()
	id := s.nextListener
	s.nextListener++
	s.chatListeners[id] = fn
	current := append([]model.ChatMessage(nil), s.merged...)
	attached := s.attached
	s.mu.Unlock()

	if attached && len(current) > 0 {
		fn(current)
	}
	return func() {
		s.mu.Lock()
		delete(s.chatListeners, id)
		s.mu.Unlock()
	}
}

// OnReady registers a listener for ready-set snapshots
func (s *Synchronizer) OnReady(fn func(map[model.PlayerID]bool)) Unsubscribe {
	s.mu.Lock()
	id := s.nextListener
	s.nextListener++
	s.readyListeners[id] = fn
	current := copyReady(s.ready)
	attached := s.attached
	s.mu.Unlock()

	if attached && len(current) > 0 {
		fn(current)
	}
	return func() {
		s.mu.Lock()
		delete(s.readyListeners, id)
		s.mu.Unlock()
	}
}

// OnReactions registers a listener for reaction log snapshots
func (s *Synchronizer) OnReactions(fn func([]model.ReactionEvent)) Unsubscribe {
	s.mu.Lock()
	id := s.nextListener
	s.nextListener++
	s.reactionListeners[id] = fn
	current := append([]model.ReactionEvent(nil), s.reactions...)
	attached := s.attached
	s.mu.Unlock()

	if attached && len(current) > 0 {
		fn(current)
	}
	return func() {
		s.mu.Lock()
		delete(s.reactionListeners, id)
		s.mu.Unlock()
	}
}

// Channel callbacks

func (s *Synchronizer) onMeta(snap store.Snapshot) {
	s.mu.Lock()
	if snap.Value == nil {
		s.room = nil
	} else {
		var room model.Room
		if err := json.Unmarshal(snap.Value, &room); err != nil {
			s.logger.Warn("bad room record", slog.String("error", err.Error()))
			s.mu.Unlock()
			return
		}
		s.room = &room
	}
	s.mu.Unlock()
	s.notifyRoom()
}

func (s *Synchronizer) onPlayers(snap store.Snapshot) {
	players := make([]model.Player, 0, len(snap.Children))
	for _, raw := range snap.Children {
		var p model.Player
		if err := json.Unmarshal(raw, &p); err != nil {
			s.logger.Warn("bad player record", slog.String("error", err.Error()))
			continue
		}
		players = append(players, p)
	}
	// Stable, arrival-independent order: name, then identity
	sort.Slice(players, func(i, j int) bool {
		if players[i].Name != players[j].Name {
			return players[i].Name < players[j].Name
		}
		return players[i].ID < players[j].ID
	})

	s.mu.Lock()
	s.players = players
	s.mu.Unlock()
	s.notifyPlayers()
}

func (s *Synchronizer) onChat(snap store.Snapshot) {
	confirmed := make([]model.ChatMessage, 0, len(snap.Children))
	for id, raw := range snap.Children {
		var m model.ChatMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			s.logger.Warn("bad chat record", slog.String("error", err.Error()))
			continue
		}
		m.ID = model.MessageID(id)
		confirmed = append(confirmed, m)
	}
	sort.Slice(confirmed, func(i, j int) bool {
		return confirmed[i].Before(confirmed[j])
	})

	s.mu.Lock()
	s.confirmed = confirmed
	s.rebuildChatLocked()
	s.mu.Unlock()
	s.notifyChat()
}

func (s *Synchronizer) onReady(snap store.Snapshot) {
	ready := make(map[model.PlayerID]bool)
	for id, raw := range snap.Children {
		var flag bool
		if err := json.Unmarshal(raw, &flag); err != nil || !flag {
			continue
		}
		ready[model.PlayerID(id)] = true
	}

	s.mu.Lock()
	s.ready = ready
	s.mu.Unlock()
	s.notifyReady()
}

func (s *Synchronizer) onReactions(snap store.Snapshot) {
	reactions := make([]model.ReactionEvent, 0, len(snap.Children))
	for id, raw := range snap.Children {
		var ev model.ReactionEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			s.logger.Warn("bad reaction record", slog.String("error", err.Error()))
			continue
		}
		ev.ID = model.ReactionID(id)
		reactions = append(reactions, ev)
	}
	sort.Slice(reactions, func(i, j int) bool {
		if reactions[i].CreatedAt != reactions[j].CreatedAt {
			return reactions[i].CreatedAt < reactions[j].CreatedAt
		}
		return reactions[i].ID < reactions[j].ID
	})

	s.mu.Lock()
	s.reactions = reactions
	prune := s.shouldPruneLocked()
	var stale []model.ReactionEvent
	if prune {
		s.pruning = true
		s.lastPruneAt = s.clock.Now()
		stale = append(stale, reactions[:len(reactions)-ReactionLogLimit]...)
	}
	roomID := s.roomID
	s.mu.Unlock()

	s.notifyReactions()

	if prune {
		s.pruneReactions(roomID, stale)
	}
}

// shouldPruneLocked decides whether this client runs a pruning pass:
// host only, over the retention threshold, not already pruning, and at
// least the minimum interval since the last pass
func (s *Synchronizer) shouldPruneLocked() bool {
	if s.room == nil || s.room.HostID != s.selfID {
		return false
	}
	if s.pruning || len(s.reactions) <= ReactionLogLimit {
		return false
	}
	return s.clock.Now().Sub(s.lastPruneAt) > ReactionPruneInterval
}

// pruneReactions deletes the oldest excess entries in one batched
// write. Deletions are idempotent, so overlapping passes from hosts
// trading places cannot corrupt the log.
func (s *Synchronizer) pruneReactions(roomID model.RoomID, stale []model.ReactionEvent) {
	defer func() {
		s.mu.Lock()
		s.pruning = false
		s.mu.Unlock()
	}()

	paths := make([]string, len(stale))
	for i, ev := range stale {
		paths[i] = store.ReactionPath(roomID, ev.ID)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.store.DeleteAll(ctx, paths); err != nil {
		s.logger.Warn("reaction pruning failed", slog.String("error", err.Error()))
		return
	}
	s.logger.Info("pruned reaction log",
		slog.String("room_id", string(roomID)),
		slog.Int("removed", len(paths)))
}

// rebuildChatLocked recomputes the merged chat view, dropping expired
// echoes to bound memory
func (s *Synchronizer) rebuildChatLocked() {
	cutoff := s.clock.Now().Add(-LocalEchoRetention).UnixMilli()
	live := s.echoes[:0]
	for _, echo := range s.echoes {
		if echo.CreatedAt > cutoff {
			live = append(live, echo)
		}
	}
	s.echoes = live

	merged := make([]model.ChatMessage, 0, len(s.confirmed)+len(s.echoes))
	merged = append(merged, s.confirmed...)
	merged = append(merged, s.echoes...)
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Before(merged[j])
	})
	s.merged = merged
}

// Notification fan-out. A stable snapshot of the listener set is taken
// under the lock and callbacks run outside it, so a listener may
// register, unregister, or call back into the synchronizer safely.

func (s *Synchronizer) notifyRoom() {
	s.mu.Lock()
	fns := make([]func(*model.Room), 0, len(s.roomListeners))
	for _, fn := range s.roomListeners {
		fns = append(fns, fn)
	}
	room := s.room
	s.mu.Unlock()

	for _, fn := range fns {
		if room == nil {
			fn(nil)
			continue
		}
		copied := *room
		fn(&copied)
	}
}

func (s *Synchronizer) notifyPlayers() {
	s.mu.Lock()
	fns := make([]func([]model.Player), 0, len(s.playerListeners))
	for _, fn := range s.playerListeners {
		fns = append(fns, fn)
	}
	players := s.players
	s.mu.Unlock()

	for _, fn := range fns {
		fn(append([]model.Player(nil), players...))
	}
}

func (s *Synchronizer) notifyChat() {
	s.mu.Lock()
	fns := make([]func([]model.ChatMessage), 0, len(s.chatListeners))
	for _, fn := range s.chatListeners {
		fns = append(fns, fn)
	}
	merged := s.merged
	s.mu.Unlock()

	for _, fn := range fns {
		fn(append([]model.ChatMessage(nil), merged...))
	}
}

func (s *Synchronizer) notifyReady() {
	s.mu.Lock()
	fns := make([]func(map[model.PlayerID]bool), 0, len(s.readyListeners))
	for _, fn := range s.readyListeners {
		fns = append(fns, fn)
	}
	ready := s.ready
	s.mu.Unlock()

	for _, fn := range fns {
		fn(copyReady(ready))
	}
}

func (s *Synchronizer) notifyReactions() {
	s.mu.Lock()
	fns := make([]func([]model.ReactionEvent), 0, len(s.reactionListeners))
	for _, fn := range s.reactionListeners {
		fns = append(fns, fn)
	}
	reactions := s.reactions
	s.mu.Unlock()

	for _, fn := range fns {
		fn(append([]model.ReactionEvent(nil), reactions...))
	}
}

func copyReady(ready map[model.PlayerID]bool) map[model.PlayerID]bool {
	out := make(map[model.PlayerID]bool, len(ready))
	for id, v := range ready {
		out[id] = v
	}
	return out
}
