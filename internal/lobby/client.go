package lobby

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/joinhall/lobbysync/internal/dependencies/clock"
	"github.com/joinhall/lobbysync/internal/dependencies/random"
	"github.com/joinhall/lobbysync/internal/identity"
	"github.com/joinhall/lobbysync/internal/joincode"
	"github.com/joinhall/lobbysync/internal/model"
	"github.com/joinhall/lobbysync/internal/moderation"
	"github.com/joinhall/lobbysync/internal/presence"
	"github.com/joinhall/lobbysync/internal/roomsync"
	"github.com/joinhall/lobbysync/internal/store"
)

// ReactionThrottle is the minimum gap between a sender's reactions.
// Violations are dropped silently, never surfaced as errors.
const ReactionThrottle = 2 * time.Second

// DefaultPlayerName substitutes for an empty display name
const DefaultPlayerName = "Player"

// Config holds client-wide settings
type Config struct {
	// Slug and ClientVersion are stamped onto rooms this client creates
	Slug          string
	ClientVersion string

	Moderation moderation.Config
	Presence   presence.Config
}

// DefaultConfig returns the default client configuration
func DefaultConfig() Config {
	return Config{
		Moderation: moderation.DefaultConfig(),
		Presence:   presence.DefaultConfig(),
	}
}

// CreateParams describes the room and the creator's profile for CreateRoom
type CreateParams struct {
	Name       string
	Avatar     *model.Avatar
	Private    bool
	MaxPlayers int
}

// JoinParams describes the joining player's profile
type JoinParams struct {
	Name      string
	Avatar    *model.Avatar
	Spectator bool
}

// Client is the lobby control surface: it composes identity, join codes,
// moderation, presence, and room synchronization into the operations a
// UI calls. A client is a member of at most one room at a time.
type Client struct {
	store  store.Store
	clock  clock.Clock
	cfg    Config
	logger *slog.Logger

	identity  *identity.Provider
	moderator *moderation.Engine
	codes     *joincode.Allocator
	presence  *presence.Manager
	sync      *roomsync.Synchronizer

	mu             sync.Mutex
	roomID         model.RoomID
	selfID         model.PlayerID
	selfName       string
	lastReactionAt time.Time

	modListeners map[int]func(moderation.Result)
	nextListener int
}

// New creates a lobby client
func New(st store.Store, clk clock.Clock, rnd random.Random, ids *identity.Provider, cfg Config, logger *slog.Logger) *Client {
	return &Client{
		store:        st,
		clock:        clk,
		cfg:          cfg,
		logger:       logger.With(slog.String("component", "lobby")),
		identity:     ids,
		moderator:    moderation.New(clk, cfg.Moderation),
		codes:        joincode.New(st, clk, rnd, logger),
		presence:     presence.New(st, clk, cfg.Presence, logger),
		sync:         roomsync.New(st, clk, logger),
		modListeners: make(map[int]func(moderation.Result)),
	}
}

// Sync exposes the per-room subscription channels
func (c *Client) Sync() *roomsync.Synchronizer {
	return c.sync
}

// SelfID returns the identity this client writes under
func (c *Client) SelfID() model.PlayerID {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.selfID != "" {
		return c.selfID
	}
	return c.identity.CurrentIdentity()
}

// Room returns the most recently observed room record, or nil
func (c *Client) Room() *model.Room {
	return c.sync.Room()
}

// IsHost reports whether this client hosts its current room, judged
// from the most recently observed room snapshot
func (c *Client) IsHost() bool {
	room := c.sync.Room()
	if room == nil {
		return false
	}
	return room.HostID == c.SelfID()
}

// OnModeration registers a listener for moderation results. Every
// SendText outcome, accepted or rejected, is delivered here.
func (c *Client) OnModeration(fn func(moderation.Result)) roomsync.Unsubscribe {
	c.mu.Lock()
	id := c.nextListener
	c.nextListener++
	c.modListeners[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.modListeners, id)
		c.mu.Unlock()
	}
}

// CreateRoom reserves a join code, writes the room record with this
// client as host, and enters the room (presence + subscriptions)
func (c *Client) CreateRoom(ctx context.Context, params CreateParams) (*model.Room, error) {
	selfID := c.identity.WaitIdentity(ctx)
	roomID := model.RoomID(uuid.NewString())

	code, err := c.codes.Allocate(ctx, roomID)
	if err != nil {
		return nil, err
	}

	maxPlayers := params.MaxPlayers
	if maxPlayers <= 0 {
		maxPlayers = model.DefaultMaxPlayers
	}
	room := model.Room{
		ID:         roomID,
		Slug:       c.cfg.Slug,
		Version:    c.cfg.ClientVersion,
		JoinCode:   code,
		Private:    params.Private,
		MaxPlayers: maxPlayers,
		Status:     model.RoomStatusLobby,
		HostID:     selfID,
		CreatedAt:  c.clock.NowMillis(),
		Options:    model.DefaultRoomOptions(),
	}
	if err := c.store.Set(ctx, store.RoomMetaPath(roomID), room); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrPermissionDenied, err)
	}

	name := cleanName(params.Name)
	if err := c.enter(ctx, roomID, selfID, model.Player{
		ID:     selfID,
		Name:   name,
		Role:   model.RoleHost,
		Avatar: resolveAvatar(params.Avatar, selfID),
	}); err != nil {
		return nil, err
	}

	c.logger.Info("created room",
		slog.String("room_id", string(roomID)),
		slog.String("join_code", string(code)))
	return &room, nil
}

// JoinRoomByCode validates and resolves a typed code and enters the
// room it maps to. The room's host re-entering keeps the host role.
func (c *Client) JoinRoomByCode(ctx context.Context, rawCode string, params JoinParams) (*model.Room, error) {
	code, err := joincode.Normalize(rawCode)
	if err != nil {
		return nil, err
	}

	selfID := c.identity.WaitIdentity(ctx)
	roomID, err := c.codes.Resolve(ctx, code)
	if err != nil {
		return nil, err
	}

	raw, err := c.store.Get(ctx, store.RoomMetaPath(roomID))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrPermissionDenied, err)
	}
	if raw == nil {
		// Code outlived its room
		return nil, model.ErrRoomNotFound
	}
	var room model.Room
	if err := json.Unmarshal(raw, &room); err != nil {
		return nil, err
	}

	role := model.RolePlayer
	switch {
	case room.HostID == selfID:
		role = model.RoleHost
	case params.Spectator && room.Options.Spectators:
		role = model.RoleSpectator
	}

	if role == model.RolePlayer {
		members, err := c.store.GetChildren(ctx, store.RoomPlayersPath(roomID))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", model.ErrPermissionDenied, err)
		}
		if _, rejoining := members[string(selfID)]; !rejoining {
			maxPlayers := room.MaxPlayers
			if maxPlayers <= 0 {
				maxPlayers = model.DefaultMaxPlayers
			}
			if len(members) >= maxPlayers {
				return nil, model.ErrRoomFull
			}
		}
	}

	name := cleanName(params.Name)
	if err := c.enter(ctx, roomID, selfID, model.Player{
		ID:     selfID,
		Name:   name,
		Role:   role,
		Avatar: resolveAvatar(params.Avatar, selfID),
	}); err != nil {
		return nil, err
	}

	c.logger.Info("joined room",
		slog.String("room_id", string(roomID)),
		slog.String("role", string(role)))
	return &room, nil
}

// enter establishes presence and subscriptions for a room and records
// the membership locally
func (c *Client) enter(ctx context.Context, roomID model.RoomID, selfID model.PlayerID, player model.Player) error {
	// A stale ready entry from an earlier session must not carry over
	if err := c.store.Delete(ctx, store.PlayerReadyPath(roomID, selfID)); err != nil {
		c.logger.Warn("could not clear stale ready entry", slog.String("error", err.Error()))
	}

	if err := c.presence.Start(ctx, roomID, player); err != nil {
		return fmt.Errorf("%w: %v", model.ErrPermissionDenied, err)
	}
	if err := c.sync.Attach(ctx, roomID, selfID); err != nil {
		c.presence.Stop(ctx)
		return err
	}

	c.mu.Lock()
	c.roomID = roomID
	c.selfID = selfID
	c.selfName = player.Name
	c.mu.Unlock()
	return nil
}

// LeaveRoom tears down membership in the current room. Leaving always
// succeeds locally: each cleanup step is isolated and failures are
// logged, not returned, with the disconnect actions covering whatever
// remote cleanup did not land.
func (c *Client) LeaveRoom(ctx context.Context) {
	c.mu.Lock()
	roomID := c.roomID
	selfID := c.selfID
	c.roomID = ""
	c.selfID = ""
	c.selfName = ""
	c.mu.Unlock()

	if roomID == "" {
		return
	}

	c.presence.Stop(ctx)
	if err := c.store.Delete(ctx, store.PlayerReadyPath(roomID, selfID)); err != nil {
		c.logger.Warn("could not clear ready entry on leave", slog.String("error", err.Error()))
	}
	c.sync.Detach()

	c.logger.Info("left room", slog.String("room_id", string(roomID)))
}

// SendText runs text through moderation and, when accepted, delivers it:
// to the shared chat log normally, or as a local-only echo when the
// sender is shadow-muted. Every outcome is published to OnModeration
// listeners; rejections are not errors.
func (c *Client) SendText(ctx context.Context, text string) (moderation.Result, error) {
	c.mu.Lock()
	roomID := c.roomID
	selfID := c.selfID
	name := c.selfName
	c.mu.Unlock()
	if roomID == "" {
		return moderation.Result{}, model.ErrNotInRoom
	}

	slowModeMs := 0
	if room := c.sync.Room(); room != nil {
		slowModeMs = room.Options.ChatDelayMs
	}

	res := c.moderator.Moderate(selfID, text, moderation.Options{SlowModeMs: slowModeMs})
	c.notifyModeration(res)
	if !res.OK {
		return res, nil
	}

	now := c.clock.Now()
	msg := model.ChatMessage{
		RoomID:    roomID,
		PlayerID:  selfID,
		Name:      name,
		CreatedAt: now.UnixMilli(),
		Type:      model.ChatTypeText,
		Text:      res.Text,
	}

	if c.selfMutedAt(selfID, now) {
		// Muted senders see their own message; nobody else does
		msg.ID = model.MessageID("local-" + uuid.NewString())
		c.sync.AddEcho(msg)
		return res, nil
	}

	if _, err := c.store.Push(ctx, store.RoomChatPath(roomID), msg); err != nil {
		return res, fmt.Errorf("%w: %v", model.ErrPermissionDenied, err)
	}
	return res, nil
}

func (c *Client) selfMutedAt(selfID model.PlayerID, now time.Time) bool {
	for _, p := range c.sync.Players() {
		if p.ID == selfID {
			return p.MutedAt(now)
		}
	}
	return false
}

// SetReady sets or clears the caller's ready entry explicitly
func (c *Client) SetReady(ctx context.Context, ready bool) error {
	c.mu.Lock()
	roomID := c.roomID
	selfID := c.selfID
	c.mu.Unlock()
	if roomID == "" {
		return model.ErrNotInRoom
	}

	path := store.PlayerReadyPath(roomID, selfID)
	var err error
	if ready {
		err = c.store.Set(ctx, path, true)
	} else {
		err = c.store.Delete(ctx, path)
	}
	if err != nil {
		return fmt.Errorf("%w: %v", model.ErrPermissionDenied, err)
	}
	return nil
}

// ToggleReady flips the caller's ready entry atomically. The current
// value is read at write time, so two quick presses land as set then
// clear rather than clobbering each other from stale local state.
func (c *Client) ToggleReady(ctx context.Context) error {
	c.mu.Lock()
	roomID := c.roomID
	selfID := c.selfID
	c.mu.Unlock()
	if roomID == "" {
		return model.ErrNotInRoom
	}

	path := store.PlayerReadyPath(roomID, selfID)
	err := c.store.Transact(ctx, path, func(current json.RawMessage) (any, error) {
		if current == nil {
			return true, nil
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", model.ErrPermissionDenied, err)
	}
	return nil
}

// HostStartCountdown advances the room to the starting state with an
// absolute wall-clock target seconds in the future. Observers derive
// the countdown from epochStart minus their own clock, so latecomers
// converge on the same moment.
func (c *Client) HostStartCountdown(ctx context.Context, seconds int) error {
	roomID, _, err := c.requireHost()
	if err != nil {
		return err
	}

	var present []model.Player
	for _, p := range c.sync.Players() {
		if p.Role != model.RoleSpectator {
			present = append(present, p)
		}
	}
	if len(present) < 2 {
		return model.ErrTooFewPlayers
	}
	ready := c.sync.Ready()
	for _, p := range present {
		if !ready[p.ID] {
			return model.ErrNotAllReady
		}
	}

	if seconds < 1 {
		seconds = 1
	}
	epochStart := c.clock.NowMillis() + int64(seconds)*1000
	err = c.store.Update(ctx, store.RoomMetaPath(roomID), map[string]any{
		"status":     model.RoomStatusStarting,
		"epochStart": epochStart,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", model.ErrPermissionDenied, err)
	}

	c.logger.Info("countdown started",
		slog.String("room_id", string(roomID)),
		slog.Int64("epoch_start", epochStart))
	return nil
}

// OptionsPatch carries the host-settable fields of UpdateOptions; nil
// fields keep their current value
type OptionsPatch struct {
	ChatDelayMs      *int
	ReactionsEnabled *bool
	Spectators       *bool
}

// UpdateOptions merges the patch into the room's options. The chat
// delay is clamped to its permitted range and always written
// fully-specified, so observers never see a missing required field.
func (c *Client) UpdateOptions(ctx context.Context, patch OptionsPatch) error {
	roomID, room, err := c.requireHost()
	if err != nil {
		return err
	}

	opts := room.Options
	if patch.ChatDelayMs != nil {
		opts.ChatDelayMs = clampChatDelay(*patch.ChatDelayMs)
	}
	if patch.ReactionsEnabled != nil {
		opts.ReactionsEnabled = *patch.ReactionsEnabled
	}
	if patch.Spectators != nil {
		opts.Spectators = *patch.Spectators
	}

	err = c.store.Update(ctx, store.RoomMetaPath(roomID), map[string]any{
		"options": opts,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", model.ErrPermissionDenied, err)
	}
	return nil
}

// ShadowMute marks a player muted until the given duration elapses.
// The muted player keeps seeing their own messages as echoes; nothing
// they send reaches anyone else.
func (c *Client) ShadowMute(ctx context.Context, target model.PlayerID, d time.Duration) error {
	roomID, _, err := c.requireHost()
	if err != nil {
		return err
	}

	until := c.clock.Now().Add(d).UnixMilli()
	err = c.store.Update(ctx, store.RoomPlayerPath(roomID, target), map[string]any{
		"mutedUntil": until,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", model.ErrPermissionDenied, err)
	}
	return nil
}

// ShadowUnmute clears a player's mute. Unmuting an unmuted player is a
// no-op.
func (c *Client) ShadowUnmute(ctx context.Context, target model.PlayerID) error {
	roomID, _, err := c.requireHost()
	if err != nil {
		return err
	}

	err = c.store.Update(ctx, store.RoomPlayerPath(roomID, target), map[string]any{
		"mutedUntil": nil,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", model.ErrPermissionDenied, err)
	}
	return nil
}

// SendReaction appends a reaction event to the shared log. Throttled
// and feature-disabled sends are dropped silently; only an unknown
// type or not being in a room is an error.
func (c *Client) SendReaction(ctx context.Context, t model.ReactionType) error {
	if !model.ValidReactionType(t) {
		return model.ErrBadReaction
	}

	c.mu.Lock()
	roomID := c.roomID
	selfID := c.selfID
	c.mu.Unlock()
	if roomID == "" {
		return model.ErrNotInRoom
	}

	if room := c.sync.Room(); room != nil && !room.Options.ReactionsEnabled {
		return nil
	}

	now := c.clock.Now()
	c.mu.Lock()
	if now.Sub(c.lastReactionAt) < ReactionThrottle {
		c.mu.Unlock()
		return nil
	}
	c.lastReactionAt = now
	c.mu.Unlock()

	ev := model.ReactionEvent{
		PlayerID:  selfID,
		Type:      t,
		CreatedAt: now.UnixMilli(),
	}
	if _, err := c.store.Push(ctx, store.RoomReactionsPath(roomID), ev); err != nil {
		return fmt.Errorf("%w: %v", model.ErrPermissionDenied, err)
	}
	return nil
}

// requireHost resolves membership and host authorization from the most
// recently observed room snapshot
func (c *Client) requireHost() (model.RoomID, *model.Room, error) {
	c.mu.Lock()
	roomID := c.roomID
	selfID := c.selfID
	c.mu.Unlock()
	if roomID == "" {
		return "", nil, model.ErrNotInRoom
	}

	room := c.sync.Room()
	if room == nil {
		return "", nil, model.ErrRoomNotFound
	}
	if room.HostID != selfID {
		return "", nil, model.ErrNotHost
	}
	return roomID, room, nil
}

func (c *Client) notifyModeration(res moderation.Result) {
	c.mu.Lock()
	fns := make([]func(moderation.Result), 0, len(c.modListeners))
	for _, fn := range c.modListeners {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(res)
	}
}

func clampChatDelay(ms int) int {
	if ms < 0 {
		return 0
	}
	if ms > model.MaxChatDelayMs {
		return model.MaxChatDelayMs
	}
	return ms
}

// cleanName trims, truncates, and defaults a display name
func cleanName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return DefaultPlayerName
	}
	runes := []rune(name)
	if len(runes) > model.MaxNameLength {
		return string(runes[:model.MaxNameLength])
	}
	return name
}

// resolveAvatar keeps a caller-supplied avatar or assigns a preset
// derived from the identity, so a player keeps the same default avatar
// across sessions
func resolveAvatar(avatar *model.Avatar, id model.PlayerID) *model.Avatar {
	if avatar != nil {
		return avatar
	}
	h := fnv.New32a()
	h.Write([]byte(id))
	preset := model.PresetAvatarIDs[int(h.Sum32())%len(model.PresetAvatarIDs)]
	return &model.Avatar{Kind: "preset", ID: preset}
}
