package presence

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/joinhall/lobbysync/internal/dependencies/clock"
	"github.com/joinhall/lobbysync/internal/model"
	"github.com/joinhall/lobbysync/internal/store"
)

const (
	// HeartbeatInterval is how often lastSeen is refreshed
	HeartbeatInterval = 10 * time.Second
	// Timeout is how stale a lastSeen may grow before observers may
	// treat the player as gone
	Timeout = 45 * time.Second
)

// Config holds presence behavior settings
type Config struct {
	HeartbeatInterval time.Duration
}

// DefaultConfig returns the default presence configuration
func DefaultConfig() Config {
	return Config{HeartbeatInterval: HeartbeatInterval}
}

// Manager establishes a player's liveness in a room: it writes the
// player and presence records, registers disconnect-triggered cleanup
// for both, and refreshes lastSeen on a fixed heartbeat. Graceful stop
// cancels the disconnect actions (confirmed) before deleting the
// records, so a stale action can never fire after an intentional leave.
type Manager struct {
	store  store.Store
	clock  clock.Clock
	cfg    Config
	logger *slog.Logger

	mu           sync.Mutex
	roomID       model.RoomID
	playerID     model.PlayerID
	discPlayer   store.DisconnectHandle
	discPresence store.DisconnectHandle
	stopBeat     chan struct{}
	beatDone     chan struct{}
	running      bool
}

// New creates a presence manager
func New(st store.Store, clk clock.Clock, cfg Config, logger *slog.Logger) *Manager {
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = HeartbeatInterval
	}
	return &Manager{
		store:  st,
		clock:  clk,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "presence")),
	}
}

// Start writes the player's records and begins the heartbeat. A failed
// disconnect registration is logged, not fatal: the heartbeat still
// gives observers a staleness signal.
func (m *Manager) Start(ctx context.Context, roomID model.RoomID, player model.Player) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		m.stopLocked(ctx)
	}

	playerPath := store.RoomPlayerPath(roomID, player.ID)
	presencePath := store.PlayerPresencePath(roomID, player.ID)

	now := m.clock.NowMillis()
	player.LastSeen = now
	if err := m.store.Set(ctx, playerPath, player); err != nil {
		return err
	}
	if err := m.store.Set(ctx, presencePath, model.Presence{LastSeen: now}); err != nil {
		return err
	}

	if h, err := m.store.OnDisconnect(ctx, playerPath); err != nil {
		m.logger.Warn("disconnect cleanup registration failed",
			slog.String("path", playerPath),
			slog.String("error", err.Error()))
	} else {
		m.discPlayer = h
	}
	if h, err := m.store.OnDisconnect(ctx, presencePath); err != nil {
		m.logger.Warn("disconnect cleanup registration failed",
			slog.String("path", presencePath),
			slog.String("error", err.Error()))
	} else {
		m.discPresence = h
	}

	m.roomID = roomID
	m.playerID = player.ID
	m.stopBeat = make(chan struct{})
	m.beatDone = make(chan struct{})
	m.running = true
	go m.heartbeat(playerPath, presencePath, m.stopBeat, m.beatDone)

	m.logger.Info("presence started",
		slog.String("room_id", string(roomID)),
		slog.String("player_id", string(player.ID)))
	return nil
}

// Stop tears presence down gracefully. Every cleanup step is isolated;
// failures are logged and swallowed so leaving always succeeds locally.
func (m *Manager) Stop(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopLocked(ctx)
}

func (m *Manager) stopLocked(ctx context.Context) {
	if !m.running {
		return
	}

	// Cancel-and-confirm the disconnect actions before deleting, so a
	// slow cancellation cannot fire after a new session for the same
	// identity has started elsewhere
	if m.discPlayer != nil {
		if err := m.discPlayer.Cancel(ctx); err != nil {
			m.logger.Warn("disconnect cancel failed", slog.String("error", err.Error()))
		}
		m.discPlayer = nil
	}
	if m.discPresence != nil {
		if err := m.discPresence.Cancel(ctx); err != nil {
			m.logger.Warn("disconnect cancel failed", slog.String("error", err.Error()))
		}
		m.discPresence = nil
	}

	// Stop the heartbeat and wait for it to drain before deleting, so
	// an in-flight tick cannot land its writes after the deletes and
	// resurrect a partial record
	close(m.stopBeat)
	<-m.beatDone

	presencePath := store.PlayerPresencePath(m.roomID, m.playerID)
	if err := m.store.Delete(ctx, presencePath); err != nil {
		m.logger.Warn("presence record delete failed", slog.String("error", err.Error()))
	}
	playerPath := store.RoomPlayerPath(m.roomID, m.playerID)
	if err := m.store.Delete(ctx, playerPath); err != nil {
		m.logger.Warn("player record delete failed", slog.String("error", err.Error()))
	}

	m.running = false

	m.logger.Info("presence stopped",
		slog.String("room_id", string(m.roomID)),
		slog.String("player_id", string(m.playerID)))
}

func (m *Manager) heartbeat(playerPath, presencePath string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), m.cfg.HeartbeatInterval)
			now := m.clock.NowMillis()
			if err := m.store.Update(ctx, playerPath, map[string]any{"lastSeen": now}); err != nil {
				m.logger.Warn("heartbeat update failed", slog.String("error", err.Error()))
			}
			if err := m.store.Set(ctx, presencePath, model.Presence{LastSeen: now}); err != nil {
				m.logger.Warn("heartbeat update failed", slog.String("error", err.Error()))
			}
			cancel()
		}
	}
}
