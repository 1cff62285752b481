package joincode

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/joinhall/lobbysync/internal/dependencies/clock"
	"github.com/joinhall/lobbysync/internal/dependencies/random"
	"github.com/joinhall/lobbysync/internal/model"
	"github.com/joinhall/lobbysync/internal/store"
)

const (
	// CodeLength is the length of generated join codes
	CodeLength = 4
	// CodeAlphabet is the characters used in join codes (avoids confusing chars)
	CodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

	// maxAttempts bounds the reservation retry loop
	maxAttempts = 32
	// earlyFailureGrace is how many store failures are retried before
	// escalating as a write error rather than a collision
	earlyFailureGrace = 3
)

// Allocator reserves short join codes mapping to room ids. Reservations
// are atomic writes-if-absent, so a code committed by one client can
// never be overwritten by another.
type Allocator struct {
	store  store.Store
	clock  clock.Clock
	random random.Random
	logger *slog.Logger
}

// New creates an allocator
func New(st store.Store, clk clock.Clock, rnd random.Random, logger *slog.Logger) *Allocator {
	return &Allocator{
		store:  st,
		clock:  clk,
		random: rnd,
		logger: logger.With(slog.String("component", "joincode")),
	}
}

// Allocate draws random codes until one is successfully reserved for
// roomID. A lost reservation race retries with a fresh code; persistent
// store failures escalate to ErrCodeWrite so callers can tell access
// denial from exhaustion.
func (a *Allocator) Allocate(ctx context.Context, roomID model.RoomID) (model.JoinCode, error) {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		code := model.JoinCode(a.random.String(CodeLength, CodeAlphabet))
		mapping := model.CodeMapping{
			RoomID:    roomID,
			CreatedAt: a.clock.NowMillis(),
		}

		committed, err := a.store.SetIfAbsent(ctx, store.CodePath(code), mapping)
		if err != nil {
			if attempt >= earlyFailureGrace {
				return "", fmt.Errorf("%w: %v", model.ErrCodeWrite, err)
			}
			a.logger.Warn("join code reservation failed",
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()))
			continue
		}
		if committed {
			return code, nil
		}
	}
	return "", model.ErrAllocateCode
}

// Resolve looks up the room id a code maps to
func (a *Allocator) Resolve(ctx context.Context, code model.JoinCode) (model.RoomID, error) {
	raw, err := a.store.Get(ctx, store.CodePath(code))
	if err != nil {
		return "", err
	}
	if raw == nil {
		return "", model.ErrCodeNotFound
	}

	var mapping model.CodeMapping
	if err := json.Unmarshal(raw, &mapping); err != nil {
		return "", err
	}
	return mapping.RoomID, nil
}

// Normalize upper-cases and validates a user-typed code before any
// store access
func Normalize(raw string) (model.JoinCode, error) {
	code := strings.ToUpper(strings.TrimSpace(raw))
	if len(code) != CodeLength {
		return "", model.ErrCodeInvalid
	}
	for _, r := range code {
		if !strings.ContainsRune(CodeAlphabet, r) {
			return "", model.ErrCodeInvalid
		}
	}
	return model.JoinCode(code), nil
}
