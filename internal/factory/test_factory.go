package factory

import (
	"time"

	"github.com/joinhall/lobbysync/internal/dependencies/mocks"
	"github.com/joinhall/lobbysync/internal/identity"
	"github.com/joinhall/lobbysync/internal/lobby"
	"github.com/joinhall/lobbysync/internal/store/memory"
	"github.com/joinhall/lobbysync/internal/testutil"
)

// TestApp extends App with test-specific helpers
type TestApp struct {
	*App

	// Mocks for test control
	MemoryStore *memory.Store
	MockClock   *mocks.MockClock
	MockRandom  *mocks.MockRandom
}

// NewTestApp creates an App configured for testing with mocked
// dependencies and a fixed device identity
func NewTestApp(deviceID string) *TestApp {
	st := memory.New()
	mockClock := mocks.NewMockClock(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	mockRandom := mocks.NewMockRandom()

	app := newWithDependencies(st, st, mockClock, mockRandom,
		presetKeystore(deviceID), lobby.DefaultConfig(), testutil.NopLogger())

	return &TestApp{
		App:         app,
		MemoryStore: st,
		MockClock:   mockClock,
		MockRandom:  mockRandom,
	}
}

// NewPeer creates another client app sharing this app's store, clock,
// and random source, for multi-client scenarios
func (t *TestApp) NewPeer(deviceID string) *App {
	return newWithDependencies(t.MemoryStore, t.MemoryStore, t.MockClock, t.MockRandom,
		presetKeystore(deviceID), lobby.DefaultConfig(), testutil.NopLogger())
}

func presetKeystore(deviceID string) identity.Keystore {
	ks := &identity.MemoryKeystore{}
	_ = ks.Save(deviceID)
	return ks
}
