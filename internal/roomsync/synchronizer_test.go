package roomsync

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/joinhall/lobbysync/internal/dependencies/mocks"
	"github.com/joinhall/lobbysync/internal/model"
	"github.com/joinhall/lobbysync/internal/store"
	"github.com/joinhall/lobbysync/internal/store/memory"
	"github.com/joinhall/lobbysync/internal/testutil"
)

type SynchronizerSuite struct {
	suite.Suite
	store *memory.Store
	clock *mocks.MockClock
	sync  *Synchronizer
	ctx   context.Context
}

func TestSynchronizerSuite(t *testing.T) {
	suite.Run(t, new(SynchronizerSuite))
}

func (s *SynchronizerSuite) SetupTest() {
	s.store = memory.New()
	s.clock = mocks.NewMockClock(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	s.sync = New(s.store, s.clock, testutil.NopLogger())
	s.ctx = context.Background()
}

func (s *SynchronizerSuite) seedRoom(hostID model.PlayerID) {
	room := model.Room{
		ID:      "r1",
		Status:  model.RoomStatusLobby,
		HostID:  hostID,
		Options: model.DefaultRoomOptions(),
	}
	s.Require().NoError(s.store.Set(s.ctx, store.RoomMetaPath("r1"), room))
}

func (s *SynchronizerSuite) attach(selfID model.PlayerID) {
	s.Require().NoError(s.sync.Attach(s.ctx, "r1", selfID))
}

func (s *SynchronizerSuite) TestMetaSnapshotDelivered() {
	s.seedRoom("host-1")
	s.attach("p1")

	room := s.sync.Room()
	s.Require().NotNil(room)
	s.Equal(model.PlayerID("host-1"), room.HostID)
}

func (s *SynchronizerSuite) TestMetaChangesPropagate() {
	s.seedRoom("host-1")
	s.attach("p1")

	var statuses []model.RoomStatus
	unsub := s.sync.OnRoom(func(r *model.Room) {
		if r != nil {
			statuses = append(statuses, r.Status)
		}
	})
	defer unsub()

	_ = s.store.Update(s.ctx, store.RoomMetaPath("r1"), map[string]any{"status": "starting"})

	s.Require().Len(statuses, 2)
	s.Equal(model.RoomStatusLobby, statuses[0])
	s.Equal(model.RoomStatusStarting, statuses[1])
}

func (s *SynchronizerSuite) TestPlayersSortedByNameThenID() {
	s.seedRoom("host-1")
	s.attach("p1")

	_ = s.store.Set(s.ctx, store.RoomPlayerPath("r1", "p3"), model.Player{ID: "p3", Name: "carol"})
	_ = s.store.Set(s.ctx, store.RoomPlayerPath("r1", "p2"), model.Player{ID: "p2", Name: "alice"})
	_ = s.store.Set(s.ctx, store.RoomPlayerPath("r1", "p1"), model.Player{ID: "p1", Name: "alice"})

	players := s.sync.Players()
	s.Require().Len(players, 3)
	s.Equal(model.PlayerID("p1"), players[0].ID)
	s.Equal(model.PlayerID("p2"), players[1].ID)
	s.Equal(model.PlayerID("p3"), players[2].ID)
}

func (s *SynchronizerSuite) TestNewListenerGetsCurrentSnapshot() {
	s.seedRoom("host-1")
	s.attach("p1")
	_ = s.store.Set(s.ctx, store.RoomPlayerPath("r1", "p1"), model.Player{ID: "p1", Name: "alice"})

	var got []model.Player
	unsub := s.sync.OnPlayers(func(players []model.Player) {
		got = players
	})
	defer unsub()

	s.Require().Len(got, 1)
	s.Equal(model.PlayerID("p1"), got[0].ID)
}

func (s *SynchronizerSuite) TestChatOrderedByTimeThenID() {
	s.seedRoom("host-1")
	s.attach("p1")

	base := s.clock.NowMillis()
	_, _ = s.store.Push(s.ctx, store.RoomChatPath("r1"), model.ChatMessage{
		PlayerID: "p1", Type: model.ChatTypeText, Text: "second", CreatedAt: base + 10,
	})
	_, _ = s.store.Push(s.ctx, store.RoomChatPath("r1"), model.ChatMessage{
		PlayerID: "p2", Type: model.ChatTypeText, Text: "first", CreatedAt: base,
	})

	chat := s.sync.Chat()
	s.Require().Len(chat, 2)
	s.Equal("first", chat[0].Text)
	s.Equal("second", chat[1].Text)
}

func (s *SynchronizerSuite) TestEchoMergedInTimeOrder() {
	s.seedRoom("host-1")
	s.attach("p1")

	base := s.clock.NowMillis()
	_, _ = s.store.Push(s.ctx, store.RoomChatPath("r1"), model.ChatMessage{
		PlayerID: "p2", Text: "t1", Type: model.ChatTypeText, CreatedAt: base + 1000,
	})
	_, _ = s.store.Push(s.ctx, store.RoomChatPath("r1"), model.ChatMessage{
		PlayerID: "p2", Text: "t3", Type: model.ChatTypeText, CreatedAt: base + 3000,
	})

	s.sync.AddEcho(model.ChatMessage{
		ID: "local-1", PlayerID: "p1", Text: "t2", Type: model.ChatTypeText, CreatedAt: base + 2000,
	})

	chat := s.sync.Chat()
	s.Require().Len(chat, 3)
	s.Equal("t1", chat[0].Text)
	s.Equal("t2", chat[1].Text)
	s.Equal("t3", chat[2].Text)
}

func (s *SynchronizerSuite) TestEchoExpiresAfterRetention() {
	s.seedRoom("host-1")
	s.attach("p1")

	s.sync.AddEcho(model.ChatMessage{
		ID: "local-1", PlayerID: "p1", Text: "fading", Type: model.ChatTypeText,
		CreatedAt: s.clock.NowMillis(),
	})
	s.Require().Len(s.sync.Chat(), 1)

	s.clock.Advance(LocalEchoRetention + time.Second)

	// Any chat change triggers a re-merge, which drops the stale echo
	_, _ = s.store.Push(s.ctx, store.RoomChatPath("r1"), model.ChatMessage{
		PlayerID: "p2", Text: "fresh", Type: model.ChatTypeText,
		CreatedAt: s.clock.NowMillis(),
	})

	chat := s.sync.Chat()
	s.Require().Len(chat, 1)
	s.Equal("fresh", chat[0].Text)
}

func (s *SynchronizerSuite) TestReadySetFromTruthyEntries() {
	s.seedRoom("host-1")
	s.attach("p1")

	_ = s.store.Set(s.ctx, store.PlayerReadyPath("r1", "p1"), true)
	_ = s.store.Set(s.ctx, store.PlayerReadyPath("r1", "p2"), true)

	ready := s.sync.Ready()
	s.True(ready["p1"])
	s.True(ready["p2"])

	_ = s.store.Delete(s.ctx, store.PlayerReadyPath("r1", "p1"))
	ready = s.sync.Ready()
	s.False(ready["p1"])
	s.True(ready["p2"])
}

func (s *SynchronizerSuite) TestReactionsDelivered() {
	s.seedRoom("host-1")
	s.attach("p1")

	var got []model.ReactionEvent
	unsub := s.sync.OnReactions(func(events []model.ReactionEvent) {
		got = events
	})
	defer unsub()

	_, _ = s.store.Push(s.ctx, store.RoomReactionsPath("r1"), model.ReactionEvent{
		PlayerID: "p2", Type: model.ReactionWave, CreatedAt: s.clock.NowMillis(),
	})

	s.Require().Len(got, 1)
	s.Equal(model.ReactionWave, got[0].Type)
}

// seedReactions writes n reaction entries directly, with ids that sort
// in creation order, before any subscription exists
func (s *SynchronizerSuite) seedReactions(n int) int64 {
	base := s.clock.NowMillis()
	for i := 0; i < n; i++ {
		id := model.ReactionID(fmt.Sprintf("e%03d", i))
		_ = s.store.Set(s.ctx, store.ReactionPath("r1", id), model.ReactionEvent{
			PlayerID: "p2", Type: model.ReactionClap, CreatedAt: base + int64(i),
		})
	}
	return base
}

func (s *SynchronizerSuite) TestHostPrunesReactionLog() {
	s.seedRoom("host-1")
	base := s.seedReactions(ReactionLogLimit + 5)

	s.attach("host-1")

	reactions := s.sync.Reactions()
	s.Require().Len(reactions, ReactionLogLimit)
	// Oldest entries are the ones removed
	s.Equal(base+5, reactions[0].CreatedAt)
}

func (s *SynchronizerSuite) TestNonHostNeverPrunes() {
	s.seedRoom("host-1")
	s.seedReactions(ReactionLogLimit + 5)

	s.attach("p2")

	s.Len(s.sync.Reactions(), ReactionLogLimit+5)
}

func (s *SynchronizerSuite) TestPruningRateLimited() {
	s.seedRoom("host-1")
	base := s.seedReactions(ReactionLogLimit + 5)

	s.attach("host-1")
	s.Require().Len(s.sync.Reactions(), ReactionLogLimit)

	// Exceed the threshold again inside the interval; no second pass
	for i := 0; i < 5; i++ {
		_, _ = s.store.Push(s.ctx, store.RoomReactionsPath("r1"), model.ReactionEvent{
			PlayerID: "p2", Type: model.ReactionClap, CreatedAt: base + 100 + int64(i),
		})
	}
	s.Len(s.sync.Reactions(), ReactionLogLimit+5)

	// Once the interval elapses, the next change prunes again
	s.clock.Advance(ReactionPruneInterval + time.Second)
	_, _ = s.store.Push(s.ctx, store.RoomReactionsPath("r1"), model.ReactionEvent{
		PlayerID: "p2", Type: model.ReactionClap, CreatedAt: base + 200,
	})
	s.Len(s.sync.Reactions(), ReactionLogLimit)
}

func (s *SynchronizerSuite) TestAttachTwiceIsNoOp() {
	s.seedRoom("host-1")
	s.attach("p1")
	s.attach("p1")

	count := 0
	unsub := s.sync.OnRoom(func(*model.Room) { count++ })
	defer unsub()

	_ = s.store.Update(s.ctx, store.RoomMetaPath("r1"), map[string]any{"status": "starting"})

	// initial replay + one change; a duplicate subscription would double it
	s.Equal(2, count)
}

func (s *SynchronizerSuite) TestDetachResetsState() {
	s.seedRoom("host-1")
	s.attach("p1")
	_ = s.store.Set(s.ctx, store.RoomPlayerPath("r1", "p1"), model.Player{ID: "p1", Name: "alice"})

	var lastPlayers []model.Player
	unsub := s.sync.OnPlayers(func(players []model.Player) {
		lastPlayers = players
	})
	defer unsub()

	s.sync.Detach()

	s.Nil(s.sync.Room())
	s.Empty(lastPlayers)

	// Further store changes are not observed
	_ = s.store.Set(s.ctx, store.RoomPlayerPath("r1", "p2"), model.Player{ID: "p2", Name: "bob"})
	s.Empty(s.sync.Players())
}
