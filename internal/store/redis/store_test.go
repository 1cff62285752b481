package redis

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"

	"github.com/joinhall/lobbysync/internal/store"
)

type StoreSuite struct {
	suite.Suite
	mini  *miniredis.Miniredis
	store *Store
	ctx   context.Context
}

func TestStoreSuite(t *testing.T) {
	suite.Run(t, new(StoreSuite))
}

func (s *StoreSuite) SetupTest() {
	s.mini = miniredis.RunT(s.T())

	client := redis.NewClient(&redis.Options{
		Addr: s.mini.Addr(),
	})

	cfg := DefaultConfig()
	cfg.DisconnectTTL = 30 * time.Second

	s.store = NewWithClient(client, cfg)
	s.ctx = context.Background()
}

func (s *StoreSuite) TearDownTest() {
	if s.store != nil {
		_ = s.store.Close()
	}
	if s.mini != nil {
		s.mini.Close()
	}
}

func (s *StoreSuite) TestSetAndGet() {
	err := s.store.Set(s.ctx, "rooms/r1/meta", map[string]string{"id": "r1"})
	s.Require().NoError(err)

	raw, err := s.store.Get(s.ctx, "rooms/r1/meta")
	s.Require().NoError(err)
	s.JSONEq(`{"id":"r1"}`, string(raw))
}

func (s *StoreSuite) TestGetAbsent() {
	raw, err := s.store.Get(s.ctx, "rooms/nope/meta")
	s.Require().NoError(err)
	s.Nil(raw)
}

func (s *StoreSuite) TestGetChildren() {
	s.Require().NoError(s.store.Set(s.ctx, "rooms/r1/players/p1", map[string]string{"name": "Alice"}))
	s.Require().NoError(s.store.Set(s.ctx, "rooms/r1/players/p2", map[string]string{"name": "Bob"}))

	children, err := s.store.GetChildren(s.ctx, "rooms/r1/players")
	s.Require().NoError(err)
	s.Require().Len(children, 2)
	s.JSONEq(`{"name":"Alice"}`, string(children["p1"]))
}

func (s *StoreSuite) TestGetChildrenAbsentBranch() {
	children, err := s.store.GetChildren(s.ctx, "rooms/none/players")
	s.Require().NoError(err)
	s.Empty(children)
}

func (s *StoreSuite) TestUpdateMergesFields() {
	s.Require().NoError(s.store.Set(s.ctx, "rooms/r1/players/p1",
		map[string]any{"name": "Alice", "lastSeen": 100}))

	err := s.store.Update(s.ctx, "rooms/r1/players/p1", map[string]any{"lastSeen": 200})
	s.Require().NoError(err)

	raw, err := s.store.Get(s.ctx, "rooms/r1/players/p1")
	s.Require().NoError(err)
	s.JSONEq(`{"name":"Alice","lastSeen":200}`, string(raw))
}

func (s *StoreSuite) TestUpdateNilDeletesField() {
	s.Require().NoError(s.store.Set(s.ctx, "rooms/r1/players/p1",
		map[string]any{"name": "Alice", "mutedUntil": 999}))

	err := s.store.Update(s.ctx, "rooms/r1/players/p1", map[string]any{"mutedUntil": nil})
	s.Require().NoError(err)

	raw, err := s.store.Get(s.ctx, "rooms/r1/players/p1")
	s.Require().NoError(err)
	s.JSONEq(`{"name":"Alice"}`, string(raw))
}

func (s *StoreSuite) TestUpdateCreatesAbsentObject() {
	err := s.store.Update(s.ctx, "rooms/r1/meta", map[string]any{"status": "lobby"})
	s.Require().NoError(err)

	raw, err := s.store.Get(s.ctx, "rooms/r1/meta")
	s.Require().NoError(err)
	s.JSONEq(`{"status":"lobby"}`, string(raw))
}

func (s *StoreSuite) TestDeleteRemovesValueAndIndexEntry() {
	s.Require().NoError(s.store.Set(s.ctx, "rooms/r1/players/p1", true))

	s.Require().NoError(s.store.Delete(s.ctx, "rooms/r1/players/p1"))

	raw, err := s.store.Get(s.ctx, "rooms/r1/players/p1")
	s.Require().NoError(err)
	s.Nil(raw)

	children, err := s.store.GetChildren(s.ctx, "rooms/r1/players")
	s.Require().NoError(err)
	s.Empty(children)
}

func (s *StoreSuite) TestDeleteAbsentIsNoOp() {
	s.NoError(s.store.Delete(s.ctx, "rooms/r1/players/p1"))
}

func (s *StoreSuite) TestDeleteAll() {
	s.Require().NoError(s.store.Set(s.ctx, "rooms/r1/reactions/a", 1))
	s.Require().NoError(s.store.Set(s.ctx, "rooms/r1/reactions/b", 2))
	s.Require().NoError(s.store.Set(s.ctx, "rooms/r1/reactions/c", 3))

	err := s.store.DeleteAll(s.ctx, []string{"rooms/r1/reactions/a", "rooms/r1/reactions/b"})
	s.Require().NoError(err)

	children, err := s.store.GetChildren(s.ctx, "rooms/r1/reactions")
	s.Require().NoError(err)
	s.Require().Len(children, 1)
	s.Contains(children, "c")
}

func (s *StoreSuite) TestPushAssignsOrderedIDs() {
	id1, err := s.store.Push(s.ctx, "rooms/r1/chat", map[string]string{"text": "first"})
	s.Require().NoError(err)
	id2, err := s.store.Push(s.ctx, "rooms/r1/chat", map[string]string{"text": "second"})
	s.Require().NoError(err)
	s.Less(id1, id2)

	children, err := s.store.GetChildren(s.ctx, "rooms/r1/chat")
	s.Require().NoError(err)
	s.Len(children, 2)
	s.JSONEq(`{"text":"first"}`, string(children[id1]))
}

func (s *StoreSuite) TestSetIfAbsentReservesOnce() {
	committed, err := s.store.SetIfAbsent(s.ctx, "codes/ABCD", map[string]string{"roomId": "r1"})
	s.Require().NoError(err)
	s.True(committed)

	committed, err = s.store.SetIfAbsent(s.ctx, "codes/ABCD", map[string]string{"roomId": "r2"})
	s.Require().NoError(err)
	s.False(committed)

	raw, err := s.store.Get(s.ctx, "codes/ABCD")
	s.Require().NoError(err)
	s.JSONEq(`{"roomId":"r1"}`, string(raw))
}

func (s *StoreSuite) TestTransactToggle() {
	toggle := func(current json.RawMessage) (any, error) {
		if current == nil {
			return true, nil
		}
		return nil, nil
	}

	s.Require().NoError(s.store.Transact(s.ctx, "rooms/r1/ready/p1", toggle))
	raw, err := s.store.Get(s.ctx, "rooms/r1/ready/p1")
	s.Require().NoError(err)
	s.JSONEq(`true`, string(raw))

	s.Require().NoError(s.store.Transact(s.ctx, "rooms/r1/ready/p1", toggle))
	raw, err = s.store.Get(s.ctx, "rooms/r1/ready/p1")
	s.Require().NoError(err)
	s.Nil(raw)
}

func (s *StoreSuite) TestSubscribeDeliversInitialAndChanges() {
	s.Require().NoError(s.store.Set(s.ctx, "rooms/r1/players/p1", map[string]string{"name": "Alice"}))

	var mu sync.Mutex
	var snaps []store.Snapshot
	unsub, err := s.store.Subscribe(s.ctx, "rooms/r1/players", func(snap store.Snapshot) {
		mu.Lock()
		snaps = append(snaps, snap)
		mu.Unlock()
	})
	s.Require().NoError(err)
	defer unsub()

	mu.Lock()
	s.Require().Len(snaps, 1)
	s.Len(snaps[0].Children, 1)
	mu.Unlock()

	s.Require().NoError(s.store.Set(s.ctx, "rooms/r1/players/p2", map[string]string{"name": "Bob"}))

	s.Eventually(func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(snaps) >= 2 && len(snaps[len(snaps)-1].Children) == 2
	}, 2*time.Second, 10*time.Millisecond)
}

func (s *StoreSuite) TestSubscribeLeafValue() {
	var mu sync.Mutex
	var last json.RawMessage
	unsub, err := s.store.Subscribe(s.ctx, "rooms/r1/meta", func(snap store.Snapshot) {
		mu.Lock()
		last = snap.Value
		mu.Unlock()
	})
	s.Require().NoError(err)
	defer unsub()

	s.Require().NoError(s.store.Set(s.ctx, "rooms/r1/meta", map[string]string{"status": "lobby"}))

	s.Eventually(func() bool {
		mu.Lock()
		defer mu.Unlock()
		return last != nil
	}, 2*time.Second, 10*time.Millisecond)
}

func (s *StoreSuite) TestUnsubscribeStopsDelivery() {
	var mu sync.Mutex
	count := 0
	unsub, err := s.store.Subscribe(s.ctx, "rooms/r1/chat", func(store.Snapshot) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	s.Require().NoError(err)

	unsub()
	unsub() // safe to call twice

	_, err = s.store.Push(s.ctx, "rooms/r1/chat", map[string]string{"text": "hi"})
	s.Require().NoError(err)

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	s.Equal(1, count) // initial snapshot only
}

func (s *StoreSuite) TestOnDisconnectExpiresRecord() {
	s.Require().NoError(s.store.Set(s.ctx, "rooms/r1/presence/p1", map[string]int{"lastSeen": 100}))

	_, err := s.store.OnDisconnect(s.ctx, "rooms/r1/presence/p1")
	s.Require().NoError(err)

	s.mini.FastForward(31 * time.Second)

	raw, err := s.store.Get(s.ctx, "rooms/r1/presence/p1")
	s.Require().NoError(err)
	s.Nil(raw)
}

func (s *StoreSuite) TestWritesRearmDisconnectExpiry() {
	s.Require().NoError(s.store.Set(s.ctx, "rooms/r1/presence/p1", map[string]int{"lastSeen": 100}))
	_, err := s.store.OnDisconnect(s.ctx, "rooms/r1/presence/p1")
	s.Require().NoError(err)

	// A heartbeat-style refresh keeps the record alive past the
	// original deadline
	s.mini.FastForward(20 * time.Second)
	s.Require().NoError(s.store.Set(s.ctx, "rooms/r1/presence/p1", map[string]int{"lastSeen": 200}))
	s.mini.FastForward(20 * time.Second)

	raw, err := s.store.Get(s.ctx, "rooms/r1/presence/p1")
	s.Require().NoError(err)
	s.NotNil(raw)
}

func (s *StoreSuite) TestCancelDisarmsExpiry() {
	s.Require().NoError(s.store.Set(s.ctx, "rooms/r1/presence/p1", map[string]int{"lastSeen": 100}))
	handle, err := s.store.OnDisconnect(s.ctx, "rooms/r1/presence/p1")
	s.Require().NoError(err)

	s.Require().NoError(handle.Cancel(s.ctx))
	s.mini.FastForward(time.Minute)

	raw, err := s.store.Get(s.ctx, "rooms/r1/presence/p1")
	s.Require().NoError(err)
	s.NotNil(raw)
}

func (s *StoreSuite) TestAuthIsSettledAndAnonymous() {
	select {
	case <-s.store.Ready():
	default:
		s.Fail("auth readiness should be settled immediately")
	}
	s.Empty(s.store.CurrentUserID())
}
