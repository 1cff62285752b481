package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/joinhall/lobbysync/internal/store"
)

// Store is a Redis-backed implementation of the store interface. Values
// live as JSON strings at path-shaped keys; each branch keeps a SET of
// its child segments so snapshots need no key scans. Change
// notifications travel over pub/sub channels, one per logical path,
// published for the changed path and every ancestor. Disconnect-guarded
// records are modeled with key TTLs refreshed on every write.
type Store struct {
	client *redis.Client
	cfg    Config

	mu       sync.Mutex
	expiring map[string]time.Duration

	authReady chan struct{}
}

// New creates a new Redis store instance
func New(cfg Config) (*Store, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, err
	}

	opts.PoolSize = cfg.PoolSize
	opts.MinIdleConns = cfg.MinIdleConns

	client := redis.NewClient(opts)

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return newStore(client, cfg), nil
}

// NewWithClient creates a Redis store with an existing client (for testing)
func NewWithClient(client *redis.Client, cfg Config) *Store {
	return newStore(client, cfg)
}

func newStore(client *redis.Client, cfg Config) *Store {
	if cfg.TransactRetries <= 0 {
		cfg.TransactRetries = DefaultConfig().TransactRetries
	}
	if cfg.DisconnectTTL <= 0 {
		cfg.DisconnectTTL = DefaultConfig().DisconnectTTL
	}
	ready := make(chan struct{})
	close(ready)
	return &Store{
		client:    client,
		cfg:       cfg,
		expiring:  make(map[string]time.Duration),
		authReady: ready,
	}
}

// Close closes the Redis connection
func (s *Store) Close() error {
	return s.client.Close()
}

// Ensure Store implements the interfaces
var (
	_ store.Store = (*Store)(nil)
	_ store.Auth  = (*Store)(nil)
)

// CurrentUserID returns "". Redis carries no identity facility; the
// device identity is used for all writes.
func (s *Store) CurrentUserID() string {
	return ""
}

// Ready returns an already-closed channel
func (s *Store) Ready() <-chan struct{} {
	return s.authReady
}

func (s *Store) Get(ctx context.Context, path string) (json.RawMessage, error) {
	data, err := s.client.Get(ctx, dataKey(path)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return json.RawMessage(data), nil
}

func (s *Store) GetChildren(ctx context.Context, path string) (map[string]json.RawMessage, error) {
	segments, err := s.client.SMembers(ctx, indexKey(path)).Result()
	if err != nil {
		return nil, err
	}

	children := make(map[string]json.RawMessage, len(segments))
	if len(segments) == 0 {
		return children, nil
	}

	keys := make([]string, len(segments))
	for i, seg := range segments {
		keys[i] = dataKey(path + "/" + seg)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	for i, val := range values {
		if val == nil {
			continue // child may have expired
		}
		children[segments[i]] = json.RawMessage(val.(string))
	}
	return children, nil
}

func (s *Store) Set(ctx context.Context, path string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	s.writeInPipe(ctx, pipe, path, data)
	s.publish(ctx, pipe, path)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *Store) Update(ctx context.Context, path string, fields map[string]any) error {
	key := dataKey(path)
	txf := func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, key).Bytes()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}

		obj := make(map[string]any)
		if len(current) > 0 {
			if err := json.Unmarshal(current, &obj); err != nil {
				return err
			}
		}
		for k, v := range fields {
			if v == nil {
				delete(obj, k)
				continue
			}
			obj[k] = v
		}
		data, err := json.Marshal(obj)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			s.writeInPipe(ctx, pipe, path, data)
			s.publish(ctx, pipe, path)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < s.cfg.TransactRetries; attempt++ {
		err := s.client.Watch(ctx, txf, key)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return redis.TxFailedErr
}

func (s *Store) Delete(ctx context.Context, path string) error {
	pipe := s.client.TxPipeline()
	s.deleteInPipe(ctx, pipe, path)
	s.publish(ctx, pipe, path)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *Store) DeleteAll(ctx context.Context, paths []string) error {
	if len(paths) == 0 {
		return nil
	}

	pipe := s.client.TxPipeline()
	published := make(map[string]bool)
	for _, path := range paths {
		s.deleteInPipe(ctx, pipe, path)
		for _, p := range ancestry(path) {
			if published[p] {
				continue
			}
			published[p] = true
			pipe.Publish(ctx, channelKey(p), path)
		}
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (s *Store) Push(ctx context.Context, path string, value any) (string, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return "", err
	}

	seq, err := s.client.Incr(ctx, seqKey(path)).Result()
	if err != nil {
		return "", err
	}
	id := fmt.Sprintf("k%012d", seq)
	child := path + "/" + id

	pipe := s.client.TxPipeline()
	s.writeInPipe(ctx, pipe, child, data)
	s.publish(ctx, pipe, child)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", err
	}
	return id, nil
}

func (s *Store) SetIfAbsent(ctx context.Context, path string, value any) (bool, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return false, err
	}

	committed, err := s.client.SetNX(ctx, dataKey(path), data, 0).Result()
	if err != nil || !committed {
		return false, err
	}

	pipe := s.client.TxPipeline()
	if parent, seg, ok := splitParent(path); ok {
		pipe.SAdd(ctx, indexKey(parent), seg)
	}
	s.publish(ctx, pipe, path)
	_, err = pipe.Exec(ctx)
	return true, err
}

func (s *Store) Transact(ctx context.Context, path string, fn func(current json.RawMessage) (any, error)) error {
	key := dataKey(path)
	txf := func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, key).Bytes()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}

		var raw json.RawMessage
		if len(current) > 0 {
			raw = json.RawMessage(current)
		}
		next, err := fn(raw)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if next == nil {
				s.deleteInPipe(ctx, pipe, path)
			} else {
				data, err := json.Marshal(next)
				if err != nil {
					return err
				}
				s.writeInPipe(ctx, pipe, path, data)
			}
			s.publish(ctx, pipe, path)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < s.cfg.TransactRetries; attempt++ {
		err := s.client.Watch(ctx, txf, key)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return redis.TxFailedErr
}

func (s *Store) Subscribe(ctx context.Context, path string, fn func(store.Snapshot)) (store.UnsubscribeFunc, error) {
	pubsub := s.client.Subscribe(ctx, channelKey(path))
	// Confirm the subscription is live before reading the initial
	// snapshot, so no change can slip between the two
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, err
	}

	snap, err := s.snapshot(ctx, path)
	if err != nil {
		_ = pubsub.Close()
		return nil, err
	}
	fn(snap)

	done := make(chan struct{})
	go func() {
		ch := pubsub.Channel()
		for {
			select {
			case _, ok := <-ch:
				if !ok {
					return
				}
				snap, err := s.snapshot(context.Background(), path)
				if err != nil {
					continue
				}
				fn(snap)
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			_ = pubsub.Close()
		})
	}, nil
}

func (s *Store) OnDisconnect(ctx context.Context, path string) (store.DisconnectHandle, error) {
	s.mu.Lock()
	s.expiring[path] = s.cfg.DisconnectTTL
	s.mu.Unlock()

	if err := s.client.Expire(ctx, dataKey(path), s.cfg.DisconnectTTL).Err(); err != nil {
		s.mu.Lock()
		delete(s.expiring, path)
		s.mu.Unlock()
		return nil, err
	}
	return &disconnectHandle{store: s, path: path}, nil
}

type disconnectHandle struct {
	store *Store
	path  string
}

// Cancel disarms the expiry. The PERSIST round-trip completes before
// returning, so a graceful-leave deletion that follows cannot race the
// expiry it just cancelled.
func (h *disconnectHandle) Cancel(ctx context.Context) error {
	h.store.mu.Lock()
	delete(h.store.expiring, h.path)
	h.store.mu.Unlock()
	return h.store.client.Persist(ctx, dataKey(h.path)).Err()
}

// writeInPipe queues a value write plus its parent index entry,
// preserving any armed disconnect expiry on the path
func (s *Store) writeInPipe(ctx context.Context, pipe redis.Pipeliner, path string, data []byte) {
	s.mu.Lock()
	ttl := s.expiring[path]
	s.mu.Unlock()

	pipe.Set(ctx, dataKey(path), data, ttl)
	if parent, seg, ok := splitParent(path); ok {
		pipe.SAdd(ctx, indexKey(parent), seg)
	}
}

func (s *Store) deleteInPipe(ctx context.Context, pipe redis.Pipeliner, path string) {
	pipe.Del(ctx, dataKey(path))
	if parent, seg, ok := splitParent(path); ok {
		pipe.SRem(ctx, indexKey(parent), seg)
	}
}

// publish queues a change notification to the path's channel and every
// ancestor's channel
func (s *Store) publish(ctx context.Context, pipe redis.Pipeliner, path string) {
	for _, p := range ancestry(path) {
		pipe.Publish(ctx, channelKey(p), path)
	}
}

// snapshot reads the full current state at a path: its value and its
// immediate children
func (s *Store) snapshot(ctx context.Context, path string) (store.Snapshot, error) {
	value, err := s.Get(ctx, path)
	if err != nil {
		return store.Snapshot{}, err
	}
	children, err := s.GetChildren(ctx, path)
	if err != nil {
		return store.Snapshot{}, err
	}
	return store.Snapshot{Value: value, Children: children}, nil
}
