package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/joinhall/lobbysync/internal/store"
)

// Store is an in-memory implementation of the store interface. It keeps
// a flat map of leaf paths to JSON values and synthesizes branch
// snapshots on demand. It is the test double for everything built on
// the abstract store, with hooks to simulate auth, write failures and
// abrupt disconnects.
type Store struct {
	mu sync.RWMutex

	values      map[string]json.RawMessage
	pushCounter uint64

	subs    map[int]*subscription
	nextSub int

	disconnects map[int]string
	nextDisc    int

	writeErrors map[string]error

	authID    string
	authReady chan struct{}
	authOnce  sync.Once

	closed bool
}

type subscription struct {
	path string
	fn   func(store.Snapshot)
}

// New creates an in-memory store whose auth facility is already settled
// with no authenticated user (anonymous).
func New() *Store {
	s := newStore()
	s.authOnce.Do(func() { close(s.authReady) })
	return s
}

// NewWithPendingAuth creates a store whose auth facility stays
// unresolved until AuthenticateAs is called, for exercising the
// identity-readiness timeout.
func NewWithPendingAuth() *Store {
	return newStore()
}

func newStore() *Store {
	return &Store{
		values:      make(map[string]json.RawMessage),
		subs:        make(map[int]*subscription),
		disconnects: make(map[int]string),
		writeErrors: make(map[string]error),
		authReady:   make(chan struct{}),
	}
}

// Ensure Store implements the interfaces
var (
	_ store.Store = (*Store)(nil)
	_ store.Auth  = (*Store)(nil)
)

// AuthenticateAs resolves the auth facility with the given user id
func (s *Store) AuthenticateAs(userID string) {
	s.mu.Lock()
	s.authID = userID
	s.mu.Unlock()
	s.authOnce.Do(func() { close(s.authReady) })
}

// CurrentUserID returns the authenticated user id, or ""
func (s *Store) CurrentUserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.authID
}

// Ready is closed once auth has settled
func (s *Store) Ready() <-chan struct{} {
	return s.authReady
}

// FailWritesUnder makes every write under the given path prefix fail
// with err, simulating access-policy rejection. A trailing slash on the
// prefix is ignored. Pass a nil err to clear.
func (s *Store) FailWritesUnder(prefix string, err error) {
	prefix = strings.TrimSuffix(prefix, "/")
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.writeErrors, prefix)
		return
	}
	s.writeErrors[prefix] = err
}

func (s *Store) writeErrorLocked(path string) error {
	for prefix, err := range s.writeErrors {
		if path == prefix || strings.HasPrefix(path, prefix+"/") {
			return err
		}
	}
	return nil
}

// LoseConnection fires every registered on-disconnect action and clears
// the registry, simulating an abrupt network loss.
func (s *Store) LoseConnection() {
	s.mu.Lock()
	paths := make([]string, 0, len(s.disconnects))
	for _, p := range s.disconnects {
		paths = append(paths, p)
	}
	s.disconnects = make(map[int]string)
	var notify []pendingNotify
	for _, p := range paths {
		notify = append(notify, s.deleteLocked(p)...)
	}
	s.mu.Unlock()
	dispatch(notify)
}

// Get reads the value at a leaf path; absence is (nil, nil)
func (s *Store) Get(ctx context.Context, path string) (json.RawMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[path]
	if !ok {
		return nil, nil
	}
	return v, nil
}

// GetChildren reads the immediate children of a branch path
func (s *Store) GetChildren(ctx context.Context, path string) (map[string]json.RawMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.childrenLocked(path), nil
}

// Set unconditionally writes a value at a leaf path
func (s *Store) Set(ctx context.Context, path string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if err := s.writeErrorLocked(path); err != nil {
		s.mu.Unlock()
		return err
	}
	s.values[path] = data
	notify := s.affectedLocked(path)
	s.mu.Unlock()
	dispatch(notify)
	return nil
}

// Update merges fields into the JSON object at a leaf path
func (s *Store) Update(ctx context.Context, path string, fields map[string]any) error {
	s.mu.Lock()
	if err := s.writeErrorLocked(path); err != nil {
		s.mu.Unlock()
		return err
	}

	obj := map[string]json.RawMessage{}
	if cur, ok := s.values[path]; ok {
		if err := json.Unmarshal(cur, &obj); err != nil {
			s.mu.Unlock()
			return err
		}
	}
	for k, v := range fields {
		if v == nil {
			delete(obj, k)
			continue
		}
		data, err := json.Marshal(v)
		if err != nil {
			s.mu.Unlock()
			return err
		}
		obj[k] = data
	}
	merged, err := json.Marshal(obj)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.values[path] = merged
	notify := s.affectedLocked(path)
	s.mu.Unlock()
	dispatch(notify)
	return nil
}

// Delete removes a path (and any subtree beneath it); deleting an
// absent path is a no-op
func (s *Store) Delete(ctx context.Context, path string) error {
	s.mu.Lock()
	notify := s.deleteLocked(path)
	s.mu.Unlock()
	dispatch(notify)
	return nil
}

// DeleteAll removes every listed path in one batch, notifying each
// affected subscriber once
func (s *Store) DeleteAll(ctx context.Context, paths []string) error {
	s.mu.Lock()
	seen := map[int]bool{}
	var notify []pendingNotify
	for _, p := range paths {
		for _, n := range s.deleteLocked(p) {
			if !seen[n.subID] {
				seen[n.subID] = true
				notify = append(notify, n)
			}
		}
	}
	// Recompute snapshots after the full batch so each subscriber
	// sees the final state exactly once
	for i := range notify {
		notify[i].snap = s.snapshotLocked(notify[i].path)
	}
	s.mu.Unlock()
	dispatch(notify)
	return nil
}

// Push appends value under a store-assigned id that sorts after all
// previously assigned ids
func (s *Store) Push(ctx context.Context, path string, value any) (string, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	if err := s.writeErrorLocked(path); err != nil {
		s.mu.Unlock()
		return "", err
	}
	s.pushCounter++
	id := fmt.Sprintf("k%012d", s.pushCounter)
	child := path + "/" + id
	s.values[child] = data
	notify := s.affectedLocked(child)
	s.mu.Unlock()
	dispatch(notify)
	return id, nil
}

// SetIfAbsent atomically writes value only if the path is absent
func (s *Store) SetIfAbsent(ctx context.Context, path string, value any) (bool, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	if err := s.writeErrorLocked(path); err != nil {
		s.mu.Unlock()
		return false, err
	}
	if _, exists := s.values[path]; exists {
		s.mu.Unlock()
		return false, nil
	}
	s.values[path] = data
	notify := s.affectedLocked(path)
	s.mu.Unlock()
	dispatch(notify)
	return true, nil
}

// Transact atomically replaces the value at a leaf path with fn applied
// to its current value
func (s *Store) Transact(ctx context.Context, path string, fn func(current json.RawMessage) (any, error)) error {
	s.mu.Lock()
	if err := s.writeErrorLocked(path); err != nil {
		s.mu.Unlock()
		return err
	}

	cur := s.values[path]
	next, err := fn(cur)
	if err != nil {
		s.mu.Unlock()
		return err
	}

	var notify []pendingNotify
	if next == nil {
		notify = s.deleteLocked(path)
	} else {
		data, err := json.Marshal(next)
		if err != nil {
			s.mu.Unlock()
			return err
		}
		s.values[path] = data
		notify = s.affectedLocked(path)
	}
	s.mu.Unlock()
	dispatch(notify)
	return nil
}

// Subscribe registers fn for snapshots of path, delivering the current
// snapshot synchronously before returning
func (s *Store) Subscribe(ctx context.Context, path string, fn func(store.Snapshot)) (store.UnsubscribeFunc, error) {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = &subscription{path: path, fn: fn}
	snap := s.snapshotLocked(path)
	s.mu.Unlock()

	fn(snap)

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}, nil
}

// OnDisconnect registers removal of path on abrupt connection loss
func (s *Store) OnDisconnect(ctx context.Context, path string) (store.DisconnectHandle, error) {
	s.mu.Lock()
	id := s.nextDisc
	s.nextDisc++
	s.disconnects[id] = path
	s.mu.Unlock()
	return &disconnectHandle{store: s, id: id}, nil
}

type disconnectHandle struct {
	store *Store
	id    int
}

// Cancel removes the registered action; confirmation is immediate for
// the in-memory store
func (h *disconnectHandle) Cancel(ctx context.Context) error {
	h.store.mu.Lock()
	delete(h.store.disconnects, h.id)
	h.store.mu.Unlock()
	return nil
}

// Close drops all subscriptions
func (s *Store) Close() error {
	s.mu.Lock()
	s.subs = make(map[int]*subscription)
	s.closed = true
	s.mu.Unlock()
	return nil
}

// pendingNotify pairs a subscriber callback with the snapshot computed
// for it while the lock was held. Callbacks run after the lock is
// released so a listener may safely call back into the store.
type pendingNotify struct {
	subID int
	path  string
	fn    func(store.Snapshot)
	snap  store.Snapshot
}

func dispatch(notify []pendingNotify) {
	for _, n := range notify {
		n.fn(n.snap)
	}
}

// affectedLocked collects the subscribers whose view includes the
// changed path: the path itself, any ancestor, and any descendant.
// The subscriber set is snapshotted here so mutation during delivery
// cannot corrupt iteration.
func (s *Store) affectedLocked(changed string) []pendingNotify {
	var out []pendingNotify
	for id, sub := range s.subs {
		if sub.path == changed ||
			strings.HasPrefix(changed, sub.path+"/") ||
			strings.HasPrefix(sub.path, changed+"/") {
			out = append(out, pendingNotify{
				subID: id,
				path:  sub.path,
				fn:    sub.fn,
				snap:  s.snapshotLocked(sub.path),
			})
		}
	}
	return out
}

func (s *Store) deleteLocked(path string) []pendingNotify {
	removed := false
	if _, ok := s.values[path]; ok {
		delete(s.values, path)
		removed = true
	}
	prefix := path + "/"
	for k := range s.values {
		if strings.HasPrefix(k, prefix) {
			delete(s.values, k)
			removed = true
		}
	}
	if !removed {
		return nil
	}
	return s.affectedLocked(path)
}

func (s *Store) snapshotLocked(path string) store.Snapshot {
	if v, ok := s.values[path]; ok {
		return store.Snapshot{Value: v}
	}

	children := s.childrenLocked(path)
	if len(children) == 0 {
		return store.Snapshot{}
	}
	return store.Snapshot{Children: children}
}

func (s *Store) childrenLocked(path string) map[string]json.RawMessage {
	children := make(map[string]json.RawMessage)
	prefix := path + "/"
	deep := map[string]bool{}
	for k, v := range s.values {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		rest := k[len(prefix):]
		if idx := strings.IndexByte(rest, '/'); idx >= 0 {
			deep[rest[:idx]] = true
			continue
		}
		children[rest] = v
	}
	// A child that is itself a branch is rendered as a nested object
	for seg := range deep {
		if _, ok := children[seg]; !ok {
			children[seg] = s.subtreeLocked(prefix + seg)
		}
	}
	return children
}

func (s *Store) subtreeLocked(path string) json.RawMessage {
	obj := map[string]json.RawMessage{}
	for seg, v := range s.childrenLocked(path) {
		obj[seg] = v
	}
	data, err := json.Marshal(obj)
	if err != nil {
		return json.RawMessage("{}")
	}
	return data
}
