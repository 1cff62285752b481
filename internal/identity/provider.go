package identity

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/joinhall/lobbysync/internal/model"
	"github.com/joinhall/lobbysync/internal/store"
)

// DefaultAuthWait bounds how long operations wait for the store's
// authentication round-trip before proceeding with the local identity
const DefaultAuthWait = 2500 * time.Millisecond

// Keystore persists the device identifier across sessions
type Keystore interface {
	Load() (string, error)
	Save(id string) error
}

// Provider produces the stable identity used for all store writes. On
// first use it generates a random identifier and persists it; once the
// store's auth facility reports a verified user id, that id takes over
// for subsequent operations.
type Provider struct {
	keystore Keystore
	auth     store.Auth
	authWait time.Duration
	logger   *slog.Logger

	mu       sync.Mutex
	id       model.PlayerID
	degraded bool
}

// New creates an identity provider. authWait <= 0 selects DefaultAuthWait.
func New(ks Keystore, auth store.Auth, authWait time.Duration, logger *slog.Logger) *Provider {
	if authWait <= 0 {
		authWait = DefaultAuthWait
	}
	return &Provider{
		keystore: ks,
		auth:     auth,
		authWait: authWait,
		logger:   logger.With(slog.String("component", "identity")),
	}
}

// CurrentIdentity returns the device identity, generating and
// persisting one on first use. Idempotent; deterministic for the life
// of the device unless the keystore is cleared externally.
func (p *Provider) CurrentIdentity() model.PlayerID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.currentLocked()
}

func (p *Provider) currentLocked() model.PlayerID {
	if p.id != "" {
		return p.id
	}

	stored, err := p.keystore.Load()
	if err != nil {
		p.logger.Warn("keystore unavailable, using session-only identity",
			slog.String("error", err.Error()))
		p.degraded = true
	}
	if stored != "" {
		p.id = model.PlayerID(stored)
		return p.id
	}

	generated := uuid.NewString()
	if !p.degraded {
		if err := p.keystore.Save(generated); err != nil {
			p.logger.Warn("could not persist identity, using session-only identity",
				slog.String("error", err.Error()))
			p.degraded = true
		}
	}
	p.id = model.PlayerID(generated)
	return p.id
}

// WaitIdentity blocks until the auth facility settles (or the wait
// bound elapses) and returns the identity to use for writes: the
// verified user id when one arrived, the device identity otherwise.
// Write-time authorization failures, if any, surface on the write.
func (p *Provider) WaitIdentity(ctx context.Context) model.PlayerID {
	timer := time.NewTimer(p.authWait)
	defer timer.Stop()

	select {
	case <-p.auth.Ready():
	case <-timer.C:
	case <-ctx.Done():
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if uid := p.auth.CurrentUserID(); uid != "" && p.id != model.PlayerID(uid) {
		p.currentLocked() // ensure the device id was issued before adopting
		p.id = model.PlayerID(uid)
	}
	return p.currentLocked()
}

// Degraded reports whether the provider fell back to a session-only
// identity because durable storage was unavailable
func (p *Provider) Degraded() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.degraded
}

// FileKeystore stores the device id in a file under the user config dir
type FileKeystore struct {
	path string
}

// NewFileKeystore creates a keystore at <user config dir>/<appName>/device_id
func NewFileKeystore(appName string) (*FileKeystore, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return nil, err
	}
	return &FileKeystore{path: filepath.Join(dir, appName, "device_id")}, nil
}

// Load reads the persisted id, or "" when none exists
func (k *FileKeystore) Load() (string, error) {
	data, err := os.ReadFile(k.path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// Save persists the id
func (k *FileKeystore) Save(id string) error {
	if err := os.MkdirAll(filepath.Dir(k.path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(k.path, []byte(id+"\n"), 0o600)
}

// MemoryKeystore is a non-persistent keystore for tests and degraded
// fallback wiring
type MemoryKeystore struct {
	mu sync.Mutex
	id string
}

func (k *MemoryKeystore) Load() (string, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.id, nil
}

func (k *MemoryKeystore) Save(id string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.id = id
	return nil
}
