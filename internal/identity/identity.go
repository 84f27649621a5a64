// Package identity derives the per-project daemon identity and enforces that
// at most one daemon serves a project root at a time.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

const namePrefix = "buildd-"

// ErrAlreadyRunning reports that another daemon holds the identity.
var ErrAlreadyRunning = errors.New("already running")

// Identity names one project's daemon. Every client and daemon started for the
// same root derives the same Identity.
type Identity struct {
	Name string
	Root string
}

// Derive returns the identity for the given project root.
func Derive(root string) (Identity, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return Identity{}, fmt.Errorf("resolve project root: %w", err)
	}
	abs = filepath.Clean(abs)
	sum := sha256.Sum256([]byte(abs))
	return Identity{
		Name: namePrefix + hex.EncodeToString(sum[:])[:16],
		Root: abs,
	}, nil
}

// SocketPath returns the unix socket the daemon listens on.
func (id Identity) SocketPath(runtimeDir string) string {
	return filepath.Join(runtimeDir, id.Name+".sock")
}

// LockPath returns the lock file guarding the identity.
func (id Identity) LockPath(runtimeDir string) string {
	return filepath.Join(runtimeDir, id.Name+".lock")
}

// PIDPath returns the file recording the daemon's process id.
func (id Identity) PIDPath(runtimeDir string) string {
	return filepath.Join(runtimeDir, id.Name+".pid")
}

// StorePath returns the dispatch history database for the identity.
func (id Identity) StorePath(stateDir string) string {
	return filepath.Join(stateDir, id.Name+".db")
}

// Sentinel is the line that ends a relayed output stream.
func (id Identity) Sentinel() string {
	return id.Name
}

// ChannelName is the file name of the handshake channel created by clients.
func (id Identity) ChannelName() string {
	return id.Name
}

// Binding is a held identity. Release it when the daemon exits.
type Binding struct {
	id   Identity
	lock *flock.Flock
}

// Bind claims the identity. It fails with ErrAlreadyRunning when another
// process holds it.
func Bind(id Identity, runtimeDir string) (*Binding, error) {
	if err := os.MkdirAll(runtimeDir, 0o700); err != nil {
		return nil, fmt.Errorf("create runtime dir: %w", err)
	}
	lock := flock.New(id.LockPath(runtimeDir))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("identity %s: %w", id.Name, ErrAlreadyRunning)
	}
	return &Binding{id: id, lock: lock}, nil
}

// Identity returns the bound identity.
func (b *Binding) Identity() Identity {
	return b.id
}

// Release gives up the identity. It is safe to call more than once.
func (b *Binding) Release() error {
	if b == nil || b.lock == nil {
		return nil
	}
	if err := b.lock.Unlock(); err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}
