// Package credentials keeps one transport credential bundle per session id,
// each in its own directory under the vault root.
package credentials

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	waLog "go.mau.fi/whatsmeow/util/log"
	"go.uber.org/zap"
)

const bundleFile = "creds.db"

// Bundle is the persisted authentication state of one session.
type Bundle interface {
	SessionID() string
	Dir() string
	// Registered reports whether the bundle already holds paired credentials.
	Registered() bool
	// Save persists the current credentials; wired to credential-update events.
	Save(ctx context.Context) error
	Close() error
}

// Vault creates, loads and deletes bundles by session id.
type Vault interface {
	Open(ctx context.Context, sessionID string) (Bundle, error)
	// Remove deletes the bundle directory. Removing a missing bundle is not an error.
	Remove(sessionID string) error
	Dir(sessionID string) string
}

// SQLVault stores each bundle as a whatsmeow sqlstore sqlite file.
type SQLVault struct {
	root string
	log  waLog.Logger
}

var _ Vault = (*SQLVault)(nil)

// NewSQLVault creates a vault rooted at dir, typically <workdir>/sessions.
func NewSQLVault(root string, log waLog.Logger) *SQLVault {
	return &SQLVault{root: root, log: log}
}

func (v *SQLVault) Dir(sessionID string) string {
	return filepath.Join(v.root, sessionID)
}

// Open ensures the session directory exists and loads the first device from
// it, initializing a fresh one when the store is empty.
func (v *SQLVault) Open(ctx context.Context, sessionID string) (Bundle, error) {
	dir := v.Dir(sessionID)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on", filepath.Join(dir, bundleFile))
	container, err := sqlstore.New(ctx, "sqlite3", dsn, v.log)
	if err != nil {
		return nil, fmt.Errorf("open credential store: %w", err)
	}
	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		_ = container.Close()
		return nil, fmt.Errorf("load device: %w", err)
	}
	zap.L().Debug("credential bundle opened",
		zap.String("namespace", "bot"),
		zap.String("session_id", sessionID),
		zap.Bool("registered", device.ID != nil))
	return &SQLBundle{sessionID: sessionID, dir: dir, container: container, device: device}, nil
}

func (v *SQLVault) Remove(sessionID string) error {
	if sessionID == "" {
		return nil
	}
	return os.RemoveAll(v.Dir(sessionID))
}

// SQLBundle is a Bundle backed by a whatsmeow device store.
type SQLBundle struct {
	sessionID string
	dir       string
	container *sqlstore.Container
	device    *store.Device
}

func (b *SQLBundle) SessionID() string { return b.sessionID }

func (b *SQLBundle) Dir() string { return b.dir }

// Device exposes the whatsmeow device for client construction.
func (b *SQLBundle) Device() *store.Device { return b.device }

func (b *SQLBundle) Registered() bool {
	return b.device != nil && b.device.ID != nil
}

func (b *SQLBundle) Save(ctx context.Context) error {
	if !b.Registered() {
		return nil
	}
	return b.container.PutDevice(ctx, b.device)
}

func (b *SQLBundle) Close() error {
	return b.container.Close()
}
