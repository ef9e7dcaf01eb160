package bot

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/talkincode/wabot/internal/credentials"
	"github.com/talkincode/wabot/internal/domain"
	"github.com/talkincode/wabot/internal/store"
	"github.com/talkincode/wabot/internal/transport"
)

func newTestRepository(t *testing.T) *store.GormRepository {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:bot_%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(domain.Tables...); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	sqlDB, _ := db.DB()
	t.Cleanup(func() { _ = sqlDB.Close() })
	return store.NewGormRepository(db)
}

// recorder collects an ordered trace of calls across fakes.
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(format string, args ...interface{}) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, fmt.Sprintf(format, args...))
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

type fakeBundle struct {
	id         string
	dir        string
	registered bool
	saves      int
	closed     bool
}

func (b *fakeBundle) SessionID() string { return b.id }
func (b *fakeBundle) Dir() string { return b.dir }
func (b *fakeBundle) Registered() bool { return b.registered }
func (b *fakeBundle) Save(context.Context) error { b.saves++; return nil }
func (b *fakeBundle) Close() error { b.closed = true; return nil }

// fakeVault keeps bundle directories under a temp root like the real vault.
type fakeVault struct {
	root string
	rec  *recorder
}

func newFakeVault(t *testing.T, rec *recorder) *fakeVault {
	return &fakeVault{root: t.TempDir(), rec: rec}
}

func (v *fakeVault) Dir(sessionID string) string { return filepath.Join(v.root, sessionID) }

func (v *fakeVault) Open(_ context.Context, sessionID string) (credentials.Bundle, error) {
	v.rec.add("open")
	dir := v.Dir(sessionID)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	return &fakeBundle{id: sessionID, dir: dir}, nil
}

func (v *fakeVault) Remove(sessionID string) error {
	return os.RemoveAll(v.Dir(sessionID))
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

type sentMessage struct {
	chatID string
	msg    transport.OutgoingText
}

type fakeClient struct {
	mu         sync.Mutex
	handlers   transport.Handlers
	identity   string
	registered bool
	sendErr    error
	logoutErr  error
	sent       []sentMessage
	logouts    int
	closed     bool
	rec        *recorder
}

func (c *fakeClient) Subscribe(h transport.Handlers) { c.handlers = h }

func (c *fakeClient) Connect(context.Context) error { return nil }

func (c *fakeClient) RequestPairingCode(_ context.Context, phone string) (string, error) {
	c.rec.add("pair %s", phone)
	return "ABCD1234", nil
}

func (c *fakeClient) SendMessage(_ context.Context, chatID string, msg transport.OutgoingText) (transport.SendResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return transport.SendResult{}, c.sendErr
	}
	c.sent = append(c.sent, sentMessage{chatID: chatID, msg: msg})
	return transport.SendResult{ID: fmt.Sprintf("out-%d", len(c.sent)), Timestamp: time.Now()}, nil
}

func (c *fakeClient) Logout(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logouts++
	return c.logoutErr
}

func (c *fakeClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *fakeClient) Identity() string { return c.identity }
func (c *fakeClient) Registered() bool { return c.registered }

func (c *fakeClient) texts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.sent))
	for i, s := range c.sent {
		out[i] = s.msg.Text
	}
	return out
}

func (c *fakeClient) emitConnection(u transport.ConnectionUpdate) { c.handlers.ConnectionUpdate(u) }
func (c *fakeClient) emitMessages(msgs ...transport.RawMessage) {
	c.handlers.MessagesUpsert(transport.MessagesUpsert{Messages: msgs})
}

type fakeFactory struct {
	mu       sync.Mutex
	clients  []*fakeClient
	identity string
	delay    time.Duration
	err      error
	rec      *recorder
}

func (f *fakeFactory) NewClient(_ context.Context, bundle credentials.Bundle, _ transport.Options) (transport.Client, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	c := &fakeClient{identity: f.identity, registered: bundle.Registered(), rec: f.rec}
	f.mu.Lock()
	f.clients = append(f.clients, c)
	f.mu.Unlock()
	return c, nil
}

func (f *fakeFactory) last() *fakeClient {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.clients) == 0 {
		return nil
	}
	return f.clients[len(f.clients)-1]
}

var errBoom = errors.New("boom")
