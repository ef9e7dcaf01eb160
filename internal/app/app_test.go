package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/talkincode/wabot/config"
	"github.com/talkincode/wabot/internal/bot"
	"github.com/talkincode/wabot/internal/domain"
	"github.com/talkincode/wabot/internal/store"
	"github.com/talkincode/wabot/internal/transport"
)

// replyClient accepts replies and nothing else.
type replyClient struct{}

func (replyClient) Subscribe(transport.Handlers) {}
func (replyClient) Connect(context.Context) error { return nil }
func (replyClient) RequestPairingCode(context.Context, string) (string, error) {
	return "", errors.New("not supported")
}
func (replyClient) SendMessage(context.Context, string, transport.OutgoingText) (transport.SendResult, error) {
	return transport.SendResult{ID: "out", Timestamp: time.Now()}, nil
}
func (replyClient) Logout(context.Context) error { return nil }
func (replyClient) Close() {}
func (replyClient) Identity() string { return "" }
func (replyClient) Registered() bool { return true }

func newTestApp(t *testing.T) *Application {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:app_%s?mode=memory&cache=shared", name)),
		&gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, _ := db.DB()
	t.Cleanup(func() { _ = sqlDB.Close() })

	a := NewApplication(config.DefaultAppConfig())
	a.OverrideDB(db)
	// No connection is made in these tests, so no vault or transport is needed.
	if err := a.Setup(context.Background(), nil, nil); err != nil {
		t.Fatalf("setup: %v", err)
	}
	return a
}

func TestSetupSeedsDefaultCommands(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()

	cmds, err := a.Repository().ListCommands(ctx, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(cmds) != 2 {
		t.Fatalf("seeded %d commands, want 2", len(cmds))
	}
	for _, c := range cmds {
		if c.IsActive {
			t.Errorf("sample command %s should start inactive", c.Command)
		}
		if !a.Registry().HasRef(c.HandlerRef) {
			t.Errorf("sample command %s uses unknown handler %s", c.Command, c.HandlerRef)
		}
	}

	// Seeding again must not duplicate rows.
	a.checkDefaultCommands()
	cmds, _ = a.Repository().ListCommands(ctx, false)
	if len(cmds) != 2 {
		t.Errorf("after reseed: %d commands", len(cmds))
	}

	if a.BotManager() == nil || a.Dispatcher() == nil {
		t.Error("bot components not wired")
	}
	if a.BotManager().IsConnected() {
		t.Error("fresh manager reports connected")
	}
}

func TestReloadCommands(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()

	if _, ok := a.Registry().Lookup("rules"); ok {
		t.Fatal("inactive command loaded")
	}
	cmds, _ := a.Repository().ListCommands(ctx, false)
	for _, c := range cmds {
		c.IsActive = true
		if err := a.Repository().UpdateCommand(ctx, c); err != nil {
			t.Fatal(err)
		}
	}
	if err := a.ReloadCommands(ctx); err != nil {
		t.Fatal(err)
	}
	if _, ok := a.Registry().Lookup("rules"); !ok {
		t.Error("activated command not loaded")
	}
}

func TestConfigManager(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()
	mgr := a.ConfigMgr()

	s := mgr.BotSettings()
	if s.Prefix != "!" || s.OwnerNumber != "1234567890" {
		t.Errorf("defaults = %+v", s)
	}
	if got := mgr.GetInt(domain.ConfigMessageRetentionDays); got != 30 {
		t.Errorf("message retention = %d", got)
	}

	if err := mgr.Set(ctx, domain.ConfigPrefix, " . "); err != nil {
		t.Fatalf("set prefix: %v", err)
	}
	if err := mgr.Set(ctx, domain.ConfigAllowedNumber, "15550001111"); err != nil {
		t.Fatalf("set allowed number: %v", err)
	}
	s = mgr.BotSettings()
	if s.Prefix != "." || s.AllowedNumber != "15550001111" {
		t.Errorf("after set = %+v", s)
	}

	// A second manager over the same table sees the overrides.
	other := NewConfigManager(a.Repository(), a.Config().Bot)
	if err := other.Reload(ctx); err != nil {
		t.Fatal(err)
	}
	if got := other.GetString(domain.ConfigPrefix); got != "." {
		t.Errorf("reloaded prefix = %q", got)
	}

	invalid := []struct {
		key, value string
	}{
		{domain.ConfigPrefix, ""},
		{domain.ConfigPrefix, "a b"},
		{domain.ConfigOwnerNumber, "0123"},
		{domain.ConfigSessionRetentionDays, "0"},
		{domain.ConfigMessageRetentionDays, "ten"},
		{"unknown", "x"},
	}
	for _, tc := range invalid {
		if err := mgr.Set(ctx, tc.key, tc.value); err == nil {
			t.Errorf("Set(%q, %q) accepted", tc.key, tc.value)
		}
	}
	if err := mgr.Set(ctx, domain.ConfigOwnerNumber, "12"); !errors.Is(err, bot.ErrInvalidPhoneNumber) {
		t.Errorf("owner number error = %v", err)
	}
	if got := mgr.GetString(domain.ConfigPrefix); got != "." {
		t.Errorf("rejected write changed prefix to %q", got)
	}
}

func TestSchedClearExpireData(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()
	repo := a.Repository()

	for _, phone := range []string{"15550000001", "15550000002", "15550000003"} {
		if _, err := repo.CreateSession(ctx, phone, "session_"+phone); err != nil {
			t.Fatal(err)
		}
	}
	connected := true
	if _, err := repo.UpdateSession(ctx, "15550000003", store.SessionUpdate{IsConnected: &connected}); err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-10 * 24 * time.Hour)
	a.DB().Model(&domain.BotSession{}).
		Where("phone_number IN ?", []string{"15550000001", "15550000003"}).
		UpdateColumn("updated_at", old)

	for i, ts := range []time.Time{time.Now().Add(-40 * 24 * time.Hour), time.Now()} {
		msg := &domain.BotMessage{MessageId: fmt.Sprintf("m%d", i), ChatId: "c", Content: "x", Timestamp: ts}
		if err := repo.SaveMessage(ctx, msg); err != nil {
			t.Fatal(err)
		}
	}

	a.SchedClearExpireData()

	sessions, _ := repo.ListSessions(ctx)
	if len(sessions) != 2 {
		t.Fatalf("sessions left = %d, want 2", len(sessions))
	}
	for _, s := range sessions {
		if s.PhoneNumber == "15550000001" {
			t.Error("stale disconnected session kept")
		}
	}
	msgs, _ := repo.ListMessages(ctx, store.MessageFilter{})
	if len(msgs) != 1 || msgs[0].MessageId != "m1" {
		t.Errorf("messages left = %+v", msgs)
	}
}

func TestResetSession(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()
	repo := a.Repository()

	if ok, err := a.ResetSession(ctx, "15550000001"); ok || err != nil {
		t.Errorf("missing session: %v %v", ok, err)
	}
	if _, err := repo.CreateSession(ctx, "15550000001", "s1"); err != nil {
		t.Fatal(err)
	}
	connected := true
	if _, err := repo.UpdateSession(ctx, "15550000001", store.SessionUpdate{IsConnected: &connected}); err != nil {
		t.Fatal(err)
	}
	if ok, _ := a.ResetSession(ctx, "15550000001"); ok {
		t.Error("connected session deleted")
	}
	connected = false
	if _, err := repo.UpdateSession(ctx, "15550000001", store.SessionUpdate{IsConnected: &connected}); err != nil {
		t.Fatal(err)
	}
	if ok, err := a.ResetSession(ctx, "15550000001"); !ok || err != nil {
		t.Errorf("disconnected session: %v %v", ok, err)
	}
}

func TestSetupResetsStaleConnections(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()
	repo := a.Repository()

	if _, err := repo.CreateSession(ctx, "15550000002", "s2"); err != nil {
		t.Fatal(err)
	}
	connected := true
	if _, err := repo.UpdateSession(ctx, "15550000002", store.SessionUpdate{IsConnected: &connected}); err != nil {
		t.Fatal(err)
	}

	// A restart on the same database starts without a client.
	if err := a.Setup(ctx, nil, nil); err != nil {
		t.Fatalf("setup: %v", err)
	}
	sess, err := a.Repository().GetSession(ctx, "15550000002")
	if err != nil {
		t.Fatal(err)
	}
	if sess.IsConnected {
		t.Errorf("stale session still connected after setup")
	}
	if ok, err := a.ResetSession(ctx, "15550000002"); !ok || err != nil {
		t.Errorf("reset after restart: %v %v", ok, err)
	}
}

func TestDispatcherUptimeFromProcessStart(t *testing.T) {
	a := newTestApp(t)
	a.started = time.Now().Add(-time.Hour)
	if err := a.Setup(context.Background(), nil, nil); err != nil {
		t.Fatalf("setup: %v", err)
	}
	client := &replyClient{}
	raw := transport.RawMessage{
		ID:      "U1",
		ChatID:  "15559998888@s.whatsapp.net",
		Content: &transport.Content{Kind: transport.KindConversation, Conversation: "!stats"},
	}
	resp, err := a.Dispatcher().Dispatch(context.Background(), client, bot.Normalize(raw, a.ConfigMgr().BotSettings(), client))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(resp, "Uptime: 36") {
		t.Errorf("uptime not measured from process start:\n%s", resp)
	}
}
