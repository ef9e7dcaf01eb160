package bot

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/talkincode/wabot/internal/store"
	"github.com/talkincode/wabot/internal/transport"
)

type managerFixture struct {
	repo    *store.GormRepository
	vault   *fakeVault
	factory *fakeFactory
	rec     *recorder
	mgr     *Manager
}

func newManagerFixture(t *testing.T, settings Settings) *managerFixture {
	t.Helper()
	rec := &recorder{}
	repo := newTestRepository(t)
	vault := newFakeVault(t, rec)
	factory := &fakeFactory{identity: "15550001111:3@s.whatsapp.net", rec: rec}
	provider := StaticSettings(settings)
	dispatcher := NewDispatcher(repo, NewRegistry(), provider)
	return &managerFixture{
		repo:    repo,
		vault:   vault,
		factory: factory,
		rec:     rec,
		mgr:     NewManager(repo, vault, factory, dispatcher, provider),
	}
}

func TestConnectRejectsInvalidNumbers(t *testing.T) {
	fx := newManagerFixture(t, testSettings)
	ctx := context.Background()
	for _, phone := range []string{"", "0123456789", "123456", "1234567890123456", "12a4567", "+15550001111", " 1555000111"} {
		if _, err := fx.mgr.Connect(ctx, phone, true); !errors.Is(err, ErrInvalidPhoneNumber) {
			t.Errorf("Connect(%q) = %v, want ErrInvalidPhoneNumber", phone, err)
		}
	}
	sessions, err := fx.repo.ListSessions(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 0 {
		t.Errorf("invalid numbers created %d sessions", len(sessions))
	}
	if len(fx.factory.clients) != 0 {
		t.Errorf("invalid numbers created clients")
	}
}

func TestConnectWithPairingCode(t *testing.T) {
	fx := newManagerFixture(t, testSettings)
	ctx := context.Background()

	if fx.mgr.IsConnected() {
		t.Fatal("connected before Connect")
	}
	res, err := fx.mgr.Connect(ctx, "15550001111", true)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if res.PairingCode != "ABCD1234" {
		t.Errorf("pairing code = %q", res.PairingCode)
	}
	sess, err := fx.repo.GetSession(ctx, "15550001111")
	if err != nil {
		t.Fatal(err)
	}
	if sess.PairingCode == nil || *sess.PairingCode != "ABCD1234" || sess.IsConnected {
		t.Errorf("unexpected session %+v", sess)
	}
	if !exists(fx.vault.Dir(sess.SessionId)) {
		t.Errorf("credential dir not created")
	}
	if !fx.mgr.IsConnected() {
		t.Errorf("IsConnected should be true after setup")
	}
	if cur := fx.mgr.CurrentSession(); cur == nil || cur.PhoneNumber != "15550001111" {
		t.Errorf("current session = %+v", cur)
	}

	fx.factory.last().emitConnection(transport.ConnectionUpdate{State: transport.StateOpen})
	sess, _ = fx.repo.GetSession(ctx, "15550001111")
	if !sess.IsConnected || sess.PairingCode != nil {
		t.Errorf("open should mark connected and clear pairing code: %+v", sess)
	}
}

func TestConnectWithoutPairingCode(t *testing.T) {
	fx := newManagerFixture(t, testSettings)
	res, err := fx.mgr.Connect(context.Background(), "15550001111", false)
	if err != nil {
		t.Fatal(err)
	}
	if res.PairingCode != "" {
		t.Errorf("unexpected pairing code %q", res.PairingCode)
	}
	for _, e := range fx.rec.list() {
		if strings.HasPrefix(e, "pair") {
			t.Errorf("pairing requested in qr mode")
		}
	}
}

func TestConnectAlreadyConnected(t *testing.T) {
	fx := newManagerFixture(t, testSettings)
	ctx := context.Background()
	if _, err := fx.mgr.Connect(ctx, "15550001111", false); err != nil {
		t.Fatal(err)
	}
	first := fx.factory.last()
	first.emitConnection(transport.ConnectionUpdate{State: transport.StateOpen})
	sess, _ := fx.repo.GetSession(ctx, "15550001111")

	if _, err := fx.mgr.Connect(ctx, "15550001111", false); !errors.Is(err, ErrAlreadyConnected) {
		t.Fatalf("second connect = %v, want ErrAlreadyConnected", err)
	}
	if len(fx.factory.clients) != 1 {
		t.Errorf("second connect created a client")
	}
	if !exists(fx.vault.Dir(sess.SessionId)) {
		t.Errorf("existing credentials were touched")
	}
	if fx.mgr.Client() != first {
		t.Errorf("client handle replaced")
	}
}

func TestConnectSingleFlight(t *testing.T) {
	fx := newManagerFixture(t, testSettings)
	fx.factory.delay = 20 * time.Millisecond
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for _, phone := range []string{"15550001111", "15550002222"} {
		wg.Add(1)
		go func(phone string) {
			defer wg.Done()
			_, err := fx.mgr.Connect(ctx, phone, true)
			errs <- err
		}(phone)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("connect: %v", err)
		}
	}

	// Each setup runs open -> pair before the next one opens a bundle.
	events := fx.rec.list()
	if len(events) != 4 {
		t.Fatalf("events = %q", events)
	}
	for i := 0; i < len(events); i += 2 {
		if events[i] != "open" || !strings.HasPrefix(events[i+1], "pair ") {
			t.Fatalf("interleaved setups: %q", events)
		}
	}

	clients := fx.factory.clients
	if len(clients) != 2 {
		t.Fatalf("clients = %d", len(clients))
	}
	if !clients[0].closed || clients[1].closed {
		t.Errorf("replaced client must be closed and the new one kept")
	}
	if fx.mgr.Client() != clients[1] {
		t.Errorf("current client is not the latest")
	}
}

func TestConnectWaitHonorsContext(t *testing.T) {
	fx := newManagerFixture(t, testSettings)
	f := fx.mgr.state.begin()
	defer fx.mgr.state.abort(f)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := fx.mgr.Connect(ctx, "15550001111", true); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Connect = %v, want deadline exceeded", err)
	}
}

func TestConnectFailureReleasesFlight(t *testing.T) {
	fx := newManagerFixture(t, testSettings)
	fx.factory.err = errBoom
	ctx := context.Background()
	if _, err := fx.mgr.Connect(ctx, "15550001111", true); !errors.Is(err, errBoom) {
		t.Fatalf("Connect = %v, want boom", err)
	}
	if fx.mgr.IsConnected() || fx.mgr.state.pending() != nil {
		t.Errorf("failed setup left state behind")
	}
	fx.factory.err = nil
	if _, err := fx.mgr.Connect(ctx, "15550001111", true); err != nil {
		t.Errorf("retry after failure: %v", err)
	}
}

func TestAuthExpiredPurgesCredentials(t *testing.T) {
	fx := newManagerFixture(t, testSettings)
	ctx := context.Background()
	if _, err := fx.mgr.Connect(ctx, "15550001111", false); err != nil {
		t.Fatal(err)
	}
	client := fx.factory.last()
	client.emitConnection(transport.ConnectionUpdate{State: transport.StateOpen})
	sess, _ := fx.repo.GetSession(ctx, "15550001111")
	dir := fx.vault.Dir(sess.SessionId)

	client.emitConnection(transport.ConnectionUpdate{
		State:  transport.StateClose,
		Reason: &transport.CloseReason{StatusCode: 401, Error: "Unauthorized"},
	})

	if exists(dir) {
		t.Errorf("credential dir %s still exists", dir)
	}
	sess, _ = fx.repo.GetSession(ctx, "15550001111")
	if sess.IsConnected {
		t.Errorf("session still connected")
	}
	if fx.mgr.IsConnected() || fx.mgr.Client() != nil {
		t.Errorf("connection state not reset")
	}
	if _, err := fx.mgr.Connect(ctx, "15550001111", false); err != nil {
		t.Errorf("reconnect after auth expiry: %v", err)
	}
}

func TestCloseWithoutAuthFailureKeepsCredentials(t *testing.T) {
	fx := newManagerFixture(t, testSettings)
	ctx := context.Background()
	if _, err := fx.mgr.Connect(ctx, "15550001111", false); err != nil {
		t.Fatal(err)
	}
	client := fx.factory.last()
	client.emitConnection(transport.ConnectionUpdate{State: transport.StateOpen})
	client.emitConnection(transport.ConnectionUpdate{
		State:  transport.StateClose,
		Reason: &transport.CloseReason{StatusCode: 428, Error: "Connection Closed"},
	})
	sess, _ := fx.repo.GetSession(ctx, "15550001111")
	if sess.IsConnected {
		t.Errorf("session still connected")
	}
	if !exists(fx.vault.Dir(sess.SessionId)) {
		t.Errorf("credentials removed on a non-auth close")
	}
	if fx.mgr.Client() != client {
		t.Errorf("client handle dropped on a non-auth close")
	}
}

func TestDisconnectWithoutClient(t *testing.T) {
	fx := newManagerFixture(t, testSettings)
	ctx := context.Background()
	if _, err := fx.repo.CreateSession(ctx, "15550001111", "session_old"); err != nil {
		t.Fatal(err)
	}
	before, _ := fx.repo.GetSession(ctx, "15550001111")
	if err := fx.mgr.Disconnect(ctx); err != nil {
		t.Fatalf("Disconnect = %v", err)
	}
	after, _ := fx.repo.GetSession(ctx, "15550001111")
	if !after.UpdatedAt.Equal(before.UpdatedAt) || after.IsConnected != before.IsConnected {
		t.Errorf("session changed: %+v -> %+v", before, after)
	}
}

func TestDisconnect(t *testing.T) {
	fx := newManagerFixture(t, testSettings)
	ctx := context.Background()
	if _, err := fx.mgr.Connect(ctx, "15550001111", false); err != nil {
		t.Fatal(err)
	}
	client := fx.factory.last()
	client.emitConnection(transport.ConnectionUpdate{State: transport.StateOpen})

	if err := fx.mgr.Disconnect(ctx); err != nil {
		t.Fatalf("Disconnect = %v", err)
	}
	if client.logouts != 1 {
		t.Errorf("logouts = %d", client.logouts)
	}
	if fx.mgr.IsConnected() {
		t.Errorf("still connected")
	}
	sess, _ := fx.repo.GetSession(ctx, "15550001111")
	if sess.IsConnected {
		t.Errorf("session still connected")
	}
}

func TestDisconnectLogoutFailure(t *testing.T) {
	fx := newManagerFixture(t, testSettings)
	ctx := context.Background()
	if _, err := fx.mgr.Connect(ctx, "15550001111", false); err != nil {
		t.Fatal(err)
	}
	client := fx.factory.last()
	client.logoutErr = errBoom
	err := fx.mgr.Disconnect(ctx)
	if !errors.Is(err, ErrTransportFailure) || !errors.Is(err, errBoom) {
		t.Errorf("Disconnect = %v", err)
	}
	if !client.closed || fx.mgr.Client() != nil {
		t.Errorf("failed logout must still drop the client")
	}
}

func TestPolicyViolationLogsOut(t *testing.T) {
	settings := testSettings
	settings.AllowedNumber = "15559990000"
	fx := newManagerFixture(t, settings)
	if _, err := fx.mgr.Connect(context.Background(), "15550001111", false); err != nil {
		t.Fatal(err)
	}
	client := fx.factory.last()
	client.emitConnection(transport.ConnectionUpdate{State: transport.StateOpen})
	if client.logouts != 1 {
		t.Errorf("identity mismatch must log out, logouts = %d", client.logouts)
	}
	ctx := context.Background()
	sess, _ := fx.repo.GetSession(ctx, "15550001111")
	if sess.IsConnected {
		t.Errorf("session still connected after policy logout")
	}
	if exists(fx.vault.Dir(sess.SessionId)) {
		t.Errorf("credentials kept after policy logout")
	}
	if fx.mgr.IsConnected() || fx.mgr.Client() != nil {
		t.Errorf("connection state not reset after policy logout")
	}
	if _, err := fx.mgr.Connect(ctx, "15550001111", false); err != nil {
		t.Errorf("reconnect after policy logout: %v", err)
	}

	settings.AllowedNumber = "15550001111"
	fx = newManagerFixture(t, settings)
	if _, err := fx.mgr.Connect(context.Background(), "15550001111", false); err != nil {
		t.Fatal(err)
	}
	client = fx.factory.last()
	client.emitConnection(transport.ConnectionUpdate{State: transport.StateOpen})
	if client.logouts != 0 {
		t.Errorf("allowed identity logged out")
	}
}

func TestConnectOtherNumberReleasesReplacedSession(t *testing.T) {
	fx := newManagerFixture(t, testSettings)
	ctx := context.Background()
	if _, err := fx.mgr.Connect(ctx, "15550001111", false); err != nil {
		t.Fatal(err)
	}
	first := fx.factory.last()
	first.emitConnection(transport.ConnectionUpdate{State: transport.StateOpen})
	before, _ := fx.repo.GetSession(ctx, "15550001111")

	if _, err := fx.mgr.Connect(ctx, "15552223333", false); err != nil {
		t.Fatal(err)
	}
	if !first.closed {
		t.Errorf("replaced client not closed")
	}
	after, _ := fx.repo.GetSession(ctx, "15550001111")
	if after.IsConnected {
		t.Errorf("replaced session still connected")
	}
	if after.LastActivity.IsZero() || after.LastActivity.Before(before.LastActivity) {
		t.Errorf("last activity not refreshed: %v -> %v", before.LastActivity, after.LastActivity)
	}
	if _, err := fx.mgr.Connect(ctx, "15550001111", false); err != nil {
		t.Errorf("reconnect replaced number: %v", err)
	}
}

func TestShutdownKeepsCredentials(t *testing.T) {
	fx := newManagerFixture(t, testSettings)
	ctx := context.Background()
	if _, err := fx.mgr.Connect(ctx, "15550001111", false); err != nil {
		t.Fatal(err)
	}
	client := fx.factory.last()
	client.emitConnection(transport.ConnectionUpdate{State: transport.StateOpen})

	fx.mgr.Shutdown(ctx)
	if !client.closed || client.logouts != 0 {
		t.Errorf("closed = %v, logouts = %d", client.closed, client.logouts)
	}
	if fx.mgr.IsConnected() || fx.mgr.Client() != nil {
		t.Errorf("client kept after shutdown")
	}
	sess, _ := fx.repo.GetSession(ctx, "15550001111")
	if sess.IsConnected {
		t.Errorf("session still connected after shutdown")
	}
	if !exists(fx.vault.Dir(sess.SessionId)) {
		t.Errorf("credentials removed on shutdown")
	}
	fx.mgr.Shutdown(ctx)
}

func TestCredsUpdateSavesBundle(t *testing.T) {
	fx := newManagerFixture(t, testSettings)
	if _, err := fx.mgr.Connect(context.Background(), "15550001111", false); err != nil {
		t.Fatal(err)
	}
	fx.factory.last().handlers.CredsUpdate(transport.CredsUpdate{ID: "15550001111:3@s.whatsapp.net"})
	fx.mgr.state.mu.Lock()
	bundle := fx.mgr.state.bundle.(*fakeBundle)
	fx.mgr.state.mu.Unlock()
	if bundle.saves != 1 {
		t.Errorf("saves = %d", bundle.saves)
	}
}

func TestMessagesUpsertHandlesFirstOnly(t *testing.T) {
	fx := newManagerFixture(t, testSettings)
	ctx := context.Background()
	if _, err := fx.mgr.Connect(ctx, "15550001111", false); err != nil {
		t.Fatal(err)
	}
	client := fx.factory.last()
	msg := func(id, body string) transport.RawMessage {
		return transport.RawMessage{
			ID:      id,
			ChatID:  "15552223333@s.whatsapp.net",
			Content: &transport.Content{Kind: transport.KindConversation, Conversation: body},
		}
	}
	client.emitMessages(msg("first", "!help"), msg("second", "!menu"))
	client.emitMessages(transport.RawMessage{ID: "empty", ChatID: "15552223333@s.whatsapp.net"})
	client.emitMessages()

	rows, err := fx.repo.ListMessages(ctx, store.MessageFilter{})
	if err != nil {
		t.Fatal(err)
	}
	ids := map[string]bool{}
	for _, r := range rows {
		ids[r.MessageId] = true
	}
	if !ids["first"] || !ids["first_response"] || ids["second"] || ids["empty"] || len(rows) != 2 {
		t.Errorf("persisted ids = %v", ids)
	}
	if sent := client.texts(); len(sent) != 1 || !strings.Contains(sent[0], "WhatsApp Bot Help") {
		t.Errorf("sent = %q", sent)
	}
}
