package bot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/talkincode/wabot/internal/credentials"
	"github.com/talkincode/wabot/internal/store"
	"github.com/talkincode/wabot/internal/transport"
	"github.com/talkincode/wabot/pkg/common"
)

// binding is the client a set of handlers was wired to.
type binding struct {
	client      transport.Client
	bundle      credentials.Bundle
	phoneNumber string
}

// Synchronizer reacts to the connection, credential and message events of a
// client. Handlers return errors; wire logs them by kind.
type Synchronizer struct {
	sessions   store.SessionRepository
	vault      credentials.Vault
	dispatcher *Dispatcher
	settings   SettingsProvider
	state      *connState
	now        func() time.Time
}

func newSynchronizer(sessions store.SessionRepository, vault credentials.Vault, dispatcher *Dispatcher, settings SettingsProvider, state *connState) *Synchronizer {
	return &Synchronizer{
		sessions:   sessions,
		vault:      vault,
		dispatcher: dispatcher,
		settings:   settings,
		state:      state,
		now:        time.Now,
	}
}

// Wire subscribes the handlers for one client.
func (s *Synchronizer) Wire(client transport.Client, bundle credentials.Bundle, phoneNumber string) {
	b := &binding{client: client, bundle: bundle, phoneNumber: phoneNumber}
	client.Subscribe(transport.Handlers{
		ConnectionUpdate: func(u transport.ConnectionUpdate) {
			s.report("connection.update", b, s.onConnectionUpdate(context.Background(), b, u))
		},
		CredsUpdate: func(u transport.CredsUpdate) {
			s.report("creds.update", b, s.onCredsUpdate(context.Background(), b, u))
		},
		MessagesUpsert: func(u transport.MessagesUpsert) {
			s.report("messages.upsert", b, s.onMessagesUpsert(context.Background(), b, u))
		},
	})
}

func (s *Synchronizer) report(event string, b *binding, err error) {
	if err == nil {
		return
	}
	fields := []zap.Field{
		zap.String("namespace", "bot"),
		zap.String("event", event),
		zap.String("phone_number", b.phoneNumber),
		zap.Error(err),
	}
	switch {
	case errors.Is(err, ErrAuthExpired), errors.Is(err, ErrPolicyViolation):
		zap.L().Warn("connection terminated", fields...)
	default:
		zap.L().Error("event handling failed", fields...)
	}
}

func (s *Synchronizer) onConnectionUpdate(ctx context.Context, b *binding, u transport.ConnectionUpdate) error {
	switch u.State {
	case transport.StateClose:
		return s.onClose(ctx, b, u.Reason)
	case transport.StateOpen:
		return s.onOpen(ctx, b)
	}
	return nil
}

func (s *Synchronizer) onClose(ctx context.Context, b *binding, reason *transport.CloseReason) error {
	fields := []zap.Field{zap.String("namespace", "bot"), zap.String("phone_number", b.phoneNumber)}
	if reason != nil {
		fields = append(fields, zap.Int("status_code", reason.StatusCode), zap.String("reason", reason.Error))
	}
	zap.L().Info("connection closed", fields...)

	var expired error
	if reason.Unauthorized() {
		expired = s.purge(b, fmt.Errorf("%w: session %s", ErrAuthExpired, b.bundle.SessionID()))
	}
	return errors.Join(expired, s.markDisconnected(ctx, b))
}

// purge drops b as the current client and removes its credentials.
func (s *Synchronizer) purge(b *binding, cause error) error {
	s.state.expire(b.client)
	_ = b.bundle.Close()
	if err := s.vault.Remove(b.bundle.SessionID()); err != nil {
		return fmt.Errorf("%w: remove credentials: %w", cause, err)
	}
	return cause
}

func (s *Synchronizer) markDisconnected(ctx context.Context, b *binding) error {
	now := s.now()
	_, err := s.sessions.UpdateSession(ctx, b.phoneNumber, store.SessionUpdate{
		IsConnected:  boolPtr(false),
		LastActivity: &now,
	})
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("mark session disconnected: %w", err)
	}
	return nil
}

func (s *Synchronizer) onOpen(ctx context.Context, b *binding) error {
	identity := b.client.Identity()
	zap.L().Info("bot connected",
		zap.String("namespace", "bot"),
		zap.String("phone_number", b.phoneNumber),
		zap.String("identity", common.JIDUser(identity)))

	now := s.now()
	if _, err := s.sessions.UpdateSession(ctx, b.phoneNumber, store.SessionUpdate{
		IsConnected:  boolPtr(true),
		ClearPairing: true,
		LastActivity: &now,
	}); err != nil {
		return fmt.Errorf("mark session connected: %w", err)
	}

	allowed := currentSettings(s.settings).AllowedNumber
	if allowed == "" || allowed == common.JIDUser(identity) {
		return nil
	}
	violation := fmt.Errorf("%w: connected as %s, allowed %s", ErrPolicyViolation, common.JIDUser(identity), allowed)
	if err := b.client.Logout(ctx); err != nil {
		return errors.Join(violation, fmt.Errorf("%w: logout: %w", ErrTransportFailure, err))
	}
	// A requested logout raises no close event.
	return errors.Join(s.purge(b, violation), s.markDisconnected(ctx, b))
}

func (s *Synchronizer) onCredsUpdate(ctx context.Context, b *binding, _ transport.CredsUpdate) error {
	if err := b.bundle.Save(ctx); err != nil {
		return fmt.Errorf("save credentials %s: %w", b.bundle.SessionID(), err)
	}
	return nil
}

// onMessagesUpsert handles only the first message of a batch.
func (s *Synchronizer) onMessagesUpsert(ctx context.Context, b *binding, u transport.MessagesUpsert) error {
	if len(u.Messages) == 0 {
		return nil
	}
	raw := u.Messages[0]
	if raw.Content == nil {
		return nil
	}
	msg := Normalize(raw, currentSettings(s.settings), b.client)
	if _, err := s.dispatcher.Dispatch(ctx, b.client, msg); err != nil {
		return fmt.Errorf("dispatch message %s: %w", raw.ID, err)
	}
	return nil
}

func boolPtr(b bool) *bool {
	return &b
}
