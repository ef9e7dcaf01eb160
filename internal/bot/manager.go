package bot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/talkincode/wabot/internal/credentials"
	"github.com/talkincode/wabot/internal/domain"
	"github.com/talkincode/wabot/internal/store"
	"github.com/talkincode/wabot/internal/transport"
	"github.com/talkincode/wabot/pkg/common"
)

// ConnectResult is returned by a successful Connect.
type ConnectResult struct {
	// PairingCode is set when a pairing code was requested for an unregistered bundle.
	PairingCode string
	Session     *domain.BotSession
}

// Manager owns the single transport client of the process. Connect calls are
// serialized: a call arriving while another setup is in progress waits for it
// to settle first.
type Manager struct {
	sessions store.SessionRepository
	vault    credentials.Vault
	factory  transport.Factory
	sync     *Synchronizer
	state    *connState
}

func NewManager(repo store.Repository, vault credentials.Vault, factory transport.Factory, dispatcher *Dispatcher, settings SettingsProvider) *Manager {
	state := &connState{}
	return &Manager{
		sessions: repo,
		vault:    vault,
		factory:  factory,
		sync:     newSynchronizer(repo, vault, dispatcher, settings, state),
		state:    state,
	}
}

// Connect creates a fresh credential bundle and client for phoneNumber and
// starts connecting. With usePairingCode an unregistered bundle gets a
// pairing code instead of a terminal QR code.
func (m *Manager) Connect(ctx context.Context, phoneNumber string, usePairingCode bool) (*ConnectResult, error) {
	if !ValidPhoneNumber(phoneNumber) {
		return nil, ErrInvalidPhoneNumber
	}
	f, existing, err := m.acquire(ctx, phoneNumber)
	if err != nil {
		return nil, err
	}
	result, err := m.setup(ctx, f, phoneNumber, usePairingCode, existing)
	if err != nil {
		m.state.abort(f)
		zap.L().Error("bot connection failed",
			zap.String("namespace", "bot"),
			zap.String("phone_number", phoneNumber),
			zap.Error(err))
		return nil, err
	}
	return result, nil
}

// acquire waits for any setup in progress, then claims the flight marker.
func (m *Manager) acquire(ctx context.Context, phoneNumber string) (*flight, *domain.BotSession, error) {
	for {
		if pending := m.state.pending(); pending != nil {
			select {
			case <-pending.done:
			case <-ctx.Done():
				return nil, nil, ctx.Err()
			}
		}
		existing, err := m.sessions.GetSession(ctx, phoneNumber)
		switch {
		case errors.Is(err, store.ErrNotFound):
			existing = nil
		case err != nil:
			return nil, nil, err
		case existing.IsConnected:
			return nil, nil, ErrAlreadyConnected
		}
		if f := m.state.begin(); f != nil {
			return f, existing, nil
		}
	}
}

func (m *Manager) setup(ctx context.Context, f *flight, phoneNumber string, usePairingCode bool, existing *domain.BotSession) (*ConnectResult, error) {
	sessionID := common.NewSessionID()
	bundle, err := m.vault.Open(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("open credentials: %w", err)
	}
	client, err := m.factory.NewClient(ctx, bundle, transport.Options{
		PrintQR:           !usePairingCode,
		IgnoreNewsletters: true,
	})
	if err != nil {
		m.discard(nil, bundle)
		return nil, fmt.Errorf("create client: %w", err)
	}

	var session *domain.BotSession
	if existing == nil {
		session, err = m.sessions.CreateSession(ctx, phoneNumber, sessionID)
	} else {
		session, err = m.sessions.UpdateSession(ctx, phoneNumber, store.SessionUpdate{
			SessionId:   &sessionID,
			IsConnected: boolPtr(false),
		})
	}
	if err != nil {
		m.discard(client, bundle)
		return nil, fmt.Errorf("save session: %w", err)
	}

	m.sync.Wire(client, bundle, phoneNumber)
	if err := client.Connect(ctx); err != nil {
		m.discard(client, bundle)
		return nil, fmt.Errorf("%w: connect: %w", ErrTransportFailure, err)
	}

	result := &ConnectResult{Session: session}
	if usePairingCode && !bundle.Registered() {
		code, err := client.RequestPairingCode(ctx, phoneNumber)
		if err != nil {
			m.discard(client, bundle)
			return nil, fmt.Errorf("%w: request pairing code: %w", ErrTransportFailure, err)
		}
		zap.L().Info("pairing code generated",
			zap.String("namespace", "bot"),
			zap.String("phone_number", phoneNumber),
			zap.String("pairing_code", code))
		now := time.Now()
		if updated, err := m.sessions.UpdateSession(ctx, phoneNumber, store.SessionUpdate{
			PairingCode:  &code,
			LastActivity: &now,
		}); err != nil {
			zap.L().Error("save pairing code failed", zap.String("namespace", "bot"), zap.Error(err))
		} else {
			session = updated
		}
		result.PairingCode = code
		result.Session = session
	}

	if old := m.state.finish(f, client, bundle, session); old != nil {
		old.client.Close()
		if old.bundle != nil {
			_ = old.bundle.Close()
		}
		// Closing a client raises no close event, so its row is marked here.
		// A row of the same number now belongs to the new client.
		if old.session != nil && old.session.PhoneNumber != phoneNumber {
			m.markDisconnected(ctx, old.session.PhoneNumber)
		}
	}
	return result, nil
}

func (m *Manager) markDisconnected(ctx context.Context, phoneNumber string) {
	now := time.Now()
	if _, err := m.sessions.UpdateSession(ctx, phoneNumber, store.SessionUpdate{
		IsConnected:  boolPtr(false),
		LastActivity: &now,
	}); err != nil && !errors.Is(err, store.ErrNotFound) {
		zap.L().Error("mark session disconnected failed",
			zap.String("namespace", "bot"),
			zap.String("phone_number", phoneNumber),
			zap.Error(err))
	}
}

// discard drops a half-built client and its bundle.
func (m *Manager) discard(client transport.Client, bundle credentials.Bundle) {
	if client != nil {
		client.Close()
	}
	_ = bundle.Close()
	if err := m.vault.Remove(bundle.SessionID()); err != nil {
		zap.L().Warn("remove credentials failed",
			zap.String("namespace", "bot"),
			zap.String("session_id", bundle.SessionID()),
			zap.Error(err))
	}
}

// Disconnect logs the current client out. Without a client it does nothing.
func (m *Manager) Disconnect(ctx context.Context) error {
	client, bundle, session := m.state.release()
	if client == nil {
		return nil
	}
	logoutErr := client.Logout(ctx)
	if logoutErr != nil {
		client.Close()
	}
	if bundle != nil {
		_ = bundle.Close()
	}
	if session != nil {
		m.markDisconnected(ctx, session.PhoneNumber)
	}
	if logoutErr != nil {
		zap.L().Error("bot logout failed", zap.String("namespace", "bot"), zap.Error(logoutErr))
		return fmt.Errorf("%w: logout: %w", ErrTransportFailure, logoutErr)
	}
	zap.L().Info("bot disconnected", zap.String("namespace", "bot"))
	return nil
}

// Shutdown closes the current client without logging out, so the
// credentials stay paired for the next start.
func (m *Manager) Shutdown(ctx context.Context) {
	client, bundle, session := m.state.release()
	if client == nil {
		return
	}
	client.Close()
	if bundle != nil {
		_ = bundle.Close()
	}
	if session != nil {
		m.markDisconnected(ctx, session.PhoneNumber)
	}
}

// CurrentSession is the session of the last successful Connect, or nil.
func (m *Manager) CurrentSession() *domain.BotSession {
	_, session, _ := m.state.current()
	return session
}

// IsConnected reports whether a client handle exists and its connection
// marker is still set. It does not mean the connection is open yet.
func (m *Manager) IsConnected() bool {
	_, _, ok := m.state.current()
	return ok
}

// Client returns the current client handle, or nil.
func (m *Manager) Client() transport.Client {
	c, _, _ := m.state.current()
	return c
}
