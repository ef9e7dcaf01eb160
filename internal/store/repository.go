// Package store persists sessions, the message audit log, custom commands
// and runtime config overrides.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/talkincode/wabot/internal/domain"
)

// ErrNotFound is returned when a keyed lookup matches no row.
var ErrNotFound = errors.New("store: record not found")

// DefaultMessageLimit caps message listings when the caller gives no limit.
const DefaultMessageLimit = 50

// SessionUpdate lists the session columns to change. Nil fields are left untouched.
type SessionUpdate struct {
	SessionId    *string
	IsConnected  *bool
	PairingCode  *string
	ClearPairing bool
	LastActivity *time.Time
}

// MessageFilter narrows a message listing.
type MessageFilter struct {
	ChatId string
	Since  time.Time
	Limit  int
}

// SessionRepository handles bot session rows keyed by phone number
type SessionRepository interface {
	// CreateSession inserts a disconnected session for phoneNumber
	CreateSession(ctx context.Context, phoneNumber, sessionId string) (*domain.BotSession, error)

	// GetSession returns ErrNotFound when no row exists for phoneNumber
	GetSession(ctx context.Context, phoneNumber string) (*domain.BotSession, error)

	// UpdateSession applies the update and returns the fresh row
	UpdateSession(ctx context.Context, phoneNumber string, update SessionUpdate) (*domain.BotSession, error)

	// DeleteSession reports whether a row was removed
	DeleteSession(ctx context.Context, phoneNumber string) (bool, error)

	// ListSessions returns all sessions, newest first
	ListSessions(ctx context.Context) ([]*domain.BotSession, error)

	// CleanupSessions removes disconnected sessions not updated within retention
	CleanupSessions(ctx context.Context, retention time.Duration) (int64, error)

	// ResetConnections clears the connected flag on every row
	ResetConnections(ctx context.Context) (int64, error)
}

// MessageRepository handles the append-only message audit log
type MessageRepository interface {
	SaveMessage(ctx context.Context, msg *domain.BotMessage) error
	ListMessages(ctx context.Context, filter MessageFilter) ([]*domain.BotMessage, error)
	MessageStats(ctx context.Context) (*domain.MessageStats, error)
	CleanupMessages(ctx context.Context, retention time.Duration) (int64, error)
}

// CommandRepository handles custom command rows
type CommandRepository interface {
	CreateCommand(ctx context.Context, cmd *domain.BotCommand) error
	GetCommand(ctx context.Context, id int64) (*domain.BotCommand, error)
	UpdateCommand(ctx context.Context, cmd *domain.BotCommand) error
	DeleteCommand(ctx context.Context, id int64) (bool, error)
	ListCommands(ctx context.Context, activeOnly bool) ([]*domain.BotCommand, error)
}

// ConfigRepository handles key/value runtime overrides
type ConfigRepository interface {
	GetConfig(ctx context.Context, key string) (string, error)
	SetConfig(ctx context.Context, key, value string) error
	ListConfigs(ctx context.Context) (map[string]string, error)
}

// Repository is the full store contract used by the bot.
type Repository interface {
	SessionRepository
	MessageRepository
	CommandRepository
	ConfigRepository
}
