// Package transport defines the contract between the bot and the messaging
// client library: the client capability set, the lifecycle events it emits
// and the raw inbound message shape.
package transport

import (
	"context"
	"time"

	"github.com/talkincode/wabot/internal/credentials"
)

// Event topics, one per event stream of a client.
const (
	TopicConnectionUpdate = "connection.update"
	TopicCredsUpdate      = "creds.update"
	TopicMessagesUpsert   = "messages.upsert"
)

// ConnectionState is the state carried by a connection update.
type ConnectionState string

const (
	StateConnecting ConnectionState = "connecting"
	StateOpen       ConnectionState = "open"
	StateClose      ConnectionState = "close"
)

// StatusUnauthorized is the close status code for revoked or expired credentials.
const StatusUnauthorized = 401

// CloseReason is the failure payload of a close event.
type CloseReason struct {
	StatusCode int
	Error      string
	Message    string
}

// Unauthorized reports whether the close was caused by invalid credentials.
func (r *CloseReason) Unauthorized() bool {
	return r != nil && r.StatusCode == StatusUnauthorized && r.Error == "Unauthorized"
}

// ConnectionUpdate is delivered on TopicConnectionUpdate.
type ConnectionUpdate struct {
	State  ConnectionState
	Reason *CloseReason
}

// CredsUpdate is delivered on TopicCredsUpdate whenever credentials change.
type CredsUpdate struct {
	ID string
}

// MessagesUpsert is delivered on TopicMessagesUpsert with one batch of messages.
type MessagesUpsert struct {
	Messages []RawMessage
}

// Handlers receives the three event streams of a client. Nil members are skipped.
type Handlers struct {
	ConnectionUpdate func(ConnectionUpdate)
	CredsUpdate      func(CredsUpdate)
	MessagesUpsert   func(MessagesUpsert)
}

// QuotedMessage describes the message an outgoing text quotes.
type QuotedMessage struct {
	ID           string
	RemoteJID    string
	Participant  string
	FromMe       bool
	Conversation string
}

// OutgoingText is a text message, optionally quoting another message.
type OutgoingText struct {
	Text   string
	Quoted *QuotedMessage
}

// SendResult identifies a delivered message.
type SendResult struct {
	ID        string
	Timestamp time.Time
}

// Client is one authenticated connection to the messaging network.
type Client interface {
	// Subscribe registers event handlers. It must be called before Connect.
	Subscribe(h Handlers)
	Connect(ctx context.Context) error
	RequestPairingCode(ctx context.Context, phoneNumber string) (string, error)
	SendMessage(ctx context.Context, chatID string, msg OutgoingText) (SendResult, error)
	Logout(ctx context.Context) error
	// Close drops the connection without logging out.
	Close()
	// Identity is the authenticated user id ("123456789:12@s.whatsapp.net"), empty before login.
	Identity() string
	Registered() bool
}

// Options configures client construction.
type Options struct {
	// PrintQR renders login QR codes to the terminal; false in pairing-code mode.
	PrintQR bool
	// IgnoreNewsletters drops events from channel/newsletter chats.
	IgnoreNewsletters bool
}

// Factory builds clients from credential bundles.
type Factory interface {
	NewClient(ctx context.Context, bundle credentials.Bundle, opts Options) (Client, error)
}
