package bot

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"

	"github.com/talkincode/wabot/internal/transport"
	"github.com/talkincode/wabot/pkg/common"
)

// Chat id suffixes and the synthetic identities used for reply quoting.
const (
	groupSuffix      = "@g.us"
	privateSuffix    = "@s.whatsapp.net"
	newsletterSuffix = "@newsletter"
	StoryChatID      = "status@broadcast"
	quoteParticipant = "0@s.whatsapp.net"
)

// MessageSender is the part of a transport client needed to answer a message.
type MessageSender interface {
	SendMessage(ctx context.Context, chatID string, msg transport.OutgoingText) (transport.SendResult, error)
}

// CanonicalMessage is the normalized view of an inbound message.
type CanonicalMessage struct {
	ID     string
	ChatID string

	IsGroup      bool
	IsPrivate    bool
	IsStory      bool
	IsNewsletter bool

	// SenderID is empty for newsletter messages.
	SenderID  string
	FromMe    bool
	IsOwner   bool
	IsPremium bool
	PushName  string

	Type transport.ContentKind
	// Body favors machine-readable reply ids, Text favors human-readable content.
	Body string
	Text string

	IsCommand bool
	Cmd       string
	Args      []string

	// Reply sends text to the originating chat as a quoted message.
	Reply func(ctx context.Context, text string) error
}

type contentField func(c *transport.Content) string

var bodyFields = []contentField{
	func(c *transport.Content) string { return c.Conversation },
	func(c *transport.Content) string { return c.Caption },
	func(c *transport.Content) string { return c.Text },
	func(c *transport.Content) string { return c.SelectedRowID },
	func(c *transport.Content) string { return c.SelectedButtonID },
	paramsID,
}

var textFields = []contentField{
	func(c *transport.Content) string { return c.Conversation },
	func(c *transport.Content) string { return c.Caption },
	func(c *transport.Content) string { return c.Text },
	func(c *transport.Content) string { return c.Description },
	func(c *transport.Content) string { return c.Title },
	func(c *transport.Content) string { return c.ContentText },
	func(c *transport.Content) string { return c.SelectedDisplayText },
}

// paramsID reads "id" from an interactive reply payload. Malformed JSON yields "".
func paramsID(c *transport.Content) string {
	if c.ParamsJSON == "" {
		return ""
	}
	v := jsoniter.Get([]byte(c.ParamsJSON), "id")
	if v.LastError() != nil {
		return ""
	}
	return v.ToString()
}

func firstField(c *transport.Content, fields []contentField) string {
	if c == nil {
		return ""
	}
	for _, f := range fields {
		if s := f(c); s != "" {
			return s
		}
	}
	return ""
}

var markupStripper = strings.NewReplacer("<", "", ">", "")

// SanitizeInput strips angle brackets.
func SanitizeInput(s string) string {
	return markupStripper.Replace(s)
}

// Normalize converts a raw message into a CanonicalMessage. sender backs the
// Reply capability and may be nil when replies are not needed.
func Normalize(raw transport.RawMessage, settings Settings, sender MessageSender) *CanonicalMessage {
	settings = settings.withDefaults()
	chatID := raw.ChatID
	m := &CanonicalMessage{
		ID:           raw.ID,
		ChatID:       chatID,
		IsGroup:      strings.HasSuffix(chatID, groupSuffix),
		IsPrivate:    strings.HasSuffix(chatID, privateSuffix),
		IsStory:      chatID == StoryChatID,
		IsNewsletter: strings.HasSuffix(chatID, newsletterSuffix),
		FromMe:       raw.FromMe,
		PushName:     raw.PushName,
		Type:         transport.KindUnknown,
	}

	switch {
	case m.IsNewsletter:
		m.SenderID = ""
	case m.IsGroup || m.IsStory:
		m.SenderID = raw.Participant
		if m.SenderID == "" {
			m.SenderID = chatID
		}
	default:
		m.SenderID = chatID
	}
	m.IsOwner = settings.OwnerNumber != "" && common.JIDUser(m.SenderID) == settings.OwnerNumber

	if raw.Content != nil {
		m.Type = raw.Content.Kind
	}
	m.Body = SanitizeInput(firstField(raw.Content, bodyFields))
	m.Text = SanitizeInput(firstField(raw.Content, textFields))

	m.IsCommand, m.Cmd, m.Args = ParseCommand(m.Body, settings.Prefix)
	m.Reply = replyFunc(sender, m.ID, chatID)
	return m
}

// ParseCommand splits a message body into command name and arguments. The
// command name is NFKC-normalized and lower-cased; each argument is NFKC-normalized.
func ParseCommand(body, prefix string) (isCommand bool, cmd string, args []string) {
	trimmed := strings.TrimSpace(body)
	isCommand = prefix != "" && strings.HasPrefix(trimmed, prefix)

	fields := strings.Fields(trimmed)
	if len(fields) > 1 {
		args = make([]string, 0, len(fields)-1)
		for _, f := range fields[1:] {
			if a := strings.TrimSpace(norm.NFKC.String(f)); a != "" {
				args = append(args, a)
			}
		}
	}
	if !isCommand {
		return false, "", args
	}

	rest := strings.Replace(norm.NFKC.String(trimmed), prefix, "", 1)
	if i := strings.IndexFunc(rest, unicode.IsSpace); i >= 0 {
		rest = rest[:i]
	}
	return true, strings.ToLower(rest), args
}

func replyFunc(sender MessageSender, id, chatID string) func(ctx context.Context, text string) error {
	return func(ctx context.Context, text string) error {
		if sender == nil {
			return fmt.Errorf("%w: no client bound to message %s", ErrTransportFailure, id)
		}
		_, err := sender.SendMessage(ctx, chatID, transport.OutgoingText{
			Text: text,
			Quoted: &transport.QuotedMessage{
				ID:           id,
				RemoteJID:    StoryChatID,
				Participant:  quoteParticipant,
				Conversation: "💬 " + text,
			},
		})
		if err != nil {
			zap.L().Error("send reply failed",
				zap.String("namespace", "bot"),
				zap.String("chat_id", chatID),
				zap.Error(err))
			return fmt.Errorf("%w: %w", ErrTransportFailure, err)
		}
		return nil
	}
}
