package bot

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"

	"github.com/talkincode/wabot/internal/domain"
	"github.com/talkincode/wabot/internal/transport"
	"github.com/talkincode/wabot/pkg/common"
)

const (
	BotName    = "WhatsApp Bot"
	BotVersion = "1.0.0"

	// ResponseSuffix links a response audit row to the inbound message id.
	ResponseSuffix = "_response"
	// BotSenderID is the sender of response audit rows.
	BotSenderID = "bot"

	timestampLayout = "Jan 2, 2006, 03:04:05 PM"
)

// AuditStore is the store surface used while dispatching.
type AuditStore interface {
	SaveMessage(ctx context.Context, msg *domain.BotMessage) error
	MessageStats(ctx context.Context) (*domain.MessageStats, error)
	ListSessions(ctx context.Context) ([]*domain.BotSession, error)
}

type builtin struct {
	name        string
	description string
	handle      HandlerFunc
}

// Dispatcher persists inbound messages and answers commands. Built-in
// commands are looked up before the custom registry.
type Dispatcher struct {
	store    AuditStore
	registry *Registry
	settings SettingsProvider
	builtins []builtin
	started  time.Time
	now      func() time.Time
	memUsage func() (uint64, error)
}

func NewDispatcher(st AuditStore, registry *Registry, settings SettingsProvider) *Dispatcher {
	if registry == nil {
		registry = NewRegistry()
	}
	d := &Dispatcher{
		store:    st,
		registry: registry,
		settings: settings,
		started:  time.Now(),
		now:      time.Now,
		memUsage: processRSS,
	}
	d.builtins = []builtin{
		{"menu", "Show this menu", d.menu},
		{"ping", "Check bot status", d.ping},
		{"info", "Get bot information", d.info},
		{"help", "Show help information", d.help},
		{"stats", "Show bot statistics", d.stats},
	}
	return d
}

func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// SetStarted sets the start time the stats uptime is measured from. It
// defaults to the creation of the dispatcher.
func (d *Dispatcher) SetStarted(t time.Time) {
	d.started = t
}

// BuiltinNames lists the built-in commands in lookup order.
func (d *Dispatcher) BuiltinNames() []string {
	names := make([]string, len(d.builtins))
	for i, b := range d.builtins {
		names[i] = b.name
	}
	return names
}

// Dispatch records msg and, for commands, runs the handler and delivers its
// response through msg.Reply. It returns the delivered response, "" for
// non-commands. Handler errors become an "Error: ..." reply and are not
// returned; the error result is reserved for store and transport failures.
func (d *Dispatcher) Dispatch(ctx context.Context, client transport.Client, msg *CanonicalMessage) (string, error) {
	start := d.now()
	settings := currentSettings(d.settings)

	inbound := &domain.BotMessage{
		ID:        common.UUIDint64(),
		MessageId: msg.ID,
		ChatId:    msg.ChatID,
		SenderId:  msg.SenderID,
		Content:   msg.Text,
		Timestamp: start,
	}
	if msg.IsCommand {
		inbound.Command = &msg.Cmd
	}
	if err := d.store.SaveMessage(ctx, inbound); err != nil {
		return "", fmt.Errorf("save inbound message %s: %w", msg.ID, err)
	}
	if !msg.IsCommand {
		return "", nil
	}

	zap.L().Info("command received",
		zap.String("namespace", "bot"),
		zap.String("command", msg.Cmd),
		zap.String("sender_id", msg.SenderID))

	req := &Request{Client: client, Msg: msg, Settings: settings, started: start}
	response, err := d.respond(ctx, req)
	if err != nil {
		zap.L().Warn("command failed",
			zap.String("namespace", "bot"),
			zap.String("command", msg.Cmd),
			zap.Error(err))
		response = "Error: " + errorText(err)
		if rerr := msg.Reply(ctx, response); rerr != nil {
			return "", rerr
		}
	}
	if response == "" {
		return "", nil
	}

	out := &domain.BotMessage{
		ID:        common.UUIDint64(),
		MessageId: msg.ID + ResponseSuffix,
		ChatId:    msg.ChatID,
		SenderId:  BotSenderID,
		Content:   response,
		Command:   &msg.Cmd,
		Response:  common.StrPtr(response),
		Timestamp: d.now(),
	}
	if err := d.store.SaveMessage(ctx, out); err != nil {
		return response, fmt.Errorf("save response message %s: %w", out.MessageId, err)
	}
	return response, nil
}

// respond runs the handler and delivers a non-empty response.
func (d *Dispatcher) respond(ctx context.Context, req *Request) (response string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", ErrHandlerFailure, r)
		}
	}()
	response, err = d.lookup(req).Handle(ctx, req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrHandlerFailure, err)
	}
	if response != "" {
		if err = req.Msg.Reply(ctx, response); err != nil {
			return "", err
		}
	}
	return response, nil
}

func (d *Dispatcher) lookup(req *Request) Handler {
	name := req.Msg.Cmd
	for _, b := range d.builtins {
		if b.name == name {
			return b.handle
		}
	}
	if c, ok := d.registry.Lookup(name); ok {
		switch {
		case c.OwnerOnly && !req.Msg.IsOwner:
			return staticText("This command is only available to the bot owner.")
		case c.Premium && !req.Msg.IsPremium:
			return staticText("This command is only available to premium users.")
		}
		return c.Handler
	}
	return staticText(fmt.Sprintf("Command %q not found. Type %shelp for available commands.", name, req.Settings.Prefix))
}

func staticText(s string) Handler {
	return HandlerFunc(func(context.Context, *Request) (string, error) { return s, nil })
}

// errorText is the message of the innermost handler error.
func errorText(err error) string {
	msg := err.Error()
	for _, prefix := range []string{ErrHandlerFailure.Error() + ": ", "panic: "} {
		msg = strings.TrimPrefix(msg, prefix)
	}
	if msg == "" {
		return "Unknown error"
	}
	return msg
}

func (d *Dispatcher) menu(ctx context.Context, req *Request) (string, error) {
	stats, err := d.store.MessageStats(ctx)
	if err != nil {
		return "", err
	}
	p := req.Settings.Prefix
	var sb strings.Builder
	sb.WriteString("*WhatsApp Bot Menu*\n\nAvailable Commands:\n")
	for _, b := range d.builtins {
		fmt.Fprintf(&sb, "%s%s - %s\n", p, b.name, b.description)
	}
	for _, c := range d.registry.Commands() {
		fmt.Fprintf(&sb, "%s%s - %s\n", p, c.Name, c.Description)
	}
	fmt.Fprintf(&sb, "\n*Bot Status:* Online\n*Owner:* %s\n*Prefix:* %s\n*Total Messages:* %d\n*Today's Messages:* %d",
		req.Settings.OwnerName, p, stats.TotalMessages, stats.TodayMessages)
	return sb.String(), nil
}

func (d *Dispatcher) ping(ctx context.Context, req *Request) (string, error) {
	if err := req.Msg.Reply(ctx, "Pinging..."); err != nil {
		return "", err
	}
	elapsed := d.now().Sub(req.started)
	return fmt.Sprintf("Pong! Response time: %dms", elapsed.Milliseconds()), nil
}

func (d *Dispatcher) info(ctx context.Context, req *Request) (string, error) {
	stats, err := d.store.MessageStats(ctx)
	if err != nil {
		return "", err
	}
	userID, phone := "Unknown", "Unknown"
	if req.Client != nil {
		if id := req.Client.Identity(); id != "" {
			userID, phone = id, common.JIDUser(id)
		}
	}
	return fmt.Sprintf(`*Bot Information*

*Name:* %s
*Version:* %s
*Platform:* Go
*Library:* whatsmeow
*Owner:* %s
*Prefix:* %s
*Commands:* %d

*Status:* Connected
*User ID:* %s
*Phone:* %s
*Total Messages:* %d
*Total Commands:* %d`,
		BotName, BotVersion, req.Settings.OwnerName, req.Settings.Prefix,
		len(d.builtins)+d.registry.Len(),
		userID, phone, stats.TotalMessages, stats.TotalCommands), nil
}

func (d *Dispatcher) help(_ context.Context, req *Request) (string, error) {
	p := req.Settings.Prefix
	return fmt.Sprintf(`*WhatsApp Bot Help*

*Getting Started:*
1. Use %[1]smenu to see available commands
2. Use %[1]sping to check if bot is online
3. Use %[1]sinfo to get bot information
4. Use %[1]sstats to see bot statistics

*Available Commands:*
• %[1]smenu - Show command menu
• %[1]sping - Check bot response time
• %[1]sinfo - Get bot information
• %[1]shelp - Show this help message
• %[1]sstats - Show bot statistics

*Tips:*
• All commands start with %[1]s
• The bot works in both private and group chats
• Some commands may require owner privileges
• Response time may vary based on server load

*Need more help?* Contact the bot owner: %[2]s`, p, req.Settings.OwnerName), nil
}

func (d *Dispatcher) stats(ctx context.Context, _ *Request) (string, error) {
	stats, err := d.store.MessageStats(ctx)
	if err != nil {
		return "", err
	}
	sessions, err := d.store.ListSessions(ctx)
	if err != nil {
		return "", err
	}
	active := 0
	for _, s := range sessions {
		if s.IsConnected {
			active++
		}
	}
	memory := "n/a"
	if rss, err := d.memUsage(); err == nil {
		memory = fmt.Sprintf("%.2f MB", float64(rss)/1024/1024)
	}
	now := d.now()
	return fmt.Sprintf(`*Bot Statistics*

*Message Statistics:*
• Total Messages: %d
• Total Commands: %d
• Today's Messages: %d
• Today's Commands: %d

*Session Statistics:*
• Total Sessions: %d
• Active Sessions: %d
• Inactive Sessions: %d

*System Information:*
• Bot Status: Online
• Uptime: %.2f seconds
• Memory Usage: %s
• Go Version: %s

*Last Updated:* %s`,
		stats.TotalMessages, stats.TotalCommands, stats.TodayMessages, stats.TodayCommands,
		len(sessions), active, len(sessions)-active,
		now.Sub(d.started).Seconds(), memory, runtime.Version(),
		now.Format(timestampLayout)), nil
}

func processRSS() (uint64, error) {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return 0, err
	}
	info, err := p.MemoryInfo()
	if err != nil {
		return 0, err
	}
	return info.RSS, nil
}
