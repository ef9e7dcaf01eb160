package bot

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/talkincode/wabot/internal/domain"
	"github.com/talkincode/wabot/internal/store"
	"github.com/talkincode/wabot/internal/transport"
)

// Request is what a command handler receives.
type Request struct {
	Client   transport.Client
	Msg      *CanonicalMessage
	Settings Settings
	started  time.Time
}

// Handler produces the response text for a command. An empty response sends nothing.
type Handler interface {
	Handle(ctx context.Context, req *Request) (string, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, req *Request) (string, error)

func (f HandlerFunc) Handle(ctx context.Context, req *Request) (string, error) {
	return f(ctx, req)
}

// Options restrict and describe a custom command.
type Options struct {
	Description string
	OwnerOnly   bool
	Premium     bool
}

// Command is one entry of the custom command table.
type Command struct {
	Name    string
	Handler Handler
	Options
	fromStore bool
}

// HandlerBuilder creates the handler for a stored command row.
type HandlerBuilder func(row *domain.BotCommand) Handler

// Registry maps custom command names to handlers. Lookups are exact-name.
type Registry struct {
	mu       sync.RWMutex
	commands map[string]*Command
	catalog  map[string]HandlerBuilder
}

func NewRegistry() *Registry {
	r := &Registry{
		commands: make(map[string]*Command),
		catalog:  make(map[string]HandlerBuilder),
	}
	r.RegisterRef("echo", echoHandler)
	r.RegisterRef("text", textHandler)
	return r
}

// Register adds or replaces a custom command.
func (r *Registry) Register(name string, h Handler, opts Options) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" || h == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands[name] = &Command{Name: name, Handler: h, Options: opts}
}

func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.commands, name)
}

func (r *Registry) Lookup(name string) (*Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.commands[name]
	return c, ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.commands)
}

// Commands returns the custom commands sorted by name.
func (r *Registry) Commands() []*Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Command, 0, len(r.commands))
	for _, c := range r.commands {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// RegisterRef makes a handler implementation available to stored commands.
func (r *Registry) RegisterRef(ref string, b HandlerBuilder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.catalog[ref] = b
}

// HasRef reports whether a stored command may use ref.
func (r *Registry) HasRef(ref string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.catalog[ref]
	return ok
}

// Load replaces the store-sourced commands with the active rows of repo.
// Rows with an unknown handler ref are skipped. Commands registered in code win
// over rows with the same name.
func (r *Registry) Load(ctx context.Context, repo store.CommandRepository) error {
	rows, err := repo.ListCommands(ctx, true)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, c := range r.commands {
		if c.fromStore {
			delete(r.commands, name)
		}
	}
	for _, row := range rows {
		name := strings.ToLower(strings.TrimSpace(row.Command))
		build, ok := r.catalog[row.HandlerRef]
		if !ok {
			zap.L().Warn("skip command with unknown handler",
				zap.String("namespace", "bot"),
				zap.String("command", name),
				zap.String("handler_ref", row.HandlerRef))
			continue
		}
		if _, taken := r.commands[name]; taken {
			continue
		}
		r.commands[name] = &Command{
			Name:    name,
			Handler: build(row),
			Options: Options{
				Description: row.Description,
				OwnerOnly:   row.IsOwnerOnly,
				Premium:     row.IsPremium,
			},
			fromStore: true,
		}
	}
	return nil
}

// echo repeats the arguments, or the description when there are none.
func echoHandler(row *domain.BotCommand) Handler {
	return HandlerFunc(func(_ context.Context, req *Request) (string, error) {
		if len(req.Msg.Args) == 0 {
			return row.Description, nil
		}
		return strings.Join(req.Msg.Args, " "), nil
	})
}

func textHandler(row *domain.BotCommand) Handler {
	return HandlerFunc(func(_ context.Context, _ *Request) (string, error) {
		return row.Description, nil
	})
}
