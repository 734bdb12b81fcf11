package command

import (
	"context"
	"log/slog"
	"strings"

	"github.com/onnwee/streambot/backend/telemetry"
)

// Message is one normalized inbound chat message, regardless of platform.
type Message struct {
	Text      string
	Author    string
	AuthorID  string
	IsAdmin   bool
	Platform  string
	AccountID string
	ChannelID string
	Transport Transport
	Vars      map[string]string
}

// CustomCommandStore resolves account-scoped name -> template pairs (tier 4).
// scope is "youtube", "discord", or "both".
type CustomCommandStore interface {
	GetCustomCommand(ctx context.Context, accountID, name string) (template, scope string, ok bool, err error)
}

// CountCommandStore resolves account-scoped counting commands (tier 5). The
// increment and the read are one statement so concurrent bumps never lose counts.
type CountCommandStore interface {
	IncrementCountCommand(ctx context.Context, accountID, name, platform string) (template string, count int64, ok bool, err error)
}

// DisabledFunc reports whether a module (or stored command name) is disabled for
// an account on a platform. Supplied by the settings collaborator.
type DisabledFunc func(accountID, platform, module string) bool

// Dispatcher resolves inbound messages against the registry and the account's
// stored commands, then runs the middleware chain. It never lets a handler
// failure escape: everything is caught, logged, and swallowed with no reply.
type Dispatcher struct {
	Registry    *Registry
	Prefix      string
	Disabled    DisabledFunc
	Custom      CustomCommandStore
	Counts      CountCommandStore
	DefaultSend SendFunc
}

// Dispatch resolves at most one command for msg and executes it. Text without the
// configured prefix is a no-op with zero side effects, as is an unresolvable
// reference.
func (d *Dispatcher) Dispatch(ctx context.Context, msg Message) {
	p := Parse(msg.Text, d.Prefix)
	if p == nil {
		return
	}
	c := NewContext(ctx, msg, d.Prefix, d.DefaultSend)

	mod, cmd, args := d.resolve(ctx, p, c)
	if cmd == nil {
		return
	}
	c.Args = args

	telemetry.CommandsDispatched.Inc()
	telemetry.TimeFunc(telemetry.DispatchDuration, func() {
		d.run(c, mod, cmd)
	})
}

// resolve walks the precedence tiers. Tiers 4 and 5 execute inline (their
// behavior is a template reply, not a registered handler) and return a synthetic
// command so the caller still goes through the single failure boundary.
func (d *Dispatcher) resolve(ctx context.Context, p *Parsed, c *Context) (*Module, *Command, []string) {
	// Tier 1: dotted, exact module+command.
	if p.Command != "" {
		if m, ok := d.Registry.Modules[p.Module]; ok && !d.disabled(c, m.Name) {
			if cmd := m.Find(p.Command); cmd != nil {
				return m, cmd, p.Args
			}
		}
		return nil, nil, nil
	}

	// Tier 2: space form; first token is a module, next token one of its commands.
	// The command token is matched case-insensitively like the dotted form; only
	// real arguments keep their case.
	if m, ok := d.Registry.Modules[p.Module]; ok && !d.disabled(c, m.Name) && len(p.Args) > 0 {
		if cmd := m.Find(strings.ToLower(p.Args[0])); cmd != nil {
			return m, cmd, p.Args[1:]
		}
	}

	// Tier 3: flat alias/name lookup across all modules. A bare module token with
	// no command falls through to here.
	if e, ok := d.Registry.Flat[p.Module]; ok && !d.disabled(c, e.Module.Name) {
		return e.Module, e.Command, p.Args
	}

	// Tier 4: account custom command.
	if cmd := d.customCommand(ctx, p, c); cmd != nil {
		return nil, cmd, p.Args
	}

	// Tier 5: account count command.
	if cmd := d.countCommand(ctx, p, c); cmd != nil {
		return nil, cmd, p.Args
	}

	return nil, nil, nil
}

func (d *Dispatcher) customCommand(ctx context.Context, p *Parsed, c *Context) *Command {
	if d.Custom == nil {
		return nil
	}
	template, scope, ok, err := d.Custom.GetCustomCommand(ctx, c.AccountID, p.Module)
	if err != nil {
		c.Logger.Error("custom command lookup failed", slog.String("name", p.Module), slog.Any("err", err))
		return nil
	}
	if !ok || (scope != "both" && scope != c.Platform) {
		return nil
	}
	if d.disabled(c, p.Module) {
		return nil
	}
	return &Command{
		Name: p.Module,
		Handler: func(c *Context) {
			c.Reply(Render(template, c.Vars))
		},
	}
}

func (d *Dispatcher) countCommand(ctx context.Context, p *Parsed, c *Context) *Command {
	if d.Counts == nil {
		return nil
	}
	if !c.IsAdmin {
		// Count commands are admin-gated: silent no-op, no reply.
		return nil
	}
	// Check disablement before the increment: a disabled command must not
	// bump its persisted counter.
	if d.disabled(c, p.Module) {
		return nil
	}
	template, count, ok, err := d.Counts.IncrementCountCommand(ctx, c.AccountID, p.Module, c.Platform)
	if err != nil {
		c.Logger.Error("count command lookup failed", slog.String("name", p.Module), slog.Any("err", err))
		return nil
	}
	if !ok {
		return nil
	}
	return &Command{
		Name: p.Module,
		Handler: func(c *Context) {
			vars := map[string]string{"count": formatCount(count)}
			for k, v := range c.Vars {
				vars[k] = v
			}
			c.Reply(Render(template, vars))
		},
	}
}

func (d *Dispatcher) disabled(c *Context, module string) bool {
	return d.Disabled != nil && d.Disabled(c.AccountID, c.Platform, module)
}

// run executes module middleware ++ command middleware ++ terminal handler via an
// explicit proceed continuation, inside one failure boundary.
func (d *Dispatcher) run(c *Context, mod *Module, cmd *Command) {
	defer func() {
		if r := recover(); r != nil {
			telemetry.DispatchErrors.Inc()
			module := ""
			if mod != nil {
				module = mod.Name
			}
			c.Logger.Error("command handler panicked",
				slog.String("module", module),
				slog.String("command", cmd.Name),
				slog.String("author", c.Author),
				slog.Any("panic", r))
		}
	}()

	var stack []Middleware
	if mod != nil {
		stack = append(stack, mod.Middleware...)
	}
	stack = append(stack, cmd.Middleware...)

	i := 0
	var proceed func()
	proceed = func() {
		if i < len(stack) {
			mw := stack[i]
			i++
			mw(c, proceed)
			return
		}
		i++
		if cmd.Handler != nil {
			cmd.Handler(c)
		}
	}
	proceed()
}
