// Package modules holds the built-in command modules registered at startup.
package modules

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/onnwee/streambot/backend/command"
)

// General builds the always-on module: discovery commands and process info.
// The registry provider is bound lazily because the registry cannot exist
// before its modules do.
func General(registry func() *command.Registry, startedAt time.Time) *command.Module {
	m := &command.Module{
		Name:        "general",
		Description: "Discovery and status commands",
	}
	m.Commands = map[string]*command.Command{
		"help": {
			Name:        "help",
			Description: "List modules, or the commands of one module",
			Usage:       "!help [module]",
			Handler: func(c *command.Context) {
				r := registry()
				if r == nil {
					return
				}
				if len(c.Args) > 0 {
					name := strings.ToLower(c.Args[0])
					mod, ok := r.Modules[name]
					if !ok {
						c.Reply(fmt.Sprintf("no module named %q", name))
						return
					}
					c.Reply(fmt.Sprintf("%s: %s", mod.Name, strings.Join(commandNames(mod), ", ")))
					return
				}
				names := make([]string, 0, len(r.Modules))
				for name := range r.Modules {
					names = append(names, name)
				}
				sort.Strings(names)
				c.Reply("modules: " + strings.Join(names, ", ") + " (try !help <module>)")
			},
		},
		"commands": {
			Name:        "commands",
			Description: "List every command and alias",
			Usage:       "!commands",
			Aliases:     []string{"cmds"},
			Handler: func(c *command.Context) {
				r := registry()
				if r == nil {
					return
				}
				names := make([]string, 0, len(r.Flat))
				for name := range r.Flat {
					names = append(names, name)
				}
				sort.Strings(names)
				c.Reply("commands: " + strings.Join(names, ", "))
			},
		},
		"uptime": {
			Name:        "uptime",
			Description: "Time since the bot process started",
			Usage:       "!uptime",
			Handler: func(c *command.Context) {
				c.Reply("up " + formatUptime(time.Since(startedAt)))
			},
		},
		"ping": {
			Name:        "ping",
			Description: "Liveness check",
			Usage:       "!ping",
			Handler: func(c *command.Context) {
				c.Reply("pong")
			},
		},
	}
	return m
}

func commandNames(m *command.Module) []string {
	names := make([]string, 0, len(m.Commands))
	for name := range m.Commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// formatUptime renders a duration as the largest two units, e.g. "3h 12m".
func formatUptime(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	mins := int(d.Minutes()) % 60
	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh", days, hours)
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, mins)
	default:
		return fmt.Sprintf("%dm %ds", mins, int(d.Seconds())%60)
	}
}
