package modules

import (
	"fmt"
	"strings"

	"github.com/onnwee/streambot/backend/announce"
	"github.com/onnwee/streambot/backend/command"
)

// Moderation builds the admin-only module. The admin gate is module-level
// middleware, so every command here (and any added later) inherits it.
func Moderation(store announce.Store) *command.Module {
	m := &command.Module{
		Name:        "mod",
		Description: "Broadcaster and moderator commands",
		Middleware:  []command.Middleware{command.RequireAdmin},
	}
	m.Commands = map[string]*command.Command{
		"say": {
			Name:        "say",
			Description: "Make the bot say something",
			Usage:       "!mod.say <text>",
			Middleware:  []command.Middleware{command.RequireArgs(1, "usage: !mod.say <text>")},
			Handler: func(c *command.Context) {
				c.Reply(strings.Join(c.Args, " "))
			},
		},
		"shoutout": {
			Name:        "shoutout",
			Description: "Plug another channel",
			Usage:       "!mod.shoutout <name>",
			Aliases:     []string{"so"},
			Middleware:  []command.Middleware{command.RequireArgs(1, "usage: !mod.shoutout <name>")},
			Handler: func(c *command.Context) {
				c.Reply(fmt.Sprintf("Go check out %s!", c.Args[0]))
			},
		},
		"announce": {
			Name:        "announce",
			Description: "Send a stored announcement now, out of cadence",
			Usage:       "!mod.announce <name>",
			Middleware:  []command.Middleware{command.RequireArgs(1, "usage: !mod.announce <name>")},
			Handler: func(c *command.Context) {
				name := strings.ToLower(c.Args[0])
				anns, err := store.ListAnnouncements(c.Ctx, c.AccountID)
				if err != nil {
					c.Logger.Error("list announcements", "err", err)
					return
				}
				for _, a := range anns {
					if strings.ToLower(a.Name) == name {
						c.Reply(command.Render(a.Message, c.Vars))
						return
					}
				}
				c.Reply(fmt.Sprintf("no announcement named %q", name))
			},
		},
	}
	return m
}
