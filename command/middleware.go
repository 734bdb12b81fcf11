package command

import "log/slog"

// RequireAdmin halts the chain for non-admin authors. No error, no reply: the
// silent stop is the intended admin-gate behavior.
func RequireAdmin(c *Context, proceed func()) {
	if !c.IsAdmin {
		c.Logger.Debug("admin gate blocked command", slog.String("user", c.Author))
		return
	}
	proceed()
}

// RequireArgs halts the chain and replies with the command's usage text when
// fewer than n arguments were given.
func RequireArgs(n int, usage string) Middleware {
	return func(c *Context, proceed func()) {
		if len(c.Args) < n {
			if usage != "" {
				c.Reply(usage)
			}
			return
		}
		proceed()
	}
}
