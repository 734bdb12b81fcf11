// Package command implements the chat command engine: module registry, prefix parser,
// per-invocation context, and the multi-tier dispatcher with middleware chains.
package command

import (
	"log/slog"
)

// Handler is the terminal stage of a command chain.
type Handler func(*Context)

// Middleware is a single chain stage. It must call proceed to continue the chain;
// returning without calling proceed halts the chain silently (no error, no reply).
type Middleware func(ctx *Context, proceed func())

// Command describes one invocable command inside a module.
type Command struct {
	Name        string
	Description string
	Usage       string
	Aliases     []string
	Middleware  []Middleware
	Handler     Handler
}

// Module groups commands under a name and may contribute module-level middleware
// that runs before any of its commands.
type Module struct {
	Name        string
	Description string
	Commands    map[string]*Command
	Middleware  []Middleware
}

// Find returns the command matching tok by name or alias, or nil.
func (m *Module) Find(tok string) *Command {
	if c, ok := m.Commands[tok]; ok {
		return c
	}
	for _, c := range m.Commands {
		for _, a := range c.Aliases {
			if a == tok {
				return c
			}
		}
	}
	return nil
}

// FlatEntry points a bare alias or command name at its owning module and definition.
type FlatEntry struct {
	Module  *Module
	Command *Command
}

// Registry holds the loaded modules and the flat alias map spanning all of them.
// It is built once at startup from a static registration list and never mutated after.
type Registry struct {
	Modules map[string]*Module
	Flat    map[string]FlatEntry
}

// NewRegistry builds a registry from the given modules. Modules without a name or
// a commands map are skipped. Every command name and every declared alias is
// registered into the flat map; on collision the last-registered definition wins.
func NewRegistry(modules ...*Module) *Registry {
	r := &Registry{
		Modules: make(map[string]*Module),
		Flat:    make(map[string]FlatEntry),
	}
	for _, m := range modules {
		if m == nil || m.Name == "" || m.Commands == nil {
			slog.Warn("skipping invalid command module", slog.Any("module", moduleName(m)))
			continue
		}
		r.Modules[m.Name] = m
		for _, c := range m.Commands {
			r.register(m, c, c.Name)
			for _, a := range c.Aliases {
				r.register(m, c, a)
			}
		}
		slog.Info("registered command module", slog.String("module", m.Name), slog.Int("commands", len(m.Commands)))
	}
	return r
}

func (r *Registry) register(m *Module, c *Command, key string) {
	if key == "" {
		return
	}
	if prev, ok := r.Flat[key]; ok {
		slog.Warn("flat command collision; last registration wins",
			slog.String("key", key),
			slog.String("previous", prev.Module.Name),
			slog.String("winner", m.Name))
	}
	r.Flat[key] = FlatEntry{Module: m, Command: c}
}

func moduleName(m *Module) any {
	if m == nil {
		return nil
	}
	return m.Name
}
