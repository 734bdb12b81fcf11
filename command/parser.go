package command

import "strings"

// Parsed is the structured form of a prefixed chat line. Command is empty for the
// space/flat form, where the first token is ambiguous until the dispatcher
// disambiguates it against the registry.
type Parsed struct {
	Module  string
	Command string
	Args    []string
}

// Parse turns raw prefixed text into a Parsed reference, or nil when text does not
// start with prefix (or carries nothing after it). Module and command tokens are
// matched case-insensitively; arguments keep their original case.
//
// Recognized syntaxes:
//
//	!mod.cmd arg...   dotted
//	!tok arg...       space form / flat (disambiguated by the dispatcher)
func Parse(text, prefix string) *Parsed {
	if prefix == "" || !strings.HasPrefix(text, prefix) {
		return nil
	}
	fields := strings.Fields(text[len(prefix):])
	if len(fields) == 0 {
		return nil
	}
	head := strings.ToLower(fields[0])
	args := fields[1:]

	if mod, cmd, ok := strings.Cut(head, "."); ok && mod != "" && cmd != "" {
		return &Parsed{Module: mod, Command: cmd, Args: args}
	}
	return &Parsed{Module: head, Args: args}
}
