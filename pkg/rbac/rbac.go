// Package rbac decides which chat commands need operator status.
package rbac

import "strings"

// NotOperator is the reply sent when a non-operator uses a gated command.
const NotOperator = "You are not OP."

// DefaultOperatorCommands returns the commands gated when no configuration
// overrides them.
func DefaultOperatorCommands() []string {
	return []string{"/kick", "/op", "/deop"}
}

// Policy is an immutable set of operator-only command names.
type Policy struct {
	gated map[string]bool
}

// NewPolicy builds a policy from command names. A missing leading slash is
// added, so "kick" and "/kick" are equivalent.
func NewPolicy(commands []string) *Policy {
	p := &Policy{gated: make(map[string]bool, len(commands))}
	for _, cmd := range commands {
		cmd = strings.TrimSpace(cmd)
		if cmd == "" {
			continue
		}
		if !strings.HasPrefix(cmd, "/") {
			cmd = "/" + cmd
		}
		p.gated[cmd] = true
	}
	return p
}

// RequiresOperator reports whether cmd is operator-only.
func (p *Policy) RequiresOperator(cmd string) bool {
	return p.gated[cmd]
}

// Check returns NotOperator if cmd is gated and the caller is not an
// operator, or an empty string if the command may run.
func (p *Policy) Check(isOperator bool, cmd string) string {
	if isOperator || !p.RequiresOperator(cmd) {
		return ""
	}
	return NotOperator
}
