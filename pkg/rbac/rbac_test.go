package rbac

import "testing"

func TestPolicyCheck(t *testing.T) {
	p := NewPolicy(DefaultOperatorCommands())

	tests := []struct {
		name     string
		operator bool
		cmd      string
		want     string
	}{
		{"op kicks", true, "/kick", ""},
		{"user kicks", false, "/kick", NotOperator},
		{"user ops", false, "/op", NotOperator},
		{"user deops", false, "/deop", NotOperator},
		{"user messages", false, "/msg", ""},
		{"user quits", false, "/quit", ""},
		{"case sensitive", false, "/KICK", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.Check(tt.operator, tt.cmd); got != tt.want {
				t.Errorf("Check(%v, %q) = %q, want %q", tt.operator, tt.cmd, got, tt.want)
			}
		})
	}
}

func TestNewPolicyNormalizes(t *testing.T) {
	p := NewPolicy([]string{"kick", " /me ", ""})
	for _, cmd := range []string{"/kick", "/me"} {
		if !p.RequiresOperator(cmd) {
			t.Errorf("RequiresOperator(%q) = false, want true", cmd)
		}
	}
	if p.RequiresOperator("/") {
		t.Errorf("empty entry gated the bare slash")
	}
	if p.RequiresOperator("/op") {
		t.Errorf("/op gated without being configured")
	}
}
