// Package model defines the core domain types for TwistChat.
package model

import (
	"errors"
	"regexp"
	"sort"
)

// DefaultName is shown for a connection that has not logged in yet.
const DefaultName = "Anonymous"

var ErrUsernameEmpty = errors.New("username must not be empty")
var ErrUsernameInvalidChars = errors.New("username must contain only ASCII letters, digits, or underscores")

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// Credential is the stored record for one account. Secret holds the encoded
// password hash produced by crypto.HashPassword.
type Credential struct {
	Secret   string `yaml:"secret" json:"secret"`
	Operator bool   `yaml:"operator" json:"operator"`
}

// Credentials maps a case-sensitive username to its record.
type Credentials map[string]Credential

// Clone returns a copy that shares no state with c.
func (c Credentials) Clone() Credentials {
	out := make(Credentials, len(c))
	for name, cred := range c {
		out[name] = cred
	}
	return out
}

// Names returns the usernames in lexical order.
func (c Credentials) Names() []string {
	names := make([]string, 0, len(c))
	for name := range c {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidateUsername checks a candidate name against ^[A-Za-z0-9_]+$.
func ValidateUsername(name string) error {
	if len(name) == 0 {
		return ErrUsernameEmpty
	}
	if !usernamePattern.MatchString(name) {
		return ErrUsernameInvalidChars
	}
	return nil
}
