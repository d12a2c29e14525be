// Package store persists account credentials.
//
// The whole username → credential mapping is loaded once at startup and
// rewritten in full after every change. Three backends are provided: a YAML
// blob on disk (the default), a SQLite database, and an in-memory store for
// tests.
package store

import (
	"errors"
	"fmt"

	"github.com/bedekelly/twistchat/pkg/crypto"
	"github.com/bedekelly/twistchat/pkg/model"
)

// ErrNotExist is returned by Load when nothing has been saved yet.
var ErrNotExist = errors.New("store: no saved credentials")

// Driver names accepted by Open.
const (
	DriverYAML   = "yaml"
	DriverSQLite = "sqlite"
)

// CredentialStore loads and saves the credential mapping as one unit.
// Save must never leave a previously saved mapping half-written.
type CredentialStore interface {
	// Load returns the last saved mapping, or ErrNotExist.
	Load() (model.Credentials, error)

	// Save replaces the stored mapping with creds.
	Save(creds model.Credentials) error

	// Close releases the underlying medium.
	Close() error
}

// Compile-time checks.
var (
	_ CredentialStore = (*FileStore)(nil)
	_ CredentialStore = (*SQLiteStore)(nil)
	_ CredentialStore = (*MemoryStore)(nil)
)

// Open returns the store for driver at path.
func Open(driver, path string) (CredentialStore, error) {
	switch driver {
	case DriverYAML, "":
		return NewFile(path), nil
	case DriverSQLite:
		return NewSQLite(path)
	default:
		return nil, fmt.Errorf("store: unknown driver %q", driver)
	}
}

// LoadOrBootstrap loads the saved mapping. When nothing has been saved yet it
// returns a mapping holding a single operator account with the given name and
// password. Any other failure is returned unchanged.
func LoadOrBootstrap(cs CredentialStore, adminName, adminPassword string) (model.Credentials, error) {
	creds, err := cs.Load()
	if err == nil {
		return creds, nil
	}
	if !errors.Is(err, ErrNotExist) {
		return nil, err
	}
	if err := model.ValidateUsername(adminName); err != nil {
		return nil, fmt.Errorf("store: bootstrap admin: %w", err)
	}
	secret, err := crypto.HashPassword(adminPassword)
	if err != nil {
		return nil, fmt.Errorf("store: bootstrap admin: %w", err)
	}
	return model.Credentials{
		adminName: {Secret: secret, Operator: true},
	}, nil
}
