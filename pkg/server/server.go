// Package server implements the twistchat chatroom server: the per-connection
// session state machine, the registry that coordinates sessions, and the TCP
// plumbing around them.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bedekelly/twistchat/pkg/model"
	"github.com/bedekelly/twistchat/pkg/rbac"
	"github.com/bedekelly/twistchat/pkg/store"
)

// DefaultSendQueue is the number of outbound lines buffered per connection.
const DefaultSendQueue = 256

// Config holds server configuration.
type Config struct {
	ListenAddr      string        // TCP bind address (e.g. ":8001")
	UsersFile       string        // credential store path
	StoreDriver     string        // "yaml" or "sqlite"
	AdminName       string        // operator account created when no store exists yet
	AdminSecret     string        // its initial password
	OpCommands      []string      // commands only operators may run
	MetricsAddr     string        // HTTP bind address for /metrics (empty = disabled)
	SendQueue       int           // outbound lines buffered per connection
	MetricsInterval time.Duration // periodic metrics log (0 = disabled)

	// CLI-only action (run and exit)
	ExportUsers bool // export all users as YAML and exit
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		ListenAddr:      ":8001",
		UsersFile:       "users.yml",
		StoreDriver:     store.DriverYAML,
		AdminName:       "admin",
		AdminSecret:     "admin",
		OpCommands:      rbac.DefaultOperatorCommands(),
		SendQueue:       DefaultSendQueue,
		MetricsInterval: 60 * time.Second,
	}
}

// Validate reports the first problem with cfg.
func (c Config) Validate() error {
	if c.ListenAddr == "" {
		return errors.New("server: listen address is empty")
	}
	if c.UsersFile == "" {
		return errors.New("server: users file is empty")
	}
	switch c.StoreDriver {
	case store.DriverYAML, store.DriverSQLite:
	default:
		return fmt.Errorf("server: unknown store driver %q", c.StoreDriver)
	}
	if err := model.ValidateUsername(c.AdminName); err != nil {
		return fmt.Errorf("server: admin name: %w", err)
	}
	if c.AdminSecret == "" {
		return errors.New("server: admin password is empty")
	}
	if c.SendQueue < 0 {
		return fmt.Errorf("server: send queue %d is negative", c.SendQueue)
	}
	if c.MetricsInterval < 0 {
		return fmt.Errorf("server: metrics interval %s is negative", c.MetricsInterval)
	}
	return nil
}

// Dependencies holds external dependencies for the server.
// Server assumes ownership of Store and will Close() it on shutdown.
type Dependencies struct {
	Store store.CredentialStore
}

// Server is the chatroom server.
type Server struct {
	cfg      Config
	store    store.CredentialStore
	metrics  *Metrics
	registry *Registry

	listener        net.Listener
	metricsListener net.Listener

	group    *errgroup.Group
	cancel   context.CancelFunc
	stopOnce sync.Once
}

// New creates a new Server instance.
func New(cfg Config, deps Dependencies) *Server {
	return &Server{
		cfg:     cfg,
		store:   deps.Store,
		metrics: NewMetrics(),
	}
}

// Metrics returns the server metrics.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Registry returns the session registry. It is nil until Start succeeds.
func (s *Server) Registry() *Registry {
	return s.registry
}

// Addr returns the chat listener address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// MetricsAddr returns the metrics listener address, or nil when disabled.
func (s *Server) MetricsAddr() net.Addr {
	if s.metricsListener == nil {
		return nil
	}
	return s.metricsListener.Addr()
}
