package server

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/bedekelly/twistchat/pkg/model"
)

// FileConfig is the YAML configuration file. Zero values leave the
// corresponding Config field untouched.
type FileConfig struct {
	Host             string   `yaml:"host"`
	Port             int      `yaml:"port"`
	UsersFile        string   `yaml:"users_file"`
	Store            string   `yaml:"store"`
	DefaultAdminName string   `yaml:"default_admin_name"`
	DefaultAdminPass string   `yaml:"default_admin_pass"`
	OpCmds           []string `yaml:"op_cmds"`
	MetricsAddr      string   `yaml:"metrics_addr"`
	SendQueue        int      `yaml:"send_queue"`
	LogLevel         string   `yaml:"log_level"`
	LogFormat        string   `yaml:"log_format"`
}

// UserYAML represents a user in YAML export.
type UserYAML struct {
	Username string `yaml:"username"`
	Operator bool   `yaml:"operator"`
}

// UsersExport is the top-level YAML for user export.
type UsersExport struct {
	Users []UserYAML `yaml:"users"`
}

// LoadConfigFile reads a YAML config file. Unknown keys are rejected.
func LoadConfigFile(path string) (FileConfig, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path from user-provided CLI flag
	if err != nil {
		return FileConfig{}, fmt.Errorf("read config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig parses YAML config data. Empty input yields a zero FileConfig.
func ParseConfig(data []byte) (FileConfig, error) {
	var fc FileConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&fc); err != nil && !errors.Is(err, io.EOF) {
		return FileConfig{}, fmt.Errorf("parse config: %w", err)
	}
	return fc, nil
}

// Apply copies every set field of fc onto cfg.
func (fc FileConfig) Apply(cfg *Config) error {
	if fc.Host != "" || fc.Port != 0 {
		host, port, err := net.SplitHostPort(cfg.ListenAddr)
		if err != nil {
			return fmt.Errorf("config: listen address %q: %w", cfg.ListenAddr, err)
		}
		if fc.Host != "" {
			host = fc.Host
		}
		if fc.Port != 0 {
			port = strconv.Itoa(fc.Port)
		}
		cfg.ListenAddr = net.JoinHostPort(host, port)
	}
	if fc.UsersFile != "" {
		path, err := ExpandHome(fc.UsersFile)
		if err != nil {
			return err
		}
		cfg.UsersFile = path
	}
	if fc.Store != "" {
		cfg.StoreDriver = fc.Store
	}
	if fc.DefaultAdminName != "" {
		cfg.AdminName = fc.DefaultAdminName
	}
	if fc.DefaultAdminPass != "" {
		cfg.AdminSecret = fc.DefaultAdminPass
	}
	if len(fc.OpCmds) > 0 {
		cfg.OpCommands = append([]string(nil), fc.OpCmds...)
	}
	if fc.MetricsAddr != "" {
		cfg.MetricsAddr = fc.MetricsAddr
	}
	if fc.SendQueue != 0 {
		cfg.SendQueue = fc.SendQueue
	}
	return nil
}

// ExpandHome replaces a leading "~/" with the current user's home directory.
func ExpandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("config: expand %q: %w", path, err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

// ExportUsersYAML exports all accounts as YAML, sorted by name. Secrets are
// never included.
func ExportUsersYAML(creds model.Credentials) ([]byte, error) {
	export := UsersExport{Users: []UserYAML{}}
	for _, name := range creds.Names() {
		export.Users = append(export.Users, UserYAML{
			Username: name,
			Operator: creds[name].Operator,
		})
	}
	return yaml.Marshal(&export)
}
