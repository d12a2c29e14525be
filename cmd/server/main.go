package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	flag "github.com/spf13/pflag"

	"github.com/bedekelly/twistchat/pkg/logging"
	"github.com/bedekelly/twistchat/pkg/server"
	"github.com/bedekelly/twistchat/pkg/store"
	"github.com/bedekelly/twistchat/pkg/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		slog.Error("server error", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	defaults := server.DefaultConfig()
	fs := flag.NewFlagSet("twistchat", flag.ContinueOnError)

	var (
		cfgPath   string
		flagCfg   = defaults
		logLevel  = "info"
		logFormat = "text"
		showVer   bool
	)
	fs.StringVarP(&cfgPath, "config", "c", "", "YAML config file")
	fs.StringVarP(&flagCfg.ListenAddr, "addr", "a", defaults.ListenAddr, "TCP bind address")
	fs.StringVarP(&flagCfg.UsersFile, "users-file", "u", defaults.UsersFile, "Credential store path")
	fs.StringVar(&flagCfg.StoreDriver, "store", defaults.StoreDriver, "Credential store: yaml or sqlite")
	fs.StringVar(&flagCfg.AdminName, "admin-name", defaults.AdminName, "Operator account created on first run")
	fs.StringVar(&flagCfg.AdminSecret, "admin-pass", defaults.AdminSecret, "Password of the first-run operator account")
	fs.StringSliceVar(&flagCfg.OpCommands, "op-cmds", defaults.OpCommands, "Commands only operators may run")
	fs.StringVar(&flagCfg.MetricsAddr, "metrics", defaults.MetricsAddr, "HTTP bind address for Prometheus /metrics (empty to disable)")
	fs.IntVar(&flagCfg.SendQueue, "send-queue", defaults.SendQueue, "Outbound lines buffered per connection")
	fs.DurationVar(&flagCfg.MetricsInterval, "metrics-interval", defaults.MetricsInterval, "Periodic metrics log interval (0 to disable)")
	fs.BoolVar(&flagCfg.ExportUsers, "export-users", false, "Export all users as YAML and exit")
	fs.StringVar(&logLevel, "log-level", logLevel, "Log level: "+logging.LevelNames())
	fs.StringVar(&logFormat, "log-format", logFormat, "Log format: text or json")
	fs.BoolVar(&showVer, "version", false, "Print version and exit")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if showVer {
		fmt.Println(version.Full())
		return nil
	}

	// File values sit between the defaults and explicitly set flags.
	cfg := defaults
	if cfgPath != "" {
		fc, err := server.LoadConfigFile(cfgPath)
		if err != nil {
			return err
		}
		if err := fc.Apply(&cfg); err != nil {
			return err
		}
		if fc.LogLevel != "" && !fs.Changed("log-level") {
			logLevel = fc.LogLevel
		}
		if fc.LogFormat != "" && !fs.Changed("log-format") {
			logFormat = fc.LogFormat
		}
	}
	if err := applyChangedFlags(fs, &cfg, flagCfg); err != nil {
		return err
	}

	if err := logging.Setup(logging.Options{
		Level:  logLevel,
		Format: logFormat,
		Output: os.Stdout,
	}); err != nil {
		return fmt.Errorf("invalid logging config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	st, err := store.Open(cfg.StoreDriver, cfg.UsersFile)
	if err != nil {
		return err
	}

	// Handle export command (run and exit)
	if cfg.ExportUsers {
		defer func() { _ = st.Close() }()
		creds, err := store.LoadOrBootstrap(st, cfg.AdminName, cfg.AdminSecret)
		if err != nil {
			return err
		}
		data, err := server.ExportUsersYAML(creds)
		if err != nil {
			return err
		}
		fmt.Print(string(data))
		return nil
	}

	slog.Info("starting twistchat", "version", version.String())
	srv := server.New(cfg, server.Dependencies{Store: st})
	return srv.Run(ctx)
}

// applyChangedFlags copies every flag the user set explicitly from src onto
// cfg. Paths get the same "~/" expansion as in the config file.
func applyChangedFlags(fs *flag.FlagSet, cfg *server.Config, src server.Config) error {
	var err error
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "addr":
			cfg.ListenAddr = src.ListenAddr
		case "users-file":
			var path string
			if path, err = server.ExpandHome(src.UsersFile); err == nil {
				cfg.UsersFile = path
			}
		case "store":
			cfg.StoreDriver = src.StoreDriver
		case "admin-name":
			cfg.AdminName = src.AdminName
		case "admin-pass":
			cfg.AdminSecret = src.AdminSecret
		case "op-cmds":
			cfg.OpCommands = src.OpCommands
		case "metrics":
			cfg.MetricsAddr = src.MetricsAddr
		case "send-queue":
			cfg.SendQueue = src.SendQueue
		case "metrics-interval":
			cfg.MetricsInterval = src.MetricsInterval
		case "export-users":
			cfg.ExportUsers = src.ExportUsers
		}
	})
	return err
}
