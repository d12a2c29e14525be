package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bedekelly/twistchat/pkg/rbac"
	"github.com/bedekelly/twistchat/pkg/store"
)

// Run starts the server and blocks until ctx is cancelled and every
// connection has been torn down.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	return s.Wait()
}

// Start loads credentials, binds the listeners, and starts serving in the
// background. Failing to load the store or to bind is fatal.
func (s *Server) Start(ctx context.Context) error {
	if s.store == nil {
		return errors.New("server: missing store dependency")
	}

	creds, err := store.LoadOrBootstrap(s.store, s.cfg.AdminName, s.cfg.AdminSecret)
	if err != nil {
		_ = s.store.Close()
		return fmt.Errorf("server: load credentials: %w", err)
	}
	slog.Info("credentials loaded", "accounts", len(creds), "driver", s.cfg.StoreDriver, "path", s.cfg.UsersFile)

	s.registry = NewRegistry(creds, s.store, rbac.NewPolicy(s.cfg.OpCommands), s.metrics)

	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		_ = s.store.Close()
		return fmt.Errorf("server: listen: %w", err)
	}
	s.listener = ln

	if s.cfg.MetricsAddr != "" {
		mln, err := net.Listen("tcp", s.cfg.MetricsAddr)
		if err != nil {
			_ = ln.Close()
			_ = s.store.Close()
			return fmt.Errorf("server: listen metrics: %w", err)
		}
		s.metricsListener = mln
	}

	ctx, s.cancel = context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	s.group = g

	g.Go(func() error { return s.acceptLoop(gctx, g) })
	if s.metricsListener != nil {
		g.Go(func() error { return s.serveMetrics(gctx, s.metricsListener) })
	}
	g.Go(func() error { return s.metrics.RunPeriodicLog(gctx, s.cfg.MetricsInterval) })
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down...")
		_ = ln.Close()
		s.registry.CloseAll()
		return nil
	})

	slog.Info("twistchat server running", "addr", ln.Addr().String())
	return nil
}

// acceptLoop accepts connections until the listener closes. Each connection
// is served in its own goroutine in g.
func (s *Server) acceptLoop(ctx context.Context, g *errgroup.Group) error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			slog.Error("accept error", "err", err)
			time.Sleep(50 * time.Millisecond)
			continue
		}
		g.Go(func() error {
			s.handleConn(ctx, conn)
			return nil
		})
	}
}

// Shutdown stops accepting connections and closes every open one. Run and
// Wait return once teardown completes.
func (s *Server) Shutdown() {
	if s.cancel != nil {
		s.cancel()
	}
}

// Wait blocks until the server has stopped, then closes the store.
func (s *Server) Wait() error {
	if s.group == nil {
		return errors.New("server: not started")
	}
	err := s.group.Wait()
	s.stopOnce.Do(func() {
		if cerr := s.store.Close(); cerr != nil {
			slog.Error("close store", "err", cerr)
		}
	})
	return err
}
