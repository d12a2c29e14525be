package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// MetricsHandler serves /metrics in Prometheus text exposition format and
// /healthz.
func (s *Server) MetricsHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	return mux
}

// serveMetrics runs the metrics endpoint on ln until ctx is cancelled.
func (s *Server) serveMetrics(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.MetricsHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()

	slog.Info("metrics HTTP listening", "addr", ln.Addr().String())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: metrics http: %w", err)
	}
	return nil
}

// handleMetrics writes all metrics in Prometheus text exposition format.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	m := s.metrics
	uptime := time.Since(m.startTime).Seconds()

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	// Write errors to http.ResponseWriter are non-actionable.
	write := func(name, help, mtype string, value int64) {
		_, _ = fmt.Fprintf(w, "# HELP %s %s\n", name, help)
		_, _ = fmt.Fprintf(w, "# TYPE %s %s\n", name, mtype)
		_, _ = fmt.Fprintf(w, "%s %d\n", name, value)
	}
	writeFloat := func(name, help, mtype string, value float64) {
		_, _ = fmt.Fprintf(w, "# HELP %s %s\n", name, help)
		_, _ = fmt.Fprintf(w, "# TYPE %s %s\n", name, mtype)
		_, _ = fmt.Fprintf(w, "%s %f\n", name, value)
	}

	writeFloat("twistchat_uptime_seconds", "Server uptime in seconds.", "gauge", uptime)

	write("twistchat_connections_active", "Current open connections.", "gauge",
		m.ActiveConnections.Load())
	write("twistchat_connections_total", "Lifetime TCP connections accepted.", "counter",
		m.TotalConnections.Load())
	write("twistchat_disconnects_total", "Sessions torn down.", "counter",
		m.TotalDisconnects.Load())
	if s.registry != nil {
		write("twistchat_users_online", "Users currently logged in.", "gauge",
			int64(s.registry.OnlineCount()))
	}

	write("twistchat_logins_total", "Successful logins and registrations.", "counter",
		m.SuccessfulLogins.Load())
	write("twistchat_logins_failed_total", "Wrong passwords at login.", "counter",
		m.FailedLogins.Load())
	write("twistchat_accounts_created_total", "Accounts registered.", "counter",
		m.AccountsCreated.Load())
	write("twistchat_password_changes_total", "Passwords changed.", "counter",
		m.PasswordChanges.Load())
	write("twistchat_save_failures_total", "Credential writes that failed.", "counter",
		m.SaveFailures.Load())

	write("twistchat_chat_messages_total", "Public chat lines broadcast.", "counter",
		m.ChatMessagesSent.Load())
	write("twistchat_private_messages_total", "Private messages delivered.", "counter",
		m.PrivateMessagesSent.Load())

	write("twistchat_kicks_total", "Sessions kicked.", "counter",
		m.KickCount.Load())
	write("twistchat_operator_changes_total", "Operator grants and revocations.", "counter",
		m.OperatorChanges.Load())

	write("twistchat_lines_invalid_total", "Inbound lines dropped for bad encoding.", "counter",
		m.InvalidLines.Load())
	write("twistchat_lines_dropped_total", "Outbound lines dropped on a full queue.", "counter",
		m.DroppedLines.Load())
}
