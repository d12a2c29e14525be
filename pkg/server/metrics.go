package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"
)

// Metrics tracks server runtime statistics.
// All counters use atomic operations so the read loops and writer goroutines
// can update them without the registry lock.
type Metrics struct {
	startTime time.Time

	// Connection counters
	TotalConnections  atomic.Int64 // lifetime TCP connections accepted
	ActiveConnections atomic.Int64 // current open connections
	TotalDisconnects  atomic.Int64 // sessions torn down

	// Account counters
	SuccessfulLogins atomic.Int64 // logins and registrations that reached the chatroom
	FailedLogins     atomic.Int64 // wrong passwords at login
	AccountsCreated  atomic.Int64 // new accounts registered
	PasswordChanges  atomic.Int64 // successful /changepass
	SaveFailures     atomic.Int64 // credential writes that failed

	// Chat counters
	ChatMessagesSent    atomic.Int64 // public lines broadcast
	PrivateMessagesSent atomic.Int64 // private messages delivered

	// Moderation counters
	KickCount       atomic.Int64 // sessions kicked, including duplicate logins
	OperatorChanges atomic.Int64 // /op and /deop applied

	// Line counters
	InvalidLines atomic.Int64 // inbound lines dropped for bad encoding
	DroppedLines atomic.Int64 // outbound lines dropped on a full queue
}

// NewMetrics creates a new Metrics instance with the start time set to now.
func NewMetrics() *Metrics {
	return &Metrics{
		startTime: time.Now(),
	}
}

// MetricsSnapshot is a point-in-time view of all metrics.
type MetricsSnapshot struct {
	Uptime        string `json:"uptime"`
	UptimeSeconds int64  `json:"uptime_seconds"`

	ActiveConnections int64 `json:"active_connections"`
	TotalConnections  int64 `json:"total_connections"`
	TotalDisconnects  int64 `json:"total_disconnects"`

	SuccessfulLogins int64 `json:"successful_logins"`
	FailedLogins     int64 `json:"failed_logins"`
	AccountsCreated  int64 `json:"accounts_created"`
	PasswordChanges  int64 `json:"password_changes"`
	SaveFailures     int64 `json:"save_failures"`

	ChatMessagesSent    int64 `json:"chat_messages_sent"`
	PrivateMessagesSent int64 `json:"private_messages_sent"`

	KickCount       int64 `json:"kick_count"`
	OperatorChanges int64 `json:"operator_changes"`

	InvalidLines int64 `json:"invalid_lines"`
	DroppedLines int64 `json:"dropped_lines"`
}

// Snapshot returns a read-consistent snapshot of all metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	uptime := time.Since(m.startTime)
	return MetricsSnapshot{
		Uptime:              uptime.Truncate(time.Second).String(),
		UptimeSeconds:       int64(uptime.Seconds()),
		ActiveConnections:   m.ActiveConnections.Load(),
		TotalConnections:    m.TotalConnections.Load(),
		TotalDisconnects:    m.TotalDisconnects.Load(),
		SuccessfulLogins:    m.SuccessfulLogins.Load(),
		FailedLogins:        m.FailedLogins.Load(),
		AccountsCreated:     m.AccountsCreated.Load(),
		PasswordChanges:     m.PasswordChanges.Load(),
		SaveFailures:        m.SaveFailures.Load(),
		ChatMessagesSent:    m.ChatMessagesSent.Load(),
		PrivateMessagesSent: m.PrivateMessagesSent.Load(),
		KickCount:           m.KickCount.Load(),
		OperatorChanges:     m.OperatorChanges.Load(),
		InvalidLines:        m.InvalidLines.Load(),
		DroppedLines:        m.DroppedLines.Load(),
	}
}

// JSON returns the metrics snapshot as a JSON string.
func (m *Metrics) JSON() string {
	data, err := json.MarshalIndent(m.Snapshot(), "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}

// LogSummary writes a metrics summary to the logger.
func (m *Metrics) LogSummary() {
	s := m.Snapshot()
	slog.Info("metrics",
		"uptime", s.Uptime,
		"connections", s.ActiveConnections,
		"total_connections", s.TotalConnections,
		"logins", s.SuccessfulLogins,
		"failed_logins", s.FailedLogins,
		"chat_msgs", s.ChatMessagesSent,
		"private_msgs", s.PrivateMessagesSent,
		"dropped_lines", s.DroppedLines,
	)
}

// RunPeriodicLog logs a summary every interval until ctx is done.
// A non-positive interval disables it.
func (m *Metrics) RunPeriodicLog(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.LogSummary()
		}
	}
}
