package server

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/bedekelly/twistchat/pkg/model"
	"github.com/bedekelly/twistchat/pkg/protocol"
	"github.com/bedekelly/twistchat/pkg/store"
)

type lineClient struct {
	t    *testing.T
	conn net.Conn
	r    *bufio.Reader
}

func dial(t *testing.T, addr net.Addr) *lineClient {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr.String(), 2*time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return &lineClient{t: t, conn: conn, r: bufio.NewReader(conn)}
}

func (c *lineClient) write(raw string) {
	c.t.Helper()
	if _, err := io.WriteString(c.conn, raw); err != nil {
		c.t.Fatalf("write: %v", err)
	}
}

func (c *lineClient) readLine() string {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	line, err := c.r.ReadString('\n')
	if err != nil {
		c.t.Fatalf("read: %v", err)
	}
	if !strings.HasSuffix(line, protocol.Delimiter) {
		c.t.Fatalf("line %q does not end in CRLF", line)
	}
	return strings.TrimSuffix(line, protocol.Delimiter)
}

func (c *lineClient) expect(want ...string) {
	c.t.Helper()
	for _, w := range want {
		if got := c.readLine(); got != w {
			c.t.Fatalf("got %q, want %q", got, w)
		}
	}
}

func startServer(t *testing.T) *Server {
	t.Helper()
	cfg := DefaultConfig()
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.MetricsInterval = 0
	srv := New(cfg, Dependencies{Store: store.NewMemory()})
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		srv.Shutdown()
		_ = srv.Wait()
	})
	return srv
}

func TestServerEndToEnd(t *testing.T) {
	srv := startServer(t)

	alice := dial(t, srv.Addr())
	alice.expect(protocol.PromptName)
	alice.write("alice\n")
	alice.expect(protocol.PromptNewAccount)
	alice.write("secret1\r\n")
	alice.expect(protocol.AccountCreated, "Welcome alice!", "1 people online currently.")

	bob := dial(t, srv.Addr())
	bob.expect(protocol.PromptName)
	bob.write("bob\npw\n")
	bob.expect(protocol.PromptNewAccount, protocol.AccountCreated, "Welcome bob!", "2 people online currently.")

	joined := alice.readLine()
	if !strings.HasPrefix(joined, "bob(127.0.0.1:") || !strings.HasSuffix(joined, ") joined the chatroom.") {
		t.Fatalf("unexpected join notice %q", joined)
	}

	// Undecodable and oversized lines are dropped and the connection stays usable.
	bob.write("\xff\xfe\n")
	bob.write(strings.Repeat("x", 2*protocol.MaxLineLength) + "\n")
	bob.write("  hello  \n")
	alice.expect("[bob] hello")

	bob.write("/msg alice psst\n")
	alice.expect("<msg: bob> psst")
	bob.expect(protocol.MessageSent)

	bob.write("/quit bye\n")
	left := alice.readLine()
	if !strings.HasPrefix(left, "bob(127.0.0.1:") || !strings.HasSuffix(left, `lost connection. ("bye")`) {
		t.Fatalf("unexpected leave notice %q", left)
	}

	_ = bob.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, err := bob.r.ReadString('\n'); !errors.Is(err, io.EOF) {
		t.Fatalf("bob read after quit: got %v, want EOF", err)
	}

	if got := srv.Metrics().InvalidLines.Load(); got != 2 {
		t.Fatalf("InvalidLines: got %d, want 2", got)
	}
	if got := srv.Registry().OnlineCount(); got != 1 {
		t.Fatalf("OnlineCount: got %d, want 1", got)
	}
}

func TestServerShutdownClosesConnections(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.MetricsInterval = 0
	srv := New(cfg, Dependencies{Store: store.NewMemory()})

	ctx, cancel := context.WithCancel(context.Background())
	if err := srv.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	c := dial(t, srv.Addr())
	c.expect(protocol.PromptName)

	cancel()
	done := make(chan error, 1)
	go func() { done <- srv.Wait() }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Wait: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("server did not stop")
	}

	_ = c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, err := c.r.ReadString('\n'); !errors.Is(err, io.EOF) {
		t.Fatalf("read after shutdown: got %v, want EOF", err)
	}
}

type brokenStore struct{ closed bool }

func (s *brokenStore) Load() (model.Credentials, error) { return nil, errors.New("corrupt") }
func (s *brokenStore) Save(model.Credentials) error     { return nil }
func (s *brokenStore) Close() error                     { s.closed = true; return nil }

func TestServerStartFailsOnBadStore(t *testing.T) {
	st := &brokenStore{}
	cfg := DefaultConfig()
	cfg.ListenAddr = "127.0.0.1:0"
	srv := New(cfg, Dependencies{Store: st})

	if err := srv.Start(context.Background()); err == nil {
		t.Fatalf("Start: expected error")
	}
	if !st.closed {
		t.Fatalf("store not closed after failed start")
	}
	if srv.Addr() != nil {
		t.Fatalf("listener bound despite failure")
	}
}

func TestServerStartRequiresStore(t *testing.T) {
	srv := New(DefaultConfig(), Dependencies{})
	if err := srv.Start(context.Background()); err == nil {
		t.Fatalf("Start: expected error")
	}
}
