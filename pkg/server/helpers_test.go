package server

import (
	"net"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/bedekelly/twistchat/pkg/crypto"
	"github.com/bedekelly/twistchat/pkg/model"
	"github.com/bedekelly/twistchat/pkg/protocol"
	"github.com/bedekelly/twistchat/pkg/rbac"
	"github.com/bedekelly/twistchat/pkg/store"
)

const adminPassword = "adminpw"

var (
	adminHashOnce sync.Once
	adminHash     string
)

// adminSecret hashes adminPassword once per test binary.
func adminSecret(t *testing.T) string {
	t.Helper()
	adminHashOnce.Do(func() {
		h, err := crypto.HashPassword(adminPassword)
		if err != nil {
			t.Fatalf("HashPassword: %v", err)
		}
		adminHash = h
	})
	return adminHash
}

// recorder is an Outbound that keeps every line it is sent.
type recorder struct {
	mu     sync.Mutex
	lines  []string
	closed bool
}

func (r *recorder) Send(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, line)
}

func (r *recorder) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
}

// take returns the lines received since the last call.
func (r *recorder) take() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	lines := r.lines
	r.lines = nil
	return lines
}

func (r *recorder) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

type harness struct {
	t        *testing.T
	reg      *Registry
	st       *store.MemoryStore
	metrics  *Metrics
	nextPort int
}

// newHarness returns a registry whose only account is the operator "admin".
func newHarness(t *testing.T) *harness {
	return newHarnessWithPolicy(t, rbac.NewPolicy(rbac.DefaultOperatorCommands()))
}

func newHarnessWithPolicy(t *testing.T, policy *rbac.Policy) *harness {
	t.Helper()
	creds := model.Credentials{
		"admin": {Secret: adminSecret(t), Operator: true},
	}
	st := store.NewMemory()
	m := NewMetrics()
	return &harness{
		t:        t,
		reg:      NewRegistry(creds, st, policy, m),
		st:       st,
		metrics:  m,
		nextPort: 5001,
	}
}

type client struct {
	s   *Session
	out *recorder
}

func (c client) long() string {
	return c.s.longName()
}

// connect opens a session and discards the name prompt.
func (h *harness) connect() client {
	h.t.Helper()
	out := &recorder{}
	addr := &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: h.nextPort}
	h.nextPort++
	s := h.reg.Connect(out, addr)
	h.expect(client{s, out}, protocol.PromptName)
	return client{s, out}
}

func (h *harness) send(c client, lines ...string) {
	for _, line := range lines {
		h.reg.HandleLine(c.s, line)
	}
}

// expect checks that c received exactly want since the last check.
func (h *harness) expect(c client, want ...string) {
	h.t.Helper()
	got := c.out.take()
	if len(want) == 0 {
		want = nil
	}
	if diff := cmp.Diff(want, got); diff != "" {
		h.t.Fatalf("lines for %s mismatch (-want +got):\n%s", c.s.name, diff)
	}
}

// register creates a new account and leaves its session in the chatroom with
// all output consumed.
func (h *harness) register(name, password string) client {
	h.t.Helper()
	c := h.connect()
	h.send(c, name, password)
	c.out.take()
	if c.s.state != StateRegistered {
		h.t.Fatalf("register %s: state %s, want registered", name, c.s.state)
	}
	return c
}

// loginAdmin logs in the bootstrap operator with all output consumed.
func (h *harness) loginAdmin() client {
	h.t.Helper()
	c := h.connect()
	h.send(c, "admin", adminPassword)
	c.out.take()
	if !c.s.operator {
		h.t.Fatalf("admin is not operator after login")
	}
	return c
}

// drain discards pending output for every client.
func drain(clients ...client) {
	for _, c := range clients {
		c.out.take()
	}
}
