package server

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/bedekelly/twistchat/pkg/protocol"
	"github.com/bedekelly/twistchat/pkg/rbac"
)

func TestChatBroadcastExcludesSender(t *testing.T) {
	h := newHarness(t)
	alice := h.register("alice", "pw")
	bob := h.register("bob", "pw")
	lurker := h.connect()
	drain(alice)

	h.send(alice, "hello there")
	h.expect(bob, "[alice] hello there")
	h.expect(alice)
	h.expect(lurker)

	h.send(alice, "")
	h.expect(bob)

	if got := h.metrics.ChatMessagesSent.Load(); got != 1 {
		t.Fatalf("ChatMessagesSent: got %d, want 1", got)
	}
}

func TestBroadcastExcept(t *testing.T) {
	h := newHarness(t)
	alice := h.register("alice", "pw")
	bob := h.register("bob", "pw")
	carol := h.register("carol", "pw")
	drain(alice, bob)

	h.reg.Broadcast("! notice", bob.s)
	h.expect(alice, "! notice")
	h.expect(bob)
	h.expect(carol, "! notice")

	h.reg.Broadcast("! all", nil)
	h.expect(alice, "! all")
	h.expect(bob, "! all")
	h.expect(carol, "! all")
}

func TestMeIncludesSender(t *testing.T) {
	h := newHarness(t)
	alice := h.register("alice", "pw")
	bob := h.register("bob", "pw")
	drain(alice)

	h.send(alice, "/me waves hello")
	h.expect(alice, "* alice waves hello")
	h.expect(bob, "* alice waves hello")

	h.send(alice, "/me")
	h.expect(alice, protocol.UsageMe)
	h.expect(bob)
}

func TestNonOperatorRejected(t *testing.T) {
	h := newHarness(t)
	alice := h.register("alice", "pw")
	bob := h.register("bob", "pw")
	drain(alice)

	for _, line := range []string{"/kick bob", "/kick", "/op alice", "/deop bob"} {
		h.send(alice, line)
		h.expect(alice, rbac.NotOperator)
	}
	h.expect(bob)
	if bob.out.isClosed() {
		t.Fatalf("bob was kicked by a non-operator")
	}
}

func TestOperatorKick(t *testing.T) {
	h := newHarness(t)
	admin := h.loginAdmin()
	alice := h.register("alice", "pw")
	bob := h.register("bob", "pw")
	drain(admin, alice)

	h.send(admin, "/kick")
	h.expect(admin, protocol.UsageKick)

	h.send(admin, "/kick ghost")
	h.expect(admin, protocol.NotOnline)

	h.send(admin, "/kick alice")
	if !alice.out.isClosed() || !alice.s.muted {
		t.Fatalf("alice should be muted and closed")
	}
	h.expect(admin, "! alice was kicked by admin.")
	h.expect(bob, "! alice was kicked by admin.")
	h.expect(alice)
	if h.reg.isOnline("alice") {
		t.Fatalf("alice still online after kick")
	}

	h.reg.Disconnect(alice.s)
	h.expect(admin)
	h.expect(bob)

	if got := h.metrics.KickCount.Load(); got != 1 {
		t.Fatalf("KickCount: got %d, want 1", got)
	}
}

func TestOperatorKickSeveral(t *testing.T) {
	h := newHarness(t)
	admin := h.loginAdmin()
	alice := h.register("alice", "pw")
	bob := h.register("bob", "pw")
	drain(admin, alice)

	h.send(admin, "/kick alice ghost bob")
	h.expect(admin, "! alice was kicked by admin.", protocol.NotOnline, "! bob was kicked by admin.")
	if !alice.out.isClosed() || !bob.out.isClosed() {
		t.Fatalf("both targets should be closed")
	}
}

func TestOpAndDeop(t *testing.T) {
	h := newHarness(t)
	admin := h.loginAdmin()
	alice := h.register("alice", "pw")
	bob := h.register("bob", "pw")
	drain(admin, alice)

	h.send(admin, "/op")
	h.expect(admin, protocol.UsageOp)
	h.send(admin, "/deop")
	h.expect(admin, protocol.UsageDeop)

	h.send(admin, "/op ghost")
	h.expect(admin, protocol.NotOnline)
	if _, ok := h.reg.Credentials()["ghost"]; ok {
		t.Fatalf("op on an offline name created a record")
	}

	h.send(admin, "/op alice")
	h.expect(alice, protocol.NowOperator)
	h.expect(admin, "! alice is now OP.")
	h.expect(bob, "! alice is now OP.")
	if !alice.s.operator {
		t.Fatalf("live flag not set")
	}
	saved, err := h.st.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !saved["alice"].Operator {
		t.Fatalf("operator flag not persisted")
	}

	// The new operator can now kick.
	h.send(alice, "/kick bob")
	if !bob.out.isClosed() {
		t.Fatalf("alice could not kick after /op")
	}
	drain(admin, alice)

	h.send(admin, "/deop alice")
	h.expect(alice, protocol.NoLongerOperator)
	h.expect(admin, "! alice is no longer OP.")
	if alice.s.operator || h.reg.Credentials()["alice"].Operator {
		t.Fatalf("operator flag not cleared")
	}

	h.send(alice, "/op alice")
	h.expect(alice, rbac.NotOperator)

	if got := h.metrics.OperatorChanges.Load(); got != 2 {
		t.Fatalf("OperatorChanges: got %d, want 2", got)
	}
}

func TestPrivateMessages(t *testing.T) {
	h := newHarness(t)
	alice := h.register("alice", "pw")
	bob := h.register("bob", "pw")
	carol := h.register("carol", "pw")
	drain(alice, bob)

	h.send(alice, "/msg bob hi  there")
	h.expect(bob, "<msg: alice> hi there")
	h.expect(alice, protocol.MessageSent)
	h.expect(carol)

	h.send(alice, "/msg ghost hello")
	h.expect(alice, protocol.NotOnline)
	h.expect(bob)
	h.expect(carol)

	h.send(alice, "/msg")
	h.expect(alice, protocol.UsageMessage)

	h.send(alice, "/message bob")
	h.expect(alice, protocol.PromptMessageText)
	if alice.s.state != StateRequestingMessageText {
		t.Fatalf("state: got %s", alice.s.state)
	}

	// The pending text is delivered verbatim, even when it looks like a command.
	h.send(alice, "/quit now")
	h.expect(bob, "<msg: alice> /quit now")
	h.expect(alice, protocol.MessageSent)
	if alice.s.state != StateRegistered || alice.out.isClosed() {
		t.Fatalf("message text was treated as a command")
	}

	if got := h.metrics.PrivateMessagesSent.Load(); got != 2 {
		t.Fatalf("PrivateMessagesSent: got %d, want 2", got)
	}
}

func TestUnknownCommandIgnored(t *testing.T) {
	h := newHarness(t)
	alice := h.register("alice", "pw")
	bob := h.register("bob", "pw")
	drain(alice)

	h.send(alice, "/dance wildly")
	h.expect(alice)
	h.expect(bob)
}

func TestCustomOperatorCommands(t *testing.T) {
	h := newHarnessWithPolicy(t, rbac.NewPolicy([]string{"me"}))
	alice := h.register("alice", "pw")
	bob := h.register("bob", "pw")
	drain(alice)

	h.send(alice, "/me waves")
	h.expect(alice, rbac.NotOperator)
	h.expect(bob)

	// /kick is no longer gated.
	h.send(alice, "/kick bob")
	if !bob.out.isClosed() {
		t.Fatalf("ungated /kick did not run")
	}
}

func TestDisconnectIsIdempotent(t *testing.T) {
	h := newHarness(t)
	alice := h.register("alice", "pw")
	bob := h.register("bob", "pw")
	drain(alice)

	h.reg.Disconnect(bob.s)
	h.expect(alice, "bob(127.0.0.1:5002) lost connection.")
	h.reg.Disconnect(bob.s)
	h.expect(alice)

	if got := h.reg.SessionCount(); got != 1 {
		t.Fatalf("SessionCount: got %d, want 1", got)
	}
	if diff := cmp.Diff([]string{"alice"}, h.reg.OnlineNames()); diff != "" {
		t.Fatalf("OnlineNames mismatch (-want +got):\n%s", diff)
	}
	if got := h.metrics.TotalDisconnects.Load(); got != 1 {
		t.Fatalf("TotalDisconnects: got %d, want 1", got)
	}
}

func TestDisconnectBeforeLoginIsSilent(t *testing.T) {
	h := newHarness(t)
	alice := h.register("alice", "pw")
	guest := h.connect()
	h.send(guest, "bob")

	h.reg.Disconnect(guest.s)
	h.expect(alice)
	if got := h.reg.SessionCount(); got != 1 {
		t.Fatalf("SessionCount: got %d, want 1", got)
	}
}

func TestCloseAll(t *testing.T) {
	h := newHarness(t)
	alice := h.register("alice", "pw")
	guest := h.connect()

	h.reg.CloseAll()
	if !alice.out.isClosed() || !guest.out.isClosed() {
		t.Fatalf("CloseAll left a connection open")
	}
}
