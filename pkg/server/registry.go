package server

import (
	"log/slog"
	"maps"
	"net"
	"slices"
	"sync"

	"github.com/bedekelly/twistchat/pkg/model"
	"github.com/bedekelly/twistchat/pkg/protocol"
	"github.com/bedekelly/twistchat/pkg/rbac"
	"github.com/bedekelly/twistchat/pkg/store"
)

// Registry owns every live session, the online-by-name index, and the
// in-memory credential mapping. One mutex serializes all of it: each received
// line is handled under the lock, so cross-session effects (kick, op,
// duplicate login, broadcast) see a consistent view. Password hashing is the
// one step that runs outside it.
type Registry struct {
	mu       sync.Mutex
	sessions map[*Session]struct{}
	online   map[string]*Session
	creds    model.Credentials
	store    store.CredentialStore
	policy   *rbac.Policy
	metrics  *Metrics
}

// NewRegistry creates a registry over an already loaded credential mapping.
// Changes are written through to st.
func NewRegistry(creds model.Credentials, st store.CredentialStore, policy *rbac.Policy, metrics *Metrics) *Registry {
	if creds == nil {
		creds = model.Credentials{}
	}
	if policy == nil {
		policy = rbac.NewPolicy(rbac.DefaultOperatorCommands())
	}
	if metrics == nil {
		metrics = NewMetrics()
	}
	return &Registry{
		sessions: make(map[*Session]struct{}),
		online:   make(map[string]*Session),
		creds:    creds.Clone(),
		store:    st,
		policy:   policy,
		metrics:  metrics,
	}
}

// Connect creates a session for a new connection and sends the name prompt.
func (r *Registry) Connect(out Outbound, remote net.Addr) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := newSession(out, r, remote)
	r.sessions[s] = struct{}{}
	s.log.Info("connected", "name", s.longName())
	s.send(protocol.PromptName)
	return s
}

// HandleLine feeds one received line to s. Lines for one session must not be
// handled concurrently.
func (r *Registry) HandleLine(s *Session, line string) {
	r.mu.Lock()
	job := s.handleLine(line)
	r.mu.Unlock()
	if job == nil {
		return
	}

	job.work()

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, live := r.sessions[s]; !live || !s.current(job) {
		s.log.Debug("discarding stale password result", "state", job.state)
		return
	}
	job.commit()
}

// Disconnect tears s down after its connection closed. A registered session
// that was not kicked announces its departure first. Calling Disconnect more
// than once is harmless.
func (r *Registry) Disconnect(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[s]; !ok {
		return
	}
	msg := protocol.LostConnection(s.longName(), s.quitReason)
	s.log.Info("disconnected", "name", s.longName(), "reason", s.quitReason, "muted", s.muted)
	if s.state == StateRegistered && !s.muted {
		r.broadcast(msg, s)
	}
	r.removeConnection(s)
}

// CloseAll closes every live connection.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for s := range r.sessions {
		s.close()
	}
}

// Broadcast sends text to every registered session except except.
func (r *Registry) Broadcast(text string, except *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.broadcast(text, except)
}

// OnlineCount returns how many users are logged in.
func (r *Registry) OnlineCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.online)
}

// SessionCount returns how many connections are live.
func (r *Registry) SessionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// OnlineNames returns the logged-in usernames in lexical order.
func (r *Registry) OnlineNames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Sorted(maps.Keys(r.online))
}

// Credentials returns a copy of the in-memory credential mapping.
func (r *Registry) Credentials() model.Credentials {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.creds.Clone()
}

// ---- lock-held helpers; these implement coordinator ----

func (r *Registry) isOnline(name string) bool {
	_, ok := r.online[name]
	return ok
}

func (r *Registry) onlineCount() int {
	return len(r.online)
}

func (r *Registry) credential(name string) (model.Credential, bool) {
	cred, ok := r.creds[name]
	return cred, ok
}

// putCredential updates the mapping and writes it through. The in-memory
// change stands even when the save fails.
func (r *Registry) putCredential(name string, cred model.Credential) error {
	r.creds[name] = cred
	return r.persist()
}

func (r *Registry) persist() error {
	if r.store == nil {
		return nil
	}
	if err := r.store.Save(r.creds); err != nil {
		r.metrics.SaveFailures.Add(1)
		slog.Error("save credentials", "err", err)
		return err
	}
	return nil
}

func (r *Registry) operatorCheck(s *Session, cmd string) string {
	return r.policy.Check(s.operator, cmd)
}

// registerOnline gives s the identity name. Any other session holding name is
// kicked before s is inserted, so a name never maps to two sessions.
func (r *Registry) registerOnline(name string, s *Session) {
	if other, ok := r.online[name]; ok && other != s {
		r.kick(other, nil)
	}
	s.name = name
	s.pendingName = ""
	s.state = StateRegistered
	r.online[name] = s
}

// unregisterOnline drops s from the online index if it is the holder of its
// current name.
func (r *Registry) unregisterOnline(s *Session) {
	if r.online[s.name] == s {
		delete(r.online, s.name)
	}
}

func (r *Registry) removeConnection(s *Session) {
	delete(r.sessions, s)
	r.unregisterOnline(s)
	r.metrics.TotalDisconnects.Add(1)
}

// broadcast sends text to every registered, open session except except.
func (r *Registry) broadcast(text string, except *Session) {
	for s := range r.sessions {
		if s == except || s.state != StateRegistered || s.closing {
			continue
		}
		s.send(text)
	}
}

func (r *Registry) deliverPrivate(sender *Session, recipient, text string) {
	target, ok := r.online[recipient]
	if !ok {
		sender.send(protocol.NotOnline)
		return
	}
	target.send(protocol.Private(sender.name, text))
	sender.send(protocol.MessageSent)
	r.recordChat(true)
}

func (r *Registry) kickByName(name string, by *Session) {
	target, ok := r.online[name]
	if !ok {
		if by != nil {
			by.send(protocol.NotOnline)
		}
		return
	}
	r.kick(target, by)
}

// kick mutes and closes target so its teardown stays silent, then tells
// everyone else.
func (r *Registry) kick(target *Session, by *Session) {
	target.muted = true
	r.unregisterOnline(target)
	target.close()

	byName := ""
	if by != nil {
		byName = by.name
	}
	slog.Info("user kicked", "user", target.name, "by", byName, "session", target.id)
	r.metrics.KickCount.Add(1)
	r.broadcast(protocol.Kicked(target.name, byName), target)
}

// setOperator changes an online user's operator flag, live and persisted.
func (r *Registry) setOperator(name string, operator bool, requester *Session) {
	target, ok := r.online[name]
	if !ok {
		requester.send(protocol.NotOnline)
		return
	}

	cred := r.creds[name]
	cred.Operator = operator
	saveErr := r.putCredential(name, cred)
	target.operator = operator

	if operator {
		target.send(protocol.NowOperator)
	} else {
		target.send(protocol.NoLongerOperator)
	}
	r.broadcast(protocol.OperatorChanged(name, operator), target)
	if saveErr != nil {
		requester.send(protocol.SaveFailed)
	}

	slog.Info("operator changed", "user", name, "operator", operator, "by", requester.name)
	r.metrics.OperatorChanges.Add(1)
}

func (r *Registry) recordLogin(s *Session, created bool) {
	r.metrics.SuccessfulLogins.Add(1)
	if created {
		r.metrics.AccountsCreated.Add(1)
		s.log.Info("account registered", "user", s.name)
	}
}

func (r *Registry) recordFailedLogin(s *Session) {
	r.metrics.FailedLogins.Add(1)
	s.log.Warn("password incorrect", "user", s.pendingName)
}

func (r *Registry) recordChat(private bool) {
	if private {
		r.metrics.PrivateMessagesSent.Add(1)
		return
	}
	r.metrics.ChatMessagesSent.Add(1)
}

func (r *Registry) recordPasswordChange() {
	r.metrics.PasswordChanges.Add(1)
}

var _ coordinator = (*Registry)(nil)
