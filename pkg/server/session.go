package server

import (
	"log/slog"
	"net"
	"strings"

	"github.com/google/uuid"

	"github.com/bedekelly/twistchat/pkg/crypto"
	"github.com/bedekelly/twistchat/pkg/model"
	"github.com/bedekelly/twistchat/pkg/protocol"
)

// State is the position of a Session in the login/chat state machine.
type State int

const (
	StateRequestingName State = iota
	StateChoosingKickOtherSession
	StateRequestingLoginPassword
	StateRequestingNewAccountPassword
	StateRequestingCurrentPassword
	StateRequestingNewPassword
	StateRequestingMessageText
	StateRegistered
)

func (s State) String() string {
	switch s {
	case StateRequestingName:
		return "requesting_name"
	case StateChoosingKickOtherSession:
		return "choosing_kick_other_session"
	case StateRequestingLoginPassword:
		return "requesting_login_password"
	case StateRequestingNewAccountPassword:
		return "requesting_new_account_password"
	case StateRequestingCurrentPassword:
		return "requesting_current_password"
	case StateRequestingNewPassword:
		return "requesting_new_password"
	case StateRequestingMessageText:
		return "requesting_message_text"
	case StateRegistered:
		return "registered"
	default:
		return "unknown"
	}
}

// Outbound is the write side of a client connection. Send must not block on
// the peer; Close must be safe to call more than once.
type Outbound interface {
	Send(line string)
	Close()
}

// coordinator is the registry as seen by a session. Every method is called
// with the registry lock held.
type coordinator interface {
	isOnline(name string) bool
	onlineCount() int
	credential(name string) (model.Credential, bool)
	putCredential(name string, cred model.Credential) error
	operatorCheck(s *Session, cmd string) string
	registerOnline(name string, s *Session)
	unregisterOnline(s *Session)
	broadcast(text string, except *Session)
	deliverPrivate(sender *Session, recipient, text string)
	kickByName(name string, by *Session)
	setOperator(name string, operator bool, requester *Session)
	recordLogin(s *Session, created bool)
	recordFailedLogin(s *Session)
	recordChat(private bool)
	recordPasswordChange()
}

// Session is the protocol state for one connection. Its fields are guarded by
// the owning registry's lock.
type Session struct {
	id   string
	host string
	port string
	out  Outbound
	hub  coordinator
	log  *slog.Logger

	name     string
	state    State
	operator bool
	muted    bool
	closing  bool

	pendingName      string
	pendingRecipient string
	quitReason       string
}

func newSession(out Outbound, hub coordinator, remote net.Addr) *Session {
	host, port := splitAddr(remote)
	id := uuid.NewString()
	return &Session{
		id:    id,
		host:  host,
		port:  port,
		out:   out,
		hub:   hub,
		log:   slog.With("session", id, "remote", net.JoinHostPort(host, port)),
		name:  model.DefaultName,
		state: StateRequestingName,
	}
}

func splitAddr(addr net.Addr) (host, port string) {
	if addr == nil {
		return "unknown", "0"
	}
	host, port, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String(), "0"
	}
	return host, port
}

// ID returns the connection's unique id.
func (s *Session) ID() string { return s.id }

func (s *Session) longName() string {
	return protocol.LongName(s.name, s.host, s.port)
}

func (s *Session) send(line string) {
	s.out.Send(line)
}

// close asks the transport to shut down. Teardown happens once the read loop
// notices.
func (s *Session) close() {
	s.closing = true
	s.out.Close()
}

// handleLine interprets one received line according to the current state.
// Password checks and hashing are returned as a passwordJob for the registry
// to run without its lock.
func (s *Session) handleLine(line string) *passwordJob {
	if s.closing {
		return nil
	}
	switch s.state {
	case StateRequestingName:
		s.gotUsername(line)
	case StateChoosingKickOtherSession:
		s.gotKickChoice(line)
	case StateRequestingLoginPassword:
		return s.gotLoginPassword(line)
	case StateRequestingNewAccountPassword:
		return s.gotNewAccountPassword(line)
	case StateRequestingCurrentPassword:
		return s.gotCurrentPassword(line)
	case StateRequestingNewPassword:
		return s.gotNewPassword(line)
	case StateRequestingMessageText:
		s.gotMessageText(line)
	case StateRegistered:
		s.commandOrMessage(line)
	}
	return nil
}

// passwordJob splits a password step in two. work runs without the registry
// lock and must not touch session or registry state; commit runs with the
// lock held, and only if the session is still where the job left it.
type passwordJob struct {
	state  State
	name   string
	work   func()
	commit func()
}

// current reports whether j can still be committed.
func (s *Session) current(j *passwordJob) bool {
	if s.closing || s.state != j.state {
		return false
	}
	switch j.state {
	case StateRequestingLoginPassword, StateRequestingNewAccountPassword:
		return s.pendingName == j.name
	default:
		return s.name == j.name
	}
}

// Swapped in tests.
var (
	hashPassword   = crypto.HashPassword
	verifyPassword = crypto.VerifyPassword
)

// gotUsername validates a candidate name and picks the duplicate-session,
// login, or registration branch.
func (s *Session) gotUsername(name string) {
	if err := model.ValidateUsername(name); err != nil {
		s.send(protocol.InvalidUsername)
		return
	}

	s.pendingName = name
	switch {
	case s.hub.isOnline(name):
		s.send(protocol.AlreadyOnline)
		s.send(protocol.PromptKickOtherSession)
		s.state = StateChoosingKickOtherSession
	case s.hasAccount(name):
		s.send(protocol.PromptPassword)
		s.state = StateRequestingLoginPassword
	default:
		s.send(protocol.PromptNewAccount)
		s.state = StateRequestingNewAccountPassword
	}
}

func (s *Session) hasAccount(name string) bool {
	_, ok := s.hub.credential(name)
	return ok
}

func (s *Session) gotKickChoice(choice string) {
	switch choice {
	case "y", "Y":
		s.send(protocol.PromptPasswordAgain)
		s.state = StateRequestingLoginPassword
	case "n", "N":
		s.pendingName = ""
		s.send(protocol.PromptNameAgain)
		s.state = StateRequestingName
	default:
		s.send(protocol.PromptKickChoiceInvalid)
	}
}

func (s *Session) gotLoginPassword(password string) *passwordJob {
	name := s.pendingName
	cred, ok := s.hub.credential(name)
	if !ok {
		s.loginFailed()
		return nil
	}

	var valid bool
	return &passwordJob{
		state: StateRequestingLoginPassword,
		name:  name,
		work:  func() { valid = verifyPassword(cred.Secret, password) },
		commit: func() {
			latest, _ := s.hub.credential(name)
			if !valid || latest.Secret != cred.Secret {
				s.loginFailed()
				return
			}
			s.operator = latest.Operator
			s.hub.registerOnline(name, s)
			s.hub.recordLogin(s, false)
			s.welcome()
		},
	}
}

func (s *Session) loginFailed() {
	s.hub.recordFailedLogin(s)
	s.send(protocol.PasswordIncorrect)
}

func (s *Session) gotNewAccountPassword(password string) *passwordJob {
	if password == "" {
		s.send(protocol.PromptNewAccount)
		return nil
	}
	name := s.pendingName
	if s.nameTaken(name) {
		return nil
	}

	var (
		secret string
		err    error
	)
	return &passwordJob{
		state: StateRequestingNewAccountPassword,
		name:  name,
		work:  func() { secret, err = hashPassword(password) },
		commit: func() {
			if err != nil {
				s.log.Error("hash password", "err", err)
				s.send(protocol.AccountError)
				s.send(protocol.PromptNewAccount)
				return
			}
			if s.nameTaken(name) {
				return
			}
			saveErr := s.hub.putCredential(name, model.Credential{Secret: secret})

			s.operator = false
			s.hub.registerOnline(name, s)
			s.send(protocol.AccountCreated)
			if saveErr != nil {
				s.send(protocol.SaveFailed)
			}
			s.hub.recordLogin(s, true)
			s.welcome()
		},
	}
}

// nameTaken sends the user back to the name prompt if someone registered name
// while this user was typing a password.
func (s *Session) nameTaken(name string) bool {
	if !s.hasAccount(name) {
		return false
	}
	s.pendingName = ""
	s.send(protocol.NameTaken)
	s.send(protocol.PromptName)
	s.state = StateRequestingName
	return true
}

func (s *Session) gotCurrentPassword(password string) *passwordJob {
	cred, ok := s.hub.credential(s.name)
	if !ok {
		s.send(protocol.IncorrectPassword)
		s.send(protocol.PromptCurrentPassword)
		return nil
	}

	var valid bool
	return &passwordJob{
		state: StateRequestingCurrentPassword,
		name:  s.name,
		work:  func() { valid = verifyPassword(cred.Secret, password) },
		commit: func() {
			latest, _ := s.hub.credential(s.name)
			if !valid || latest.Secret != cred.Secret {
				s.send(protocol.IncorrectPassword)
				s.send(protocol.PromptCurrentPassword)
				return
			}
			s.send(protocol.PromptNewPassword)
			s.state = StateRequestingNewPassword
		},
	}
}

func (s *Session) gotNewPassword(password string) *passwordJob {
	if password == "" {
		s.send(protocol.PromptNewPassword)
		return nil
	}

	var (
		secret string
		err    error
	)
	return &passwordJob{
		state: StateRequestingNewPassword,
		name:  s.name,
		work:  func() { secret, err = hashPassword(password) },
		commit: func() {
			s.state = StateRegistered
			if err != nil {
				s.log.Error("hash password", "err", err)
				s.send(protocol.AccountError)
				return
			}
			cred, _ := s.hub.credential(s.name)
			cred.Secret = secret
			saveErr := s.hub.putCredential(s.name, cred)
			s.send(protocol.PasswordChanged)
			if saveErr != nil {
				s.send(protocol.SaveFailed)
			}
			s.hub.recordPasswordChange()
			s.log.Info("password changed", "user", s.name)
		},
	}
}

func (s *Session) gotMessageText(text string) {
	recipient := s.pendingRecipient
	s.pendingRecipient = ""
	s.state = StateRegistered
	s.hub.deliverPrivate(s, recipient, text)
}

// welcome greets the user and announces them to everyone else.
func (s *Session) welcome() {
	s.log.Info("user logged in", "user", s.name, "operator", s.operator)
	s.send(protocol.Welcome(s.name))
	s.send(protocol.OnlineCount(s.hub.onlineCount()))
	if !s.muted {
		s.hub.broadcast(protocol.Joined(s.longName()), s)
	}
}

// commandOrMessage handles a line from a registered user.
func (s *Session) commandOrMessage(line string) {
	if strings.HasPrefix(line, "/") {
		s.handleCommand(line)
		return
	}
	if s.muted || line == "" {
		return
	}
	s.hub.broadcast(protocol.Chat(s.name, line), s)
	s.hub.recordChat(false)
}
