package server

import (
	"strings"

	"github.com/bedekelly/twistchat/pkg/protocol"
)

// handleCommand runs a "/"-prefixed line from a registered user. Operator
// gating happens before any parameter checks. Unknown commands are ignored.
func (s *Session) handleCommand(text string) {
	fields := strings.Fields(text)
	cmd, params := fields[0], fields[1:]
	s.log.Debug("command", "user", s.name, "text", text)

	if msg := s.hub.operatorCheck(s, cmd); msg != "" {
		s.send(msg)
		return
	}

	switch cmd {
	case "/quit", "/leave":
		s.quitReason = strings.Join(params, " ")
		s.close()

	case "/nick", "/user", "/username":
		if len(params) == 0 {
			s.send(protocol.UsageNick(cmd))
			return
		}
		s.hub.unregisterOnline(s)
		s.state = StateRequestingName
		s.gotUsername(strings.Join(params, "_"))

	case "/me":
		if len(params) == 0 {
			s.send(protocol.UsageMe)
			return
		}
		if !s.muted {
			s.hub.broadcast(protocol.Action(s.name, strings.Join(params, " ")), nil)
		}

	case "/kick":
		if len(params) == 0 {
			s.send(protocol.UsageKick)
			return
		}
		for _, name := range params {
			s.hub.kickByName(name, s)
		}

	case "/op", "/deop":
		if len(params) == 0 {
			if cmd == "/op" {
				s.send(protocol.UsageOp)
			} else {
				s.send(protocol.UsageDeop)
			}
			return
		}
		for _, name := range params {
			s.hub.setOperator(name, cmd == "/op", s)
		}

	case "/changepass":
		s.send(protocol.PromptCurrentPassword)
		s.state = StateRequestingCurrentPassword

	case "/message", "/msg":
		switch len(params) {
		case 0:
			s.send(protocol.UsageMessage)
		case 1:
			s.pendingRecipient = params[0]
			s.send(protocol.PromptMessageText)
			s.state = StateRequestingMessageText
		default:
			s.hub.deliverPrivate(s, params[0], strings.Join(params[1:], " "))
		}
	}
}
