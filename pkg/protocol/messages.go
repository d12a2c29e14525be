package protocol

import "fmt"

// Prompts.
const (
	PromptName              = "What is your name? (Type below and press Return)"
	PromptNameAgain         = "Enter name:"
	PromptPassword          = "Password:"
	PromptPasswordAgain     = "Enter password:"
	PromptNewPassword       = "Enter new password:"
	PromptNewAccount        = "Enter password for new account:"
	PromptCurrentPassword   = "Current password: "
	PromptMessageText       = "Message text:"
	PromptKickOtherSession  = "Kick the other account? [Y/N]"
	PromptKickChoiceInvalid = "Enter Y or N: kick the other session using this account?"
)

// Errors and notices sent to a single connection.
const (
	InvalidUsername   = "Please enter a valid username. (Type below and press Return)"
	PasswordIncorrect = "Password incorrect. Enter password:"
	IncorrectPassword = "Incorrect password"
	AlreadyOnline     = "This account is being accessed somewhere else."
	NameTaken         = "! That name was taken while you were choosing a password."
	AccountCreated    = "Account created successfully."
	PasswordChanged   = "! Password changed"
	NotOnline         = "! That user isn't online right now."
	MessageSent       = "! Message sent"
	NowOperator       = "! You are now OP."
	NoLongerOperator  = "! You are no longer OP."
	SaveFailed        = "! Your changes could not be saved."
	AccountError      = "! Something went wrong, please try again."

	UsageMe      = "! usage: /me <action>"
	UsageKick    = "! usage: /kick <username> ..."
	UsageOp      = "! usage: /op <username> ..."
	UsageDeop    = "! usage: /deop <username> ..."
	UsageMessage = "! usage: /message <user> [text ...]"
)

// Welcome greets a freshly logged-in user.
func Welcome(name string) string {
	return fmt.Sprintf("Welcome %s!", name)
}

// OnlineCount reports how many users are logged in.
func OnlineCount(n int) string {
	return fmt.Sprintf("%d people online currently.", n)
}

// LongName formats a user together with their address.
func LongName(name, host, port string) string {
	return fmt.Sprintf("%s(%s:%s)", name, host, port)
}

// Joined announces a login to everyone else.
func Joined(longName string) string {
	return longName + " joined the chatroom."
}

// LostConnection announces a disconnect, with the quit reason if one was given.
func LostConnection(longName, reason string) string {
	msg := longName + " lost connection."
	if reason != "" {
		msg += ` ("` + reason + `")`
	}
	return msg
}

// Chat formats a broadcast chat line.
func Chat(name, text string) string {
	return fmt.Sprintf("[%s] %s", name, text)
}

// Action formats a /me line.
func Action(name, text string) string {
	return fmt.Sprintf("* %s %s", name, text)
}

// Private formats a private message as seen by its recipient.
func Private(sender, text string) string {
	return fmt.Sprintf("<msg: %s> %s", sender, text)
}

// UsageNick is the reply to a bare /nick (or alias).
func UsageNick(cmd string) string {
	return fmt.Sprintf("Usage: %s <new nick>", cmd)
}

// Kicked announces a kick, naming the operator when known.
func Kicked(name, by string) string {
	if by == "" {
		return fmt.Sprintf("! %s was kicked.", name)
	}
	return fmt.Sprintf("! %s was kicked by %s.", name, by)
}

// OperatorChanged announces an op or deop to everyone else.
func OperatorChanged(name string, operator bool) string {
	if operator {
		return fmt.Sprintf("! %s is now OP.", name)
	}
	return fmt.Sprintf("! %s is no longer OP.", name)
}
