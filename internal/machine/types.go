package machine

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidRequest: no command was given for a session that is already in progress.
	ErrInvalidRequest = errors.New("please specify a command or start a new session, this one is already in progress")
	// ErrProtocolViolation: the engine did something the turn cannot answer.
	ErrProtocolViolation = errors.New("engine protocol violation")
	// ErrSaveNotConfirmed: the engine finished without ever handing over a snapshot.
	ErrSaveNotConfirmed = fmt.Errorf("%w: engine never confirmed the save", ErrProtocolViolation)
)

// Request is one turn: a game image, the session to continue and an optional command.
type Request struct {
	Image      []byte
	Session    string
	Command    string
	HasCommand bool
}

// State is everything the controller decides on.
type State struct {
	// HasPendingRestore: a stored snapshot has not been handed to the engine yet.
	HasPendingRestore bool
	// CommandSent: the turn's command is with the engine, or there never was one.
	CommandSent bool
}

// Action is the controller's response to one event.
type Action int

const (
	ActionDeliverSnapshot Action = iota + 1
	ActionDeliverNone
	ActionPersist
	ActionSendRestore
	ActionSendCommand
	ActionSendSave
	ActionEmit
	ActionSuppress
)

func (a Action) String() string {
	switch a {
	case ActionDeliverSnapshot:
		return "deliver-snapshot"
	case ActionDeliverNone:
		return "deliver-none"
	case ActionPersist:
		return "persist"
	case ActionSendRestore:
		return "send-restore"
	case ActionSendCommand:
		return "send-command"
	case ActionSendSave:
		return "send-save"
	case ActionEmit:
		return "emit"
	case ActionSuppress:
		return "suppress"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// Literal commands the engine understands without help from the game.
const (
	restoreCommand = "restore"
	saveCommand    = "save"
)
