package machine

import (
	"fmt"

	"github.com/manuelinfosec/vmturn/internal/engine"
)

// Initial derives the starting state of a turn. A turn without a command
// starts with CommandSent already true, which is only allowed for a new session.
func Initial(hasSession, hasCommand bool) (State, error) {
	if !hasCommand && hasSession {
		return State{}, ErrInvalidRequest
	}
	return State{
		HasPendingRestore: hasSession,
		CommandSent:       !hasCommand,
	}, nil
}

// Transition decides the response to ev. It has no side effects; the
// Controller carries out the returned action.
//
// A pending restore is checked before the command at every prompt: the engine
// only prompts again once the restore has finished.
func Transition(s State, ev engine.Event) (State, Action, error) {
	switch ev.Kind {
	case engine.KindRequestSavedGame:
		if s.HasPendingRestore {
			s.HasPendingRestore = false
			return s, ActionDeliverSnapshot, nil
		}
		return s, ActionDeliverNone, nil

	case engine.KindConfirmSave:
		if ev.Save == nil {
			return s, 0, fmt.Errorf("%w: confirm-save without a snapshot", ErrProtocolViolation)
		}
		return s, ActionPersist, nil

	case engine.KindLineInput:
		switch {
		case s.HasPendingRestore:
			return s, ActionSendRestore, nil
		case !s.CommandSent:
			s.CommandSent = true
			return s, ActionSendCommand, nil
		default:
			return s, ActionSendSave, nil
		}

	case engine.KindOutputReady:
		if s.CommandSent && len(ev.Output) > 0 {
			return s, ActionEmit, nil
		}
		return s, ActionSuppress, nil
	}

	return s, 0, fmt.Errorf("%w: unexpected event %s", ErrProtocolViolation, ev.Kind)
}
