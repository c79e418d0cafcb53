// Package engine describes the virtual-machine engine a turn is played against.
//
// Engines are single-threaded and reentrant: Run, SendLine and
// DeliverSnapshotForRestore may call the registered Handler again before they
// return. Whatever error a Handler returns must stop the engine and come back
// out of the call that triggered it.
package engine

import (
	"fmt"

	"github.com/manuelinfosec/vmturn/internal/snapshot"
)

// Kind tags a lifecycle event.
type Kind int

const (
	KindUnknown Kind = iota
	// KindRequestSavedGame asks the host for the snapshot to restore.
	KindRequestSavedGame
	// KindConfirmSave carries a snapshot for the host to persist. The host
	// does not reply; the engine flushes its output and stops.
	KindConfirmSave
	// KindLineInput asks the host for the next line of input.
	KindLineInput
	// KindOutputReady carries channel output.
	KindOutputReady
)

func (k Kind) String() string {
	switch k {
	case KindRequestSavedGame:
		return "request-saved-game"
	case KindConfirmSave:
		return "confirm-save"
	case KindLineInput:
		return "line-input"
	case KindOutputReady:
		return "output-ready"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Output is text per output channel, e.g. {"MAIN": "You are in a cave."}.
type Output map[string]string

// SaveHandle produces the bytes of a snapshot being saved.
type SaveHandle interface {
	Serialize() ([]byte, error)
}

// SaveBytes is a SaveHandle over bytes that already exist.
type SaveBytes []byte

func (b SaveBytes) Serialize() ([]byte, error) {
	return b, nil
}

type Event struct {
	Kind   Kind
	Output Output     // nil when there is nothing to show
	Save   SaveHandle // set for KindConfirmSave only
}

type Handler func(Event) error

// Engine is the capability set the turn controller drives.
type Engine interface {
	Load(image []byte) error
	// SetSaveCapability tells the engine the host honours save and restore.
	SetSaveCapability(enabled bool)
	OnEvent(handler Handler)
	// Run boots the engine and drives the whole event sequence before returning.
	Run() error
	// DeliverSnapshotForRestore answers KindRequestSavedGame. nil means no snapshot.
	DeliverSnapshotForRestore(snap *snapshot.Snapshot) error
	// SendLine answers KindLineInput.
	SendLine(text string) error
}
