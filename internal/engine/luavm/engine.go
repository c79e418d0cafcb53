// Package luavm is an engine whose game images are Lua 5.2 source.
//
// A game may define:
//
//	state = { ... }          -- saved and restored as a whole
//	function boot() end      -- runs once per process, before the first prompt
//	function command(line) end
//
// and may call say(text) to write to the MAIN channel or emit(channel, text)
// for any other channel. With save capability enabled the lines "save" and
// "restore" are handled by the engine instead of the game.
package luavm

import (
	"bytes"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/Shopify/go-lua"
	"github.com/sirupsen/logrus"

	"github.com/manuelinfosec/vmturn/internal/engine"
	"github.com/manuelinfosec/vmturn/internal/snapshot"
)

const mainChannel = "MAIN"

var (
	ErrNotLoaded = errors.New("no game image loaded")
	ErrHalted    = errors.New("engine has halted")
)

type Engine struct {
	state   *lua.State
	image   [sha256.Size]byte
	handler engine.Handler
	canSave bool

	output map[string]*strings.Builder

	restoring bool
	delivered *snapshot.Snapshot
	halted    bool
}

func New() *Engine {
	return &Engine{output: map[string]*strings.Builder{}}
}

func (e *Engine) SetSaveCapability(enabled bool) { e.canSave = enabled }

func (e *Engine) OnEvent(handler engine.Handler) { e.handler = handler }

// Load compiles and runs the image's top-level chunk.
func (e *Engine) Load(image []byte) error {
	state := lua.NewState()
	lua.OpenLibraries(state)
	state.Register("say", e.luaSay)
	state.Register("emit", e.luaEmit)

	if err := lua.LoadBuffer(state, string(image), "=game", "t"); err != nil {
		return fmt.Errorf("failed to compile game image: %w", err)
	}
	if err := protectedCall(state, 0); err != nil {
		return fmt.Errorf("failed to run game image: %w", err)
	}

	state.Global("command")
	ok := state.IsFunction(-1)
	state.Pop(1)
	if !ok {
		return fmt.Errorf("game image does not define command(line)")
	}

	e.state = state
	e.image = sha256.Sum256(image)
	e.halted = false
	logrus.Infof("Lua game loaded (image %x)", e.image[:8])
	return nil
}

// Run boots the game and prompts for the first line.
func (e *Engine) Run() error {
	if e.state == nil {
		return ErrNotLoaded
	}
	if e.handler == nil {
		return fmt.Errorf("no event handler registered")
	}

	if err := e.callOptional("boot"); err != nil {
		return err
	}
	return e.prompt()
}

func (e *Engine) SendLine(text string) error {
	if e.state == nil {
		return ErrNotLoaded
	}
	if e.halted {
		return ErrHalted
	}

	if e.canSave {
		switch strings.ToLower(strings.TrimSpace(text)) {
		case "save":
			return e.save()
		case "restore":
			return e.restore()
		}
	}

	e.state.Global("command")
	e.state.PushString(text)
	if err := protectedCall(e.state, 1); err != nil {
		return fmt.Errorf("game command failed: %w", err)
	}
	return e.prompt()
}

// DeliverSnapshotForRestore is only valid while a restore is waiting on the host.
func (e *Engine) DeliverSnapshotForRestore(snap *snapshot.Snapshot) error {
	if !e.restoring {
		return fmt.Errorf("saved game delivered while no restore is in progress")
	}
	e.delivered = snap
	return nil
}

func (e *Engine) save() error {
	handle := saveHandle{engine: e}
	if err := e.handler(engine.Event{Kind: engine.KindConfirmSave, Save: handle}); err != nil {
		return err
	}
	e.halted = true
	return e.flush()
}

func (e *Engine) restore() error {
	e.restoring = true
	e.delivered = nil
	err := e.handler(engine.Event{Kind: engine.KindRequestSavedGame})
	e.restoring = false
	if err != nil {
		return err
	}

	snap := e.delivered
	e.delivered = nil
	if snap == nil {
		e.write(mainChannel, "Restore failed.")
		return e.prompt()
	}

	// A rejected save must not fall through to a fresh game the host would
	// then save over the session.
	if err := e.load(snap.Bytes()); err != nil {
		logrus.Warnf("Saved game rejected: %v", err)
		return fmt.Errorf("failed to restore saved game: %w", err)
	}

	e.write(mainChannel, "Restored.")
	return e.prompt()
}

// load replaces the state global with the saved one.
func (e *Engine) load(raw []byte) error {
	g, err := parseSnapshot(raw)
	if err != nil {
		return err
	}
	if g.image != e.image {
		return ErrWrongGame
	}

	var value any
	if err := json.Unmarshal(g.body, &value); err != nil {
		return fmt.Errorf("failed to decode state: %w", err)
	}
	pushGo(e.state, value)
	e.state.SetGlobal("state")
	return nil
}

// serialize captures the state global as a save file.
func (e *Engine) serialize() ([]byte, error) {
	e.state.Global("state")
	value, err := luaToGo(e.state, -1, 0)
	e.state.Pop(1)
	if err != nil {
		return nil, fmt.Errorf("failed to capture state: %w", err)
	}

	var body bytes.Buffer
	enc := json.NewEncoder(&body)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(value); err != nil {
		return nil, fmt.Errorf("failed to encode state: %w", err)
	}
	return encodeSnapshot(e.image, bytes.TrimRight(body.Bytes(), "\n")), nil
}

type saveHandle struct {
	engine *Engine
}

func (h saveHandle) Serialize() ([]byte, error) {
	return h.engine.serialize()
}

func (e *Engine) prompt() error {
	if err := e.flush(); err != nil {
		return err
	}
	return e.handler(engine.Event{Kind: engine.KindLineInput})
}

// flush hands buffered output to the host, if there is any.
func (e *Engine) flush() error {
	if len(e.output) == 0 {
		return nil
	}
	out := make(engine.Output, len(e.output))
	for channel, b := range e.output {
		out[channel] = b.String()
	}
	e.output = map[string]*strings.Builder{}
	return e.handler(engine.Event{Kind: engine.KindOutputReady, Output: out})
}

func (e *Engine) write(channel, text string) {
	b, ok := e.output[channel]
	if !ok {
		b = &strings.Builder{}
		e.output[channel] = b
	}
	if b.Len() > 0 {
		b.WriteByte('\n')
	}
	b.WriteString(text)
}

func (e *Engine) callOptional(name string) error {
	e.state.Global(name)
	if !e.state.IsFunction(-1) {
		e.state.Pop(1)
		return nil
	}
	if err := protectedCall(e.state, 0); err != nil {
		return fmt.Errorf("game %s failed: %w", name, err)
	}
	return nil
}

// protectedCall calls the function below the top args values and reports the
// Lua error message, leaving the stack as it was before the function was pushed.
func protectedCall(state *lua.State, args int) error {
	base := state.Top() - args - 1
	err := state.ProtectedCall(args, 0, 0)
	if err == nil {
		return nil
	}
	if state.Top() > base {
		if msg, ok := state.ToString(-1); ok {
			err = errors.New(msg)
		}
	}
	state.SetTop(base)
	return err
}

func (e *Engine) luaSay(state *lua.State) int {
	e.write(mainChannel, lua.CheckString(state, 1))
	return 0
}

func (e *Engine) luaEmit(state *lua.State) int {
	channel := lua.CheckString(state, 1)
	text := lua.CheckString(state, 2)
	e.write(strings.ToUpper(channel), text)
	return 0
}
