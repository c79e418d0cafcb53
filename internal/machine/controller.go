package machine

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/manuelinfosec/vmturn/internal/engine"
	"github.com/manuelinfosec/vmturn/internal/snapshot"
)

// Controller plays one turn against an engine. Build a new one per request.
type Controller struct {
	app     *AppContext
	req     Request
	state   State
	pending *snapshot.Snapshot
	eng     engine.Engine
	log     *logrus.Entry

	events int
	saved  bool
}

// New loads the session and checks the request. It fails with
// ErrInvalidRequest before any engine is involved.
func New(ctx context.Context, app *AppContext, req Request) (*Controller, error) {
	log := logrus.WithFields(logrus.Fields{
		"turn":    uuid.NewString(),
		"session": req.Session,
	})

	stored, err := app.Store.Load(ctx, req.Session)
	if err != nil {
		log.Errorf("Failed to load session: %v", err)
		return nil, fmt.Errorf("failed to load session %s: %w", req.Session, err)
	}

	state, err := Initial(stored != nil, req.HasCommand)
	if err != nil {
		log.Infof("Rejected turn: %v", err)
		return nil, err
	}

	log.Infof("Turn ready: restore=%t command=%t", state.HasPendingRestore, req.HasCommand)
	return &Controller{
		app:     app,
		req:     req,
		state:   state,
		pending: stored,
		log:     log,
	}, nil
}

// State reports the controller flags.
func (c *Controller) State() State {
	return c.state
}

// Run loads the image into eng and drives it until it stops. The turn only
// succeeds if the engine handed over a snapshot that was persisted.
func (c *Controller) Run(ctx context.Context, eng engine.Engine) error {
	c.eng = eng
	eng.SetSaveCapability(true)
	eng.OnEvent(func(ev engine.Event) error {
		return c.handle(ctx, ev)
	})

	if err := eng.Load(c.req.Image); err != nil {
		c.log.Errorf("Failed to load image: %v", err)
		return fmt.Errorf("failed to load image: %w", err)
	}
	c.log.Infof("Loaded %d byte image", len(c.req.Image))

	if err := eng.Run(); err != nil {
		c.log.Errorf("Turn failed after %d events: %v", c.events, err)
		return fmt.Errorf("turn failed: %w", err)
	}

	if !c.saved {
		c.log.Errorf("Engine stopped after %d events without a save", c.events)
		return ErrSaveNotConfirmed
	}

	c.log.Infof("Turn finished after %d events", c.events)
	return nil
}

func (c *Controller) maxEvents() int {
	if c.app.MaxEvents <= 0 {
		return DefaultMaxEvents
	}
	return c.app.MaxEvents
}

// handle runs inside the engine's call stack and may be re-entered by the
// engine call it makes. State is updated before that call.
func (c *Controller) handle(ctx context.Context, ev engine.Event) error {
	c.events++
	if c.events > c.maxEvents() {
		return fmt.Errorf("%w: more than %d events in one turn", ErrProtocolViolation, c.maxEvents())
	}

	next, action, err := Transition(c.state, ev)
	if err != nil {
		return err
	}
	c.state = next
	c.log.Debugf("event=%s action=%s state=%+v", ev.Kind, action, next)

	switch action {
	case ActionDeliverSnapshot:
		snap := c.pending
		c.pending = nil
		c.log.Infof("Restoring %d byte snapshot", snap.Len())
		return c.eng.DeliverSnapshotForRestore(snap)

	case ActionDeliverNone:
		return c.eng.DeliverSnapshotForRestore(nil)

	case ActionPersist:
		return c.persist(ctx, ev.Save)

	case ActionSendRestore:
		return c.eng.SendLine(restoreCommand)

	case ActionSendCommand:
		c.log.Infof("Sending command")
		return c.eng.SendLine(c.req.Command)

	case ActionSendSave:
		return c.eng.SendLine(saveCommand)

	case ActionEmit:
		return c.app.Sink.Emit(ev.Output)

	case ActionSuppress:
		return nil
	}

	return fmt.Errorf("%w: no handler for %s", ErrProtocolViolation, action)
}

func (c *Controller) persist(ctx context.Context, h engine.SaveHandle) error {
	data, err := h.Serialize()
	if err != nil {
		c.log.Errorf("Failed to serialize snapshot: %v", err)
		return fmt.Errorf("failed to serialize snapshot: %w", err)
	}

	if err := c.app.Store.Save(ctx, c.req.Session, snapshot.New(data)); err != nil {
		return fmt.Errorf("failed to save session %s: %w", c.req.Session, err)
	}
	c.saved = true
	c.log.Infof("Saved %d byte snapshot", len(data))
	return nil
}
