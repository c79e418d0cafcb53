package machine

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/manuelinfosec/vmturn/internal/engine"
	"github.com/manuelinfosec/vmturn/internal/storage"
)

// DefaultMaxEvents bounds the events one turn may take before it is treated as stuck.
const DefaultMaxEvents = 256

// AppContext holds shared dependencies for a turn.
type AppContext struct {
	Store storage.Store
	Sink  Sink
	// MaxEvents <= 0 means DefaultMaxEvents.
	MaxEvents int
}

// Sink receives the output of a turn.
type Sink interface {
	Emit(out engine.Output) error
}

// JSONSink writes each output as one JSON object per line.
type JSONSink struct {
	enc *json.Encoder
}

func NewJSONSink(w io.Writer) *JSONSink {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return &JSONSink{enc: enc}
}

func (s *JSONSink) Emit(out engine.Output) error {
	if err := s.enc.Encode(out); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}
