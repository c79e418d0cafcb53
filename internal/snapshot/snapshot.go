package snapshot

import "bytes"

// Snapshot is an engine-defined save-game blob. The driver never looks inside it.
type Snapshot struct {
	data []byte
}

// Decoder turns raw stored bytes into a Snapshot, rejecting bytes the engine
// could never restore from.
type Decoder interface {
	DecodeSnapshot(raw []byte) (Snapshot, error)
}

// DecoderFunc adapts a plain function to Decoder.
type DecoderFunc func(raw []byte) (Snapshot, error)

func (f DecoderFunc) DecodeSnapshot(raw []byte) (Snapshot, error) {
	return f(raw)
}

// Opaque accepts any bytes unchanged.
var Opaque Decoder = DecoderFunc(func(raw []byte) (Snapshot, error) {
	return New(raw), nil
})

// New copies b into a new Snapshot.
func New(b []byte) Snapshot {
	return Snapshot{data: bytes.Clone(b)}
}

// Bytes returns a copy of the snapshot contents.
func (s Snapshot) Bytes() []byte {
	return bytes.Clone(s.data)
}

func (s Snapshot) Len() int {
	return len(s.data)
}

func (s Snapshot) Equal(other Snapshot) bool {
	return bytes.Equal(s.data, other.data)
}
