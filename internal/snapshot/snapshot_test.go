package snapshot

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSnapshotIsImmutable(t *testing.T) {
	raw := []byte{1, 2, 3}
	s := New(raw)

	raw[0] = 9
	assert.Equal(t, []byte{1, 2, 3}, s.Bytes())

	out := s.Bytes()
	out[1] = 9
	assert.Equal(t, []byte{1, 2, 3}, s.Bytes())
	assert.Equal(t, 3, s.Len())
}

func TestSnapshotEqual(t *testing.T) {
	assert.True(t, New([]byte("abc")).Equal(New([]byte("abc"))))
	assert.False(t, New([]byte("abc")).Equal(New([]byte("abd"))))
	assert.True(t, New(nil).Equal(New([]byte{})))
}

func TestOpaqueDecoder(t *testing.T) {
	s, err := Opaque.DecodeSnapshot([]byte("anything"))
	assert.NoError(t, err)
	assert.Equal(t, []byte("anything"), s.Bytes())
}
