package luavm

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/manuelinfosec/vmturn/internal/snapshot"
)

// Save file layout: magic, format version, sha256 of the game image, JSON of
// the game's state table.
const (
	magic         = "VMTS"
	formatVersion = 1
	headerSize    = len(magic) + 1 + sha256.Size
)

var (
	ErrBadMagic   = errors.New("not a saved game")
	ErrBadVersion = errors.New("unsupported saved game version")
	ErrWrongGame  = errors.New("saved game belongs to a different game image")
)

// Decoder validates stored sessions for this engine.
var Decoder snapshot.Decoder = snapshot.DecoderFunc(DecodeSnapshot)

func encodeSnapshot(image [sha256.Size]byte, body []byte) []byte {
	out := make([]byte, 0, headerSize+len(body))
	out = append(out, magic...)
	out = append(out, formatVersion)
	out = append(out, image[:]...)
	return append(out, body...)
}

type savedGame struct {
	image [sha256.Size]byte
	body  []byte
}

func parseSnapshot(raw []byte) (savedGame, error) {
	if len(raw) < headerSize || string(raw[:len(magic)]) != magic {
		return savedGame{}, ErrBadMagic
	}
	if v := raw[len(magic)]; v != formatVersion {
		return savedGame{}, fmt.Errorf("%w: %d", ErrBadVersion, v)
	}

	var g savedGame
	copy(g.image[:], raw[len(magic)+1:headerSize])
	g.body = raw[headerSize:]
	if !json.Valid(g.body) {
		return savedGame{}, fmt.Errorf("%w: state is not valid JSON", ErrBadMagic)
	}
	return g, nil
}

// DecodeSnapshot checks that raw looks like a save file this engine wrote.
// Whether it matches the loaded image is only known at restore time.
func DecodeSnapshot(raw []byte) (snapshot.Snapshot, error) {
	if _, err := parseSnapshot(raw); err != nil {
		return snapshot.Snapshot{}, err
	}
	return snapshot.New(raw), nil
}
