package demux

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// HeaderSize is the magic plus length prefix of every control message.
const HeaderSize = 8

// Magic tags.
const (
	MagicSubtitle     = "subv"
	MagicToolCall     = "tool"
	MagicConversation = "conv"
	MagicControl      = "ctrl"
	MagicFunction     = "func"
)

var (
	// ErrShortFrame reports a message of HeaderSize bytes or fewer.
	ErrShortFrame = errors.New("demux: frame too short")
	// ErrLengthMismatch reports a declared body length past the end of the message.
	ErrLengthMismatch = errors.New("demux: declared length exceeds frame")
	// ErrMalformedJSON reports a body that does not parse.
	ErrMalformedJSON = errors.New("demux: malformed json body")
)

// Frame is a split control message. Body aliases the input slice.
type Frame struct {
	Magic string
	Body  []byte
}

// Split parses the 8-byte header. The length field is big-endian; when it
// is shorter than the remaining bytes the trailing bytes are ignored.
func Split(msg []byte) (Frame, error) {
	if len(msg) <= HeaderSize {
		return Frame{}, fmt.Errorf("%w: %d bytes", ErrShortFrame, len(msg))
	}
	n := binary.BigEndian.Uint32(msg[4:HeaderSize])
	rest := msg[HeaderSize:]
	if uint64(n) > uint64(len(rest)) {
		return Frame{}, fmt.Errorf("%w: declared %d, have %d", ErrLengthMismatch, n, len(rest))
	}
	return Frame{Magic: string(msg[:4]), Body: rest[:n]}, nil
}

// ErrBadMagic reports a magic tag that is not exactly 4 bytes.
var ErrBadMagic = errors.New("demux: magic must be 4 bytes")

// Pack frames body under a 4-byte magic.
func Pack(magic string, body []byte) ([]byte, error) {
	if len(magic) != 4 {
		return nil, fmt.Errorf("%w: %q", ErrBadMagic, magic)
	}
	out := make([]byte, HeaderSize+len(body))
	copy(out, magic)
	binary.BigEndian.PutUint32(out[4:HeaderSize], uint32(len(body)))
	copy(out[HeaderSize:], body)
	return out, nil
}

// HasMagic reports whether msg starts with any known inbound tag.
func HasMagic(msg []byte) bool {
	if len(msg) < 4 {
		return false
	}
	switch string(msg[:4]) {
	case MagicSubtitle, MagicToolCall, MagicConversation:
		return true
	}
	return false
}
