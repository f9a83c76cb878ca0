package transport

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/AmirulAndalib/ockam/internal/node"
)

const (
	frameHeaderSize = 4
	// MaxFrameSize bounds a single frame on the wire. Oversized frames
	// indicate a broken or hostile peer and close the connection.
	MaxFrameSize = 1 << 20
)

var (
	// ErrFrameTooLarge means a frame header announced more than
	// MaxFrameSize bytes.
	ErrFrameTooLarge = errors.New("frame exceeds size limit")
	// ErrMalformedFrame means a frame body could not be decoded.
	ErrMalformedFrame = errors.New("malformed frame")
)

// Envelope is the unit carried over a transport connection: an opaque
// payload plus the routing addresses it travels between. The transport
// never inspects the payload; encrypted channel traffic passes through
// unchanged.
type Envelope struct {
	Source      node.Address `json:"source"`
	Destination node.Address `json:"destination"`
	Payload     []byte       `json:"payload"`
}

// writeFrame writes one length-prefixed envelope.
func writeFrame(w io.Writer, env *Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	if len(body) > MaxFrameSize {
		return fmt.Errorf("%d bytes: %w", len(body), ErrFrameTooLarge)
	}

	frame := make([]byte, frameHeaderSize+len(body))
	binary.BigEndian.PutUint32(frame[:frameHeaderSize], uint32(len(body)))
	copy(frame[frameHeaderSize:], body)

	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// readFrame reads one length-prefixed envelope.
func readFrame(r io.Reader) (*Envelope, error) {
	var header [frameHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	size := binary.BigEndian.Uint32(header[:])
	if size > MaxFrameSize {
		return nil, fmt.Errorf("%d bytes: %w", size, ErrFrameTooLarge)
	}

	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("read frame body: %w", err)
	}

	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", ErrMalformedFrame)
	}
	if env.Destination == "" {
		return nil, fmt.Errorf("envelope without destination: %w", ErrMalformedFrame)
	}
	return &env, nil
}
