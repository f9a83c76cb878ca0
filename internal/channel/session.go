package channel

import (
	"crypto/cipher"
	"errors"
	"fmt"
	"sync"

	"github.com/AmirulAndalib/ockam/internal/identity"
)

// State tracks a secure channel through its lifecycle. Transitions are
// one-way; a closed session never reopens.
type State int

const (
	StateInitiating State = iota
	StateHandshakeInProgress
	StateAuthenticated
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateInitiating:
		return "initiating"
	case StateHandshakeInProgress:
		return "handshake_in_progress"
	case StateAuthenticated:
		return "authenticated"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var (
	// ErrReplayOrOutOfOrder means a data frame carried a nonce other than
	// the exact next expected value. The session closes on this error.
	ErrReplayOrOutOfOrder = errors.New("replayed or out-of-order message")
	// ErrSessionClosed means the session no longer carries traffic.
	ErrSessionClosed = errors.New("session closed")
	// ErrDecryptFailed means a frame failed authenticated decryption.
	ErrDecryptFailed = errors.New("message authentication failed")
	// ErrFrameTooShort means a data frame is shorter than its nonce prefix.
	ErrFrameTooShort = errors.New("data frame too short")
)

// Session carries application traffic over keys established by a completed
// Handshake. Each direction owns an independent nonce counter; every frame
// must arrive with the exact next nonce or the session closes. All methods
// are safe for concurrent use.
type Session struct {
	mu        sync.Mutex
	state     State
	closeErr  error
	peer      identity.Identifier
	encrypt   cipher.AEAD
	decrypt   cipher.AEAD
	sendNonce Nonce
	recvNonce Nonce
}

// NewSession wraps handshake secrets into an authenticated session with
// both nonce counters at zero.
func NewSession(secrets *SessionSecrets) *Session {
	return &Session{
		state:   StateAuthenticated,
		peer:    secrets.Peer,
		encrypt: secrets.encrypt,
		decrypt: secrets.decrypt,
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Peer returns the authenticated remote identifier.
func (s *Session) Peer() identity.Identifier {
	return s.peer
}

// SendNonce returns the send-direction counter value, for diagnostics.
func (s *Session) SendNonce() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sendNonce.Value()
}

// Encrypt seals plaintext into a data frame: the 8-byte wire nonce followed
// by the ciphertext. The wire nonce doubles as additional data, so a frame
// cannot be replayed under a different counter value. The counter advances
// before sealing; overflow closes the session without producing a frame.
func (s *Session) Encrypt(plaintext []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateAuthenticated {
		return nil, s.closedErr()
	}
	if err := s.sendNonce.Increment(); err != nil {
		s.closeLocked(err)
		return nil, err
	}

	wire := s.sendNonce.WireBytes()
	aeadNonce := s.sendNonce.AEADBytes()
	frame := make([]byte, 0, WireNonceLen+len(plaintext)+s.encrypt.Overhead())
	frame = append(frame, wire[:]...)
	frame = s.encrypt.Seal(frame, aeadNonce[:], plaintext, wire[:])
	return frame, nil
}

// Decrypt opens a data frame and returns its plaintext. A frame whose nonce
// is not the exact next expected value fails with ErrReplayOrOutOfOrder and
// closes the session; so does any authentication failure.
func (s *Session) Decrypt(frame []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateAuthenticated {
		return nil, s.closedErr()
	}
	if len(frame) < WireNonceLen {
		err := fmt.Errorf("%d bytes: %w", len(frame), ErrFrameTooShort)
		s.closeLocked(err)
		return nil, err
	}

	received, err := ParseNonce(frame[:WireNonceLen])
	if err != nil {
		s.closeLocked(err)
		return nil, err
	}

	expected := s.recvNonce
	if err := expected.Increment(); err != nil {
		s.closeLocked(err)
		return nil, err
	}
	if received.Value() != expected.Value() {
		err := fmt.Errorf("got nonce %d, expected %d: %w",
			received.Value(), expected.Value(), ErrReplayOrOutOfOrder)
		s.closeLocked(err)
		return nil, err
	}

	wire := expected.WireBytes()
	aeadNonce := expected.AEADBytes()
	plaintext, err := s.decrypt.Open(nil, aeadNonce[:], frame[WireNonceLen:], wire[:])
	if err != nil {
		s.closeLocked(ErrDecryptFailed)
		return nil, ErrDecryptFailed
	}

	s.recvNonce = expected
	return plaintext, nil
}

// Close retires the session. Further Encrypt and Decrypt calls fail with
// ErrSessionClosed.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateClosed {
		s.closeLocked(nil)
	}
}

// CloseReason returns the error that closed the session, if any.
func (s *Session) CloseReason() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeErr
}

func (s *Session) closeLocked(cause error) {
	s.state = StateClosed
	s.closeErr = cause
	s.encrypt = nil
	s.decrypt = nil
}

func (s *Session) closedErr() error {
	if s.closeErr != nil {
		return fmt.Errorf("%w: %v", ErrSessionClosed, s.closeErr)
	}
	return ErrSessionClosed
}
