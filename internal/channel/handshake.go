package channel

import (
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/AmirulAndalib/ockam/internal/identity"
)

// Role distinguishes the side that opens the channel from the side that
// answers.
type Role int

const (
	RoleInitiator Role = iota
	RoleResponder
)

func (r Role) String() string {
	if r == RoleInitiator {
		return "initiator"
	}
	return "responder"
}

var (
	// ErrMalformedHandshake means a peer-supplied handshake frame could not
	// be decoded or is missing required fields.
	ErrMalformedHandshake = errors.New("malformed handshake message")
	// ErrHandshakeState means Step was driven outside the expected sequence.
	ErrHandshakeState = errors.New("unexpected handshake state")
)

const (
	ephemeralKeySize = 32
	sessionKeySize   = chacha20poly1305.KeySize
	kdfInfoLabel     = "ockam_secure_channel_v1"
	authContextLabel = "ockam_secure_channel_auth"
)

// handshakeFrame is the JSON envelope exchanged during the handshake.
type handshakeFrame struct {
	Ephemeral  []byte               `json:"ephemeral,omitempty"`
	PurposeKey *identity.PurposeKey `json:"purpose_key,omitempty"`
	Signature  []byte               `json:"signature,omitempty"`
}

// HandshakeConfig wires the identities and key material for one attempt.
type HandshakeConfig struct {
	Role Role
	// LocalIdentity is this side's root of trust; the local purpose key is
	// re-verified against it before any key material is touched.
	LocalIdentity identity.Identity
	// LocalKey signs this side's half of the exchange.
	LocalKey *identity.PurposeKeyPair
	// PeerIdentity is the trust anchor the peer's purpose key must verify
	// against.
	PeerIdentity identity.Identity
	// Now overrides the clock in tests.
	Now func() time.Time
	// Rand overrides the ephemeral-key randomness in tests.
	Rand io.Reader
}

// Handshake runs the mutual-authentication exchange as an explicit state
// machine: callers feed peer bytes into Step and forward whatever comes
// back. Failures are fatal to the attempt; retrying means a fresh Handshake
// with fresh ephemeral material.
type Handshake struct {
	role     Role
	localKey *identity.PurposeKeyPair
	peer     identity.Identity
	now      func() time.Time

	ephemeral *ecdh.PrivateKey
	localEph  []byte
	peerEph   []byte

	sentEphemeral bool
	done          bool
	failed        bool
	secrets       *SessionSecrets
}

// SessionSecrets is the handshake outcome: per-direction AEADs plus the
// verified peer identity.
type SessionSecrets struct {
	Peer    identity.Identifier
	encrypt cipher.AEAD
	decrypt cipher.AEAD
}

// NewHandshake validates the configuration and the local purpose key. An
// expired or otherwise unverifiable local key fails here, before any
// ephemeral or symmetric key material exists.
func NewHandshake(cfg HandshakeConfig) (*Handshake, error) {
	if cfg.LocalKey == nil {
		return nil, errors.New("local purpose key required")
	}
	if len(cfg.LocalKey.PrivateKey) != ed25519.PrivateKeySize {
		return nil, errors.New("local purpose key private half required")
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	if err := cfg.LocalKey.Verify(cfg.LocalIdentity, identity.PurposeSecureChannel, now()); err != nil {
		return nil, fmt.Errorf("local purpose key: %w", err)
	}

	rng := cfg.Rand
	if rng == nil {
		rng = rand.Reader
	}
	ephemeral, err := ecdh.X25519().GenerateKey(rng)
	if err != nil {
		return nil, fmt.Errorf("generate ephemeral key: %w", err)
	}

	return &Handshake{
		role:      cfg.Role,
		localKey:  cfg.LocalKey,
		peer:      cfg.PeerIdentity,
		now:       now,
		ephemeral: ephemeral,
		localEph:  ephemeral.PublicKey().Bytes(),
	}, nil
}

// Step advances the state machine. The initiator's first call takes nil
// incoming bytes and produces the opening frame. A non-nil outgoing slice
// must be relayed to the peer. done reports that both directions hold
// matching keys; Secrets may then be called exactly once.
func (h *Handshake) Step(incoming []byte) (outgoing []byte, done bool, err error) {
	if h.failed {
		return nil, false, fmt.Errorf("handshake already failed: %w", ErrHandshakeState)
	}
	if h.done {
		return nil, false, fmt.Errorf("handshake already complete: %w", ErrHandshakeState)
	}

	outgoing, done, err = h.step(incoming)
	if err != nil {
		h.failed = true
	}
	return outgoing, done, err
}

func (h *Handshake) step(incoming []byte) ([]byte, bool, error) {
	switch h.role {
	case RoleInitiator:
		if !h.sentEphemeral {
			if incoming != nil {
				return nil, false, fmt.Errorf("initiator opens the exchange: %w", ErrHandshakeState)
			}
			h.sentEphemeral = true
			out, err := encodeFrame(handshakeFrame{Ephemeral: h.localEph})
			return out, false, err
		}
		// Responder's ephemeral plus credentials arrived.
		frame, err := h.readPeerFrame(incoming, true)
		if err != nil {
			return nil, false, err
		}
		h.peerEph = frame.Ephemeral
		if err := h.verifyPeerSignature(frame, RoleResponder); err != nil {
			return nil, false, err
		}
		if err := h.deriveSecrets(); err != nil {
			return nil, false, err
		}
		out, err := h.credentialFrame(RoleInitiator)
		if err != nil {
			return nil, false, err
		}
		h.done = true
		return out, true, nil

	case RoleResponder:
		if h.peerEph == nil {
			frame, err := h.readPeerFrame(incoming, false)
			if err != nil {
				return nil, false, err
			}
			h.peerEph = frame.Ephemeral
			out, err := h.credentialFrame(RoleResponder)
			if err != nil {
				return nil, false, err
			}
			h.sentEphemeral = true
			return out, false, nil
		}
		// Initiator's credentials close the exchange.
		frame, err := h.readCredentialFrame(incoming)
		if err != nil {
			return nil, false, err
		}
		if err := h.verifyPeerSignature(frame, RoleInitiator); err != nil {
			return nil, false, err
		}
		if err := h.deriveSecrets(); err != nil {
			return nil, false, err
		}
		h.done = true
		return nil, true, nil
	}
	return nil, false, fmt.Errorf("unknown role %d: %w", h.role, ErrHandshakeState)
}

// Secrets returns the derived session secrets after a completed exchange.
func (h *Handshake) Secrets() (*SessionSecrets, error) {
	if !h.done || h.secrets == nil {
		return nil, fmt.Errorf("handshake not complete: %w", ErrHandshakeState)
	}
	out := h.secrets
	h.secrets = nil
	return out, nil
}

func (h *Handshake) readPeerFrame(incoming []byte, wantCredentials bool) (handshakeFrame, error) {
	frame, err := decodeFrame(incoming)
	if err != nil {
		return handshakeFrame{}, err
	}
	if len(frame.Ephemeral) != ephemeralKeySize {
		return handshakeFrame{}, fmt.Errorf("ephemeral key must be %d bytes: %w", ephemeralKeySize, ErrMalformedHandshake)
	}
	if wantCredentials {
		if err := requireCredentials(frame); err != nil {
			return handshakeFrame{}, err
		}
	}
	return frame, nil
}

func (h *Handshake) readCredentialFrame(incoming []byte) (handshakeFrame, error) {
	frame, err := decodeFrame(incoming)
	if err != nil {
		return handshakeFrame{}, err
	}
	if err := requireCredentials(frame); err != nil {
		return handshakeFrame{}, err
	}
	return frame, nil
}

func requireCredentials(frame handshakeFrame) error {
	if frame.PurposeKey == nil {
		return fmt.Errorf("purpose key missing: %w", ErrMalformedHandshake)
	}
	if len(frame.Signature) != ed25519.SignatureSize {
		return fmt.Errorf("signature must be %d bytes: %w", ed25519.SignatureSize, ErrMalformedHandshake)
	}
	return nil
}

// verifyPeerSignature checks the peer's purpose key against its root of
// trust, then the transcript signature under that purpose key. The purpose
// key is verified first: an expired or forged key fails the attempt before
// any symmetric keys are derived.
func (h *Handshake) verifyPeerSignature(frame handshakeFrame, signedBy Role) error {
	if err := frame.PurposeKey.Verify(h.peer, identity.PurposeSecureChannel, h.now()); err != nil {
		return fmt.Errorf("peer purpose key: %w", err)
	}
	payload := h.transcript(signedBy)
	if !ed25519.Verify(ed25519.PublicKey(frame.PurposeKey.PublicKey), payload, frame.Signature) {
		return fmt.Errorf("handshake transcript: %w", identity.ErrSignatureInvalid)
	}
	return nil
}

func (h *Handshake) credentialFrame(signedBy Role) ([]byte, error) {
	signature := ed25519.Sign(h.localKey.PrivateKey, h.transcript(signedBy))
	frame := handshakeFrame{
		PurposeKey: &h.localKey.PurposeKey,
		Signature:  signature,
	}
	if signedBy == RoleResponder {
		frame.Ephemeral = h.localEph
	}
	return encodeFrame(frame)
}

// transcript binds both ephemeral keys and the signing role, so a signature
// cannot be replayed across roles or exchanges.
func (h *Handshake) transcript(signedBy Role) []byte {
	initiatorEph, responderEph := h.localEph, h.peerEph
	if h.role == RoleResponder {
		initiatorEph, responderEph = h.peerEph, h.localEph
	}

	hash := sha256.New()
	hash.Write([]byte(authContextLabel))
	hash.Write([]byte(signedBy.String()))
	hash.Write(initiatorEph)
	hash.Write(responderEph)
	return hash.Sum(nil)
}

// deriveSecrets computes the shared secret and expands it into one key per
// direction. Raw key bytes are zeroed once the AEADs are constructed.
func (h *Handshake) deriveSecrets() error {
	peerPub, err := ecdh.X25519().NewPublicKey(h.peerEph)
	if err != nil {
		return fmt.Errorf("parse peer ephemeral: %w", ErrMalformedHandshake)
	}
	shared, err := h.ephemeral.ECDH(peerPub)
	if err != nil {
		return fmt.Errorf("derive shared secret: %w", ErrMalformedHandshake)
	}
	defer zeroBytes(shared)
	if isZero(shared) {
		return fmt.Errorf("shared secret is all zeros: %w", ErrMalformedHandshake)
	}

	initiatorEph, responderEph := h.localEph, h.peerEph
	if h.role == RoleResponder {
		initiatorEph, responderEph = h.peerEph, h.localEph
	}
	salt := sha256.New()
	salt.Write(initiatorEph)
	salt.Write(responderEph)

	reader := hkdf.New(sha256.New, shared, salt.Sum(nil), []byte(kdfInfoLabel))
	initiatorKey := make([]byte, sessionKeySize)
	responderKey := make([]byte, sessionKeySize)
	if _, err := io.ReadFull(reader, initiatorKey); err != nil {
		return fmt.Errorf("derive initiator key: %w", err)
	}
	if _, err := io.ReadFull(reader, responderKey); err != nil {
		zeroBytes(initiatorKey)
		return fmt.Errorf("derive responder key: %w", err)
	}
	defer zeroBytes(initiatorKey)
	defer zeroBytes(responderKey)

	initiatorAEAD, err := chacha20poly1305.New(initiatorKey)
	if err != nil {
		return fmt.Errorf("init initiator cipher: %w", err)
	}
	responderAEAD, err := chacha20poly1305.New(responderKey)
	if err != nil {
		return fmt.Errorf("init responder cipher: %w", err)
	}

	secrets := &SessionSecrets{Peer: h.peer.Identifier}
	if h.role == RoleInitiator {
		secrets.encrypt, secrets.decrypt = initiatorAEAD, responderAEAD
	} else {
		secrets.encrypt, secrets.decrypt = responderAEAD, initiatorAEAD
	}
	h.secrets = secrets
	return nil
}

func encodeFrame(frame handshakeFrame) ([]byte, error) {
	out, err := json.Marshal(frame)
	if err != nil {
		return nil, fmt.Errorf("encode handshake frame: %w", err)
	}
	return out, nil
}

func decodeFrame(raw []byte) (handshakeFrame, error) {
	var frame handshakeFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return handshakeFrame{}, fmt.Errorf("decode handshake frame: %w", ErrMalformedHandshake)
	}
	return frame, nil
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

func isZero(b []byte) bool {
	acc := byte(0)
	for _, v := range b {
		acc |= v
	}
	return acc == 0
}
