package channel

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/AmirulAndalib/ockam/internal/identity"
	"github.com/AmirulAndalib/ockam/internal/node"
)

// maxPendingPlaintext bounds the plaintext queued while the handshake is
// still in flight.
const maxPendingPlaintext = 16

// ErrChannelBusy means plaintext arrived faster than the handshake could
// finish and the pending buffer is full.
var ErrChannelBusy = errors.New("secure channel handshake backlog full")

// WorkerConfig wires one secure-channel worker.
type WorkerConfig struct {
	Role Role
	// LocalIdentity and LocalKey authenticate this side of the channel.
	LocalIdentity identity.Identity
	LocalKey      *identity.PurposeKeyPair
	// PeerIdentity is the trust anchor the remote side must prove.
	PeerIdentity identity.Identity
	// PeerRoute is where handshake frames and ciphertext are sent: the
	// remote worker's encrypted address, possibly behind a transport relay.
	// Required for the initiator; a responder left without one adopts the
	// source of the opening frame.
	PeerRoute node.Address
	// AppRoute receives decrypted plaintext and is the only address allowed
	// to submit plaintext for encryption.
	AppRoute node.Address

	Logger  *zap.Logger
	Metrics *Metrics
	// OnClose, when set, observes session teardown with its cause. The
	// cause is nil for an orderly local close.
	OnClose func(peer identity.Identifier, cause error)

	// Now and Rand override the clock and randomness in tests.
	Now  func() time.Time
	Rand io.Reader
}

// Worker runs one end of a secure channel as a node worker with two
// mailboxes. The encrypted mailbox faces the peer and accepts anything,
// since the peer is unauthenticated until the handshake completes; the
// internal mailbox faces the application and is locked to the configured
// route on both directions. Plaintext never crosses the encrypted mailbox
// and ciphertext never crosses the internal one.
type Worker struct {
	log     *zap.Logger
	metrics *Metrics
	onClose func(identity.Identifier, error)

	role      Role
	peerRoute node.Address
	appRoute  node.Address

	encryptedAddr node.Address
	internalAddr  node.Address
	mailboxes     *node.Mailboxes

	mu        sync.Mutex
	handshake *Handshake
	session   *Session
	closed    bool
	pending   [][]byte
}

// NewWorker validates the configuration and prepares the handshake. An
// expired or invalid local purpose key fails here, before the worker is
// ever scheduled.
func NewWorker(cfg WorkerConfig) (*Worker, error) {
	if cfg.Role == RoleInitiator && cfg.PeerRoute == "" {
		return nil, errors.New("peer route required for initiator")
	}
	if cfg.AppRoute == "" {
		return nil, errors.New("app route required")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	handshake, err := NewHandshake(HandshakeConfig{
		Role:          cfg.Role,
		LocalIdentity: cfg.LocalIdentity,
		LocalKey:      cfg.LocalKey,
		PeerIdentity:  cfg.PeerIdentity,
		Now:           cfg.Now,
		Rand:          cfg.Rand,
	})
	if err != nil {
		return nil, err
	}

	encryptedAddr := node.RandomAddress()
	internalAddr := node.RandomAddress()

	// Until the handshake completes the peer is unauthenticated, so the
	// encrypted mailbox accepts from anyone. Its outgoing side is pinned to
	// the peer route when one is known at construction.
	encryptedOut := node.AllowAll()
	if cfg.PeerRoute != "" {
		encryptedOut = node.AllowDestinationAddresses(cfg.PeerRoute)
	}
	encrypted := node.NewMailbox(encryptedAddr, node.AllowAll(), encryptedOut)
	internal := node.NewMailbox(internalAddr,
		node.AllowSourceAddresses(cfg.AppRoute),
		node.AllowDestinationAddresses(cfg.AppRoute))

	return &Worker{
		log: cfg.Logger.With(
			zap.String("role", cfg.Role.String()),
			zap.String("peer", cfg.PeerIdentity.Identifier.String())),
		metrics:       cfg.Metrics,
		onClose:       cfg.OnClose,
		role:          cfg.Role,
		handshake:     handshake,
		peerRoute:     cfg.PeerRoute,
		appRoute:      cfg.AppRoute,
		encryptedAddr: encryptedAddr,
		internalAddr:  internalAddr,
		mailboxes:     node.NewMailboxes(encrypted, internal),
	}, nil
}

// Mailboxes returns the worker's mailbox set for StartWorker.
func (w *Worker) Mailboxes() *node.Mailboxes {
	return w.mailboxes
}

// EncryptedAddress is the peer-facing address carrying handshake frames and
// ciphertext.
func (w *Worker) EncryptedAddress() node.Address {
	return w.encryptedAddr
}

// InternalAddress is the application-facing address carrying plaintext.
func (w *Worker) InternalAddress() node.Address {
	return w.internalAddr
}

// State reports the channel lifecycle state.
func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	switch {
	case w.closed:
		return StateClosed
	case w.session != nil:
		return w.session.State()
	case w.handshake != nil && w.handshake.sentEphemeral:
		return StateHandshakeInProgress
	default:
		return StateInitiating
	}
}

// Start opens the exchange on the initiator side. Responders wait for the
// first frame.
func (w *Worker) Start(ctx *node.Context) error {
	if w.role != RoleInitiator {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	out, _, err := w.handshake.Step(nil)
	if err != nil {
		w.metrics.recordHandshake(resultFailed)
		w.fail(fmt.Errorf("open handshake: %w", err))
		return err
	}
	if err := ctx.Send(w.encryptedAddr, w.peerRoute, out); err != nil {
		w.metrics.recordHandshake(resultFailed)
		w.fail(fmt.Errorf("relay handshake frame: %w", err))
		return err
	}
	return nil
}

// HandleMessage dispatches on the destination mailbox: the encrypted side
// receives handshake frames and ciphertext from the peer, the internal side
// receives plaintext from the application.
func (w *Worker) HandleMessage(ctx *node.Context, msg *node.RelayMessage) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		w.log.Debug("message dropped on closed channel",
			zap.String("destination", msg.Destination().String()))
		return nil
	}

	switch msg.Destination() {
	case w.encryptedAddr:
		if w.session == nil {
			if w.peerRoute == "" {
				w.peerRoute = msg.Source()
			}
			return w.advanceHandshake(ctx, msg.Payload())
		}
		return w.decryptAndDeliver(ctx, msg.Payload())
	case w.internalAddr:
		return w.encryptAndForward(ctx, msg.Payload())
	default:
		return fmt.Errorf("message for unowned address %s", msg.Destination())
	}
}

func (w *Worker) advanceHandshake(ctx *node.Context, frame []byte) error {
	out, done, err := w.handshake.Step(frame)
	if err != nil {
		w.metrics.recordHandshake(resultFailed)
		w.fail(fmt.Errorf("handshake: %w", err))
		return err
	}
	if out != nil {
		if err := ctx.Send(w.encryptedAddr, w.peerRoute, out); err != nil {
			w.metrics.recordHandshake(resultFailed)
			w.fail(fmt.Errorf("relay handshake frame: %w", err))
			return err
		}
	}
	if !done {
		return nil
	}

	secrets, err := w.handshake.Secrets()
	if err != nil {
		w.metrics.recordHandshake(resultFailed)
		w.fail(err)
		return err
	}
	w.handshake = nil
	w.session = NewSession(secrets)
	w.metrics.recordHandshake(resultEstablished)
	w.metrics.sessionOpened()
	w.log.Info("secure channel established")

	return w.flushPending(ctx)
}

func (w *Worker) flushPending(ctx *node.Context) error {
	pending := w.pending
	w.pending = nil
	for _, plaintext := range pending {
		if err := w.encryptAndForward(ctx, plaintext); err != nil {
			return err
		}
		if w.closed {
			return nil
		}
	}
	return nil
}

func (w *Worker) encryptAndForward(ctx *node.Context, plaintext []byte) error {
	if w.session == nil {
		if len(w.pending) >= maxPendingPlaintext {
			return ErrChannelBusy
		}
		w.pending = append(w.pending, plaintext)
		return nil
	}

	frame, err := w.session.Encrypt(plaintext)
	if err != nil {
		w.closeSession(err)
		return err
	}
	w.metrics.recordData(directionEncrypt)
	// A frame that fails to reach the peer still consumed a send nonce, so
	// the session can never resynchronize. Close it and let the caller
	// re-establish.
	if err := ctx.Send(w.encryptedAddr, w.peerRoute, frame); err != nil {
		w.closeSession(fmt.Errorf("relay encrypted frame: %w", err))
		return err
	}
	return nil
}

func (w *Worker) decryptAndDeliver(ctx *node.Context, frame []byte) error {
	plaintext, err := w.session.Decrypt(frame)
	if err != nil {
		w.closeSession(err)
		return err
	}
	w.metrics.recordData(directionDecrypt)
	return ctx.Send(w.internalAddr, w.appRoute, plaintext)
}

// Stop discards the session and its key material when the worker is torn
// down.
func (w *Worker) Stop(ctx *node.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.session != nil {
		w.closeSession(nil)
	}
	w.closed = true
}

// fail retires the channel after a handshake error; no session ever opened,
// so there is nothing to close beyond notifying the observer.
func (w *Worker) fail(cause error) {
	w.closed = true
	w.log.Warn("secure channel failed", zap.Error(cause))
	if w.onClose != nil {
		w.onClose("", cause)
	}
}

// closeSession retires an established session, mapping the cause onto the
// closure metrics.
func (w *Worker) closeSession(cause error) {
	if w.closed {
		return
	}
	w.closed = true

	peer := identity.Identifier("")
	if w.session != nil {
		peer = w.session.Peer()
		w.session.Close()
	}
	w.metrics.sessionClosed(closureReason(cause))
	if cause != nil {
		w.log.Warn("secure channel closed", zap.Error(cause))
	} else {
		w.log.Info("secure channel closed")
	}
	if w.onClose != nil {
		w.onClose(peer, cause)
	}
}

func closureReason(cause error) string {
	switch {
	case cause == nil:
		return reasonLocalClose
	case errors.Is(cause, ErrReplayOrOutOfOrder):
		return reasonReplay
	case errors.Is(cause, ErrNonceOverflow):
		return reasonNonceOverflow
	default:
		return reasonDecryptFailed
	}
}
