package node

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrUnknownAddress is returned when no live mailbox owns the destination.
	ErrUnknownAddress = errors.New("unknown address")
	// ErrAccessDenied is returned when an access control rejects the message.
	ErrAccessDenied = errors.New("access denied")
	// ErrMailboxFull is returned when the destination queue has no capacity.
	ErrMailboxFull = errors.New("mailbox full")
	// ErrAddressTaken is returned when registration collides with a live address.
	ErrAddressTaken = errors.New("address already registered")
)

// endpoint is the live registration of one worker: its mailbox set and the
// shared inbound queue feeding its handler.
type endpoint struct {
	mailboxes *Mailboxes
	queue     chan *RelayMessage
}

// Router resolves destination addresses to live mailboxes and relays
// messages into them, applying each mailbox's incoming access control exactly
// once per hop. Routing is read-heavy; the address table takes a read-write
// lock so steady-state lookups never contend with each other.
type Router struct {
	log      *zap.Logger
	metrics  *Metrics
	debugger *Debugger

	mu        sync.RWMutex
	endpoints map[Address]*endpoint
}

// NewRouter builds a router. metrics and debugger may be nil.
func NewRouter(log *zap.Logger, metrics *Metrics, debugger *Debugger) *Router {
	return &Router{
		log:       log,
		metrics:   metrics,
		debugger:  debugger,
		endpoints: make(map[Address]*endpoint),
	}
}

// Route relays one message into the destination mailbox. The access-control
// evaluation is fail-closed: denial drops the message, observable only to
// the diagnostic collector and to callers that requested confirmation.
func (r *Router) Route(msg *RelayMessage) error {
	start := time.Now()

	r.mu.RLock()
	ep, ok := r.endpoints[msg.Destination()]
	r.mu.RUnlock()
	if !ok {
		r.metrics.recordRoute(outcomeUnknown, time.Since(start))
		return fmt.Errorf("route to %s: %w", msg.Destination(), ErrUnknownAddress)
	}

	mailbox, ok := ep.mailboxes.Find(msg.Destination())
	if !ok {
		r.metrics.recordRoute(outcomeUnknown, time.Since(start))
		return fmt.Errorf("route to %s: %w", msg.Destination(), ErrUnknownAddress)
	}

	if !mailbox.IncomingAccessControl().IsAuthorized(msg) {
		r.debugger.RecordDenied(msg)
		r.metrics.recordRoute(outcomeDenied, time.Since(start))
		r.log.Debug("delivery denied",
			zap.String("source", msg.Source().String()),
			zap.String("destination", msg.Destination().String()))
		return fmt.Errorf("route to %s: %w", msg.Destination(), ErrAccessDenied)
	}

	select {
	case ep.queue <- msg:
	default:
		r.metrics.recordRoute(outcomeFull, time.Since(start))
		return fmt.Errorf("route to %s: %w", msg.Destination(), ErrMailboxFull)
	}

	r.debugger.RecordIncoming(msg)
	r.metrics.recordRoute(outcomeDelivered, time.Since(start))
	return nil
}

// register installs a worker's mailbox set. Every address in the set maps to
// the same inbound queue. Registration is all-or-nothing.
func (r *Router) register(mbs *Mailboxes, queueSize int) (*endpoint, error) {
	if queueSize <= 0 {
		queueSize = 1
	}
	ep := &endpoint{
		mailboxes: mbs,
		queue:     make(chan *RelayMessage, queueSize),
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, addr := range mbs.Addresses() {
		if _, exists := r.endpoints[addr]; exists {
			return nil, fmt.Errorf("register %s: %w", addr, ErrAddressTaken)
		}
	}
	for _, addr := range mbs.Addresses() {
		r.endpoints[addr] = ep
	}
	return ep, nil
}

// deregister removes every address of the worker from the table. Messages
// already enqueued stay in the queue for the worker's drain on shutdown.
func (r *Router) deregister(mbs *Mailboxes) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, addr := range mbs.Addresses() {
		delete(r.endpoints, addr)
	}
}

// lookup is used by diagnostics: the mailbox at this node whose address
// equals addr.
func (r *Router) lookup(addr Address) (Mailbox, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ep, ok := r.endpoints[addr]
	if !ok {
		return Mailbox{}, false
	}
	return ep.mailboxes.Find(addr)
}
