package node

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// ErrNodeStopped is returned when spawning on a node that is shutting down.
var ErrNodeStopped = errors.New("node is shutting down")

// Handler processes messages delivered to a worker. The runtime treats each
// HandleMessage call as a critical section: a worker never sees the next
// message until the current call returns.
type Handler interface {
	HandleMessage(ctx *Context, msg *RelayMessage) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx *Context, msg *RelayMessage) error

// HandleMessage calls f.
func (f HandlerFunc) HandleMessage(ctx *Context, msg *RelayMessage) error {
	return f(ctx, msg)
}

// StartableHandler is implemented by handlers that act before their first
// message, e.g. to send an opening frame. Start runs on the worker goroutine
// ahead of the message loop.
type StartableHandler interface {
	Handler
	Start(ctx *Context) error
}

// StoppableHandler is implemented by handlers that hold resources, such as
// key material, that must be discarded when the worker stops.
type StoppableHandler interface {
	Handler
	Stop(ctx *Context)
}

// WorkerOptions tunes a single worker.
type WorkerOptions struct {
	// MailboxSize bounds the inbound queue. When the queue is full the
	// router rejects further deliveries with ErrMailboxFull.
	MailboxSize int
}

// Node owns the routing table and the workers scheduled on it. Each worker
// runs as its own goroutine draining one inbound queue; parallelism across
// workers is the runtime's, ordering within a (sender, destination) pair is
// the queue's.
type Node struct {
	log      *zap.Logger
	router   *Router
	metrics  *Metrics
	debugger *Debugger

	mu      sync.Mutex
	workers map[Address]*worker
	stopped bool
	wg      sync.WaitGroup
}

type worker struct {
	ctx     *Context
	handler Handler
	stop    chan struct{}
	done    chan struct{}
}

// NewNode builds a node runtime. metrics and debugger may be nil; pass
// Instance() to attach the process-wide diagnostic collector.
func NewNode(log *zap.Logger, metrics *Metrics, debugger *Debugger) *Node {
	return &Node{
		log:      log,
		router:   NewRouter(log, metrics, debugger),
		metrics:  metrics,
		debugger: debugger,
		workers:  make(map[Address]*worker),
	}
}

// Router exposes the routing substrate, e.g. for transports delivering
// inbound frames.
func (n *Node) Router() *Router {
	return n.router
}

// StartWorker spawns a root worker owning the given mailbox set.
func (n *Node) StartWorker(mbs *Mailboxes, h Handler, opts WorkerOptions) (*Context, error) {
	return n.startWorker(nil, mbs, h, opts)
}

func (n *Node) startWorker(parent *Mailboxes, mbs *Mailboxes, h Handler, opts WorkerOptions) (*Context, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.stopped {
		return nil, ErrNodeStopped
	}

	ep, err := n.router.register(mbs, opts.MailboxSize)
	if err != nil {
		return nil, err
	}

	ctx := &Context{node: n, mailboxes: mbs, queue: ep.queue}
	w := &worker{
		ctx:     ctx,
		handler: h,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	n.workers[mbs.PrimaryAddress()] = w
	n.debugger.RecordSpawn(parent, mbs)
	n.metrics.incWorkers()

	n.wg.Add(1)
	go n.runWorker(w)

	n.log.Debug("worker started", zap.String("address", mbs.PrimaryAddress().String()))
	return ctx, nil
}

func (n *Node) runWorker(w *worker) {
	defer n.wg.Done()
	defer close(w.done)

	if startable, ok := w.handler.(StartableHandler); ok {
		if err := startable.Start(w.ctx); err != nil {
			n.log.Warn("worker start failed",
				zap.String("address", w.ctx.Address().String()),
				zap.Error(err))
		}
	}

	for {
		select {
		case <-w.stop:
			// Teardown is cooperative: drain what was already enqueued,
			// accept nothing new (the router no longer knows us).
			for {
				select {
				case msg := <-w.ctx.queue:
					n.handleMessage(w, msg)
				default:
					n.finishWorker(w)
					return
				}
			}
		case msg := <-w.ctx.queue:
			n.handleMessage(w, msg)
		}
	}
}

func (n *Node) handleMessage(w *worker, msg *RelayMessage) {
	if err := w.handler.HandleMessage(w.ctx, msg); err != nil {
		n.log.Warn("worker handler failed",
			zap.String("address", w.ctx.Address().String()),
			zap.Error(err))
	}
}

func (n *Node) finishWorker(w *worker) {
	if stoppable, ok := w.handler.(StoppableHandler); ok {
		stoppable.Stop(w.ctx)
	}
	n.metrics.decWorkers()
	n.log.Debug("worker stopped", zap.String("address", w.ctx.Address().String()))
}

// StopWorker deregisters the worker owning the given primary address and
// waits for it to drain.
func (n *Node) StopWorker(primary Address) error {
	n.mu.Lock()
	w, ok := n.workers[primary]
	if ok {
		delete(n.workers, primary)
	}
	n.mu.Unlock()
	if !ok {
		return fmt.Errorf("stop worker %s: %w", primary, ErrUnknownAddress)
	}

	n.router.deregister(w.ctx.mailboxes)
	close(w.stop)
	<-w.done
	return nil
}

// Shutdown stops every worker and waits for completion or context expiry.
func (n *Node) Shutdown(ctx context.Context) error {
	n.mu.Lock()
	n.stopped = true
	workers := make([]*worker, 0, len(n.workers))
	for addr, w := range n.workers {
		workers = append(workers, w)
		delete(n.workers, addr)
	}
	n.mu.Unlock()

	for _, w := range workers {
		n.router.deregister(w.ctx.mailboxes)
		close(w.stop)
	}

	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Context is a worker's handle onto the node: its own mailboxes plus the
// send operations that apply the outgoing access controls.
type Context struct {
	node      *Node
	mailboxes *Mailboxes
	queue     chan *RelayMessage
}

// Address returns the worker's primary address.
func (c *Context) Address() Address {
	return c.mailboxes.PrimaryAddress()
}

// Mailboxes returns the worker's mailbox set.
func (c *Context) Mailboxes() *Mailboxes {
	return c.mailboxes
}

// Send relays payload from one of the worker's own mailboxes. Denials are
// dropped silently, matching the fail-closed posture: the sender learns
// nothing, the diagnostic collector records the drop.
func (c *Context) Send(from, to Address, payload []byte) error {
	return c.send(from, to, payload, false)
}

// SendConfirmed is Send for callers that explicitly requested delivery
// confirmation; access denials surface as ErrAccessDenied.
func (c *Context) SendConfirmed(from, to Address, payload []byte) error {
	return c.send(from, to, payload, true)
}

func (c *Context) send(from, to Address, payload []byte, confirm bool) error {
	mailbox, ok := c.mailboxes.Find(from)
	if !ok {
		return fmt.Errorf("send from %s: mailbox not owned by worker %s: %w",
			from, c.Address(), ErrUnknownAddress)
	}

	msg := NewRelayMessage(from, to, payload)
	if !mailbox.OutgoingAccessControl().IsAuthorized(msg) {
		c.node.debugger.RecordDenied(msg)
		if confirm {
			return fmt.Errorf("send from %s to %s: %w", from, to, ErrAccessDenied)
		}
		return nil
	}

	c.node.debugger.RecordOutgoing(msg)
	err := c.node.router.Route(msg)
	if err != nil && !confirm && errors.Is(err, ErrAccessDenied) {
		return nil
	}
	return err
}

// StartWorker spawns a child worker, recording the inheritance edge for the
// diagnostic collector.
func (c *Context) StartWorker(mbs *Mailboxes, h Handler, opts WorkerOptions) (*Context, error) {
	return c.node.startWorker(c.mailboxes, mbs, h, opts)
}

// StopWorker stops a worker previously started on this node.
func (c *Context) StopWorker(primary Address) error {
	return c.node.StopWorker(primary)
}
