// Package transport moves opaque byte frames between nodes over TCP and
// hands inbound frames to the routing substrate. One frame becomes exactly
// one relay message; payloads are never inspected or modified.
package transport

import (
	"errors"
	"fmt"
	"net"
	"sync"

	"go.uber.org/zap"

	"github.com/AmirulAndalib/ockam/internal/node"
)

// ErrTransportClosed means the transport was shut down.
var ErrTransportClosed = errors.New("transport closed")

// Transport owns a TCP listener plus the outbound connections dialed from
// this node. Every inbound frame is routed into the local node.
type Transport struct {
	log    *zap.Logger
	router *node.Router

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	closed   bool
	wg       sync.WaitGroup
}

// New builds a transport delivering into the given router.
func New(log *zap.Logger, router *node.Router) *Transport {
	if log == nil {
		log = zap.NewNop()
	}
	return &Transport{
		log:    log,
		router: router,
		conns:  make(map[net.Conn]struct{}),
	}
}

// Listen binds the TCP listener and starts accepting peers. It returns the
// bound address, useful when listening on port 0.
func (t *Transport) Listen(address string) (net.Addr, error) {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", address, err)
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		listener.Close()
		return nil, ErrTransportClosed
	}
	t.listener = listener
	t.mu.Unlock()

	t.wg.Add(1)
	go t.acceptLoop(listener)

	t.log.Info("transport listening", zap.String("address", listener.Addr().String()))
	return listener.Addr(), nil
}

func (t *Transport) acceptLoop(listener net.Listener) {
	defer t.wg.Done()
	for {
		conn, err := listener.Accept()
		if err != nil {
			// Listener closed during shutdown, or a transient accept
			// failure; either way the loop ends with the listener.
			return
		}
		if !t.track(conn) {
			conn.Close()
			return
		}
		t.wg.Add(1)
		go t.readLoop(conn)
	}
}

// Connect dials a peer and returns a handle for sending frames to it.
// Frames arriving on the same connection are routed into the local node.
func (t *Transport) Connect(address string) (*Connection, error) {
	conn, err := net.Dial("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", address, err)
	}
	if !t.track(conn) {
		conn.Close()
		return nil, ErrTransportClosed
	}

	t.wg.Add(1)
	go t.readLoop(conn)

	t.log.Debug("transport connected", zap.String("peer", conn.RemoteAddr().String()))
	return &Connection{conn: conn}, nil
}

func (t *Transport) track(conn net.Conn) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return false
	}
	t.conns[conn] = struct{}{}
	return true
}

func (t *Transport) untrack(conn net.Conn) {
	t.mu.Lock()
	delete(t.conns, conn)
	t.mu.Unlock()
}

// readLoop turns each inbound frame into one relay message. Routing
// failures are logged and the connection keeps serving; framing failures
// close the connection.
func (t *Transport) readLoop(conn net.Conn) {
	defer t.wg.Done()
	defer t.untrack(conn)
	defer conn.Close()

	peer := conn.RemoteAddr().String()
	for {
		env, err := readFrame(conn)
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				t.log.Debug("transport connection ended",
					zap.String("peer", peer), zap.Error(err))
			}
			return
		}

		msg := node.NewRelayMessage(env.Source, env.Destination, env.Payload)
		if err := t.router.Route(msg); err != nil {
			t.log.Warn("inbound frame not routable",
				zap.String("peer", peer),
				zap.String("destination", env.Destination.String()),
				zap.Error(err))
		}
	}
}

// Close shuts the listener and every connection, then waits for the serving
// goroutines.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	listener := t.listener
	conns := make([]net.Conn, 0, len(t.conns))
	for c := range t.conns {
		conns = append(conns, c)
	}
	t.mu.Unlock()

	if listener != nil {
		listener.Close()
	}
	for _, c := range conns {
		c.Close()
	}
	t.wg.Wait()
	return nil
}

// Connection is an outbound handle to one peer. Sends are serialized so
// concurrent writers cannot interleave frames.
type Connection struct {
	mu   sync.Mutex
	conn net.Conn
}

// Send writes one envelope to the peer.
func (c *Connection) Send(source, destination node.Address, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return writeFrame(c.conn, &Envelope{
		Source:      source,
		Destination: destination,
		Payload:     payload,
	})
}

// Close closes the underlying connection.
func (c *Connection) Close() error {
	return c.conn.Close()
}

// Outlet adapts a connection into a node worker: every message delivered to
// its mailbox is forwarded over the connection to a fixed remote address.
// Registering an outlet gives remote mailboxes a local alias in the
// router's namespace.
type Outlet struct {
	conn   *Connection
	remote node.Address
}

// NewOutlet wraps a connection for use as a worker handler. Payloads are
// forwarded to the remote address, keeping their original source.
func NewOutlet(conn *Connection, remote node.Address) *Outlet {
	return &Outlet{conn: conn, remote: remote}
}

// HandleMessage forwards the message over the connection.
func (o *Outlet) HandleMessage(_ *node.Context, msg *node.RelayMessage) error {
	return o.conn.Send(msg.Source(), o.remote, msg.Payload())
}

// Stop closes the connection when the worker is torn down.
func (o *Outlet) Stop(_ *node.Context) {
	o.conn.Close()
}
