package node

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Debugger is a read-only observer of the routing substrate. It records
// worker-spawn inheritance, per-hop message flow, and denied deliveries, and
// can render the collected topology as Graphviz DOT. It never influences
// routing outcomes.
//
// The process-wide instance is created lazily and torn down only at process
// exit. Construct a private Debugger in tests to stay isolated from it.
type Debugger struct {
	mu        sync.RWMutex
	mailboxes map[Address]Mailbox
	inherited map[Address][]*Mailboxes
	incoming  map[Address][]Address
	outgoing  map[Address][]Address
	denied    map[Address][]Address
}

var (
	instance     *Debugger
	instanceOnce sync.Once
)

// Instance returns the process-wide debugger, creating it on first use.
func Instance() *Debugger {
	instanceOnce.Do(func() {
		instance = NewDebugger()
	})
	return instance
}

// NewDebugger builds an empty collector.
func NewDebugger() *Debugger {
	return &Debugger{
		mailboxes: make(map[Address]Mailbox),
		inherited: make(map[Address][]*Mailboxes),
		incoming:  make(map[Address][]Address),
		outgoing:  make(map[Address][]Address),
		denied:    make(map[Address][]Address),
	}
}

// RecordSpawn notes a worker creation. parent is nil for root spawns.
func (d *Debugger) RecordSpawn(parent, child *Mailboxes) {
	if d == nil || child == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	d.mailboxes[child.Primary().Address()] = child.Primary()
	for _, mb := range child.Additional() {
		d.mailboxes[mb.Address()] = mb
	}
	if parent != nil {
		p := parent.PrimaryAddress()
		d.inherited[p] = append(d.inherited[p], child)
	}
}

// RecordIncoming notes a successful hop into a destination mailbox.
func (d *Debugger) RecordIncoming(msg *RelayMessage) {
	if d == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.incoming[msg.Destination()] = append(d.incoming[msg.Destination()], msg.Source())
}

// RecordOutgoing notes a send leaving a source mailbox.
func (d *Debugger) RecordOutgoing(msg *RelayMessage) {
	if d == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.outgoing[msg.Source()] = append(d.outgoing[msg.Source()], msg.Destination())
}

// RecordDenied notes a delivery rejected by access control.
func (d *Debugger) RecordDenied(msg *RelayMessage) {
	if d == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.denied[msg.Destination()] = append(d.denied[msg.Destination()], msg.Source())
}

// DeniedCount reports recorded denials into the given destination.
func (d *Debugger) DeniedCount(destination Address) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.denied[destination])
}

// WriteGraph renders the collected inheritance tree and message flow as a
// DOT digraph, e.g. for `dot graph.dot -Tpdf -O`.
func (d *Debugger) WriteGraph(out io.Writer) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	w := bufio.NewWriter(out)
	fmt.Fprintln(w, "digraph node_topology {")
	fmt.Fprintln(w, "  fontname=Arial;")
	fmt.Fprintln(w, "  rankdir=TB;")

	fmt.Fprintln(w, "  subgraph cluster_Inheritance {")
	fmt.Fprintln(w, "    label=\"Inheritance\";")
	fmt.Fprintln(w, "    node [shape=record fontname=Arial fontsize=12.0];")
	for _, addr := range sortedAddresses(d.mailboxes) {
		writeMailboxNode(w, d.mailboxes[addr], "")
	}
	for _, parent := range sortedKeys(d.inherited) {
		for _, child := range d.inherited[parent] {
			for _, addr := range child.Addresses() {
				fmt.Fprintf(w, "    %s -> %s;\n", nodeID(parent), nodeID(addr))
			}
		}
	}
	fmt.Fprintln(w, "  }")

	fmt.Fprintln(w, "  subgraph cluster_MessageFlow {")
	fmt.Fprintln(w, "    label=\"MessageFlow\";")
	fmt.Fprintln(w, "    node [shape=Mrecord fontname=Arial fontsize=12.0];")
	for _, addr := range sortedAddresses(d.mailboxes) {
		writeMailboxNode(w, d.mailboxes[addr], "MF_")
	}
	for _, dst := range sortedKeys(d.incoming) {
		for _, src := range dedupAddresses(d.incoming[dst]) {
			fmt.Fprintf(w, "    MF_%s -> MF_%s;\n", nodeID(src), nodeID(dst))
		}
	}
	fmt.Fprintln(w, "  }")

	fmt.Fprintln(w, "}")
	return w.Flush()
}

// LogSummary emits the recorded topology through the given logger.
func (d *Debugger) LogSummary(log *zap.Logger) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	for _, parent := range sortedKeys(d.inherited) {
		for _, child := range d.inherited[parent] {
			log.Info("worker spawned",
				zap.String("parent", parent.String()),
				zap.Strings("child_addresses", addressStrings(child.Addresses())))
		}
	}
	for _, dst := range sortedKeys(d.incoming) {
		log.Info("messages received",
			zap.String("destination", dst.String()),
			zap.Strings("sources", addressStrings(dedupAddresses(d.incoming[dst]))))
	}
	for _, dst := range sortedKeys(d.denied) {
		log.Info("deliveries denied",
			zap.String("destination", dst.String()),
			zap.Strings("sources", addressStrings(dedupAddresses(d.denied[dst]))))
	}
}

func writeMailboxNode(w io.Writer, mb Mailbox, tag string) {
	fmt.Fprintf(w, "    %s%s [label=\"{ %s | in: %s | out: %s }\"];\n",
		tag, nodeID(mb.Address()), mb.Address(),
		mb.IncomingAccessControl(), mb.OutgoingAccessControl())
}

func nodeID(addr Address) string {
	return strings.NewReplacer(".", "_", "-", "_").Replace(addr.String())
}

func sortedAddresses(m map[Address]Mailbox) []Address {
	out := make([]Address, 0, len(m))
	for a := range m {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func sortedKeys[V any](m map[Address]V) []Address {
	out := make([]Address, 0, len(m))
	for a := range m {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func dedupAddresses(in []Address) []Address {
	out := append([]Address(nil), in...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	n := 0
	for i, a := range out {
		if i == 0 || out[n-1] != a {
			out[n] = a
			n++
		}
	}
	return out[:n]
}

func addressStrings(in []Address) []string {
	out := make([]string, len(in))
	for i, a := range in {
		out[i] = a.String()
	}
	return out
}
