// Package relay implements NetworkRelay, the single-writer observer bus
// that fans out connection lifecycle and traffic events to registered
// Observers while keeping the canonical ConnRecord/PacketRecord store.
//
// The dispatch worker loop is grounded on the teacher's
// pkg/eventbus.WorkerPool (ctx-cancel + drain-then-exit shutdown), but
// the fan-out shape is different: the teacher hands each event to many
// independently-buffered subscriber channels and drops on backpressure;
// this bus instead invokes a single registered []Observer slice
// synchronously, in registration order, from one dedicated goroutine -
// because the per-id ordering contract (Connect before any Forward
// before Disconnect) must never be violated by a dropped event. For the
// same reason dispatch never drops: the work queue is bounded, and a
// dispatch call blocks its caller while that queue is full.
package relay

import (
	"fmt"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
)

// Direction of one forwarded chunk.
type Direction int

const (
	ClientToOrigin Direction = iota
	OriginToClient
)

func (d Direction) String() string {
	if d == ClientToOrigin {
		return "client->origin"
	}
	return "origin->client"
}

// ConnRecord is the canonical record of one session's connection.
type ConnRecord struct {
	ID             uint64
	ClientEndpoint string
	OriginEndpoint string
	Host           string
	Online         bool
}

// PacketRecord is one append-only entry in the bus's packet log.
type PacketRecord struct {
	ID          uint64
	Direction   Direction
	Timestamp   time.Time
	PayloadSize int
}

// DefaultPacketLogCapacity bounds the in-memory packet log. The original
// C++ source (src/lib/observer/network_observer.cc) keeps an unbounded
// vector; a long-running proxy with an unbounded log is a genuine memory
// leak, so this expansion caps it at a ring buffer instead.
const DefaultPacketLogCapacity = 4096

type connectEvent struct {
	clientEndpoint string
	originEndpoint string
	host           string
	id             uint64
}

type forwardEvent struct {
	bytes   []byte
	id      uint64
	outside bool
}

type disconnectEvent struct {
	id uint64
}

type snapshotRequest struct {
	reply chan []ConnRecord
}

// Bus is NetworkRelay: register Observers before calling Start, then
// dispatch Connect/Forward/Disconnect from any number of goroutines.
// Dispatch calls enqueue onto a single worker goroutine and return once
// the event is queued, blocking only while the bounded queue is full; the
// worker applies the canonical store update and then
// invokes every observer in registration order.
type Bus struct {
	queue     chan any
	observers []Observer
	conns     *xsync.Map[uint64, *ConnRecord]
	packets   []PacketRecord
	packetCap int
	packetPos int
	onPanic   func(observer string, r any)

	startOnce sync.Once
	stopOnce  sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

// Config customises a Bus. A zero Config is valid and uses defaults.
type Config struct {
	QueueSize         int
	PacketLogCapacity int
	// OnObserverPanic, if set, is called whenever a registered Observer
	// panics while being dispatched. The panicking observer's call is
	// aborted; every other observer and the store proceed unaffected.
	OnObserverPanic func(observer string, r any)
}

const defaultQueueSize = 4096

// New creates a Bus. Call Register for each observer, then Start.
func New(cfg Config) *Bus {
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	packetCap := cfg.PacketLogCapacity
	if packetCap <= 0 {
		packetCap = DefaultPacketLogCapacity
	}
	return &Bus{
		queue:     make(chan any, queueSize),
		conns:     xsync.NewMap[uint64, *ConnRecord](),
		packets:   make([]PacketRecord, 0, packetCap),
		packetCap: packetCap,
		onPanic:   cfg.OnObserverPanic,
		done:      make(chan struct{}),
	}
}

// Register adds an observer. Call it only before Start: it does not
// check whether the worker is running, and the worker reads the observer
// slice without locking.
func (b *Bus) Register(o Observer) {
	b.observers = append(b.observers, o)
}

// Start launches the single dispatch worker.
func (b *Bus) Start() {
	b.startOnce.Do(func() {
		b.wg.Add(1)
		go b.run()
	})
}

// Stop drains any queued events and stops the worker. It blocks until the
// worker has finished processing everything already enqueued.
func (b *Bus) Stop() {
	b.stopOnce.Do(func() {
		close(b.queue)
	})
	b.wg.Wait()
}

func (b *Bus) run() {
	defer b.wg.Done()
	defer close(b.done)
	for event := range b.queue {
		b.handle(event)
	}
}

func (b *Bus) handle(event any) {
	switch e := event.(type) {
	case connectEvent:
		b.handleConnect(e)
	case forwardEvent:
		b.handleForward(e)
	case disconnectEvent:
		b.handleDisconnect(e)
	case snapshotRequest:
		b.handleSnapshot(e)
	}
}

func (b *Bus) handleConnect(e connectEvent) {
	b.conns.Store(e.id, &ConnRecord{
		ID:             e.id,
		ClientEndpoint: e.clientEndpoint,
		OriginEndpoint: e.originEndpoint,
		Host:           e.host,
		Online:         true,
	})
	b.notify(func(o Observer) { o.Connect(e.id, e.clientEndpoint, e.originEndpoint, e.host) })
}

func (b *Bus) handleForward(e forwardEvent) {
	if _, ok := b.conns.Load(e.id); !ok {
		return // late forward for an id that was never connected
	}
	b.appendPacket(e)
	b.notify(func(o Observer) { o.Forward(e.id, e.outside, e.bytes) })
}

func (b *Bus) handleDisconnect(e disconnectEvent) {
	rec, ok := b.conns.Load(e.id)
	if !ok {
		return // late teardown for an id that was never connected
	}
	rec.Online = false
	b.conns.Store(e.id, rec)
	b.notify(func(o Observer) { o.Disconnect(e.id) })
}

func (b *Bus) handleSnapshot(e snapshotRequest) {
	out := make([]ConnRecord, 0)
	b.conns.Range(func(_ uint64, rec *ConnRecord) bool {
		out = append(out, *rec)
		return true
	})
	e.reply <- out
}

func (b *Bus) appendPacket(e forwardEvent) {
	dir := OriginToClient
	if e.outside {
		dir = ClientToOrigin
	}
	rec := PacketRecord{ID: e.id, Direction: dir, Timestamp: time.Now(), PayloadSize: len(e.bytes)}
	if len(b.packets) < b.packetCap {
		b.packets = append(b.packets, rec)
		return
	}
	b.packets[b.packetPos] = rec
	b.packetPos = (b.packetPos + 1) % b.packetCap
}

func (b *Bus) notify(call func(Observer)) {
	for _, o := range b.observers {
		b.safeCall(o, call)
	}
}

func (b *Bus) safeCall(o Observer, call func(Observer)) {
	defer recoverObserver(fmt.Sprintf("%T", o), b.onPanic)
	call(o)
}

// Connect dispatches a connection-established event. It enqueues and
// returns without waiting for observers; it blocks only while the queue
// is full.
func (b *Bus) Connect(id uint64, clientEndpoint, originEndpoint, host string) {
	b.queue <- connectEvent{id: id, clientEndpoint: clientEndpoint, originEndpoint: originEndpoint, host: host}
}

// Forward dispatches one forwarded chunk. The byte slice is copied before
// this call returns, since the caller's splice loop may reuse its scratch
// buffer for the next read immediately afterwards.
func (b *Bus) Forward(id uint64, outside bool, bytes []byte) {
	cp := make([]byte, len(bytes))
	copy(cp, bytes)
	b.queue <- forwardEvent{id: id, outside: outside, bytes: cp}
}

// Disconnect dispatches a teardown event.
func (b *Bus) Disconnect(id uint64) {
	b.queue <- disconnectEvent{id: id}
}

// Snapshot returns a point-in-time copy of every ConnRecord currently
// known to the bus, linearized with connect/forward/disconnect processing
// by routing the read through the same single-writer queue.
func (b *Bus) Snapshot() []ConnRecord {
	reply := make(chan []ConnRecord, 1)
	b.queue <- snapshotRequest{reply: reply}
	return <-reply
}
