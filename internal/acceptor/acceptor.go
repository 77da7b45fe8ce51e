// Package acceptor implements the Proxy: binds the listen socket, runs a
// fixed-size worker pool, and spawns one Session per accepted connection.
package acceptor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kestrelproxy/kestrel/internal/logger"
	"github.com/kestrelproxy/kestrel/internal/resultx"
	"github.com/kestrelproxy/kestrel/internal/session"
)

// Config bounds how the Proxy binds and schedules work. It mirrors
// config.ListenerConfig except for ShutdownTimeout, which internal/app
// applies itself; internal/app supplies the values directly rather than
// this package importing internal/config.
type Config struct {
	Host           string
	Port           int
	WorkerPoolSize int
	MaxSessions    int // 0 = no cap beyond WorkerPoolSize
	PreambleLimit  int64
	SpliceDeadline time.Duration
}

// Proxy binds one IPv4 listener and drives sessions through a fixed
// worker pool, grounded on the teacher's pkg/eventbus.WorkerPool shape:
// a bounded work queue drained by N long-lived goroutines, shut down via
// ctx-cancel plus a WaitGroup join. Each worker runs one Session to
// completion before pulling its next connection off the queue, so
// WorkerPoolSize is also the ceiling on concurrently active sessions -
// the cooperative-async-runtime-over-8-threads model of the original
// source collapses to this in Go, where a goroutine already IS the
// suspension-aware task; capping the worker count is what reproduces
// the bound, not a literal OS-thread pool.
type Proxy struct {
	cfg  Config
	disp session.Dispatcher
	log  logger.StyledLogger

	listener net.Listener
	connCh   chan net.Conn
	nextID   atomic.Uint64
	// slots, when non-nil, gates concurrently running sessions to
	// cfg.MaxSessions - a second, independent ceiling below the worker
	// pool's own (WorkerPoolSize is the implicit ceiling when MaxSessions
	// is 0 or exceeds it).
	slots chan struct{}

	// inFlight tracks every accepted client socket for the lifetime of its
	// Session, so Stop can force-close sockets whose Session is parked in
	// a blocking, ctx-unaware read (session.parse has no ctx plumbing of
	// its own) rather than only the ones already inside splice's
	// ctx.Done() select.
	inFlightMu sync.Mutex
	inFlight   map[uint64]net.Conn

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	errCh  chan error
}

// New constructs a Proxy. Call Start to bind and begin accepting.
func New(cfg Config, disp session.Dispatcher, log logger.StyledLogger) *Proxy {
	workers := cfg.WorkerPoolSize
	if workers <= 0 {
		workers = 8
	}
	cfg.WorkerPoolSize = workers
	return &Proxy{
		cfg:      cfg,
		disp:     disp,
		log:      log,
		errCh:    make(chan error, 1),
		inFlight: make(map[uint64]net.Conn),
	}
}

// Start binds the listener, launches the worker pool, and begins
// accepting connections in the background. It returns once the listener
// is bound; accept errors thereafter are reported on the channel
// returned by Errors().
func (p *Proxy) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", p.cfg.Host, p.cfg.Port)
	ln, err := net.Listen("tcp4", addr)
	if err != nil {
		return fmt.Errorf("acceptor: listen %s: %w", addr, err)
	}
	p.listener = ln
	p.connCh = make(chan net.Conn, p.cfg.WorkerPoolSize)
	p.ctx, p.cancel = context.WithCancel(ctx)
	if p.cfg.MaxSessions > 0 {
		p.slots = make(chan struct{}, p.cfg.MaxSessions)
	}

	for i := 0; i < p.cfg.WorkerPoolSize; i++ {
		p.wg.Add(1)
		go p.worker()
	}

	p.wg.Add(1)
	go p.acceptLoop()

	p.log.Info("acceptor listening", "addr", ln.Addr().String(), "workers", p.cfg.WorkerPoolSize)
	return nil
}

// Errors returns the channel Accept-loop failures are reported on; a
// send on this channel means the accept loop has stopped and the Proxy
// is effectively shut down from the inbound side.
func (p *Proxy) Errors() <-chan error {
	return p.errCh
}

func (p *Proxy) acceptLoop() {
	defer p.wg.Done()
	for {
		conn, err := p.listener.Accept()
		if err != nil {
			if p.ctx.Err() != nil {
				return // shutting down; not a real accept failure
			}
			p.log.Error("acceptor: accept failed", "error", err)
			select {
			case p.errCh <- &resultx.AcceptError{Err: err}:
			default:
			}
			return
		}

		select {
		case p.connCh <- conn:
		case <-p.ctx.Done():
			conn.Close()
			return
		}
	}
}

func (p *Proxy) worker() {
	defer p.wg.Done()
	for {
		select {
		case conn, ok := <-p.connCh:
			if !ok {
				return
			}
			p.runSession(conn)
		case <-p.ctx.Done():
			return
		}
	}
}

func (p *Proxy) runSession(conn net.Conn) {
	if p.slots != nil {
		select {
		case p.slots <- struct{}{}:
			defer func() { <-p.slots }()
		case <-p.ctx.Done():
			conn.Close()
			return
		}
	}

	id := p.nextID.Add(1) - 1
	p.trackConn(id, conn)
	defer p.untrackConn(id)

	s := session.New(id, conn, p.disp, p.log, session.Config{
		PreambleLimit:  p.cfg.PreambleLimit,
		SpliceDeadline: p.cfg.SpliceDeadline,
	})
	if err := s.Run(p.ctx); err != nil && p.ctx.Err() == nil {
		p.log.Debug("session ended with error", "session_id", id, "error", err)
	}
}

func (p *Proxy) trackConn(id uint64, conn net.Conn) {
	p.inFlightMu.Lock()
	p.inFlight[id] = conn
	p.inFlightMu.Unlock()
}

func (p *Proxy) untrackConn(id uint64) {
	p.inFlightMu.Lock()
	delete(p.inFlight, id)
	p.inFlightMu.Unlock()
}

// closeInFlight force-closes every client socket whose Session is still
// running, unblocking any worker parked in a read with no ctx of its own
// (session.parse, most notably) instead of leaving it to wait out the
// client.
func (p *Proxy) closeInFlight() {
	p.inFlightMu.Lock()
	defer p.inFlightMu.Unlock()
	for _, conn := range p.inFlight {
		_ = conn.Close()
	}
}

// Stop cancels the accept loop and every in-flight session (by closing
// their sockets out from under them - their Run calls unwind through
// their normal I/O-error paths), then joins all workers. Closing the
// listener alone only stops new accepts; closeInFlight is what reaches
// sessions already handed to a worker, including one parked in a
// blocking, ctx-unaware read.
func (p *Proxy) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}
	if p.listener != nil {
		_ = p.listener.Close()
	}
	p.closeInFlight()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.New("acceptor: shutdown timed out waiting for workers")
	}
}
