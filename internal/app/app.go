// Package app is the composition root: it wires the configuration,
// logger, Observer bus and Acceptor together behind a single
// Start/Stop lifecycle, grounded on the teacher's internal/app.Application
// (New/Start/Stop, an errCh for async startup failures, a context-bound
// graceful shutdown) but generalised from "run one http.Server" to "run
// one raw-socket Proxy plus its Observer bus".
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kestrelproxy/kestrel/internal/acceptor"
	"github.com/kestrelproxy/kestrel/internal/config"
	"github.com/kestrelproxy/kestrel/internal/logger"
	"github.com/kestrelproxy/kestrel/internal/relay"
)

// Application owns the Observer bus and the Acceptor for one proxy
// process, from bind through graceful shutdown.
type Application struct {
	cfg       *config.Config
	log       logger.StyledLogger
	bus       *relay.Bus
	proxy     *acceptor.Proxy
	startTime time.Time
	errCh     chan error
}

// New builds an Application from cfg, wiring the Observer bus (with its
// optional built-in LogObserver) and the Acceptor, but does not bind the
// listener or start the bus worker yet - that happens in Start.
func New(cfg *config.Config, log logger.StyledLogger, startTime time.Time) (*Application, error) {
	if cfg == nil {
		return nil, errors.New("app: nil config")
	}

	bus := relay.New(relay.Config{
		QueueSize:         cfg.Relay.QueueSize,
		PacketLogCapacity: cfg.Relay.PacketLogCapacity,
		OnObserverPanic: func(observer string, r any) {
			log.Error("observer panicked", "observer", observer, "recovered", r)
		},
	})
	if cfg.Relay.EnableLogObserver {
		bus.Register(relay.NewLogObserver(log))
	}

	proxy := acceptor.New(acceptor.Config{
		Host:           cfg.Listener.Host,
		Port:           cfg.Listener.Port,
		WorkerPoolSize: cfg.Listener.WorkerPoolSize,
		MaxSessions:    cfg.Listener.MaxSessions,
		PreambleLimit:  cfg.Listener.PreambleLimit,
		SpliceDeadline: cfg.Listener.SpliceDeadline,
	}, bus, log)

	return &Application{
		cfg:       cfg,
		log:       log,
		bus:       bus,
		proxy:     proxy,
		startTime: startTime,
		errCh:     make(chan error, 1),
	}, nil
}

// Start starts the Observer bus worker and binds the Acceptor's listen
// socket, then begins accepting in the background. It returns once the
// listener is bound; asynchronous accept-loop failures are logged and
// also surfaced through Errors().
func (a *Application) Start(ctx context.Context) error {
	a.bus.Start()

	if err := a.proxy.Start(ctx); err != nil {
		return fmt.Errorf("app: start acceptor: %w", err)
	}

	go func() {
		select {
		case err, ok := <-a.proxy.Errors():
			if ok {
				a.log.Error("acceptor stopped", "error", err)
				select {
				case a.errCh <- err:
				default:
				}
			}
		case <-ctx.Done():
		}
	}()

	a.log.Info("kestrel started", "addr", fmt.Sprintf("%s:%d", a.cfg.Listener.Host, a.cfg.Listener.Port))
	return nil
}

// Errors returns the channel fatal async acceptor failures are reported
// on.
func (a *Application) Errors() <-chan error {
	return a.errCh
}

// Stop cancels in-flight sessions, joins the Acceptor's worker pool, and
// drains the Observer bus before returning.
func (a *Application) Stop(ctx context.Context) error {
	shutdownCtx := ctx
	if a.cfg.Listener.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		shutdownCtx, cancel = context.WithTimeout(ctx, a.cfg.Listener.ShutdownTimeout)
		defer cancel()
	}

	if err := a.proxy.Stop(shutdownCtx); err != nil {
		a.log.Error("acceptor shutdown error", "error", err)
	}

	a.bus.Stop()
	return nil
}

// Snapshot returns the Observer bus's current ConnRecord set, exposed so
// a CLI or external Monitor can report live sessions without reaching
// into internal/relay directly.
func (a *Application) Snapshot() []relay.ConnRecord {
	return a.bus.Snapshot()
}
