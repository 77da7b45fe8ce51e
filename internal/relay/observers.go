package relay

import (
	"sync"

	"github.com/kestrelproxy/kestrel/internal/util"
)

// Logger is the narrow structured-logging capability LogObserver needs;
// internal/logger.StyledLogger satisfies it.
type Logger interface {
	Info(msg string, args ...any)
	Debug(msg string, args ...any)
}

// LogObserver is a concrete Observer that writes one line per connect and
// disconnect plus running byte totals, reintroducing the console summary
// the original source's monitor.cc printed - without building the GUI
// dashboard (Monitor) that spec.md keeps out of scope. It exists mainly
// to exercise the registration contract with a second, non-GUI observer.
type LogObserver struct {
	log Logger

	mu     sync.Mutex
	totals map[uint64]*byteTotals
}

type byteTotals struct {
	toOrigin uint64
	toClient uint64
}

// NewLogObserver returns a LogObserver that writes through log.
func NewLogObserver(log Logger) *LogObserver {
	return &LogObserver{log: log, totals: make(map[uint64]*byteTotals)}
}

func (l *LogObserver) Connect(id uint64, clientEndpoint, originEndpoint, host string) {
	l.mu.Lock()
	l.totals[id] = &byteTotals{}
	l.mu.Unlock()
	l.log.Info("session connected", "session_id", id, "client", clientEndpoint, "origin", originEndpoint, "host", host)
}

func (l *LogObserver) Forward(id uint64, outside bool, bytes []byte) {
	l.mu.Lock()
	t, ok := l.totals[id]
	if ok {
		if outside {
			t.toOrigin += uint64(len(bytes))
		} else {
			t.toClient += uint64(len(bytes))
		}
	}
	l.mu.Unlock()
	l.log.Debug("session forward", "session_id", id, "outside", outside, "bytes", len(bytes))
}

func (l *LogObserver) Disconnect(id uint64) {
	l.mu.Lock()
	t := l.totals[id]
	delete(l.totals, id)
	l.mu.Unlock()

	if t == nil {
		l.log.Info("session disconnected", "session_id", id)
		return
	}
	l.log.Info("session disconnected", "session_id", id,
		"bytes_to_origin", t.toOrigin, "bytes_to_client", t.toClient,
		"bytes_delta", util.SafeInt64Diff(t.toOrigin, t.toClient))
}
