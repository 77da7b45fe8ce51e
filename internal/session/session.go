// Package session drives one accepted client connection through its
// entire lifecycle: Parsing the HTTP preamble, Resolving and Connecting
// to the origin, Dispatch (CONNECT 200 or rewritten-request write), full
// duplex Splicing, and Closing. It is the per-connection counterpart to
// internal/acceptor, which owns the listener and worker pool.
package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync/atomic"
	"time"

	"github.com/kestrelproxy/kestrel/internal/httpreq"
	"github.com/kestrelproxy/kestrel/internal/logger"
	"github.com/kestrelproxy/kestrel/internal/pool"
	"github.com/kestrelproxy/kestrel/internal/resultx"
	"github.com/kestrelproxy/kestrel/internal/uri"
	"github.com/kestrelproxy/kestrel/internal/util"
)

const methodConnect = "CONNECT"

// Dispatcher is the narrow capability a Session needs from the Observer
// bus. internal/relay.Bus satisfies it.
type Dispatcher interface {
	Connect(id uint64, clientEndpoint, originEndpoint, host string)
	Forward(id uint64, outside bool, bytes []byte)
	Disconnect(id uint64)
}

// Config bounds a Session's parsing and splicing behaviour.
type Config struct {
	// PreambleLimit is the maximum number of bytes read while accumulating
	// the request line and headers before giving up with a ParseError.
	PreambleLimit int64
	// SpliceDeadline bounds the full-duplex relay phase; zero means no
	// deadline.
	SpliceDeadline time.Duration
}

// Session owns one client socket and, once Connecting succeeds, one
// origin socket. It is constructed fresh per accepted connection and
// discarded once Run returns.
type Session struct {
	id        uint64
	requestID string
	client    net.Conn
	disp      Dispatcher
	log       logger.StyledLogger
	cfg       Config

	clientEndpoint string
	connected      bool
}

// New constructs a Session for an already-accepted client connection.
// The Acceptor owns id allocation; the Session never reuses or mutates
// it. requestID is a whimsical human-readable tag alongside the numeric
// id, for grepping a single session's lines out of a noisy log.
func New(id uint64, client net.Conn, disp Dispatcher, log logger.StyledLogger, cfg Config) *Session {
	return &Session{
		id:             id,
		requestID:      util.GenerateRequestID(),
		client:         client,
		disp:           disp,
		log:            log,
		cfg:            cfg,
		clientEndpoint: util.ClientEndpoint(client),
	}
}

// Run drives the Session to completion. It always closes the client
// socket (and the origin socket, once one exists) before returning, and
// it calls Disconnect on the dispatcher exactly once iff Connect was
// previously emitted. The returned error is nil for a session that
// completed a normal splice; any non-nil error is already one of
// internal/resultx's taxonomy.
func (s *Session) Run(ctx context.Context) error {
	defer s.client.Close()

	entity, residual, err := s.parse()
	if err != nil {
		s.log.WarnWithEndpoint("session parse failed", s.clientEndpoint, "error", err, "session_id", s.id, "request_id", s.requestID)
		return err
	}

	target, err := uri.Parse(entity.RequestTarget)
	if err != nil {
		parseErr := &resultx.ParseError{Kind: resultx.KindURI, Err: err, Input: entity.RequestTarget}
		s.log.WarnWithEndpoint("session target parse failed", s.clientEndpoint, "error", parseErr, "session_id", s.id, "request_id", s.requestID)
		return parseErr
	}

	ip, err := s.resolve(ctx, target.Host)
	if err != nil {
		s.log.WarnWithEndpoint("session resolve failed", s.clientEndpoint, "error", err, "session_id", s.id, "request_id", s.requestID)
		return err
	}

	origin, originEndpoint, err := s.connectOrigin(ctx, ip, target.Port)
	if err != nil {
		s.log.WarnWithEndpoint("session connect failed", s.clientEndpoint, "error", err, "session_id", s.id, "request_id", s.requestID)
		return err
	}
	defer origin.Close()

	s.disp.Connect(s.id, s.clientEndpoint, originEndpoint, target.Host)
	s.connected = true
	defer s.finish()

	isConnect := entity.Method == methodConnect
	if err := s.dispatch(entity, target, residual, origin, isConnect); err != nil {
		s.log.WarnWithEndpoint("session dispatch failed", originEndpoint, "error", err, "session_id", s.id, "request_id", s.requestID)
		return err
	}

	if isConnect {
		residual = nil
	}
	return s.splice(ctx, origin, residual)
}

func (s *Session) finish() {
	if s.connected {
		s.disp.Disconnect(s.id)
		s.connected = false
	}
}

// parse reads from the client socket into an accumulating buffer until
// "\r\n\r\n" appears, then parses the preamble. Bytes read past the
// terminator are returned as residual, untouched.
func (s *Session) parse() (httpreq.Entity, []byte, error) {
	buf := pool.GetScratchBuffer()
	defer pool.PutScratchBuffer(buf)

	acc := make([]byte, 0, pool.ScratchBufferSize)
	for {
		if int64(len(acc)) > s.cfg.PreambleLimit {
			return httpreq.Entity{}, nil, &resultx.ParseError{Kind: resultx.KindPreambleTooBig, Input: fmt.Sprintf("%d bytes", len(acc))}
		}
		if idx := bytes.Index(acc, []byte("\r\n\r\n")); idx >= 0 {
			entity, err := httpreq.Parse(acc)
			if err != nil {
				var perr *httpreq.ParseError
				kind := resultx.KindStartLine
				if errors.As(err, &perr) && perr.Kind == httpreq.KindHeader {
					kind = resultx.KindHeader
				}
				return httpreq.Entity{}, nil, &resultx.ParseError{Kind: kind, Err: err}
			}
			residual := append([]byte(nil), acc[idx+4:]...)
			return entity, residual, nil
		}

		n, err := s.client.Read(buf)
		if n > 0 {
			acc = append(acc, buf[:n]...)
		}
		if err != nil {
			if errors.Is(err, io.EOF) && bytes.Contains(acc, []byte("\r\n\r\n")) {
				continue
			}
			return httpreq.Entity{}, nil, &resultx.ParseError{Kind: resultx.KindStartLine, Err: err}
		}
	}
}

// resolve returns the single IP address the Session will connect to:
// the literal host if it parses as an IP, otherwise the first address
// the system resolver returns.
func (s *Session) resolve(ctx context.Context, host string) (net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		return ip, nil
	}
	addrs, err := net.DefaultResolver.LookupHost(ctx, host)
	if err != nil {
		return nil, &resultx.ResolveError{Host: host, Err: err}
	}
	if len(addrs) == 0 {
		return nil, &resultx.ResolveError{Host: host, Err: errors.New("no addresses returned")}
	}
	ip := net.ParseIP(addrs[0])
	if ip == nil {
		return nil, &resultx.ResolveError{Host: host, Err: fmt.Errorf("unparseable resolved address %q", addrs[0])}
	}
	return ip, nil
}

func (s *Session) connectOrigin(ctx context.Context, ip net.IP, port uint16) (net.Conn, string, error) {
	endpoint := net.JoinHostPort(ip.String(), fmt.Sprintf("%d", port))
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", endpoint)
	if err != nil {
		return nil, "", &resultx.ConnectError{Endpoint: endpoint, Err: err}
	}
	return conn, endpoint, nil
}

// dispatch performs the CONNECT-200-response or rewritten-request write
// that transitions the Session from Connecting into Splicing.
//
// CONNECT residual bytes are dropped rather than forwarded (when isConnect
// is true the caller nils residual out after this returns): spec.md
// leaves the choice open, and discarding them avoids replaying
// pre-handshake bytes into a TLS stream the client hasn't started yet.
func (s *Session) dispatch(entity httpreq.Entity, target uri.Uri, residual []byte, origin net.Conn, isConnect bool) error {
	if isConnect {
		_, err := io.WriteString(s.client, "HTTP/1.1 200 Connection Established\r\n\r\n")
		if err != nil {
			return &resultx.IoError{Direction: "origin->client", Err: err}
		}
		return nil
	}

	path := target.Path
	if path == "" {
		path = "/"
	}
	if err := entity.WriteTo(origin, path); err != nil {
		return &resultx.IoError{Direction: "client->origin", Err: err}
	}
	if len(residual) > 0 {
		if _, err := origin.Write(residual); err != nil {
			return &resultx.IoError{Direction: "client->origin", Err: err}
		}
		s.disp.Forward(s.id, true, residual)
	}
	return nil
}

// splice runs the two symmetric forwarders concurrently and returns once
// both have exited. residual, if nonempty (non-CONNECT path with a body
// prefix that arrived alongside the preamble) was already flushed to
// origin by dispatch and forwarded as one event there, so splice itself
// starts both halves from a clean read.
func (s *Session) splice(ctx context.Context, origin net.Conn, _ []byte) error {
	var deadlineFired atomic.Bool

	if s.cfg.SpliceDeadline > 0 {
		timer := time.AfterFunc(s.cfg.SpliceDeadline, func() {
			deadlineFired.Store(true)
			s.client.Close()
			origin.Close()
		})
		defer timer.Stop()
	}

	errCh := make(chan error, 2)
	go func() { errCh <- s.forward(s.client, origin, true) }()
	go func() { errCh <- s.forward(origin, s.client, false) }()

	var first error
	done := make(chan struct{})
	go func() {
		for i := 0; i < 2; i++ {
			if err := <-errCh; err != nil && first == nil {
				first = err
			}
		}
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.client.Close()
		origin.Close()
		<-done
	}

	if first != nil && deadlineFired.Load() {
		return resultx.NewTimeoutError("splice", s.cfg.SpliceDeadline)
	}
	return first
}

// forward copies from one socket to the other, emitting one Forward
// event per chunk read. outside is true for the client-to-origin
// direction, matching internal/relay's Direction convention. On EOF or
// read error it half-closes (or fully closes) to; on write error it
// closes from, so the peer forwarder unwinds through its own read error.
func (s *Session) forward(from, to net.Conn, outside bool) error {
	buf := pool.GetScratchBuffer()
	defer pool.PutScratchBuffer(buf)

	for {
		n, rerr := from.Read(buf)
		if n > 0 {
			s.disp.Forward(s.id, outside, buf[:n])
			if _, werr := to.Write(buf[:n]); werr != nil {
				_ = from.Close()
				return &resultx.IoError{Direction: direction(outside), Err: werr}
			}
		}
		if rerr != nil {
			s.halfClose(to)
			if errors.Is(rerr, io.EOF) {
				return nil
			}
			return &resultx.IoError{Direction: direction(outside), Err: rerr}
		}
	}
}

func (s *Session) halfClose(conn net.Conn) {
	if tc, ok := conn.(interface{ CloseWrite() error }); ok {
		_ = tc.CloseWrite()
		return
	}
	_ = conn.Close()
}

func direction(outside bool) string {
	if outside {
		return "client->origin"
	}
	return "origin->client"
}
