package session

import (
	"context"
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/kestrelproxy/kestrel/internal/logger"
	"github.com/stretchr/testify/require"
)

type event struct {
	kind           string
	id             uint64
	outside        bool
	bytes          []byte
	clientEndpoint string
	originEndpoint string
	host           string
}

type fakeDispatcher struct {
	mu     sync.Mutex
	events []event
}

func (f *fakeDispatcher) Connect(id uint64, clientEndpoint, originEndpoint, host string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event{kind: "connect", id: id, clientEndpoint: clientEndpoint, originEndpoint: originEndpoint, host: host})
}

func (f *fakeDispatcher) Forward(id uint64, outside bool, bytes []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := append([]byte(nil), bytes...)
	f.events = append(f.events, event{kind: "forward", id: id, outside: outside, bytes: cp})
}

func (f *fakeDispatcher) Disconnect(id uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event{kind: "disconnect", id: id})
}

func (f *fakeDispatcher) snapshot() []event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]event(nil), f.events...)
}

func testLogger(t *testing.T) logger.StyledLogger {
	t.Helper()
	return logger.NewPlainStyledLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func mockOrigin(t *testing.T, handle func(net.Conn)) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		handle(conn)
	}()
	return ln.Addr().String()
}

func TestSessionConnectTunnel(t *testing.T) {
	originAddr := mockOrigin(t, func(conn net.Conn) {
		defer conn.Close()
		buf := make([]byte, 5)
		if _, err := io.ReadFull(conn, buf); err != nil {
			return
		}
		_, _ = conn.Write([]byte("world"))
	})
	host, port, err := net.SplitHostPort(originAddr)
	require.NoError(t, err)

	clientConn, serverConn := net.Pipe()
	disp := &fakeDispatcher{}

	done := make(chan error, 1)
	go func() {
		s := New(1, serverConn, disp, testLogger(t), Config{PreambleLimit: 64 * 1024, SpliceDeadline: time.Second})
		done <- s.Run(context.Background())
	}()

	req := "CONNECT " + host + ":" + port + " HTTP/1.1\r\nHost: " + host + "\r\n\r\n"
	_, err = clientConn.Write([]byte(req))
	require.NoError(t, err)

	resp := make([]byte, len("HTTP/1.1 200 Connection Established\r\n\r\n"))
	_, err = io.ReadFull(clientConn, resp)
	require.NoError(t, err)
	require.Equal(t, "HTTP/1.1 200 Connection Established\r\n\r\n", string(resp))

	_, err = clientConn.Write([]byte("hello"))
	require.NoError(t, err)

	back := make([]byte, 5)
	_, err = io.ReadFull(clientConn, back)
	require.NoError(t, err)
	require.Equal(t, "world", string(back))

	clientConn.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("session did not terminate")
	}

	events := disp.snapshot()
	require.GreaterOrEqual(t, len(events), 3)
	require.Equal(t, "connect", events[0].kind)
	require.Equal(t, "disconnect", events[len(events)-1].kind)
}

func TestSessionForwardsRewrittenRequest(t *testing.T) {
	received := make(chan string, 1)
	originAddr := mockOrigin(t, func(conn net.Conn) {
		defer conn.Close()
		buf := make([]byte, 4096)
		n, _ := conn.Read(buf)
		received <- string(buf[:n])
		_, _ = conn.Write([]byte("HTTP/1.1 200 OK\r\nContent-Length: 0\r\n\r\n"))
	})

	clientConn, serverConn := net.Pipe()
	disp := &fakeDispatcher{}

	done := make(chan error, 1)
	go func() {
		s := New(2, serverConn, disp, testLogger(t), Config{PreambleLimit: 64 * 1024, SpliceDeadline: time.Second})
		done <- s.Run(context.Background())
	}()

	req := "GET http://" + originAddr + "/widgets HTTP/1.1\r\nHost: " + originAddr + "\r\n\r\n"
	_, err := clientConn.Write([]byte(req))
	require.NoError(t, err)

	select {
	case got := <-received:
		require.Contains(t, got, "GET /widgets HTTP/1.1\r\n")
		require.Contains(t, got, "Host: "+originAddr)
	case <-time.After(2 * time.Second):
		t.Fatal("origin never received rewritten request")
	}

	buf := make([]byte, 4096)
	n, _ := clientConn.Read(buf)
	require.Contains(t, string(buf[:n]), "200 OK")

	clientConn.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("session did not terminate")
	}
}

func TestSessionParseErrorClosesWithoutConnect(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	disp := &fakeDispatcher{}

	done := make(chan error, 1)
	go func() {
		s := New(3, serverConn, disp, testLogger(t), Config{PreambleLimit: 64 * 1024})
		done <- s.Run(context.Background())
	}()

	_, err := clientConn.Write([]byte("NOT A REQUEST\r\n\r\n"))
	require.NoError(t, err)
	clientConn.Close()

	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("session did not terminate")
	}
	require.Empty(t, disp.snapshot())
}
