package app

import (
	"context"
	"io"
	"log/slog"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kestrelproxy/kestrel/internal/config"
	"github.com/kestrelproxy/kestrel/internal/logger"
)

func testLogger() logger.StyledLogger {
	return logger.NewPlainStyledLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func TestApplicationStartStopTunnelsAConnection(t *testing.T) {
	originLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer originLn.Close()
	originAddr := originLn.Addr().String()

	go func() {
		conn, err := originLn.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 5)
		if _, err := io.ReadFull(conn, buf); err != nil {
			return
		}
		_, _ = conn.Write([]byte("world"))
	}()

	cfg := config.DefaultConfig()
	cfg.Listener.Host = "127.0.0.1"
	cfg.Listener.Port = freePort(t)
	cfg.Listener.WorkerPoolSize = 2
	cfg.Listener.SpliceDeadline = 2 * time.Second
	cfg.Relay.EnableLogObserver = false

	application, err := New(cfg, testLogger(), time.Now())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, application.Start(ctx))
	defer application.Stop(context.Background())

	host, port, err := net.SplitHostPort(originAddr)
	require.NoError(t, err)

	client, err := net.Dial("tcp", net.JoinHostPort(cfg.Listener.Host, strconv.Itoa(cfg.Listener.Port)))
	require.NoError(t, err)
	defer client.Close()

	req := "CONNECT " + host + ":" + port + " HTTP/1.1\r\nHost: " + host + "\r\n\r\n"
	_, err = client.Write([]byte(req))
	require.NoError(t, err)

	resp := make([]byte, len("HTTP/1.1 200 Connection Established\r\n\r\n"))
	_, err = io.ReadFull(client, resp)
	require.NoError(t, err)
	require.Equal(t, "HTTP/1.1 200 Connection Established\r\n\r\n", string(resp))

	_, err = client.Write([]byte("hello"))
	require.NoError(t, err)

	back := make([]byte, 5)
	_, err = io.ReadFull(client, back)
	require.NoError(t, err)
	require.Equal(t, "world", string(back))

	client.Close()

	require.Eventually(t, func() bool {
		for _, rec := range application.Snapshot() {
			if !rec.Online {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
}

func TestApplicationRejectsNilConfig(t *testing.T) {
	_, err := New(nil, testLogger(), time.Now())
	require.Error(t, err)
}

