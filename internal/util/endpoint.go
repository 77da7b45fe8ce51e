package util

import (
	"fmt"
	"math/rand"
	"net"
)

// GenerateRequestID returns a whimsical human-readable id for request
// tracing in log lines - distinct from the numeric session id a
// connection gets from the acceptor, which is what callers key state on.
func GenerateRequestID() string {
	actions := []string{
		"grazing", "trekking", "humming", "spitting", "prancing",
		"carrying", "leading", "following", "resting", "alerting",
		"browsing", "foraging", "wandering", "galloping", "ambling",
	}
	llamas := []string{
		"huacaya", "suri", "vicuna", "alpaca", "guanaco",
		"woolly", "silky", "fluffy", "curly", "shaggy",
		"noble", "gentle", "swift", "steady", "proud",
	}

	group := llamas[rand.Intn(len(llamas))]
	action := actions[rand.Intn(len(actions))]
	suffix := fmt.Sprintf("%04x", rand.Intn(65536))

	return fmt.Sprintf("%s_%s_%s", group, action, suffix)
}

// ClientEndpoint renders a connection's remote address as the
// "host:port" string used by the Observer bus's connect events and by
// styled log lines. Falls back to an empty string for a nil conn or
// address, which callers treat as "unknown".
func ClientEndpoint(conn net.Conn) string {
	if conn == nil {
		return ""
	}
	addr := conn.RemoteAddr()
	if addr == nil {
		return ""
	}
	return addr.String()
}
