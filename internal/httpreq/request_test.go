package httpreq

import (
	"strings"
	"testing"
)

func TestParseGet(t *testing.T) {
	raw := "GET http://example.invalid/a HTTP/1.1\r\nHost: example.invalid\r\n\r\n"
	e, err := Parse([]byte(raw))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.Method != "GET" || e.RequestTarget != "http://example.invalid/a" || e.Version != "HTTP/1.1" {
		t.Fatalf("unexpected entity: %+v", e)
	}
	if len(e.Headers) != 1 || e.Headers[0].Name != "Host" || e.Headers[0].Value != "example.invalid" {
		t.Fatalf("unexpected headers: %+v", e.Headers)
	}
}

func TestParsePreservesDuplicateHeadersAndOrder(t *testing.T) {
	raw := "GET / HTTP/1.1\r\nX-A: 1\r\nX-B: 2\r\nX-A: 3\r\n\r\n"
	e, err := Parse([]byte(raw))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []HeaderField{{"X-A", "1"}, {"X-B", "2"}, {"X-A", "3"}}
	if len(e.Headers) != len(want) {
		t.Fatalf("got %d headers, want %d", len(e.Headers), len(want))
	}
	for i, h := range want {
		if e.Headers[i] != h {
			t.Errorf("header[%d] = %+v, want %+v", i, e.Headers[i], h)
		}
	}
}

func TestParseMalformedStartLine(t *testing.T) {
	_, err := Parse([]byte("GARBAGE\r\n\r\n"))
	if err == nil {
		t.Fatal("expected error")
	}
	pe, ok := err.(*ParseError)
	if !ok || pe.Kind != KindStartLine {
		t.Fatalf("expected start_line ParseError, got %v", err)
	}
}

func TestParseMalformedHeader(t *testing.T) {
	_, err := Parse([]byte("GET / HTTP/1.1\r\nNotAHeader\r\n\r\n"))
	if err == nil {
		t.Fatal("expected error")
	}
	pe, ok := err.(*ParseError)
	if !ok || pe.Kind != KindHeader {
		t.Fatalf("expected header ParseError, got %v", err)
	}
}

func TestParseNoHeaders(t *testing.T) {
	e, err := Parse([]byte("GET / HTTP/1.0\r\n\r\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(e.Headers) != 0 {
		t.Fatalf("expected no headers, got %+v", e.Headers)
	}
}

func TestParseIgnoresBytesAfterTerminator(t *testing.T) {
	raw := "POST /p HTTP/1.1\r\nContent-Length: 3\r\n\r\nabc"
	e, err := Parse([]byte(raw))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.Method != "POST" {
		t.Fatalf("unexpected method: %s", e.Method)
	}
}

func TestWriteToOriginFormRoundTrip(t *testing.T) {
	raw := "POST http://h/original HTTP/1.1\r\nHost: h\r\nX-Custom: v\r\n\r\n"
	e, err := Parse([]byte(raw))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	buf := new(strings.Builder)
	if err := e.WriteTo(buf, "/p"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	reparsed, err := Parse([]byte(buf.String()))
	if err != nil {
		t.Fatalf("unexpected error reparsing: %v", err)
	}

	if reparsed.Method != e.Method || reparsed.Version != e.Version {
		t.Fatalf("round trip mismatch: %+v vs %+v", reparsed, e)
	}
	if reparsed.RequestTarget != "/p" {
		t.Fatalf("expected origin-form target /p, got %s", reparsed.RequestTarget)
	}
	if len(reparsed.Headers) != len(e.Headers) {
		t.Fatalf("header count mismatch: %d vs %d", len(reparsed.Headers), len(e.Headers))
	}
}
