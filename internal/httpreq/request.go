// Package httpreq parses the HTTP/1.x request preamble (start line plus
// headers, up to and including the terminating CRLF CRLF) that a client
// sends to the proxy.
package httpreq

import (
	"bytes"
	"fmt"
	"io"
	"regexp"
)

// HeaderField is one "name: value" header line. Order and duplicates are
// preserved exactly as they appeared on the wire.
type HeaderField struct {
	Name  string
	Value string
}

// Entity is a parsed request preamble.
type Entity struct {
	Method        string
	RequestTarget string
	Version       string
	Headers       []HeaderField
}

// ParseErrorKind classifies why Parse failed.
type ParseErrorKind string

const (
	KindStartLine ParseErrorKind = "start_line"
	KindHeader    ParseErrorKind = "header"
)

// ParseError reports a malformed request preamble.
type ParseError struct {
	Kind  ParseErrorKind
	Input string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("httpreq: %s: %q", e.Kind, e.Input)
}

const crlf = "\r\n"

var startLineRe = regexp.MustCompile(`^([A-Z]+) ([^ ]+) (HTTP/\d\.\d)$`)

// Parse parses preamble, a byte slice known to contain at least one
// "\r\n\r\n" terminator. Bytes following that terminator are ignored by
// Parse; callers are responsible for carrying them forward as residual.
func Parse(preamble []byte) (Entity, error) {
	end := bytes.Index(preamble, []byte(crlf+crlf))
	if end < 0 {
		return Entity{}, &ParseError{Kind: KindStartLine, Input: string(preamble)}
	}
	head := string(preamble[:end])

	lines := splitCRLF(head)
	if len(lines) == 0 {
		return Entity{}, &ParseError{Kind: KindStartLine, Input: head}
	}

	m := startLineRe.FindStringSubmatch(lines[0])
	if m == nil {
		return Entity{}, &ParseError{Kind: KindStartLine, Input: lines[0]}
	}

	entity := Entity{Method: m[1], RequestTarget: m[2], Version: m[3]}

	for _, line := range lines[1:] {
		idx := indexSep(line)
		if idx < 0 {
			return Entity{}, &ParseError{Kind: KindHeader, Input: line}
		}
		entity.Headers = append(entity.Headers, HeaderField{
			Name:  line[:idx],
			Value: line[idx+2:],
		})
	}

	return entity, nil
}

func splitCRLF(s string) []string {
	if s == "" {
		return nil
	}
	parts := bytes.Split([]byte(s), []byte(crlf))
	out := make([]string, len(parts))
	for i, p := range parts {
		out[i] = string(p)
	}
	return out
}

func indexSep(line string) int {
	return bytes.Index([]byte(line), []byte(": "))
}

// Get returns the value of the first header matching name (case-sensitive,
// per spec no folding is performed) and whether it was present.
func (e Entity) Get(name string) (string, bool) {
	for _, h := range e.Headers {
		if h.Name == name {
			return h.Value, true
		}
	}
	return "", false
}

// WriteTo writes the request line and headers using target as the
// request-target (letting the caller supply either the original
// absolute-form target or an origin-form path) followed by the
// terminating blank line. It never writes a body.
func (e Entity) WriteTo(w io.Writer, target string) error {
	if _, err := fmt.Fprintf(w, "%s %s %s%s", e.Method, target, e.Version, crlf); err != nil {
		return err
	}
	for _, h := range e.Headers {
		if _, err := fmt.Fprintf(w, "%s: %s%s", h.Name, h.Value, crlf); err != nil {
			return err
		}
	}
	_, err := io.WriteString(w, crlf)
	return err
}

// Dump renders the request using its own original RequestTarget, the
// absolute-form wire representation a client would have sent.
func (e Entity) Dump() string {
	var buf bytes.Buffer
	_ = e.WriteTo(&buf, e.RequestTarget)
	return buf.String()
}
