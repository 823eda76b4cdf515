package guard

import (
	"bytes"
	"context"
	"net"
	"strings"
	"sync"
	"sync/atomic"
)

// net/http merges Transfer-Encoding and Content-Length into the parsed
// request and drops the latter, so the pair can only be seen on the wire.
// NewListener and ConnContext record the raw header block of every request
// on a connection; CheckRequest consults that record.

const (
	headKeep = 128
	tailKeep = len(" HTTP/1.1\r")
)

type listener struct {
	net.Listener
}

// NewListener wraps l so that every accepted connection scans the request
// headers it reads. Serve with ConnContext to make the result visible to
// handlers.
func NewListener(l net.Listener) net.Listener {
	return &listener{Listener: l}
}

func (l *listener) Accept() (net.Conn, error) {
	c, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}

	return &conn{Conn: c}, nil
}

type conn struct {
	net.Conn
	mu       sync.Mutex
	scanner  headerScanner
	smuggled atomic.Bool
}

func (c *conn) Read(p []byte) (int, error) {
	n, err := c.Conn.Read(p)
	if n > 0 {
		c.mu.Lock()
		found := c.scanner.Write(p[:n])
		c.mu.Unlock()
		if found {
			c.smuggled.Store(true)
		}
	}

	return n, err
}

type connKey struct{}

// ConnContext is meant for http.Server.ConnContext.
func ConnContext(ctx context.Context, c net.Conn) context.Context {
	if gc, ok := c.(*conn); ok {
		return context.WithValue(ctx, connKey{}, gc)
	}

	return ctx
}

func smuggledConn(ctx context.Context) bool {
	c, ok := ctx.Value(connKey{}).(*conn)
	return ok && c.smuggled.Load()
}

// headerScanner follows a raw HTTP/1 byte stream line by line. After a
// request line it collects header names until the blank line. Only the
// start and the end of each line are kept.
type headerScanner struct {
	head     []byte
	tail     []byte
	inHeader bool
	length   bool
	encoding bool
	found    bool
}

// Write reports whether any header block seen so far carried both
// Content-Length and Transfer-Encoding.
func (s *headerScanner) Write(p []byte) bool {
	for _, b := range p {
		if b == '\n' {
			s.line()
			s.head, s.tail = s.head[:0], s.tail[:0]
			continue
		}
		if len(s.head) < headKeep {
			s.head = append(s.head, b)
		}
		if len(s.tail) == tailKeep {
			copy(s.tail, s.tail[1:])
			s.tail = s.tail[:tailKeep-1]
		}
		s.tail = append(s.tail, b)
	}

	return s.found
}

func (s *headerScanner) line() {
	head := bytes.TrimSuffix(s.head, []byte{'\r'})
	tail := bytes.TrimSuffix(s.tail, []byte{'\r'})

	if !s.inHeader {
		if isRequestLine(head, tail) {
			s.inHeader = true
			s.length, s.encoding = false, false
		}
		return
	}
	if len(head) == 0 {
		s.inHeader = false
		return
	}
	name, _, ok := bytes.Cut(head, []byte{':'})
	if !ok {
		return
	}
	switch strings.ToLower(string(bytes.TrimSpace(name))) {
	case "content-length":
		s.length = true
	case "transfer-encoding":
		s.encoding = true
	}
	if s.length && s.encoding {
		s.found = true
	}
}

// isRequestLine only looks at the protocol version at the end of the line,
// since a request body without a trailing newline runs into the next
// request line.
func isRequestLine(head, tail []byte) bool {
	if !bytes.ContainsRune(head, ' ') {
		return false
	}

	return bytes.HasSuffix(tail, []byte(" HTTP/1.1")) || bytes.HasSuffix(tail, []byte(" HTTP/1.0"))
}
