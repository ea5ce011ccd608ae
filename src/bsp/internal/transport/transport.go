// Package transport opens duplex, ordered, reliable byte streams to a build
// server over TCP, a local domain socket, or a pair of OS pipes.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"sync"
	"syscall"

	bsperrors "github.com/uber/bsp-go/src/bsp/internal/errors"
	"go.uber.org/multierr"
)

// Kind names the supported endpoint kinds in configuration.
type Kind string

const (
	// KindTCP is a host:port TCP endpoint.
	KindTCP Kind = "tcp"
	// KindSocket is a local domain socket endpoint.
	KindSocket Kind = "socket"
	// KindPipe is a pair of OS pipes composed into one duplex stream.
	KindPipe Kind = "pipe"
)

// Endpoint describes where a build server listens. Immutable once constructed.
type Endpoint interface {
	fmt.Stringer
	kind() Kind
}

// TCP is a host and port endpoint.
type TCP struct {
	Host string
	Port int
}

func (e TCP) kind() Kind { return KindTCP }

func (e TCP) String() string {
	return string(KindTCP) + "://" + net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// Socket is a local domain socket endpoint at a filesystem path.
type Socket struct {
	Path string
}

func (e Socket) kind() Kind { return KindSocket }

func (e Socket) String() string { return string(KindSocket) + "://" + e.Path }

// Pipe composes a read-direction and a write-direction pipe into one duplex
// stream. Both files are owned by the endpoint's stream once dialed.
type Pipe struct {
	Reader *os.File
	Writer *os.File
}

func (e Pipe) kind() Kind { return KindPipe }

func (e Pipe) String() string {
	// Callers key caches on String before Dial validates the endpoint, so a
	// missing handle must not panic here.
	reader, writer := "<nil>", "<nil>"
	if e.Reader != nil {
		reader = e.Reader.Name()
	}
	if e.Writer != nil {
		writer = e.Writer.Name()
	}
	return string(KindPipe) + "://" + reader + "," + writer
}

// Dial opens a duplex byte stream to the endpoint. The returned stream's
// Close is idempotent and safe to call from any goroutine; outstanding reads
// and writes observe the close as an immediate error.
func Dial(ctx context.Context, endpoint Endpoint) (io.ReadWriteCloser, error) {
	switch e := endpoint.(type) {
	case TCP:
		if e.Host == "" || e.Port <= 0 || e.Port > 65535 {
			return nil, &bsperrors.TransportError{Kind: bsperrors.TransportMalformedAddress, Endpoint: endpoint.String()}
		}
		return dialNet(ctx, "tcp", net.JoinHostPort(e.Host, strconv.Itoa(e.Port)), endpoint)
	case Socket:
		if e.Path == "" {
			return nil, &bsperrors.TransportError{Kind: bsperrors.TransportMalformedAddress, Endpoint: endpoint.String()}
		}
		return dialNet(ctx, "unix", e.Path, endpoint)
	case Pipe:
		if e.Reader == nil || e.Writer == nil {
			return nil, &bsperrors.TransportError{Kind: bsperrors.TransportMalformedAddress, Endpoint: endpoint.String()}
		}
		return newDuplexPipe(e.Reader, e.Writer), nil
	default:
		return nil, &bsperrors.TransportError{Kind: bsperrors.TransportMalformedAddress, Endpoint: fmt.Sprintf("%T", endpoint)}
	}
}

// Listen binds a listener for the server side of a TCP or socket endpoint.
// Pipe endpoints have no listener; the pipe pair is handed to the child
// process at spawn time instead.
func Listen(endpoint Endpoint) (net.Listener, error) {
	var d net.ListenConfig
	switch e := endpoint.(type) {
	case TCP:
		ln, err := d.Listen(context.Background(), "tcp", net.JoinHostPort(e.Host, strconv.Itoa(e.Port)))
		if err != nil {
			return nil, classify(err, endpoint)
		}
		return ln, nil
	case Socket:
		// A stale socket file from a dead server would make the bind fail.
		if err := os.Remove(e.Path); err != nil && !os.IsNotExist(err) {
			return nil, classify(err, endpoint)
		}
		ln, err := d.Listen(context.Background(), "unix", e.Path)
		if err != nil {
			return nil, classify(err, endpoint)
		}
		return ln, nil
	default:
		return nil, &bsperrors.TransportError{Kind: bsperrors.TransportMalformedAddress, Endpoint: endpoint.String()}
	}
}

func dialNet(ctx context.Context, network, address string, endpoint Endpoint) (io.ReadWriteCloser, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, network, address)
	if err != nil {
		return nil, classify(err, endpoint)
	}
	return &onceCloser{rwc: conn}, nil
}

func classify(err error, endpoint Endpoint) error {
	kind := bsperrors.TransportRefused
	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		kind = bsperrors.TransportRefused
	case errors.Is(err, syscall.EACCES) || errors.Is(err, syscall.EPERM) || os.IsPermission(err):
		kind = bsperrors.TransportPermissionDenied
	case errors.Is(err, context.DeadlineExceeded) || isTimeout(err):
		kind = bsperrors.TransportTimeout
	case isAddrError(err):
		kind = bsperrors.TransportMalformedAddress
	}
	return &bsperrors.TransportError{Kind: kind, Endpoint: endpoint.String(), Err: err}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func isAddrError(err error) bool {
	var ae *net.AddrError
	if errors.As(err, &ae) {
		return true
	}
	var pe *net.ParseError
	return errors.As(err, &pe)
}

// onceCloser wraps a stream so Close releases resources exactly once.
type onceCloser struct {
	rwc  io.ReadWriteCloser
	once sync.Once
	err  error
}

func (c *onceCloser) Read(p []byte) (int, error)  { return c.rwc.Read(p) }
func (c *onceCloser) Write(p []byte) (int, error) { return c.rwc.Write(p) }

func (c *onceCloser) Close() error {
	c.once.Do(func() {
		c.err = c.rwc.Close()
	})
	return c.err
}

// duplexPipe joins one read-direction and one write-direction pipe into a
// single duplex stream with a single idempotent Close.
type duplexPipe struct {
	r    *os.File
	w    *os.File
	once sync.Once
	err  error
}

func newDuplexPipe(r, w *os.File) io.ReadWriteCloser {
	return &duplexPipe{r: r, w: w}
}

func (p *duplexPipe) Read(b []byte) (int, error)  { return p.r.Read(b) }
func (p *duplexPipe) Write(b []byte) (int, error) { return p.w.Write(b) }

func (p *duplexPipe) Close() error {
	p.once.Do(func() {
		p.err = multierr.Append(p.r.Close(), p.w.Close())
	})
	return p.err
}
