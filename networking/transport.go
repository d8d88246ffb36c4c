package networking

import (
	"context"
	"go_tftp/constants"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/net/ipv4"
)

var (
	ErrTimeout   = errors.New("timed out waiting for packet")
	ErrTransport = errors.New("transport failure")
	ErrClosed    = errors.New("endpoint closed")
)

// Endpoint is a UDP socket bound to one local port. It survives Reset and can serve
// several sequential transfers.
type Endpoint struct {
	mu     sync.Mutex // guards conn and laddr
	readMu sync.Mutex // one reader per datagram
	conn   *net.UDPConn
	laddr  *net.UDPAddr
	dscp   int
	buffer []byte
}

// Listen binds new endpoint on addr. Port 0 picks an ephemeral port that Reset keeps.
func Listen(addr string, dscp int) (*Endpoint, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve %s", addr)
	}

	e := &Endpoint{
		dscp:   dscp,
		buffer: make([]byte, constants.MAX_DATAGRAM_SIZE),
	}
	if err := e.bind(udpAddr); err != nil {
		return nil, err
	}

	return e, nil
}

// bind opens the socket and remembers the port it actually got
func (e *Endpoint) bind(addr *net.UDPAddr) error {
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return errors.Wrapf(ErrTransport, "bind %s: %v", addr, err)
	}
	if e.dscp > 0 {
		// Set DSCP. NOTE: only IPv4 sockets honour it.
		ipv4.NewConn(conn).SetTOS(e.dscp)
	}

	e.conn = conn
	e.laddr = conn.LocalAddr().(*net.UDPAddr)

	return nil
}

// LocalAddr returns bound address
func (e *Endpoint) LocalAddr() *net.UDPAddr {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.laddr
}

// Send writes one datagram
func (e *Endpoint) Send(message []byte, to *net.UDPAddr) error {
	conn := e.current()
	if conn == nil {
		return ErrClosed
	}
	if _, err := conn.WriteToUDP(message, to); err != nil {
		return errors.Wrapf(ErrTransport, "send to %s: %v", to, err)
	}
	return nil
}

// Receive reads next datagram. Zero deadline waits until a datagram arrives, ctx is
// cancelled or the endpoint is closed.
func (e *Endpoint) Receive(ctx context.Context, deadline time.Time) ([]byte, *net.UDPAddr, error) {
	e.readMu.Lock()
	defer e.readMu.Unlock()

	conn := e.current()
	if conn == nil {
		return nil, nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	if err := conn.SetReadDeadline(deadline); err != nil {
		if errors.Is(err, net.ErrClosed) {
			return nil, nil, ErrClosed
		}
		return nil, nil, errors.Wrapf(ErrTransport, "set read deadline: %v", err)
	}
	// Cancellation interrupts the read by pulling the deadline in.
	stop := context.AfterFunc(ctx, func() {
		conn.SetReadDeadline(time.Now())
	})
	defer stop()

	n, from, err := conn.ReadFromUDP(e.buffer)
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, nil, ErrTimeout
		}
		if errors.Is(err, net.ErrClosed) {
			return nil, nil, ErrClosed
		}
		return nil, nil, errors.Wrapf(ErrTransport, "receive: %v", err)
	}

	message := make([]byte, n)
	copy(message, e.buffer[:n])

	return message, from, nil
}

// Reset closes the socket and binds a fresh one on the same local port, dropping
// anything still queued.
func (e *Endpoint) Reset() error {
	e.readMu.Lock()
	defer e.readMu.Unlock()
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.conn != nil {
		e.conn.Close()
		e.conn = nil
	}
	return e.bind(e.laddr)
}

// Close closes the socket
func (e *Endpoint) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.conn == nil {
		return nil
	}
	err := e.conn.Close()
	e.conn = nil

	return err
}

func (e *Endpoint) current() *net.UDPConn {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.conn
}
