package comms

import (
	"context"
	"go_tftp/constants"
	"go_tftp/fileio"
	"go_tftp/networking"
	"go_tftp/networking/opcode"
	"net"
	"syscall"
	"time"

	"github.com/pkg/errors"
)

var ErrTransferTimeout = errors.New("transfer timed out")

// State of a download
type State int

const (
	Idle State = iota
	RequestSent
	ReceivingData
	Complete
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case RequestSent:
		return "RequestSent"
	case ReceivingData:
		return "ReceivingData"
	case Complete:
		return "Complete"
	case Failed:
		return "Failed"
	}
	return "Unknown"
}

// Result describes a finished download
type Result struct {
	Filename string
	Path     string
	Bytes    int64
	Elapsed  time.Duration
	Checksum []byte
	State    State
}

// Session downloads one file with a read request
type Session struct {
	ep       *networking.Endpoint
	policy   networking.Policy
	factory  fileio.IOFactory
	hashing  uint8
	server   *net.UDPAddr
	peer     *net.UDPAddr
	stale    *net.UDPAddr
	filename string
	path     string

	state    State
	expected uint16
	bytes    int64
	start    time.Time
	writer   fileio.FileWriter
	checksum []byte
	tx       *networking.Retransmitter
}

// NewSession prepares download of filename from server into path
func NewSession(ep *networking.Endpoint, server *net.UDPAddr, filename, path string, policy networking.Policy,
	factory fileio.IOFactory, hashing uint8) *Session {
	return &Session{
		ep:       ep,
		policy:   policy,
		factory:  factory,
		hashing:  hashing,
		server:   server,
		filename: filename,
		path:     path,
		state:    Idle,
	}
}

// State returns current state
func (s *Session) State() State {
	return s.state
}

// IgnorePeer rejects addr as transfer port. Used for the port of an earlier download over
// the same endpoint, whose late retransmissions must not start this one.
func (s *Session) IgnorePeer(addr *net.UDPAddr) {
	s.stale = addr
}

// Peer returns the server transfer address once the first block arrived
func (s *Session) Peer() *net.UDPAddr {
	return s.peer
}

// Run performs the whole transfer. On failure the endpoint has been reset and the
// partial file removed.
func (s *Session) Run(ctx context.Context) (*Result, error) {
	s.start = time.Now()

	rrq, err := networking.EncodeRequest(opcode.RRQ, s.filename, constants.DEFAULT_MODE)
	if err != nil {
		s.state = Failed
		return s.result(), err
	}

	s.tx = networking.NewRetransmitter(s.ep, s.policy)
	if err := s.tx.Send(rrq, s.server); err != nil {
		return s.fail(err)
	}
	s.state = RequestSent
	s.expected = 1

	for s.state == RequestSent || s.state == ReceivingData {
		packet, from, err := s.policy.Await(ctx, s.ep, s.fromPeer)
		if err != nil {
			if !errors.Is(err, networking.ErrTimeout) {
				return s.fail(err)
			}
			// Resend the request or the last ack once.
			resent, err := s.tx.Retransmit()
			if err != nil {
				return s.fail(err)
			}
			if !resent {
				return s.fail(ErrTransferTimeout)
			}
			continue
		}

		switch p := packet.(type) {
		case *networking.Data:
			if err := s.receiveData(p, from); err != nil {
				return s.fail(err)
			}
		case *networking.ErrorPacket:
			return s.fail(p)
		default:
			// Anything else is not part of a download.
		}
	}

	return s.result(), nil
}

// receiveData handles one DATA packet
func (s *Session) receiveData(p *networking.Data, from *net.UDPAddr) error {
	if p.Block != s.expected {
		if s.state == ReceivingData {
			// Ack the last good block again.
			return s.tx.Repeat()
		}
		return nil
	}

	if s.state == RequestSent {
		// Server answers from its transfer port.
		s.peer = from
		s.writer = s.factory.NewWriter()
		if err := s.writer.New(s.path, s.hashing); err != nil {
			s.writer = nil
			return s.refuse(err)
		}
		s.state = ReceivingData
	}

	if err := s.writer.Write(p.Payload); err != nil {
		return s.refuse(err)
	}
	s.bytes += int64(len(p.Payload))

	if err := s.tx.Send(networking.EncodeAck(p.Block), s.peer); err != nil {
		return err
	}
	s.expected++

	if p.IsFinal() {
		checksum, err := s.writer.Close()
		s.writer = nil
		if err != nil {
			return err
		}
		s.checksum = checksum
		s.state = Complete
	}

	return nil
}

// fromPeer accepts the server's address on any port until the transfer port is known
func (s *Session) fromPeer(addr *net.UDPAddr) bool {
	if s.peer != nil {
		return sameAddr(addr, s.peer)
	}
	if s.stale != nil && sameAddr(addr, s.stale) {
		return false
	}
	return addr.IP.Equal(s.server.IP)
}

func sameAddr(a, b *net.UDPAddr) bool {
	return a.Port == b.Port && a.IP.Equal(b.IP)
}

// refuse tells the server a local write failed and returns err
func (s *Session) refuse(err error) error {
	to := s.peer
	if to == nil {
		return err
	}
	code := networking.ErrNotDefined
	if errors.Is(err, syscall.ENOSPC) {
		code = networking.ErrDiskFull
	}
	if sendErr := s.ep.Send(networking.EncodeError(code, err.Error()), to); sendErr != nil {
		return errors.Wrapf(err, "server not told: %v", sendErr)
	}
	return err
}

// fail tears the session down
func (s *Session) fail(cause error) (*Result, error) {
	s.state = Failed
	if s.writer != nil {
		s.writer.Abort()
		s.writer = nil
	}
	if err := s.ep.Reset(); err != nil {
		return s.result(), errors.Wrapf(cause, "reset endpoint: %v", err)
	}
	return s.result(), cause
}

func (s *Session) result() *Result {
	return &Result{
		Filename: s.filename,
		Path:     s.path,
		Bytes:    s.bytes,
		Elapsed:  time.Since(s.start),
		Checksum: s.checksum,
		State:    s.state,
	}
}
