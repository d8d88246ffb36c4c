package server

import (
	"context"
	"go_tftp/constants"
	"go_tftp/fileio"
	"go_tftp/networking"
	"log"
	"net"
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Options configures a Server. Zero values fall back to constants.
type Options struct {
	Root       string
	Timeout    time.Duration
	MaxRetries int
	DSCP       int
	Factory    fileio.IOFactory
	Logger     *log.Logger
}

// Server dispatches TFTP requests arriving on one listening endpoint
type Server struct {
	opts     Options
	listener *networking.Endpoint
	sessions sync.WaitGroup
}

// NewServer returns server serving files below opts.Root
func NewServer(opts Options) *Server {
	if opts.Root == "" {
		opts.Root = "."
	}
	if opts.Timeout == 0 {
		opts.Timeout = constants.SERVER_TIMEOUT
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = constants.DEFAULT_RETRIES
	}
	if opts.Factory == nil {
		opts.Factory = new(fileio.BufferedFactory)
	}
	if opts.Logger == nil {
		opts.Logger = log.New(os.Stderr, constants.DEFAULT_LOG_PREFIX, log.LstdFlags)
	}
	return &Server{opts: opts}
}

// Listen binds the request port
func (s *Server) Listen(addr string) error {
	// Check path validity.
	info, err := os.Stat(s.opts.Root)
	if err != nil {
		return errors.Wrap(err, "invalid root folder")
	}
	if !info.IsDir() {
		return errors.Errorf("invalid root folder %s: not a directory", s.opts.Root)
	}

	ep, err := networking.Listen(addr, s.opts.DSCP)
	if err != nil {
		return errors.Wrap(err, "could not bind listening socket on "+addr)
	}
	s.listener = ep
	s.opts.Logger.Println("Listening on", ep.LocalAddr(), "root:", s.opts.Root)

	return nil
}

// Addr returns the bound request address
func (s *Server) Addr() *net.UDPAddr {
	if s.listener == nil {
		return nil
	}
	return s.listener.LocalAddr()
}

// Serve dispatches requests until ctx is cancelled, then waits for running transfers
func (s *Server) Serve(ctx context.Context) error {
	if s.listener == nil {
		return errors.New("server is not listening")
	}
	defer s.listener.Close()

	for {
		message, from, err := s.listener.Receive(ctx, time.Time{})
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, networking.ErrClosed) {
				break
			}
			s.opts.Logger.Println("Read error:", err)
			continue
		}
		s.dispatcher(ctx, message, from)
	}

	s.sessions.Wait()
	return nil
}

// StartListening binds addr and serves until ctx is cancelled
func (s *Server) StartListening(ctx context.Context, addr string) error {
	if err := s.Listen(addr); err != nil {
		return err
	}
	return s.Serve(ctx)
}

// dispatcher determines what to do with a datagram on the request port
func (s *Server) dispatcher(ctx context.Context, message []byte, from *net.UDPAddr) {
	packet, err := networking.DecodePacket(message)
	if err != nil {
		s.opts.Logger.Println("Dropping datagram from", from, "-", err)
		return
	}

	switch p := packet.(type) {
	case *networking.ReadRequest:
		s.opts.Logger.Println("RRQ", p.Filename, "from", from)
		session, err := s.newSession(p, from)
		if err != nil {
			s.opts.Logger.Println("Could not open transfer port for", from, "-", err)
			return
		}
		s.sessions.Add(1)
		go func() {
			defer s.sessions.Done()
			if err := session.Run(ctx); err != nil {
				s.opts.Logger.Println("Transfer of", p.Filename, "to", from, "failed:", err)
			}
		}()
	case *networking.WriteRequest:
		s.opts.Logger.Println("WRQ", p.Filename, "from", from)
		s.rejectWrite(p, from)
	case *networking.Data, *networking.Ack:
		sendError(s.opts.Logger, s.listener, from, networking.ErrUnknownTID, networking.MsgUnknownTID)
	case *networking.ErrorPacket:
		// Nothing to terminate on the request port.
	}
}

// newSession opens a transfer endpoint on the listener's address with a fresh port
func (s *Server) newSession(req *networking.ReadRequest, from *net.UDPAddr) (*Session, error) {
	local := &net.UDPAddr{IP: s.listener.LocalAddr().IP}
	ep, err := networking.Listen(local.String(), s.opts.DSCP)
	if err != nil {
		return nil, err
	}

	return &Session{
		ep:      ep,
		client:  from,
		request: req,
		root:    s.opts.Root,
		loader:  s.opts.Factory.NewLoader(),
		policy:  networking.Policy{Timeout: s.opts.Timeout, MaxRetries: s.opts.MaxRetries, Logger: s.opts.Logger},
		logger:  s.opts.Logger,
		state:   RequestReceived,
	}, nil
}

// rejectWrite answers write requests. Uploads are not implemented.
func (s *Server) rejectWrite(req *networking.WriteRequest, from *net.UDPAddr) {
	path, err := resolvePath(s.opts.Root, req.Filename)
	if err != nil {
		sendError(s.opts.Logger, s.listener, from, networking.ErrAccessViolation, networking.ErrAccessViolation.String())
		return
	}

	if _, err := os.Stat(path); err == nil {
		sendError(s.opts.Logger, s.listener, from, networking.ErrFileExists, networking.MsgFileExists)
		return
	}
	sendError(s.opts.Logger, s.listener, from, networking.ErrAccessViolation, networking.MsgNoUpload)
}

// sendError sends an ERROR packet, logging when it could not be sent
func sendError(logger *log.Logger, ep *networking.Endpoint, to *net.UDPAddr, code networking.ErrorCode, message string) {
	if err := ep.Send(networking.EncodeError(code, message), to); err != nil {
		logger.Printf("Could not send error %d to %s: %v", code, to, err)
	}
}
