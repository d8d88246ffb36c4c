package server

import (
	"context"
	"encoding/hex"
	"go_tftp/constants"
	"go_tftp/fileio"
	"go_tftp/networking"
	"io/fs"
	"log"
	"net"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
)

var (
	ErrTransferTimeout = errors.New("transfer timed out")
	ErrOutsideRoot     = errors.New("path outside root")
)

// State of a file being served
type State int

const (
	RequestReceived State = iota
	Sending
	AwaitingAck
	Complete
	Failed
)

func (s State) String() string {
	switch s {
	case RequestReceived:
		return "RequestReceived"
	case Sending:
		return "Sending"
	case AwaitingAck:
		return "AwaitingAck"
	case Complete:
		return "Complete"
	case Failed:
		return "Failed"
	}
	return "Unknown"
}

// Session serves one read request from its own transfer port
type Session struct {
	ep       *networking.Endpoint
	client   *net.UDPAddr
	request  *networking.ReadRequest
	root     string
	loader   fileio.FileLoader
	policy   networking.Policy
	logger   *log.Logger
	tx       *networking.Retransmitter
	state    State
	next     uint16
	bytes    int64
	start    time.Time
	checksum []byte
}

// State returns current state
func (s *Session) State() State {
	return s.state
}

// Bytes returns number of acknowledged bytes
func (s *Session) Bytes() int64 {
	return s.bytes
}

// Run serves the request and closes the transfer endpoint. Failures are reported to the
// client over the wire; the returned error is for logging only.
func (s *Session) Run(ctx context.Context) error {
	defer s.ep.Close()
	s.start = time.Now()
	s.tx = networking.NewRetransmitter(s.ep, s.policy)

	if !strings.EqualFold(s.request.Mode, constants.DEFAULT_MODE) {
		return s.refuse(networking.ErrNotDefined, networking.MsgOctetOnly,
			errors.Errorf("unsupported mode %q", s.request.Mode))
	}

	path, err := resolvePath(s.root, s.request.Filename)
	if err != nil {
		return s.refuse(networking.ErrAccessViolation, networking.ErrAccessViolation.String(), err)
	}

	data, err := s.loader.Load(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return s.refuse(networking.ErrFileNotFound, networking.MsgFileNotFound, err)
		}
		return s.refuse(networking.ErrAccessViolation, networking.MsgNoReadPermission, err)
	}

	s.checksum = fileio.Checksum(data, fileio.HashCRC32)
	s.logger.Printf("Sending %s (%d bytes, crc32 %s) to %s", s.request.Filename, len(data),
		hex.EncodeToString(s.checksum), s.client)

	if err := s.stream(ctx, data); err != nil {
		s.state = Failed
		return err
	}

	s.state = Complete
	s.logger.Println("Transfer complete:", s.request.Filename, "to", s.client, "in", time.Since(s.start))
	return nil
}

// stream sends data in 512 byte blocks, one outstanding block at a time
func (s *Session) stream(ctx context.Context, data []byte) error {
	s.next = 1
	offset := 0

	for {
		end := offset + constants.BLOCK_SIZE
		if end > len(data) {
			end = len(data)
		}
		chunk := data[offset:end]

		s.state = Sending
		message, err := networking.EncodeData(s.next, chunk)
		if err != nil {
			return err
		}
		if err := s.tx.Send(message, s.client); err != nil {
			return err
		}

		s.state = AwaitingAck
		if err := s.awaitAck(ctx); err != nil {
			return err
		}
		s.bytes += int64(len(chunk))

		// A short block, possibly empty, ends the transfer.
		if len(chunk) < constants.BLOCK_SIZE {
			return nil
		}
		s.next++
		offset = end
	}
}

// awaitAck blocks until the current block is acknowledged
func (s *Session) awaitAck(ctx context.Context) error {
	for {
		packet, _, err := s.policy.Await(ctx, s.ep, s.fromClient)
		if err != nil {
			if !errors.Is(err, networking.ErrTimeout) {
				return err
			}
			resent, err := s.tx.Retransmit()
			if err != nil {
				return err
			}
			if !resent {
				return ErrTransferTimeout
			}
			continue
		}

		switch p := packet.(type) {
		case *networking.Ack:
			if p.Block == s.next {
				return nil
			}
			// Stale ack. Send the awaited block again.
			if err := s.tx.Repeat(); err != nil {
				return err
			}
		case *networking.ErrorPacket:
			return p
		}
	}
}

func (s *Session) fromClient(addr *net.UDPAddr) bool {
	return addr.Port == s.client.Port && addr.IP.Equal(s.client.IP)
}

// refuse sends an error packet and ends the session
func (s *Session) refuse(code networking.ErrorCode, message string, cause error) error {
	s.state = Failed
	sendError(s.logger, s.ep, s.client, code, message)
	return errors.Wrapf(cause, "%d %s", code, message)
}

// resolvePath maps a requested name under root, rejecting names that climb out of it
func resolvePath(root, filename string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(filename))
	clean = strings.TrimLeft(clean, string(filepath.Separator))

	// We must not stray from the path of light.
	if clean == "" || clean == "." || clean == ".." ||
		strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", errors.Wrap(ErrOutsideRoot, filename)
	}

	return filepath.Join(root, clean), nil
}
