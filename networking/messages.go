package networking

import (
	"bytes"
	"encoding/binary"
	"go_tftp/constants"
	"go_tftp/networking/opcode"
	"strconv"

	"github.com/pkg/errors"
)

var (
	ErrMalformedPacket = errors.New("malformed packet")
	ErrEncoding        = errors.New("cannot encode packet")
	ErrUnknownOpcode   = errors.Wrap(ErrMalformedPacket, "unknown opcode")
)

// Packet is one of ReadRequest, WriteRequest, Data, Ack or ErrorPacket
type Packet interface {
	Opcode() uint16
	packet()
}

// ReadRequest opcode 1 asks for a file
type ReadRequest struct {
	Filename string
	Mode     string
}

// WriteRequest opcode 2 offers a file
type WriteRequest struct {
	Filename string
	Mode     string
}

// Data opcode 3 carries up to 512 bytes of the file
type Data struct {
	Block   uint16
	Payload []byte
}

// Ack opcode 4 acknowledges a data block
type Ack struct {
	Block uint16
}

// ErrorPacket opcode 5 terminates a transfer
type ErrorPacket struct {
	Code    ErrorCode
	Message string
}

func (*ReadRequest) Opcode() uint16  { return opcode.RRQ }
func (*WriteRequest) Opcode() uint16 { return opcode.WRQ }
func (*Data) Opcode() uint16         { return opcode.DATA }
func (*Ack) Opcode() uint16          { return opcode.ACK }
func (*ErrorPacket) Opcode() uint16  { return opcode.ERROR }

func (*ReadRequest) packet()  {}
func (*WriteRequest) packet() {}
func (*Data) packet()         {}
func (*Ack) packet()          {}
func (*ErrorPacket) packet()  {}

// Error renders the packet as "code: message"
func (e *ErrorPacket) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Code.String()
	}
	return strconv.Itoa(int(e.Code)) + ": " + msg
}

// IsFinal reports whether the block ends the transfer.
func (d *Data) IsFinal() bool {
	return len(d.Payload) < constants.BLOCK_SIZE
}

// EncodeRequest lays out opcode, filename and mode, each string NUL terminated
func EncodeRequest(op uint16, filename, mode string) ([]byte, error) {
	if op != opcode.RRQ && op != opcode.WRQ {
		return nil, errors.Wrapf(ErrEncoding, "opcode %d is not a request", op)
	}
	if bytes.IndexByte([]byte(filename), 0) >= 0 {
		return nil, errors.Wrap(ErrEncoding, "filename contains NUL byte")
	}
	if bytes.IndexByte([]byte(mode), 0) >= 0 {
		return nil, errors.Wrap(ErrEncoding, "mode contains NUL byte")
	}

	out := make([]byte, 2, 4+len(filename)+len(mode))
	binary.BigEndian.PutUint16(out, op)
	out = append(out, filename...)
	out = append(out, 0)
	out = append(out, mode...)
	out = append(out, 0)

	return out, nil
}

// DecodeRequest decodes RRQ or WRQ. Option pairs after the mode are ignored.
func DecodeRequest(message []byte) (Packet, error) {
	if len(message) < 2 {
		return nil, errors.Wrap(ErrMalformedPacket, "request shorter than opcode")
	}
	op := binary.BigEndian.Uint16(message)
	if op != opcode.RRQ && op != opcode.WRQ {
		return nil, errors.Wrapf(ErrMalformedPacket, "opcode %d is not a request", op)
	}

	rest := message[2:]
	end := bytes.IndexByte(rest, 0)
	if end < 0 {
		return nil, errors.Wrap(ErrMalformedPacket, "filename not terminated")
	}
	filename := string(rest[:end])

	rest = rest[end+1:]
	end = bytes.IndexByte(rest, 0)
	if end < 0 {
		return nil, errors.Wrap(ErrMalformedPacket, "mode not terminated")
	}
	mode := string(rest[:end])

	if op == opcode.RRQ {
		return &ReadRequest{Filename: filename, Mode: mode}, nil
	}
	return &WriteRequest{Filename: filename, Mode: mode}, nil
}

// EncodeData lays out opcode 3, block number and payload
func EncodeData(block uint16, payload []byte) ([]byte, error) {
	if len(payload) > constants.BLOCK_SIZE {
		return nil, errors.Wrapf(ErrEncoding, "payload of %d bytes exceeds block size", len(payload))
	}

	out := make([]byte, 4, 4+len(payload))
	binary.BigEndian.PutUint16(out, opcode.DATA)
	binary.BigEndian.PutUint16(out[2:], block)

	return append(out, payload...), nil
}

// DecodeData decodes DATA. The payload is copied out of message.
func DecodeData(message []byte) (*Data, error) {
	if err := checkFixed(message, opcode.DATA); err != nil {
		return nil, err
	}
	if len(message)-4 > constants.BLOCK_SIZE {
		return nil, errors.Wrapf(ErrMalformedPacket, "data payload of %d bytes", len(message)-4)
	}

	payload := make([]byte, len(message)-4)
	copy(payload, message[4:])

	return &Data{
		Block:   binary.BigEndian.Uint16(message[2:4]),
		Payload: payload,
	}, nil
}

// EncodeAck returns the 4 byte ACK for block
func EncodeAck(block uint16) []byte {
	out := make([]byte, 4)
	binary.BigEndian.PutUint16(out, opcode.ACK)
	binary.BigEndian.PutUint16(out[2:], block)
	return out
}

// DecodeAck decodes ACK
func DecodeAck(message []byte) (*Ack, error) {
	if err := checkFixed(message, opcode.ACK); err != nil {
		return nil, err
	}
	return &Ack{Block: binary.BigEndian.Uint16(message[2:4])}, nil
}

// EncodeError lays out opcode 5, code and message. The message is cut at its first NUL.
func EncodeError(code ErrorCode, message string) []byte {
	if i := bytes.IndexByte([]byte(message), 0); i >= 0 {
		message = message[:i]
	}

	out := make([]byte, 4, 5+len(message))
	binary.BigEndian.PutUint16(out, opcode.ERROR)
	binary.BigEndian.PutUint16(out[2:], uint16(code))
	out = append(out, message...)

	return append(out, 0)
}

// DecodeError decodes ERROR, dropping the message terminator
func DecodeError(message []byte) (*ErrorPacket, error) {
	if err := checkFixed(message, opcode.ERROR); err != nil {
		return nil, err
	}

	text := message[4:]
	if end := bytes.IndexByte(text, 0); end >= 0 {
		text = text[:end]
	}

	return &ErrorPacket{
		Code:    ErrorCode(binary.BigEndian.Uint16(message[2:4])),
		Message: string(text),
	}, nil
}

// PacketToBytes encodes any packet variant
func PacketToBytes(packet Packet) ([]byte, error) {
	switch p := packet.(type) {
	case *ReadRequest:
		return EncodeRequest(opcode.RRQ, p.Filename, p.Mode)
	case *WriteRequest:
		return EncodeRequest(opcode.WRQ, p.Filename, p.Mode)
	case *Data:
		return EncodeData(p.Block, p.Payload)
	case *Ack:
		return EncodeAck(p.Block), nil
	case *ErrorPacket:
		return EncodeError(p.Code, p.Message), nil
	}
	return nil, errors.Wrap(ErrEncoding, "unknown packet type")
}

// DecodePacket picks the decoder from the opcode
func DecodePacket(message []byte) (Packet, error) {
	if len(message) < 2 {
		return nil, errors.Wrap(ErrMalformedPacket, "datagram shorter than opcode")
	}

	switch op := binary.BigEndian.Uint16(message); op {
	case opcode.RRQ, opcode.WRQ:
		return DecodeRequest(message)
	case opcode.DATA:
		return DecodeData(message)
	case opcode.ACK:
		return DecodeAck(message)
	case opcode.ERROR:
		return DecodeError(message)
	default:
		return nil, errors.Wrapf(ErrUnknownOpcode, "opcode %d", op)
	}
}

// checkFixed validates the 4 byte opcode + number prefix shared by DATA, ACK and ERROR
func checkFixed(message []byte, op uint16) error {
	if len(message) < 4 {
		return errors.Wrapf(ErrMalformedPacket, "%d byte packet, need at least 4", len(message))
	}
	if got := binary.BigEndian.Uint16(message); got != op {
		return errors.Wrapf(ErrMalformedPacket, "opcode %d, expected %d", got, op)
	}
	return nil
}
