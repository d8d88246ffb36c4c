package networking

import (
	"context"
	"go_tftp/constants"
	"log"
	"net"
	"time"

	"github.com/pkg/errors"
)

// Policy holds the receive timeout and how many times the last packet may be resent
type Policy struct {
	Timeout    time.Duration
	MaxRetries int
	Logger     *log.Logger // Optional, reports replies to strangers that could not be sent
}

// ClientPolicy waits 3s for DATA and resends once
func ClientPolicy() Policy {
	return Policy{Timeout: constants.CLIENT_TIMEOUT, MaxRetries: constants.DEFAULT_RETRIES}
}

// ServerPolicy waits 2s for ACK and resends once
func ServerPolicy() Policy {
	return Policy{Timeout: constants.SERVER_TIMEOUT, MaxRetries: constants.DEFAULT_RETRIES}
}

// Await blocks until a packet from a matching peer arrives or the timeout elapses, in
// which case ErrTimeout is returned. Malformed datagrams are dropped. Datagrams from
// other peers are told the transfer ID is unknown. Neither extends the deadline.
func (p Policy) Await(ctx context.Context, ep *Endpoint, match func(*net.UDPAddr) bool) (Packet, *net.UDPAddr, error) {
	deadline := time.Now().Add(p.Timeout)

	for {
		message, from, err := ep.Receive(ctx, deadline)
		if err != nil {
			return nil, nil, err
		}

		if match != nil && !match(from) {
			// Stray packet from someone else. Does not affect our transfer.
			if err := ep.Send(EncodeError(ErrUnknownTID, MsgUnknownTID), from); err != nil && p.Logger != nil {
				p.Logger.Println("Could not reject", from, "-", err)
			}
			continue
		}

		packet, err := DecodePacket(message)
		if err != nil {
			continue
		}

		return packet, from, nil
	}
}

// Retransmitter remembers the last packet sent so it can be repeated unmodified
type Retransmitter struct {
	policy  Policy
	ep      *Endpoint
	last    []byte
	to      *net.UDPAddr
	retries int
}

// NewRetransmitter returns retransmitter sending through ep
func NewRetransmitter(ep *Endpoint, policy Policy) *Retransmitter {
	return &Retransmitter{policy: policy, ep: ep}
}

// Send sends a new packet and restores the full retry budget
func (r *Retransmitter) Send(message []byte, to *net.UDPAddr) error {
	r.last = message
	r.to = to
	r.retries = 0
	return r.ep.Send(message, to)
}

// Retransmit resends the last packet after a timeout. It returns false once the
// retry budget for this packet is spent.
func (r *Retransmitter) Retransmit() (bool, error) {
	if r.last == nil {
		return false, errors.New("nothing to retransmit")
	}
	if r.retries >= r.policy.MaxRetries {
		return false, nil
	}
	r.retries++
	return true, r.ep.Send(r.last, r.to)
}

// Repeat resends the last packet in answer to a stale one. The retry budget is unchanged.
func (r *Retransmitter) Repeat() error {
	if r.last == nil {
		return nil
	}
	return r.ep.Send(r.last, r.to)
}

// Retries returns number of timeouts spent on current packet
func (r *Retransmitter) Retries() int {
	return r.retries
}
