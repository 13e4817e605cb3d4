// Package transport provides the datagram send/receive primitive each
// TFTP transaction and the error simulator's relays are built on: a
// single UDP socket, owned by exactly one caller, with a per-receive
// deadline and transfer-identifier (TID) enforcement (spec.md §4.3).
package transport

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/wjholden/gotftpd/internal/packet"
)

// Sentinel errors surfaced by Recv/Send, matching the error taxonomy of
// spec.md §7.
var (
	ErrTimeout   = errors.New("transport: receive timed out")
	ErrSocketIO  = errors.New("transport: socket I/O failure")
	ErrBadPacket = errors.New("transport: received unparseable packet")
)

// maxDatagram is large enough for any TFTP datagram this implementation
// negotiates: the server accepts a blksize of at most 65464 (RFC 2348),
// and 65507 is the largest UDP payload over IPv4.
const maxDatagram = 65507

// Result is what Recv returns on a successfully parsed datagram.
type Result struct {
	Packet packet.Packet
	From   *net.UDPAddr
}

// Endpoint owns one UDP socket for the lifetime of one transaction or
// relay. It is not safe to share a socket across transactions (spec.md
// §5's shared-resource policy); Endpoint itself only serializes
// concurrent callers of the same instance against each other.
type Endpoint struct {
	conn *net.UDPConn

	mu       sync.Mutex
	peer     *net.UDPAddr
	hasPeer  bool
}

// New wraps an already-bound *net.UDPConn. If peer is non-nil, it is the
// known transfer ID the endpoint will enforce on every Recv until a
// TID-learning Recv overwrites it.
func New(conn *net.UDPConn, peer *net.UDPAddr) *Endpoint {
	e := &Endpoint{conn: conn}
	if peer != nil {
		e.peer = peer
		e.hasPeer = true
	}
	return e
}

// LocalAddr returns the endpoint's bound local address.
func (e *Endpoint) LocalAddr() *net.UDPAddr {
	return e.conn.LocalAddr().(*net.UDPAddr)
}

// Peer returns the currently bound/learned remote address, or nil if none
// has been established yet.
func (e *Endpoint) Peer() *net.UDPAddr {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.peer
}

// Close releases the underlying socket. A blocked Recv then fails with
// ErrSocketIO; Send and Receive in internal/transaction report that as
// StateSocketIOError and an Error event, the same as any other socket
// failure.
func (e *Endpoint) Close() error {
	return e.conn.Close()
}

// Send serializes p and transmits it to addr.
func (e *Endpoint) Send(p packet.Packet, addr *net.UDPAddr) error {
	buf := packet.Serialize(p)
	if _, err := e.conn.WriteToUDP(buf, addr); err != nil {
		return fmt.Errorf("%w: %v", ErrSocketIO, err)
	}
	return nil
}

// SendToPeer sends p to the currently bound/learned peer.
func (e *Endpoint) SendToPeer(p packet.Packet) error {
	peer := e.Peer()
	if peer == nil {
		return fmt.Errorf("transport: no peer established yet")
	}
	return e.Send(p, peer)
}

// Recv blocks until a datagram arrives or timeout elapses. The call holds
// an internal lock across setting the read deadline and receiving, so
// concurrent callers on the same Endpoint cannot race each other's
// deadlines (spec.md §4.3).
//
// If updateTID is true, the sender's address is adopted as the new peer
// TID unconditionally. Otherwise, any datagram from a port other than the
// bound peer TID is answered with ERROR(5) UNKNOWN_TRANSFER_ID and
// ignored, and Recv keeps waiting against the same deadline (spec.md §6).
func (e *Endpoint) Recv(timeout time.Duration, updateTID bool) (*Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	deadline := time.Now().Add(timeout)
	buf := make([]byte, maxDatagram)

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, ErrTimeout
		}
		if err := e.conn.SetReadDeadline(deadline); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSocketIO, err)
		}

		n, from, err := e.conn.ReadFromUDP(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return nil, ErrTimeout
			}
			return nil, fmt.Errorf("%w: %v", ErrSocketIO, err)
		}

		if !updateTID && e.hasPeer && from.Port != e.peer.Port {
			e.sendUnknownTID(from)
			continue
		}

		p, perr := packet.Parse(buf[:n])
		if perr != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadPacket, perr)
		}

		if updateTID {
			e.peer = from
			e.hasPeer = true
		}

		return &Result{Packet: p, From: from}, nil
	}
}

func (e *Endpoint) sendUnknownTID(from *net.UDPAddr) {
	errPkt := &packet.Error{
		Code:        packet.ErrCodeUnknownTransferID,
		Description: packet.ErrCodeUnknownTransferID.String(),
	}
	// Best effort: a failure here does not change the outcome for the
	// legitimate peer's transfer, so the error is not propagated.
	_ = e.Send(errPkt, from)
}
