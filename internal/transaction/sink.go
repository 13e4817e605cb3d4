package transaction

import (
	"net"

	"github.com/wjholden/gotftpd/internal/packet"
)

// Direction distinguishes an outbound send from an inbound receive for a
// PacketEvent.
type Direction string

const (
	DirectionSend Direction = "send"
	DirectionRecv Direction = "recv"
)

// PacketEvent describes one packet crossing the wire on behalf of a
// transaction, for consumption by a PacketSink.
type PacketEvent struct {
	TransactionID string
	Direction     Direction
	Local         *net.UDPAddr
	Remote        *net.UDPAddr
	Packet        packet.Packet
}

// PacketSink is the logging collaborator spec.md §1 calls out as external
// to the core: the transaction engine and the error simulator emit events
// to it and never format log lines themselves. See
// internal/observability for the production (zerolog-backed)
// implementation; tests typically use a no-op or recording stub.
type PacketSink interface {
	Packet(PacketEvent)
	StateChange(transactionID string, from, to State)
	Error(transactionID string, err error)
}

// NopSink discards every event. Useful as a default so callers never need
// a nil check.
type NopSink struct{}

func (NopSink) Packet(PacketEvent)              {}
func (NopSink) StateChange(string, State, State) {}
func (NopSink) Error(string, error)              {}
