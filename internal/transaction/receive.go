package transaction

import (
	"errors"
	"time"

	"github.com/wjholden/gotftpd/internal/packet"
	"github.com/wjholden/gotftpd/internal/transport"
)

// ReceiveConfig configures one Receive transaction: consuming DATA from a
// remote peer, writing a file, and ACKing each block (spec.md §4.5).
type ReceiveConfig struct {
	Endpoint      *transport.Endpoint
	Destination   BlockSink
	SendAckZero   bool
	UpdateTID     bool
	BlockSize     int // defaults to packet.MaxBlockSize if zero
	Sink          PacketSink
	TransactionID string

	// DataTimeout and MaxRetryCount override the spec.md §4.5 default
	// (3500ms / 5 retries). Tests shrink these; production callers leave
	// them zero.
	DataTimeout   time.Duration
	MaxRetryCount int
}

func (c *ReceiveConfig) dataTimeout() time.Duration {
	if c.DataTimeout > 0 {
		return c.DataTimeout
	}
	return DataRetransmitMS * time.Millisecond
}

func (c *ReceiveConfig) maxRetries() int {
	if c.MaxRetryCount > 0 {
		return c.MaxRetryCount
	}
	return MaxRetries
}

// Receive drives the transaction to completion and returns the terminal
// state reached, mirroring Send's contract.
func Receive(cfg ReceiveConfig) (State, error) {
	blockSize := cfg.BlockSize
	if blockSize == 0 {
		blockSize = packet.MaxBlockSize
	}
	sink := cfg.Sink
	if sink == nil {
		sink = NopSink{}
	}

	if cfg.SendAckZero {
		if err := sendAck(cfg, sink, 0); err != nil {
			return failSocket(sink, cfg.TransactionID, err)
		}
	}

	sink.StateChange(cfg.TransactionID, StateInitialized, StateInProgress)

	expected := uint16(1)
	deadline := time.Now().Add(cfg.dataTimeout())
	retries := 0

	for {
		remaining := time.Until(deadline)
		if remaining < 0 {
			remaining = 0
		}
		updateTID := expected == 1 && cfg.UpdateTID
		res, err := cfg.Endpoint.Recv(remaining, updateTID)
		if err != nil {
			if errors.Is(err, transport.ErrTimeout) {
				if expected == 1 {
					sink.StateChange(cfg.TransactionID, StateInProgress, StateBlockZeroTimeout)
					return StateBlockZeroTimeout, terminal(StateBlockZeroTimeout, err)
				}
				retries++
				if retries > cfg.maxRetries() {
					sink.StateChange(cfg.TransactionID, StateInProgress, StateTimeout)
					return StateTimeout, terminal(StateTimeout, err)
				}
				if sendErr := sendAck(cfg, sink, expected-1); sendErr != nil {
					return failSocket(sink, cfg.TransactionID, sendErr)
				}
				deadline = time.Now().Add(cfg.dataTimeout())
				continue
			}
			if errors.Is(err, transport.ErrBadPacket) {
				sink.StateChange(cfg.TransactionID, StateInProgress, StateReceivedBadPacket)
				return StateReceivedBadPacket, terminal(StateReceivedBadPacket, err)
			}
			return failSocket(sink, cfg.TransactionID, err)
		}

		sink.Packet(PacketEvent{
			TransactionID: cfg.TransactionID,
			Direction:     DirectionRecv,
			Local:         cfg.Endpoint.LocalAddr(),
			Remote:        res.From,
			Packet:        res.Packet,
		})

		data, ok := res.Packet.(*packet.Data)
		if !ok {
			sink.StateChange(cfg.TransactionID, StateInProgress, StateReceivedBadPacket)
			return StateReceivedBadPacket, terminal(StateReceivedBadPacket, nil)
		}

		switch {
		case data.Block == expected:
			if _, werr := cfg.Destination.Write(data.Payload); werr != nil {
				sink.StateChange(cfg.TransactionID, StateInProgress, StateFileIOError)
				return StateFileIOError, terminal(StateFileIOError, werr)
			}
			if err := sendAck(cfg, sink, expected); err != nil {
				return failSocket(sink, cfg.TransactionID, err)
			}
			if len(data.Payload) < blockSize {
				sink.StateChange(cfg.TransactionID, StateInProgress, StateComplete)
				return StateComplete, nil
			}
			if expected == 0xFFFF {
				sink.StateChange(cfg.TransactionID, StateInProgress, StateFileTooLarge)
				return StateFileTooLarge, terminal(StateFileTooLarge, nil)
			}
			expected++
			retries = 0
			deadline = time.Now().Add(cfg.dataTimeout())

		case data.Block < expected:
			// Duplicate/delayed DATA: re-acknowledge without advancing.
			if err := sendAck(cfg, sink, data.Block); err != nil {
				return failSocket(sink, cfg.TransactionID, err)
			}

		default:
			sink.StateChange(cfg.TransactionID, StateInProgress, StateReceivedBadPacket)
			return StateReceivedBadPacket, terminal(StateReceivedBadPacket, nil)
		}
	}
}

func sendAck(cfg ReceiveConfig, sink PacketSink, block uint16) error {
	ack := &packet.Ack{Block: block}
	if err := cfg.Endpoint.SendToPeer(ack); err != nil {
		return err
	}
	sink.Packet(PacketEvent{
		TransactionID: cfg.TransactionID,
		Direction:     DirectionSend,
		Local:         cfg.Endpoint.LocalAddr(),
		Remote:        cfg.Endpoint.Peer(),
		Packet:        ack,
	})
	return nil
}
