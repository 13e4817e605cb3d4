package transaction

import (
	"errors"
	"io"
	"time"

	"github.com/wjholden/gotftpd/internal/packet"
	"github.com/wjholden/gotftpd/internal/transport"
)

// SendConfig configures one Send transaction: driving a file to a remote
// peer as a sequence of DATA packets with retransmit/retry (spec.md §4.4).
type SendConfig struct {
	Endpoint      *transport.Endpoint
	Source        BlockSource
	FileSize      int64
	WaitAckZero   bool
	BlockSize     int // defaults to packet.MaxBlockSize if zero
	Sink          PacketSink
	TransactionID string

	// AckZeroTimeout, DataTimeout, and MaxRetryCount override the spec.md
	// §4.4 defaults (3000ms / 3500ms / 5). Tests shrink these; production
	// callers leave them zero to get the spec-mandated defaults.
	AckZeroTimeout time.Duration
	DataTimeout    time.Duration
	MaxRetryCount  int
}

func (c *SendConfig) ackZeroTimeout() time.Duration {
	if c.AckZeroTimeout > 0 {
		return c.AckZeroTimeout
	}
	return AckZeroTimeout * time.Millisecond
}

func (c *SendConfig) dataTimeout() time.Duration {
	if c.DataTimeout > 0 {
		return c.DataTimeout
	}
	return DataRetransmitMS * time.Millisecond
}

func (c *SendConfig) maxRetries() int {
	if c.MaxRetryCount > 0 {
		return c.MaxRetryCount
	}
	return MaxRetries
}

// Send drives the transaction to completion and returns the terminal
// state it reached. The returned error is non-nil for every state other
// than StateComplete, and wraps the underlying I/O cause where one exists.
func Send(cfg SendConfig) (State, error) {
	blockSize := cfg.BlockSize
	if blockSize == 0 {
		blockSize = packet.MaxBlockSize
	}
	sink := cfg.Sink
	if sink == nil {
		sink = NopSink{}
	}

	if cfg.WaitAckZero {
		res, err := cfg.Endpoint.Recv(cfg.ackZeroTimeout(), true)
		if err != nil {
			if errors.Is(err, transport.ErrTimeout) {
				sink.StateChange(cfg.TransactionID, StateInitialized, StateBlockZeroTimeout)
				return StateBlockZeroTimeout, terminal(StateBlockZeroTimeout, err)
			}
			return failSocket(sink, cfg.TransactionID, err)
		}
		ack, ok := res.Packet.(*packet.Ack)
		if !ok || ack.Block != 0 {
			sink.StateChange(cfg.TransactionID, StateInitialized, StateReceivedBadPacket)
			return StateReceivedBadPacket, terminal(StateReceivedBadPacket, nil)
		}
	}

	totalBlocks := cfg.FileSize/int64(blockSize) + 1
	if totalBlocks > 0xFFFF {
		sink.StateChange(cfg.TransactionID, StateInitialized, StateFileTooLarge)
		return StateFileTooLarge, terminal(StateFileTooLarge, nil)
	}
	n := uint16(totalBlocks)

	sink.StateChange(cfg.TransactionID, StateInitialized, StateInProgress)

	buf := make([]byte, blockSize)
	for i := uint16(1); ; i++ {
		read, err := cfg.Source.ReadAt(buf, int64(i-1)*int64(blockSize))
		if err != nil && err != io.EOF {
			sink.StateChange(cfg.TransactionID, StateInProgress, StateFileIOError)
			return StateFileIOError, terminal(StateFileIOError, err)
		}

		data := &packet.Data{Block: i, Payload: append([]byte(nil), buf[:read]...)}

		retries := 0
		deadline := time.Now().Add(cfg.dataTimeout())
		if err := sendData(cfg, sink, data); err != nil {
			return failSocket(sink, cfg.TransactionID, err)
		}

	waitAck:
		for {
			remaining := time.Until(deadline)
			if remaining < 0 {
				remaining = 0
			}
			res, recvErr := cfg.Endpoint.Recv(remaining, false)
			if recvErr != nil {
				if errors.Is(recvErr, transport.ErrTimeout) {
					retries++
					// spec.md §8's retry-exhaustion scenario sends the
					// initial DATA plus exactly maxRetries() retransmissions
					// (6 total at the 5-retry default) before giving up.
					if retries > cfg.maxRetries() {
						state := StateTimeout
						if i == n {
							state = StateLastBlockAckTimeout
						}
						sink.StateChange(cfg.TransactionID, StateInProgress, state)
						return state, terminal(state, recvErr)
					}
					if err := sendData(cfg, sink, data); err != nil {
						return failSocket(sink, cfg.TransactionID, err)
					}
					deadline = time.Now().Add(cfg.dataTimeout())
					continue waitAck
				}
				if errors.Is(recvErr, transport.ErrBadPacket) {
					sink.StateChange(cfg.TransactionID, StateInProgress, StateReceivedBadPacket)
					return StateReceivedBadPacket, terminal(StateReceivedBadPacket, recvErr)
				}
				return failSocket(sink, cfg.TransactionID, recvErr)
			}

			sink.Packet(PacketEvent{
				TransactionID: cfg.TransactionID,
				Direction:     DirectionRecv,
				Local:         cfg.Endpoint.LocalAddr(),
				Remote:        res.From,
				Packet:        res.Packet,
			})

			ack, ok := res.Packet.(*packet.Ack)
			if !ok {
				sink.StateChange(cfg.TransactionID, StateInProgress, StateReceivedBadPacket)
				return StateReceivedBadPacket, terminal(StateReceivedBadPacket, nil)
			}
			switch {
			case ack.Block == i:
				break waitAck
			case ack.Block < i:
				// duplicate or delayed ACK: ignore and keep waiting.
				continue waitAck
			default:
				sink.StateChange(cfg.TransactionID, StateInProgress, StateReceivedBadPacket)
				return StateReceivedBadPacket, terminal(StateReceivedBadPacket, nil)
			}
		}

		if read < blockSize {
			sink.StateChange(cfg.TransactionID, StateInProgress, StateComplete)
			return StateComplete, nil
		}
	}
}

func sendData(cfg SendConfig, sink PacketSink, d *packet.Data) error {
	if err := cfg.Endpoint.SendToPeer(d); err != nil {
		return err
	}
	sink.Packet(PacketEvent{
		TransactionID: cfg.TransactionID,
		Direction:     DirectionSend,
		Local:         cfg.Endpoint.LocalAddr(),
		Remote:        cfg.Endpoint.Peer(),
		Packet:        d,
	})
	return nil
}

func failSocket(sink PacketSink, id string, err error) (State, error) {
	sink.StateChange(id, StateInProgress, StateSocketIOError)
	sink.Error(id, err)
	return StateSocketIOError, terminal(StateSocketIOError, err)
}
