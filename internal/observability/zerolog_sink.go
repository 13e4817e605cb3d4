// Package observability implements the PacketSink the transaction engine
// and the error simulator emit events to (spec.md §1, §4.8), so the core
// never formats a log line itself.
package observability

import (
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"

	"github.com/wjholden/gotftpd/internal/packet"
	"github.com/wjholden/gotftpd/internal/transaction"
)

// ZerologSink is the production PacketSink: one structured event per
// packet send/receive, state transition, or error, with fields for the
// local/remote address, transaction ID, opcode, and block number.
type ZerologSink struct {
	mu  sync.Mutex
	log zerolog.Logger
}

// NewZerologSink builds a sink writing to w. If verbose is false, only
// info and above are emitted (state transitions and errors); verbose
// also logs every packet.
func NewZerologSink(w io.Writer, verbose bool) *ZerologSink {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(w).Level(level).With().Timestamp().Logger()
	return &ZerologSink{log: logger}
}

// NewConsoleZerologSink is the convenience constructor cmd/ binaries use:
// a human-readable console writer over stderr, matching the teacher
// programs' habit of printing transfer activity as it happens.
func NewConsoleZerologSink(verbose bool) *ZerologSink {
	return NewZerologSink(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05.000"}, verbose)
}

// SetVerbose switches the minimum emitted level at runtime, backing the
// error simulator's "verbose"/"quiet" console commands.
func (s *ZerologSink) SetVerbose(verbose bool) {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log = s.log.Level(level)
}

func (s *ZerologSink) logger() zerolog.Logger {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.log
}

func (s *ZerologSink) Packet(ev transaction.PacketEvent) {
	log := s.logger()
	evt := log.Debug().
		Str("transaction_id", ev.TransactionID).
		Str("direction", string(ev.Direction)).
		Str("opcode", ev.Packet.Opcode().String())
	if ev.Local != nil {
		evt = evt.Str("local", ev.Local.String())
	}
	if ev.Remote != nil {
		evt = evt.Str("remote", ev.Remote.String())
	}
	switch p := ev.Packet.(type) {
	case *packet.Data:
		evt = evt.Uint16("block", p.Block).Int("bytes", len(p.Payload))
	case *packet.Ack:
		evt = evt.Uint16("block", p.Block)
	case *packet.Error:
		evt = evt.Uint16("error_code", uint16(p.Code)).Str("error_msg", p.Description)
	case *packet.Request:
		evt = evt.Str("filename", p.Filename).Str("mode", string(p.Mode)).Int("options", p.Options.Len())
	}
	evt.Msg("packet")
}

func (s *ZerologSink) StateChange(transactionID string, from, to transaction.State) {
	log := s.logger()
	evt := log.Info()
	if to.Terminal() && to != transaction.StateComplete {
		evt = log.Warn()
	}
	evt.
		Str("transaction_id", transactionID).
		Str("from", from.String()).
		Str("to", to.String()).
		Msg("transaction state change")
}

func (s *ZerologSink) Error(transactionID string, err error) {
	s.logger().Error().Str("transaction_id", transactionID).Err(err).Msg("transaction error")
}

var _ transaction.PacketSink = (*ZerologSink)(nil)
