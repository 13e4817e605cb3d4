package server

import (
	"errors"
	"fmt"
	"net"
	"os"

	"github.com/wjholden/gotftpd/internal/packet"
	"github.com/wjholden/gotftpd/internal/transaction"
	"github.com/wjholden/gotftpd/internal/transport"
)

func (s *Server) newTransferSocket(peer *net.UDPAddr) (*transport.Endpoint, error) {
	local := s.conn.LocalAddr().(*net.UDPAddr)
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: local.IP})
	if err != nil {
		return nil, err
	}
	return transport.New(conn, peer), nil
}

// handleRRQ implements the read side of spec.md §4.6: open for reading,
// negotiate options, and spawn a Send Transaction on a fresh ephemeral
// socket. Errors opening the file are reported to the client from the
// well-known port and no transaction is spawned.
func (s *Server) handleRRQ(id string, req *packet.Request, addr *net.UDPAddr) {
	path, err := s.resolvePath(req.Filename)
	if err != nil {
		s.replyError(addr, packet.ErrCodeAccessViolation, "path escapes server root")
		return
	}

	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.replyError(addr, packet.ErrCodeFileNotFound, req.Filename)
		} else {
			s.replyError(addr, packet.ErrCodeAccessViolation, req.Filename)
		}
		return
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		s.replyError(addr, packet.ErrCodeAccessViolation, req.Filename)
		return
	}

	ep, err := s.newTransferSocket(addr)
	if err != nil {
		s.cfg.Sink.Error(id, fmt.Errorf("allocating transfer socket: %w", err))
		return
	}
	defer ep.Close()

	opts := negotiateOptions(req.Options, info.Size(), false)
	waitAckZero := false
	if opts.accepted.Len() > 0 {
		if err := ep.Send(&packet.OptionsAck{Options: opts.accepted}, addr); err != nil {
			s.cfg.Sink.Error(id, fmt.Errorf("sending OACK: %w", err))
			return
		}
		// The OACK plays the role the implicit ACK(0) otherwise would;
		// the client's real ACK(0) must still be awaited before DATA(1).
		waitAckZero = true
	}

	_, _ = transaction.Send(transaction.SendConfig{
		Endpoint:       ep,
		Source:         file,
		FileSize:       info.Size(),
		WaitAckZero:    waitAckZero,
		AckZeroTimeout: opts.timeout,
		BlockSize:      opts.blockSize,
		Sink:           s.cfg.Sink,
		TransactionID:  id,
	})
}

// handleWRQ implements the write side: open for writing (failing on
// existing files or permission), negotiate options, and spawn a Receive
// Transaction.
func (s *Server) handleWRQ(id string, req *packet.Request, addr *net.UDPAddr) {
	if s.cfg.ReadOnly {
		s.replyError(addr, packet.ErrCodeAccessViolation, "server is read-only")
		return
	}

	path, err := s.resolvePath(req.Filename)
	if err != nil {
		s.replyError(addr, packet.ErrCodeAccessViolation, "path escapes server root")
		return
	}

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			s.replyError(addr, packet.ErrCodeFileAlreadyExists, req.Filename)
		} else {
			s.replyError(addr, packet.ErrCodeAccessViolation, req.Filename)
		}
		return
	}
	defer file.Close()

	ep, err := s.newTransferSocket(addr)
	if err != nil {
		s.cfg.Sink.Error(id, fmt.Errorf("allocating transfer socket: %w", err))
		return
	}
	defer ep.Close()

	opts := negotiateOptions(req.Options, 0, true)
	sendAckZero := true
	if opts.accepted.Len() > 0 {
		if err := ep.Send(&packet.OptionsAck{Options: opts.accepted}, addr); err != nil {
			s.cfg.Sink.Error(id, fmt.Errorf("sending OACK: %w", err))
			return
		}
		// The OACK itself is the signal to proceed; the client sends
		// DATA(1) directly rather than expecting a separate ACK(0).
		sendAckZero = false
	}

	_, _ = transaction.Receive(transaction.ReceiveConfig{
		Endpoint:      ep,
		Destination:   file,
		SendAckZero:   sendAckZero,
		UpdateTID:     false,
		BlockSize:     opts.blockSize,
		DataTimeout:   opts.timeout,
		Sink:          s.cfg.Sink,
		TransactionID: id,
	})
}
