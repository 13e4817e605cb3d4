// Package server implements the Request Dispatcher of spec.md §4.6: a UDP
// listener on the TFTP well-known port that turns each inbound RRQ/WRQ
// into a Send or Receive transaction on a fresh ephemeral socket.
package server

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/xid"
	"golang.org/x/sync/errgroup"

	"github.com/wjholden/gotftpd/internal/packet"
	"github.com/wjholden/gotftpd/internal/transaction"
)

// WellKnownPort is the default TFTP server port (spec.md §6).
const WellKnownPort = 69

// maxDatagram matches internal/transport's receive buffer sizing.
const maxDatagram = 65507

// Config configures a Server.
type Config struct {
	// ListenAddr is the address to bind. A nil ListenAddr defaults to
	// WellKnownPort; tests bind to :0 for an ephemeral listen port.
	ListenAddr *net.UDPAddr

	// Root is the directory RRQ/WRQ filenames are resolved against.
	// A filename that would resolve outside Root is rejected as
	// ACCESS_VIOLATION.
	Root string

	// ReadOnly rejects every WRQ with ACCESS_VIOLATION.
	ReadOnly bool

	// Sink receives packet/state/error events for every transaction this
	// server spawns. A nil Sink uses transaction.NopSink.
	Sink transaction.PacketSink
}

// Server is the Request Dispatcher: one well-known-port listener plus one
// goroutine per in-flight transfer (spec.md §5).
type Server struct {
	cfg  Config
	conn *net.UDPConn
	g    errgroup.Group
}

// New binds the listening socket. The caller must call Serve to begin
// dispatching.
func New(cfg Config) (*Server, error) {
	addr := cfg.ListenAddr
	if addr == nil {
		addr = &net.UDPAddr{Port: WellKnownPort}
	}
	if cfg.Sink == nil {
		cfg.Sink = transaction.NopSink{}
	}
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("server: resolving root %q: %w", cfg.Root, err)
	}
	cfg.Root = root

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("server: listen: %w", err)
	}
	return &Server{cfg: cfg, conn: conn}, nil
}

// LocalAddr returns the bound listen address.
func (s *Server) LocalAddr() *net.UDPAddr {
	return s.conn.LocalAddr().(*net.UDPAddr)
}

// Serve reads requests until the listening socket is closed (typically via
// Shutdown), dispatching each to its own goroutine and returning to
// listening immediately, per spec.md §4.6's last sentence. It returns nil
// on an orderly shutdown.
func (s *Server) Serve() error {
	buf := make([]byte, maxDatagram)
	for {
		n, addr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return s.g.Wait()
			}
			return fmt.Errorf("server: read: %w", err)
		}

		payload := make([]byte, n)
		copy(payload, buf[:n])
		s.g.Go(func() error {
			s.handleDatagram(payload, addr)
			return nil
		})
	}
}

// Shutdown closes the listening socket and waits for every dispatch
// goroutine to return. Each goroutine runs its transaction to a terminal
// state, so this waits for in-flight transfers to finish; their own
// sockets are not closed early.
func (s *Server) Shutdown() error {
	err := s.conn.Close()
	_ = s.g.Wait()
	return err
}

func (s *Server) handleDatagram(buf []byte, addr *net.UDPAddr) {
	id := xid.New().String()

	p, err := packet.Parse(buf)
	if err != nil {
		s.cfg.Sink.Error(id, fmt.Errorf("malformed datagram from %s: %w", addr, err))
		s.replyError(addr, packet.ErrCodeIllegalOperation, "malformed request")
		return
	}

	req, ok := p.(*packet.Request)
	if !ok {
		s.replyError(addr, packet.ErrCodeIllegalOperation, fmt.Sprintf("unexpected %s on well-known port", p.Opcode()))
		return
	}

	switch {
	case req.IsReadRequest():
		s.handleRRQ(id, req, addr)
	case req.IsWriteRequest():
		s.handleWRQ(id, req, addr)
	}
}

func (s *Server) replyError(addr *net.UDPAddr, code packet.ErrorCode, msg string) {
	e := &packet.Error{Code: code, Description: msg}
	_, _ = s.conn.WriteToUDP(packet.Serialize(e), addr)
}

// resolvePath joins name against the server root and rejects any result
// that would escape it.
func (s *Server) resolvePath(name string) (string, error) {
	joined := filepath.Join(s.cfg.Root, filepath.Clean("/"+name))
	if joined != s.cfg.Root && !strings.HasPrefix(joined, s.cfg.Root+string(filepath.Separator)) {
		return "", os.ErrPermission
	}
	return joined, nil
}
