// Package simulator implements the error-simulator forwarding engine of
// spec.md §4.7: a dual-socket, two-goroutine proxy that learns client and
// server transfer IDs on the fly and applies scheduled packet-perturbation
// rules (drop/duplicate/delay) so the transaction engine can be tested
// against adverse network conditions.
package simulator

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wjholden/gotftpd/internal/packet"
	"github.com/wjholden/gotftpd/internal/transaction"
)

// maxDatagram matches internal/transport's receive buffer sizing.
const maxDatagram = 65507

// terminalDataWireSize is the RFC 1350 DATA wire size (4-byte header +
// 512-byte payload); any smaller forwarded DATA marks end-of-transfer
// (spec.md §4.7).
const terminalDataWireSize = 4 + packet.MaxBlockSize

// pollInterval bounds how long a relay's blocking read waits before
// re-checking whether its active socket changed underneath it (spec.md
// §4.7's known_socket/tid_socket switch).
const pollInterval = 250 * time.Millisecond

// Config configures one Engine.
type Config struct {
	// ClientFacingAddr is where the ClientListener's known_socket binds
	// (spec.md §6's "-cp <client port>", default 23).
	ClientFacingAddr *net.UDPAddr

	// ServerAddr is the real TFTP server's well-known address (spec.md
	// §6's "-sa <server ip>" / "-sp <server port>").
	ServerAddr *net.UDPAddr

	Sink transaction.PacketSink
}

// Engine owns both relays and all shared mutable state, per spec.md §9's
// design note: a single value with interior mutability guarded by one
// mutex, rather than two listener objects holding sibling references into
// each other.
type Engine struct {
	sink transaction.PacketSink

	serverAddrMu sync.Mutex
	serverAddr   *net.UDPAddr // configured target; updated in place as the server's observed TID is learned

	clientMu   sync.Mutex // guards clientAddr, knownConn, tidConn, activeConn
	clientAddr *net.UDPAddr
	knownConn  *net.UDPConn
	tidConn    *net.UDPConn // non-nil only while a transfer is in progress
	activeConn *net.UDPConn // the conn the client relay is currently reading from

	serverConnMu sync.Mutex
	serverConn   *net.UDPConn

	rules ruleset

	shutdownMu   sync.Mutex
	shuttingDown bool
}

// New binds both sockets. clientFacingAddr's port is spec.md §6's -cp
// (default 23); the server-facing socket is always ephemeral.
func New(cfg Config) (*Engine, error) {
	if cfg.ClientFacingAddr == nil {
		cfg.ClientFacingAddr = &net.UDPAddr{Port: 23}
	}
	if cfg.ServerAddr == nil {
		return nil, fmt.Errorf("simulator: ServerAddr is required")
	}
	sink := cfg.Sink
	if sink == nil {
		sink = transaction.NopSink{}
	}

	known, err := net.ListenUDP("udp", cfg.ClientFacingAddr)
	if err != nil {
		return nil, fmt.Errorf("simulator: binding client-facing socket: %w", err)
	}
	serverConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: cfg.ClientFacingAddr.IP})
	if err != nil {
		known.Close()
		return nil, fmt.Errorf("simulator: binding server-facing socket: %w", err)
	}

	return &Engine{
		sink:       sink,
		serverAddr: cfg.ServerAddr,
		knownConn:  known,
		activeConn: known,
		serverConn: serverConn,
	}, nil
}

// ClientFacingAddr reports the known_socket's bound local address.
func (e *Engine) ClientFacingAddr() *net.UDPAddr {
	e.clientMu.Lock()
	defer e.clientMu.Unlock()
	return e.knownConn.LocalAddr().(*net.UDPAddr)
}

// SetClientPort rebinds known_socket to a new local port (the
// "clientport <port>" console command). It refuses to rebind while a
// transfer is active, since the active listener would be orphaned
// mid-transfer.
func (e *Engine) SetClientPort(port int) error {
	e.clientMu.Lock()
	defer e.clientMu.Unlock()

	if e.tidConn != nil {
		return fmt.Errorf("simulator: cannot change client port while a transfer is in progress")
	}

	local := e.knownConn.LocalAddr().(*net.UDPAddr)
	newConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: local.IP, Port: port})
	if err != nil {
		return fmt.Errorf("simulator: rebinding client port: %w", err)
	}

	old := e.knownConn
	e.knownConn = newConn
	e.activeConn = newConn
	_ = old.Close()
	return nil
}

// ServerAddr reports the current forwarding target for the real server.
func (e *Engine) ServerAddr() *net.UDPAddr {
	e.serverAddrMu.Lock()
	defer e.serverAddrMu.Unlock()
	addr := *e.serverAddr
	return &addr
}

// SetServerAddr updates the forwarding target (the "serverip"/"serverport"
// console commands).
func (e *Engine) SetServerAddr(addr *net.UDPAddr) {
	e.serverAddrMu.Lock()
	defer e.serverAddrMu.Unlock()
	e.serverAddr = addr
}

// AddRule installs a new perturbation instruction.
func (e *Engine) AddRule(instr ErrorInstruction) {
	e.rules.add(instr)
}

// Rules returns a snapshot of the active ruleset, for the "errors"
// console command.
func (e *Engine) Rules() []ErrorInstruction {
	return e.rules.snapshot()
}

// Close releases both sockets.
func (e *Engine) Close() error {
	e.shutdownMu.Lock()
	e.shuttingDown = true
	e.shutdownMu.Unlock()

	e.clientMu.Lock()
	known := e.knownConn
	tid := e.tidConn
	e.clientMu.Unlock()

	e.serverConnMu.Lock()
	serverConn := e.serverConn
	e.serverConnMu.Unlock()

	err := known.Close()
	if tid != nil {
		_ = tid.Close()
	}
	if serr := serverConn.Close(); err == nil {
		err = serr
	}
	return err
}

// Serve runs both relay loops until both sockets are closed (typically
// via Close), matching spec.md §5's "two listener threads."
func (e *Engine) Serve() error {
	var g errgroup.Group
	g.Go(e.runClientRelay)
	g.Go(e.runServerRelay)
	return g.Wait()
}

func (e *Engine) activeClientConn() *net.UDPConn {
	e.clientMu.Lock()
	defer e.clientMu.Unlock()
	return e.activeConn
}

// isShuttingDown distinguishes a deliberate Engine.Close from the routine
// socket replacement done by SetClientPort or the tid_socket switch-back,
// both of which also close a *net.UDPConn a relay loop may be blocked on.
func (e *Engine) isShuttingDown() bool {
	e.shutdownMu.Lock()
	defer e.shutdownMu.Unlock()
	return e.shuttingDown
}

func (e *Engine) runClientRelay() error {
	buf := make([]byte, maxDatagram)
	for {
		conn := e.activeClientConn()
		if err := conn.SetReadDeadline(time.Now().Add(pollInterval)); err != nil {
			return fmt.Errorf("simulator: client relay: %w", err)
		}
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				if e.isShuttingDown() {
					return nil
				}
				continue
			}
			return fmt.Errorf("simulator: client relay: %w", err)
		}

		payload := make([]byte, n)
		copy(payload, buf[:n])
		e.handleFromClient(payload, addr)
	}
}

func (e *Engine) runServerRelay() error {
	buf := make([]byte, maxDatagram)
	for {
		e.serverConnMu.Lock()
		conn := e.serverConn
		e.serverConnMu.Unlock()

		if err := conn.SetReadDeadline(time.Now().Add(pollInterval)); err != nil {
			return fmt.Errorf("simulator: server relay: %w", err)
		}
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				if e.isShuttingDown() {
					return nil
				}
				continue
			}
			return fmt.Errorf("simulator: server relay: %w", err)
		}

		payload := make([]byte, n)
		copy(payload, buf[:n])
		e.handleFromServer(payload, addr)
	}
}

func (e *Engine) handleFromClient(buf []byte, addr *net.UDPAddr) {
	p, err := packet.Parse(buf)
	if err != nil {
		e.sink.Error("simulator", fmt.Errorf("from client %s: %w", addr, err))
		return
	}

	e.clientMu.Lock()
	e.clientAddr = addr
	if _, isRequest := p.(*packet.Request); isRequest && e.tidConn == nil {
		tidConn, terr := net.ListenUDP("udp", &net.UDPAddr{IP: e.knownConn.LocalAddr().(*net.UDPAddr).IP})
		if terr != nil {
			e.clientMu.Unlock()
			e.sink.Error("simulator", fmt.Errorf("allocating tid_socket: %w", terr))
			return
		}
		e.tidConn = tidConn
		e.activeConn = tidConn
	}
	e.clientMu.Unlock()

	e.relay(true, p)
}

func (e *Engine) handleFromServer(buf []byte, addr *net.UDPAddr) {
	p, err := packet.Parse(buf)
	if err != nil {
		e.sink.Error("simulator", fmt.Errorf("from server %s: %w", addr, err))
		return
	}

	e.serverAddrMu.Lock()
	e.serverAddr = addr
	e.serverAddrMu.Unlock()

	e.relay(false, p)
}

// relay applies the ruleset to p and forwards it to the opposite side,
// per the DROP/DUPLICATE/DELAY semantics of spec.md §4.7. toServer
// selects the forwarding direction: true for client->server.
func (e *Engine) relay(toServer bool, p packet.Packet) {
	kind := kindOf(p)
	block := blockNumberOf(p)
	action, delayMillis, matched := e.rules.apply(kind, block)

	forward := func() {
		if toServer {
			e.sendToServer(p)
		} else {
			e.sendToClient(p)
		}
	}

	if !matched {
		forward()
		return
	}

	switch action {
	case ActionDrop:
		// do not forward
	case ActionDuplicate:
		forward()
		time.AfterFunc(time.Duration(delayMillis)*time.Millisecond, forward)
	case ActionDelay:
		time.AfterFunc(time.Duration(delayMillis)*time.Millisecond, forward)
	}
}

func (e *Engine) sendToServer(p packet.Packet) {
	e.serverConnMu.Lock()
	conn := e.serverConn
	e.serverConnMu.Unlock()

	addr := e.ServerAddr()
	buf := packet.Serialize(p)
	if _, err := conn.WriteToUDP(buf, addr); err != nil {
		e.sink.Error("simulator", fmt.Errorf("forwarding to server: %w", err))
		return
	}
	e.sink.Packet(transaction.PacketEvent{
		TransactionID: "simulator",
		Direction:     transaction.DirectionSend,
		Remote:        addr,
		Packet:        p,
	})
}

func (e *Engine) sendToClient(p packet.Packet) {
	e.clientMu.Lock()
	conn := e.tidConn
	if conn == nil {
		conn = e.knownConn
	}
	addr := e.clientAddr
	e.clientMu.Unlock()

	if addr == nil {
		e.sink.Error("simulator", fmt.Errorf("forwarding to client before any client address was learned"))
		return
	}

	buf := packet.Serialize(p)
	if _, err := conn.WriteToUDP(buf, addr); err != nil {
		e.sink.Error("simulator", fmt.Errorf("forwarding to client: %w", err))
		return
	}
	e.sink.Packet(transaction.PacketEvent{
		TransactionID: "simulator",
		Direction:     transaction.DirectionSend,
		Remote:        addr,
		Packet:        p,
	})

	if d, ok := p.(*packet.Data); ok && d.Size() < terminalDataWireSize {
		e.clientMu.Lock()
		oldTid := e.tidConn
		e.tidConn = nil
		e.activeConn = e.knownConn
		e.clientMu.Unlock()
		if oldTid != nil {
			_ = oldTid.Close()
		}
	}
}
