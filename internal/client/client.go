// Package client implements the client side of spec.md §6: resolve the
// positional source/dest CLI arguments into a local file and a remote
// endpoint, then drive a single Send or Receive transaction against the
// server's well-known port.
package client

import (
	"fmt"
	"net"
	"os"

	"github.com/rs/xid"

	"github.com/wjholden/gotftpd/internal/packet"
	"github.com/wjholden/gotftpd/internal/transaction"
	"github.com/wjholden/gotftpd/internal/transport"
)

// Config configures one client transfer.
type Config struct {
	ServerPort int // default 69, per spec.md §6
	Sink       transaction.PacketSink
}

func (c Config) serverPort() int {
	if c.ServerPort != 0 {
		return c.ServerPort
	}
	return 69
}

// Transfer parses source/dest per ParseEndpoints and runs the resulting
// RRQ (download) or WRQ (upload) to completion, returning the terminal
// transaction state.
func Transfer(cfg Config, source, dest string) (transaction.State, error) {
	ep, err := ParseEndpoints(source, dest)
	if err != nil {
		return transaction.StateReceivedBadPacket, err
	}

	remoteAddr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", ep.RemoteHost, cfg.serverPort()))
	if err != nil {
		return transaction.StateSocketIOError, fmt.Errorf("client: resolving %s: %w", ep.RemoteHost, err)
	}

	conn, err := net.ListenUDP("udp", nil)
	if err != nil {
		return transaction.StateSocketIOError, fmt.Errorf("client: opening local socket: %w", err)
	}
	defer conn.Close()

	endpoint := transport.New(conn, nil)
	sink := cfg.Sink
	if sink == nil {
		sink = transaction.NopSink{}
	}
	id := xid.New().String()

	if ep.IsUpload {
		return uploadFile(endpoint, remoteAddr, ep.RemoteFile, ep.LocalPath, sink, id)
	}
	return downloadFile(endpoint, remoteAddr, ep.RemoteFile, ep.LocalPath, sink, id)
}

func downloadFile(ep *transport.Endpoint, remote *net.UDPAddr, remoteFile, localPath string, sink transaction.PacketSink, id string) (transaction.State, error) {
	req := &packet.Request{Op: packet.OpRRQ, Filename: remoteFile, Mode: packet.ModeOctet}
	if err := ep.Send(req, remote); err != nil {
		return transaction.StateSocketIOError, fmt.Errorf("client: sending RRQ: %w", err)
	}

	file, err := os.Create(localPath)
	if err != nil {
		return transaction.StateFileIOError, fmt.Errorf("client: creating %s: %w", localPath, err)
	}
	defer file.Close()

	return transaction.Receive(transaction.ReceiveConfig{
		Endpoint:      ep,
		Destination:   file,
		SendAckZero:   false,
		UpdateTID:     true,
		Sink:          sink,
		TransactionID: id,
	})
}

func uploadFile(ep *transport.Endpoint, remote *net.UDPAddr, remoteFile, localPath string, sink transaction.PacketSink, id string) (transaction.State, error) {
	req := &packet.Request{Op: packet.OpWRQ, Filename: remoteFile, Mode: packet.ModeOctet}
	if err := ep.Send(req, remote); err != nil {
		return transaction.StateSocketIOError, fmt.Errorf("client: sending WRQ: %w", err)
	}

	file, err := os.Open(localPath)
	if err != nil {
		return transaction.StateFileIOError, fmt.Errorf("client: opening %s: %w", localPath, err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return transaction.StateFileIOError, fmt.Errorf("client: stat %s: %w", localPath, err)
	}

	return transaction.Send(transaction.SendConfig{
		Endpoint:      ep,
		Source:        file,
		FileSize:      info.Size(),
		WaitAckZero:   true,
		Sink:          sink,
		TransactionID: id,
	})
}
