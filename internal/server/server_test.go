package server_test

import (
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wjholden/gotftpd/internal/packet"
	"github.com/wjholden/gotftpd/internal/server"
)

func startServer(t *testing.T, root string, readOnly bool) *server.Server {
	t.Helper()
	s, err := server.New(server.Config{
		ListenAddr: &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)},
		Root:       root,
		ReadOnly:   readOnly,
	})
	require.NoError(t, err)
	go s.Serve()
	t.Cleanup(func() { _ = s.Shutdown() })
	return s
}

// TestRRQHappyPath exercises spec.md §8 scenario 1 end-to-end against the
// real dispatcher: a client speaks raw UDP, no transaction helper.
func TestRRQHappyPath(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "hi.bin"), []byte("hello"), 0o644))
	s := startServer(t, root, false)

	client, err := net.ListenUDP("udp", nil)
	require.NoError(t, err)
	defer client.Close()
	client.SetReadDeadline(time.Now().Add(2 * time.Second))

	req := packet.Serialize(&packet.Request{Op: packet.OpRRQ, Filename: "hi.bin", Mode: packet.ModeOctet})
	_, err = client.WriteToUDP(req, s.LocalAddr())
	require.NoError(t, err)

	buf := make([]byte, 600)
	n, from, err := client.ReadFromUDP(buf)
	require.NoError(t, err)
	p, err := packet.Parse(buf[:n])
	require.NoError(t, err)
	data, ok := p.(*packet.Data)
	require.True(t, ok)
	assert.Equal(t, uint16(1), data.Block)
	assert.Equal(t, []byte("hello"), data.Payload)

	ack := packet.Serialize(&packet.Ack{Block: 1})
	_, err = client.WriteToUDP(ack, from)
	require.NoError(t, err)

	// The transfer socket must differ from the well-known port (spec.md
	// §4.6: "open a fresh socket for the transfer").
	assert.NotEqual(t, s.LocalAddr().Port, from.Port)
}

// TestRRQFileNotFound exercises the FILE_NOT_FOUND disposition of
// spec.md §7; no transfer socket should be allocated.
func TestRRQFileNotFound(t *testing.T) {
	root := t.TempDir()
	s := startServer(t, root, false)

	client, err := net.ListenUDP("udp", nil)
	require.NoError(t, err)
	defer client.Close()
	client.SetReadDeadline(time.Now().Add(2 * time.Second))

	req := packet.Serialize(&packet.Request{Op: packet.OpRRQ, Filename: "missing.bin", Mode: packet.ModeOctet})
	_, err = client.WriteToUDP(req, s.LocalAddr())
	require.NoError(t, err)

	buf := make([]byte, 600)
	n, _, err := client.ReadFromUDP(buf)
	require.NoError(t, err)
	p, err := packet.Parse(buf[:n])
	require.NoError(t, err)
	errPkt, ok := p.(*packet.Error)
	require.True(t, ok)
	assert.Equal(t, packet.ErrCodeFileNotFound, errPkt.Code)
}

// TestWRQReadOnlyRejected covers the ReadOnly server config.
func TestWRQReadOnlyRejected(t *testing.T) {
	root := t.TempDir()
	s := startServer(t, root, true)

	client, err := net.ListenUDP("udp", nil)
	require.NoError(t, err)
	defer client.Close()
	client.SetReadDeadline(time.Now().Add(2 * time.Second))

	req := packet.Serialize(&packet.Request{Op: packet.OpWRQ, Filename: "upload.bin", Mode: packet.ModeOctet})
	_, err = client.WriteToUDP(req, s.LocalAddr())
	require.NoError(t, err)

	buf := make([]byte, 600)
	n, _, err := client.ReadFromUDP(buf)
	require.NoError(t, err)
	p, err := packet.Parse(buf[:n])
	require.NoError(t, err)
	errPkt, ok := p.(*packet.Error)
	require.True(t, ok)
	assert.Equal(t, packet.ErrCodeAccessViolation, errPkt.Code)
}

// TestWRQHappyPath drives a full write transfer: WRQ, ACK(0), one short
// DATA block, final ACK, and checks the file landed under root.
func TestWRQHappyPath(t *testing.T) {
	root := t.TempDir()
	s := startServer(t, root, false)

	client, err := net.ListenUDP("udp", nil)
	require.NoError(t, err)
	defer client.Close()
	client.SetReadDeadline(time.Now().Add(2 * time.Second))

	req := packet.Serialize(&packet.Request{Op: packet.OpWRQ, Filename: "upload.bin", Mode: packet.ModeOctet})
	_, err = client.WriteToUDP(req, s.LocalAddr())
	require.NoError(t, err)

	buf := make([]byte, 600)
	n, from, err := client.ReadFromUDP(buf)
	require.NoError(t, err)
	p, err := packet.Parse(buf[:n])
	require.NoError(t, err)
	ack0, ok := p.(*packet.Ack)
	require.True(t, ok)
	assert.Equal(t, uint16(0), ack0.Block)

	data := packet.Serialize(&packet.Data{Block: 1, Payload: []byte("world")})
	_, err = client.WriteToUDP(data, from)
	require.NoError(t, err)

	n, _, err = client.ReadFromUDP(buf)
	require.NoError(t, err)
	p, err = packet.Parse(buf[:n])
	require.NoError(t, err)
	ack1, ok := p.(*packet.Ack)
	require.True(t, ok)
	assert.Equal(t, uint16(1), ack1.Block)

	time.Sleep(50 * time.Millisecond) // file close happens after the final ACK send
	contents, err := os.ReadFile(filepath.Join(root, "upload.bin"))
	require.NoError(t, err)
	assert.Equal(t, "world", string(contents))
}

// TestWRQFileAlreadyExists covers the FILE_ALREADY_EXISTS disposition.
func TestWRQFileAlreadyExists(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "exists.bin"), []byte("x"), 0o644))
	s := startServer(t, root, false)

	client, err := net.ListenUDP("udp", nil)
	require.NoError(t, err)
	defer client.Close()
	client.SetReadDeadline(time.Now().Add(2 * time.Second))

	req := packet.Serialize(&packet.Request{Op: packet.OpWRQ, Filename: "exists.bin", Mode: packet.ModeOctet})
	_, err = client.WriteToUDP(req, s.LocalAddr())
	require.NoError(t, err)

	buf := make([]byte, 600)
	n, _, err := client.ReadFromUDP(buf)
	require.NoError(t, err)
	p, err := packet.Parse(buf[:n])
	require.NoError(t, err)
	errPkt, ok := p.(*packet.Error)
	require.True(t, ok)
	assert.Equal(t, packet.ErrCodeFileAlreadyExists, errPkt.Code)
}

// TestNonRequestToWellKnownPortIsIllegalOp covers the default arm of
// spec.md §4.6: any non-request datagram to :69 gets ILLEGAL_OPERATION.
func TestNonRequestToWellKnownPortIsIllegalOp(t *testing.T) {
	root := t.TempDir()
	s := startServer(t, root, false)

	client, err := net.ListenUDP("udp", nil)
	require.NoError(t, err)
	defer client.Close()
	client.SetReadDeadline(time.Now().Add(2 * time.Second))

	ack := packet.Serialize(&packet.Ack{Block: 1})
	_, err = client.WriteToUDP(ack, s.LocalAddr())
	require.NoError(t, err)

	buf := make([]byte, 600)
	n, _, err := client.ReadFromUDP(buf)
	require.NoError(t, err)
	p, err := packet.Parse(buf[:n])
	require.NoError(t, err)
	errPkt, ok := p.(*packet.Error)
	require.True(t, ok)
	assert.Equal(t, packet.ErrCodeIllegalOperation, errPkt.Code)
}
