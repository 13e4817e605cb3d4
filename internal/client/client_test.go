package client_test

import (
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wjholden/gotftpd/internal/client"
	"github.com/wjholden/gotftpd/internal/packet"
	"github.com/wjholden/gotftpd/internal/transaction"
)

func TestParseEndpointsDownload(t *testing.T) {
	ep, err := client.ParseEndpoints("server:remote.bin", "local.bin")
	require.NoError(t, err)
	assert.False(t, ep.IsUpload)
	assert.Equal(t, "server", ep.RemoteHost)
	assert.Equal(t, "remote.bin", ep.RemoteFile)
	assert.Equal(t, "local.bin", ep.LocalPath)
}

func TestParseEndpointsUpload(t *testing.T) {
	ep, err := client.ParseEndpoints("local.bin", "server:remote.bin")
	require.NoError(t, err)
	assert.True(t, ep.IsUpload)
	assert.Equal(t, "server", ep.RemoteHost)
	assert.Equal(t, "remote.bin", ep.RemoteFile)
	assert.Equal(t, "local.bin", ep.LocalPath)
}

func TestParseEndpointsBothRemoteIsError(t *testing.T) {
	_, err := client.ParseEndpoints("a:one.bin", "b:two.bin")
	require.Error(t, err)
}

func TestParseEndpointsNeitherRemoteIsError(t *testing.T) {
	_, err := client.ParseEndpoints("one.bin", "two.bin")
	require.Error(t, err)
}

// TestDownloadAgainstFakeServer drives client.Transfer's download path
// against a hand-rolled server: respond to RRQ with DATA(1) directly
// (implicit ACK 0, spec.md §4.6), then expect ACK(1).
func TestDownloadAgainstFakeServer(t *testing.T) {
	fakeServer, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer fakeServer.Close()
	port := fakeServer.LocalAddr().(*net.UDPAddr).Port

	dir := t.TempDir()
	dest := filepath.Join(dir, "out.bin")

	done := make(chan transaction.State, 1)
	go func() {
		s, _ := client.Transfer(client.Config{ServerPort: port}, "127.0.0.1:remote.bin", dest)
		done <- s
	}()

	fakeServer.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 600)
	n, from, err := fakeServer.ReadFromUDP(buf)
	require.NoError(t, err)
	p, err := packet.Parse(buf[:n])
	require.NoError(t, err)
	req, ok := p.(*packet.Request)
	require.True(t, ok)
	assert.True(t, req.IsReadRequest())

	data := packet.Serialize(&packet.Data{Block: 1, Payload: []byte("abc")})
	_, err = fakeServer.WriteToUDP(data, from)
	require.NoError(t, err)

	n, _, err = fakeServer.ReadFromUDP(buf)
	require.NoError(t, err)
	p, err = packet.Parse(buf[:n])
	require.NoError(t, err)
	ack, ok := p.(*packet.Ack)
	require.True(t, ok)
	assert.Equal(t, uint16(1), ack.Block)

	assert.Equal(t, transaction.StateComplete, <-done)
	contents, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(contents))
}

// TestUploadAgainstFakeServer drives the WRQ path: server ACKs 0, then
// receives one short DATA block.
func TestUploadAgainstFakeServer(t *testing.T) {
	fakeServer, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer fakeServer.Close()
	port := fakeServer.LocalAddr().(*net.UDPAddr).Port

	dir := t.TempDir()
	src := filepath.Join(dir, "in.bin")
	require.NoError(t, os.WriteFile(src, []byte("xyz"), 0o644))

	done := make(chan transaction.State, 1)
	go func() {
		s, _ := client.Transfer(client.Config{ServerPort: port}, src, "127.0.0.1:remote.bin")
		done <- s
	}()

	fakeServer.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 600)
	n, from, err := fakeServer.ReadFromUDP(buf)
	require.NoError(t, err)
	p, err := packet.Parse(buf[:n])
	require.NoError(t, err)
	req, ok := p.(*packet.Request)
	require.True(t, ok)
	assert.True(t, req.IsWriteRequest())

	ack0 := packet.Serialize(&packet.Ack{Block: 0})
	_, err = fakeServer.WriteToUDP(ack0, from)
	require.NoError(t, err)

	n, _, err = fakeServer.ReadFromUDP(buf)
	require.NoError(t, err)
	p, err = packet.Parse(buf[:n])
	require.NoError(t, err)
	data, ok := p.(*packet.Data)
	require.True(t, ok)
	assert.Equal(t, uint16(1), data.Block)
	assert.Equal(t, []byte("xyz"), data.Payload)

	ack1 := packet.Serialize(&packet.Ack{Block: 1})
	_, err = fakeServer.WriteToUDP(ack1, from)
	require.NoError(t, err)

	assert.Equal(t, transaction.StateComplete, <-done)
}
