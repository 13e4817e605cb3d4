package packet

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTripRequest(t *testing.T) {
	opts := NewOptionSet()
	opts.Set("BlkSize", "1024")
	opts.Set("timeout", "5")

	req := &Request{Op: OpRRQ, Filename: "hi.bin", Mode: ModeOctet, Options: opts}

	buf := Serialize(req)
	got, err := Parse(buf)
	require.NoError(t, err)

	gotReq, ok := got.(*Request)
	require.True(t, ok)
	assert.Equal(t, req.Op, gotReq.Op)
	assert.Equal(t, req.Filename, gotReq.Filename)
	assert.Equal(t, req.Mode, gotReq.Mode)
	assert.True(t, req.Options.Equal(gotReq.Options))
}

func TestRoundTripDataByteIdentical(t *testing.T) {
	d := &Data{Block: 7, Payload: []byte("hello")}
	buf := Serialize(d)
	got, err := Parse(buf)
	require.NoError(t, err)
	gotD := got.(*Data)
	assert.Equal(t, d.Block, gotD.Block)
	assert.Equal(t, d.Payload, gotD.Payload)
	assert.Equal(t, buf, Serialize(gotD))
}

func TestRoundTripEmptyData(t *testing.T) {
	d := &Data{Block: 2, Payload: nil}
	buf := Serialize(d)
	require.Len(t, buf, 4)
	got, err := Parse(buf)
	require.NoError(t, err)
	gotD := got.(*Data)
	assert.True(t, gotD.EndOfTransfer())
	assert.Empty(t, gotD.Payload)
}

func TestRoundTripAck(t *testing.T) {
	a := &Ack{Block: 65535}
	buf := Serialize(a)
	require.Len(t, buf, 4)
	got, err := Parse(buf)
	require.NoError(t, err)
	assert.Equal(t, a, got)
}

func TestAckWrongLengthIsMalformed(t *testing.T) {
	_, err := Parse([]byte{0, 4, 0, 1, 0xff})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestRoundTripError(t *testing.T) {
	e := &Error{Code: ErrCodeFileNotFound, Description: "no such file"}
	buf := Serialize(e)
	got, err := Parse(buf)
	require.NoError(t, err)
	assert.Equal(t, e, got)
}

func TestErrorMissingTerminatorIsMalformed(t *testing.T) {
	buf := []byte{0, 5, 0, 1, 'x', 'y'}
	_, err := Parse(buf)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestRoundTripOptionsAck(t *testing.T) {
	opts := NewOptionSet()
	opts.Set("tsize", "2048")
	oack := &OptionsAck{Options: opts}
	buf := Serialize(oack)
	got, err := Parse(buf)
	require.NoError(t, err)
	gotOack := got.(*OptionsAck)
	assert.True(t, oack.Options.Equal(gotOack.Options))
}

func TestEmptyOptionsAckRoundTrips(t *testing.T) {
	oack := &OptionsAck{Options: NewOptionSet()}
	buf := Serialize(oack)
	require.Len(t, buf, 2)
	got, err := Parse(buf)
	require.NoError(t, err)
	assert.Equal(t, 0, got.(*OptionsAck).Options.Len())
}

func TestInvalidOpcodeRejected(t *testing.T) {
	_, err := Parse([]byte{0, 9, 0, 0})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidOpcode)
}

func TestSizeLaw(t *testing.T) {
	packets := []Packet{
		&Request{Op: OpWRQ, Filename: "a", Mode: ModeOctet, Options: NewOptionSet()},
		&Data{Block: 1, Payload: make([]byte, 300)},
		&Ack{Block: 9},
		&Error{Code: ErrCodeDiskFull, Description: "full"},
		&OptionsAck{Options: NewOptionSet()},
	}
	for _, p := range packets {
		assert.Len(t, Serialize(p), p.Size())
	}
}

// TestCodecFuzzNeverPanics exercises spec.md §8's codec fuzz property:
// for random buffers, Parse must either return a packet that re-serializes
// to the same bytes it was declared from, or fail with ErrMalformed /
// ErrInvalidOpcode — never panic.
func TestCodecFuzzNeverPanics(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 10000; i++ {
		n := rng.Intn(521)
		buf := make([]byte, n)
		rng.Read(buf)

		func() {
			defer func() {
				if r := recover(); r != nil {
					t.Fatalf("Parse panicked on input %v: %v", buf, r)
				}
			}()
			p, err := Parse(buf)
			if err != nil {
				return
			}
			switch pt := p.(type) {
			case *Data, *Ack, *Error:
				assert.Equal(t, buf, pt.(Packet).Serialize(nil))
			default:
				// Requests/OACKs are set-equal, not byte-identical, so we
				// only require that re-serializing succeeds without error.
				_ = Serialize(p)
			}
		}()
	}
}

func TestIsReadWriteRequestPredicate(t *testing.T) {
	rrq := &Request{Op: OpRRQ}
	wrq := &Request{Op: OpWRQ}
	assert.True(t, rrq.IsReadRequest())
	assert.False(t, rrq.IsWriteRequest())
	assert.True(t, wrq.IsWriteRequest())
	assert.False(t, wrq.IsReadRequest())
}
