package vxi11

import (
	"bytes"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-dmmscan/instrument"
)

func TestXDR_OpaquePadding(t *testing.T) {
	require := require.New(t)

	w := &xdrWriter{}
	w.uint32(7)
	w.string("ID?")
	w.bool(true)
	require.Len(w.bytes(), 4+4+4+4)

	r := newXDRReader(w.bytes())
	require.Equal(uint32(7), r.uint32())
	require.Equal("ID?", r.string(16))
	require.True(r.bool())
	require.NoError(r.Err())

	// reads past the end stick to the first error
	require.Zero(r.uint32())
	require.ErrorIs(r.Err(), errShortXDR)
	require.Empty(r.string(16))
}

func TestXDR_OpaqueLimit(t *testing.T) {
	w := &xdrWriter{}
	w.opaque(bytes.Repeat([]byte{'x'}, 32))

	r := newXDRReader(w.bytes())
	require.Nil(t, r.opaque(16))
	require.Error(t, r.Err())
}

func TestRecord_Fragments(t *testing.T) {
	require := require.New(t)

	var buf bytes.Buffer
	// first fragment without the last-fragment bit
	buf.Write([]byte{0, 0, 0, 3})
	buf.WriteString("abc")
	require.NoError(writeRecord(&buf, []byte("de")))

	rec, err := readRecord(&buf)
	require.NoError(err)
	require.Equal("abcde", string(rec))

	buf.Reset()
	buf.Write([]byte{0x80, 0x20, 0, 0})
	_, err = readRecord(&buf)
	require.ErrorIs(err, ErrRecordTooLarge)
}

func TestParseCall_RejectsVersion(t *testing.T) {
	w := &xdrWriter{}
	w.uint32(42)
	w.uint32(msgCall)
	w.uint32(3)
	w.uint32(coreProgram)
	w.uint32(coreVersion)
	w.uint32(procCreateLink)
	w.uint32(authNone)
	w.opaque(nil)
	w.uint32(authNone)
	w.opaque(nil)

	c, err := parseCall(w.bytes())
	require.ErrorIs(t, err, ErrRPCDenied)
	require.Equal(t, uint32(42), c.xid)

	_, err = parseReply(newXDRReader(deniedReply(42)[4:]))
	require.ErrorIs(t, err, ErrRPCDenied)
}

func TestRPCClient_BrokenAfterTransportError(t *testing.T) {
	require := require.New(t)

	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		if _, err := readRecord(server); err != nil {
			return
		}
		// a reply header announcing 100 bytes, followed by only 10 of them
		hdr := make([]byte, 4)
		binary.BigEndian.PutUint32(hdr, lastFragment|100)
		_, _ = server.Write(append(hdr, make([]byte, 10)...))
	}()

	c := newRPCClient(client, coreProgram, coreVersion)
	_, err := c.call(procDeviceRead, nil, time.Now().Add(50*time.Millisecond))
	require.Error(err)
	require.Equal(instrument.KindTimeout, instrument.KindOf(wrap("read", "gpib0,22", err)))

	// the stream is not read again: the next call fails at once
	start := time.Now()
	_, err = c.call(procDestroyLink, nil, time.Now().Add(time.Second))
	require.ErrorIs(err, ErrConnBroken)
	require.Less(time.Since(start), 50*time.Millisecond)
	require.Equal(instrument.KindConnect, instrument.KindOf(wrap("close", "gpib0,22", err)))
}
