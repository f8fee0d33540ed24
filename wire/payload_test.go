package wire

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPayloadReaderBounded(t *testing.T) {
	conn := NewConn(makeMockConnStr("hello", " world", "All files downloaded successfully!\n"), testOptions)
	desc := &TransferDescriptor{Name: "a.txt", Size: 11}
	var seen []int64
	r := conn.NewPayloadReader(desc, func(d TransferDescriptor) {
		seen = append(seen, d.Transferred)
	})

	buf, err := io.ReadAll(r)
	assert.NoError(t, err)
	assert.Equal(t, "hello world", string(buf))
	assert.True(t, desc.Complete())
	assert.Equal(t, []int64{5, 11}, seen)

	line, err := conn.ReadLine()
	assert.NoError(t, err)
	assert.Equal(t, "All files downloaded successfully!", line)
}

func TestPayloadReaderLeavesExcessBuffered(t *testing.T) {
	conn := NewConn(makeMockConnBuf([]byte("abcdefNEXT")), testOptions)
	desc := &TransferDescriptor{Name: "x", Size: 6}
	buf, err := io.ReadAll(conn.NewPayloadReader(desc, nil))
	require.NoError(t, err)
	assert.Equal(t, "abcdef", string(buf))
	assert.NoError(t, conn.ExpectToken(TokenNext))
}

func TestPayloadReaderZeroSize(t *testing.T) {
	conn := NewConn(makeMockConnStr("status\n"), testOptions)
	desc := &TransferDescriptor{Name: "empty"}
	buf, err := io.ReadAll(conn.NewPayloadReader(desc, nil))
	assert.NoError(t, err)
	assert.Empty(t, buf)
	assert.True(t, desc.Complete())

	line, err := conn.ReadLine()
	assert.NoError(t, err)
	assert.Equal(t, "status", line)
}

func TestPayloadReaderTruncated(t *testing.T) {
	conn := NewConn(makeMockConnStr("abc"), testOptions)
	desc := &TransferDescriptor{Name: "a.bin", Size: 10}
	_, err := io.ReadAll(conn.NewPayloadReader(desc, nil))
	assert.True(t, errors.Is(err, ErrConnectionReset))
	assert.Equal(t, int64(3), desc.Transferred)
}

func TestPayloadReaderDrain(t *testing.T) {
	conn := NewConn(makeMockConnStr("0123456789", "name:3"), testOptions)
	desc := &TransferDescriptor{Name: "skip", Size: 10}
	r := conn.NewPayloadReader(desc, nil)

	head := make([]byte, 4)
	_, err := io.ReadFull(r, head)
	require.NoError(t, err)

	n, err := r.Drain()
	assert.NoError(t, err)
	assert.Equal(t, int64(6), n)
	assert.True(t, desc.Complete())

	n, err = r.Drain()
	assert.NoError(t, err)
	assert.Zero(t, n)

	line, err := conn.ReadLine()
	assert.NoError(t, err)
	assert.Equal(t, "name:3", line)
}

func TestChunkWriterChunks(t *testing.T) {
	mc := makeMockConnStr()
	conn := NewConn(mc, testOptions)
	desc := &TransferDescriptor{Name: "a.jpg", Size: 10000}
	var progress []int64
	w := conn.NewChunkWriter(desc, 4096, func(d TransferDescriptor) {
		progress = append(progress, d.Transferred)
	})

	data := bytes.Repeat([]byte{7}, 10000)
	assert.NoError(t, w.Send(bytes.NewReader(data)))
	assert.Equal(t, []int64{4096, 8192, 10000}, progress)
	assert.Equal(t, data, mc.out.Bytes())
	assert.True(t, desc.Complete())
}

func TestChunkWriterRefusesOverrun(t *testing.T) {
	conn := NewConn(makeMockConnStr(), testOptions)
	w := conn.NewChunkWriter(&TransferDescriptor{Name: "a", Size: 2}, 0, nil)
	_, err := w.Write([]byte("abc"))
	assert.True(t, errors.Is(err, ErrAssertion))
}

func TestChunkWriterShortSource(t *testing.T) {
	mc := makeMockConnStr()
	conn := NewConn(mc, testOptions)
	desc := &TransferDescriptor{Name: "a.txt", Size: 8}
	w := conn.NewChunkWriter(desc, 4, nil)

	err := w.Send(strings.NewReader("abcde"))
	assert.True(t, errors.Is(err, ErrLocalIO))
	assert.False(t, IsTransport(err))
	assert.Equal(t, int64(5), desc.Transferred)

	require.NoError(t, w.Pad())
	assert.True(t, desc.Complete())
	assert.Equal(t, "abcde\x00\x00\x00", mc.out.String())
}

func TestChunkWriterSourceError(t *testing.T) {
	conn := NewConn(makeMockConnStr(), testOptions)
	w := conn.NewChunkWriter(&TransferDescriptor{Name: "a.txt", Size: 8}, 4, nil)
	err := w.Send(&failingReader{data: []byte("ab"), err: errors.New("disk on fire")})
	assert.True(t, errors.Is(err, ErrLocalIO))
	assert.Contains(t, err.Error(), "disk on fire")
}

func TestChunkWriterTransportError(t *testing.T) {
	mc := makeMockConnStr()
	conn := NewConn(mc, testOptions)
	conn.Close()
	w := conn.NewChunkWriter(&TransferDescriptor{Name: "a.txt", Size: 3}, 4, nil)
	err := w.Send(strings.NewReader("abc"))
	assert.True(t, IsTransport(err))
	assert.False(t, errors.Is(err, ErrLocalIO))
}

func TestTransferDescriptor(t *testing.T) {
	d := TransferDescriptor{Name: "a.jpg", Size: 10, Transferred: 4}
	assert.Equal(t, int64(6), d.Remaining())
	assert.False(t, d.Complete())
	assert.Equal(t, "a.jpg 4/10", d.String())
}
