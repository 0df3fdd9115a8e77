package wire

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadRoundTrip(t *testing.T) {
	var buf bytes.Buffer

	payloads := [][]byte{
		[]byte("first"),
		[]byte{0x00, 0x01, 0x02},
		bytes.Repeat([]byte("x"), 70000),
	}
	for _, p := range payloads {
		require.NoError(t, WriteFrame(&buf, p))
	}
	require.NoError(t, WriteTerminator(&buf))

	got, err := ReadAll(&buf)
	require.NoError(t, err)
	require.Len(t, got, len(payloads))
	for i := range payloads {
		assert.Equal(t, payloads[i], got[i])
	}
}

func TestWriteAll(t *testing.T) {
	var buf bytes.Buffer

	payloads := [][]byte{[]byte("one"), []byte("two")}
	require.NoError(t, WriteAll(&buf, payloads))

	got, err := ReadAll(&buf)
	require.NoError(t, err)
	assert.Equal(t, payloads, got)

	// No payloads still produces a terminated sequence.
	buf.Reset()
	require.NoError(t, WriteAll(&buf, nil))
	got, err = ReadAll(&buf)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestReadFrame_Terminator(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteTerminator(&buf))

	_, err := ReadFrame(&buf)
	assert.Equal(t, io.EOF, err)
}

func TestReadAll_EmptySequence(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteTerminator(&buf))

	frames, err := ReadAll(&buf)
	require.NoError(t, err)
	assert.Empty(t, frames)
}

func TestReadFrame_LittleEndianHeader(t *testing.T) {
	// 3-byte payload, header spelled out by hand.
	raw := []byte{0x03, 0x00, 0x00, 0x00, 'a', 'b', 'c'}

	payload, err := ReadFrame(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), payload)
}

func TestReadFrame_Truncated(t *testing.T) {
	tests := []struct {
		name string
		raw  []byte
	}{
		{
			name: "empty stream",
			raw:  nil,
		},
		{
			name: "partial header",
			raw:  []byte{0x05, 0x00},
		},
		{
			name: "payload shorter than header claims",
			raw:  []byte{0x05, 0x00, 0x00, 0x00, 'a', 'b'},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadFrame(bytes.NewReader(tt.raw))
			require.Error(t, err)
			assert.NotEqual(t, io.EOF, err, "truncation must not look like a clean terminator")
		})
	}
}

func TestReadAll_MissingTerminator(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, []byte("only frame")))

	_, err := ReadAll(&buf)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "before terminator")
}

func TestFrameSizeLimits(t *testing.T) {
	err := WriteFrame(io.Discard, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must not be empty")

	var header [4]byte
	binary.LittleEndian.PutUint32(header[:], uint32(MaxFrameSize)+1)
	_, err = ReadFrame(bytes.NewReader(header[:]))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds limit")
}
