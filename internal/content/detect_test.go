package content

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsBinary(t *testing.T) {
	assert.False(t, IsBinary([]byte("plain text\twith\ttabs\nand lines\r\n")))
	assert.True(t, IsBinary([]byte("embedded\x00null")))
	assert.True(t, IsBinary([]byte{0x01, 0x02, 0x03}))
	assert.False(t, IsBinary(nil))
}

func TestSniffMIME(t *testing.T) {
	assert.Equal(t, "image/png", SniffMIME([]byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a, 0xff}))
	assert.Equal(t, "application/pdf", SniffMIME([]byte("%PDF-1.7 junk")))
	assert.Equal(t, "application/octet-stream", SniffMIME([]byte{0x00, 0x01}))
}

func TestEncode_TextPassesThrough(t *testing.T) {
	raw := []byte("just some text")
	enc, err := Encode(raw, false)
	require.NoError(t, err)
	assert.Equal(t, raw, enc)
}

func TestEncodeDecode_BinaryRoundTrip(t *testing.T) {
	raw := []byte("binary\x00with null and \x01 control bytes")
	enc, err := Encode(raw, false)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(enc), "data:application/octet-stream;base64,"))

	got, mime, err := Decode(enc)
	require.NoError(t, err)
	assert.Equal(t, raw, got)
	assert.Equal(t, "application/octet-stream", mime)
}

func TestEncodeDecode_TypedSignature(t *testing.T) {
	raw := append([]byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a}, bytes.Repeat([]byte{0xab}, 64)...)
	enc, err := Encode(raw, false)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(enc), "data:image/png;base64,"))

	got, mime, err := Decode(enc)
	require.NoError(t, err)
	assert.Equal(t, raw, got)
	assert.Equal(t, "image/png", mime)
}

func TestEncodeDecode_CompressedRoundTrip(t *testing.T) {
	raw := append([]byte{0x00}, bytes.Repeat([]byte("compressible "), 1000)...)
	enc, err := Encode(raw, true)
	require.NoError(t, err)
	assert.Contains(t, string(enc[:64]), ";codec=zstd;base64,")
	assert.Less(t, len(enc), len(raw))

	got, mime, err := Decode(enc)
	require.NoError(t, err)
	assert.Equal(t, raw, got)
	assert.Equal(t, "application/octet-stream", mime)
}

func TestDecode_PlainTextPassesThrough(t *testing.T) {
	got, mime, err := Decode([]byte("not a data uri"))
	require.NoError(t, err)
	assert.Equal(t, []byte("not a data uri"), got)
	assert.Equal(t, "", mime)
}
