package outputstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompressDecompressZstdRoundTrips(t *testing.T) {
	raw := []byte("this is a chunk of manager stdout repeated repeated repeated\n")
	entry, err := Compress("stdout", raw, CompressionZstd, 0)
	require.NoError(t, err)
	assert.Equal(t, CompressionZstd, entry.Compression)
	assert.NotEqual(t, raw, entry.Data)

	out, err := Decompress(entry)
	require.NoError(t, err)
	assert.Equal(t, raw, out)
}

func TestCompressNoneStoresRawUnchanged(t *testing.T) {
	raw := []byte("uncompressed")
	entry, err := Compress("stderr", raw, CompressionNone, 0)
	require.NoError(t, err)
	assert.Equal(t, raw, entry.Data)

	out, err := Decompress(entry)
	require.NoError(t, err)
	assert.Equal(t, raw, out)
}

func TestCompressUnsupportedCodec(t *testing.T) {
	_, err := Compress("stdout", []byte("x"), Compression("lz4"), 0)
	assert.Error(t, err)
}

func TestAppendDecompressesConcatenatesRecompresses(t *testing.T) {
	entry, err := Compress("stdout", []byte("hello "), CompressionZstd, 0)
	require.NoError(t, err)

	appended, err := Append(entry, []byte("world"))
	require.NoError(t, err)
	assert.Equal(t, CompressionZstd, appended.Compression)

	out, err := Decompress(appended)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(out))
}

func TestAppendPreservesNoneCodec(t *testing.T) {
	entry, err := Compress("stdout", []byte("a"), CompressionNone, 0)
	require.NoError(t, err)

	appended, err := Append(entry, []byte("b"))
	require.NoError(t, err)
	assert.Equal(t, CompressionNone, appended.Compression)
	assert.Equal(t, []byte("ab"), appended.Data)
}
