package hasher

import (
	"bytes"
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, data, 0o644))
	return p
}

func TestHashFile_KnownVector(t *testing.T) {
	p := writeFile(t, t.TempDir(), "abc.txt", []byte("abc"))

	digest, err := HashFile(p)
	require.NoError(t, err)
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", digest)
	assert.Len(t, digest, 64)
}

func TestHashFile_IdenticalBytesSameDigest(t *testing.T) {
	dir := t.TempDir()
	rng := rand.New(rand.NewSource(1))
	data := make([]byte, 3*ChunkSize+17)
	rng.Read(data)

	a := writeFile(t, dir, "a.jpg", data)
	b := writeFile(t, dir, "b.jpg", append([]byte(nil), data...))

	da, err := HashFile(a)
	require.NoError(t, err)
	db, err := HashFile(b)
	require.NoError(t, err)
	assert.Equal(t, da, db)
	assert.Equal(t, HashBytes(data), da)
}

func TestHashFile_SingleByteFlipsChangeDigest(t *testing.T) {
	dir := t.TempDir()
	rng := rand.New(rand.NewSource(7))
	data := make([]byte, 2*ChunkSize+3)
	rng.Read(data)
	base := HashBytes(data)

	for i := 0; i < 50; i++ {
		flipped := append([]byte(nil), data...)
		pos := rng.Intn(len(flipped))
		flipped[pos] ^= byte(1 + rng.Intn(255))

		p := writeFile(t, dir, "flipped.bin", flipped)
		digest, err := HashFile(p)
		require.NoError(t, err)
		assert.NotEqual(t, base, digest, "flip at %d left digest unchanged", pos)
	}
}

func TestHashFile_MissingFile(t *testing.T) {
	_, err := HashFile(filepath.Join(t.TempDir(), "nope.jpg"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("disk on fire") }

func TestHashReader_PropagatesReadError(t *testing.T) {
	_, err := HashReader(failingReader{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk on fire")
}

func TestHashReader_MatchesHashBytes(t *testing.T) {
	data := bytes.Repeat([]byte("voucher"), 5000)
	digest, err := HashReader(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, HashBytes(data), digest)
}
