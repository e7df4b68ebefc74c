package storage

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mp4Header is the smallest prefix mimetype recognizes as video/mp4.
var mp4Header = []byte("\x00\x00\x00\x18ftypmp42\x00\x00\x00\x00mp42isom")

func TestObjectName(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	name := ObjectName("../../etc/my clip.mp4", now)
	assert.True(t, strings.HasSuffix(name, "_my_clip.mp4"), name)
	assert.Equal(t, name, filepath.Base(name))

	a := ObjectName("a.mp4", now)
	b := ObjectName("a.mp4", now.Add(time.Millisecond))
	assert.NotEqual(t, a, b)
	assert.Less(t, a, b, "names sort by upload time")

	assert.True(t, strings.HasSuffix(ObjectName(".hidden", now), "_hidden"))
}

func TestFileStore_SaveAndPath(t *testing.T) {
	fs, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	n, err := fs.Save(ctx, "clip.mp4", bytes.NewReader([]byte("0123456789")), 10)
	require.NoError(t, err)
	assert.Equal(t, int64(10), n)

	p, err := fs.Path("clip.mp4")
	require.NoError(t, err)
	data, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, "0123456789", string(data))

	t.Run("enforces the size limit", func(t *testing.T) {
		_, err := fs.Save(ctx, "big.mp4", bytes.NewReader(make([]byte, 11)), 10)
		assert.ErrorIs(t, err, ErrTooLarge)
		_, err = fs.Path("big.mp4")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("rejects traversal", func(t *testing.T) {
		_, err := fs.Path("../clip.mp4")
		assert.ErrorIs(t, err, ErrInvalidName)
		_, err = fs.Path(".upload_123")
		assert.ErrorIs(t, err, ErrInvalidName)
		_, err = fs.Save(ctx, "../escape.mp4", bytes.NewReader(nil), 0)
		assert.ErrorIs(t, err, ErrInvalidName)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := fs.Path("nope.mp4")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestFileStore_Remove(t *testing.T) {
	fs, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	_, err = fs.Save(context.Background(), "gone.mp4", bytes.NewReader([]byte("x")), 0)
	require.NoError(t, err)

	require.NoError(t, fs.Remove("gone.mp4"))
	_, err = fs.Path("gone.mp4")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, fs.Remove("gone.mp4"))
	assert.ErrorIs(t, fs.Remove("../gone.mp4"), ErrInvalidName)
}

func TestDetectVideo(t *testing.T) {
	payload := append(append([]byte{}, mp4Header...), make([]byte, 8192)...)
	mt, rest, err := DetectVideo(bytes.NewReader(payload))
	require.NoError(t, err)
	assert.Equal(t, "video/mp4", mt)

	replayed, err := io.ReadAll(rest)
	require.NoError(t, err)
	assert.Equal(t, payload, replayed, "sniffed bytes are not lost")

	_, _, err = DetectVideo(bytes.NewReader([]byte("just some text, not a video")))
	assert.ErrorIs(t, err, ErrNotVideo)

	_, _, err = DetectVideo(bytes.NewReader(nil))
	assert.ErrorIs(t, err, ErrEmpty)
}
