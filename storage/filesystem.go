package storage

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/oklog/ulid/v2"
)

var (
	ErrTooLarge    = errors.New("storage: file exceeds size limit")
	ErrNotFound    = errors.New("file not found")
	ErrInvalidName = errors.New("invalid filename")
	ErrNotVideo    = errors.New("file is not a recognized video")
	ErrEmpty       = errors.New("file is empty")
)

// FileStore keeps uploaded videos and artifacts in a flat directory on the local
// filesystem. Names are bare filenames so they can be served under /outputs/.
type FileStore struct {
	basePath string
}

// NewFileStore initializes a FileStore rooted at basePath.
func NewFileStore(basePath string) (*FileStore, error) {
	basePath = strings.TrimSpace(basePath)
	if basePath == "" {
		return nil, errors.New("storage: base path is required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("storage: ensure base path: %w", err)
	}
	return &FileStore{basePath: basePath}, nil
}

// BasePath returns the configured root directory.
func (s *FileStore) BasePath() string {
	if s == nil {
		return ""
	}
	return s.basePath
}

// ObjectName returns a unique, time ordered storage name for an uploaded file.
func ObjectName(filename string, now time.Time) string {
	id := ulid.MustNew(ulid.Timestamp(now), rand.Reader)
	return id.String() + "_" + safeName(filename)
}

// safeName keeps the base name and replaces anything outside [A-Za-z0-9._-].
func safeName(filename string) string {
	filename = strings.ReplaceAll(filename, "\\", "/")
	base := filepath.Base(filename)
	if base == "." || base == "/" || base == "" {
		return "video"
	}
	out := []rune(base)
	for i, r := range out {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
		default:
			out[i] = '_'
		}
	}
	return strings.TrimLeft(string(out), ".")
}

// Save writes r under name, refusing more than limit bytes (limit <= 0 disables
// the check). A partial file is never left behind.
func (s *FileStore) Save(ctx context.Context, name string, r io.Reader, limit int64) (int64, error) {
	if s == nil {
		return 0, errors.New("storage: no store configured")
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if filepath.Base(name) != name || name == "." || name == ".." {
		return 0, ErrInvalidName
	}

	tmp, err := os.CreateTemp(s.basePath, ".upload_*")
	if err != nil {
		return 0, fmt.Errorf("storage: create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	src := r
	if limit > 0 {
		src = &io.LimitedReader{R: r, N: limit + 1}
	}
	written, err := io.Copy(tmp, src)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return 0, fmt.Errorf("storage: write file: %w", err)
	}
	if limit > 0 && written > limit {
		return 0, ErrTooLarge
	}

	if err := os.Rename(tmp.Name(), filepath.Join(s.basePath, name)); err != nil {
		return 0, fmt.Errorf("storage: commit file: %w", err)
	}
	return written, nil
}

// Path resolves a bare filename to a file inside the store.
func (s *FileStore) Path(filename string) (string, error) {
	// Security: Prevent path traversal
	cleanFilename := filepath.Base(filename)
	if cleanFilename != filename || strings.HasPrefix(cleanFilename, ".") {
		return "", ErrInvalidName
	}

	fullPath := filepath.Join(s.basePath, cleanFilename)
	if _, err := os.Stat(fullPath); os.IsNotExist(err) {
		return "", ErrNotFound
	}
	return fullPath, nil
}

// Remove deletes a stored file. Removing a missing file is not an error.
func (s *FileStore) Remove(name string) error {
	if filepath.Base(name) != name {
		return ErrInvalidName
	}
	if err := os.Remove(filepath.Join(s.basePath, name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// sniffLen is how much of the payload mimetype needs to decide.
const sniffLen = 3072

// DetectVideo sniffs the media type at the head of r. The returned reader
// replays the sniffed bytes followed by the rest of r. Empty payloads yield
// ErrEmpty and non-video payloads ErrNotVideo.
func DetectVideo(r io.Reader) (string, io.Reader, error) {
	head := make([]byte, sniffLen)
	n, err := io.ReadFull(r, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", nil, fmt.Errorf("storage: read file head: %w", err)
	}
	head = head[:n]
	if n == 0 {
		return "", nil, ErrEmpty
	}
	rest := io.MultiReader(bytes.NewReader(head), r)

	mt := mimetype.Detect(head).String()
	if !strings.HasPrefix(mt, "video/") {
		return mt, rest, ErrNotVideo
	}
	return mt, rest, nil
}
