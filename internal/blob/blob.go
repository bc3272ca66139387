// ABOUTME: Content-addressed local-directory storage for attachment bytes
// ABOUTME: Streams uploads to disk while hashing, retrieves by attachment id

package blob

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// ErrNotFound is returned when no attachment exists for an id.
var ErrNotFound = errors.New("attachment not found")

// Meta describes one stored attachment.
type Meta struct {
	ID        string
	Filename  string
	SHA256    string
	SizeBytes int64
	CreatedAt time.Time
	Path      string
}

// Store keeps attachment bytes in a local directory, one file per
// attachment named <id>__<filename>. It holds bytes only; messages
// reference attachments by id.
type Store struct {
	baseDir string
	logger  *slog.Logger
}

// NewStore creates the base directory if needed and returns a Store.
func NewStore(baseDir string) (*Store, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating attachments directory: %w", err)
	}
	return &Store{
		baseDir: baseDir,
		logger:  slog.Default().With("component", "blob"),
	}, nil
}

// Save streams r to disk under the given id, hashing as it writes.
func (s *Store) Save(id, filename string, r io.Reader) (*Meta, error) {
	filename = filepath.Base(filename)
	if filename == "." || filename == string(filepath.Separator) {
		filename = "file"
	}

	path := filepath.Join(s.baseDir, id+"__"+filename)
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating attachment file: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	size, err := io.Copy(io.MultiWriter(f, h), r)
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("writing attachment: %w", err)
	}

	meta := &Meta{
		ID:        id,
		Filename:  filename,
		SHA256:    hex.EncodeToString(h.Sum(nil)),
		SizeBytes: size,
		CreatedAt: time.Now().UTC().Truncate(time.Second),
		Path:      path,
	}
	s.logger.Debug("attachment stored", "id", id, "size_bytes", size)
	return meta, nil
}

// Open returns a reader over the bytes of the attachment with the
// given id, plus its original filename.
func (s *Store) Open(id string) (io.ReadCloser, string, error) {
	matches, err := filepath.Glob(filepath.Join(s.baseDir, id+"__*"))
	if err != nil {
		return nil, "", fmt.Errorf("locating attachment: %w", err)
	}
	if len(matches) == 0 {
		return nil, "", ErrNotFound
	}

	f, err := os.Open(matches[0])
	if err != nil {
		return nil, "", fmt.Errorf("opening attachment: %w", err)
	}
	filename := filepath.Base(matches[0])[len(id)+2:]
	return f, filename, nil
}
