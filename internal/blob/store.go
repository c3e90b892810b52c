package blob

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ErrNotFound is returned by OpenRead when no blob exists at the path.
var ErrNotFound = errors.New("blob not found")

// StoredBlob describes where content landed and whether the write was
// a first occurrence or a deduplicated hit.
type StoredBlob struct {
	Path   string
	Digest string
	Size   int64
	IsNew  bool
}

// Store is a content-addressed, deduplicating blob store. Identical
// bytes always resolve to the same path, which makes repeated syncs of
// the same attachment idempotent. Writes are safe under concurrent
// writers without locking: a digest collision with differing content
// falls back to a uniquely-suffixed path instead of touching the
// existing file.
type Store struct {
	root string
}

// NewStore creates the root directory if needed.
func NewStore(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create blob root: %w", err)
	}
	return &Store{root: root}, nil
}

// Root returns the store's base directory.
func (s *Store) Root() string { return s.root }

// Store writes data keyed by its SHA-256 digest. The path is sharded by
// the first two digest bytes and keeps the original file extension. An
// existing file of equal size is treated as a duplicate and reused;
// unequal size (a genuine digest collision) diverts the write to a
// random-suffixed sibling so nothing is ever overwritten.
func (s *Store) Store(name, contentType string, data []byte) (StoredBlob, error) {
	sum := sha256.Sum256(data)
	digest := hex.EncodeToString(sum[:])

	path := s.pathFor(digest, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return StoredBlob{}, fmt.Errorf("failed to create shard dir: %w", err)
	}

	if info, err := os.Stat(path); err == nil {
		if info.Size() == int64(len(data)) {
			return StoredBlob{Path: path, Digest: digest, Size: info.Size(), IsNew: false}, nil
		}
		// Same digest, different size: isolate under a suffixed path.
		alt := suffixedPath(path, uuid.NewString()[:8])
		logrus.WithFields(logrus.Fields{
			"digest": digest,
			"path":   alt,
		}).Warn("Digest collision with differing size, writing to alternate path")
		if err := writeFileAtomic(alt, data); err != nil {
			return StoredBlob{}, err
		}
		return StoredBlob{Path: alt, Digest: digest, Size: int64(len(data)), IsNew: true}, nil
	}

	if err := writeFileAtomic(path, data); err != nil {
		return StoredBlob{}, err
	}
	return StoredBlob{Path: path, Digest: digest, Size: int64(len(data)), IsNew: true}, nil
}

// OpenRead opens a stored blob for reading.
func (s *Store) OpenRead(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("failed to open blob: %w", err)
	}
	return f, nil
}

// Delete removes a stored blob. Absent paths are a no-op.
func (s *Store) Delete(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete blob: %w", err)
	}
	return nil
}

// pathFor derives root/ab/cd/<digest>.<ext> from the digest and the
// original filename's extension.
func (s *Store) pathFor(digest, name string) string {
	filename := digest
	if ext := sanitizeExt(filepath.Ext(name)); ext != "" {
		filename += ext
	}
	return filepath.Join(s.root, digest[:2], digest[2:4], filename)
}

func suffixedPath(path, suffix string) string {
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(path, ext)
	return base + "_" + suffix + ext
}

// sanitizeExt drops extensions that would not survive as a filesystem
// path component.
func sanitizeExt(ext string) string {
	if ext == "" || len(ext) > 12 {
		return ""
	}
	for _, r := range ext[1:] {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return ""
		}
	}
	return strings.ToLower(ext)
}

// writeFileAtomic writes via a temp file and rename so a crashed write
// never leaves a half-written blob at the final path.
func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp-" + uuid.NewString()[:8]
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write blob: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to finalize blob: %w", err)
	}
	return nil
}
