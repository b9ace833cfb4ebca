package vault

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"guidesync/internal/guide"
)

// FileSpool is the on-disk holding area for captured document content
// between capture and a successful upload. Files are named by SHA-256
// checksum, computed while writing, so redelivery is idempotent and a
// duplicate capture deduplicates for free.
type FileSpool struct {
	dir string
	mu  sync.Mutex
}

// NewFileSpool creates a spool rooted at dir.
func NewFileSpool(dir string) (*FileSpool, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("creating spool directory: %w", err)
	}
	return &FileSpool{dir: dir}, nil
}

// StoreContent reads r to the end, hashing as it writes, then renames the
// temp file to its checksum. Returns the checksum and size.
func (s *FileSpool) StoreContent(r io.Reader) (string, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := os.CreateTemp(s.dir, ".spool-*")
	if err != nil {
		return "", 0, fmt.Errorf("creating spool file: %w", err)
	}
	tmpPath := tmp.Name()

	hasher := sha256.New()
	size, err := io.Copy(io.MultiWriter(tmp, hasher), r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmpPath)
		return "", 0, fmt.Errorf("writing spool content: %w", err)
	}

	checksum := hex.EncodeToString(hasher.Sum(nil))
	destPath := filepath.Join(s.dir, checksum)

	if _, err := os.Stat(destPath); err == nil {
		// Identical content already spooled.
		os.Remove(tmpPath)
		return checksum, size, nil
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		os.Remove(tmpPath)
		return "", 0, fmt.Errorf("finalizing spool content: %w", err)
	}
	return checksum, size, nil
}

// OpenContent returns a reader for spooled content.
func (s *FileSpool) OpenContent(checksum string) (io.ReadCloser, error) {
	f, err := os.Open(filepath.Join(s.dir, checksum))
	if err != nil {
		return nil, fmt.Errorf("spooled content not found: %s", checksum)
	}
	return f, nil
}

// RemoveContent removes spooled content by checksum (best-effort).
func (s *FileSpool) RemoveContent(checksum string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	os.Remove(filepath.Join(s.dir, checksum))
}

// MemorySpool is an in-memory Spool for tests.
type MemorySpool struct {
	mu      sync.Mutex
	content map[string][]byte
}

// NewMemorySpool creates an empty in-memory spool.
func NewMemorySpool() *MemorySpool {
	return &MemorySpool{content: make(map[string][]byte)}
}

func (s *MemorySpool) StoreContent(r io.Reader) (string, int64, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", 0, fmt.Errorf("reading content: %w", err)
	}
	sum := sha256.Sum256(data)
	checksum := hex.EncodeToString(sum[:])

	s.mu.Lock()
	defer s.mu.Unlock()
	s.content[checksum] = data
	return checksum, int64(len(data)), nil
}

func (s *MemorySpool) OpenContent(checksum string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.content[checksum]
	if !ok {
		return nil, fmt.Errorf("spooled content not found: %s", checksum)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *MemorySpool) RemoveContent(checksum string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.content, checksum)
}

// Has reports whether content is spooled. Test helper.
func (s *MemorySpool) Has(checksum string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.content[checksum]
	return ok
}

// Compile-time checks against the core interface
var (
	_ guide.Spool = (*FileSpool)(nil)
	_ guide.Spool = (*MemorySpool)(nil)
)
