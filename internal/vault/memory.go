package vault

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"guidesync/internal/guide"
)

// MemoryVault is an in-memory implementation of the AttachmentVault
// interface, useful for tests. Safe for concurrent use.
type MemoryVault struct {
	name    string
	content map[string][]byte // checksum -> content
	mu      sync.RWMutex
}

// NewMemoryVault creates a new in-memory vault with the given name.
func NewMemoryVault(name string) *MemoryVault {
	return &MemoryVault{
		name:    name,
		content: make(map[string][]byte),
	}
}

// PutAttachment stores content identified by its checksum.
func (m *MemoryVault) PutAttachment(checksum string, r io.Reader, size int64) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read content: %w", err)
	}

	if int64(len(data)) != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, len(data))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Idempotent: storing the same checksum multiple times is safe
	m.content[checksum] = data
	return nil
}

// GetAttachment retrieves content by checksum.
func (m *MemoryVault) GetAttachment(checksum string, w io.Writer) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.content[checksum]
	if !ok {
		return fmt.Errorf("attachment not found: %s", checksum)
	}

	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write content: %w", err)
	}
	return nil
}

// Has reports whether content with the given checksum is stored.
// Test helper.
func (m *MemoryVault) Has(checksum string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.content[checksum]
	return ok
}

// ValidateSetup always succeeds for an in-memory vault.
func (m *MemoryVault) ValidateSetup() error {
	return nil
}

// Compile-time check that MemoryVault implements guide.AttachmentVault
var _ guide.AttachmentVault = (*MemoryVault)(nil)
