package vault

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"guidesync/internal/guide"
)

// FileSystemVault is a filesystem-based implementation of the
// AttachmentVault interface, used for development and for deployments
// where the "remote" vault is a mounted share. Content files are named by
// their SHA-256 checksum under <root>/content/.
type FileSystemVault struct {
	name       string
	root       string
	contentDir string
}

// NewFileSystemVault creates a new filesystem vault rooted at the given path.
func NewFileSystemVault(name, root string) (*FileSystemVault, error) {
	contentDir := filepath.Join(root, "content")
	if err := os.MkdirAll(contentDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create content directory: %w", err)
	}

	return &FileSystemVault{
		name:       name,
		root:       root,
		contentDir: contentDir,
	}, nil
}

// PutAttachment stores content identified by its checksum.
// Idempotent: if the checksum already exists, the reader is drained and
// verified against size but nothing is rewritten.
func (v *FileSystemVault) PutAttachment(checksum string, r io.Reader, size int64) error {
	destPath := filepath.Join(v.contentDir, checksum)

	if _, err := os.Stat(destPath); err == nil {
		written, err := io.Copy(io.Discard, r)
		if err != nil {
			return fmt.Errorf("failed to read content: %w", err)
		}
		if written != size {
			return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, written)
		}
		return nil
	}

	// Write to a temp file first, then rename, so a crash mid-write never
	// leaves a partial object under the final name.
	tmp, err := os.CreateTemp(v.contentDir, ".put-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	written, err := io.Copy(tmp, r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write content: %w", err)
	}
	if written != size {
		os.Remove(tmpPath)
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, written)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to finalize content: %w", err)
	}
	return nil
}

// GetAttachment retrieves content by checksum.
func (v *FileSystemVault) GetAttachment(checksum string, w io.Writer) error {
	f, err := os.Open(filepath.Join(v.contentDir, checksum))
	if err != nil {
		return fmt.Errorf("attachment not found: %s", checksum)
	}
	defer f.Close()

	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("failed to write content: %w", err)
	}
	return nil
}

// ValidateSetup verifies the vault directory is writable.
func (v *FileSystemVault) ValidateSetup() error {
	probe := filepath.Join(v.contentDir, ".probe")
	if err := os.WriteFile(probe, []byte("ok"), 0644); err != nil {
		return fmt.Errorf("vault root not writable: %w", err)
	}
	os.Remove(probe)
	return nil
}

// Compile-time check that FileSystemVault implements guide.AttachmentVault
var _ guide.AttachmentVault = (*FileSystemVault)(nil)
