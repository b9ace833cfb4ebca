package guide

import "io"

// AttachmentVault is the remote destination for captured document content.
// All operations stream through io.Reader/io.Writer so large scans never
// load entirely into memory.
type AttachmentVault interface {
	// PutAttachment stores content identified by its checksum.
	// Idempotent: storing the same checksum twice is safe, which makes
	// at-least-once redelivery of document mutations harmless.
	// size is the number of bytes that will be read from r.
	PutAttachment(checksum string, r io.Reader, size int64) error

	// GetAttachment retrieves content by checksum and writes it to w.
	GetAttachment(checksum string, w io.Writer) error

	// ValidateSetup verifies the vault is accessible and configured.
	ValidateSetup() error
}

// Spool is the local holding area for captured document content between
// capture and a successful upload. Content is addressed by SHA-256
// checksum, computed while storing.
type Spool interface {
	// StoreContent reads r to the end, computes the SHA-256 checksum, and
	// stores the content under it. Returns the checksum and size.
	StoreContent(r io.Reader) (checksum string, size int64, err error)

	// OpenContent returns a reader for spooled content.
	OpenContent(checksum string) (io.ReadCloser, error)

	// RemoveContent removes spooled content by checksum (best-effort,
	// called after the vault has acknowledged the upload).
	RemoveContent(checksum string)
}
