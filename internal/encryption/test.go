package encryption

import (
	"io"

	"guidesync/internal/guide"
)

var testHeader = []byte("GSENC\x00\x00\x00")

// TestEncryptor is a fake encryptor for testing. It prepends a fixed
// header to the content instead of encrypting it.
type TestEncryptor struct {
	configured bool
}

var _ guide.Encryptor = (*TestEncryptor)(nil)

func NewTestEncryptor() *TestEncryptor {
	return &TestEncryptor{}
}

func (e *TestEncryptor) Setup(passphrase string) error {
	e.configured = true
	return nil
}

func (e *TestEncryptor) Encrypt(r io.Reader, w io.Writer) error {
	if _, err := w.Write(testHeader); err != nil {
		return err
	}
	_, err := io.Copy(w, r)
	return err
}

func (e *TestEncryptor) IsConfigured() bool {
	return e.configured
}
