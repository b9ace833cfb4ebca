package guide

import "io"

// Encryptor protects captured documents at rest. Guides scan passports and
// signed waivers in the field; the spool holds ciphertext only, encrypted
// with the public key so capture never needs the passphrase. The private
// key stays with the operations team, not on the device.
type Encryptor interface {
	// Setup performs one-time key generation. Called during `config init`.
	// Generates a key pair, stores the public key in plaintext, and
	// encrypts the private key with the provided passphrase.
	Setup(passphrase string) error

	// Encrypt encrypts data read from r and writes ciphertext to w.
	// Uses the public key only — no passphrase required.
	Encrypt(r io.Reader, w io.Writer) error

	// IsConfigured returns true if the key files exist at the configured
	// paths.
	IsConfigured() bool
}
