package encryption

import (
	"fmt"

	"guidesync/internal/config"
	"guidesync/internal/guide"
)

// NewEncryptorFromConfig creates an Encryptor based on configuration.
// Type "off" returns nil: documents are spooled in plaintext.
func NewEncryptorFromConfig(cfg config.EncryptionConfig) (guide.Encryptor, error) {
	switch cfg.Type {
	case "age", "":
		return NewAgeEncryptor(cfg), nil
	case "test":
		e := NewTestEncryptor()
		e.configured = true
		return e, nil
	case "off":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown encryption type: %s", cfg.Type)
	}
}
