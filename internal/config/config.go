package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for guidesync.
type Config struct {
	DeviceID     string             `toml:"device_id"`
	GuideID      string             `toml:"guide_id"`
	BaseDir      string             `toml:"base_dir"`
	LogDir       string             `toml:"log_dir"`
	Server       ServerConfig       `toml:"server"`
	Database     DatabaseConfig     `toml:"database"`
	Connectivity ConnectivityConfig `toml:"connectivity"`
	Vault        VaultConfig        `toml:"vault"`
	Encryption   EncryptionConfig   `toml:"encryption"`
	Sync         SyncConfig         `toml:"sync"`
}

// ServerConfig holds the sync endpoint settings.
type ServerConfig struct {
	BaseURL        string `toml:"base_url"`
	Token          string `toml:"token"`
	TimeoutSeconds int    `toml:"timeout_seconds"` // per-request bound; defaults to 30
}

// DatabaseConfig represents configuration for the local durable store.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type    string `toml:"type"`               // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// ConnectivityConfig represents configuration for the connectivity monitor.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type ConnectivityConfig struct {
	Type            string `toml:"type"`                       // "probe" or "manual"
	ProbeURL        string `toml:"probe_url,omitempty"`        // only used for type=probe; defaults to <server.base_url>/health
	IntervalSeconds int    `toml:"interval_seconds,omitempty"` // probe period; defaults to 30
}

// VaultConfig represents configuration for the attachment vault backend.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type VaultConfig struct {
	Type string `toml:"type"` // "memory", "s3", or "filesystem"
	Name string `toml:"name"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket          string `toml:"s3_bucket,omitempty"`
	S3Prefix          string `toml:"s3_prefix,omitempty"`
	S3Region          string `toml:"s3_region,omitempty"`
	S3AccessKeyID     string `toml:"s3_access_key_id,omitempty"` // static credentials; empty means the ambient AWS chain
	S3SecretAccessKey string `toml:"s3_secret_access_key,omitempty"`

	// FileSystem-specific fields (only used when Type == "filesystem")
	FSVaultRoot string `toml:"fs_vault_root,omitempty"`
}

// EncryptionConfig holds paths to the age key pair used to protect
// captured documents at rest.
type EncryptionConfig struct {
	Type          string `toml:"type"` // "age" (default), "test", or "off"
	PublicKeyPath string `toml:"public_key_path"`
	// The private key is never needed for capture; the path exists so
	// `config init` can write it for the operations team to take away.
	PrivateKeyPath string `toml:"private_key_path"`
}

// SyncConfig holds drain-loop and recorder policy knobs.
type SyncConfig struct {
	MaxDeadCycles     int64  `toml:"max_dead_cycles"`     // skipped cycles before dead-lettering; defaults to 10
	RetentionDays     int    `toml:"retention_days"`      // synced-mutation retention; defaults to 90
	LateGraceMinutes  int    `toml:"late_grace_minutes"`  // check-in grace after departure; defaults to 15
	LatePenaltyAmount int64  `toml:"late_penalty_amount"` // minor currency units applied when late
	SpoolDir          string `toml:"spool_dir,omitempty"` // document spool; defaults to <base_dir>/spool
}

// NewConfig creates a new Config with the provided values and default paths.
func NewConfig(deviceID, baseDir string) *Config {
	return &Config{
		DeviceID: deviceID,
		BaseDir:  baseDir,
		LogDir:   filepath.Join(baseDir, "log"),
		Database: DatabaseConfig{
			Type:    "sqlite",
			DataDir: filepath.Join(baseDir, "data"),
		},
		Connectivity: ConnectivityConfig{
			Type: "probe",
		},
		Vault: VaultConfig{
			Type:        "filesystem",
			Name:        "attachments",
			FSVaultRoot: filepath.Join(baseDir, "vault"),
		},
		Encryption: EncryptionConfig{
			PublicKeyPath:  filepath.Join(baseDir, "keys", "guidesync.pub"),
			PrivateKeyPath: filepath.Join(baseDir, "keys", "guidesync.key"),
		},
		Sync: SyncConfig{
			SpoolDir: filepath.Join(baseDir, "spool"),
		},
	}
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// writeToFile writes a Config to the specified file path.
// This is an internal helper and should not be exported.
func writeToFile(path string, cfg *Config) error {
	// Ensure the directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	// Check if config already exists
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
