package internal

import (
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
)

// Storage modes.
const (
	StorageModeLocal  = "local"
	StorageModeRemote = "remote"
)

// Config represents the application configuration.
type Config struct {
	App        ApplicationConfig `yaml:"app"`
	Storage    StorageConfig     `yaml:"storage"`
	Remote     RemoteConfig      `yaml:"remote"`
	Capture    CaptureConfig     `yaml:"capture"`
	Server     ServerConfig      `yaml:"server"`
	Transcribe TranscribeConfig  `yaml:"transcribe"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Storage.Validate(); err != nil {
		return err
	}
	if c.Storage.Mode == StorageModeRemote {
		if err := c.Remote.Validate(); err != nil {
			return err
		}
	}
	if err := c.Capture.Validate(); err != nil {
		return err
	}
	if err := c.Server.Validate(); err != nil {
		return err
	}
	return c.Transcribe.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	StateDir string     `yaml:"state_dir"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.StateDir, validation.Required),
	)
}

// StorageConfig selects the authoritative note store.
//
// Mode controls where notes live:
//   - "local": notes are kept in a SQLite database with audio blobs on disk;
//     the local store is authoritative.
//   - "remote": the remote collaborator is the sole source of truth and the
//     client keeps only a read cache.
type StorageConfig struct {
	Mode       string `yaml:"mode"`
	SQLitePath string `yaml:"sqlite_path"`
	BlobDir    string `yaml:"blob_dir"`
}

// Validate validates the storage configuration.
func (c *StorageConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = StorageModeLocal
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(StorageModeLocal, StorageModeRemote)),
	); err != nil {
		return err
	}
	if c.Mode == StorageModeLocal && (c.SQLitePath == "" || c.BlobDir == "") {
		return fmt.Errorf("storage: mode is %q but sqlite_path or blob_dir is empty", StorageModeLocal)
	}
	return nil
}

// RemoteConfig holds the remote collaborator endpoint.
type RemoteConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// Validate validates the remote configuration.
func (c *RemoteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.BaseURL, validation.Required, is.URL),
	)
}

// CaptureConfig holds audio capture settings.
type CaptureConfig struct {
	ChunkInterval time.Duration `yaml:"chunk_interval"`
	ChunkSize     int           `yaml:"chunk_size"`
	MIMEType      string        `yaml:"mime_type"`
}

// Validate validates the capture configuration. The chunk cadence is capped
// at 100ms so the session never buffers large gaps of audio in one fragment.
func (c *CaptureConfig) Validate() error {
	if c.ChunkInterval <= 0 {
		c.ChunkInterval = 100 * time.Millisecond
	}
	if c.ChunkInterval > 100*time.Millisecond {
		return fmt.Errorf("capture: chunk_interval %s exceeds 100ms", c.ChunkInterval)
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = 4096
	}
	if c.MIMEType == "" {
		c.MIMEType = "audio/wav"
	}
	return nil
}

// ServerConfig holds the dev backend configuration (serve mode).
type ServerConfig struct {
	Port      int           `yaml:"port"`
	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
}

// Address returns the HTTP listen address.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the server configuration.
func (c *ServerConfig) Validate() error {
	if c.Port == 0 {
		c.Port = 8000
	}
	if c.TokenTTL <= 0 {
		c.TokenTTL = 30 * time.Minute
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// TranscribeConfig holds the optional whisper-style transcription endpoint
// used in local mode. When BaseURL is empty, transcription is disabled.
type TranscribeConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
}

// Validate validates the transcription configuration.
func (c *TranscribeConfig) Validate() error {
	if c.BaseURL == "" {
		return nil
	}
	if c.Model == "" {
		c.Model = "whisper-1"
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.BaseURL, is.URL),
	)
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			StateDir: "./state",
		},
		Storage: StorageConfig{
			Mode:       StorageModeLocal,
			SQLitePath: "./ansuz.db",
			BlobDir:    "./audio",
		},
		Remote: RemoteConfig{
			BaseURL: "http://localhost:8000",
			Timeout: 30 * time.Second,
		},
		Capture: CaptureConfig{
			ChunkInterval: 100 * time.Millisecond,
			ChunkSize:     4096,
			MIMEType:      "audio/wav",
		},
		Server: ServerConfig{
			Port:     8000,
			TokenTTL: 30 * time.Minute,
		},
	}
}
