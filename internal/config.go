package internal

import (
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"

	"github.com/starford/skillnotes/internal/publish"
	"github.com/starford/skillnotes/internal/recordstore"
)

// Backend names.
const (
	AuthLocal  = "local"
	AuthRemote = "remote"

	StorageFS     = "fs"
	StorageRemote = "remote"

	RecordsSQLite = "sqlite"
	RecordsAPI    = "api"

	PushFileWatch = "filewatch"
	PushWebSocket = "websocket"
	PushNone      = "none"
)

// Config represents the application configuration.
type Config struct {
	App     ApplicationConfig `yaml:"app"`
	Auth    AuthConfig        `yaml:"auth"`
	Storage StorageConfig     `yaml:"storage"`
	Records RecordsConfig     `yaml:"records"`
	Push    PushConfig        `yaml:"push"`
	Cache   CacheConfig       `yaml:"cache"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return fmt.Errorf("app: %w", err)
	}
	if err := c.Auth.Validate(); err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	if err := c.Records.Validate(); err != nil {
		return fmt.Errorf("records: %w", err)
	}
	if err := c.Push.Validate(); err != nil {
		return fmt.Errorf("push: %w", err)
	}
	if c.Push.Backend == PushFileWatch && c.Records.Backend != RecordsSQLite {
		return fmt.Errorf("push: %s needs the %s record backend", PushFileWatch, RecordsSQLite)
	}
	if err := c.Cache.Validate(); err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	return nil
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// AuthConfig selects the identity provider and where the session is kept.
//
// Provider is either:
//   - "local": users listed in the file, HS256 tokens signed with SigningKey.
//   - "remote": a GoTrue-compatible auth server at Remote.URL.
type AuthConfig struct {
	Provider       string           `yaml:"provider"`
	CredentialFile string           `yaml:"credential_file"`
	RefreshMargin  time.Duration    `yaml:"refresh_margin"`
	Local          LocalAuthConfig  `yaml:"local"`
	Remote         RemoteAuthConfig `yaml:"remote"`
}

// LocalAuthConfig configures the built-in identity provider.
type LocalAuthConfig struct {
	SigningKey string        `yaml:"signing_key"`
	TokenTTL   time.Duration `yaml:"token_ttl"`
	Users      []UserConfig  `yaml:"users"`
}

// UserConfig is one local account. PasswordHash is a bcrypt hash.
type UserConfig struct {
	ID           string `yaml:"id"`
	Email        string `yaml:"email"`
	PasswordHash string `yaml:"password_hash"`
}

// Validate validates a local account.
func (c UserConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.ID, validation.Required),
		validation.Field(&c.Email, validation.Required, is.EmailFormat),
		validation.Field(&c.PasswordHash, validation.Required),
	)
}

// RemoteAuthConfig points at a remote auth server.
type RemoteAuthConfig struct {
	URL    string `yaml:"url"`
	APIKey string `yaml:"api_key"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Provider == "" {
		c.Provider = AuthLocal
	}
	local := c.Provider == AuthLocal
	remote := c.Provider == AuthRemote
	return validation.ValidateStruct(c,
		validation.Field(&c.Provider, validation.Required, validation.In(AuthLocal, AuthRemote)),
		validation.Field(&c.CredentialFile, validation.Required),
		validation.Field(&c.RefreshMargin, validation.Min(time.Duration(0))),
		validation.Field(&c.Local, validation.When(local, validation.By(func(any) error {
			return validation.ValidateStruct(&c.Local,
				validation.Field(&c.Local.SigningKey, validation.Required, validation.Length(16, 0)),
				validation.Field(&c.Local.TokenTTL, validation.Min(time.Minute)),
				validation.Field(&c.Local.Users),
			)
		}))),
		validation.Field(&c.Remote, validation.When(remote, validation.By(func(any) error {
			return validation.ValidateStruct(&c.Remote,
				validation.Field(&c.Remote.URL, validation.Required, is.URL),
			)
		}))),
	)
}

// StorageConfig selects where note binaries are stored.
type StorageConfig struct {
	Backend      string              `yaml:"backend"`
	FS           FSStorageConfig     `yaml:"fs"`
	Remote       RemoteStorageConfig `yaml:"remote"`
	ReferenceTTL time.Duration       `yaml:"reference_ttl"`
	MaxFileSize  int64               `yaml:"max_file_size"`
}

// FSStorageConfig keeps binaries on the local disk. References point at
// PublicURL and are signed with SigningKey.
type FSStorageConfig struct {
	Root       string `yaml:"root"`
	SigningKey string `yaml:"signing_key"`
	PublicURL  string `yaml:"public_url"`
}

// RemoteStorageConfig points at a Supabase-compatible storage API.
type RemoteStorageConfig struct {
	URL    string `yaml:"url"`
	Bucket string `yaml:"bucket"`
	APIKey string `yaml:"api_key"`
}

// Validate validates the storage configuration.
func (c *StorageConfig) Validate() error {
	fs := c.Backend == StorageFS
	remote := c.Backend == StorageRemote
	return validation.ValidateStruct(c,
		validation.Field(&c.Backend, validation.Required, validation.In(StorageFS, StorageRemote)),
		validation.Field(&c.ReferenceTTL, validation.Required, validation.Min(time.Minute)),
		validation.Field(&c.MaxFileSize, validation.Required, validation.Min(int64(1))),
		validation.Field(&c.FS, validation.When(fs, validation.By(func(any) error {
			return validation.ValidateStruct(&c.FS,
				validation.Field(&c.FS.Root, validation.Required),
				validation.Field(&c.FS.SigningKey, validation.Required, validation.Length(16, 0)),
				validation.Field(&c.FS.PublicURL, validation.Required, is.URL),
			)
		}))),
		validation.Field(&c.Remote, validation.When(remote, validation.By(func(any) error {
			return validation.ValidateStruct(&c.Remote,
				validation.Field(&c.Remote.URL, validation.Required, is.URL),
				validation.Field(&c.Remote.Bucket, validation.Required),
			)
		}))),
	)
}

// RecordsConfig selects how note metadata is stored: direct table access
// through SQLite or the notes backend API.
type RecordsConfig struct {
	Backend string           `yaml:"backend"`
	SQLite  SQLiteConfig     `yaml:"sqlite"`
	API     RecordsAPIConfig `yaml:"api"`
}

// SQLiteConfig holds SQLite database configuration.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// RecordsAPIConfig points at the notes backend.
type RecordsAPIConfig struct {
	URL string `yaml:"url"`
}

// Validate validates the records configuration.
func (c *RecordsConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Backend, validation.Required, validation.In(RecordsSQLite, RecordsAPI)),
		validation.Field(&c.SQLite, validation.When(c.Backend == RecordsSQLite, validation.By(func(any) error {
			return validation.ValidateStruct(&c.SQLite, validation.Field(&c.SQLite.Path, validation.Required))
		}))),
		validation.Field(&c.API, validation.When(c.Backend == RecordsAPI, validation.By(func(any) error {
			return validation.ValidateStruct(&c.API, validation.Field(&c.API.URL, validation.Required, is.URL))
		}))),
	)
}

// PushConfig selects the change notification channel.
type PushConfig struct {
	Backend   string          `yaml:"backend"`
	FileWatch FileWatchConfig `yaml:"filewatch"`
	WebSocket WebSocketConfig `yaml:"websocket"`
}

// FileWatchConfig watches the SQLite database for writes.
type FileWatchConfig struct {
	Debounce time.Duration `yaml:"debounce"`
}

// WebSocketConfig points at a realtime endpoint.
type WebSocketConfig struct {
	URL          string        `yaml:"url"`
	PingInterval time.Duration `yaml:"ping_interval"`
}

// Validate validates the push configuration.
func (c *PushConfig) Validate() error {
	if c.Backend == "" {
		c.Backend = PushNone
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.Backend, validation.Required, validation.In(PushFileWatch, PushWebSocket, PushNone)),
		validation.Field(&c.FileWatch, validation.By(func(any) error {
			return validation.ValidateStruct(&c.FileWatch,
				validation.Field(&c.FileWatch.Debounce, validation.Min(time.Duration(0))),
			)
		})),
		validation.Field(&c.WebSocket, validation.When(c.Backend == PushWebSocket, validation.By(func(any) error {
			return validation.ValidateStruct(&c.WebSocket,
				validation.Field(&c.WebSocket.URL, validation.Required),
				validation.Field(&c.WebSocket.PingInterval, validation.Min(time.Duration(0))),
			)
		}))),
	)
}

// CacheConfig tunes the read cache. A zero StaleTime means entries stay
// fresh until a change invalidates them.
type CacheConfig struct {
	StaleTime time.Duration `yaml:"stale_time"`
	ListLimit int           `yaml:"list_limit"`
}

// Validate validates the cache configuration.
func (c *CacheConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.StaleTime, validation.Min(time.Duration(0))),
		validation.Field(&c.ListLimit, validation.Required, validation.Min(1), validation.Max(recordstore.MaxLimit)),
	)
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Auth: AuthConfig{
			Provider:       AuthLocal,
			CredentialFile: "./data/credential.yaml",
			RefreshMargin:  time.Minute,
			Local: LocalAuthConfig{
				TokenTTL: time.Hour,
			},
		},
		Storage: StorageConfig{
			Backend: StorageFS,
			FS: FSStorageConfig{
				Root:      "./data/files",
				PublicURL: "http://localhost:8080",
			},
			ReferenceTTL: publish.DefaultReferenceTTL,
			MaxFileSize:  publish.DefaultMaxFileSize,
		},
		Records: RecordsConfig{
			Backend: RecordsSQLite,
			SQLite: SQLiteConfig{
				Path: "./data/skillnotes.db",
			},
		},
		Push: PushConfig{
			Backend: PushFileWatch,
			FileWatch: FileWatchConfig{
				Debounce: 200 * time.Millisecond,
			},
		},
		Cache: CacheConfig{
			ListLimit: recordstore.DefaultLimit,
		},
	}
}
