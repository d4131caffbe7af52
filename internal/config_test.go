package internal

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	pkgconfig "github.com/starford/skillnotes/pkg/config"
)

const testKey = "0123456789abcdef0123"

func validConfig() *Config {
	cfg := NewDefaultConfig()
	cfg.Auth.Local.SigningKey = testKey
	cfg.Storage.FS.SigningKey = testKey
	return cfg
}

func TestDefaultConfig_NeedsSigningKeys(t *testing.T) {
	err := NewDefaultConfig().Validate()
	if err == nil {
		t.Fatal("default config without signing keys should fail")
	}
	if !strings.Contains(err.Error(), "signing_key") {
		t.Errorf("unexpected error: %v", err)
	}
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("default config with keys should pass: %v", err)
	}
}

func TestAuthConfig_EmptyProviderDefaultsLocal(t *testing.T) {
	cfg := validConfig()
	cfg.Auth.Provider = ""
	if err := cfg.Auth.Validate(); err != nil {
		t.Fatalf("empty provider should default to local: %v", err)
	}
	if cfg.Auth.Provider != AuthLocal {
		t.Errorf("provider = %q, want %q", cfg.Auth.Provider, AuthLocal)
	}
}

func TestAuthConfig_RemoteNeedsURL(t *testing.T) {
	cfg := AuthConfig{Provider: AuthRemote, CredentialFile: "c.yaml"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("remote provider without url should fail")
	}
	cfg.Remote.URL = "https://auth.example.com"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("remote provider with url should pass: %v", err)
	}
}

func TestAuthConfig_InvalidProvider(t *testing.T) {
	cfg := AuthConfig{Provider: "magic", CredentialFile: "c.yaml"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("invalid provider should fail validation")
	}
}

func TestAuthConfig_UsersAreValidated(t *testing.T) {
	cfg := validConfig()
	cfg.Auth.Local.Users = []UserConfig{{ID: "u1", Email: "not-an-email", PasswordHash: "x"}}
	if err := cfg.Validate(); err == nil {
		t.Fatal("malformed user email should fail")
	}
	cfg.Auth.Local.Users[0].Email = "ada@example.com"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("valid user should pass: %v", err)
	}
}

func TestStorageConfig_Backends(t *testing.T) {
	cfg := validConfig()
	cfg.Storage.Backend = StorageRemote
	if err := cfg.Validate(); err == nil {
		t.Fatal("remote storage without url and bucket should fail")
	}
	cfg.Storage.Remote = RemoteStorageConfig{URL: "https://project.supabase.co", Bucket: "notes"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("remote storage should pass: %v", err)
	}

	cfg.Storage.MaxFileSize = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("zero max file size should fail")
	}
}

func TestFileWatchNeedsSQLite(t *testing.T) {
	cfg := validConfig()
	cfg.Records = RecordsConfig{Backend: RecordsAPI, API: RecordsAPIConfig{URL: "https://api.example.com"}}
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), PushFileWatch) {
		t.Fatalf("filewatch over api records should fail, got %v", err)
	}
	cfg.Push.Backend = PushNone
	if err := cfg.Validate(); err != nil {
		t.Fatalf("api records without push should pass: %v", err)
	}
}

func TestPushConfig_WebSocketNeedsURL(t *testing.T) {
	cfg := PushConfig{Backend: PushWebSocket}
	if err := cfg.Validate(); err == nil {
		t.Fatal("websocket without url should fail")
	}
	cfg = PushConfig{}
	if err := cfg.Validate(); err != nil || cfg.Backend != PushNone {
		t.Fatalf("empty backend should default to none: %v %q", err, cfg.Backend)
	}
}

func TestCacheConfig_ListLimitCapped(t *testing.T) {
	cfg := CacheConfig{ListLimit: 500}
	if err := cfg.Validate(); err == nil {
		t.Fatal("list limit above the record store cap should fail")
	}
}

func TestLoadYAMLWithEnv(t *testing.T) {
	t.Setenv("TEST_SIGNING_KEY", testKey)
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
app:
  log_level: debug
  http:
    port: 9090
auth:
  local:
    signing_key: ${TEST_SIGNING_KEY}
    token_ttl: 30m
storage:
  fs:
    signing_key: ${TEST_SIGNING_KEY}
cache:
  stale_time: 5m
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg := NewDefaultConfig()
	if err := pkgconfig.Load(path, cfg); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.App.HTTP.Port != 9090 || cfg.Auth.Local.SigningKey != testKey {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.Auth.Local.TokenTTL != 30*time.Minute || cfg.Cache.StaleTime != 5*time.Minute {
		t.Errorf("durations = %v %v", cfg.Auth.Local.TokenTTL, cfg.Cache.StaleTime)
	}
	if cfg.Records.Backend != RecordsSQLite {
		t.Errorf("defaults lost: %+v", cfg.Records)
	}
}
