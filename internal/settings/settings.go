package settings

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rudderlabs/rudder-go-kit/config"

	"folderpull/internal/jobstore"
)

const (
	DefaultPath      = "folderpull.settings.json"
	EnvPrefix        = "FOLDERPULL"
	DefaultOutDir    = "downloads"
	DefaultChunkKB   = 256
	DefaultReadSecs  = 60
	DefaultFetchSecs = 120

	schemaVersion = 1
)

type Settings struct {
	SchemaVersion       int    `json:"schema_version"`
	UpdatedAt           string `json:"updated_at,omitempty"`
	ServerURL           string `json:"server_url,omitempty"`
	Session             string `json:"session,omitempty"`
	OutDir              string `json:"out_dir,omitempty"`
	Bucket              string `json:"bucket,omitempty"`
	Prefix              string `json:"prefix,omitempty"`
	ChunkSizeKB         int    `json:"chunk_size_kb,omitempty"`
	ReadTimeoutSeconds  int    `json:"read_timeout_seconds,omitempty"`
	FetchTimeoutSeconds int    `json:"fetch_timeout_seconds,omitempty"`
}

// Runtime is the effective configuration after environment overrides.
type Runtime struct {
	ServerURL    string
	Session      string
	OutDir       string
	Bucket       string
	Prefix       string
	ChunkSize    int
	ReadTimeout  time.Duration
	FetchTimeout time.Duration
}

type UpdateResult struct {
	Path     string   `json:"path"`
	Settings Settings `json:"settings"`
}

func Defaults() Settings {
	return Settings{
		SchemaVersion:       schemaVersion,
		OutDir:              DefaultOutDir,
		ChunkSizeKB:         DefaultChunkKB,
		ReadTimeoutSeconds:  DefaultReadSecs,
		FetchTimeoutSeconds: DefaultFetchSecs,
	}
}

func Normalize(raw Settings) Settings {
	norm := raw
	norm.SchemaVersion = schemaVersion
	norm.ServerURL = strings.TrimRight(strings.TrimSpace(norm.ServerURL), "/")
	norm.Session = strings.TrimSpace(norm.Session)
	norm.OutDir = strings.TrimSpace(norm.OutDir)
	if norm.OutDir == "" {
		norm.OutDir = DefaultOutDir
	}
	norm.Bucket = strings.TrimSpace(norm.Bucket)
	norm.Prefix = strings.Trim(strings.TrimSpace(norm.Prefix), "/")
	if norm.ChunkSizeKB <= 0 {
		norm.ChunkSizeKB = DefaultChunkKB
	}
	if norm.ReadTimeoutSeconds <= 0 {
		norm.ReadTimeoutSeconds = DefaultReadSecs
	}
	if norm.FetchTimeoutSeconds <= 0 {
		norm.FetchTimeoutSeconds = DefaultFetchSecs
	}
	return norm
}

func normalizePath(path string) string {
	p := strings.TrimSpace(path)
	if p == "" {
		return DefaultPath
	}
	return p
}

// Read returns the stored settings, or the defaults when the file does not
// exist yet.
func Read(path string) (Settings, error) {
	p := normalizePath(path)
	var s Settings
	if err := jobstore.ReadJSON(p, &s); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Defaults(), nil
		}
		return Settings{}, err
	}
	if s.SchemaVersion > schemaVersion {
		return Settings{}, fmt.Errorf("unsupported settings schema version %d in %s", s.SchemaVersion, p)
	}
	return Normalize(s), nil
}

func Update(path string, s Settings) (UpdateResult, error) {
	p := normalizePath(path)
	norm := Normalize(s)
	norm.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	if dir := filepath.Dir(p); dir != "." {
		if err := jobstore.Mkdir(dir); err != nil {
			return UpdateResult{}, err
		}
	}
	// The file carries the session cookie.
	if err := jobstore.WritePrivateJSON(p, norm); err != nil {
		return UpdateResult{}, err
	}
	return UpdateResult{Path: p, Settings: norm}, nil
}

// NewConfig returns a config that reads FOLDERPULL_* environment variables.
func NewConfig() *config.Config {
	return config.New(config.WithEnvPrefix(EnvPrefix))
}

// Resolve layers environment values from conf over the stored settings.
func Resolve(conf *config.Config, s Settings) Runtime {
	norm := Normalize(s)
	rt := Runtime{
		ServerURL:    conf.GetString("Server.url", norm.ServerURL),
		Session:      conf.GetString("session", norm.Session),
		OutDir:       conf.GetString("outDir", norm.OutDir),
		Bucket:       conf.GetString("bucket", norm.Bucket),
		Prefix:       conf.GetString("prefix", norm.Prefix),
		ChunkSize:    conf.GetInt("Transfer.chunkSizeKB", norm.ChunkSizeKB) * 1024,
		ReadTimeout:  conf.GetDuration("Transfer.readTimeout", int64(norm.ReadTimeoutSeconds), time.Second),
		FetchTimeout: conf.GetDuration("Manifest.fetchTimeout", int64(norm.FetchTimeoutSeconds), time.Second),
	}
	rt.ServerURL = strings.TrimRight(strings.TrimSpace(rt.ServerURL), "/")
	if rt.ChunkSize <= 0 {
		rt.ChunkSize = DefaultChunkKB * 1024
	}
	if rt.ReadTimeout <= 0 {
		rt.ReadTimeout = DefaultReadSecs * time.Second
	}
	if rt.FetchTimeout <= 0 {
		rt.FetchTimeout = DefaultFetchSecs * time.Second
	}
	return rt
}

// EnvName is the environment variable consulted for a config key.
func EnvName(key string) string {
	return config.ConfigKeyToEnv(EnvPrefix, key)
}
