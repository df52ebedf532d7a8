// Package config loads the gateway configuration.
//
// The file is YAML. It is checked against an embedded CUE schema, which
// also supplies the defaults of every key the file leaves out. Unknown keys
// are rejected.
package config

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"

	"github.com/truenicoco/slidge-sub000/internal/model"
	"github.com/truenicoco/slidge-sub000/internal/session"
	"github.com/truenicoco/slidge-sub000/internal/store"
)

//go:embed schema.cue
var schemaSource string

// Config is the validated gateway configuration.
type Config struct {
	JID        string
	Database   string
	Archive    Archive
	Registry   Registry
	Correlator Correlator
	Log        Log
}

// Archive configures message history.
type Archive struct {
	MaxDays       int
	PruneInterval time.Duration
	Stable        bool
	MaxPage       int
}

// Retention returns how long history is kept, or 0 when it is kept forever.
func (a Archive) Retention() time.Duration {
	return time.Duration(a.MaxDays) * 24 * time.Hour
}

// Registry configures entity resolution.
type Registry struct {
	ResolveTimeout time.Duration
}

// Correlator configures message id correlation.
type Correlator struct {
	CacheSize int
}

// Log configures the process logger.
type Log struct {
	Level  slog.Level
	Format string
}

// fileConfig mirrors the schema; CUE decodes through json tags.
type fileConfig struct {
	JID      string `json:"jid"`
	Database string `json:"database"`
	Archive  struct {
		MaxDays       int    `json:"max_days"`
		PruneInterval string `json:"prune_interval"`
		Stable        bool   `json:"stable"`
		MaxPage       int    `json:"max_page"`
	} `json:"archive"`
	Registry struct {
		ResolveTimeout string `json:"resolve_timeout"`
	} `json:"registry"`
	Correlator struct {
		CacheSize int `json:"cache_size"`
	} `json:"correlator"`
	Log struct {
		Level  string `json:"level"`
		Format string `json:"format"`
	} `json:"log"`
}

// Default returns the configuration of an empty file.
func Default() Config {
	cfg, err := Parse(nil)
	if err != nil {
		panic(fmt.Sprintf("config: embedded schema defaults are invalid: %v", err))
	}
	return cfg
}

// Load reads and parses a configuration file. An empty path yields Default().
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse validates YAML data against the schema and applies defaults.
func Parse(data []byte) (Config, error) {
	raw := map[string]any{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Config{}, invalid("malformed YAML", err)
	}
	if raw == nil {
		raw = map[string]any{}
	}

	cctx := cuecontext.New()
	schema := cctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return Config{}, fmt.Errorf("compile config schema: %w", err)
	}

	value := schema.LookupPath(cue.ParsePath("#Config")).Unify(cctx.Encode(raw))
	if err := value.Validate(cue.Concrete(true)); err != nil {
		return Config{}, invalid("configuration does not match schema", err)
	}

	var fc fileConfig
	if err := value.Decode(&fc); err != nil {
		return Config{}, invalid("cannot decode configuration", err)
	}
	return fc.resolve()
}

func (fc fileConfig) resolve() (Config, error) {
	pruneInterval, err := time.ParseDuration(fc.Archive.PruneInterval)
	if err != nil {
		return Config{}, invalid("archive.prune_interval", err)
	}
	resolveTimeout, err := time.ParseDuration(fc.Registry.ResolveTimeout)
	if err != nil {
		return Config{}, invalid("registry.resolve_timeout", err)
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(fc.Log.Level)); err != nil {
		return Config{}, invalid("log.level", err)
	}

	return Config{
		JID:      fc.JID,
		Database: fc.Database,
		Archive: Archive{
			MaxDays:       fc.Archive.MaxDays,
			PruneInterval: pruneInterval,
			Stable:        fc.Archive.Stable,
			MaxPage:       fc.Archive.MaxPage,
		},
		Registry:   Registry{ResolveTimeout: resolveTimeout},
		Correlator: Correlator{CacheSize: fc.Correlator.CacheSize},
		Log:        Log{Level: level, Format: fc.Log.Format},
	}, nil
}

func invalid(msg string, err error) error {
	return &model.Error{Code: model.ErrCodeValidation, Message: msg, Err: err}
}

// StoreOptions returns the store options implied by the configuration.
func (c Config) StoreOptions() []store.Option {
	return []store.Option{store.WithStableArchive(c.Archive.Stable)}
}

// Session returns the settings of one user's session.
func (c Config) Session(sessionID, ownerLegacyID string) session.Config {
	return session.Config{
		SessionID:      sessionID,
		OwnerLegacyID:  ownerLegacyID,
		ResolveTimeout: c.Registry.ResolveTimeout,
		CacheSize:      c.Correlator.CacheSize,
		Retention:      c.Archive.Retention(),
		PruneInterval:  c.Archive.PruneInterval,
		MaxPage:        c.Archive.MaxPage,
	}
}
