// Package config loads hirechat settings from a yaml file, HIRECHAT_*
// environment variables and an optional .env file, and validates the result
// against an embedded CUE schema.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/multierr"

	"github.com/roach88/hirechat/internal/chat"
)

// EnvPrefix prefixes every environment override, e.g. HIRECHAT_HUB_URL.
const EnvPrefix = "HIRECHAT"

// ErrInvalid is returned when the configuration does not match the schema.
var ErrInvalid = errors.New("invalid configuration")

//go:embed schema.cue
var schemaSource string

// Config is the full client configuration.
type Config struct {
	HubURL string `mapstructure:"hub_url" json:"hub_url"`
	APIURL string `mapstructure:"api_url" json:"api_url"`
	Token  string `mapstructure:"token" json:"token"`
	DB     string `mapstructure:"db" json:"db"`

	Viewer Viewer `mapstructure:"viewer" json:"viewer"`

	PageSize   int           `mapstructure:"page_size" json:"page_size"`
	DraftDelay time.Duration `mapstructure:"draft_delay" json:"draft_delay"`
	EditPolicy string        `mapstructure:"edit_policy" json:"edit_policy"`

	Reconnect Reconnect `mapstructure:"reconnect" json:"reconnect"`
	Telemetry Telemetry `mapstructure:"telemetry" json:"telemetry"`
}

// Viewer is the signed-in user. Empty fields are filled from the token.
type Viewer struct {
	ID     string `mapstructure:"id" json:"id"`
	Name   string `mapstructure:"name" json:"name"`
	Avatar string `mapstructure:"avatar" json:"avatar"`
}

// Reconnect configures the hub reconnect schedule.
type Reconnect struct {
	Initial     time.Duration `mapstructure:"initial" json:"initial"`
	Max         time.Duration `mapstructure:"max" json:"max"`
	MaxAttempts int           `mapstructure:"max_attempts" json:"max_attempts"`
}

// Telemetry configures metrics and trace export.
type Telemetry struct {
	MetricsAddr  string  `mapstructure:"metrics_addr" json:"metrics_addr"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint" json:"otlp_endpoint"`
	OTLPInsecure bool    `mapstructure:"otlp_insecure" json:"otlp_insecure"`
	SampleRatio  float64 `mapstructure:"sample_ratio" json:"sample_ratio"`
}

var defaults = map[string]any{
	"hub_url":                 "",
	"api_url":                 "",
	"token":                   "",
	"db":                      "hirechat.db",
	"viewer.id":               "",
	"viewer.name":             "",
	"viewer.avatar":           "",
	"page_size":               20,
	"draft_delay":             500 * time.Millisecond,
	"edit_policy":             "invalidate",
	"reconnect.initial":       time.Second,
	"reconnect.max":           30 * time.Second,
	"reconnect.max_attempts":  10,
	"telemetry.metrics_addr":  "",
	"telemetry.otlp_endpoint": "",
	"telemetry.otlp_insecure": false,
	"telemetry.sample_ratio":  0.0,
}

// LoadEnv loads .env style files into the process environment. Missing
// files are skipped and variables already set are kept.
func LoadEnv(files ...string) error {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// Load reads the configuration file at path, applies HIRECHAT_* environment
// overrides and validates the result. An empty path uses defaults and the
// environment only.
func Load(path string) (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if cfg.Token != "" && (cfg.Viewer.ID == "" || cfg.Viewer.Name == "") {
		id, err := IdentityFromToken(cfg.Token)
		if err != nil {
			return nil, err
		}
		cfg.Viewer.fill(id)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cfg against the embedded schema.
func Validate(cfg *Config) error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}

	value := schema.LookupPath(cue.ParsePath("#Config")).Unify(ctx.Encode(cfg))
	if err := value.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.TrimSpace(cueerrors.Details(err, nil)))
	}
	return nil
}

// RequireRemote reports every setting missing for talking to the server.
func (c *Config) RequireRemote() error {
	var err error
	for _, f := range []struct{ key, value string }{
		{"hub_url", c.HubURL},
		{"api_url", c.APIURL},
		{"token", c.Token},
		{"viewer.id", c.Viewer.ID},
	} {
		if f.value == "" {
			err = multierr.Append(err, fmt.Errorf("%s is not set", f.key))
		}
	}
	return err
}

// Participant returns the viewer as a chat participant.
func (c *Config) Participant() chat.Participant {
	return chat.Participant{ID: c.Viewer.ID, Name: c.Viewer.Name, Avatar: c.Viewer.Avatar}
}

func (v *Viewer) fill(p chat.Participant) {
	if v.ID == "" {
		v.ID = p.ID
	}
	if v.Name == "" {
		v.Name = p.Name
	}
	if v.Avatar == "" {
		v.Avatar = p.Avatar
	}
}
