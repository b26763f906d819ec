// Package config loads dicomfetch settings from defaults, an optional YAML
// file, DICOMFETCH_* environment variables and command line flags.
package config

import (
	"io"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/caio-sobreiro/dicomfetch/retrieve"
)

// EnvPrefix prefixes every environment variable, e.g. DICOMFETCH_PEER_HOST.
const EnvPrefix = "DICOMFETCH"

type (
	Local struct {
		AETitle    string `mapstructure:"AETitle" yaml:"AETitle"`
		ListenPort int    `mapstructure:"ListenPort" yaml:"ListenPort"`
	}

	Peer struct {
		Host           string        `mapstructure:"Host" yaml:"Host"`
		Port           int           `mapstructure:"Port" yaml:"Port"`
		AETitle        string        `mapstructure:"AETitle" yaml:"AETitle"`
		ConnectTimeout time.Duration `mapstructure:"ConnectTimeout" yaml:"ConnectTimeout"`
		ReadTimeout    time.Duration `mapstructure:"ReadTimeout" yaml:"ReadTimeout"`
	}

	Archive struct {
		Root string `mapstructure:"Root" yaml:"Root"`
		// FileMode holds the permission bits of archived files.
		FileMode uint32 `mapstructure:"FileMode" yaml:"FileMode"`
	}

	Retrieve struct {
		Timeout  time.Duration `mapstructure:"Timeout" yaml:"Timeout"`
		Settle   time.Duration `mapstructure:"Settle" yaml:"Settle"`
		Modality string        `mapstructure:"Modality" yaml:"Modality"`
	}

	Query struct {
		// CacheTTL of zero or less disables the C-FIND result cache.
		CacheTTL time.Duration `mapstructure:"CacheTTL" yaml:"CacheTTL"`
	}

	Logging struct {
		Level string `mapstructure:"Level" yaml:"Level"`
	}

	Metrics struct {
		// Address of the Prometheus endpoint; empty disables it.
		Address string `mapstructure:"Address" yaml:"Address"`
	}

	Config struct {
		Local    Local    `mapstructure:"Local" yaml:"Local"`
		Peer     Peer     `mapstructure:"Peer" yaml:"Peer"`
		Archive  Archive  `mapstructure:"Archive" yaml:"Archive"`
		Retrieve Retrieve `mapstructure:"Retrieve" yaml:"Retrieve"`
		Query    Query    `mapstructure:"Query" yaml:"Query"`
		Logging  Logging  `mapstructure:"Logging" yaml:"Logging"`
		Metrics  Metrics  `mapstructure:"Metrics" yaml:"Metrics"`
	}
)

// SetDefaults registers the default of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("Local.AETitle", "DICOMFETCH")
	v.SetDefault("Local.ListenPort", 11113)
	v.SetDefault("Peer.Host", "")
	v.SetDefault("Peer.Port", 104)
	v.SetDefault("Peer.AETitle", "")
	v.SetDefault("Peer.ConnectTimeout", "10s")
	v.SetDefault("Peer.ReadTimeout", "60s")
	v.SetDefault("Archive.Root", "./files/dicom")
	v.SetDefault("Archive.FileMode", 0o644)
	v.SetDefault("Retrieve.Timeout", retrieve.DefaultTimeout.String())
	v.SetDefault("Retrieve.Settle", retrieve.DefaultSettle.String())
	v.SetDefault("Retrieve.Modality", retrieve.DefaultModality)
	v.SetDefault("Query.CacheTTL", retrieve.DefaultQueryCacheTTL.String())
	v.SetDefault("Logging.Level", "info")
	v.SetDefault("Metrics.Address", "")
}

// New returns a viper instance with defaults and environment binding set up.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// ReadFile merges a YAML configuration file into v. An empty name is a no-op.
func ReadFile(v *viper.Viper, name string) error {
	if name == "" {
		return nil
	}
	v.SetConfigFile(name)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return errors.Wrapf(err, "failed to read config file %s", name)
	}
	return nil
}

// Load decodes and validates the settings held by v.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, "failed to decode configuration")
	}
	cfg.Local.AETitle = strings.TrimSpace(cfg.Local.AETitle)
	cfg.Peer.AETitle = strings.TrimSpace(cfg.Peer.AETitle)
	cfg.Retrieve.Modality = strings.ToUpper(strings.TrimSpace(cfg.Retrieve.Modality))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings every command needs. The peer is checked by
// RequirePeer since the simulator-facing commands can run without one.
func (c *Config) Validate() error {
	if err := checkAETitle("Local.AETitle", c.Local.AETitle); err != nil {
		return err
	}
	if c.Local.ListenPort <= 0 || c.Local.ListenPort > 65535 {
		return errors.Errorf("Local.ListenPort %d is not a valid port", c.Local.ListenPort)
	}
	if c.Archive.Root == "" {
		return errors.New("Archive.Root must be set")
	}
	if c.Archive.FileMode == 0 || c.Archive.FileMode > 0o777 {
		return errors.Errorf("Archive.FileMode %#o is not a permission mode", c.Archive.FileMode)
	}
	if c.Retrieve.Timeout <= 0 {
		return errors.Errorf("Retrieve.Timeout must be positive, got %s", c.Retrieve.Timeout)
	}
	if c.Retrieve.Settle < 0 {
		return errors.Errorf("Retrieve.Settle must not be negative, got %s", c.Retrieve.Settle)
	}
	if _, err := log.ParseLevel(c.Logging.Level); err != nil {
		return errors.Wrap(err, "Logging.Level")
	}
	return nil
}

// RequirePeer checks that a remote node is configured.
func (c *Config) RequirePeer() error {
	if c.Peer.Host == "" {
		return errors.New("Peer.Host must be set")
	}
	if c.Peer.Port <= 0 || c.Peer.Port > 65535 {
		return errors.Errorf("Peer.Port %d is not a valid port", c.Peer.Port)
	}
	return checkAETitle("Peer.AETitle", c.Peer.AETitle)
}

func checkAETitle(key, title string) error {
	if title == "" {
		return errors.Errorf("%s must be set", key)
	}
	if len(title) > 16 {
		return errors.Errorf("%s %q is longer than 16 characters", key, title)
	}
	return nil
}

// RetrieverConfig maps the settings onto the retrieve package.
func (c *Config) RetrieverConfig() retrieve.Config {
	ttl := c.Query.CacheTTL
	if ttl <= 0 {
		ttl = -1
	}
	return retrieve.Config{
		Peer: retrieve.Peer{
			Host:           c.Peer.Host,
			Port:           c.Peer.Port,
			AETitle:        c.Peer.AETitle,
			LocalAETitle:   c.Local.AETitle,
			ConnectTimeout: c.Peer.ConnectTimeout,
			ReadTimeout:    c.Peer.ReadTimeout,
		},
		ListenPort:    c.Local.ListenPort,
		Timeout:       c.Retrieve.Timeout,
		Settle:        c.Retrieve.Settle,
		Modality:      c.Retrieve.Modality,
		QueryCacheTTL: ttl,
	}
}

// Dump writes the effective configuration as YAML.
func (c *Config) Dump(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return errors.Wrap(err, "failed to encode configuration")
	}
	return enc.Close()
}

// SetupLogging applies the configured level to the global logger.
func SetupLogging(level string) error {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return errors.Wrapf(err, "invalid log level %q", level)
	}
	log.SetLevel(lvl)
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	return nil
}
