// Package config loads reqbroker's YAML configuration via
// github.com/spf13/viper, grounded on the original implementation's
// common/config/config.py: multiple YAML files may be supplied and are
// merged key-by-key, later files overriding earlier ones. Unlike
// config.py's merge/_merge, a list value in a later file replaces the
// earlier list instead of being concatenated with it. Environment
// variables matching a config key (e.g. BROKER_INTERVAL) override that
// key via viper's AutomaticEnv; "$VAR" references inside values are not
// expanded.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/viper"

	"github.com/ecmwf/reqbroker/broker"
	"github.com/ecmwf/reqbroker/collection"
	"github.com/ecmwf/reqbroker/gc"
	"github.com/ecmwf/reqbroker/worker"
)

// Config is the fully parsed, ready-to-wire configuration for every
// reqbroker component, the Go-native counterpart of config.py's merged
// attribute-dict.
type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Staging     StagingConfig
	Auth        AuthConfig
	Broker      broker.Config
	Worker      worker.Config
	GC          gc.Config
	Collections map[string]CollectionConfig
}

// ServerConfig controls the HTTP frontend's listen address.
type ServerConfig struct {
	Address string
}

// DatabaseConfig names the sqlite file backing store.RequestStore and
// queue.Queue, matching the teacher's single-database layout
// (github.com/romanqed/gqs) rather than the original's separate Mongo/
// RabbitMQ deployments.
type DatabaseConfig struct {
	DSN string
}

// StagingMode selects which staging.Staging implementation to wire.
type StagingMode string

const (
	StagingModeLocal StagingMode = "local"
	StagingModeHTTP  StagingMode = "http"
)

// StagingConfig configures the staging backend, matching
// common/staging/staging.py's create_staging factory.
type StagingConfig struct {
	Mode StagingMode

	// LocalDir is used when Mode is StagingModeLocal, the root
	// directory an in-process httpstaging.Server writes under.
	LocalDir string

	// InternalURL/PublicURL are used when Mode is StagingModeHTTP, an
	// externally-run staging service this process only talks to.
	InternalURL string
	PublicURL   string
}

// AuthMode selects which auth.Authenticator backends to wire; more than
// one scheme may be active simultaneously (e.g. JWT for clients, Basic
// for service accounts), matching authentication.py's
// create_authenticators returning a list.
type AuthMode string

const (
	AuthModeJWT   AuthMode = "jwt"
	AuthModePlain AuthMode = "plain"
)

// AuthConfig configures every enabled authentication backend.
type AuthConfig struct {
	Modes []AuthMode

	JWT struct {
		Realm    string
		ClientID string
		// JWKSURL, when set, is where a caller fetches signing keys
		// from; wiring the actual HTTP fetch + key cache is left to the
		// cmd/ entrypoint that constructs the jwt.Keyfunc, since it is
		// infrastructure (caching, refresh) rather than parsed config.
		JWKSURL string
	}

	Plain struct {
		Realm string
		Users []PlainUser
	}
}

// PlainUser is one statically configured username/password/roles entry
// for AuthModePlain, matching plain_authentication.py's config["users"].
type PlainUser struct {
	Username string
	Password string
	Roles    []string
}

// CollectionConfig is the raw, parsed shape of one collection block
// before it is built into a *collection.Collection, matching
// collection.py's per-collection config dict.
type CollectionConfig struct {
	Roles       []string
	Limits      collection.Limits
	DataSources []collection.DataSourceConfig
}

// Load reads and merges the given YAML files with viper, exactly as
// config.py's ConfigParser.read reads `-f` files in order and merges
// them, then unmarshals into Config.
//
// Later files override earlier ones key-by-key; viper's native merge
// (MergeInConfig) already implements config.py's _merge semantics for
// maps, which is what every collection/datasource block relies on.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		return nil, fmt.Errorf("config: no configuration files specified, use -f [config] on the command line")
	}

	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	for i, f := range files {
		v.SetConfigFile(f)
		var err error
		if i == 0 {
			err = v.ReadInConfig()
		} else {
			err = v.MergeInConfig()
		}
		if err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", f, err)
		}
	}

	var raw rawConfig
	if err := v.Unmarshal(&raw); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	return raw.resolve()
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", ":8000")
	v.SetDefault("broker.interval", "10s")
	v.SetDefault("broker.max_queue_size", 40)
	v.SetDefault("worker.poll_interval", "100ms")
	v.SetDefault("worker.visibility", "30s")
	v.SetDefault("gc.interval", "60s")
	v.SetDefault("gc.threshold", "10GiB")
	v.SetDefault("gc.age", "24h")
	v.SetDefault("staging.mode", "local")
	v.SetDefault("staging.local_dir", "/tmp/reqbroker/staging")
}

// rawConfig is the wire shape viper unmarshals into: plain strings for
// every duration/byte-size field (matching config.py's gc_config.interval/
// threshold/age being free-form strings parsed by parse_time/parse_bytes),
// resolved into typed Config by resolve.
type rawConfig struct {
	Server struct {
		Address string
	}
	Database struct {
		DSN string
	}
	Staging struct {
		Mode        string
		LocalDir    string `mapstructure:"local_dir"`
		InternalURL string `mapstructure:"internal_url"`
		PublicURL   string `mapstructure:"public_url"`
	}
	Auth struct {
		Modes []string
		JWT   struct {
			Realm    string
			ClientID string `mapstructure:"client_id"`
			JWKSURL  string `mapstructure:"jwks_url"`
		}
		Plain struct {
			Realm string
			Users []PlainUser
		}
	}
	Broker struct {
		Interval     string
		MaxQueueSize int `mapstructure:"max_queue_size"`
	}
	Worker struct {
		PollInterval string `mapstructure:"poll_interval"`
		Visibility   string
		Backoff      struct {
			MaxRetries          uint32  `mapstructure:"max_retries"`
			InitialInterval     string  `mapstructure:"initial_interval"`
			MaxInterval         string  `mapstructure:"max_interval"`
			Multiplier          float64 `mapstructure:"multiplier"`
			RandomizationFactor float64 `mapstructure:"randomization_factor"`
		}
	}
	GC struct {
		Interval  string
		Threshold string
		Age       string
	}
	Collections map[string]struct {
		Roles  []string
		Limits struct {
			Total   int
			PerUser int `mapstructure:"per_user"`
			PerRole map[string]map[string]int `mapstructure:"per_role"`
		}
		DataSources []struct {
			Type   string
			Roles  []string
			Config map[string]any
			Match  map[string]any
		} `mapstructure:"datasources"`
	}
}

func (raw *rawConfig) resolve() (*Config, error) {
	cfg := &Config{
		Collections: map[string]CollectionConfig{},
	}

	cfg.Server.Address = raw.Server.Address
	cfg.Database.DSN = raw.Database.DSN

	cfg.Staging.Mode = StagingMode(raw.Staging.Mode)
	cfg.Staging.LocalDir = raw.Staging.LocalDir
	cfg.Staging.InternalURL = raw.Staging.InternalURL
	cfg.Staging.PublicURL = raw.Staging.PublicURL

	for _, m := range raw.Auth.Modes {
		cfg.Auth.Modes = append(cfg.Auth.Modes, AuthMode(m))
	}
	cfg.Auth.JWT.Realm = raw.Auth.JWT.Realm
	cfg.Auth.JWT.ClientID = raw.Auth.JWT.ClientID
	cfg.Auth.JWT.JWKSURL = raw.Auth.JWT.JWKSURL
	cfg.Auth.Plain.Realm = raw.Auth.Plain.Realm
	cfg.Auth.Plain.Users = raw.Auth.Plain.Users

	var err error
	if cfg.Broker.Interval, err = parseDuration("broker.interval", raw.Broker.Interval); err != nil {
		return nil, err
	}
	cfg.Broker.MaxQueueSize = raw.Broker.MaxQueueSize

	if cfg.Worker.PollInterval, err = parseDuration("worker.poll_interval", raw.Worker.PollInterval); err != nil {
		return nil, err
	}
	if cfg.Worker.Visibility, err = parseDuration("worker.visibility", raw.Worker.Visibility); err != nil {
		return nil, err
	}
	cfg.Worker.Backoff.MaxRetries = raw.Worker.Backoff.MaxRetries
	cfg.Worker.Backoff.Multiplier = raw.Worker.Backoff.Multiplier
	cfg.Worker.Backoff.RandomizationFactor = raw.Worker.Backoff.RandomizationFactor
	if raw.Worker.Backoff.InitialInterval != "" {
		if cfg.Worker.Backoff.InitialInterval, err = parseDuration("worker.backoff.initial_interval", raw.Worker.Backoff.InitialInterval); err != nil {
			return nil, err
		}
	}
	if raw.Worker.Backoff.MaxInterval != "" {
		if cfg.Worker.Backoff.MaxInterval, err = parseDuration("worker.backoff.max_interval", raw.Worker.Backoff.MaxInterval); err != nil {
			return nil, err
		}
	}

	if cfg.GC.Interval, err = parseDuration("gc.interval", raw.GC.Interval); err != nil {
		return nil, err
	}
	if cfg.GC.Age, err = parseDuration("gc.age", raw.GC.Age); err != nil {
		return nil, err
	}
	if cfg.GC.Threshold, err = parseBytes("gc.threshold", raw.GC.Threshold); err != nil {
		return nil, err
	}

	for name, c := range raw.Collections {
		cc := CollectionConfig{
			Roles: c.Roles,
			Limits: collection.Limits{
				Total:   c.Limits.Total,
				PerUser: c.Limits.PerUser,
				PerRole: c.Limits.PerRole,
			},
		}
		for _, ds := range c.DataSources {
			cc.DataSources = append(cc.DataSources, collection.DataSourceConfig{
				Type:   ds.Type,
				Roles:  ds.Roles,
				Config: ds.Config,
				Match:  ds.Match,
			})
		}
		cfg.Collections[name] = cc
	}

	return cfg, nil
}

// BuildCollections instantiates every configured collection, matching
// create_collections; returns the map cmd/ entrypoints wire directly
// into broker.New/worker.New/httpapi.New.
func (c *Config) BuildCollections() (map[string]*collection.Collection, error) {
	out := make(map[string]*collection.Collection, len(c.Collections))
	for name, cc := range c.Collections {
		built, err := collection.New(name, cc.Roles, cc.Limits, cc.DataSources)
		if err != nil {
			return nil, err
		}
		out[name] = built
	}
	return out, nil
}

func parseDuration(field, s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("config: %s: invalid duration %q: %w", field, s, err)
	}
	return d, nil
}

// parseBytes parses human-readable byte sizes ("10GiB", "500MB") the
// way garbage_collector.py's parse_bytes does, reusing the same
// dustin/go-humanize library gc already depends on for formatting so
// parsing and formatting agree on unit semantics.
func parseBytes(field, s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("config: %s: invalid byte size %q: %w", field, s, err)
	}
	return int64(n), nil
}
