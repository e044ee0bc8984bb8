package config

import (
	"errors"
	"fmt"
	"net"
	"reflect"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/samber/oops"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"preseedd/internal/series"
)

// EnvPrefix is prepended to every environment override, e.g.
// PRESEEDD_STORAGE_DRIVER for storage.driver.
const EnvPrefix = "PRESEEDD"

const (
	DriverDir = "dir"
	DriverS3  = "s3"
)

// Config is intentionally small and file/env friendly.
type Config struct {
	// Addr is the HTTP listen address.
	Addr string `mapstructure:"addr" yaml:"addr"`

	// Root is the document tree for the dir driver. Global defaults live at
	// the top, per-client overrides under ip/<address>[/<series>]/.
	Root string `mapstructure:"root" yaml:"root"`

	Storage Storage `mapstructure:"storage" yaml:"storage"`
	Series  Series  `mapstructure:"series" yaml:"series"`

	// WebDAV exposes Root under /dav/ for editing. Only valid with the dir driver.
	WebDAV bool `mapstructure:"webdav" yaml:"webdav"`

	// TrustProxyHeaders makes X-Forwarded-For / X-Real-IP decide the client
	// address. Leave off unless a reverse proxy sets them.
	TrustProxyHeaders bool `mapstructure:"trust_proxy_headers" yaml:"trust_proxy_headers"`

	// SaveRate limits form saves per client (events per second). 0 disables.
	SaveRate  float64 `mapstructure:"save_rate" yaml:"save_rate"`
	SaveBurst int     `mapstructure:"save_burst" yaml:"save_burst"`

	Log Log `mapstructure:"log" yaml:"log"`
}

type Storage struct {
	// Driver is "dir" (default) or "s3".
	Driver string `mapstructure:"driver" yaml:"driver"`
	S3     S3     `mapstructure:"s3" yaml:"s3"`
}

type S3 struct {
	Endpoint  string `mapstructure:"endpoint" yaml:"endpoint"`
	AccessKey string `mapstructure:"access_key" yaml:"access_key"`
	SecretKey string `mapstructure:"secret_key" yaml:"secret_key"`
	Bucket    string `mapstructure:"bucket" yaml:"bucket"`
	Prefix    string `mapstructure:"prefix" yaml:"prefix"`
}

// Series selects how the supported series list is built. A non-empty Static
// list wins over Sources.
type Series struct {
	Static  []string `mapstructure:"static" yaml:"static"`
	Sources []string `mapstructure:"sources" yaml:"sources"`
	Rolling []string `mapstructure:"rolling" yaml:"rolling"`
}

type Log struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Addr:    "0.0.0.0:8080",
		Root:    ".",
		Storage: Storage{Driver: DriverDir},
		Series: Series{
			Sources: append([]string(nil), series.DefaultSources...),
			Rolling: append([]string(nil), series.DefaultRolling...),
		},
		SaveBurst: 5,
		Log:       Log{Level: "info", Format: "text"},
	}
}

// Load reads configuration from an optional file and the environment.
// With path empty, "preseedd.{yaml,json,toml}" is looked up in the working
// directory and /etc/preseedd; a missing file is not an error then.
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("preseedd")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/preseedd")
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvs(v, cfg)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, oops.Wrapf(err, "read config")
		}
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, oops.Wrapf(err, "decode config")
	}
	return &cfg, nil
}

// bindEnvs registers all keys within cfg so that viper will look up
// corresponding environment variables when unmarshalling.
func bindEnvs(v *viper.Viper, cfg any, parts ...string) {
	val := reflect.ValueOf(cfg)
	typ := reflect.TypeOf(cfg)
	if typ.Kind() == reflect.Ptr {
		val = val.Elem()
		typ = typ.Elem()
	}
	for i := 0; i < typ.NumField(); i++ {
		f := typ.Field(i)
		tag := f.Tag.Get("mapstructure")
		if tag == "" {
			tag = strings.ToLower(f.Name)
		}
		key := append(append([]string{}, parts...), tag)
		if f.Type.Kind() == reflect.Struct {
			bindEnvs(v, val.Field(i).Interface(), key...)
			continue
		}
		_ = v.BindEnv(strings.Join(key, "."))
	}
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var result *multierror.Error
	add := func(format string, args ...any) {
		result = multierror.Append(result, fmt.Errorf(format, args...))
	}

	if _, _, err := net.SplitHostPort(c.Addr); err != nil {
		add("addr %q: %v", c.Addr, err)
	}
	switch c.Storage.Driver {
	case DriverDir:
		if strings.TrimSpace(c.Root) == "" {
			add("root is required for the dir driver")
		}
	case DriverS3:
		if c.Storage.S3.Endpoint == "" {
			add("storage.s3.endpoint is required")
		}
		if c.Storage.S3.Bucket == "" {
			add("storage.s3.bucket is required")
		}
		if c.WebDAV {
			add("webdav needs storage.driver=%s", DriverDir)
		}
	default:
		add("storage.driver must be %q or %q, got %q", DriverDir, DriverS3, c.Storage.Driver)
	}
	if c.SaveRate < 0 {
		add("save_rate must not be negative")
	}
	if c.SaveRate > 0 && c.SaveBurst < 1 {
		add("save_burst must be at least 1 when save_rate is set")
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		add("log.level: %v", err)
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		add("log.format must be text or json, got %q", c.Log.Format)
	}
	return result.ErrorOrNil()
}

// Redacted returns a copy safe to print.
func (c Config) Redacted() Config {
	if c.Storage.S3.SecretKey != "" {
		c.Storage.S3.SecretKey = "********"
	}
	c.Series.Static = append([]string(nil), c.Series.Static...)
	c.Series.Sources = append([]string(nil), c.Series.Sources...)
	c.Series.Rolling = append([]string(nil), c.Series.Rolling...)
	return c
}
