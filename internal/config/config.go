// Package config loads the daemon settings from an optional YAML file and
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied before the file and the environment are read.
const (
	DefaultSRTAddr        = ":6000"
	DefaultAPIAddr        = ":4444"
	DefaultCodec          = "vp8"
	DefaultExpectedLayers = 3
	DefaultWaitWindow     = 300 * time.Millisecond
	DefaultViewerBuffer   = 120
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("config: invalid")

// Config is the daemon configuration.
type Config struct {
	SRTAddr string `yaml:"srt_addr"`
	APIAddr string `yaml:"api_addr"`
	// APITLS serves the API over HTTPS with a self-signed certificate.
	APITLS bool `yaml:"api_tls"`
	// Codec is used for publications whose stream id names none.
	Codec string `yaml:"codec"`
	// ExpectedLayers is the number of layers a selection round waits for.
	// Zero tracks the number of layers currently published.
	ExpectedLayers int           `yaml:"expected_layers"`
	WaitWindow     time.Duration `yaml:"wait_window"`
	ViewerBuffer   int           `yaml:"viewer_buffer"`
	Debug          bool          `yaml:"debug"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		SRTAddr:        DefaultSRTAddr,
		APIAddr:        DefaultAPIAddr,
		Codec:          DefaultCodec,
		ExpectedLayers: DefaultExpectedLayers,
		WaitWindow:     DefaultWaitWindow,
		ViewerBuffer:   DefaultViewerBuffer,
	}
}

// Load builds the configuration: defaults, then the YAML file at path if
// path is non-empty, then environment overrides via getenv. A nil getenv
// uses os.Getenv.
func Load(path string, getenv func(string) string) (Config, error) {
	if getenv == nil {
		getenv = os.Getenv
	}
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(getenv); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv(getenv func(string) string) error {
	envOr := func(key, fallback string) string {
		if v := getenv(key); v != "" {
			return v
		}
		return fallback
	}

	c.SRTAddr = envOr("SRT_ADDR", c.SRTAddr)
	c.APIAddr = envOr("API_ADDR", c.APIAddr)
	c.Codec = envOr("CODEC", c.Codec)

	if v := getenv("EXPECTED_LAYERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: EXPECTED_LAYERS %q: %v", ErrInvalid, v, err)
		}
		c.ExpectedLayers = n
	}
	if v := getenv("WAIT_WINDOW"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%w: WAIT_WINDOW %q: %v", ErrInvalid, v, err)
		}
		c.WaitWindow = d
	}
	if getenv("API_TLS") != "" {
		c.APITLS = true
	}
	if getenv("DEBUG") != "" {
		c.Debug = true
	}
	return nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	switch {
	case c.SRTAddr == "":
		return fmt.Errorf("%w: srt_addr is required", ErrInvalid)
	case c.APIAddr == "":
		return fmt.Errorf("%w: api_addr is required", ErrInvalid)
	case c.Codec != "vp8" && c.Codec != "h264":
		return fmt.Errorf("%w: codec %q is not vp8 or h264", ErrInvalid, c.Codec)
	case c.ExpectedLayers < 0:
		return fmt.Errorf("%w: expected_layers must not be negative", ErrInvalid)
	case c.WaitWindow <= 0:
		return fmt.Errorf("%w: wait_window must be positive", ErrInvalid)
	case c.ViewerBuffer <= 0:
		return fmt.Errorf("%w: viewer_buffer must be positive", ErrInvalid)
	}
	return nil
}
