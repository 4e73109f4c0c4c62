// Package config loads the heightmap server configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// A Duration is a time.Duration that is decoded from a TOML string such as
// "30s".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	duration, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = duration
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Listen                   string   `toml:"listen"`
	DataDir                  string   `toml:"data_dir"`
	MaxConcurrentConversions int64    `toml:"max_concurrent_conversions"`
	InfoCacheSize            int      `toml:"info_cache_size"`
	ShutdownTimeout          Duration `toml:"shutdown_timeout"`
	AllowedOrigins           []string `toml:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // "json" or "console".
}

// GeocodeConfig configures the geocoding provider.
type GeocodeConfig struct {
	BaseURL   string   `toml:"base_url"`
	UserAgent string   `toml:"user_agent"`
	Timeout   Duration `toml:"timeout"`
	CacheSize int      `toml:"cache_size"`
}

// OpenTopoConfig configures the elevation provider.
type OpenTopoConfig struct {
	BaseURL        string   `toml:"base_url"`
	APIKey         string   `toml:"api_key"`
	Timeout        Duration `toml:"timeout"`
	DefaultDEMType string   `toml:"default_dem_type"`
	MaxRadiusKM    float64  `toml:"max_radius_km"`
}

// HubConfig configures the automation hub.
type HubConfig struct {
	BaseURL       string   `toml:"base_url"`
	APIKey        string   `toml:"api_key"`
	Timeout       Duration `toml:"timeout"`
	ChatPath      string   `toml:"chat_path"`
	DataFetchPath string   `toml:"data_fetch_path"`
}

// A Config is the heightmap server configuration.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Log      LogConfig      `toml:"log"`
	Geocode  GeocodeConfig  `toml:"geocode"`
	OpenTopo OpenTopoConfig `toml:"opentopo"`
	Hub      HubConfig      `toml:"hub"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:                   ":5000",
			DataDir:                  filepath.Join(os.TempDir(), "heightmap"),
			MaxConcurrentConversions: 2,
			InfoCacheSize:            128,
			ShutdownTimeout:          Duration{10 * time.Second},
			AllowedOrigins:           []string{"*"},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Geocode: GeocodeConfig{
			BaseURL:   "https://nominatim.openstreetmap.org/search",
			UserAgent: "go-heightmap/1.0",
			Timeout:   Duration{10 * time.Second},
			CacheSize: 1024,
		},
		OpenTopo: OpenTopoConfig{
			BaseURL:        "https://portal.opentopography.org/API/globaldem",
			Timeout:        Duration{120 * time.Second},
			DefaultDEMType: "SRTMGL1",
			MaxRadiusKM:    100,
		},
		// The hub is disabled unless a base URL is configured.
		Hub: HubConfig{
			Timeout:       Duration{30 * time.Second},
			ChatPath:      "/webhook/plantopia-ai-chat",
			DataFetchPath: "/webhook/plantopia-data-fetch",
		},
	}
}

// Load returns the default configuration overlaid with the TOML files in
// names, in order, then with environment variables read with getenv. Files
// that do not exist are skipped.
func Load(getenv func(string) string, names ...string) (*Config, error) {
	config := Default()
	for _, name := range names {
		if _, err := os.Stat(name); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if _, err := toml.DecodeFile(name, config); err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
	}
	if err := config.applyEnv(getenv); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	for _, s := range []struct {
		key   string
		value *string
	}{
		{"HEIGHTMAP_LISTEN", &c.Server.Listen},
		{"HEIGHTMAP_DATA_DIR", &c.Server.DataDir},
		{"OPENTOPO_API_KEY", &c.OpenTopo.APIKey},
		{"OPENTOPO_BASE_URL", &c.OpenTopo.BaseURL},
		{"N8N_BASE_URL", &c.Hub.BaseURL},
		{"N8N_API_KEY", &c.Hub.APIKey},
		{"N8N_WEBHOOK_AI_CHAT", &c.Hub.ChatPath},
		{"N8N_WEBHOOK_DATA_FETCH", &c.Hub.DataFetchPath},
	} {
		if value := getenv(s.key); value != "" {
			*s.value = value
		}
	}

	// N8N_TIMEOUT is in milliseconds.
	if value := getenv("N8N_TIMEOUT"); value != "" {
		ms, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("N8N_TIMEOUT: %w", err)
		}
		c.Hub.Timeout = Duration{time.Duration(ms) * time.Millisecond}
	}
	return nil
}

// Validate returns an error if c is invalid.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Listen == "" {
		errs = append(errs, errors.New("server.listen: must not be empty"))
	}
	if c.Server.DataDir == "" {
		errs = append(errs, errors.New("server.data_dir: must not be empty"))
	}
	if c.Server.MaxConcurrentConversions < 1 {
		errs = append(errs, fmt.Errorf("server.max_concurrent_conversions: %d: must be positive", c.Server.MaxConcurrentConversions))
	}
	if c.Server.InfoCacheSize < 1 {
		errs = append(errs, fmt.Errorf("server.info_cache_size: %d: must be positive", c.Server.InfoCacheSize))
	}
	if c.Geocode.CacheSize < 1 {
		errs = append(errs, fmt.Errorf("geocode.cache_size: %d: must be positive", c.Geocode.CacheSize))
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("log.format: %q: must be json or console", c.Log.Format))
	}
	for _, d := range []struct {
		name  string
		value Duration
	}{
		{"geocode.timeout", c.Geocode.Timeout},
		{"opentopo.timeout", c.OpenTopo.Timeout},
		{"hub.timeout", c.Hub.Timeout},
	} {
		if d.value.Duration <= 0 {
			errs = append(errs, fmt.Errorf("%s: %s: must be positive", d.name, d.value))
		}
	}
	return errors.Join(errs...)
}
