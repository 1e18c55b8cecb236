// Package config loads the gateway configuration from an optional config
// file and the environment. File keys, GEOGATE_-prefixed variables, and the
// handful of unprefixed variables the deployment scripts already export
// (OVERPASS_ENDPOINTS, BHUVAN_LULC_TOKEN, BHUVAN_ROUTING_TOKEN) all land in
// the same struct.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full gateway configuration.
type Config struct {
	ListenAddr     string `mapstructure:"listen_addr"`
	MonitoringAddr string `mapstructure:"monitoring_addr"`
	DataDir        string `mapstructure:"data_dir"`
	Debug          bool   `mapstructure:"debug"`

	Overpass struct {
		// Endpoints is a comma-separated list appended to the built-in
		// mirrors, preserving order.
		Endpoints     string        `mapstructure:"endpoints"`
		RatePerSecond float64       `mapstructure:"rate_per_second"`
		Burst         int           `mapstructure:"burst"`
		Timeout       time.Duration `mapstructure:"timeout"`
	} `mapstructure:"overpass"`

	WMS struct {
		Base string `mapstructure:"base"`
		// InsecureTLS skips certificate verification for the Bhuvan WMS
		// host only; its chain is broken for some clients.
		InsecureTLS bool          `mapstructure:"insecure_tls"`
		Timeout     time.Duration `mapstructure:"timeout"`
	} `mapstructure:"wms"`

	GeoServer struct {
		Base    string        `mapstructure:"base"`
		Timeout time.Duration `mapstructure:"timeout"`
	} `mapstructure:"geoserver"`

	Bhuvan struct {
		Base         string        `mapstructure:"base"`
		LULCToken    string        `mapstructure:"lulc_token"`
		RoutingToken string        `mapstructure:"routing_token"`
		Timeout      time.Duration `mapstructure:"timeout"`
	} `mapstructure:"bhuvan"`

	Database struct {
		// URL is a pgx connection string. Empty runs the gateway without
		// Postgres; the endpoints that need it degrade or fall back.
		URL string `mapstructure:"url"`
	} `mapstructure:"database"`

	RateLimit struct {
		RequestsPerSecond float64 `mapstructure:"requests_per_second"`
		Burst             int     `mapstructure:"burst"`
	} `mapstructure:"rate_limit"`
}

// RasterDir is where uploaded rasters are stored.
func (c *Config) RasterDir() string {
	return filepath.Join(c.DataDir, "rasters")
}

// StyleFallbackFile is the JSON file the style store uses when the
// database is unavailable.
func (c *Config) StyleFallbackFile() string {
	return filepath.Join(c.DataDir, "style_config_fallback.json")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("monitoring_addr", ":9090")
	v.SetDefault("data_dir", "data")
	v.SetDefault("debug", false)

	v.SetDefault("overpass.endpoints", "")
	v.SetDefault("overpass.rate_per_second", 1.0)
	v.SetDefault("overpass.burst", 1)
	v.SetDefault("overpass.timeout", 45*time.Second)

	v.SetDefault("wms.base", "")
	v.SetDefault("wms.insecure_tls", true)
	v.SetDefault("wms.timeout", 30*time.Second)

	v.SetDefault("geoserver.base", "")
	v.SetDefault("geoserver.timeout", 30*time.Second)

	v.SetDefault("bhuvan.base", "")
	v.SetDefault("bhuvan.lulc_token", "")
	v.SetDefault("bhuvan.routing_token", "")
	v.SetDefault("bhuvan.timeout", 30*time.Second)

	v.SetDefault("database.url", "")

	v.SetDefault("rate_limit.requests_per_second", 10.0)
	v.SetDefault("rate_limit.burst", 20)
}

// Load reads the configuration. path names an explicit config file and must
// exist when given; otherwise geogate.yaml is looked up in the working
// directory and /etc/geogate, and running without one is fine.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("GEOGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Unprefixed names kept for compatibility with existing deployments.
	_ = v.BindEnv("overpass.endpoints", "OVERPASS_ENDPOINTS", "GEOGATE_OVERPASS_ENDPOINTS")
	_ = v.BindEnv("bhuvan.lulc_token", "BHUVAN_LULC_TOKEN", "GEOGATE_BHUVAN_LULC_TOKEN")
	_ = v.BindEnv("bhuvan.routing_token", "BHUVAN_ROUTING_TOKEN", "GEOGATE_BHUVAN_ROUTING_TOKEN")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	} else {
		v.SetConfigName("geogate")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/geogate")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
