package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// SourceConfig describes one upstream catalog endpoint.
type SourceConfig struct {
	// URL is the catalog endpoint (JSON API or ICS feed, depending on the
	// source kind it configures).
	URL string `yaml:"url" json:"url"`
	// ID is an internal identifier used for logging and cache keys.
	ID string `yaml:"id" json:"id"`
	// Name is a human-friendly label.
	Name string `yaml:"name" json:"name"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// LocationConfig pins a fixed user location in config, bypassing the
// geolocation provider for distance sorting.
type LocationConfig struct {
	Lat     float64 `yaml:"lat" json:"lat"`
	Lng     float64 `yaml:"lng" json:"lng"`
	Address string  `yaml:"address,omitempty" json:"address,omitempty"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA timezone used for calendar-day comparisons
	// (e.g. "America/Los_Angeles").
	Timezone string `yaml:"timezone" json:"timezone"`

	// RefreshCron is a cron-style schedule string (e.g. "*/15 * * * *")
	// driving periodic re-aggregation.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// HorizonDays bounds how far ahead recurring partner events are
	// expanded.
	HorizonDays int `yaml:"horizon_days" json:"horizon_days"`

	// DataDir holds the sqlite cache database.
	DataDir string `yaml:"data_dir" json:"data_dir"`

	// Sanghos is the primary catalog endpoint.
	Sanghos SourceConfig `yaml:"sanghos" json:"sanghos"`

	// InsightLA is the partner catalog endpoint.
	InsightLA SourceConfig `yaml:"insightla" json:"insightla"`

	// PartnerICS lists optional partner ICS feeds, normalized like any
	// other source.
	PartnerICS []SourceConfig `yaml:"partner_ics" json:"partner_ics"`

	// GeolocateURL is an optional endpoint returning {"lat":..,"lng":..}
	// for best-effort location lookup.
	GeolocateURL string `yaml:"geolocate_url,omitempty" json:"geolocate_url,omitempty"`

	// Location, if non-nil, pins the user location and disables geolocation.
	Location *LocationConfig `yaml:"location,omitempty" json:"location,omitempty"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all
	// endpoints except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:      "127.0.0.1:8080",
		Timezone:    "America/Los_Angeles",
		RefreshCron: "*/15 * * * *",
		HorizonDays: 90,
		DataDir:     "./var",
		Sanghos: SourceConfig{
			ID:  "sanghos",
			URL: "",
		},
		InsightLA: SourceConfig{
			ID:  "insightla",
			URL: "",
		},
		PartnerICS: []SourceConfig{},
	}
}

// Normalize fills in missing/zero values with defaults so partially-filled
// configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = "127.0.0.1:8080"
	}
	if c.Timezone == "" {
		c.Timezone = "America/Los_Angeles"
	}
	if c.RefreshCron == "" {
		c.RefreshCron = "*/15 * * * *"
	}
	if c.HorizonDays <= 0 {
		c.HorizonDays = 90
	}
	if c.DataDir == "" {
		c.DataDir = "./var"
	}
	if c.Sanghos.ID == "" {
		c.Sanghos.ID = "sanghos"
	}
	if c.InsightLA.ID == "" {
		c.InsightLA.ID = "insightla"
	}
	if c.PartnerICS == nil {
		c.PartnerICS = []SourceConfig{}
	}
	for i := range c.PartnerICS {
		if c.PartnerICS[i].ID == "" {
			if c.PartnerICS[i].Name != "" {
				c.PartnerICS[i].ID = c.PartnerICS[i].Name
			} else {
				c.PartnerICS[i].ID = c.PartnerICS[i].URL
			}
		}
	}
}

// Load loads configuration from the given YAML path.
//
// If the file does not exist, a default config is written there (0600) and
// returned. Otherwise the YAML is unmarshaled and normalized.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes the configuration to path atomically (temp file + rename)
// with 0600 permissions, creating the parent directory if needed.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".sanghos-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// Save delegates to the package-level Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
