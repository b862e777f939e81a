// Package config loads the typed runtime configuration: warehouse
// credentials, staging bucket, site definitions and the warehouse column-type
// schema. Secrets come from the environment, everything else from YAML.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Warehouse     Warehouse `yaml:"warehouse"`
	Staging       Staging   `yaml:"staging"`
	Sites         []Site    `yaml:"sites"`
	ScheduleEvery Duration  `yaml:"schedule_every"`
	ListenAddr    string    `yaml:"listen_addr"`
}

// Duration accepts "24h" style values in yaml.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

type Warehouse struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"-"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"sslmode"`
}

// ConnString builds the pgx connection string for the warehouse database.
func (w Warehouse) ConnString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		w.Host, w.Port, w.User, w.Password, w.Database, w.SSLMode)
}

// AdminConnString connects to the maintenance database instead, used only to
// create the warehouse database when it doesn't exist yet.
func (w Warehouse) AdminConnString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=postgres sslmode=%s",
		w.Host, w.Port, w.User, w.Password, w.SSLMode)
}

type Staging struct {
	Bucket string `yaml:"bucket"`
	Region string `yaml:"region"`
}

// Site describes one job board. Driver selects the scraper implementation:
// "http" for boards reachable with plain requests, "browser" for boards that
// need a real browser session.
type Site struct {
	Name   string   `yaml:"name"`
	URL    string   `yaml:"url"`
	Driver string   `yaml:"driver"`
	Terms  []string `yaml:"terms"`
}

// Load reads the main configuration file. A missing file is fatal at startup.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s in Load: %w", path, err)
	}
	cfg := &Config{
		ScheduleEvery: Duration(24 * time.Hour),
		ListenAddr:    ":8080",
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("config: unable to parse %s in Load: %w", path, err)
	}
	cfg.Warehouse.Password = os.Getenv("POSTGRES_PASSWORD")
	if cfg.Warehouse.SSLMode == "" {
		cfg.Warehouse.SSLMode = "disable"
	}
	if len(cfg.Sites) == 0 {
		return nil, fmt.Errorf("config: no sites configured in %s", path)
	}
	return cfg, nil
}

// WebsiteURLs maps site name to site url for the dim_website lookup.
func (c *Config) WebsiteURLs() map[string]string {
	m := make(map[string]string, len(c.Sites))
	for _, s := range c.Sites {
		m[s.Name] = s.URL
	}
	return m
}

// Schema maps table name to column name to SQL type, driving the DDL the
// warehouse generates on replace loads.
type Schema map[string]map[string]string

// LoadSchema reads the warehouse column-type schema.
func LoadSchema(path string) (Schema, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s in LoadSchema: %w", path, err)
	}
	var doc struct {
		Tables Schema `yaml:"tables"`
	}
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("config: unable to parse %s in LoadSchema: %w", path, err)
	}
	if len(doc.Tables) == 0 {
		return nil, fmt.Errorf("config: no tables declared in %s", path)
	}
	return doc.Tables, nil
}
