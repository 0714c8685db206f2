// Package config loads the TOML configuration file and supplies defaults
// for everything the file leaves unset.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/osctools/gpuscout/internal/domain"
)

// Config holds all application configuration
type Config struct {
	General       GeneralConfig       `toml:"general"`
	Cluster       ClusterConfig       `toml:"cluster"`
	Search        SearchConfig        `toml:"search"`
	Probe         ProbeConfig         `toml:"probe"`
	Notifications NotificationsConfig `toml:"notifications"`
	Web           WebConfig           `toml:"web"`
	Autorun       []AutorunSchedule   `toml:"autorun"`
}

// AutorunSchedule configures one recurring search. Zero-valued bound
// fields fall back to the [search] defaults.
type AutorunSchedule struct {
	Name    string `toml:"name"`
	Cron    string `toml:"cron"`
	GPUMin  int    `toml:"gpu_min"`
	GPUMax  int    `toml:"gpu_max"`
	TimeMin string `toml:"time_min"`
	TimeMax string `toml:"time_max"`
}

// GeneralConfig holds general settings
type GeneralConfig struct {
	DatabasePath string `toml:"database_path"`
	MarkerDir    string `toml:"marker_dir"`
}

// ClusterConfig holds the Slurm account context shared by every probe
type ClusterConfig struct {
	Account   string `toml:"account"`
	Partition string `toml:"partition"`
	Email     string `toml:"email"`
}

// SearchConfig holds default search bounds, overridable per run from the CLI
type SearchConfig struct {
	GPUMin  int    `toml:"gpu_min"`
	GPUMax  int    `toml:"gpu_max"`
	TimeMin string `toml:"time_min"`
	TimeMax string `toml:"time_max"`
}

// ProbeConfig holds per-probe resources and observation timing
type ProbeConfig struct {
	CPUs               int    `toml:"cpus"`
	Memory             string `toml:"memory"`
	ProbeTime          string `toml:"probe_time"`
	PollInterval       string `toml:"poll_interval"`
	ObservationTimeout string `toml:"observation_timeout"`
}

// NotificationsConfig holds notification settings
type NotificationsConfig struct {
	Desktop      bool   `toml:"desktop"`
	SlackWebhook string `toml:"slack_webhook"`
}

// WebConfig holds web UI settings
type WebConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

// Default returns a Config with sensible defaults
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		General: GeneralConfig{
			DatabasePath: filepath.Join(home, ".gpuscout", "gpuscout.db"),
			MarkerDir:    filepath.Join(home, ".gpuscout", "markers"),
		},
		Search: SearchConfig{
			GPUMin:  1,
			GPUMax:  8,
			TimeMin: "30m",
			TimeMax: "2d",
		},
		Probe: ProbeConfig{
			CPUs:               1,
			Memory:             "8G",
			ProbeTime:          "30m",
			PollInterval:       "15s",
			ObservationTimeout: "10m",
		},
		Notifications: NotificationsConfig{
			Desktop: true,
		},
		Web: WebConfig{
			Port: 8080,
			Host: "127.0.0.1",
		},
	}
}

// Load reads configuration from a TOML file, falling back to defaults
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	// Expand paths
	cfg.General.DatabasePath = ExpandPath(cfg.General.DatabasePath)
	cfg.General.MarkerDir = ExpandPath(cfg.General.MarkerDir)

	return cfg, nil
}

// Bounds resolves the configured search defaults into validated bounds.
func (c *Config) Bounds() (domain.SearchBounds, error) {
	tmin, err := domain.ParseDuration(c.Search.TimeMin)
	if err != nil {
		return domain.SearchBounds{}, fmt.Errorf("search.time_min: %w", err)
	}
	tmax, err := domain.ParseDuration(c.Search.TimeMax)
	if err != nil {
		return domain.SearchBounds{}, fmt.Errorf("search.time_max: %w", err)
	}
	return domain.SearchBounds{
		GPUMin:    c.Search.GPUMin,
		GPUMax:    c.Search.GPUMax,
		TimeMin:   tmin,
		TimeMax:   tmax,
		Account:   c.Cluster.Account,
		Partition: c.Cluster.Partition,
	}, nil
}

// ScheduleBounds resolves an autorun schedule's bounds, falling back to
// the [search] defaults for unset fields.
func (c *Config) ScheduleBounds(s AutorunSchedule) (domain.SearchBounds, error) {
	bounds, err := c.Bounds()
	if err != nil {
		return domain.SearchBounds{}, err
	}
	if s.GPUMin > 0 {
		bounds.GPUMin = s.GPUMin
	}
	if s.GPUMax > 0 {
		bounds.GPUMax = s.GPUMax
	}
	if s.TimeMin != "" {
		if bounds.TimeMin, err = domain.ParseDuration(s.TimeMin); err != nil {
			return domain.SearchBounds{}, fmt.Errorf("autorun %s time_min: %w", s.Name, err)
		}
	}
	if s.TimeMax != "" {
		if bounds.TimeMax, err = domain.ParseDuration(s.TimeMax); err != nil {
			return domain.SearchBounds{}, fmt.Errorf("autorun %s time_max: %w", s.Name, err)
		}
	}
	return bounds, nil
}

// PollInterval parses probe.poll_interval.
func (c *Config) PollInterval() (time.Duration, error) {
	d, err := time.ParseDuration(c.Probe.PollInterval)
	if err != nil {
		return 0, fmt.Errorf("probe.poll_interval: %w", err)
	}
	return d, nil
}

// ObservationTimeout parses probe.observation_timeout.
func (c *Config) ObservationTimeout() (time.Duration, error) {
	d, err := time.ParseDuration(c.Probe.ObservationTimeout)
	if err != nil {
		return 0, fmt.Errorf("probe.observation_timeout: %w", err)
	}
	return d, nil
}

// ProbeTime parses probe.probe_time, the fixed walltime for GPU-phase probes.
func (c *Config) ProbeTime() (time.Duration, error) {
	d, err := domain.ParseDuration(c.Probe.ProbeTime)
	if err != nil {
		return 0, fmt.Errorf("probe.probe_time: %w", err)
	}
	return d, nil
}

// ExpandPath expands ~ to the user's home directory
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// DefaultConfigPath returns the default config file location
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "gpuscout", "config.toml")
}
