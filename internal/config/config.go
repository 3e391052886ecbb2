// Package config loads and validates the YAML configuration described in
// SPEC_FULL.md §6/§4.12.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethpandaops/lab/internal/errs"
	"gopkg.in/yaml.v3"
)

// Duration parses the spec's N(s|m|h|d) suffix grammar, mirroring
// TimeWindowConfig.get_step_timedelta/get_range_timedelta in
// original_source/backend/lab/core/config.py.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := ParseDuration(raw)
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

// ParseDuration parses a string like "6h" or "30d" into a time.Duration.
// Only s, m, h, d suffixes are accepted.
func ParseDuration(raw string) (time.Duration, error) {
	if raw == "" {
		return 0, fmt.Errorf("duration must not be empty")
	}
	unit := raw[len(raw)-1]
	valueStr := raw[:len(raw)-1]
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	switch unit {
	case 's':
		return time.Duration(value) * time.Second, nil
	case 'm':
		return time.Duration(value) * time.Minute, nil
	case 'h':
		return time.Duration(value) * time.Hour, nil
	case 'd':
		return time.Duration(value) * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("duration %q must end with s, m, h, or d", raw)
	}
}

// S3Config holds object-store connection settings.
type S3Config struct {
	Endpoint        string `yaml:"endpoint"`
	Region          string `yaml:"region"`
	Bucket          string `yaml:"bucket"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// StorageConfig wraps the object-store configuration.
type StorageConfig struct {
	S3 S3Config `yaml:"s3"`
}

// ClickHouseConfig holds the warehouse DSN.
type ClickHouseConfig struct {
	URL string `yaml:"url"`
}

// TimeWindowConfig describes one aggregation window (file suffix, bucket
// step, UI label, lookback range).
type TimeWindowConfig struct {
	File  string `yaml:"file"`
	Step  string `yaml:"step"`
	Label string `yaml:"label"`
	Range string `yaml:"range"`
}

func (w TimeWindowConfig) StepDuration() (time.Duration, error) { return ParseDuration(w.Step) }
func (w TimeWindowConfig) RangeDuration() (time.Duration, error) {
	d, err := ParseDuration(strings.TrimPrefix(w.Range, "-"))
	if err != nil {
		return 0, err
	}
	return d, nil
}

// ModuleConfig is the field set shared by every module's configuration.
type ModuleConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Description string `yaml:"description"`
	PathPrefix  string `yaml:"path_prefix"`
}

func (m ModuleConfig) FrontendConfig() map[string]interface{} {
	return map[string]interface{}{
		"enabled":     m.Enabled,
		"description": m.Description,
		"path_prefix": m.PathPrefix,
	}
}

// BeaconChainTimingsConfig configures the beacon_chain_timings module.
type BeaconChainTimingsConfig struct {
	ModuleConfig `yaml:",inline"`
	Networks     []string           `yaml:"networks"`
	TimeWindows  []TimeWindowConfig `yaml:"time_windows"`
	Interval     string             `yaml:"interval"`
}

func (c BeaconChainTimingsConfig) IntervalDuration() (time.Duration, error) {
	return ParseDuration(c.Interval)
}

func (c BeaconChainTimingsConfig) FrontendConfig() map[string]interface{} {
	out := c.ModuleConfig.FrontendConfig()
	out["networks"] = c.Networks
	out["time_windows"] = windowsFrontend(c.TimeWindows)
	return out
}

// XatuPublicContributorsConfig configures the xatu_public_contributors module.
type XatuPublicContributorsConfig struct {
	ModuleConfig  `yaml:",inline"`
	Networks      []string           `yaml:"networks"`
	TimeWindows   []TimeWindowConfig `yaml:"time_windows"`
	ScheduleHours int                `yaml:"schedule_hours"`
}

func (c XatuPublicContributorsConfig) IntervalDuration() time.Duration {
	return time.Duration(c.ScheduleHours) * time.Hour
}

func (c XatuPublicContributorsConfig) FrontendConfig() map[string]interface{} {
	out := c.ModuleConfig.FrontendConfig()
	out["networks"] = c.Networks
	out["time_windows"] = windowsFrontend(c.TimeWindows)
	return out
}

func windowsFrontend(ws []TimeWindowConfig) []map[string]string {
	out := make([]map[string]string, 0, len(ws))
	for _, w := range ws {
		out = append(out, map[string]string{
			"file": w.File, "step": w.Step, "label": w.Label, "range": w.Range,
		})
	}
	return out
}

// BeaconNetworkConfig is the per-network override for the beacon module.
type BeaconNetworkConfig struct {
	HeadLagSlots int `yaml:"head_lag_slots"`
	BacklogDays  int `yaml:"backlog_days"`
}

// DefaultBeaconNetworkConfig returns the spec.md §6 defaults
// (head_lag_slots=2, backlog_days=3).
func DefaultBeaconNetworkConfig() BeaconNetworkConfig {
	return BeaconNetworkConfig{HeadLagSlots: 2, BacklogDays: 3}
}

// BeaconConfig configures the beacon module.
type BeaconConfig struct {
	ModuleConfig `yaml:",inline"`
	Networks     map[string]BeaconNetworkConfig `yaml:"networks"`
}

// NetworkConfig resolves the merged per-network configuration: root-level
// network list as base, overlaid by any module-specific overrides; if no
// networks are configured at all, mainnet is used as the default, matching
// BeaconConfig.get_network_config in original_source/backend/lab/core/config.py.
func (c BeaconConfig) NetworkConfig(root *Config) map[string]BeaconNetworkConfig {
	merged := map[string]BeaconNetworkConfig{}
	if root != nil {
		for name := range root.Ethereum.Networks {
			merged[name] = DefaultBeaconNetworkConfig()
		}
	}
	for name, cfg := range c.Networks {
		merged[name] = cfg
	}
	if len(merged) == 0 {
		merged["mainnet"] = DefaultBeaconNetworkConfig()
	}
	return merged
}

func (c BeaconConfig) FrontendConfig(root *Config) map[string]interface{} {
	out := c.ModuleConfig.FrontendConfig()
	networks := map[string]interface{}{}
	for name, cfg := range c.NetworkConfig(root) {
		networks[name] = map[string]int{
			"head_lag_slots": cfg.HeadLagSlots,
			"backlog_days":   cfg.BacklogDays,
		}
	}
	out["networks"] = networks
	return out
}

// ModulesConfig holds the configuration for each known module.
type ModulesConfig struct {
	BeaconChainTimings    *BeaconChainTimingsConfig     `yaml:"beacon_chain_timings"`
	XatuPublicContributors *XatuPublicContributorsConfig `yaml:"xatu_public_contributors"`
	Beacon                *BeaconConfig                 `yaml:"beacon"`
}

// EthereumNetworkConfig describes one configured network's bootstrap info.
type EthereumNetworkConfig struct {
	ConfigURL   string `yaml:"config_url"`
	GenesisTime int64  `yaml:"genesis_time"`
}

// EthereumConfig holds the set of configured networks.
type EthereumConfig struct {
	Networks map[string]EthereumNetworkConfig `yaml:"networks"`
}

// Config is the top-level configuration document.
type Config struct {
	Storage    StorageConfig    `yaml:"storage"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
	Modules    ModulesConfig    `yaml:"modules"`
	Ethereum   EthereumConfig   `yaml:"ethereum"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// MetricsConfig configures the /metrics, /health, /ready, and /live HTTP
// endpoints, mirroring cmd/warren/main.go's local-only metrics server.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// DefaultMetricsAddr matches cmd/warren/main.go's metricsAddr default.
const DefaultMetricsAddr = "127.0.0.1:9090"

// Load reads and parses a YAML config file, then validates it.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.New(errs.ConfigInvalid, "config.Load", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errs.New(errs.ConfigInvalid, "config.Load", err)
	}
	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = DefaultMetricsAddr
	}
	if err := cfg.Validate(); err != nil {
		return nil, errs.New(errs.ConfigInvalid, "config.Validate", err)
	}
	return &cfg, nil
}

// Validate checks required fields and the duration grammar of
// modules.beacon_chain_timings.interval. Time-window step/range strings are
// not checked here; they are parsed when a processor uses them.
func (c *Config) Validate() error {
	if c.Storage.S3.Bucket == "" {
		return fmt.Errorf("storage.s3.bucket is required")
	}
	if c.ClickHouse.URL == "" {
		return fmt.Errorf("clickhouse.url is required")
	}
	if c.Modules.BeaconChainTimings != nil {
		if _, err := c.Modules.BeaconChainTimings.IntervalDuration(); err != nil {
			return fmt.Errorf("modules.beacon_chain_timings.interval: %w", err)
		}
	}
	for name, net := range c.Ethereum.Networks {
		if net.ConfigURL == "" {
			return fmt.Errorf("ethereum.networks.%s.config_url is required", name)
		}
	}
	return nil
}

// FrontendConfig builds the JSON-ready snapshot the FrontendConfigExporter
// publishes, mirroring Config.get_frontend_config in config.py. A configured
// but disabled module is omitted entirely, per spec.md §8 scenario 6.
func (c *Config) FrontendConfig() map[string]interface{} {
	networks := map[string]interface{}{}
	for name, net := range c.Ethereum.Networks {
		networks[name] = map[string]interface{}{"genesis_time": net.GenesisTime}
	}

	modules := map[string]interface{}{}
	if c.Modules.BeaconChainTimings != nil && c.Modules.BeaconChainTimings.Enabled {
		modules["beacon_chain_timings"] = c.Modules.BeaconChainTimings.FrontendConfig()
	}
	if c.Modules.XatuPublicContributors != nil && c.Modules.XatuPublicContributors.Enabled {
		modules["xatu_public_contributors"] = c.Modules.XatuPublicContributors.FrontendConfig()
	}
	if c.Modules.Beacon != nil && c.Modules.Beacon.Enabled {
		modules["beacon"] = c.Modules.Beacon.FrontendConfig(c)
	}

	return map[string]interface{}{
		"modules":  modules,
		"ethereum": map[string]interface{}{"networks": networks},
	}
}
