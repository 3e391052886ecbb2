// Package network implements the NetworkCatalog (C5): at startup, for each
// configured network, downloads and parses the network's remote beacon
// config.yaml and builds a WallClock and fork-epoch table. Grounded on
// original_source/backend/lab/ethereum/{network.py,manager.py}.
package network

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/ethpandaops/lab/internal/errs"
	"github.com/ethpandaops/lab/pkg/wallclock"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Fork names in chronological order.
const (
	ForkGenesis   = "genesis"
	ForkAltair    = "altair"
	ForkBellatrix = "bellatrix"
	ForkCapella   = "capella"
	ForkDeneb     = "deneb"
	ForkElectra   = "electra"
)

// rawConfig mirrors the well-known fields of a beacon-chain config.yaml,
// matching NetworkConfig in original_source/backend/lab/ethereum/network.py.
type rawConfig struct {
	PresetBase      string `yaml:"PRESET_BASE"`
	ConfigName      string `yaml:"CONFIG_NAME"`
	AltairEpoch     int64  `yaml:"ALTAIR_FORK_EPOCH"`
	BellatrixEpoch  int64  `yaml:"BELLATRIX_FORK_EPOCH"`
	CapellaEpoch    int64  `yaml:"CAPELLA_FORK_EPOCH"`
	DenebEpoch      int64  `yaml:"DENEB_FORK_EPOCH"`
	ElectraEpoch    *int64 `yaml:"ELECTRA_FORK_EPOCH"`
	SecondsPerSlot  int64  `yaml:"SECONDS_PER_SLOT"`
}

// Config is a single network's resolved configuration.
type Config struct {
	Name           string
	GenesisTime    int64
	SecondsPerSlot int64
	ForkEpoch      map[string]int64
}

// Network is one initialized Ethereum network: its fork table and clock.
type Network struct {
	Name        string
	ConfigURL   string
	GenesisTime int64

	config *Config
	clock  *wallclock.WallClock
}

// NewNetwork builds an already-initialized Network directly from a resolved
// Config, bypassing the remote YAML fetch. Used by tests and by any caller
// that already has fork-epoch/genesis data in hand.
func NewNetwork(cfg Config) *Network {
	return &Network{
		Name:        cfg.Name,
		GenesisTime: cfg.GenesisTime,
		config:      &cfg,
		clock:       wallclock.New(cfg.GenesisTime, time.Duration(cfg.SecondsPerSlot)*time.Second),
	}
}

// Initialize downloads and parses the network's config.yaml and builds its
// WallClock. A failure here is fatal per SPEC_FULL.md §4.5.
func (n *Network) Initialize(ctx context.Context, httpClient *http.Client, logger zerolog.Logger) error {
	logger.Info().Str("network", n.Name).Str("config_url", n.ConfigURL).Msg("downloading network config")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.ConfigURL, nil)
	if err != nil {
		return errs.New(errs.Fatal, "network.Initialize", err)
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		logger.Error().Err(err).Str("network", n.Name).Msg("error downloading config")
		return errs.New(errs.Transient, "network.Initialize", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return errs.New(errs.Transient, "network.Initialize", fmt.Errorf("unexpected status %d", resp.StatusCode))
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errs.New(errs.Transient, "network.Initialize", err)
	}

	var raw rawConfig
	if err := yaml.Unmarshal(body, &raw); err != nil {
		return errs.New(errs.ConfigInvalid, "network.Initialize", err)
	}

	forks := map[string]int64{
		ForkGenesis:   0,
		ForkAltair:    raw.AltairEpoch,
		ForkBellatrix: raw.BellatrixEpoch,
		ForkCapella:   raw.CapellaEpoch,
		ForkDeneb:     raw.DenebEpoch,
	}
	if raw.ElectraEpoch != nil {
		forks[ForkElectra] = *raw.ElectraEpoch
	}

	n.config = &Config{
		Name:           n.Name,
		GenesisTime:    n.GenesisTime,
		SecondsPerSlot: raw.SecondsPerSlot,
		ForkEpoch:      forks,
	}
	n.clock = wallclock.New(n.GenesisTime, time.Duration(raw.SecondsPerSlot)*time.Second)
	return nil
}

// GetCurrentFork returns the fork name active at slot (or at the current
// wall-clock slot if slot is nil), checking forks in reverse chronological
// order, matching EthereumNetwork.get_current_fork.
func (n *Network) GetCurrentFork(slot *int64) string {
	s := int64(0)
	if slot != nil {
		s = *slot
	} else if n.clock != nil {
		s = n.clock.CurrentSlot()
	}
	epoch := s / 32

	if v, ok := n.config.ForkEpoch[ForkElectra]; ok && epoch >= v {
		return ForkElectra
	}
	if epoch >= n.config.ForkEpoch[ForkDeneb] {
		return ForkDeneb
	}
	if epoch >= n.config.ForkEpoch[ForkCapella] {
		return ForkCapella
	}
	if epoch >= n.config.ForkEpoch[ForkBellatrix] {
		return ForkBellatrix
	}
	if epoch >= n.config.ForkEpoch[ForkAltair] {
		return ForkAltair
	}
	return ForkGenesis
}

// ForkEpoch returns the epoch at which forkName activates.
func (n *Network) ForkEpoch(forkName string) (int64, bool) {
	v, ok := n.config.ForkEpoch[forkName]
	return v, ok
}

// Forks returns all known fork epochs.
func (n *Network) Forks() map[string]int64 { return n.config.ForkEpoch }

// Clock returns the network's WallClock.
func (n *Network) Clock() *wallclock.WallClock { return n.clock }

// Stop releases the network's WallClock, stopping its ethwallclock ticker
// goroutine.
func (n *Network) Stop() {
	if n.clock != nil {
		n.clock.Stop()
	}
}

// Config returns the network's resolved Config.
func (n *Network) Config() *Config { return n.config }

// Catalog manages the set of configured networks (C5).
type Catalog struct {
	mu       sync.RWMutex
	networks map[string]*Network
	logger   zerolog.Logger
}

// NewCatalog builds an (uninitialized) catalog from the given network
// bootstrap entries.
func NewCatalog(entries map[string]struct {
	ConfigURL   string
	GenesisTime int64
}, logger zerolog.Logger) *Catalog {
	c := &Catalog{networks: make(map[string]*Network, len(entries)), logger: logger}
	for name, e := range entries {
		c.networks[name] = &Network{Name: name, ConfigURL: e.ConfigURL, GenesisTime: e.GenesisTime}
	}
	return c
}

// Initialize downloads and parses every configured network concurrently,
// matching NetworkManager.initialize's asyncio.gather fan-out.
func (c *Catalog) Initialize(ctx context.Context, httpClient *http.Client) error {
	c.mu.RLock()
	networks := make([]*Network, 0, len(c.networks))
	for _, n := range c.networks {
		networks = append(networks, n)
	}
	c.mu.RUnlock()

	errCh := make(chan error, len(networks))
	for _, n := range networks {
		go func(n *Network) {
			errCh <- n.Initialize(ctx, httpClient, c.logger)
		}(n)
	}
	var firstErr error
	for range networks {
		if err := <-errCh; err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Stop releases every network's WallClock. Must be called on shutdown so no
// ethwallclock ticker goroutine outlives the process.
func (c *Catalog) Stop() {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, n := range c.networks {
		n.Stop()
	}
}

// GetNetwork returns the named network, or an error if it was never
// configured.
func (c *Catalog) GetNetwork(name string) (*Network, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n, ok := c.networks[name]
	if !ok {
		return nil, errs.New(errs.NotFound, "Catalog.GetNetwork", fmt.Errorf("network %s not found", name))
	}
	return n, nil
}
