package beacon

import (
	"time"

	"github.com/ethpandaops/lab/internal/config"
	"github.com/ethpandaops/lab/internal/errs"
	"github.com/ethpandaops/lab/pkg/geocoder"
	"github.com/ethpandaops/lab/pkg/module"
	"github.com/ethpandaops/lab/pkg/network"
	"github.com/ethpandaops/lab/pkg/objectstore"
	"github.com/ethpandaops/lab/pkg/statestore"
	"github.com/ethpandaops/lab/pkg/warehouse"
	"github.com/rs/zerolog"
)

// ModuleName is the beacon module's path prefix / state-module identifier.
const ModuleName = "beacon"

// NewModule builds the beacon Module (C7): one SlotProcessor (C8) per
// configured network, each satisfying module.Processor directly since its
// Name/Start/Stop already match the contract — no BasePeriodic wrapper is
// needed, unlike the interval-driven peripheral modules.
func NewModule(cfg *config.BeaconConfig, root *config.Config, catalog *network.Catalog, wh warehouse.WarehouseClient, store objectstore.ObjectStore, state *statestore.Store, geo *geocoder.Geocoder, logger zerolog.Logger) (*module.Module, error) {
	netCfgs := cfg.NetworkConfig(root)

	processors := make([]module.Processor, 0, len(netCfgs))
	for name, nc := range netCfgs {
		net, err := catalog.GetNetwork(name)
		if err != nil {
			return nil, errs.New(errs.ConfigInvalid, "beacon.NewModule", err)
		}
		backlogTarget := net.Clock().TimeToSlot(nowMinusDays(nc.BacklogDays))
		sp := New(Config{
			ModuleName:   ModuleName,
			Network:      net,
			HeadLagSlots: int64(nc.HeadLagSlots),
			Backlog:      BacklogConfig{TargetSlot: &backlogTarget},
			ObjectStore:  store,
			Warehouse:    wh,
			State:        state,
			Geocoder:     geo,
			Logger:       logger,
		})
		processors = append(processors, sp)
	}
	return module.New(ModuleName, logger, processors...), nil
}

func nowMinusDays(days int) time.Time {
	return time.Now().Add(-time.Duration(days) * 24 * time.Hour)
}
