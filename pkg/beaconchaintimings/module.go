// Package beaconchaintimings implements the peripheral
// beacon_chain_timings module (SPEC_FULL.md §4.18): block-arrival-time
// percentiles and block-size CDFs, bucketed per (network, time_window) on
// a shared interval. Grounded on
// original_source/backend/lab/modules/beacon_chain_timings/module.py's
// DataProcessor subclasses, instantiated here as a peer of beacon and
// xatu_public_contributors rather than a specialization (Design Notes §9).
package beaconchaintimings

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethpandaops/lab/internal/config"
	"github.com/ethpandaops/lab/internal/errs"
	"github.com/ethpandaops/lab/pkg/module"
	"github.com/ethpandaops/lab/pkg/objectstore"
	"github.com/ethpandaops/lab/pkg/statestore"
	"github.com/ethpandaops/lab/pkg/warehouse"
	"github.com/rs/zerolog"
)

// ModuleName is the path prefix / state-module identifier.
const ModuleName = "beacon_chain_timings"

// arrivalPercentilesQuery buckets block-arrival times into the window's
// step interval and computes arrival-time percentiles, mirroring
// DataProcessor._process_block_timings's toStartOfInterval grouping.
const arrivalPercentilesQuery = `
SELECT
    toStartOfInterval(slot_start_date_time, INTERVAL @step_seconds second) AS bucket_start,
    quantile(0.05)(propagation_slot_start_diff) AS p05,
    quantile(0.50)(propagation_slot_start_diff) AS p50,
    quantile(0.95)(propagation_slot_start_diff) AS p95
FROM beacon_api_eth_v1_events_block
WHERE meta_network_name = @network
  AND slot_start_date_time BETWEEN @range_start AND @range_end
GROUP BY bucket_start
ORDER BY bucket_start`

// sizeCDFQuery reads block-arrival and block-size data, left-joins MEV-relay
// bid traces and proposer entities, and buckets by 32KB block-size buckets,
// mirroring DataProcessor._process_size_cdf. No blob table is read.
const sizeCDFQuery = `
SELECT
    intDiv(b.block_total_bytes, 32768) * 32768 AS size_bucket,
    count() AS block_count,
    avg(b.propagation_slot_start_diff) AS avg_propagation_ms
FROM beacon_api_eth_v1_events_block b
LEFT JOIN mev_relay_bid_trace r ON r.block_hash = b.execution_payload_block_hash
LEFT JOIN validator_entity e ON e.validator_index = b.proposer_index
WHERE b.meta_network_name = @network
  AND b.slot_start_date_time BETWEEN @range_start AND @range_end
GROUP BY size_bucket
ORDER BY size_bucket`

type bucketRow struct {
	BucketStartMS int64   `json:"bucket_start_ms"`
	P05           float64 `json:"p05_ms"`
	P50           float64 `json:"p50_ms"`
	P95           float64 `json:"p95_ms"`
}

type sizeBucketRow struct {
	SizeBucketBytes   int64   `json:"size_bucket_bytes"`
	BlockCount        int64   `json:"block_count"`
	AvgPropagationMS  float64 `json:"avg_propagation_ms"`
}

// NetworkWindow pairs a network with one configured time window.
type NetworkWindow struct {
	Network string
	Window  config.TimeWindowConfig
}

// blockTimingsProcessor runs the arrival-time-percentiles query for every
// configured (network, window) pair on one shared interval.
type blockTimingsProcessor struct {
	*module.BasePeriodic
	windows []NetworkWindow
	wh      warehouse.WarehouseClient
	store   objectstore.ObjectStore
	logger  zerolog.Logger
}

func newBlockTimingsProcessor(windows []NetworkWindow, interval time.Duration, wh warehouse.WarehouseClient, store objectstore.ObjectStore, state *statestore.Store, logger zerolog.Logger) *blockTimingsProcessor {
	p := &blockTimingsProcessor{windows: windows, wh: wh, store: store, logger: logger.With().Str("sub_processor", "block_timings").Logger()}
	p.BasePeriodic = module.NewBasePeriodic("block_timings", interval, state, p.logger, p.processAll)
	return p
}

func (p *blockTimingsProcessor) processAll(ctx context.Context) error {
	var firstErr error
	for _, nw := range p.windows {
		if err := p.processOne(ctx, nw); err != nil {
			p.logger.Error().Err(err).Str("network", nw.Network).Str("window", nw.Window.File).Msg("block_timings: window failed")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
	}
	return firstErr
}

func (p *blockTimingsProcessor) processOne(ctx context.Context, nw NetworkWindow) error {
	step, err := nw.Window.StepDuration()
	if err != nil {
		return errs.New(errs.ConfigInvalid, "block_timings.processOne", err)
	}
	rng, err := nw.Window.RangeDuration()
	if err != nil {
		return errs.New(errs.ConfigInvalid, "block_timings.processOne", err)
	}

	now := time.Now()
	rows, err := p.wh.Query(ctx, arrivalPercentilesQuery, map[string]interface{}{
		"network":      nw.Network,
		"step_seconds": int64(step.Seconds()),
		"range_start":  now.Add(-rng),
		"range_end":    now,
	})
	if err != nil {
		return errs.New(errs.Transient, "block_timings.processOne", err)
	}
	defer rows.Close()

	var buckets []bucketRow
	for rows.Next() {
		var b bucketRow
		if err := rows.Scan(&b.BucketStartMS, &b.P05, &b.P50, &b.P95); err != nil {
			return errs.New(errs.DataIntegrity, "block_timings.processOne", err)
		}
		buckets = append(buckets, b)
	}
	if err := rows.Err(); err != nil {
		return errs.New(errs.Transient, "block_timings.processOne", err)
	}

	data, err := json.Marshal(buckets)
	if err != nil {
		return errs.New(errs.DataIntegrity, "block_timings.processOne", err)
	}
	key := fmt.Sprintf("%s/block_timings/%s/%s.json", ModuleName, nw.Network, nw.Window.File)
	return p.store.Put(ctx, key, data, objectstore.PutOptions{ContentType: "application/json"})
}

// sizeCDFProcessor runs the block-size CDF query for every configured
// (network, window) pair on the same shared interval.
type sizeCDFProcessor struct {
	*module.BasePeriodic
	windows []NetworkWindow
	wh      warehouse.WarehouseClient
	store   objectstore.ObjectStore
	logger  zerolog.Logger
}

func newSizeCDFProcessor(windows []NetworkWindow, interval time.Duration, wh warehouse.WarehouseClient, store objectstore.ObjectStore, state *statestore.Store, logger zerolog.Logger) *sizeCDFProcessor {
	p := &sizeCDFProcessor{windows: windows, wh: wh, store: store, logger: logger.With().Str("sub_processor", "size_cdf").Logger()}
	p.BasePeriodic = module.NewBasePeriodic("size_cdf", interval, state, p.logger, p.processAll)
	return p
}

func (p *sizeCDFProcessor) processAll(ctx context.Context) error {
	var firstErr error
	for _, nw := range p.windows {
		if err := p.processOne(ctx, nw); err != nil {
			p.logger.Error().Err(err).Str("network", nw.Network).Str("window", nw.Window.File).Msg("size_cdf: window failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (p *sizeCDFProcessor) processOne(ctx context.Context, nw NetworkWindow) error {
	rng, err := nw.Window.RangeDuration()
	if err != nil {
		return errs.New(errs.ConfigInvalid, "size_cdf.processOne", err)
	}
	now := time.Now()
	rows, err := p.wh.Query(ctx, sizeCDFQuery, map[string]interface{}{
		"network":     nw.Network,
		"range_start": now.Add(-rng),
		"range_end":   now,
	})
	if err != nil {
		return errs.New(errs.Transient, "size_cdf.processOne", err)
	}
	defer rows.Close()

	var buckets []sizeBucketRow
	for rows.Next() {
		var b sizeBucketRow
		if err := rows.Scan(&b.SizeBucketBytes, &b.BlockCount, &b.AvgPropagationMS); err != nil {
			return errs.New(errs.DataIntegrity, "size_cdf.processOne", err)
		}
		buckets = append(buckets, b)
	}
	if err := rows.Err(); err != nil {
		return errs.New(errs.Transient, "size_cdf.processOne", err)
	}

	data, err := json.Marshal(buckets)
	if err != nil {
		return errs.New(errs.DataIntegrity, "size_cdf.processOne", err)
	}
	key := fmt.Sprintf("%s/size_cdf/%s/%s.json", ModuleName, nw.Network, nw.Window.File)
	return p.store.Put(ctx, key, data, objectstore.PutOptions{ContentType: "application/json"})
}

// New builds the beacon_chain_timings Module: two periodic processors
// (block_timings, size_cdf) sharing one interval across all configured
// (network, window) pairs.
func New(cfg *config.BeaconChainTimingsConfig, wh warehouse.WarehouseClient, store objectstore.ObjectStore, state *statestore.Store, logger zerolog.Logger) (*module.Module, error) {
	interval, err := cfg.IntervalDuration()
	if err != nil {
		return nil, errs.New(errs.ConfigInvalid, "beaconchaintimings.New", err)
	}

	windows := make([]NetworkWindow, 0, len(cfg.Networks)*len(cfg.TimeWindows))
	for _, n := range cfg.Networks {
		for _, w := range cfg.TimeWindows {
			windows = append(windows, NetworkWindow{Network: n, Window: w})
		}
	}

	bt := newBlockTimingsProcessor(windows, interval, wh, store, state, logger)
	sc := newSizeCDFProcessor(windows, interval, wh, store, state, logger)
	return module.New(ModuleName, logger, bt, sc), nil
}
