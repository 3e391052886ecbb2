package beacon

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ethpandaops/lab/internal/errs"
	"github.com/ethpandaops/lab/pkg/geocoder"
	"github.com/ethpandaops/lab/pkg/metrics"
	"github.com/ethpandaops/lab/pkg/network"
	"github.com/ethpandaops/lab/pkg/objectstore"
	"github.com/ethpandaops/lab/pkg/statestore"
	"github.com/ethpandaops/lab/pkg/warehouse"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// middleLookback is how far behind the head target the middle phase starts,
// per spec.md §4.8.
const middleLookback = 300

// backlogSleep is the inter-slot pause for the backlog phase
// (BACKLOG_SLEEP_MS), per spec.md §4.8.
const backlogSleep = 500 * time.Millisecond

// BacklogConfig selects the backlog phase's target: exactly one of
// ForkName, TargetDate, TargetSlot should be set; if none is, the default
// is "1 day ago", per spec.md §4.8 (the legacy "deneb fork" default is not
// replicated — see DESIGN.md).
type BacklogConfig struct {
	ForkName   string
	TargetDate *time.Time
	TargetSlot *int64
}

// Config wires a SlotProcessor's collaborators for one (module, network)
// pair.
type Config struct {
	ModuleName   string
	Network      *network.Network
	HeadLagSlots int64
	Backlog      BacklogConfig

	ObjectStore objectstore.ObjectStore
	Warehouse   warehouse.WarehouseClient
	State       *statestore.Store
	Geocoder    *geocoder.Geocoder
	Logger      zerolog.Logger
}

// SlotProcessor (C8) is the per-(module,network) three-phase driver that
// fuses several warehouse queries for a slot into one SlotArtifact and
// publishes it. Grounded on
// original_source/backend/lab/modules/beacon/processors/slots.py's
// OptimizedSlotProcessor.
type SlotProcessor struct {
	cfg    Config
	logger zerolog.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New builds a SlotProcessor. Name, per spec.md §4.6, is used as the
// state-key prefix.
func New(cfg Config) *SlotProcessor {
	return &SlotProcessor{
		cfg:    cfg,
		logger: cfg.Logger.With().Str("processor", "slot_"+cfg.Network.Name).Logger(),
		stopCh: make(chan struct{}),
	}
}

// Name is the Processor identifier / state-key prefix, e.g. "slot_mainnet".
func (p *SlotProcessor) Name() string { return "slot_" + p.cfg.Network.Name }

// Start launches Head immediately; Middle runs to completion (bounded) then
// Backlog is launched, matching spec.md §4.8's start ordering rationale.
func (p *SlotProcessor) Start(ctx context.Context) error {
	p.wg.Add(1)
	go p.runHead(ctx)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.runMiddle(ctx)
		select {
		case <-p.stopCh:
			return
		default:
		}
		p.wg.Add(1)
		go p.runBacklog(ctx)
	}()
	return nil
}

// Stop cancels all three phases and awaits them.
func (p *SlotProcessor) Stop() {
	close(p.stopCh)
	p.wg.Wait()
}

func (p *SlotProcessor) headTarget() int64 {
	return p.cfg.Network.Clock().CurrentSlot() - p.cfg.HeadLagSlots
}

// runHead reprocesses (current wall-clock slot - head_lag) once at startup
// and again on every subsequent slot-change event from the network's
// WallClock, instead of computing its own sleep-until-next-slot timer. No
// durable state: head always recomputes from wall-clock, per spec.md §4.8.
func (p *SlotProcessor) runHead(ctx context.Context) {
	defer p.wg.Done()

	slotCh := make(chan struct{}, 1)
	p.cfg.Network.Clock().OnSlotChanged(func(int64) {
		select {
		case slotCh <- struct{}{}:
		default:
		}
	})

	p.processHead(ctx)
	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-slotCh:
			p.processHead(ctx)
		}
	}
}

func (p *SlotProcessor) processHead(ctx context.Context) {
	target := p.headTarget()
	if target < 0 {
		return
	}
	if err := p.processSlot(ctx, target, "head"); err != nil {
		p.logger.Error().Err(err).Int64("slot", target).Msg("head: process_slot failed")
	}
}

type middleState struct {
	LastProcessedSlot int64  `json:"last_processed_slot"`
	TargetSlot        int64  `json:"target_slot"`
	Direction         string `json:"direction"`
}

// runMiddle starts at headTarget-300 and walks forward to headTarget,
// persisting progress after every slot (success or skipped-on-error),
// exiting once caught up. Per spec.md §7, middle advances current_slot
// even when process_slot fails, to avoid permanently stalling on one bad
// slot (the asymmetry with backlog is intentional — see spec.md §9).
func (p *SlotProcessor) runMiddle(ctx context.Context) {
	target := p.headTarget()
	current := target - middleLookback
	if current < 0 {
		current = 0
	}

	if saved, ok := p.loadMiddleState(); ok {
		current = saved.LastProcessedSlot + 1
	}

	for current <= target {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		metrics.SlotProcessorLag.WithLabelValues(p.cfg.Network.Name, "middle").Set(float64(target - current))
		if err := p.processSlot(ctx, current, "middle"); err != nil {
			p.logger.Error().Err(err).Int64("slot", current).Msg("middle: process_slot failed")
		}

		if err := p.saveMiddleState(middleState{LastProcessedSlot: current, TargetSlot: target, Direction: "middle"}); err != nil {
			p.logger.Error().Err(err).Msg("middle: failed to persist state")
		}
		current++

		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-time.After(10 * time.Millisecond):
		}
	}
}

type backwardState struct {
	CurrentSlot int64  `json:"current_slot"`
	TargetSlot  int64  `json:"target_slot"`
	Direction   string `json:"direction"`
}

// runBacklog walks backward from headTarget toward the configured backlog
// target, sleeping backlogSleep between slots. Per spec.md §7, backlog does
// NOT advance current_slot on failure, preserving completeness guarantees
// for backfill: the same slot is retried on the next iteration within this
// run, and on restart.
func (p *SlotProcessor) runBacklog(ctx context.Context) {
	defer p.wg.Done()

	targetSlot := p.resolveBacklogTarget()
	current := p.headTarget()
	if saved, ok := p.loadBackwardState(); ok {
		current = saved.CurrentSlot
	}

	for current > targetSlot {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		metrics.SlotProcessorLag.WithLabelValues(p.cfg.Network.Name, "backlog").Set(float64(current - targetSlot))
		if err := p.processSlot(ctx, current, "backlog"); err != nil {
			p.logger.Error().Err(err).Int64("slot", current).Msg("backlog: process_slot failed, not advancing")
			select {
			case <-p.stopCh:
				return
			case <-ctx.Done():
				return
			case <-time.After(backlogSleep):
			}
			continue
		}

		current--
		if err := p.saveBackwardState(backwardState{CurrentSlot: current, TargetSlot: targetSlot, Direction: "backward"}); err != nil {
			p.logger.Error().Err(err).Msg("backlog: failed to persist state")
		}

		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-time.After(backlogSleep):
		}
	}
}

// resolveBacklogTarget picks the backward phase's stopping slot from
// BacklogConfig: exactly one of {ForkName, TargetDate, TargetSlot}; absent
// all three, default to "1 day ago" (spec.md §4.8 — the legacy "deneb
// fork" default is explicitly not replicated, per DESIGN.md).
func (p *SlotProcessor) resolveBacklogTarget() int64 {
	switch {
	case p.cfg.Backlog.TargetSlot != nil:
		return *p.cfg.Backlog.TargetSlot
	case p.cfg.Backlog.TargetDate != nil:
		return p.cfg.Network.Clock().TimeToSlot(*p.cfg.Backlog.TargetDate)
	case p.cfg.Backlog.ForkName != "":
		if epoch, ok := p.cfg.Network.ForkEpoch(p.cfg.Backlog.ForkName); ok {
			return epoch * 32
		}
		fallthrough
	default:
		return p.cfg.Network.Clock().TimeToSlot(time.Now().Add(-24 * time.Hour))
	}
}

func (p *SlotProcessor) loadMiddleState() (middleState, bool) {
	v, err := p.cfg.State.Get(p.Name() + "_middle")
	if err != nil {
		return middleState{}, false
	}
	return decodeState[middleState](v)
}

func (p *SlotProcessor) saveMiddleState(s middleState) error {
	return p.cfg.State.Set(p.Name()+"_middle", s)
}

func (p *SlotProcessor) loadBackwardState() (backwardState, bool) {
	v, err := p.cfg.State.Get(p.Name() + "_backward")
	if err != nil {
		return backwardState{}, false
	}
	return decodeState[backwardState](v)
}

func (p *SlotProcessor) saveBackwardState(s backwardState) error {
	return p.cfg.State.Set(p.Name()+"_backward", s)
}

// decodeState round-trips a state value through JSON, since values loaded
// from the StateStore after a restart arrive as map[string]interface{}
// (decoded from state.json), while freshly Set values are the typed struct
// itself.
func decodeState[T any](v interface{}) (T, bool) {
	var out T
	if typed, ok := v.(T); ok {
		return typed, true
	}
	data, err := json.Marshal(v)
	if err != nil {
		return out, false
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, false
	}
	return out, true
}

func (p *SlotProcessor) objectKey(slot int64) string {
	return fmt.Sprintf("%s/slots/%s/%d.json", p.cfg.ModuleName, p.cfg.Network.Name, slot)
}

// ProcessSlot runs process_slot(slot) per spec.md §4.8 and is exported so
// tests can call it directly. It is
// idempotent: step 1's exists-check makes a second call on an
// already-published slot a no-op that returns ok (I4).
func (p *SlotProcessor) ProcessSlot(ctx context.Context, slot int64) error {
	return p.processSlot(ctx, slot, "manual")
}

func (p *SlotProcessor) processSlot(ctx context.Context, slot int64, phase string) error {
	start := time.Now()
	key := p.objectKey(slot)
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDurationVec(metrics.SlotProcessDuration, p.cfg.Network.Name, phase)
	}()

	if p.cfg.ObjectStore.Exists(ctx, key) {
		metrics.SlotsProcessedTotal.WithLabelValues(p.cfg.Network.Name, phase, "already_published").Inc()
		return nil
	}

	start1, end1 := p.cfg.Network.Clock().SlotWindow(slot)

	var block *BlockSummary
	var proposer *ProposerInfo
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		block, err = FetchBlockData(gctx, p.cfg.Warehouse, p.cfg.Network.Name, slot, start1, end1)
		return err
	})
	g.Go(func() error {
		var err error
		proposer, err = FetchProposerData(gctx, p.cfg.Warehouse, p.cfg.Network.Name, slot, start1, end1)
		return err
	})
	if err := g.Wait(); err != nil {
		p.logger.Error().Err(err).Int64("slot", slot).Msg("process_slot: no block produced or data not yet available")
		metrics.SlotsProcessedTotal.WithLabelValues(p.cfg.Network.Name, phase, "failure").Inc()
		return err
	}

	var (
		maxVotes      int64
		entity        string
		blockSeen     map[string]int64
		blockSeenGeo  map[string]clientGeo
		blobSeen      map[string]map[int]int64
		blockP2P      map[string]int64
		blobP2P       map[string]map[int]int64
		attestVotes   map[int64]int64
	)
	g2, gctx2 := errgroup.WithContext(ctx)
	g2.Go(func() (err error) {
		maxVotes, err = FetchMaxAttestationVotes(gctx2, p.cfg.Warehouse, p.cfg.Network.Name, slot, start1, end1)
		return err
	})
	g2.Go(func() (err error) {
		entity, err = FetchProposerEntity(gctx2, p.cfg.Warehouse, proposer.ValidatorIndex)
		return err
	})
	g2.Go(func() (err error) {
		blockSeen, blockSeenGeo, err = FetchBlockSeenAPI(gctx2, p.cfg.Warehouse, p.cfg.Network.Name, slot, start1, end1)
		return err
	})
	g2.Go(func() (err error) {
		blobSeen, err = FetchBlobSeenAPI(gctx2, p.cfg.Warehouse, p.cfg.Network.Name, slot, start1, end1)
		return err
	})
	g2.Go(func() (err error) {
		blockP2P, err = FetchBlockFirstSeenP2P(gctx2, p.cfg.Warehouse, p.cfg.Network.Name, slot, start1, end1)
		return err
	})
	g2.Go(func() (err error) {
		blobP2P, err = FetchBlobFirstSeenP2P(gctx2, p.cfg.Warehouse, p.cfg.Network.Name, slot, start1, end1)
		return err
	})
	g2.Go(func() (err error) {
		attestVotes, err = FetchAttestationVotes(gctx2, p.cfg.Warehouse, p.cfg.Network.Name, slot, block.BlockRoot, start1, end1)
		return err
	})
	if err := g2.Wait(); err != nil {
		p.logger.Error().Err(err).Int64("slot", slot).Msg("process_slot: partial fetch failure")
		metrics.SlotsProcessedTotal.WithLabelValues(p.cfg.Network.Name, phase, "failure").Inc()
		return err
	}

	artifact := p.transform(slot, block, proposer, entity, maxVotes, blockSeen, blockSeenGeo, blobSeen, blockP2P, blobP2P, attestVotes, start)

	data, err := json.Marshal(artifact)
	if err != nil {
		return errs.New(errs.DataIntegrity, "beacon.processSlot", err)
	}
	if err := p.cfg.ObjectStore.Put(ctx, key, data, objectstore.PutOptions{
		ContentType:  "application/json",
		CacheControl: "public,max-age=86400,s-maxage=86400",
	}); err != nil {
		p.logger.Error().Err(err).Int64("slot", slot).Msg("process_slot: publish failed")
		metrics.SlotsProcessedTotal.WithLabelValues(p.cfg.Network.Name, phase, "failure").Inc()
		return err
	}
	metrics.SlotsProcessedTotal.WithLabelValues(p.cfg.Network.Name, phase, "success").Inc()
	return nil
}

func (p *SlotProcessor) transform(
	slot int64,
	block *BlockSummary,
	proposer *ProposerInfo,
	entity string,
	maxVotes int64,
	blockSeen map[string]int64,
	blockSeenGeo map[string]clientGeo,
	blobSeen map[string]map[int]int64,
	blockP2P map[string]int64,
	blobP2P map[string]map[int]int64,
	attestVotes map[int64]int64,
	startedAt time.Time,
) SlotArtifact {
	timings := newTimings()
	timings.BlockSeen = blockSeen
	timings.BlobSeen = blobSeen
	timings.BlockFirstSeenP2P = blockP2P
	timings.BlobFirstSeenP2P = blobP2P

	nodes := map[string]NodeInfo{}
	for clientName := range blockSeen {
		nodes[clientName] = p.nodeInfo(clientName, blockSeenGeo[clientName])
	}
	for clientName := range blockP2P {
		if _, ok := nodes[clientName]; !ok {
			nodes[clientName] = p.nodeInfo(clientName, blockSeenGeo[clientName])
		}
	}

	return SlotArtifact{
		Slot:             slot,
		Network:          p.cfg.Network.Name,
		ProcessedAt:      time.Now().Unix(),
		ProcessingTimeMS: time.Since(startedAt).Milliseconds(),
		Block:            *block,
		Proposer:         *proposer,
		Entity:           entity,
		Nodes:            nodes,
		Timings:          timings,
		Attestations: AttestationSummary{
			MaximumVotes: maxVotes,
			Windows:      BucketAttestationVotes(attestVotes),
		},
	}
}

// nodeInfo builds a NodeInfo for a client_name, deriving its username and
// resolving its observed geo triple to coordinates via the Geocoder (C11).
// A client only seen via a P2P table (no matching blockSeenAPI row) has no
// geo triple, so geo resolution falls through to unresolved, same as
// Geocoder.Resolve does for an all-empty triple.
func (p *SlotProcessor) nodeInfo(clientName string, geo clientGeo) NodeInfo {
	info := NodeInfo{Name: clientName, Username: ExtractUsername(clientName)}
	if p.cfg.Geocoder == nil {
		return info
	}
	if pt, ok := p.cfg.Geocoder.Resolve(geo.City, geo.Country, geo.Continent); ok {
		info.Geo = GeoInfo{
			City:      geo.City,
			Country:   geo.Country,
			Continent: geo.Continent,
			Lat:       pt.Lat,
			Lon:       pt.Lon,
		}
	}
	return info
}
