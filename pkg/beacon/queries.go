package beacon

import (
	"context"
	"time"

	"github.com/ethpandaops/lab/internal/errs"
	"github.com/ethpandaops/lab/pkg/warehouse"
)

// graceWindow is applied to every query except attestation votes, per
// spec.md §4.8 ("block and P2P events can be reported late; attestation
// propagation is measured exactly").
const graceWindow = 15 * time.Minute

// window computes [start-grace, end+grace) for a query, or the exact
// [start, end) slot window when grace is zero.
func window(start, end time.Time, grace time.Duration) (time.Time, time.Time) {
	return start.Add(-grace), end.Add(grace)
}

func namedArgs(network string, slot int64, start, end time.Time) map[string]interface{} {
	return map[string]interface{}{
		"network": network,
		"slot":    slot,
		"start":   start,
		"end":     end,
	}
}

const blockDataQuery = `
SELECT
    slot, slot_start_date_time, epoch, epoch_start_date_time,
    block_root, block_version, parent_root, state_root, proposer_index,
    execution_payload_block_number, execution_payload_block_hash,
    execution_payload_transactions_count
FROM beacon_api_eth_v2_beacon_block
WHERE meta_network_name = @network
  AND slot = @slot
  AND slot_start_date_time BETWEEN @start AND @end
LIMIT 1`

// FetchBlockData fetches the canonical block row for the slot. Returns
// errs.NotFound if no row exists, per spec.md §4.8 step 2.
func FetchBlockData(ctx context.Context, wh warehouse.WarehouseClient, network string, slot int64, start, end time.Time) (*BlockSummary, error) {
	s, e := window(start, end, graceWindow)
	rows, err := wh.Query(ctx, blockDataQuery, namedArgs(network, slot, s, e))
	if err != nil {
		return nil, errs.New(errs.Transient, "beacon.FetchBlockData", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, errs.New(errs.NotFound, "beacon.FetchBlockData", errEmptyResult{"block_data"})
	}
	var b BlockSummary
	if err := rows.Scan(&b.Slot, &b.SlotStartDateTime, &b.Epoch, &b.EpochStartDateTime,
		&b.BlockRoot, &b.BlockVersion, &b.ParentRoot, &b.StateRoot, &b.ProposerIndex,
		&b.ExecutionPayloadBlockNumber, &b.ExecutionPayloadBlockHash,
		&b.ExecutionPayloadTransactionsCount); err != nil {
		return nil, errs.New(errs.DataIntegrity, "beacon.FetchBlockData", err)
	}
	return &b, rows.Err()
}

const proposerDataQuery = `
SELECT slot, proposer_pubkey, proposer_validator_index
FROM beacon_api_eth_v1_validator_attestation_data
WHERE meta_network_name = @network AND slot = @slot
LIMIT 1`

// FetchProposerData fetches the proposer duty for the slot.
func FetchProposerData(ctx context.Context, wh warehouse.WarehouseClient, network string, slot int64, start, end time.Time) (*ProposerInfo, error) {
	s, e := window(start, end, graceWindow)
	rows, err := wh.Query(ctx, proposerDataQuery, namedArgs(network, slot, s, e))
	if err != nil {
		return nil, errs.New(errs.Transient, "beacon.FetchProposerData", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, errs.New(errs.NotFound, "beacon.FetchProposerData", errEmptyResult{"proposer_data"})
	}
	var p ProposerInfo
	if err := rows.Scan(&p.Slot, &p.Pubkey, &p.ValidatorIndex); err != nil {
		return nil, errs.New(errs.DataIntegrity, "beacon.FetchProposerData", err)
	}
	return &p, rows.Err()
}

// maxAttestationVotesQuery computes MAX(committee_size * (committee_index+1))
// across committees in the slot window, per the corrected formula in
// spec.md §9 (the `+1` fix; the unfixed form is the documented bug not to
// replicate).
const maxAttestationVotesQuery = `
SELECT MAX(committee_size * (committee_index + 1)) AS max_votes
FROM beacon_api_eth_v1_beacon_committee
WHERE meta_network_name = @network
  AND slot = @slot
  AND slot_start_date_time BETWEEN @start AND @end`

// FetchMaxAttestationVotes computes maximum_attestation_votes, defaulting
// to 0 when no committees are found.
func FetchMaxAttestationVotes(ctx context.Context, wh warehouse.WarehouseClient, network string, slot int64, start, end time.Time) (int64, error) {
	s, e := window(start, end, graceWindow)
	rows, err := wh.Query(ctx, maxAttestationVotesQuery, namedArgs(network, slot, s, e))
	if err != nil {
		return 0, errs.New(errs.Transient, "beacon.FetchMaxAttestationVotes", err)
	}
	defer rows.Close()

	var max *int64
	if rows.Next() {
		if err := rows.Scan(&max); err != nil {
			return 0, errs.New(errs.DataIntegrity, "beacon.FetchMaxAttestationVotes", err)
		}
	}
	if err := rows.Err(); err != nil {
		return 0, errs.New(errs.Transient, "beacon.FetchMaxAttestationVotes", err)
	}
	if max == nil {
		return 0, nil
	}
	return *max, nil
}

const proposerEntityQuery = `
SELECT entity
FROM validator_entity
WHERE validator_index = @validator_index
LIMIT 1`

// FetchProposerEntity fetches the optional operator label for a validator
// index. A missing entity is not an error — it's returned as "".
func FetchProposerEntity(ctx context.Context, wh warehouse.WarehouseClient, validatorIndex int64) (string, error) {
	rows, err := wh.Query(ctx, proposerEntityQuery, map[string]interface{}{"validator_index": validatorIndex})
	if err != nil {
		return "", errs.New(errs.Transient, "beacon.FetchProposerEntity", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return "", rows.Err()
	}
	var entity string
	if err := rows.Scan(&entity); err != nil {
		return "", errs.New(errs.DataIntegrity, "beacon.FetchProposerEntity", err)
	}
	return entity, rows.Err()
}

// apiEventRow is one (client_name, slot_time_ms) observation from an API
// events table (block or blob "seen" timing).
type apiEventRow struct {
	ClientName string
	BlobIndex  int
	SlotTimeMS int64
}

// blockSeenAPIQuery deliberately reads from a single source of events and
// deduplicates by (client_name, min(event_date_time)), per spec.md §9's
// fix for the head_events/api_events CTE duplication bug: do not
// replicate the duplicate-CTE union, just query api_events once. It also
// carries the observing node's geo columns, mirroring
// original_source/backend/lab/modules/beacon/processors/slot.py's (~line
// 992) selection of meta_client_geo_city/meta_client_geo_country/
// meta_client_geo_continent_code alongside meta_client_name from this same
// table — any() is safe here since those columns are constant per client.
const blockSeenAPIQuery = `
SELECT meta_client_name AS client_name,
       any(meta_client_geo_city) AS geo_city,
       any(meta_client_geo_country) AS geo_country,
       any(meta_client_geo_continent_code) AS geo_continent,
       MIN(dateDiff('ms', slot_start_date_time, event_date_time)) AS slot_time_ms
FROM beacon_api_eth_v1_events_block
WHERE meta_network_name = @network
  AND slot = @slot
  AND slot_start_date_time BETWEEN @start AND @end
GROUP BY meta_client_name`

// clientGeo is the raw (city, country, continent) triple observed for a
// client_name, before Geocoder.Resolve turns it into coordinates.
type clientGeo struct {
	City      string
	Country   string
	Continent string
}

// FetchBlockSeenAPI fetches per-client block-seen timings and each
// client's observed geo triple in one pass.
func FetchBlockSeenAPI(ctx context.Context, wh warehouse.WarehouseClient, network string, slot int64, start, end time.Time) (map[string]int64, map[string]clientGeo, error) {
	s, e := window(start, end, graceWindow)
	rows, err := wh.Query(ctx, blockSeenAPIQuery, namedArgs(network, slot, s, e))
	if err != nil {
		return nil, nil, errs.New(errs.Transient, "beacon.FetchBlockSeenAPI", err)
	}
	defer rows.Close()

	seen := map[string]int64{}
	geo := map[string]clientGeo{}
	for rows.Next() {
		var name string
		var g clientGeo
		var ms int64
		if err := rows.Scan(&name, &g.City, &g.Country, &g.Continent, &ms); err != nil {
			return nil, nil, errs.New(errs.DataIntegrity, "beacon.FetchBlockSeenAPI", err)
		}
		seen[name] = ms
		geo[name] = g
	}
	if err := rows.Err(); err != nil {
		return nil, nil, errs.New(errs.Transient, "beacon.FetchBlockSeenAPI", err)
	}
	return seen, geo, nil
}

const blobSeenAPIQuery = `
SELECT meta_client_name AS client_name, blob_index,
       MIN(dateDiff('ms', slot_start_date_time, event_date_time)) AS slot_time_ms
FROM beacon_api_eth_v1_events_blob_sidecar
WHERE meta_network_name = @network
  AND slot = @slot
  AND slot_start_date_time BETWEEN @start AND @end
GROUP BY meta_client_name, blob_index`

func FetchBlobSeenAPI(ctx context.Context, wh warehouse.WarehouseClient, network string, slot int64, start, end time.Time) (map[string]map[int]int64, error) {
	rows, err := fetchAPIEventsWithBlob(ctx, wh, blobSeenAPIQuery, network, slot, start, end, "beacon.FetchBlobSeenAPI")
	if err != nil {
		return nil, err
	}
	return groupByBlob(rows), nil
}

const blockFirstSeenP2PQuery = `
SELECT meta_client_name AS client_name,
       MIN(dateDiff('ms', slot_start_date_time, event_date_time)) AS slot_time_ms
FROM libp2p_gossipsub_beacon_block
WHERE meta_network_name = @network
  AND slot = @slot
  AND slot_start_date_time BETWEEN @start AND @end
GROUP BY meta_client_name`

func FetchBlockFirstSeenP2P(ctx context.Context, wh warehouse.WarehouseClient, network string, slot int64, start, end time.Time) (map[string]int64, error) {
	rows, err := fetchAPIEvents(ctx, wh, blockFirstSeenP2PQuery, network, slot, start, end, "beacon.FetchBlockFirstSeenP2P")
	if err != nil {
		return nil, err
	}
	out := map[string]int64{}
	for _, r := range rows {
		out[r.ClientName] = r.SlotTimeMS
	}
	return out, nil
}

const blobFirstSeenP2PQuery = `
SELECT meta_client_name AS client_name, blob_index,
       MIN(dateDiff('ms', slot_start_date_time, event_date_time)) AS slot_time_ms
FROM libp2p_gossipsub_blob_sidecar
WHERE meta_network_name = @network
  AND slot = @slot
  AND slot_start_date_time BETWEEN @start AND @end
GROUP BY meta_client_name, blob_index`

func FetchBlobFirstSeenP2P(ctx context.Context, wh warehouse.WarehouseClient, network string, slot int64, start, end time.Time) (map[string]map[int]int64, error) {
	rows, err := fetchAPIEventsWithBlob(ctx, wh, blobFirstSeenP2PQuery, network, slot, start, end, "beacon.FetchBlobFirstSeenP2P")
	if err != nil {
		return nil, err
	}
	return groupByBlob(rows), nil
}

func fetchAPIEvents(ctx context.Context, wh warehouse.WarehouseClient, query, network string, slot int64, start, end time.Time, op string) ([]apiEventRow, error) {
	s, e := window(start, end, graceWindow)
	rows, err := wh.Query(ctx, query, namedArgs(network, slot, s, e))
	if err != nil {
		return nil, errs.New(errs.Transient, op, err)
	}
	defer rows.Close()
	var out []apiEventRow
	for rows.Next() {
		var r apiEventRow
		if err := rows.Scan(&r.ClientName, &r.SlotTimeMS); err != nil {
			return nil, errs.New(errs.DataIntegrity, op, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func fetchAPIEventsWithBlob(ctx context.Context, wh warehouse.WarehouseClient, query, network string, slot int64, start, end time.Time, op string) ([]apiEventRow, error) {
	s, e := window(start, end, graceWindow)
	rows, err := wh.Query(ctx, query, namedArgs(network, slot, s, e))
	if err != nil {
		return nil, errs.New(errs.Transient, op, err)
	}
	defer rows.Close()
	var out []apiEventRow
	for rows.Next() {
		var r apiEventRow
		if err := rows.Scan(&r.ClientName, &r.BlobIndex, &r.SlotTimeMS); err != nil {
			return nil, errs.New(errs.DataIntegrity, op, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func groupByBlob(rows []apiEventRow) map[string]map[int]int64 {
	out := map[string]map[int]int64{}
	for _, r := range rows {
		if _, ok := out[r.ClientName]; !ok {
			out[r.ClientName] = map[int]int64{}
		}
		out[r.ClientName][r.BlobIndex] = r.SlotTimeMS
	}
	return out
}

// attestationVoteRow is one validator's minimum observed propagation time.
type attestationVoteRow struct {
	ValidatorIndex   int64
	MinPropagationMS int64
}

// attestationVotesQuery uses the exact slot window (no grace), per
// spec.md §4.8: "attestation propagation is measured exactly."
const attestationVotesQuery = `
SELECT validator_index,
       MIN(dateDiff('ms', slot_start_date_time, event_date_time)) AS min_propagation_ms
FROM beacon_api_eth_v1_events_attestation
WHERE meta_network_name = @network
  AND slot = @slot
  AND block_root = @block_root
  AND slot_start_date_time BETWEEN @start AND @end
GROUP BY validator_index`

// FetchAttestationVotes fetches per-validator minimum propagation times
// for the slot's canonical block root, using the exact (no-grace) window.
func FetchAttestationVotes(ctx context.Context, wh warehouse.WarehouseClient, network string, slot int64, blockRoot string, start, end time.Time) (map[int64]int64, error) {
	args := namedArgs(network, slot, start, end)
	args["block_root"] = blockRoot
	rows, err := wh.Query(ctx, attestationVotesQuery, args)
	if err != nil {
		return nil, errs.New(errs.Transient, "beacon.FetchAttestationVotes", err)
	}
	defer rows.Close()

	out := map[int64]int64{}
	for rows.Next() {
		var r attestationVoteRow
		if err := rows.Scan(&r.ValidatorIndex, &r.MinPropagationMS); err != nil {
			return nil, errs.New(errs.DataIntegrity, "beacon.FetchAttestationVotes", err)
		}
		out[r.ValidatorIndex] = r.MinPropagationMS
	}
	return out, rows.Err()
}

type errEmptyResult struct{ query string }

func (e errEmptyResult) Error() string { return "no rows for query: " + e.query }
