// Package beacon implements the SlotProcessor (C8), the core per-slot
// aggregation pipeline: a three-phase (head/middle/backlog) driver that
// fuses several warehouse queries for one slot into a single SlotArtifact
// and publishes it to the object store. Grounded on
// original_source/backend/lab/modules/beacon/processors/slots.py
// (OptimizedSlotProcessor) and the shared SlotArtifact shape in
// .../beacon/service.py.
package beacon

// SlotArtifact is the published object for a single (network, slot), per
// spec.md §3.
type SlotArtifact struct {
	Slot             int64  `json:"slot"`
	Network          string `json:"network"`
	ProcessedAt      int64  `json:"processed_at"`
	ProcessingTimeMS int64  `json:"processing_time_ms"`

	Block        BlockSummary           `json:"block"`
	Proposer     ProposerInfo           `json:"proposer"`
	Entity       string                 `json:"entity,omitempty"`
	Nodes        map[string]NodeInfo    `json:"nodes"`
	Timings      Timings                `json:"timings"`
	Attestations AttestationSummary     `json:"attestations"`
}

// BlockSummary is the canonical beacon-block row for the slot.
type BlockSummary struct {
	Slot                  int64  `json:"slot"`
	SlotStartDateTime     int64  `json:"slot_start_date_time"`
	Epoch                 int64  `json:"epoch"`
	EpochStartDateTime    int64  `json:"epoch_start_date_time"`
	BlockRoot             string `json:"block_root"`
	BlockVersion          string `json:"block_version"`
	ParentRoot            string `json:"parent_root"`
	StateRoot             string `json:"state_root"`
	ProposerIndex         int64  `json:"proposer_index"`
	ExecutionPayloadBlockNumber int64 `json:"execution_payload_block_number"`
	ExecutionPayloadBlockHash   string `json:"execution_payload_block_hash"`
	ExecutionPayloadTransactionsCount int64 `json:"execution_payload_transactions_count"`
}

// ProposerInfo is the proposer for the slot.
type ProposerInfo struct {
	Slot            int64  `json:"slot"`
	Pubkey          string `json:"pubkey"`
	ValidatorIndex  int64  `json:"validator_index"`
}

// NodeInfo describes one observing client node.
type NodeInfo struct {
	Name     string  `json:"name"`
	Username string  `json:"username"`
	Geo      GeoInfo `json:"geo"`
}

// GeoInfo is a resolved geographic point.
type GeoInfo struct {
	City      string  `json:"city,omitempty"`
	Country   string  `json:"country,omitempty"`
	Continent string  `json:"continent,omitempty"`
	Lat       float64 `json:"lat"`
	Lon       float64 `json:"lon"`
}

// Timings holds first-observation times for block/blob propagation, keyed
// by client_name, measured in milliseconds since slot start.
type Timings struct {
	BlockSeen            map[string]int64            `json:"block_seen"`
	BlobSeen             map[string]map[int]int64     `json:"blob_seen"`
	BlockFirstSeenP2P    map[string]int64             `json:"block_first_seen_p2p"`
	BlobFirstSeenP2P     map[string]map[int]int64      `json:"blob_first_seen_p2p"`
}

// AttestationWindow is one 50ms propagation bucket.
type AttestationWindow struct {
	StartMS          int64   `json:"start_ms"`
	EndMS            int64   `json:"end_ms"`
	ValidatorIndices []int64 `json:"validator_indices"`
}

// AttestationSummary is the slot's attestation propagation summary.
type AttestationSummary struct {
	MaximumVotes int64                `json:"maximum_votes"`
	Windows      []AttestationWindow  `json:"windows"`
}

func newTimings() Timings {
	return Timings{
		BlockSeen:         map[string]int64{},
		BlobSeen:          map[string]map[int]int64{},
		BlockFirstSeenP2P: map[string]int64{},
		BlobFirstSeenP2P:  map[string]map[int]int64{},
	}
}
