package beacon

import (
	"sort"
	"strings"
)

const attestationWindowMS = 50

// BucketAttestationVotes buckets validator_index -> min_propagation_ms into
// 50ms windows anchored to the floor of the minimum observed time, per
// spec.md §3/§4.8/I5: each window is [F+50k, F+50k+50), validator indices
// within a window are deduplicated and sorted ascending, and the union of
// all windows' indices equals the input key set.
func BucketAttestationVotes(votes map[int64]int64) []AttestationWindow {
	if len(votes) == 0 {
		return nil
	}

	floor := int64(0)
	first := true
	for _, ms := range votes {
		if first || ms < floor {
			floor = ms
			first = false
		}
	}

	buckets := map[int64]map[int64]struct{}{}
	for validatorIndex, ms := range votes {
		k := (ms - floor) / attestationWindowMS
		if buckets[k] == nil {
			buckets[k] = map[int64]struct{}{}
		}
		buckets[k][validatorIndex] = struct{}{}
	}

	keys := make([]int64, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	windows := make([]AttestationWindow, 0, len(keys))
	for _, k := range keys {
		start := floor + k*attestationWindowMS
		ids := make([]int64, 0, len(buckets[k]))
		for id := range buckets[k] {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		windows = append(windows, AttestationWindow{
			StartMS:          start,
			EndMS:            start + attestationWindowMS,
			ValidatorIndices: ids,
		})
	}
	return windows
}

// ExtractUsername derives the node username from a client_name, per
// spec.md §3: "ethpandaops" if the client_name contains that token, else
// the second slash-segment, else empty.
func ExtractUsername(clientName string) string {
	if strings.Contains(clientName, "ethpandaops") {
		return "ethpandaops"
	}
	parts := strings.Split(clientName, "/")
	if len(parts) < 2 {
		return ""
	}
	return parts[1]
}
