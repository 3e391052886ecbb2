package beacon

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestBucketAttestationVotes_SpecScenario2 reproduces spec.md §8 scenario 2:
// votes {1:120, 2:140, 3:175, 4:200} bucket into
// [{start:120,end:170,ids:[1,2]},{start:170,end:220,ids:[3,4]}].
func TestBucketAttestationVotes_SpecScenario2(t *testing.T) {
	votes := map[int64]int64{1: 120, 2: 140, 3: 175, 4: 200}
	windows := BucketAttestationVotes(votes)
	assert.Equal(t, []AttestationWindow{
		{StartMS: 120, EndMS: 170, ValidatorIndices: []int64{1, 2}},
		{StartMS: 170, EndMS: 220, ValidatorIndices: []int64{3, 4}},
	}, windows)
}

// TestBucketAttestationVotes_I5 checks the invariant directly: windows are
// 50ms wide, floor-aligned, and the union of indices equals the input keys
// with no duplicates and ascending order within a window.
func TestBucketAttestationVotes_I5(t *testing.T) {
	votes := map[int64]int64{10: 305, 11: 300, 12: 349, 13: 350, 14: 399}
	windows := BucketAttestationVotes(votes)

	seen := map[int64]bool{}
	for _, w := range windows {
		assert.Equal(t, int64(50), w.EndMS-w.StartMS)
		assert.Equal(t, int64(0), (w.StartMS-300)%50)
		for i := 1; i < len(w.ValidatorIndices); i++ {
			assert.Less(t, w.ValidatorIndices[i-1], w.ValidatorIndices[i])
		}
		for _, id := range w.ValidatorIndices {
			assert.False(t, seen[id], "duplicate validator index across windows")
			seen[id] = true
		}
	}
	assert.Len(t, seen, len(votes))
}

func TestBucketAttestationVotes_Empty(t *testing.T) {
	assert.Nil(t, BucketAttestationVotes(nil))
}

func TestExtractUsername(t *testing.T) {
	cases := []struct {
		name, client, want string
	}{
		{"ethpandaops token wins", "ethpandaops/xyz/abc", "ethpandaops"},
		{"second slash segment", "pub/alice/node-1", "alice"},
		{"no slash", "x", ""},
		{"ethpandaops anywhere in string", "foo-ethpandaops-bar/user", "ethpandaops"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, ExtractUsername(c.client))
		})
	}
}
