package wallclock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlotWindowMath(t *testing.T) {
	genesis := int64(1_606_824_023)
	slotSeconds := 12 * time.Second
	wc := New(genesis, slotSeconds)
	defer wc.Stop()

	for _, slot := range []int64{0, 1, 500, 7654321} {
		start, end := wc.SlotWindow(slot)
		wantStart := time.Unix(genesis, 0).UTC().Add(time.Duration(slot) * slotSeconds)
		wantEnd := wantStart.Add(slotSeconds)
		assert.True(t, start.Equal(wantStart), "slot %d start", slot)
		assert.True(t, end.Equal(wantEnd), "slot %d end", slot)
	}
}

func TestSlotToTimeMatchesEpochToTime(t *testing.T) {
	wc := New(1_606_824_023, 12*time.Second)
	defer wc.Stop()

	for epoch := int64(0); epoch < 10; epoch++ {
		got := wc.SlotToTime(EpochStartSlot(epoch))
		want := wc.EpochToTime(epoch)
		require.True(t, got.Equal(want), "epoch %d", epoch)
	}
}

func TestCurrentSlotFromOffset(t *testing.T) {
	genesis := time.Now().UTC().Add(-500*12*time.Second - 3*time.Second).Unix()
	wc := New(genesis, 12*time.Second)
	defer wc.Stop()

	assert.Equal(t, int64(500), wc.CurrentSlot())
}

func TestEpochBounds(t *testing.T) {
	assert.Equal(t, int64(0), EpochStartSlot(0))
	assert.Equal(t, int64(31), EpochEndSlot(0))
	assert.Equal(t, int64(32), EpochStartSlot(1))
	assert.True(t, IsSlotInEpoch(31, 0))
	assert.False(t, IsSlotInEpoch(32, 0))
	assert.Equal(t, int64(5), SlotInEpoch(32*3+5))
}
