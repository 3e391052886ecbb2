// Package wallclock derives slot/epoch <-> wall-time relationships from a
// network's genesis time and slot duration, grounded on
// original_source/backend/lab/ethereum/time.py and on the real
// github.com/ethpandaops/ethwallclock library (the slot/epoch ticker engine
// this package wraps). All operations are pure; there is no I/O.
package wallclock

import (
	"time"

	ethwallclock "github.com/ethpandaops/ethwallclock"
)

// SlotsPerEpoch is the fixed Ethereum beacon-chain constant.
const SlotsPerEpoch = 32

// WallClock converts between slots/epochs and wall-clock time for one
// network.
type WallClock struct {
	genesisTime time.Time
	slotSeconds time.Duration

	// inner is the ethwallclock engine, used for its slot/epoch-change
	// event stream; the pure accessor math below is implemented directly
	// against genesisTime/slotSeconds since ethwallclock itself only
	// exposes the "current" slot/epoch, not the full accessor set
	// SPEC_FULL.md §4.4 requires (slot_window, slot_progress, etc.).
	inner *ethwallclock.EthereumBeaconChain
}

// New builds a WallClock for a network with the given genesis time (unix
// seconds) and slot duration.
func New(genesisTime int64, slotSeconds time.Duration) *WallClock {
	gt := time.Unix(genesisTime, 0).UTC()
	return &WallClock{
		genesisTime: gt,
		slotSeconds: slotSeconds,
		inner:       ethwallclock.NewEthereumBeaconChain(gt, slotSeconds, SlotsPerEpoch),
	}
}

// Stop releases the underlying ethwallclock ticker. Must be called once the
// WallClock is no longer needed, or its background goroutine leaks for the
// life of the process.
func (w *WallClock) Stop() {
	if w.inner != nil {
		w.inner.Stop()
	}
}

// OnSlotChanged subscribes fn to ethwallclock's slot-change event stream,
// the mechanism SlotProcessor's head phase (pkg/beacon) uses to trigger a
// reprocess instead of hand-computing its own sleep-until-next-slot timer.
// Grounded on _examples/other_examples' ethpandaops-beacon node's
// n.wallclock.OnSlotChanged(func(slot ethwallclock.Slot) {...}) subscription.
func (w *WallClock) OnSlotChanged(fn func(slot int64)) {
	w.inner.OnSlotChanged(func(slot ethwallclock.Slot) {
		fn(int64(slot.Number()))
	})
}

func (w *WallClock) slotsSince(t time.Time) int64 {
	d := t.Sub(w.genesisTime)
	if d < 0 {
		return 0
	}
	return int64(d / w.slotSeconds)
}

// CurrentSlot returns the slot containing the current wall-clock time.
func (w *WallClock) CurrentSlot() int64 { return w.slotsSince(time.Now().UTC()) }

// CurrentEpoch returns the epoch containing the current wall-clock time.
func (w *WallClock) CurrentEpoch() int64 { return w.CurrentSlot() / SlotsPerEpoch }

// TimeToSlot returns the slot containing t.
func (w *WallClock) TimeToSlot(t time.Time) int64 { return w.slotsSince(t) }

// TimeToEpoch returns the epoch containing t.
func (w *WallClock) TimeToEpoch(t time.Time) int64 { return w.TimeToSlot(t) / SlotsPerEpoch }

// SlotToTime returns the start time of the given slot.
func (w *WallClock) SlotToTime(slot int64) time.Time {
	return w.genesisTime.Add(time.Duration(slot) * w.slotSeconds)
}

// EpochToTime returns the start time of the given epoch.
func (w *WallClock) EpochToTime(epoch int64) time.Time {
	return w.SlotToTime(EpochStartSlot(epoch))
}

// SlotInEpoch returns the 0-based index of slot within its epoch.
func SlotInEpoch(slot int64) int64 { return slot % SlotsPerEpoch }

// EpochStartSlot returns the first slot of epoch.
func EpochStartSlot(epoch int64) int64 { return epoch * SlotsPerEpoch }

// EpochEndSlot returns the last slot of epoch.
func EpochEndSlot(epoch int64) int64 { return EpochStartSlot(epoch) + SlotsPerEpoch - 1 }

// IsSlotInEpoch reports whether slot belongs to epoch.
func IsSlotInEpoch(slot, epoch int64) bool { return slot/SlotsPerEpoch == epoch }

// TimeUntilSlot returns the duration from now until slot's start; negative
// if slot has already started.
func (w *WallClock) TimeUntilSlot(slot int64) time.Duration {
	return w.SlotToTime(slot).Sub(time.Now().UTC())
}

// TimeUntilEpoch returns the duration from now until epoch's start.
func (w *WallClock) TimeUntilEpoch(epoch int64) time.Duration {
	return w.EpochToTime(epoch).Sub(time.Now().UTC())
}

// IsCurrentSlot reports whether slot is the slot containing now.
func (w *WallClock) IsCurrentSlot(slot int64) bool { return slot == w.CurrentSlot() }

// IsCurrentEpoch reports whether epoch is the epoch containing now.
func (w *WallClock) IsCurrentEpoch(epoch int64) bool { return epoch == w.CurrentEpoch() }

// IsSlotInFuture reports whether slot has not started yet.
func (w *WallClock) IsSlotInFuture(slot int64) bool { return slot > w.CurrentSlot() }

// IsEpochInFuture reports whether epoch has not started yet.
func (w *WallClock) IsEpochInFuture(epoch int64) bool { return epoch > w.CurrentEpoch() }

// GetSlotStartTime returns the start time of slot (alias of SlotToTime for
// symmetry with GetSlotEndTime).
func (w *WallClock) GetSlotStartTime(slot int64) time.Time { return w.SlotToTime(slot) }

// GetSlotEndTime returns the (exclusive) end time of slot.
func (w *WallClock) GetSlotEndTime(slot int64) time.Time {
	return w.SlotToTime(slot).Add(w.slotSeconds)
}

// SlotWindow returns [start, end) for slot, per I1.
func (w *WallClock) SlotWindow(slot int64) (time.Time, time.Time) {
	return w.GetSlotStartTime(slot), w.GetSlotEndTime(slot)
}

// EpochWindow returns [start, end) for epoch.
func (w *WallClock) EpochWindow(epoch int64) (time.Time, time.Time) {
	start := w.EpochToTime(epoch)
	return start, start.Add(time.Duration(SlotsPerEpoch) * w.slotSeconds)
}

// GetSlotProgress returns 0-100: 0 before the slot starts, 100 after it
// ends, interpolated linearly while current.
func (w *WallClock) GetSlotProgress(slot int64) float64 {
	start, end := w.SlotWindow(slot)
	now := time.Now().UTC()
	switch {
	case now.Before(start):
		return 0
	case !now.Before(end):
		return 100
	default:
		return float64(now.Sub(start)) / float64(end.Sub(start)) * 100
	}
}

// GetEpochProgress returns 0-100, computed from the current slot's
// progress plus slots already elapsed within the epoch.
func (w *WallClock) GetEpochProgress(epoch int64) float64 {
	start, end := w.EpochWindow(epoch)
	now := time.Now().UTC()
	switch {
	case now.Before(start):
		return 0
	case !now.Before(end):
		return 100
	default:
		return float64(now.Sub(start)) / float64(end.Sub(start)) * 100
	}
}
