package main

import (
	"testing"
	"time"
)

func newTestVarDiff(x2 bool) (*VarDiffController, *time.Time) {
	ctl := NewVarDiffController(VarDiffConfig{
		MinDiff:         0.05,
		MaxDiff:         16,
		TargetTime:      15,
		RetargetTime:    90,
		VariancePercent: 30,
		X2Mode:          x2,
	})
	clock := time.Unix(1700000000, 0)
	ctl.now = func() time.Time { return clock }
	return ctl, &clock
}

// submitEvery feeds n submissions spaced by interval and returns the last
// retarget, if any.
func submitEvery(state *vardiffState, clock *time.Time, interval time.Duration, n int, diff float64) (float64, bool) {
	var (
		newDiff float64
		changed bool
	)
	for i := 0; i < n; i++ {
		*clock = clock.Add(interval)
		if d, ok := state.OnSubmit(diff); ok {
			newDiff, changed = d, true
		}
	}
	return newDiff, changed
}

func TestVarDiffFirstSubmitNeverRetargets(t *testing.T) {
	ctl, _ := newTestVarDiff(false)
	state := ctl.ManageClient()
	if _, ok := state.OnSubmit(1); ok {
		t.Fatalf("first submission must not retarget")
	}
}

func TestVarDiffRaisesForFastMiner(t *testing.T) {
	ctl, clock := newTestVarDiff(false)
	state := ctl.ManageClient()
	state.OnSubmit(1)
	got, ok := submitEvery(state, clock, time.Second, 45, 1)
	if !ok || got != 15 {
		t.Fatalf("retarget = %v, %v; want 15", got, ok)
	}
}

func TestVarDiffLowersForSlowMiner(t *testing.T) {
	tests := []struct {
		name string
		x2   bool
		diff float64
		want float64
	}{
		{"proportional", false, 1, 0.25},
		{"x2 mode", true, 1, 0.5},
		{"clamped to min", false, 0.1, 0.05},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ctl, clock := newTestVarDiff(tc.x2)
			state := ctl.ManageClient()
			state.OnSubmit(tc.diff)
			got, ok := submitEvery(state, clock, time.Minute, 1, tc.diff)
			if !ok || got != tc.want {
				t.Fatalf("retarget = %v, %v; want %v", got, ok, tc.want)
			}
		})
	}
}

func TestVarDiffClampsToMax(t *testing.T) {
	ctl, clock := newTestVarDiff(false)
	state := ctl.ManageClient()
	state.OnSubmit(8)
	got, ok := submitEvery(state, clock, time.Second, 45, 8)
	if !ok || got != 16 {
		t.Fatalf("retarget = %v, %v; want 16", got, ok)
	}
}

func TestVarDiffHoldsWithinVariance(t *testing.T) {
	ctl, clock := newTestVarDiff(false)
	state := ctl.ManageClient()
	state.OnSubmit(1)
	if got, ok := submitEvery(state, clock, 15*time.Second, 12, 1); ok {
		t.Fatalf("on-target miner retargeted to %v", got)
	}
}

func TestVarDiffAtMinDoesNotDrop(t *testing.T) {
	ctl, clock := newTestVarDiff(false)
	state := ctl.ManageClient()
	state.OnSubmit(0.05)
	if got, ok := submitEvery(state, clock, time.Minute, 3, 0.05); ok {
		t.Fatalf("miner at min difficulty retargeted to %v", got)
	}
}

func TestRingBufferWraps(t *testing.T) {
	r := newRingBuffer(3)
	for _, v := range []float64{1, 2, 3, 10} {
		r.append(v)
	}
	if r.size() != 3 {
		t.Fatalf("size = %d", r.size())
	}
	if avg := r.avg(); avg != 5 {
		t.Fatalf("avg = %v, want 5", avg)
	}
	r.clear()
	if r.size() != 0 || r.avg() != 0 {
		t.Fatalf("clear did not empty the buffer")
	}
}
