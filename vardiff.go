package main

import (
	"sync"
	"time"
)

type VarDiffConfig struct {
	MinDiff         float64
	MaxDiff         float64
	TargetTime      float64 // seconds between shares
	RetargetTime    float64 // seconds between evaluations
	VariancePercent float64
	X2Mode          bool
}

// ringBuffer keeps the most recent submission intervals.
type ringBuffer struct {
	data   []float64
	max    int
	cursor int
	full   bool
}

func newRingBuffer(size int) *ringBuffer {
	if size < 1 {
		size = 1
	}
	return &ringBuffer{max: size, data: make([]float64, 0, size)}
}

func (r *ringBuffer) append(x float64) {
	if r.full {
		r.data[r.cursor] = x
		r.cursor = (r.cursor + 1) % r.max
		return
	}
	r.data = append(r.data, x)
	r.cursor++
	if len(r.data) == r.max {
		r.cursor = 0
		r.full = true
	}
}

func (r *ringBuffer) avg() float64 {
	if len(r.data) == 0 {
		return 0
	}
	var sum float64
	for _, v := range r.data {
		sum += v
	}
	return sum / float64(len(r.data))
}

func (r *ringBuffer) size() int {
	return len(r.data)
}

func (r *ringBuffer) clear() {
	r.data = r.data[:0]
	r.cursor = 0
	r.full = false
}

// VarDiffController retargets a port's miners toward TargetTime seconds
// per share.
type VarDiffController struct {
	cfg        VarDiffConfig
	bufferSize int
	tMin       float64
	tMax       float64
	now        func() time.Time
}

func NewVarDiffController(cfg VarDiffConfig) *VarDiffController {
	variance := cfg.TargetTime * (cfg.VariancePercent / 100)
	size := 1
	if cfg.TargetTime > 0 {
		size = int(cfg.RetargetTime / cfg.TargetTime * 4)
	}
	return &VarDiffController{
		cfg:        cfg,
		bufferSize: size,
		tMin:       cfg.TargetTime - variance,
		tMax:       cfg.TargetTime + variance,
		now:        time.Now,
	}
}

// vardiffState is the per-connection half of the controller.
type vardiffState struct {
	ctl *VarDiffController

	mu      sync.Mutex
	started bool
	lastTs  float64
	lastRtc float64
	buffer  *ringBuffer
}

func (v *VarDiffController) ManageClient() *vardiffState {
	return &vardiffState{ctl: v}
}

// OnSubmit records a submission for a miner currently at difficulty and
// returns the retargeted difficulty when one is due.
func (s *vardiffState) OnSubmit(difficulty float64) (float64, bool) {
	cfg := s.ctl.cfg
	ts := float64(s.ctl.now().UnixNano()) / 1e9

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		s.started = true
		s.lastRtc = ts - cfg.RetargetTime/2
		s.lastTs = ts
		s.buffer = newRingBuffer(s.ctl.bufferSize)
		return 0, false
	}

	s.buffer.append(ts - s.lastTs)
	s.lastTs = ts

	if ts-s.lastRtc < cfg.RetargetTime && s.buffer.size() > 0 {
		return 0, false
	}

	s.lastRtc = ts
	avg := s.buffer.avg()
	if avg <= 0 {
		return 0, false
	}

	ddiff := cfg.TargetTime / avg
	switch {
	case avg > s.ctl.tMax && difficulty > cfg.MinDiff:
		if cfg.X2Mode {
			ddiff = 0.5
		}
		if ddiff*difficulty < cfg.MinDiff {
			ddiff = cfg.MinDiff / difficulty
		}
	case avg < s.ctl.tMin:
		if cfg.X2Mode {
			ddiff = 2
		}
		if cfg.MaxDiff > 0 && ddiff*difficulty > cfg.MaxDiff {
			ddiff = cfg.MaxDiff / difficulty
		}
	default:
		return 0, false
	}

	newDiff := roundTo(difficulty*ddiff, 8)
	s.buffer.clear()
	if newDiff == difficulty {
		return 0, false
	}
	return newDiff, true
}
