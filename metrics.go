package main

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hako/durafmt"
)

const (
	// shareRateWindowSeconds is how far back the hashrate estimate looks.
	shareRateWindowSeconds = 300
	// equihashShareMultiplier converts summed share difficulty per second
	// into Sol/s for Equihash 200,9.
	equihashShareMultiplier = 8192
)

type shareRateBucket struct {
	sec  int64
	diff float64
}

// poolMetrics collects counters for the periodic stats line and the CLI
// stats command.
type poolMetrics struct {
	accepted      atomic.Uint64
	rejected      atomic.Uint64
	blocksFound   atomic.Uint64
	blocksOrphan  atomic.Uint64
	blocksSubmit  atomic.Uint64
	templateErrs  atomic.Uint64
	vardiffUp     atomic.Uint64
	vardiffDown   atomic.Uint64
	connected     atomic.Int64
	lastBlockUnix atomic.Int64

	mu            sync.Mutex
	rejectReasons map[string]uint64
	notifySources map[string]uint64
	buckets       []shareRateBucket
	start         time.Time
	now           func() time.Time
}

func newPoolMetrics() *poolMetrics {
	return &poolMetrics{
		rejectReasons: make(map[string]uint64),
		notifySources: make(map[string]uint64),
		buckets:       make([]shareRateBucket, shareRateWindowSeconds),
		start:         time.Now(),
		now:           time.Now,
	}
}

// RecordShare counts a share; accepted shares also feed the hashrate
// window.
func (m *poolMetrics) RecordShare(accepted bool, reason string, difficulty float64) {
	if m == nil {
		return
	}
	if !accepted {
		m.rejected.Add(1)
		if reason == "" {
			reason = "unknown"
		}
		m.mu.Lock()
		m.rejectReasons[reason]++
		m.mu.Unlock()
		return
	}
	m.accepted.Add(1)
	sec := m.now().Unix()
	m.mu.Lock()
	b := &m.buckets[sec%shareRateWindowSeconds]
	if b.sec != sec {
		b.sec = sec
		b.diff = 0
	}
	b.diff += difficulty
	m.mu.Unlock()
}

// Hashrate estimates the pool's Sol/s from accepted share difficulty over
// the last window.
func (m *poolMetrics) Hashrate() float64 {
	if m == nil {
		return 0
	}
	now := m.now()
	cutoff := now.Unix() - shareRateWindowSeconds
	var sum float64
	m.mu.Lock()
	for _, b := range m.buckets {
		if b.sec > cutoff {
			sum += b.diff
		}
	}
	m.mu.Unlock()
	window := math.Min(float64(shareRateWindowSeconds), now.Sub(m.start).Seconds())
	if window < 1 {
		window = 1
	}
	return sum * equihashShareMultiplier / window
}

func (m *poolMetrics) RecordBlockFound(at time.Time) {
	if m == nil {
		return
	}
	m.blocksFound.Add(1)
	m.lastBlockUnix.Store(at.Unix())
}

func (m *poolMetrics) RecordBlockOrphaned() {
	if m != nil {
		m.blocksOrphan.Add(1)
	}
}

func (m *poolMetrics) RecordBlockSubmitted() {
	if m != nil {
		m.blocksSubmit.Add(1)
	}
}

func (m *poolMetrics) RecordTemplateError() {
	if m != nil {
		m.templateErrs.Add(1)
	}
}

func (m *poolMetrics) RecordVardiffMove(up bool) {
	if m == nil {
		return
	}
	if up {
		m.vardiffUp.Add(1)
	} else {
		m.vardiffDown.Add(1)
	}
}

func (m *poolMetrics) RecordBlockNotify(source string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.notifySources[source]++
	m.mu.Unlock()
}

func (m *poolMetrics) SetConnectedMiners(n int) {
	if m != nil {
		m.connected.Store(int64(n))
	}
}

// metricsSnapshot is a point-in-time copy of poolMetrics.
type metricsSnapshot struct {
	Uptime          time.Duration     `json:"-"`
	UptimeText      string            `json:"uptime"`
	Accepted        uint64            `json:"accepted_shares"`
	Rejected        uint64            `json:"rejected_shares"`
	RejectReasons   map[string]uint64 `json:"reject_reasons,omitempty"`
	BlocksFound     uint64            `json:"blocks_found"`
	BlocksOrphaned  uint64            `json:"blocks_orphaned"`
	BlocksSubmitted uint64            `json:"blocks_submitted"`
	TemplateErrors  uint64            `json:"template_errors"`
	VardiffUp       uint64            `json:"vardiff_up"`
	VardiffDown     uint64            `json:"vardiff_down"`
	BlockNotify     map[string]uint64 `json:"block_notify,omitempty"`
	Connected       int64             `json:"connected_miners"`
	Hashrate        float64           `json:"hashrate"`
	LastBlock       string            `json:"last_block,omitempty"`
}

func (m *poolMetrics) Snapshot() metricsSnapshot {
	uptime := m.now().Sub(m.start).Truncate(time.Second)
	s := metricsSnapshot{
		Uptime:          uptime,
		UptimeText:      durafmt.Parse(uptime).LimitFirstN(3).String(),
		Accepted:        m.accepted.Load(),
		Rejected:        m.rejected.Load(),
		BlocksFound:     m.blocksFound.Load(),
		BlocksOrphaned:  m.blocksOrphan.Load(),
		BlocksSubmitted: m.blocksSubmit.Load(),
		TemplateErrors:  m.templateErrs.Load(),
		VardiffUp:       m.vardiffUp.Load(),
		VardiffDown:     m.vardiffDown.Load(),
		Connected:       m.connected.Load(),
		Hashrate:        m.Hashrate(),
	}
	if ts := m.lastBlockUnix.Load(); ts > 0 {
		s.LastBlock = time.Unix(ts, 0).UTC().Format(time.RFC3339)
	}
	m.mu.Lock()
	s.RejectReasons = copyCounts(m.rejectReasons)
	s.BlockNotify = copyCounts(m.notifySources)
	m.mu.Unlock()
	return s
}

func copyCounts(in map[string]uint64) map[string]uint64 {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]uint64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func formatCounts(in map[string]uint64) string {
	keys := make([]string, 0, len(in))
	for k := range in {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%d", k, in[k])
	}
	return strings.Join(parts, " ")
}

// runStatsLogger writes a summary line every interval until ctx ends.
func (p *Pool) runStatsLogger(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		s := p.metrics.Snapshot()
		attrs := []any{
			"uptime", s.UptimeText,
			"miners", s.Connected,
			"workers", p.workerCount(),
			"hashrate", p.algo.FormatHashRate(s.Hashrate),
			"accepted", s.Accepted,
			"rejected", s.Rejected,
			"blocks", s.BlocksFound,
		}
		if len(s.RejectReasons) > 0 {
			attrs = append(attrs, "reject_reasons", formatCounts(s.RejectReasons))
		}
		if job := p.jobs.CurrentJob(); job != nil {
			attrs = append(attrs, "height", job.RPCData.Height)
		}
		if p.peer != nil {
			attrs = append(attrs, "p2p", p.peer.Connected())
			if !p.peer.ValidConfig() {
				p2pLog.Warn("p2p peer refused the connection; check the p2p host and port")
			}
		}
		poolLog.Info("pool stats", attrs...)
	}
}

func (p *Pool) workerCount() int {
	if p.stratum == nil {
		return 0
	}
	return p.stratum.WorkerCount()
}
