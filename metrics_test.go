package main

import (
	"math"
	"testing"
	"time"
)

func newTestMetrics(now time.Time) *poolMetrics {
	m := newPoolMetrics()
	m.start = now.Add(-10 * time.Minute)
	m.now = func() time.Time { return now }
	return m
}

func TestPoolMetricsShares(t *testing.T) {
	m := newTestMetrics(time.Unix(1700000000, 0))
	m.RecordShare(true, "", 1)
	m.RecordShare(true, "", 2)
	m.RecordShare(false, "Duplicate share", 1)
	m.RecordShare(false, "", 1)
	m.RecordShare(false, "Duplicate share", 1)

	s := m.Snapshot()
	if s.Accepted != 2 || s.Rejected != 3 {
		t.Fatalf("accepted/rejected = %d/%d", s.Accepted, s.Rejected)
	}
	if s.RejectReasons["Duplicate share"] != 2 || s.RejectReasons["unknown"] != 1 {
		t.Fatalf("reject reasons = %v", s.RejectReasons)
	}
	if got := formatCounts(s.RejectReasons); got != "Duplicate share=2 unknown=1" {
		t.Fatalf("formatCounts = %q", got)
	}
	want := 3.0 * equihashShareMultiplier / shareRateWindowSeconds
	if math.Abs(s.Hashrate-want) > 1e-9 {
		t.Fatalf("hashrate = %v, want %v", s.Hashrate, want)
	}
	if s.UptimeText != "10 minutes" {
		t.Fatalf("uptime = %q", s.UptimeText)
	}
}

func TestPoolMetricsHashrateWindow(t *testing.T) {
	now := time.Unix(1700000000, 0)
	m := newTestMetrics(now)
	m.RecordShare(true, "", 4)

	m.now = func() time.Time { return now.Add(shareRateWindowSeconds * time.Second) }
	if got := m.Hashrate(); got != 0 {
		t.Fatalf("shares older than the window should not count, got %v", got)
	}

	young := newPoolMetrics()
	young.start = now
	young.now = func() time.Time { return now }
	young.RecordShare(true, "", 1)
	if got := young.Hashrate(); got != equihashShareMultiplier {
		t.Fatalf("window shorter than 1s should clamp to 1s, got %v", got)
	}
}

func TestPoolMetricsCounters(t *testing.T) {
	now := time.Unix(1700000000, 0)
	m := newTestMetrics(now)
	m.RecordBlockFound(now)
	m.RecordBlockSubmitted()
	m.RecordBlockOrphaned()
	m.RecordTemplateError()
	m.RecordVardiffMove(true)
	m.RecordVardiffMove(false)
	m.RecordVardiffMove(false)
	m.RecordBlockNotify("p2p")
	m.RecordBlockNotify("p2p")
	m.RecordBlockNotify("cli")
	m.SetConnectedMiners(7)

	s := m.Snapshot()
	if s.BlocksFound != 1 || s.BlocksSubmitted != 1 || s.BlocksOrphaned != 1 || s.TemplateErrors != 1 {
		t.Fatalf("block counters = %+v", s)
	}
	if s.VardiffUp != 1 || s.VardiffDown != 2 || s.Connected != 7 {
		t.Fatalf("vardiff/connected = %d %d %d", s.VardiffUp, s.VardiffDown, s.Connected)
	}
	if s.BlockNotify["p2p"] != 2 || s.BlockNotify["cli"] != 1 {
		t.Fatalf("block notify = %v", s.BlockNotify)
	}
	if s.LastBlock != "2023-11-14T22:13:20Z" {
		t.Fatalf("last block = %q", s.LastBlock)
	}

	data, err := fastJSONMarshal(s)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]any
	if err := fastJSONUnmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded["connected_miners"] != 7.0 || decoded["uptime"] != "10 minutes" {
		t.Fatalf("snapshot json = %s", data)
	}
}

func TestPoolMetricsNilSafe(t *testing.T) {
	var m *poolMetrics
	m.RecordShare(true, "", 1)
	m.RecordBlockFound(time.Now())
	m.RecordBlockOrphaned()
	m.RecordBlockSubmitted()
	m.RecordTemplateError()
	m.RecordVardiffMove(true)
	m.RecordBlockNotify("zmq")
	m.SetConnectedMiners(1)
	if m.Hashrate() != 0 {
		t.Fatalf("nil metrics hashrate should be 0")
	}
}
