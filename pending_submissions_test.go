package main

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func TestPendingSubmissionsPath(t *testing.T) {
	if got := pendingSubmissionsPath("/srv/pool"); got != filepath.Join("/srv/pool", "pending_submissions.jsonl") {
		t.Fatalf("path = %s", got)
	}
}

func TestPendingSubmissionsLoadKeepsLatest(t *testing.T) {
	ps := newPendingSubmissions(filepath.Join(t.TempDir(), "pending.jsonl"), nil)
	ps.now = func() time.Time { return time.Unix(1700000000, 0) }
	ps.record(pendingSubmissionRecord{Height: 1, Hash: "aa", BlockHex: "00", Status: pendingStatusPending})
	ps.record(pendingSubmissionRecord{Height: 2, Hash: "bb", BlockHex: "01", Status: pendingStatusPending})
	ps.record(pendingSubmissionRecord{Height: 1, Hash: "aa", BlockHex: "00", Status: pendingStatusSubmitted})
	ps.record(pendingSubmissionRecord{Height: 3, BlockHex: "02"})

	recs, err := ps.load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("records = %+v", recs)
	}
	if recs[0].Hash != "aa" || recs[0].Status != pendingStatusSubmitted {
		t.Fatalf("latest record should win in first-seen order: %+v", recs[0])
	}
	if recs[1].Hash != "bb" || recs[2].Height != 3 {
		t.Fatalf("records = %+v", recs)
	}
	if recs[0].Timestamp.Unix() != 1700000000 {
		t.Fatalf("timestamp not filled: %v", recs[0].Timestamp)
	}
}

func TestPendingSubmissionsLoadMissingFile(t *testing.T) {
	ps := newPendingSubmissions(filepath.Join(t.TempDir(), "none.jsonl"), nil)
	recs, err := ps.load()
	if err != nil || len(recs) != 0 {
		t.Fatalf("missing file: %v %v", recs, err)
	}
}

func TestPendingSubmissionsReplay(t *testing.T) {
	var submitted atomic.Int32
	d := newFakeDaemon(t, func(method string, params []any) (any, *rpcError) {
		if method == "submitblock" {
			submitted.Add(1)
		}
		return nil, nil
	})
	di, err := NewDaemonInterface([]DaemonConfig{d.config(t)})
	if err != nil {
		t.Fatalf("NewDaemonInterface: %v", err)
	}
	ps := newPendingSubmissions(filepath.Join(t.TempDir(), "pending.jsonl"), di)
	ps.record(pendingSubmissionRecord{Height: 1, Hash: "aa", BlockHex: "00", Status: pendingStatusPending})
	ps.record(pendingSubmissionRecord{Height: 2, Hash: "bb", BlockHex: "01", Status: pendingStatusSubmitted})

	ps.replay(context.Background())
	if submitted.Load() != 1 {
		t.Fatalf("submitblock calls = %d, want 1", submitted.Load())
	}
	recs, err := ps.load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	for _, rec := range recs {
		if rec.Status != pendingStatusSubmitted {
			t.Fatalf("record %s still %q", rec.Hash, rec.Status)
		}
	}

	ps.replay(context.Background())
	if submitted.Load() != 1 {
		t.Fatalf("submitted blocks must not be replayed, calls = %d", submitted.Load())
	}
}

func TestPendingSubmissionsReplayKeepsUnreachable(t *testing.T) {
	d := newFakeDaemon(t, func(string, []any) (any, *rpcError) { return nil, nil })
	cfg := d.config(t)
	d.srv.Close()
	di, err := NewDaemonInterface([]DaemonConfig{cfg})
	if err != nil {
		t.Fatalf("NewDaemonInterface: %v", err)
	}
	ps := newPendingSubmissions(filepath.Join(t.TempDir(), "pending.jsonl"), di)
	ps.record(pendingSubmissionRecord{Height: 1, Hash: "aa", BlockHex: "00", Status: pendingStatusPending})
	ps.replay(context.Background())
	recs, _ := ps.load()
	if len(recs) != 1 || recs[0].Status != pendingStatusPending {
		t.Fatalf("unreachable daemon should leave the block pending: %+v", recs)
	}
}
