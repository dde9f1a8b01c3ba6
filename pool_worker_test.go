package main

import (
	"context"
	"testing"
	"time"
)

func newTestPoolWorker(t *testing.T) (*poolWorker, *fakeDiscordSender) {
	t.Helper()
	sender := &fakeDiscordSender{}
	now := time.Unix(1700000000, 0)
	w := &poolWorker{
		printShares: true,
		journal:     newBlockJournal(blockJournalPath(t.TempDir(), "KMD")),
		state:       openTestStateStore(t),
		discord:     newTestDiscordNotifier(sender),
		metrics:     newTestMetrics(now),
		now:         func() time.Time { return now },
	}
	return w, sender
}

func TestPoolWorkerShares(t *testing.T) {
	w, _ := newTestPoolWorker(t)
	w.handleShare(true, false, shareEvent{Worker: "RWorker.rig1", Difficulty: 1, ShareDiff: 3, BlockDiffActual: 100})
	w.handleShare(true, false, shareEvent{Worker: "RWorker.rig1", Difficulty: 1, ShareDiff: 2e8, BlockDiffActual: 100})
	w.handleShare(false, false, shareEvent{Worker: "RWorker.rig1", Difficulty: 1, Error: "Duplicate share"})

	s := w.metrics.Snapshot()
	if s.Accepted != 2 || s.Rejected != 1 || s.RejectReasons["Duplicate share"] != 1 {
		t.Fatalf("metrics = %+v", s)
	}
	if err := w.state.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	row, ok, err := w.state.WorkerShares("RWorker.rig1")
	if err != nil || !ok {
		t.Fatalf("WorkerShares: %v %v", ok, err)
	}
	if row.Valid != 2 || row.Invalid != 1 || row.BestShare != 2e8 {
		t.Fatalf("row = %+v", row)
	}
	w.journal.Close()
	if records, _ := w.journal.Records(); len(records) != 0 {
		t.Fatalf("plain shares should not reach the block journal: %v", records)
	}
}

func TestPoolWorkerBlockLifecycle(t *testing.T) {
	w, sender := newTestPoolWorker(t)
	evt := shareEvent{
		Worker:          "RWorker.rig1",
		Height:          500,
		Difficulty:      1,
		ShareDiff:       120,
		BlockDiffActual: 100,
		BlockHash:       "00000abc",
		BlockHex:        "04000000",
		TxHash:          "ff",
	}
	w.handleShare(true, true, evt)

	status, ok, err := w.state.BlockStatus(500)
	if err != nil || !ok || status != blockStatusAccepted {
		t.Fatalf("block status = %q %v %v", status, ok, err)
	}
	if s := w.metrics.Snapshot(); s.BlocksFound != 1 || s.Accepted != 1 {
		t.Fatalf("metrics after block = %+v", s)
	}

	// Confirmation failure delivers the candidate again as a plain share.
	w.handleShare(true, false, evt)
	status, _, _ = w.state.BlockStatus(500)
	if status != blockStatusOrphaned {
		t.Fatalf("status after orphan = %q", status)
	}
	if s := w.metrics.Snapshot(); s.BlocksOrphaned != 1 || s.Accepted != 1 {
		t.Fatalf("orphan should not count as another share: %+v", s)
	}

	w.journal.Close()
	records, err := w.journal.Records()
	if err != nil {
		t.Fatalf("Records: %v", err)
	}
	if len(records) != 1 || records[0].Block != 500 || records[0].Finder != "RWorker.rig1" || records[0].Date != 1700000000000 {
		t.Fatalf("journal = %+v", records)
	}

	w.discord.sendNext()
	w.discord.sendNext()
	if got := sender.messages(); len(got) != 2 {
		t.Fatalf("discord messages = %v", got)
	}
}

func TestPoolWorkerRejectedBlock(t *testing.T) {
	w, _ := newTestPoolWorker(t)
	w.handleShare(false, false, shareEvent{Worker: "RWorker.rig1", BlockHash: "00aa", Error: "block rejected"})
	if s := w.metrics.Snapshot(); s.Rejected != 1 || s.BlocksFound != 0 {
		t.Fatalf("metrics = %+v", s)
	}
	if _, ok, _ := w.state.BlockStatus(0); ok {
		t.Fatalf("rejected block should not be recorded")
	}
}

func TestPoolWorkerOptionalSinks(t *testing.T) {
	w := &poolWorker{now: time.Now}
	w.handleShare(true, true, shareEvent{Worker: "RWorker.rig1", Height: 1, BlockHash: "aa"})
	w.handleShare(true, false, shareEvent{Worker: "RWorker.rig1", Height: 1, BlockHash: "aa", BlockHex: "00"})
	w.handleShare(false, false, shareEvent{Worker: "RWorker.rig1"})
}
