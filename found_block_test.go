package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestBlockJournalPath(t *testing.T) {
	got := blockJournalPath("/srv/pool", "kmd")
	if got != filepath.Join("/srv/pool", "block_logs", "KMD_blocks.json") {
		t.Fatalf("path = %s", got)
	}
}

func TestBlockJournalFirstRecordPerHeightWins(t *testing.T) {
	path := blockJournalPath(t.TempDir(), "KMD")
	j := newBlockJournal(path)
	j.Record(foundBlockRecord{Block: 100, Hash: "aa", Finder: "RWorker.rig1", Date: 1})
	j.Record(foundBlockRecord{Block: 100, Hash: "bb", Finder: "RWorker.rig2", Date: 2})
	j.Record(foundBlockRecord{Block: 100, Hash: "aa", Finder: "RWorker.rig1", Date: 3})
	j.Record(foundBlockRecord{Block: 101, Hash: "cc", Finder: "RWorker.rig2", Date: 4})
	j.Close()
	j.Close()

	records, err := j.Records()
	if err != nil {
		t.Fatalf("Records: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("records = %+v", records)
	}
	if records[0].Hash != "aa" || records[0].Finder != "RWorker.rig1" || records[1].Block != 101 {
		t.Fatalf("records = %+v", records)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read journal: %v", err)
	}
	if !strings.Contains(string(data), `"finder":"RWorker.rig1"`) {
		t.Fatalf("journal = %s", data)
	}
}

func TestBlockJournalCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "KMD_blocks.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	j := newBlockJournal(path)
	j.Record(foundBlockRecord{Block: 1, Hash: "aa"})
	j.Close()
	data, _ := os.ReadFile(path)
	if string(data) != "{not json" {
		t.Fatalf("corrupt journal should be left untouched, got %s", data)
	}
	if _, err := j.Records(); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestShortHash(t *testing.T) {
	if shortHash("abc") != "abc" || shortHash(strings.Repeat("a", 64)) != strings.Repeat("a", 16) {
		t.Fatalf("shortHash mismatch")
	}
}
