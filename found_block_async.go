package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const blockJournalQueueSize = 64

// foundBlockRecord is one entry of <SYMBOL>_blocks.json.
type foundBlockRecord struct {
	Block  int64  `json:"block"`
	Hash   string `json:"hash"`
	Finder string `json:"finder"`
	Date   int64  `json:"date"`
}

// blockJournal appends accepted blocks to a JSON array on disk. A single
// goroutine owns the file, so records are written in arrival order and
// the share path never waits on filesystem I/O.
type blockJournal struct {
	path  string
	queue chan foundBlockRecord
	wg    sync.WaitGroup
	once  sync.Once
}

func blockJournalPath(dataDir, symbol string) string {
	if dataDir == "" {
		dataDir = defaultDataDir
	}
	return filepath.Join(dataDir, "block_logs", strings.ToUpper(symbol)+"_blocks.json")
}

func newBlockJournal(path string) *blockJournal {
	j := &blockJournal{
		path:  path,
		queue: make(chan foundBlockRecord, blockJournalQueueSize),
	}
	j.wg.Add(1)
	go j.run()
	return j
}

// Record queues rec. It blocks only when the queue is full.
func (j *blockJournal) Record(rec foundBlockRecord) {
	j.queue <- rec
}

// Close drains queued records and stops the writer.
func (j *blockJournal) Close() {
	j.once.Do(func() { close(j.queue) })
	j.wg.Wait()
}

func (j *blockJournal) run() {
	defer j.wg.Done()
	for rec := range j.queue {
		if err := j.write(rec); err != nil {
			journalLog.Warn("Error updating blocks.json: " + err.Error())
		}
	}
}

func shortHash(h string) string {
	if len(h) > 16 {
		return h[:16]
	}
	return h
}

// write adds rec unless a block at the same height is already recorded.
// The first record for a height wins.
func (j *blockJournal) write(rec foundBlockRecord) error {
	records, err := j.load()
	if err != nil {
		return err
	}
	for _, existing := range records {
		if existing.Block != rec.Block {
			continue
		}
		if existing.Hash == rec.Hash {
			journalLog.Debug(fmt.Sprintf("Identical block already recorded at height %d. Hash: %s", rec.Block, rec.Hash))
		} else {
			journalLog.Warn(fmt.Sprintf("Duplicate block height %d prevented. New hash: %s... (keeping existing: %s...)",
				rec.Block, shortHash(rec.Hash), shortHash(existing.Hash)))
		}
		return nil
	}
	records = append(records, rec)
	data, err := fastJSONMarshal(records)
	if err != nil {
		return err
	}
	if err := writeFileAtomic(j.path, data, 0o644); err != nil {
		return err
	}
	journalLog.Debug(fmt.Sprintf("Block %d recorded. Hash: %s... Finder: %s", rec.Block, shortHash(rec.Hash), rec.Finder))
	return nil
}

func (j *blockJournal) load() ([]foundBlockRecord, error) {
	data, err := os.ReadFile(j.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", j.path, err)
	}
	var records []foundBlockRecord
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, nil
	}
	if err := fastJSONUnmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parse %s: %w", j.path, err)
	}
	return records, nil
}

// Records returns the journal contents.
func (j *blockJournal) Records() ([]foundBlockRecord, error) {
	return j.load()
}
