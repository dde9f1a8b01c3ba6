package main

import (
	"fmt"
	"time"
)

// poolWorker consumes pool share events: it logs them and feeds the block
// journal, the state db, the Discord notifier and the metrics.
type poolWorker struct {
	printShares bool
	journal     *blockJournal
	state       *stateStore
	discord     *discordNotifier
	metrics     *poolMetrics
	now         func() time.Time
}

func (w *poolWorker) handleShare(isValidShare, isValidBlock bool, evt shareEvent) {
	// A block candidate delivered a second time means the confirmation
	// failed after the optimistic accept.
	if isValidShare && !isValidBlock && evt.BlockHex != "" {
		w.blockOrphaned(evt)
		return
	}

	if isValidBlock {
		w.blockAccepted(evt)
	}

	if !isValidShare {
		w.metrics.RecordShare(false, evt.Error, evt.Difficulty)
		if w.state != nil {
			w.state.RecordShare(evt.Worker, false, 0)
		}
		if evt.BlockHash != "" {
			workerLog.Error("We thought a block was found but it was rejected by the daemon")
		}
		return
	}

	w.metrics.RecordShare(true, "", evt.Difficulty)
	if w.state != nil {
		w.state.RecordShare(evt.Worker, true, evt.ShareDiff)
	}
	switch {
	case evt.ShareDiff > 1e9:
		workerLog.Error(fmt.Sprintf("Share was found with diff higher than 1,000,000,000! %v", evt.ShareDiff))
	case evt.ShareDiff > 1e8:
		workerLog.Special(fmt.Sprintf("Share was found with diff higher than 100,000,000! %v", evt.ShareDiff))
	case evt.ShareDiff > 1e7:
		workerLog.Special(fmt.Sprintf("Share was found with diff higher than 10,000,000! %v", evt.ShareDiff))
	}

	if !w.printShares {
		return
	}
	msg := fmt.Sprintf("Share accepted - Block diff: %v Share Diff: %v", evt.BlockDiffActual, evt.ShareDiff)
	if evt.BlockDiffActual > evt.ShareDiff {
		msg += fmt.Sprintf(" (%.2f%%)", evt.ShareDiff*100/evt.BlockDiffActual)
		workerLog.Debug(msg)
		return
	}
	workerLog.Special(msg)
}

func (w *poolWorker) blockAccepted(evt shareEvent) {
	now := w.now()
	blocksLog.Special(fmt.Sprintf("Network Accepted Block: %d Hash: %s", evt.Height, evt.BlockHash))
	w.metrics.RecordBlockFound(now)
	if w.journal != nil {
		w.journal.Record(foundBlockRecord{
			Block:  evt.Height,
			Hash:   evt.BlockHash,
			Finder: evt.Worker,
			Date:   now.UnixMilli(),
		})
	}
	if w.state != nil {
		if err := w.state.RecordBlock(evt); err != nil {
			databaseLog.Error("record found block failed", "height", evt.Height, "error", err)
		}
	}
	w.discord.NotifyBlockFound(evt)
}

func (w *poolWorker) blockOrphaned(evt shareEvent) {
	blocksLog.Warn(fmt.Sprintf("Block %d was not found by the daemons after submission. Hash: %s", evt.Height, evt.BlockHash))
	w.metrics.RecordBlockOrphaned()
	if w.state != nil {
		if err := w.state.MarkOrphaned(evt.BlockHash); err != nil {
			databaseLog.Error("mark block orphaned failed", "height", evt.Height, "error", err)
		}
	}
	w.discord.NotifyBlockOrphaned(evt)
}
