package main

import (
	"io"
	"time"
)

func (mc *MinerConn) writeJSON(v any) error {
	b, err := fastJSONMarshal(v)
	if err != nil {
		return err
	}
	b = append(b, '\n')
	return mc.writeBytes(b)
}

func (mc *MinerConn) writeBytes(b []byte) error {
	mc.writeMu.Lock()
	defer mc.writeMu.Unlock()

	if err := mc.conn.SetWriteDeadline(time.Now().Add(stratumWriteTimeout)); err != nil {
		return err
	}
	for len(b) > 0 {
		n, err := mc.conn.Write(b)
		if n > 0 {
			b = b[n:]
		}
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrUnexpectedEOF
		}
	}
	return nil
}

func (mc *MinerConn) writeResponse(resp StratumResponse) {
	if err := mc.writeJSON(resp); err != nil {
		stratumLog.Debug("write error", "client", mc.Label(), "error", err)
	}
}

func (mc *MinerConn) writeNotification(method string, params []any) error {
	return mc.writeJSON(StratumNotification{ID: nil, Method: method, Params: params})
}

// sendDifficulty pushes a new share target and reports whether it changed.
func (mc *MinerConn) sendDifficulty(diff float64) bool {
	if diff <= 0 {
		return false
	}
	mc.stateMu.Lock()
	if diff == mc.difficulty {
		mc.stateMu.Unlock()
		return false
	}
	mc.previousDifficulty = mc.difficulty
	mc.difficulty = diff
	mc.diffChangedAt = mc.now()
	mc.stateMu.Unlock()

	target := targetHex64(targetFromDifficulty(mc.diff1, diff))
	if err := mc.writeNotification("mining.set_target", []any{target}); err != nil {
		stratumLog.Debug("write error", "client", mc.Label(), "error", err)
	}
	return true
}

// enqueueNextDifficulty defers a retarget until the next job is sent.
func (mc *MinerConn) enqueueNextDifficulty(diff float64) bool {
	mc.stateMu.Lock()
	mc.pendingDifficulty = diff
	mc.hasPending = true
	mc.stateMu.Unlock()
	return true
}

func (mc *MinerConn) takePendingDifficulty() (float64, bool) {
	mc.stateMu.Lock()
	defer mc.stateMu.Unlock()
	if !mc.hasPending {
		return 0, false
	}
	d := mc.pendingDifficulty
	mc.pendingDifficulty = 0
	mc.hasPending = false
	return d, true
}

// sendMiningJob drops clients that have not submitted within the
// connection timeout, applies any pending difficulty and sends the job.
func (mc *MinerConn) sendMiningJob(params []any) {
	if idle := mc.idleFor(mc.now()); idle > mc.timeout {
		stratumLog.Debug("dropping idle miner on job broadcast", "client", mc.Label(), "idle", idle)
		mc.cleanup()
		return
	}
	if diff, ok := mc.takePendingDifficulty(); ok {
		if mc.sendDifficulty(diff) && mc.handler != nil {
			mc.handler.difficultyChanged(mc, mc.Difficulty())
		}
	}
	if err := mc.writeNotification("mining.notify", params); err != nil {
		stratumLog.Debug("write error", "client", mc.Label(), "error", err)
	}
}
