package main

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	pendingStatusPending   = "pending"
	pendingStatusSubmitted = "submitted"

	pendingSubmitTimeout = 30 * time.Second
)

// pendingSubmissionRecord is one line of pending_submissions.jsonl. A record
// without Status counts as pending until a later record for the same hash
// says otherwise.
type pendingSubmissionRecord struct {
	Timestamp time.Time `json:"timestamp"`
	Height    int64     `json:"height"`
	Hash      string    `json:"hash"`
	Worker    string    `json:"worker"`
	BlockHex  string    `json:"block_hex"`
	RPCError  string    `json:"rpc_error,omitempty"`
	Instance  int       `json:"daemon_instance"`
	Status    string    `json:"status,omitempty"`
}

// pendingSubmissions keeps blocks whose submitblock never reached a daemon
// and retries them until one answers.
type pendingSubmissions struct {
	path   string
	daemon *DaemonInterface
	mu     sync.Mutex
	now    func() time.Time
}

func pendingSubmissionsPath(dataDir string) string {
	if dataDir == "" {
		dataDir = defaultDataDir
	}
	return filepath.Join(dataDir, "pending_submissions.jsonl")
}

func newPendingSubmissions(path string, daemon *DaemonInterface) *pendingSubmissions {
	return &pendingSubmissions{path: path, daemon: daemon, now: time.Now}
}

func (p *Pool) setupPendingSubmissions(ctx context.Context) {
	if p.pending == nil {
		p.pending = newPendingSubmissions(pendingSubmissionsPath(p.cfg.DataDir), p.daemon)
	}
	p.goTask(func() { p.pending.run(ctx, pendingSubmissionInterval) })
}

func (ps *pendingSubmissions) run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ps.replay(ctx)
		}
	}
}

// load returns the latest record per block.
func (ps *pendingSubmissions) load() ([]pendingSubmissionRecord, error) {
	f, err := os.Open(ps.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	const maxLine = 4 * 1024 * 1024
	scanner.Buffer(make([]byte, 0, 64*1024), maxLine)

	var order []string
	byKey := make(map[string]pendingSubmissionRecord)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var rec pendingSubmissionRecord
		if err := fastJSONUnmarshal(line, &rec); err != nil {
			continue
		}
		key := strings.TrimSpace(rec.Hash)
		if key == "" {
			key = strings.TrimSpace(rec.BlockHex)
		}
		if key == "" {
			continue
		}
		if _, seen := byKey[key]; !seen {
			order = append(order, key)
		}
		byKey[key] = rec
	}
	out := make([]pendingSubmissionRecord, 0, len(order))
	for _, key := range order {
		out = append(out, byKey[key])
	}
	return out, scanner.Err()
}

func (ps *pendingSubmissions) replay(ctx context.Context) {
	recs, err := ps.load()
	if err != nil {
		blocksLog.Warn("pending block scan", "error", err)
	}
	for _, rec := range recs {
		if strings.EqualFold(rec.Status, pendingStatusSubmitted) || rec.BlockHex == "" {
			continue
		}
		if ctx.Err() != nil {
			return
		}
		callCtx, cancel := context.WithTimeout(ctx, pendingSubmitTimeout)
		results := ps.daemon.Cmd(callCtx, "submitblock", []any{rec.BlockHex})
		cancel()
		answered := false
		rec.RPCError = ""
		for _, r := range results {
			if r.Error != nil {
				blocksLog.Error("pending submitblock error", "height", rec.Height, "hash", rec.Hash, "instance", r.Instance, "error", r.Error)
				if isRPCConnectivityError(r.Error) || errors.Is(r.Error, context.DeadlineExceeded) {
					continue
				}
				rec.RPCError = r.Error.Error()
			}
			answered = true
		}
		if !answered {
			continue
		}
		blocksLog.Info("pending block submitted", "height", rec.Height, "hash", rec.Hash)
		rec.Status = pendingStatusSubmitted
		rec.Timestamp = ps.now().UTC()
		ps.record(rec)
	}
}

// record appends rec to the log.
func (ps *pendingSubmissions) record(rec pendingSubmissionRecord) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = ps.now().UTC()
	}
	data, err := fastJSONMarshal(rec)
	if err != nil {
		blocksLog.Warn("pending block status marshal", "error", err)
		return
	}

	ps.mu.Lock()
	defer ps.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(ps.path), 0o755); err != nil {
		blocksLog.Warn("pending block status mkdir", "error", err)
		return
	}
	f, err := os.OpenFile(ps.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		blocksLog.Warn("pending block status open", "error", err)
		return
	}
	defer f.Close()
	if _, err := f.Write(append(data, '\n')); err != nil {
		blocksLog.Warn("pending block status write", "error", err)
		return
	}
	if err := f.Sync(); err != nil {
		blocksLog.Warn("pending block status sync", "error", err)
	}
}
