package main

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

const (
	stateFlushInterval = 10 * time.Second

	blockStatusAccepted = "accepted"
	blockStatusOrphaned = "orphaned"
)

func stateDBPathFromDataDir(dataDir string) string {
	dataDir = strings.TrimSpace(dataDir)
	if dataDir == "" {
		dataDir = defaultDataDir
	}
	return filepath.Join(dataDir, "state", "pool.db")
}

func openStateDB(dbPath string) (*sql.DB, error) {
	if strings.TrimSpace(dbPath) == "" {
		return nil, os.ErrInvalid
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, err
	}
	// One connection avoids SQLITE_BUSY between the flush loop and block
	// inserts.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := ensureStateTables(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func ensureStateTables(db *sql.DB) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS found_blocks (
			height INTEGER PRIMARY KEY,
			hash TEXT NOT NULL,
			finder TEXT NOT NULL,
			tx_hash TEXT,
			share_diff REAL NOT NULL,
			block_diff REAL NOT NULL,
			status TEXT NOT NULL,
			found_at_unix INTEGER NOT NULL,
			updated_at_unix INTEGER NOT NULL
		)
	`); err != nil {
		return err
	}
	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS found_blocks_hash_idx ON found_blocks (hash)`); err != nil {
		return err
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS worker_shares (
			worker TEXT PRIMARY KEY,
			valid INTEGER NOT NULL,
			invalid INTEGER NOT NULL,
			difficulty_sum REAL NOT NULL,
			best_share REAL NOT NULL,
			last_share_unix INTEGER NOT NULL
		)
	`); err != nil {
		return err
	}
	return nil
}

type workerShareDelta struct {
	valid    int64
	invalid  int64
	diffSum  float64
	best     float64
	lastUnix int64
}

type workerShareRow struct {
	Worker        string    `json:"worker"`
	Valid         int64     `json:"valid"`
	Invalid       int64     `json:"invalid"`
	DifficultySum float64   `json:"difficulty_sum"`
	BestShare     float64   `json:"best_share"`
	LastShare     time.Time `json:"last_share"`
}

// stateStore indexes found blocks and aggregates share outcomes per
// worker. Share counts are buffered in memory and flushed periodically.
type stateStore struct {
	db  *sql.DB
	now func() time.Time

	mu      sync.Mutex
	pending map[string]*workerShareDelta
}

func newStateStore(db *sql.DB) *stateStore {
	return &stateStore{db: db, now: time.Now, pending: make(map[string]*workerShareDelta)}
}

// RecordBlock stores a found block. An existing row for the height is
// kept.
func (s *stateStore) RecordBlock(evt shareEvent) error {
	now := s.now().Unix()
	_, err := s.db.Exec(`INSERT OR IGNORE INTO found_blocks
		(height, hash, finder, tx_hash, share_diff, block_diff, status, found_at_unix, updated_at_unix)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		evt.Height, evt.BlockHash, evt.Worker, evt.TxHash, evt.ShareDiff, evt.BlockDiffActual, blockStatusAccepted, now, now)
	return err
}

// MarkOrphaned flags a previously recorded block the daemons no longer
// know.
func (s *stateStore) MarkOrphaned(hash string) error {
	_, err := s.db.Exec(`UPDATE found_blocks SET status = ?, updated_at_unix = ? WHERE hash = ?`,
		blockStatusOrphaned, s.now().Unix(), hash)
	return err
}

func (s *stateStore) BlockStatus(height int64) (string, bool, error) {
	var status string
	err := s.db.QueryRow(`SELECT status FROM found_blocks WHERE height = ?`, height).Scan(&status)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return status, true, nil
}

func (s *stateStore) RecordShare(worker string, valid bool, shareDiff float64) {
	if worker == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.pending[worker]
	if d == nil {
		d = &workerShareDelta{}
		s.pending[worker] = d
	}
	d.lastUnix = s.now().Unix()
	if !valid {
		d.invalid++
		return
	}
	d.valid++
	d.diffSum += shareDiff
	if shareDiff > d.best {
		d.best = shareDiff
	}
}

// Flush writes the buffered share counters in one transaction.
func (s *stateStore) Flush(ctx context.Context) error {
	s.mu.Lock()
	batch := s.pending
	s.pending = make(map[string]*workerShareDelta)
	s.mu.Unlock()
	if len(batch) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		s.requeue(batch)
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO worker_shares
		(worker, valid, invalid, difficulty_sum, best_share, last_share_unix)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(worker) DO UPDATE SET
			valid = valid + excluded.valid,
			invalid = invalid + excluded.invalid,
			difficulty_sum = difficulty_sum + excluded.difficulty_sum,
			best_share = MAX(best_share, excluded.best_share),
			last_share_unix = MAX(last_share_unix, excluded.last_share_unix)`)
	if err != nil {
		_ = tx.Rollback()
		s.requeue(batch)
		return err
	}
	defer stmt.Close()
	for worker, d := range batch {
		if _, err := stmt.ExecContext(ctx, worker, d.valid, d.invalid, d.diffSum, d.best, d.lastUnix); err != nil {
			_ = tx.Rollback()
			s.requeue(batch)
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		s.requeue(batch)
		return err
	}
	return nil
}

func (s *stateStore) requeue(batch map[string]*workerShareDelta) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for worker, d := range batch {
		cur := s.pending[worker]
		if cur == nil {
			s.pending[worker] = d
			continue
		}
		cur.valid += d.valid
		cur.invalid += d.invalid
		cur.diffSum += d.diffSum
		cur.best = max(cur.best, d.best)
		cur.lastUnix = max(cur.lastUnix, d.lastUnix)
	}
}

func (s *stateStore) WorkerShares(worker string) (workerShareRow, bool, error) {
	row := workerShareRow{Worker: worker}
	var last int64
	err := s.db.QueryRow(`SELECT valid, invalid, difficulty_sum, best_share, last_share_unix
		FROM worker_shares WHERE worker = ?`, worker).
		Scan(&row.Valid, &row.Invalid, &row.DifficultySum, &row.BestShare, &last)
	if err == sql.ErrNoRows {
		return row, false, nil
	}
	if err != nil {
		return row, false, err
	}
	row.LastShare = time.Unix(last, 0)
	return row, true, nil
}

// run flushes share counters until ctx ends, then once more.
func (s *stateStore) run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			if err := s.Flush(context.Background()); err != nil {
				databaseLog.Warn("final worker share flush failed", "error", err)
			}
			return
		case <-ticker.C:
			if err := s.Flush(ctx); err != nil && ctx.Err() == nil {
				databaseLog.Warn("worker share flush failed", "error", err)
			}
		}
	}
}

func (s *stateStore) Close() error {
	return s.db.Close()
}
