package main

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	hex "github.com/tmthrgd/go-hex"
)

const (
	defaultMaxValidJobs    = 64
	ntimeFutureTolerance   = 7200
	lowDifficultyTolerance = 0.99
)

// Stratum share error codes.
const (
	errCodeOther         = 20
	errCodeJobNotFound   = 21
	errCodeDuplicate     = 22
	errCodeLowDifficulty = 23
	errCodeUnauthorized  = 24
	errCodeNotSubscribed = 25
)

var errNoTemplate = errors.New("no block template")

// shareError is reported to the miner as [code, message, null].
type shareError struct {
	Code    int
	Message string
}

func (e *shareError) Error() string {
	return strconv.Itoa(e.Code) + ": " + e.Message
}

func (e *shareError) wire() []any {
	return []any{e.Code, e.Message, nil}
}

// shareEvent is published for every processed share, valid or not.
type shareEvent struct {
	Job             string
	IP              string
	Port            int
	Worker          string
	Height          int64
	BlockReward     float64
	Difficulty      float64
	ShareDiff       float64
	BlockDiff       float64
	BlockDiffActual float64
	BlockHash       string
	BlockHex        string
	Error           string
	IsValidShare    bool
	IsValidBlock    bool
	TxHash          string
}

type shareParams struct {
	JobID              string
	PreviousDifficulty float64
	Difficulty         float64
	ExtraNonce1        string
	ExtraNonce2        string
	NTime              string
	Nonce              string
	IP                 string
	Port               int
	Worker             string
	Solution           string
}

type shareResult struct {
	Result    bool
	Error     *shareError
	BlockHash string
}

// extraNonceCounter hands out 4 byte extranonce1 values. The top bits come
// from the instance id so several pool processes never collide.
type extraNonceCounter struct {
	counter atomic.Uint32
}

func newExtraNonceCounter(instanceID uint32) *extraNonceCounter {
	if instanceID == 0 {
		var b [4]byte
		_, _ = rand.Read(b[:])
		instanceID = binary.LittleEndian.Uint32(b[:])
	}
	c := &extraNonceCounter{}
	c.counter.Store(instanceID << 27)
	return c
}

func (c *extraNonceCounter) Next() string {
	v := c.counter.Add(1) - 1
	return hex.EncodeToString(packUint32BE(v))
}

type jobCounter struct {
	mu      sync.Mutex
	counter uint64
}

func newJobCounter() *jobCounter {
	return &jobCounter{counter: 0xcccc}
}

func (c *jobCounter) Next() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counter++
	if c.counter%0xffffffffff == 0 {
		c.counter = 1
	}
	return strconv.FormatUint(c.counter, 16)
}

type JobManagerConfig struct {
	Options                jobOptions
	InstanceID             uint32
	EmitInvalidBlockHashes bool
	MaxValidJobs           int
	PrintNethash           bool
	BlockTime              int
}

// JobManager owns the current template and the set of jobs miners may
// still submit against.
type JobManager struct {
	cfg  JobManagerConfig
	algo Algorithm

	// templateMu serializes template processing so events fire in the
	// order templates were accepted.
	templateMu sync.Mutex

	mu         sync.RWMutex
	currentJob *BlockTemplate
	validJobs  *lru.Cache[string, *BlockTemplate]

	extraNonce *extraNonceCounter
	jobs       *jobCounter
	now        func() time.Time

	hooksMu        sync.RWMutex
	onNewBlock     []func(*BlockTemplate)
	onUpdatedBlock []func(*BlockTemplate)
	onShare        []func(shareEvent)
}

func NewJobManager(cfg JobManagerConfig, algo Algorithm) (*JobManager, error) {
	if algo == nil {
		return nil, errors.New("job manager requires an algorithm")
	}
	size := cfg.MaxValidJobs
	if size <= 0 {
		size = defaultMaxValidJobs
	}
	cache, err := lru.New[string, *BlockTemplate](size)
	if err != nil {
		return nil, err
	}
	return &JobManager{
		cfg:        cfg,
		algo:       algo,
		validJobs:  cache,
		extraNonce: newExtraNonceCounter(cfg.InstanceID),
		jobs:       newJobCounter(),
		now:        time.Now,
	}, nil
}

func (jm *JobManager) Algorithm() Algorithm {
	return jm.algo
}

func (jm *JobManager) OnNewBlock(fn func(*BlockTemplate)) {
	jm.hooksMu.Lock()
	jm.onNewBlock = append(jm.onNewBlock, fn)
	jm.hooksMu.Unlock()
}

func (jm *JobManager) OnUpdatedBlock(fn func(*BlockTemplate)) {
	jm.hooksMu.Lock()
	jm.onUpdatedBlock = append(jm.onUpdatedBlock, fn)
	jm.hooksMu.Unlock()
}

func (jm *JobManager) OnShare(fn func(shareEvent)) {
	jm.hooksMu.Lock()
	jm.onShare = append(jm.onShare, fn)
	jm.hooksMu.Unlock()
}

func (jm *JobManager) emitNewBlock(bt *BlockTemplate) {
	jm.hooksMu.RLock()
	hooks := jm.onNewBlock
	jm.hooksMu.RUnlock()
	for _, fn := range hooks {
		fn(bt)
	}
}

func (jm *JobManager) emitUpdatedBlock(bt *BlockTemplate) {
	jm.hooksMu.RLock()
	hooks := jm.onUpdatedBlock
	jm.hooksMu.RUnlock()
	for _, fn := range hooks {
		fn(bt)
	}
}

func (jm *JobManager) emitShare(evt shareEvent) {
	jm.hooksMu.RLock()
	hooks := jm.onShare
	jm.hooksMu.RUnlock()
	for _, fn := range hooks {
		fn(evt)
	}
}

func (jm *JobManager) CurrentJob() *BlockTemplate {
	jm.mu.RLock()
	defer jm.mu.RUnlock()
	return jm.currentJob
}

func (jm *JobManager) NextExtraNonce1() string {
	return jm.extraNonce.Next()
}

func (jm *JobManager) lookupJob(jobID string) *BlockTemplate {
	job, ok := jm.validJobs.Get(jobID)
	if !ok || job.JobID != jobID {
		return nil
	}
	return job
}

func (jm *JobManager) buildTemplate(rpcData GetBlockTemplateResult) (*BlockTemplate, error) {
	return newBlockTemplate(jm.jobs.Next(), rpcData, jm.cfg.Options, jm.algo)
}

// UpdateCurrentJob always rebuilds the job from rpcData. Earlier jobs stay
// valid so in-flight work is still accepted.
func (jm *JobManager) UpdateCurrentJob(rpcData GetBlockTemplateResult) error {
	jm.templateMu.Lock()
	defer jm.templateMu.Unlock()

	bt, err := jm.buildTemplate(rpcData)
	if err != nil {
		return err
	}
	jm.mu.Lock()
	jm.currentJob = bt
	jm.validJobs.Add(bt.JobID, bt)
	jm.mu.Unlock()

	jm.emitUpdatedBlock(bt)
	return nil
}

// ProcessTemplate reports whether rpcData started a new block (or changed
// difficulty) and, if so, makes it the only valid job.
func (jm *JobManager) ProcessTemplate(rpcData GetBlockTemplateResult) (bool, error) {
	jm.templateMu.Lock()
	defer jm.templateMu.Unlock()

	cur := jm.CurrentJob()
	isNewBlock := cur == nil
	if !isNewBlock && cur.RPCData.PreviousBlockHash != rpcData.PreviousBlockHash {
		isNewBlock = true
		if rpcData.Height < cur.RPCData.Height {
			return false, nil
		}
	}
	if !isNewBlock && cur.RPCData.Target == rpcData.Target {
		return false, nil
	}

	bt, err := jm.buildTemplate(rpcData)
	if err != nil {
		return false, err
	}
	blocksLog.Info("block diff", "height", rpcData.Height, "difficulty", bt.Difficulty)
	if jm.cfg.PrintNethash {
		net := jm.algo.FormatNetworkRateFromDifficulty(bt.Difficulty, jm.cfg.BlockTime)
		blocksLog.Warn("effective nethash", "nethash", net.String)
	}

	jm.mu.Lock()
	jm.currentJob = bt
	jm.validJobs.Purge()
	jm.validJobs.Add(bt.JobID, bt)
	jm.mu.Unlock()

	jm.emitNewBlock(bt)
	return true, nil
}

func (jm *JobManager) rejectShare(p shareParams, code int, msg string) shareResult {
	err := &shareError{Code: code, Message: msg}
	jm.emitShare(shareEvent{
		Job:        p.JobID,
		IP:         p.IP,
		Port:       p.Port,
		Worker:     p.Worker,
		Difficulty: p.Difficulty,
		Error:      msg,
	})
	return shareResult{Error: err}
}

// ProcessShare validates a mining.submit against the job it names.
func (jm *JobManager) ProcessShare(p shareParams) shareResult {
	submitTime := jm.now().Unix()
	job := jm.lookupJob(p.JobID)
	if job == nil {
		return jm.rejectShare(p, errCodeJobNotFound, "job not found")
	}
	if len(p.NTime) != 8 {
		return jm.rejectShare(p, errCodeOther, "incorrect size of ntime")
	}
	nTime, err := parseUint32LEHex(p.NTime)
	if err != nil {
		return jm.rejectShare(p, errCodeOther, "invalid ntime")
	}
	if int64(nTime) < job.RPCData.CurTime || int64(nTime) > submitTime+ntimeFutureTolerance {
		return jm.rejectShare(p, errCodeOther, "ntime out of range")
	}
	if len(p.Nonce) != equihashNonceHexLen {
		return jm.rejectShare(p, errCodeOther, "incorrect size of nonce")
	}
	if len(p.Solution) != equihashSolutionHexLen {
		return jm.rejectShare(p, errCodeOther, "incorrect size of solution")
	}
	if !job.RegisterSubmit(p.ExtraNonce1, p.ExtraNonce2, p.NTime, p.Nonce) {
		return jm.rejectShare(p, errCodeDuplicate, "duplicate share")
	}

	header, err := job.SerializeHeader(p.NTime, p.Nonce)
	if err != nil {
		return jm.rejectShare(p, errCodeOther, "malformed header fields")
	}
	solution := make([]byte, equihashSolutionHexLen/2)
	if err := decodeHexToFixedBytes(solution, p.Solution); err != nil {
		return jm.rejectShare(p, errCodeOther, "invalid solution")
	}
	headerSoln := make([]byte, 0, len(header)+len(solution))
	headerSoln = append(headerSoln, header...)
	headerSoln = append(headerSoln, solution...)
	headerHash := doubleSHA256Array(headerSoln)
	headerNum := hashToBigLE(headerHash)

	shareDiff := jm.algo.ShareDiff(headerNum)
	isBlock := headerNum.Cmp(job.Target) <= 0
	difficulty := p.Difficulty

	if !isBlock && difficulty > 0 && shareDiff/difficulty < lowDifficultyTolerance {
		if p.PreviousDifficulty > 0 && shareDiff >= p.PreviousDifficulty {
			difficulty = p.PreviousDifficulty
		} else {
			return jm.rejectShare(p, errCodeLowDifficulty, "low difficulty share of "+strconv.FormatFloat(shareDiff, 'f', -1, 64))
		}
	}

	var blockHash, blockHex string
	if isBlock || jm.cfg.EmitInvalidBlockHashes {
		block, err := job.SerializeBlock(header, solution)
		if err != nil {
			blocksLog.Error("serialize block", "job", job.JobID, "error", err)
		} else {
			blockHex = hex.EncodeToString(block)
			reverseBytes32(&headerHash)
			blockHash = hex.EncodeToString(headerHash[:])
		}
	}

	evt := shareEvent{
		Job:             p.JobID,
		IP:              p.IP,
		Port:            p.Port,
		Worker:          p.Worker,
		Height:          job.Height(),
		BlockReward:     job.RPCData.Miner,
		Difficulty:      difficulty,
		ShareDiff:       shareDiff,
		BlockDiff:       job.Difficulty,
		BlockDiffActual: job.Difficulty,
		IsValidShare:    true,
	}
	if isBlock {
		evt.BlockHash = blockHash
		evt.BlockHex = blockHex
		evt.TxHash = hex.EncodeToString(reverseBytes(job.GenTx.Hash[:]))
	} else if jm.cfg.EmitInvalidBlockHashes {
		evt.BlockHash = blockHash
	}
	jm.emitShare(evt)

	out := shareResult{Result: true}
	if isBlock {
		out.BlockHash = blockHash
	}
	return out
}
