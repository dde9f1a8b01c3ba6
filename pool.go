package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hako/durafmt"
)

// poolInitStats is what the daemons reported at startup.
type poolInitStats struct {
	Connections     int
	Difficulty      float64
	NetworkHashRate float64
	StratumPorts    []int
}

// shareHandler receives every processed share. isValidBlock is true while
// a submitted block is believed accepted; a failed confirmation delivers
// the same share again with isValidBlock false.
type shareHandler func(isValidShare, isValidBlock bool, evt shareEvent)

// Pool wires the daemons, the job manager and the Stratum server
// together.
type Pool struct {
	cfg    Config
	algo   Algorithm
	daemon *DaemonInterface

	jobs     *JobManager
	stratum  *StratumServer
	peer     *Peer
	varDiffs map[int]*VarDiffController
	pending  *pendingSubmissions
	metrics  *poolMetrics
	state    *stateStore

	testnet         bool
	protocolVersion uint32
	initStats       poolInitStats

	diffMu             sync.RWMutex
	effectivePortDiffs map[int]float64

	hooksMu sync.RWMutex
	onShare []shareHandler

	ctx       context.Context
	wg        sync.WaitGroup
	startedAt time.Time
	now       func() time.Time
}

func NewPool(cfg Config, metrics *poolMetrics) (*Pool, error) {
	algo, err := loadAlgorithm(cfg.Algorithm)
	if err != nil {
		return nil, err
	}
	if metrics == nil {
		metrics = newPoolMetrics()
	}
	p := &Pool{
		cfg:                cfg,
		algo:               algo,
		varDiffs:           make(map[int]*VarDiffController),
		effectivePortDiffs: make(map[int]float64),
		metrics:            metrics,
		ctx:                context.Background(),
		now:                time.Now,
	}
	for _, port := range cfg.Ports {
		if port.VarDiff != nil {
			p.varDiffs[port.Port] = NewVarDiffController(*port.VarDiff)
		}
		p.effectivePortDiffs[port.Port] = port.Diff
	}
	return p, nil
}

// AttachStateStore makes s available to the CLI share and block queries.
func (p *Pool) AttachStateStore(s *stateStore) {
	p.state = s
}

// OnShare registers fn for every share the pool processes.
func (p *Pool) OnShare(fn shareHandler) {
	p.hooksMu.Lock()
	p.onShare = append(p.onShare, fn)
	p.hooksMu.Unlock()
}

func (p *Pool) emitShare(isValidShare, isValidBlock bool, evt shareEvent) {
	evt.IsValidShare = isValidShare
	evt.IsValidBlock = isValidBlock
	p.hooksMu.RLock()
	hooks := p.onShare
	p.hooksMu.RUnlock()
	for _, fn := range hooks {
		fn(isValidShare, isValidBlock, evt)
	}
}

// Start brings the pool up in order: daemons, coin data, job manager,
// chain sync, first job, block notify sources and finally the Stratum
// listeners. It returns once miners can connect.
func (p *Pool) Start(ctx context.Context) error {
	p.ctx = ctx
	p.startedAt = p.now()
	if err := p.setupDaemonInterface(ctx); err != nil {
		return err
	}
	if err := p.detectCoinData(ctx); err != nil {
		return err
	}
	if err := p.setupJobManager(); err != nil {
		return err
	}
	if err := p.waitForSync(ctx); err != nil {
		return err
	}
	if err := p.getFirstJob(ctx); err != nil {
		return err
	}
	p.setupBlockPolling(ctx)
	if err := p.setupPeer(ctx); err != nil {
		return err
	}
	p.setupZMQ(ctx)
	p.setupPendingSubmissions(ctx)
	if err := p.startStratumServer(ctx); err != nil {
		return err
	}
	p.outputPoolInfo()
	p.goTask(func() { p.runStatsLogger(ctx, p.cfg.StatsInterval) })
	return nil
}

// Stop closes the listeners and waits for background work to finish.
func (p *Pool) Stop(timeout time.Duration) {
	if p.stratum != nil {
		p.stratum.Stop(timeout)
	}
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		poolLog.Warn("timed out waiting for pool tasks", "waited", timeout)
	}
}

func (p *Pool) goTask(fn func()) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		fn()
	}()
}

func (p *Pool) setupDaemonInterface(ctx context.Context) error {
	if p.daemon == nil {
		di, err := NewDaemonInterface(p.cfg.Daemons)
		if err != nil {
			poolLog.Error("No daemons have been configured - pool cannot start")
			return err
		}
		p.daemon = di
	}
	for !p.daemon.IsOnline(ctx) {
		poolLog.Error("Failed to connect daemon(s), retrying", "retry_in", syncRetryInterval)
		if err := sleepContext(ctx, syncRetryInterval); err != nil {
			return err
		}
	}
	return nil
}

type validateAddressResult struct {
	IsValid bool   `json:"isvalid"`
	Address string `json:"address"`
	PubKey  string `json:"pubkey"`
	IsMine  bool   `json:"ismine"`
}

type getInfoResult struct {
	Blocks          int64   `json:"blocks"`
	Connections     int     `json:"connections"`
	Difficulty      float64 `json:"difficulty"`
	Testnet         bool    `json:"testnet"`
	ProtocolVersion uint32  `json:"protocolversion"`
}

type getMiningInfoResult struct {
	NetworkSolps float64 `json:"networksolps"`
}

// detectCoinData checks the pool address against the first daemon's
// wallet and records network parameters.
func (p *Pool) detectCoinData(ctx context.Context) error {
	calls := []rpcBatchCall{
		{Method: "validateaddress", Params: []any{p.cfg.Address}},
		{Method: "getinfo"},
		{Method: "getmininginfo"},
	}
	replies, err := p.daemon.BatchCmd(ctx, calls)
	if err != nil {
		return fmt.Errorf("could not start pool, error with init batch RPC call: %w", err)
	}
	for i, r := range replies {
		if r.Error != nil {
			return fmt.Errorf("could not start pool, error with init RPC %s: %w", calls[i].Method, r.Error)
		}
		if len(r.Result) == 0 || string(r.Result) == "null" {
			return fmt.Errorf("could not start pool, init RPC %s returned no result", calls[i].Method)
		}
	}

	var addr validateAddressResult
	if err := decodeDaemonJSON(replies[0].Result, &addr); err != nil {
		return fmt.Errorf("decode validateaddress: %w", err)
	}
	if !addr.IsValid {
		return errors.New("daemon reports address is not valid")
	}
	if p.cfg.PubKey == "" {
		if addr.PubKey == "" {
			poolLog.Error("The address provided is not from the daemon wallet - this may result in lost mining funds")
		} else {
			p.cfg.PubKey = addr.PubKey
		}
	}

	var info getInfoResult
	if err := decodeDaemonJSON(replies[1].Result, &info); err != nil {
		return fmt.Errorf("decode getinfo: %w", err)
	}
	var mining getMiningInfoResult
	if err := decodeDaemonJSON(replies[2].Result, &mining); err != nil {
		return fmt.Errorf("decode getmininginfo: %w", err)
	}
	p.testnet = info.Testnet
	p.protocolVersion = info.ProtocolVersion
	p.initStats = poolInitStats{
		Connections:     info.Connections,
		Difficulty:      info.Difficulty,
		NetworkHashRate: mining.NetworkSolps,
		StratumPorts:    p.cfg.PortNumbers(),
	}
	return nil
}

func (p *Pool) setupJobManager() error {
	recipients := make([]coinbaseRecipient, 0, len(p.cfg.Recipients))
	for _, r := range p.cfg.Recipients {
		recipients = append(recipients, coinbaseRecipient{Address: r.Address, Percent: r.Percent})
	}
	jm, err := NewJobManager(JobManagerConfig{
		Options: jobOptions{
			PoolAddress:  p.cfg.Address,
			PubKey:       p.cfg.PubKey,
			CoinbaseText: p.cfg.CoinbaseTag,
			Recipients:   recipients,
		},
		InstanceID:             p.cfg.InstanceID,
		EmitInvalidBlockHashes: p.cfg.EmitInvalidBlockHashes,
		MaxValidJobs:           p.cfg.MaxValidJobs,
		PrintNethash:           p.cfg.PrintNethash,
		BlockTime:              p.cfg.BlockTime,
	}, p.algo)
	if err != nil {
		return err
	}
	p.jobs = jm

	jm.OnNewBlock(func(bt *BlockTemplate) {
		if p.stratum != nil {
			p.stratum.BroadcastMiningJobs(bt.JobParams())
		}
		if p.cfg.MinDiffAutoLower {
			p.recomputeEffectivePortDiffs(bt.Difficulty, false)
		}
	})
	jm.OnUpdatedBlock(func(bt *BlockTemplate) {
		if p.stratum != nil {
			p.stratum.BroadcastMiningJobs(jobParamsWithClean(bt.JobParams(), false))
		}
		if p.cfg.MinDiffAutoLower {
			p.recomputeEffectivePortDiffs(bt.Difficulty, false)
		}
	})
	jm.OnShare(p.handleShare)
	return nil
}

// handleShare emits non-block shares directly. Block candidates are
// submitted first, emitted optimistically and re-emitted as invalid if
// the daemons do not know the block afterwards.
func (p *Pool) handleShare(evt shareEvent) {
	isValidShare := evt.Error == ""
	if evt.BlockHex == "" {
		p.emitShare(isValidShare, false, evt)
		return
	}
	p.goTask(func() { p.handleBlockCandidate(p.ctx, evt) })
}

// handleBlockCandidate reports the share as a found block whatever the
// submit outcome. Confirmation through getblock corrects it to orphaned
// when the daemons do not have the block.
func (p *Pool) handleBlockCandidate(ctx context.Context, evt shareEvent) {
	if p.submitBlock(ctx, evt) {
		p.goTask(func() {
			blocksLog.Debug("Updating block template after block submission")
			if _, _, err := p.getBlockTemplate(ctx); err != nil {
				blocksLog.Error("template refresh after block submission failed", "error", err)
			}
		})
	}
	p.emitShare(true, true, evt)

	confirmCtx, cancel := context.WithTimeout(ctx, blockConfirmTimeout)
	defer cancel()
	accepted, txHash := p.checkBlockAccepted(confirmCtx, evt.BlockHash)
	if accepted {
		return
	}
	if ctx.Err() != nil {
		blocksLog.Warn("block confirmation interrupted by shutdown; leaving block as found", "height", evt.Height, "hash", evt.BlockHash)
		return
	}
	evt.TxHash = txHash
	p.emitShare(true, false, evt)
}

// recomputeEffectivePortDiffs caps every port's difficulty at the block
// difficulty and logs the ports that were lowered.
func (p *Pool) recomputeEffectivePortDiffs(blockDiff float64, initial bool) {
	var lowered []string
	p.diffMu.Lock()
	for _, port := range p.cfg.Ports {
		base := port.Diff
		eff := math.Min(blockDiff, base)
		if eff != p.effectivePortDiffs[port.Port] && eff != base {
			lowered = append(lowered, fmt.Sprintf("%d (%v -> %v)", port.Port, base, eff))
		}
		p.effectivePortDiffs[port.Port] = eff
	}
	p.diffMu.Unlock()
	if len(lowered) == 0 {
		return
	}
	sort.Strings(lowered)
	prefix := "Updated"
	if initial {
		prefix = "Initial"
	}
	poolLog.Warn(prefix + " auto-lowered miner difficulty for ports: " + strings.Join(lowered, ", "))
}

func (p *Pool) effectivePortDiff(port int) float64 {
	p.diffMu.RLock()
	defer p.diffMu.RUnlock()
	return p.effectivePortDiffs[port]
}

func (p *Pool) portDiff(port int) float64 {
	if pc, ok := p.cfg.Port(port); ok {
		return pc.Diff
	}
	return 0
}

func (p *Pool) getFirstJob(ctx context.Context) error {
	if _, _, err := p.getBlockTemplate(ctx); err != nil {
		return fmt.Errorf("first block template: %w", err)
	}
	netDiff := p.initStats.Difficulty
	if p.cfg.MinDiffAutoLower {
		p.recomputeEffectivePortDiffs(netDiff, true)
	}
	var warnings []string
	for _, port := range p.cfg.Ports {
		if netDiff < port.Diff {
			warnings = append(warnings, fmt.Sprintf("port %d w/ diff %v", port.Port, port.Diff))
		}
	}
	if len(warnings) > 0 {
		msg := fmt.Sprintf("Network diff of %v is lower than %s", netDiff, strings.Join(warnings, " and "))
		if p.cfg.MinDiffAutoLower {
			msg += " -- auto-lowering enabled; miners will use network diff until it exceeds port base diff."
		}
		poolLog.Warn(msg)
	}
	return nil
}

func (p *Pool) startStratumServer(ctx context.Context) error {
	p.stratum = NewStratumServer(StratumServerConfig{
		Host:                  p.cfg.StratumHost,
		Ports:                 p.cfg.PortNumbers(),
		ConnectionTimeout:     p.cfg.ConnectionTimeout,
		JobRebroadcastTimeout: p.cfg.JobRebroadcastTimeout,
		TCPProxyProtocol:      p.cfg.TCPProxyProtocol,
		BroadcastConcurrency:  p.cfg.BroadcastConcurrency,
		Diff1:                 p.algo.Diff1(),
	}, p, p.onBroadcastTimeout)
	if err := p.stratum.Start(ctx); err != nil {
		return err
	}
	if job := p.jobs.CurrentJob(); job != nil {
		p.stratum.BroadcastMiningJobs(job.JobParams())
	}
	return nil
}

// onBroadcastTimeout refreshes transactions when no block arrived within
// the rebroadcast window.
func (p *Pool) onBroadcastTimeout() {
	if p.ctx.Err() != nil {
		return
	}
	if debugLogging {
		poolLog.Debug(fmt.Sprintf("No new blocks for %s - updating transactions & rebroadcasting work",
			durafmt.Parse(p.cfg.JobRebroadcastTimeout).LimitFirstN(2).String()))
	}
	tpl, isNew, err := p.getBlockTemplate(p.ctx)
	if err != nil || isNew {
		return
	}
	if err := p.jobs.UpdateCurrentJob(tpl); err != nil {
		poolLog.Error("rebroadcast job update failed", "error", err)
	}
}

func (p *Pool) outputPoolInfo() {
	network := "Mainnet"
	if p.testnet {
		network = "Testnet"
	}
	algoKey := p.cfg.Algorithm
	if algoKey == "" {
		algoKey = "default"
	}
	job := p.jobs.CurrentJob()
	lines := []string{
		fmt.Sprintf("Stratum Pool Server Started for %s [%s]", p.cfg.CoinName, strings.ToUpper(p.cfg.CoinSymbol)),
		"Network Connected:\t" + network,
		"Current Connect Peers:\t" + strconv.Itoa(p.initStats.Connections),
		fmt.Sprintf("Algorithm:\t\t%s (%s) [configured: %s]", p.algo.Name(), p.algo.Variant(), algoKey),
		"Network Hash Rate:\t" + p.algo.FormatHashRate(p.initStats.NetworkHashRate),
		"Stratum Port(s):\t" + joinInts(p.initStats.StratumPorts, ", "),
		"Daemon Instances:\t" + strconv.Itoa(p.daemon.Len()),
		"Network Difficulty:\t" + strconv.FormatFloat(p.initStats.Difficulty, 'f', -1, 64),
	}
	if job != nil {
		lines = append(lines[:5], append([]string{
			"Current Block Height:\t" + strconv.FormatInt(job.RPCData.Height, 10),
		}, lines[5:]...)...)
		lines = append(lines, "Current Block Diff:\t"+strconv.FormatFloat(job.Difficulty, 'f', -1, 64))
	}
	lines = append(lines, "Codecs:\t\t\t"+sha256ImplementationName()+", "+jsonBackendName())
	if p.cfg.BlockRefreshInterval > 0 {
		lines = append(lines, "Block polling every:\t"+durafmt.Parse(p.cfg.BlockRefreshInterval).String())
	}
	for _, line := range lines {
		logger.Special(line)
	}
}

func joinInts(v []int, sep string) string {
	parts := make([]string, len(v))
	for i, n := range v {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, sep)
}

// Stratum callbacks.

func (p *Pool) subscribe(mc *MinerConn) (string, error) {
	if p.jobs == nil {
		return "", errNoTemplate
	}
	return p.jobs.NextExtraNonce1(), nil
}

// subscribed sends the starting difficulty and the current job. Ports
// with min_diff_adjust start at their effective difficulty, everything
// else at the block difficulty.
func (p *Pool) subscribed(mc *MinerConn) {
	job := p.jobs.CurrentJob()
	port := mc.Port()
	if vd := p.varDiffs[port]; vd != nil {
		mc.setVarDiff(vd.ManageClient())
	}
	pc, configured := p.cfg.Port(port)
	switch {
	case configured && p.cfg.MinDiffAdjust:
		diff := p.effectivePortDiff(port)
		if diff <= 0 {
			diff = pc.Diff
		}
		mc.sendDifficulty(diff)
		if p.cfg.MinDiffAutoLower && diff != pc.Diff {
			poolLog.Debug(fmt.Sprintf("Assigned lowered difficulty %v to miner on port %d (base %v)", diff, port, pc.Diff))
		}
	case job != nil:
		mc.sendDifficulty(job.Difficulty)
	}
	if job == nil {
		return
	}
	mc.sendMiningJob(job.JobParams())
}

func (p *Pool) authorize(mc *MinerConn, worker, password string) authorizeResult {
	workerLog.Special(fmt.Sprintf("Authorized %s:%s", worker, mc.RemoteIP()))
	if p.stratum != nil {
		p.stratum.BindWorker(worker, mc)
	}
	p.metrics.SetConnectedMiners(p.clientCount())
	return authorizeResult{Authorized: true}
}

func (p *Pool) clientCount() int {
	if p.stratum == nil {
		return 0
	}
	return p.stratum.ClientCount()
}

// submit runs vardiff bookkeeping and validates the share against the
// job it names.
func (p *Pool) submit(mc *MinerConn, req submitRequest) shareResult {
	snap := mc.snapshot()
	if vd := mc.varDiff(); vd != nil {
		if newDiff, ok := vd.OnSubmit(snap.Difficulty); ok {
			p.retarget(mc, newDiff)
		}
	}

	prev := snap.PreviousDifficulty
	if p.cfg.DiffGraceWindow <= 0 || p.now().Sub(snap.DiffChangedAt) > p.cfg.DiffGraceWindow {
		prev = 0
	}
	return p.jobs.ProcessShare(shareParams{
		JobID:              req.JobID,
		PreviousDifficulty: prev,
		Difficulty:         snap.Difficulty,
		ExtraNonce1:        snap.ExtraNonce1,
		ExtraNonce2:        req.ExtraNonce2,
		NTime:              req.NTime,
		Nonce:              snap.ExtraNonce1 + req.ExtraNonce2,
		IP:                 snap.RemoteIP,
		Port:               snap.Port,
		Worker:             req.Worker,
		Solution:           req.Solution,
	})
}

// retarget queues newDiff for the next job, capped at the lowered port
// difficulty while auto-lowering is active.
func (p *Pool) retarget(mc *MinerConn, newDiff float64) {
	port := mc.Port()
	if p.cfg.MinDiffAutoLower {
		if eff := p.effectivePortDiff(port); eff > 0 && eff < p.portDiff(port) && newDiff > eff {
			newDiff = eff
		}
	}
	p.metrics.RecordVardiffMove(newDiff > mc.Difficulty())
	if p.cfg.PrintVarDiff {
		vardiffLog.Warn(fmt.Sprintf("VarDiff Retarget for %s to %v", mc.WorkerName(), newDiff))
	}
	mc.enqueueNextDifficulty(newDiff)
}

func (p *Pool) difficultyChanged(mc *MinerConn, diff float64) {
	if debugLogging {
		stratumLog.Debug("difficulty update sent", "client", mc.Label(), "difficulty", diff)
	}
}

func (p *Pool) disconnected(mc *MinerConn) {
	valid, invalid := mc.shareCounts()
	workerLog.Error("Socket disconnected "+mc.Label(), "valid_shares", valid, "invalid_shares", invalid)
	p.metrics.SetConnectedMiners(p.clientCount())
}
