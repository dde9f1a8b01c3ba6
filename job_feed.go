package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/pebbe/zmq4"
	hex "github.com/tmthrgd/go-hex"
)

var errInvalidTemplate = errors.New("getblocktemplate returned no coinbasetxn")

type decodedRawTransaction struct {
	Vout []templateVout `json:"vout"`
}

type getBlockResult struct {
	Hash   string   `json:"hash"`
	Height int64    `json:"height"`
	Tx     []string `json:"tx"`
}

type peerInfo struct {
	StartingHeight int64 `json:"startingheight"`
}

// fetchTemplate asks the daemons for a template and decodes its coinbase.
// Replies without a coinbasetxn are retried until ctx ends.
func (p *Pool) fetchTemplate(ctx context.Context) (GetBlockTemplateResult, error) {
	params := []any{map[string]any{"capabilities": []string{"coinbasetxn", "workid", "coinbase/append"}}}
	for {
		results := p.daemon.Cmd(ctx, "getblocktemplate", params)
		var tpl GetBlockTemplateResult
		var firstErr error
		ok := false
		for _, r := range results {
			if r.Error != nil {
				blocksLog.Error(fmt.Sprintf("getblocktemplate call failed for daemon instance %d with error %v", r.Instance, r.Error))
				if firstErr == nil {
					firstErr = r.Error
				}
				continue
			}
			if !ok {
				ok = r.decode(&tpl) == nil
			}
		}
		if !ok && firstErr != nil {
			return tpl, firstErr
		}
		if ok && tpl.CoinbaseTxn != nil {
			if err := p.decodeCoinbase(ctx, &tpl); err != nil {
				return tpl, err
			}
			return tpl, nil
		}
		blocksLog.Error("getblocktemplate call failed with invalid response", "error", errInvalidTemplate)
		if err := sleepContext(ctx, coinbaseTxnRetryInterval); err != nil {
			return tpl, err
		}
	}
}

// decodeCoinbase fills in the miner reward and the daemon's coinbase
// outputs from the first daemon that can decode coinbasetxn.
func (p *Pool) decodeCoinbase(ctx context.Context, tpl *GetBlockTemplateResult) error {
	tpl.Miner = roundTo(float64(tpl.CoinbaseTxn.CoinbaseValue)/1e8, 8)
	var decoded decodedRawTransaction
	var decodeErr error
	done := false
	p.daemon.CmdStream(ctx, "decoderawtransaction", []any{tpl.CoinbaseTxn.Data}, func(r daemonResult) {
		if done {
			return
		}
		if err := r.decode(&decoded); err != nil {
			blocksLog.Error(fmt.Sprintf("decoderawtransaction call failed for daemon instance %d with error %v", r.Instance, err))
			decodeErr = err
			return
		}
		done = true
	})
	if !done {
		return decodeErr
	}
	tpl.Vouts = decoded.Vout
	return nil
}

// getBlockTemplate fetches a template and hands it to the job manager.
// isNew reports whether it started a new job.
func (p *Pool) getBlockTemplate(ctx context.Context) (GetBlockTemplateResult, bool, error) {
	tpl, err := p.fetchTemplate(ctx)
	if err != nil {
		p.metrics.RecordTemplateError()
		return tpl, false, err
	}
	isNew, err := p.jobs.ProcessTemplate(tpl)
	if err != nil {
		p.metrics.RecordTemplateError()
		return tpl, false, err
	}
	return tpl, isNew, nil
}

// waitForSync blocks until no daemon reports it is still downloading the
// chain.
func (p *Pool) waitForSync(ctx context.Context) error {
	warned := false
	for {
		synced := true
		for _, r := range p.daemon.Cmd(ctx, "getblocktemplate", nil) {
			if r.Error != nil && rpcErrorCode(r.Error) == rpcGetBlockTemplateSyncing {
				synced = false
			}
		}
		if synced {
			return nil
		}
		if !warned {
			poolLog.Error("Daemon is still syncing with network (download blockchain) - server will be started once synced")
			warned = true
		}
		p.generateProgress(ctx)
		if err := sleepContext(ctx, syncRetryInterval); err != nil {
			return err
		}
	}
}

// generateProgress logs how much of the chain the daemons have compared
// with the best height their peers announced.
func (p *Pool) generateProgress(ctx context.Context) {
	var blocks int64
	for _, r := range p.daemon.Cmd(ctx, "getinfo", nil) {
		var info getInfoResult
		if r.decode(&info) == nil && info.Blocks > blocks {
			blocks = info.Blocks
		}
	}
	results := p.daemon.Cmd(ctx, "getpeerinfo", nil)
	if len(results) == 0 {
		return
	}
	var peers []peerInfo
	if err := results[0].decode(&peers); err != nil || len(peers) == 0 {
		return
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i].StartingHeight > peers[j].StartingHeight })
	total := peers[0].StartingHeight
	if total <= 0 {
		return
	}
	percent := float64(blocks) / float64(total) * 100
	poolLog.Warn(fmt.Sprintf("Downloaded %.2f%% of blockchain from %d peers", percent, len(peers)))
}

func (p *Pool) setupBlockPolling(ctx context.Context) {
	interval := p.cfg.BlockRefreshInterval
	if interval <= 0 {
		poolLog.Debug("Block template polling has been disabled")
		return
	}
	p.goTask(func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			_, isNew, err := p.getBlockTemplate(ctx)
			if err != nil {
				if ctx.Err() == nil {
					poolLog.Error("block polling failed", "error", err)
				}
				continue
			}
			if isNew {
				poolLog.Debug("Block notification via RPC polling")
			}
		}
	})
}

func (p *Pool) setupPeer(ctx context.Context) error {
	if !p.cfg.P2PEnabled {
		return nil
	}
	magic := p.cfg.PeerMagic
	if p.testnet {
		if p.cfg.PeerMagicTestnet == "" {
			p2pLog.Error("p2p cannot be enabled in testnet without peer_magic_testnet set in coin configuration")
			return nil
		}
		magic = p.cfg.PeerMagicTestnet
	}
	if magic == "" {
		p2pLog.Error("p2p cannot be enabled without peer_magic set in coin configuration")
		return nil
	}
	peer, err := NewPeer(PeerConfig{
		Host:                p.cfg.P2PHost,
		Port:                p.cfg.P2PPort,
		Magic:               magic,
		ProtocolVersion:     p.protocolVersion,
		DisableTransactions: p.cfg.P2PDisableTransactions,
	}, func(hash string) {
		p.processBlockNotify(ctx, hash, "p2p")
	})
	if err != nil {
		return err
	}
	p.peer = peer
	p.goTask(func() { peer.Run(ctx) })
	return nil
}

// processBlockNotify refreshes the template when hash is not the block the
// current job already builds on.
func (p *Pool) processBlockNotify(ctx context.Context, hash, source string) {
	parsed, err := chainhash.NewHashFromStr(strings.TrimSpace(hash))
	if err != nil || len(strings.TrimSpace(hash)) != 2*chainhash.HashSize {
		blocksLog.Warn("ignoring malformed block notification", "source", source, "hash", truncateForLog([]byte(hash), 80))
		return
	}
	hash = parsed.String()
	job := p.jobs.CurrentJob()
	if job == nil || job.RPCData.PreviousBlockHash == "" || hash == job.RPCData.PreviousBlockHash {
		return
	}
	p.metrics.RecordBlockNotify(source)
	results := p.daemon.Cmd(ctx, "getblock", []any{hash})
	if len(results) > 0 {
		var blk getBlockResult
		if results[0].decode(&blk) == nil && blk.Height > 0 {
			blocksLog.Debug(fmt.Sprintf("Block notification via %s -->> Block: %d", source, blk.Height))
		}
	}
	if _, _, err := p.getBlockTemplate(ctx); err != nil {
		blocksLog.Error("Block notify error getting block template for "+p.cfg.CoinName, "error", err)
	}
}

// checkBlockAccepted reports whether any daemon knows hash, returning the
// coinbase txid when it does.
func (p *Pool) checkBlockAccepted(ctx context.Context, hash string) (bool, string) {
	for _, r := range p.daemon.Cmd(ctx, "getblock", []any{hash}) {
		var blk getBlockResult
		if r.decode(&blk) != nil || blk.Hash != hash {
			continue
		}
		if len(blk.Tx) > 0 {
			return true, blk.Tx[0]
		}
		return true, ""
	}
	return false, ""
}

// submitBlock sends the block to every daemon. It returns false when any
// daemon failed or rejected it. Connectivity failures are queued for
// replay.
func (p *Pool) submitBlock(ctx context.Context, evt shareEvent) bool {
	for _, r := range p.daemon.Cmd(ctx, "submitblock", []any{evt.BlockHex}) {
		if r.Error != nil {
			blocksLog.Error(fmt.Sprintf("rpc error with daemon instance %d when submitting block with submitblock %v", r.Instance, r.Error))
			if isRPCConnectivityError(r.Error) && p.pending != nil {
				p.pending.record(pendingSubmissionRecord{
					Height:   evt.Height,
					Hash:     evt.BlockHash,
					Worker:   evt.Worker,
					BlockHex: evt.BlockHex,
					RPCError: r.Error.Error(),
					Instance: r.Instance,
					Status:   pendingStatusPending,
				})
			}
			return false
		}
		var reply string
		if len(r.Response) > 0 && decodeDaemonJSON(r.Response, &reply) == nil && strings.Contains(reply, "rejected") {
			blocksLog.Error(fmt.Sprintf("Daemon instance %d rejected a supposedly valid block", r.Instance), "reply", reply)
			return false
		}
	}
	if p.cfg.PrintSubmissions {
		blocksLog.Debug("Submitted Block using submitblock successfully to daemon instance(s)")
	}
	p.metrics.RecordBlockSubmitted()
	return true
}

// setupZMQ subscribes to the daemon's hashblock feed when configured.
func (p *Pool) setupZMQ(ctx context.Context) {
	if p.cfg.ZMQHashBlockAddr == "" {
		return
	}
	p.goTask(func() { p.zmqBlockLoop(ctx, p.cfg.ZMQHashBlockAddr) })
}

func nextZMQBackoff(backoff time.Duration) time.Duration {
	return time.Duration(math.Min(float64(backoff*2), float64(defaultZMQRecreateBackoffMax)))
}

func (p *Pool) zmqBlockLoop(ctx context.Context, addr string) {
	backoff := defaultZMQRecreateBackoffMin
	for ctx.Err() == nil {
		err := p.zmqSession(ctx, addr, func() { backoff = defaultZMQRecreateBackoffMin })
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			blocksLog.Warn("zmq hashblock watcher error", "addr", addr, "error", err, "retry_in", backoff)
		}
		if sleepContext(ctx, backoff) != nil {
			return
		}
		backoff = nextZMQBackoff(backoff)
	}
}

// zmqSession runs one SUB socket until it fails or ctx ends.
func (p *Pool) zmqSession(ctx context.Context, addr string, connected func()) error {
	sub, err := zmq4.NewSocket(zmq4.SUB)
	if err != nil {
		return fmt.Errorf("socket: %w", err)
	}
	defer sub.Close()
	_ = sub.SetLinger(0)
	if err := sub.SetSubscribe("hashblock"); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	if err := sub.SetRcvtimeo(defaultZMQReceiveTimeout); err != nil {
		return fmt.Errorf("set rcvtimeo: %w", err)
	}
	_ = sub.SetReconnectIvl(defaultZMQReconnectInterval)
	_ = sub.SetReconnectIvlMax(defaultZMQReconnectMax)
	if err := sub.Connect(addr); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	blocksLog.Info("watching ZMQ block notifications", "addr", addr)
	connected()

	for ctx.Err() == nil {
		frames, err := sub.RecvMessageBytes(0)
		if err != nil {
			eno := zmq4.AsErrno(err)
			if eno == zmq4.Errno(syscall.EAGAIN) || eno == zmq4.ETIMEDOUT {
				continue
			}
			return fmt.Errorf("receive: %w", err)
		}
		if len(frames) < 2 {
			blocksLog.Warn("zmq notification malformed", "frames", len(frames))
			continue
		}
		if string(frames[0]) != "hashblock" {
			continue
		}
		p.processBlockNotify(ctx, hex.EncodeToString(frames[1]), "zmq")
	}
	return nil
}
