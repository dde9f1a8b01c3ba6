package main

import (
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
	"sync"
	"time"

	hex "github.com/tmthrgd/go-hex"
)

// GetBlockTemplateResult is the subset of an Equihash getblocktemplate
// reply the pool consumes. Miner and Vouts are filled in locally after the
// coinbasetxn has been decoded.
type GetBlockTemplateResult struct {
	Version              uint32                `json:"version"`
	PreviousBlockHash    string                `json:"previousblockhash"`
	FinalSaplingRootHash string                `json:"finalsaplingroothash"`
	Transactions         []templateTransaction `json:"transactions"`
	CoinbaseTxn          *coinbaseTxn          `json:"coinbasetxn"`
	Target               string                `json:"target"`
	MinTime              int64                 `json:"mintime"`
	CurTime              int64                 `json:"curtime"`
	Bits                 string                `json:"bits"`
	Height               int64                 `json:"height"`

	Miner float64        `json:"-"`
	Vouts []templateVout `json:"-"`
}

type templateTransaction struct {
	Data string          `json:"data"`
	Hash string          `json:"hash"`
	TxID string          `json:"txid"`
	Fee  json.RawMessage `json:"fee"`
}

// feeValue accepts numeric or numeric-string fees and ignores anything else.
func (tx templateTransaction) feeValue() int64 {
	raw := strings.Trim(strings.TrimSpace(string(tx.Fee)), `"`)
	if raw == "" || raw == "null" {
		return 0
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
		return int64(f)
	}
	return 0
}

type coinbaseTxn struct {
	Data          string `json:"data"`
	Hash          string `json:"hash"`
	CoinbaseValue int64  `json:"coinbasevalue"`
}

// jobOptions is the pool-level configuration every template needs to
// build its coinbase.
type jobOptions struct {
	PoolAddress  string
	PubKey       string
	CoinbaseText string
	Recipients   []coinbaseRecipient
}

// BlockTemplate is a single mining job.
type BlockTemplate struct {
	JobID       string
	RPCData     GetBlockTemplateResult
	Target      *big.Int
	Difficulty  float64
	BlockReward int64
	RewardFees  int64
	TxCount     int
	CreatedAt   time.Time

	GenTx              generationTx
	MerkleRoot         string
	MerkleRootReversed string
	PrevHashReversed   string
	HashReserved       string
	ReversedBits       string

	algo Algorithm

	submitsMu sync.Mutex
	submits   map[string]struct{}

	paramsOnce sync.Once
	params     []any
}

func newBlockTemplate(jobID string, rpcData GetBlockTemplateResult, opts jobOptions, algo Algorithm) (*BlockTemplate, error) {
	if algo == nil {
		return nil, fmt.Errorf("algorithm instance not provided")
	}
	target, err := parseTargetHex(rpcData.Target)
	if err != nil {
		return nil, fmt.Errorf("template target: %w", err)
	}
	bt := &BlockTemplate{
		JobID:     jobID,
		RPCData:   rpcData,
		Target:    target,
		CreatedAt: time.Now(),
		algo:      algo,
		submits:   make(map[string]struct{}),
	}
	bt.BlockReward = int64(math.Round(rpcData.Miner * 1e8))
	bt.RewardFees = algo.CalculateFees(rpcData.Transactions)

	gen, err := algo.CreateGeneration(generationOptions{
		Height:       rpcData.Height,
		BlockReward:  bt.BlockReward,
		FeeReward:    bt.RewardFees,
		Recipients:   opts.Recipients,
		PoolAddress:  opts.PoolAddress,
		PubKey:       opts.PubKey,
		CoinbaseText: opts.CoinbaseText,
		Vouts:        rpcData.Vouts,
	})
	if err != nil {
		return nil, fmt.Errorf("create generation: %w", err)
	}
	bt.GenTx = gen

	if bt.PrevHashReversed, err = reverseHex(rpcData.PreviousBlockHash); err != nil {
		return nil, fmt.Errorf("previousblockhash: %w", err)
	}
	if bt.HashReserved, err = reverseHex(rpcData.FinalSaplingRootHash); err != nil {
		return nil, fmt.Errorf("finalsaplingroothash: %w", err)
	}
	if bt.ReversedBits, err = reverseHex(rpcData.Bits); err != nil {
		return nil, fmt.Errorf("bits: %w", err)
	}

	txHashes := make([]string, len(rpcData.Transactions))
	for i, tx := range rpcData.Transactions {
		txHashes[i] = tx.Hash
	}
	if bt.MerkleRoot, err = merkleRoot(gen.Hash, txHashes); err != nil {
		return nil, err
	}
	if bt.MerkleRootReversed, err = reverseHex(bt.MerkleRoot); err != nil {
		return nil, err
	}
	bt.TxCount = len(rpcData.Transactions) + 1

	if bt.Difficulty, err = algo.CalculateDifficulty(rpcData.Target); err != nil {
		return nil, err
	}
	return bt, nil
}

func (bt *BlockTemplate) Height() int64 {
	return bt.RPCData.Height
}

// SerializeHeader builds the 140 byte header for a submitted nTime/nonce.
func (bt *BlockTemplate) SerializeHeader(nTime, nonce string) ([]byte, error) {
	return bt.algo.SerializeHeader(headerFields{
		Version:            bt.RPCData.Version,
		PrevHashReversed:   bt.PrevHashReversed,
		MerkleRootReversed: bt.MerkleRootReversed,
		HashReserved:       bt.HashReserved,
		NTime:              nTime,
		ReversedBits:       bt.ReversedBits,
		Nonce:              nonce,
	})
}

func (bt *BlockTemplate) SerializeBlock(header, solution []byte) ([]byte, error) {
	return bt.algo.SerializeBlock(blockFields{
		Header:       header,
		Solution:     solution,
		GenTx:        bt.GenTx.Raw,
		Transactions: bt.RPCData.Transactions,
	})
}

// RegisterSubmit records a submission and reports whether it was new.
func (bt *BlockTemplate) RegisterSubmit(extraNonce1, extraNonce2, nTime, nonce string) bool {
	key := strings.ToLower(extraNonce1 + ":" + extraNonce2 + ":" + nTime + ":" + nonce)
	bt.submitsMu.Lock()
	defer bt.submitsMu.Unlock()
	if _, ok := bt.submits[key]; ok {
		return false
	}
	bt.submits[key] = struct{}{}
	return true
}

// JobParams returns the mining.notify parameters. The slice is shared;
// callers must not modify it.
func (bt *BlockTemplate) JobParams() []any {
	bt.paramsOnce.Do(func() {
		bt.params = []any{
			bt.JobID,
			hex.EncodeToString(packUint32LE(bt.RPCData.Version)),
			bt.PrevHashReversed,
			bt.MerkleRootReversed,
			bt.HashReserved,
			hex.EncodeToString(packUint32LE(uint32(bt.RPCData.CurTime))),
			bt.ReversedBits,
			true,
		}
	})
	return bt.params
}

// jobParamsWithClean copies the notify parameters with a different
// clean_jobs flag.
func jobParamsWithClean(params []any, clean bool) []any {
	out := append([]any(nil), params...)
	if len(out) > 0 {
		out[len(out)-1] = clean
	}
	return out
}
