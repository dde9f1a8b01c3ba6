package main

import (
	"encoding/json"
	"strings"
	"testing"

	hex "github.com/tmthrgd/go-hex"
)

func testJobOptions(t *testing.T) jobOptions {
	t.Helper()
	return jobOptions{PoolAddress: testPoolAddress(t), CoinbaseText: "/equipool/"}
}

func TestNewBlockTemplate(t *testing.T) {
	algo := testAlgorithm(t)
	tpl := testTemplate(1000, targetHex64(algo.Diff1()))
	bt, err := newBlockTemplate("cccd", tpl, testJobOptions(t), algo)
	if err != nil {
		t.Fatalf("newBlockTemplate: %v", err)
	}
	if bt.BlockReward != 300000000 {
		t.Fatalf("block reward = %d", bt.BlockReward)
	}
	if bt.TxCount != 1 {
		t.Fatalf("tx count = %d", bt.TxCount)
	}
	if bt.Difficulty != 1 {
		t.Fatalf("difficulty = %v", bt.Difficulty)
	}
	if bt.Height() != 1000 {
		t.Fatalf("height = %d", bt.Height())
	}
	wantPrev, _ := reverseHex(testPrevHash)
	if bt.PrevHashReversed != wantPrev {
		t.Fatalf("prevhash reversed = %s", bt.PrevHashReversed)
	}
	if bt.ReversedBits != "ffff071f" {
		t.Fatalf("bits reversed = %s", bt.ReversedBits)
	}
	root := bt.GenTx.Hash
	reverseBytes32(&root)
	if bt.MerkleRoot != hex.EncodeToString(root[:]) {
		t.Fatalf("single transaction merkle root should be the coinbase hash")
	}
}

func TestNewBlockTemplateWithTransactions(t *testing.T) {
	algo := testAlgorithm(t)
	tpl := testTemplate(1000, maxTarget)
	tpl.Transactions = []templateTransaction{
		{Data: "0400008085202f89", Hash: block100000TxIDs[1], Fee: json.RawMessage(`1000`)},
	}
	bt, err := newBlockTemplate("cccd", tpl, testJobOptions(t), algo)
	if err != nil {
		t.Fatalf("newBlockTemplate: %v", err)
	}
	if bt.TxCount != 2 || bt.RewardFees != 1000 {
		t.Fatalf("tx count = %d, fees = %d", bt.TxCount, bt.RewardFees)
	}
	want, err := merkleRoot(bt.GenTx.Hash, []string{block100000TxIDs[1]})
	if err != nil {
		t.Fatalf("merkleRoot: %v", err)
	}
	if bt.MerkleRoot != want {
		t.Fatalf("merkle root = %s, want %s", bt.MerkleRoot, want)
	}
	wantRev, _ := reverseHex(want)
	if bt.MerkleRootReversed != wantRev {
		t.Fatalf("merkle root reversed = %s", bt.MerkleRootReversed)
	}
}

func TestNewBlockTemplateRejectsBadFields(t *testing.T) {
	algo := testAlgorithm(t)
	mutations := map[string]func(*GetBlockTemplateResult){
		"target":       func(g *GetBlockTemplateResult) { g.Target = "" },
		"prevhash":     func(g *GetBlockTemplateResult) { g.PreviousBlockHash = "xyz" },
		"sapling root": func(g *GetBlockTemplateResult) { g.FinalSaplingRootHash = "0" },
		"bits":         func(g *GetBlockTemplateResult) { g.Bits = "nothex" },
		"tx hash":      func(g *GetBlockTemplateResult) { g.Transactions = []templateTransaction{{Hash: "00"}} },
	}
	for name, mutate := range mutations {
		tpl := testTemplate(1000, maxTarget)
		mutate(&tpl)
		if _, err := newBlockTemplate("cccd", tpl, testJobOptions(t), algo); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
	if _, err := newBlockTemplate("cccd", testTemplate(1, maxTarget), jobOptions{PoolAddress: "nope"}, algo); err == nil {
		t.Fatalf("expected pool address error")
	}
	if _, err := newBlockTemplate("cccd", testTemplate(1, maxTarget), testJobOptions(t), nil); err == nil {
		t.Fatalf("expected error without algorithm")
	}
}

func TestBlockTemplateJobParams(t *testing.T) {
	bt, err := newBlockTemplate("cccd", testTemplate(1000, maxTarget), testJobOptions(t), testAlgorithm(t))
	if err != nil {
		t.Fatalf("newBlockTemplate: %v", err)
	}
	params := bt.JobParams()
	if len(params) != 8 {
		t.Fatalf("params length = %d", len(params))
	}
	if params[0] != "cccd" || params[1] != "04000000" || params[7] != true {
		t.Fatalf("unexpected params %v", params)
	}
	if params[5] != hex.EncodeToString(packUint32LE(uint32(testCurTime))) {
		t.Fatalf("curtime param = %v", params[5])
	}
	if params[6] != bt.ReversedBits || params[4] != bt.HashReserved {
		t.Fatalf("bits/reserved params mismatch")
	}
	stale := jobParamsWithClean(params, false)
	if stale[7] != false || params[7] != true {
		t.Fatalf("jobParamsWithClean must copy, got %v / %v", stale[7], params[7])
	}
}

func TestBlockTemplateRegisterSubmit(t *testing.T) {
	bt, err := newBlockTemplate("cccd", testTemplate(1000, maxTarget), testJobOptions(t), testAlgorithm(t))
	if err != nil {
		t.Fatalf("newBlockTemplate: %v", err)
	}
	nonce := testNonce(1)
	if !bt.RegisterSubmit("abcd0001", "ff", "00f1536502", nonce) {
		t.Fatalf("first submit should be new")
	}
	if bt.RegisterSubmit("ABCD0001", "FF", "00F1536502", strings.ToUpper(nonce)) {
		t.Fatalf("case-insensitive duplicate should be rejected")
	}
	if !bt.RegisterSubmit("abcd0001", "ff", "00f1536502", testNonce(2)) {
		t.Fatalf("different nonce should be new")
	}
}

func TestBlockTemplateSerializeHeader(t *testing.T) {
	bt, err := newBlockTemplate("cccd", testTemplate(1000, maxTarget), testJobOptions(t), testAlgorithm(t))
	if err != nil {
		t.Fatalf("newBlockTemplate: %v", err)
	}
	ntime := hex.EncodeToString(packUint32LE(uint32(testCurTime)))
	header, err := bt.SerializeHeader(ntime, testNonce(9))
	if err != nil {
		t.Fatalf("SerializeHeader: %v", err)
	}
	if len(header) != equihashHeaderSize {
		t.Fatalf("header length = %d", len(header))
	}
	if hex.EncodeToString(header[100:104]) != ntime || header[139] != 9 {
		t.Fatalf("ntime or nonce misplaced in header")
	}
	solution := make([]byte, equihashSolutionHexLen/2)
	block, err := bt.SerializeBlock(header, solution)
	if err != nil {
		t.Fatalf("SerializeBlock: %v", err)
	}
	if len(block) != len(header)+len(solution)+1+len(bt.GenTx.Raw) {
		t.Fatalf("block length = %d", len(block))
	}
}
