package main

import (
	"strings"
	"testing"

	"github.com/btcsuite/btcd/btcutil/base58"
)

// base58CheckEncode is the inverse of base58CheckDecode for one or two byte
// version prefixes.
func base58CheckEncode(version, payload []byte) string {
	body := append(append([]byte(nil), version[1:]...), payload...)
	return base58.CheckEncode(body, version[0])
}

func testHash160(seed byte) []byte {
	h := make([]byte, 20)
	for i := range h {
		h[i] = seed + byte(i)
	}
	return h
}

// testPoolAddress is a Komodo style (0x3c) pay-to-pubkey-hash address.
func testPoolAddress(t *testing.T) string {
	t.Helper()
	return base58CheckEncode([]byte{0x3c}, testHash160(1))
}

func testAlgorithm(t *testing.T) Algorithm {
	t.Helper()
	algo, err := loadAlgorithm("komodo")
	if err != nil {
		t.Fatalf("load algorithm: %v", err)
	}
	return algo
}

const (
	testPrevHash    = "00000000a1b2c3d4e5f60718293a4b5c6d7e8f90a1b2c3d4e5f60718293a4b5c"
	testSaplingRoot = "3e49b5f954aa9d3545bc6c37744661eea48d7c34e3000d82b7f0010c30f4c2fb"
	testBits        = "1f07ffff"
	testCurTime     = int64(1700000000)
)

// testTemplate returns a template with no transactions. target decides
// whether submissions turn into blocks.
func testTemplate(height int64, target string) GetBlockTemplateResult {
	return GetBlockTemplateResult{
		Version:              4,
		PreviousBlockHash:    testPrevHash,
		FinalSaplingRootHash: testSaplingRoot,
		Target:               target,
		MinTime:              testCurTime - 600,
		CurTime:              testCurTime,
		Bits:                 testBits,
		Height:               height,
		CoinbaseTxn:          &coinbaseTxn{Data: "00", CoinbaseValue: 300000000},
		Miner:                3,
	}
}

var (
	maxTarget  = strings.Repeat("f", 64)
	tinyTarget = "0000000000000000000000000000000000000000000000000000000000000001"
)

func testSolution() string {
	return "fd4005" + strings.Repeat("ab", (equihashSolutionHexLen-6)/2)
}

func testNonce(n byte) string {
	return strings.Repeat("0", 62) + string("0123456789abcdef"[n>>4]) + string("0123456789abcdef"[n&0xf])
}
