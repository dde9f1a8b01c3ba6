package main

import "testing"

// Block 100000 on Bitcoin mainnet.
var block100000TxIDs = []string{
	"8c14f0db3df150123e6f3dbbf30f8b955a8249b62ac1d1ff16284aefa3d06d87",
	"fff2525b8931402dd09222c50775608f75787bd2b87e56995a7bdd30f79702c4",
	"6359f0868171b1d194cbee1af2f16ea598ae8fad666d9b012c8ed2b79a236ec4",
	"e9a66845e05d5abc0ad04ec80f774a7e585c6e8db975962d069a522137b80c1d",
}

const block100000MerkleRoot = "f3e94742aca4b5ef85488dc37c06c3282295ffec960994b2c0d5ac2a25a95766"

func TestMerkleRootKnownBlock(t *testing.T) {
	var coinbase [32]byte
	if err := decodeHexToFixedBytes(coinbase[:], block100000TxIDs[0]); err != nil {
		t.Fatalf("decode coinbase: %v", err)
	}
	reverseBytes32(&coinbase)
	got, err := merkleRoot(coinbase, block100000TxIDs[1:])
	if err != nil {
		t.Fatalf("merkleRoot: %v", err)
	}
	if got != block100000MerkleRoot {
		t.Fatalf("merkle root = %s, want %s", got, block100000MerkleRoot)
	}
}

func TestMerkleRootCoinbaseOnly(t *testing.T) {
	var coinbase [32]byte
	coinbase[0] = 0xab
	got, err := merkleRoot(coinbase, nil)
	if err != nil {
		t.Fatalf("merkleRoot: %v", err)
	}
	if got[:2] != "00" || got[62:] != "ab" {
		t.Fatalf("single leaf root = %s, want reversed coinbase", got)
	}
}

func TestMerkleRootOddLevelDuplicatesLast(t *testing.T) {
	a := doubleSHA256Array([]byte("a"))
	b := doubleSHA256Array([]byte("b"))
	c := doubleSHA256Array([]byte("c"))
	three := merkleRootFromLeaves([][32]byte{a, b, c})
	four := merkleRootFromLeaves([][32]byte{a, b, c, c})
	if three != four {
		t.Fatalf("odd level should duplicate the last leaf")
	}
}

func TestMerkleRootRejectsBadHash(t *testing.T) {
	if _, err := merkleRoot([32]byte{}, []string{"abcd"}); err == nil {
		t.Fatalf("expected error for short transaction hash")
	}
}
