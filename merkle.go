package main

import (
	"fmt"

	hex "github.com/tmthrgd/go-hex"
)

// merkleRootFromLeaves reduces leaves given in internal byte order,
// duplicating the last hash on odd levels. The result is in internal
// order as well.
func merkleRootFromLeaves(leaves [][32]byte) [32]byte {
	if len(leaves) == 0 {
		return [32]byte{}
	}
	level := append([][32]byte(nil), leaves...)
	var pair [64]byte
	for len(level) > 1 {
		next := make([][32]byte, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			a := level[i]
			b := a
			if i+1 < len(level) {
				b = level[i+1]
			}
			copy(pair[:32], a[:])
			copy(pair[32:], b[:])
			next = append(next, doubleSHA256Array(pair[:]))
		}
		level = next
	}
	return level[0]
}

// merkleRoot returns the display-order merkle root for a block whose
// coinbase hash is given in internal order and whose remaining
// transactions are the daemon supplied (display order) hashes.
func merkleRoot(coinbaseHash [32]byte, txHashes []string) (string, error) {
	leaves := make([][32]byte, 0, len(txHashes)+1)
	leaves = append(leaves, coinbaseHash)
	for i, h := range txHashes {
		var leaf [32]byte
		if err := decodeHexToFixedBytes(leaf[:], h); err != nil {
			return "", fmt.Errorf("transaction %d hash: %w", i, err)
		}
		reverseBytes32(&leaf)
		leaves = append(leaves, leaf)
	}
	root := merkleRootFromLeaves(leaves)
	reverseBytes32(&root)
	return hex.EncodeToString(root[:]), nil
}
