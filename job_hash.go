package main

import (
	"fmt"
	"math"
	"math/big"
	"strings"

	hex "github.com/tmthrgd/go-hex"
)

var bigOne = big.NewInt(1)

// doubleSHA256Array returns the double SHA256 hash as a fixed-size array,
// avoiding slice allocation for hot paths.
func doubleSHA256Array(b []byte) [32]byte {
	first := sha256Sum(b)
	return sha256Sum(first[:])
}

// parseTargetHex parses a big-endian target such as getblocktemplate's
// "target" field.
func parseTargetHex(s string) (*big.Int, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	if s == "" {
		return nil, fmt.Errorf("empty target")
	}
	t, ok := new(big.Int).SetString(s, 16)
	if !ok {
		return nil, fmt.Errorf("invalid target %q", s)
	}
	if t.Sign() <= 0 {
		return nil, fmt.Errorf("target must be positive")
	}
	return t, nil
}

// hashToBigLE interprets a raw hash as a little-endian integer, the way
// header hashes are compared against the block target.
func hashToBigLE(h [32]byte) *big.Int {
	reverseBytes32(&h)
	return new(big.Int).SetBytes(h[:])
}

// targetHex64 renders t as a 64 character zero padded hex string.
func targetHex64(t *big.Int) string {
	var buf [32]byte
	if t.BitLen() > 256 {
		t = new(big.Int).Sub(new(big.Int).Lsh(bigOne, 256), bigOne)
	}
	t.FillBytes(buf[:])
	return hex.EncodeToString(buf[:])
}

// targetFromDifficulty returns diff1/diff. Fractional difficulties are
// supported by scaling through big.Float.
func targetFromDifficulty(diff1 *big.Int, diff float64) *big.Int {
	if diff <= 0 || math.IsNaN(diff) || math.IsInf(diff, 0) {
		return new(big.Int).Set(diff1)
	}
	num := new(big.Float).SetInt(diff1)
	q := new(big.Float).Quo(num, big.NewFloat(diff))
	out, _ := q.Int(nil)
	if out.Sign() <= 0 {
		return big.NewInt(1)
	}
	return out
}

// ratioFloat returns a/b as a float64 with full precision on big operands.
func ratioFloat(a, b *big.Int) float64 {
	if b == nil || b.Sign() == 0 {
		return 0
	}
	q := new(big.Float).Quo(new(big.Float).SetInt(a), new(big.Float).SetInt(b))
	f, _ := q.Float64()
	return f
}

func roundTo(v float64, decimals int) float64 {
	p := math.Pow(10, float64(decimals))
	return math.Round(v*p) / p
}
