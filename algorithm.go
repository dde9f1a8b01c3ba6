package main

import (
	"fmt"
	"math"
	"math/big"
	"sort"
	"strconv"
	"strings"
)

const (
	equihashHeaderSize       = 140
	equihashSolutionHexLen   = 2694
	equihashNonceHexLen      = 64
	equihashDefaultBlockTime = 60
)

// Algorithm hides chain family specifics (difficulty constants, header and
// block layout, coinbase construction) from the job and stratum layers.
type Algorithm interface {
	Name() string
	Variant() string
	Diff1() *big.Int
	MinDiff() *big.Int
	CalculateDifficulty(targetHex string) (float64, error)
	ShareDiff(headerNum *big.Int) float64
	FormatHashRate(rate float64) string
	FormatNetworkRateFromDifficulty(difficulty float64, blockTime int) networkRate
	SerializeHeader(h headerFields) ([]byte, error)
	SerializeBlock(b blockFields) ([]byte, error)
	CreateGeneration(opts generationOptions) (generationTx, error)
	CalculateFees(txs []templateTransaction) int64
}

type networkRate struct {
	Value  float64
	Unit   string
	String string
}

// headerFields are hex encoded exactly as they appear on the wire.
type headerFields struct {
	Version            uint32
	PrevHashReversed   string
	MerkleRootReversed string
	HashReserved       string
	NTime              string
	ReversedBits       string
	Nonce              string
}

type blockFields struct {
	Header       []byte
	Solution     []byte
	GenTx        []byte
	Transactions []templateTransaction
}

type algorithmParams struct {
	diff1   *big.Int
	minDiff *big.Int
}

func mustBigHex(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 16)
	if !ok {
		panic("invalid constant " + s)
	}
	return v
}

var equihashVariants = map[string]algorithmParams{
	"komodo": {
		diff1:   mustBigHex("0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f"),
		minDiff: mustBigHex("200f0f0f"),
	},
	"zcash": {
		diff1:   mustBigHex("0007ffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff"),
		minDiff: mustBigHex("00ffffff"),
	},
}

type algorithmFactory func() Algorithm

var algorithmRegistry = map[string]algorithmFactory{
	"komodo": func() Algorithm { return newEquihashAlgo("komodo") },
	"zcash":  func() Algorithm { return newEquihashAlgo("zcash") },
}

// loadAlgorithm resolves a configured algorithm key. An empty key or
// "default" selects komodo; anything else must be registered.
func loadAlgorithm(name string) (Algorithm, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" || key == "default" || key == "equihash" {
		key = "komodo"
	}
	factory, ok := algorithmRegistry[key]
	if !ok {
		return nil, fmt.Errorf("unknown algorithm %q (known: %s)", name, strings.Join(knownAlgorithms(), ", "))
	}
	return factory(), nil
}

func knownAlgorithms() []string {
	out := make([]string, 0, len(algorithmRegistry))
	for k := range algorithmRegistry {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

type equihashAlgo struct {
	variant string
	params  algorithmParams
}

var solutionUnits = []string{" Sol/s", " KSol/s", " MSol/s", " GSol/s", " TSol/s", " PSol/s"}

func newEquihashAlgo(variant string) *equihashAlgo {
	p, ok := equihashVariants[variant]
	if !ok {
		variant = "komodo"
		p = equihashVariants[variant]
	}
	return &equihashAlgo{variant: variant, params: p}
}

func (a *equihashAlgo) Name() string    { return "Equihash" }
func (a *equihashAlgo) Variant() string { return a.variant }

func (a *equihashAlgo) Diff1() *big.Int {
	return new(big.Int).Set(a.params.diff1)
}

func (a *equihashAlgo) MinDiff() *big.Int {
	return new(big.Int).Set(a.params.minDiff)
}

// CalculateDifficulty returns diff1/target rounded to 9 decimals.
func (a *equihashAlgo) CalculateDifficulty(targetHex string) (float64, error) {
	target, err := parseTargetHex(targetHex)
	if err != nil {
		return 0, err
	}
	return roundTo(ratioFloat(a.params.diff1, target), 9), nil
}

func (a *equihashAlgo) ShareDiff(headerNum *big.Int) float64 {
	if headerNum == nil || headerNum.Sign() <= 0 {
		return 0
	}
	return ratioFloat(a.params.diff1, headerNum)
}

func (a *equihashAlgo) FormatHashRate(rate float64) string {
	i := 0
	for rate >= 1024 && i < len(solutionUnits)-1 {
		rate /= 1024
		i++
	}
	return strconv.FormatFloat(rate, 'f', 2, 64) + solutionUnits[i]
}

func (a *equihashAlgo) FormatNetworkRateFromDifficulty(difficulty float64, blockTime int) networkRate {
	if difficulty <= 0 || math.IsNaN(difficulty) {
		return networkRate{Value: 0, Unit: "sol/s", String: "0.00 sol/s"}
	}
	if blockTime <= 0 {
		blockTime = equihashDefaultBlockTime
	}
	base := difficulty * math.Pow(2, 32) / float64(blockTime)
	msol := base / 1e15
	ksol := base / 1e12
	sol := base / 1e9
	value, unit := sol, "sol/s"
	switch {
	case msol > 1:
		value, unit = msol, "Msol/s"
	case ksol > 1:
		value, unit = ksol, "ksol/s"
	}
	formatted := strconv.FormatFloat(value, 'f', 2, 64)
	rounded, _ := strconv.ParseFloat(formatted, 64)
	return networkRate{Value: rounded, Unit: unit, String: formatted + " " + unit}
}

// SerializeHeader lays out the 140 byte Equihash header:
// version | prevhash | merkleroot | reserved | time | bits | nonce.
func (a *equihashAlgo) SerializeHeader(h headerFields) ([]byte, error) {
	header := make([]byte, equihashHeaderSize)
	copy(header[0:4], packUint32LE(h.Version))
	fields := []struct {
		name string
		off  int
		size int
		val  string
	}{
		{"prevhash", 4, 32, h.PrevHashReversed},
		{"merkleroot", 36, 32, h.MerkleRootReversed},
		{"reserved", 68, 32, h.HashReserved},
		{"ntime", 100, 4, h.NTime},
		{"bits", 104, 4, h.ReversedBits},
		{"nonce", 108, 32, h.Nonce},
	}
	for _, f := range fields {
		if err := decodeHexToFixedBytes(header[f.off:f.off+f.size], f.val); err != nil {
			return nil, fmt.Errorf("header %s: %w", f.name, err)
		}
	}
	return header, nil
}

// SerializeBlock appends the solution, transaction count, coinbase and
// template transactions to a serialized header.
func (a *equihashAlgo) SerializeBlock(b blockFields) ([]byte, error) {
	size := len(b.Header) + len(b.Solution) + 9 + len(b.GenTx)
	for _, tx := range b.Transactions {
		size += len(tx.Data) / 2
	}
	out := make([]byte, 0, size)
	out = append(out, b.Header...)
	out = append(out, b.Solution...)
	out = appendVarInt(out, uint64(len(b.Transactions)+1))
	out = append(out, b.GenTx...)
	for i, tx := range b.Transactions {
		raw := make([]byte, len(tx.Data)/2)
		if err := decodeHexToFixedBytes(raw, tx.Data); err != nil {
			return nil, fmt.Errorf("transaction %d: %w", i, err)
		}
		out = append(out, raw...)
	}
	return out, nil
}

func (a *equihashAlgo) CreateGeneration(opts generationOptions) (generationTx, error) {
	return buildGenerationTx(opts)
}

// CalculateFees sums numeric fee fields; non-numeric entries count as zero.
func (a *equihashAlgo) CalculateFees(txs []templateTransaction) int64 {
	var total int64
	for _, tx := range txs {
		total += tx.feeValue()
	}
	return total
}
