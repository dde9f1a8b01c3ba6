package main

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	hex "github.com/tmthrgd/go-hex"
)

const (
	saplingTxVersion        = 0x80000004 // overwintered flag | 4
	saplingVersionGroupID   = 0x892f2085
	coinbaseScriptSigMaxLen = 100
)

// templateVout is a coinbase output as returned by decoderawtransaction.
// Amounts stay raw so they never pass through a float.
type templateVout struct {
	Value        json.RawMessage  `json:"value"`
	ValueZat     json.RawMessage  `json:"valueZat"`
	N            int              `json:"n"`
	ScriptPubKey scriptPubKeyInfo `json:"scriptPubKey"`
}

type scriptPubKeyInfo struct {
	Asm       string   `json:"asm"`
	Hex       string   `json:"hex"`
	ReqSigs   int      `json:"reqSigs"`
	Type      string   `json:"type"`
	Addresses []string `json:"addresses"`
}

// zatoshis returns the output amount. valueZat is preferred; value (coins)
// is only consulted when the daemon omits it.
func (v templateVout) zatoshis() (int64, error) {
	if raw := rawNumber(v.ValueZat); raw != "" {
		n, err := parseFixedPoint(raw, 0)
		if err != nil {
			return 0, fmt.Errorf("vout %d valueZat %q: %w", v.N, raw, err)
		}
		return n, nil
	}
	raw := rawNumber(v.Value)
	if raw == "" {
		return 0, fmt.Errorf("vout %d has no amount", v.N)
	}
	n, err := parseFixedPoint(raw, 8)
	if err != nil {
		return 0, fmt.Errorf("vout %d value %q: %w", v.N, raw, err)
	}
	return n, nil
}

func rawNumber(raw json.RawMessage) string {
	s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	if s == "null" {
		return ""
	}
	return s
}

// parseFixedPoint parses a base-10 decimal into an integer count of
// 10^-decimals units. Precision below one unit is an error unless the
// extra digits are zero.
func parseFixedPoint(s string, decimals int) (int64, error) {
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	whole, frac, _ := strings.Cut(s, ".")
	if whole == "" && frac == "" {
		return 0, fmt.Errorf("empty amount")
	}
	if len(frac) > decimals {
		if strings.Trim(frac[decimals:], "0") != "" {
			return 0, fmt.Errorf("more than %d decimal places", decimals)
		}
		frac = frac[:decimals]
	}
	frac += strings.Repeat("0", decimals-len(frac))
	digits := whole + frac
	if digits == "" {
		digits = "0"
	}
	n, err := strconv.ParseUint(digits, 10, 63)
	if err != nil {
		return 0, err
	}
	if neg {
		return -int64(n), nil
	}
	return int64(n), nil
}

type coinbaseRecipient struct {
	Address string
	Percent float64
	script  []byte
}

type generationOptions struct {
	Height       int64
	BlockReward  int64
	FeeReward    int64
	Recipients   []coinbaseRecipient
	PoolAddress  string
	PubKey       string
	CoinbaseText string
	Vouts        []templateVout
}

type generationTx struct {
	Raw  []byte
	Hex  string
	Hash [32]byte
}

type txOutput struct {
	value  int64
	script []byte
}

// buildGenerationTx assembles the Sapling v4 coinbase. Output 0 always pays
// the pool; the rest keep the recipients the daemon put in coinbasetxn.
func buildGenerationTx(opts generationOptions) (generationTx, error) {
	pool, err := decodeAddress(opts.PoolAddress)
	if err != nil {
		return generationTx{}, fmt.Errorf("pool address: %w", err)
	}
	poolScript, err := payToPubKeyHashScript(pool.Hash)
	if err != nil {
		return generationTx{}, err
	}

	outputs := make([]txOutput, 0, len(opts.Vouts)+len(opts.Recipients))
	for i, vout := range opts.Vouts {
		amount, err := vout.zatoshis()
		if err != nil {
			return generationTx{}, err
		}
		script := voutScript(i, vout, opts.PubKey, poolScript)
		outputs = append(outputs, txOutput{value: amount, script: script})
	}
	if len(outputs) == 0 {
		outputs = append(outputs, txOutput{value: opts.BlockReward, script: poolScript})
	}
	recipients, err := resolveRecipients(opts.Recipients)
	if err != nil {
		return generationTx{}, err
	}
	outputs = applyRecipients(outputs, recipients, opts.BlockReward)

	scriptSig := coinbaseScriptSig(opts.Height, opts.CoinbaseText)

	raw := make([]byte, 0, 256)
	raw = append(raw, packUint32LE(saplingTxVersion)...)
	raw = append(raw, packUint32LE(saplingVersionGroupID)...)
	raw = appendVarInt(raw, 1)
	raw = append(raw, make([]byte, 32)...)
	raw = append(raw, packUint32LE(0xffffffff)...)
	raw = appendVarBytes(raw, scriptSig)
	raw = append(raw, packUint32LE(0xffffffff)...)
	raw = appendVarInt(raw, uint64(len(outputs)))
	for _, out := range outputs {
		raw = append(raw, packInt64LE(out.value)...)
		raw = appendVarBytes(raw, out.script)
	}
	raw = append(raw, packUint32LE(0)...) // locktime
	raw = append(raw, packUint32LE(0)...) // expiry height
	raw = append(raw, packInt64LE(0)...)  // valueBalance
	raw = appendVarInt(raw, 0)            // shielded spends
	raw = appendVarInt(raw, 0)            // shielded outputs
	raw = appendVarInt(raw, 0)            // joinsplits

	return generationTx{
		Raw:  raw,
		Hex:  hex.EncodeToString(raw),
		Hash: doubleSHA256Array(raw),
	}, nil
}

// voutScript never fails: unknown or undecodable outputs fall back to a
// pay-to-pubkey-hash script so a single odd vout cannot stall mining.
func voutScript(index int, vout templateVout, pubkey string, poolScript []byte) []byte {
	sv := vout.ScriptPubKey
	switch sv.Type {
	case "pubkey":
		key := pubkey
		if index > 0 {
			key = strings.SplitN(strings.TrimSpace(sv.Asm), " ", 2)[0]
		}
		if script, err := scriptForPubKeyHex(key); err == nil {
			return script
		}
		if index == 0 {
			blocksLog.Warn("pool pubkey unusable for coinbase output 0; paying pool address")
			return poolScript
		}
	case "nulldata":
		if script, err := hex.DecodeString(sv.Hex); err == nil {
			return script
		}
	case "scripthash":
		if index > 0 && len(sv.Addresses) > 0 {
			if decoded, err := decodeAddress(sv.Addresses[0]); err == nil {
				if script, err := payToScriptHashScript(decoded.Hash); err == nil {
					return script
				}
			}
		}
	}
	if index == 0 {
		return poolScript
	}
	if len(sv.Addresses) > 0 {
		if decoded, err := decodeAddress(sv.Addresses[0]); err == nil {
			if script, err := payToPubKeyHashScript(decoded.Hash); err == nil {
				return script
			}
		}
	}
	if script, err := hex.DecodeString(sv.Hex); err == nil && len(script) > 0 {
		blocksLog.Warn("coinbase output kept as raw script", "index", index, "type", sv.Type)
		return script
	}
	blocksLog.Warn("coinbase output has no usable recipient; paying pool address", "index", index, "type", sv.Type)
	return poolScript
}

// resolveRecipients fills in the output script of every recipient that
// does not carry one yet.
func resolveRecipients(in []coinbaseRecipient) ([]coinbaseRecipient, error) {
	out := make([]coinbaseRecipient, len(in))
	for i, r := range in {
		out[i] = r
		if len(r.script) > 0 {
			continue
		}
		script, err := scriptForAddress(r.Address)
		if err != nil {
			return nil, fmt.Errorf("recipient %d: %w", i, err)
		}
		out[i].script = script
	}
	return out, nil
}

// applyRecipients appends fixed-percentage payouts carved out of output 0.
func applyRecipients(outputs []txOutput, recipients []coinbaseRecipient, blockReward int64) []txOutput {
	for _, r := range recipients {
		if r.Percent <= 0 || len(r.script) == 0 {
			continue
		}
		// percent is fixed to millionths once; the split itself is integer math
		ppm := int64(math.Round(r.Percent * 1e6))
		amount := blockReward * ppm / 100_000_000
		if amount <= 0 || amount >= outputs[0].value {
			continue
		}
		outputs[0].value -= amount
		outputs = append(outputs, txOutput{value: amount, script: r.script})
	}
	return outputs
}

// coinbaseScriptSig is the BIP34 height push, OP_0, then the height as
// text and an optional pool tag.
func coinbaseScriptSig(height int64, text string) []byte {
	sig := serializeNumberScript(height)
	sig = append(sig, 0x00)
	sig = append(sig, strconv.FormatInt(height, 10)...)
	sig = append(sig, text...)
	if len(sig) > coinbaseScriptSigMaxLen {
		sig = sig[:coinbaseScriptSigMaxLen]
	}
	return sig
}
