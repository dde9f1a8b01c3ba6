package main

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/txscript"
	hex "github.com/tmthrgd/go-hex"
)

// Known transparent script-hash version prefixes (Komodo and Zcash
// mainnet/testnet). Anything else decodes as pay-to-pubkey-hash.
var scriptHashVersions = [][]byte{
	{0x55},
	{0x1c, 0xbd},
	{0x1c, 0xba},
}

type decodedAddress struct {
	Version []byte
	Hash    []byte
}

func (a decodedAddress) isScriptHash() bool {
	for _, v := range scriptHashVersions {
		if bytes.Equal(a.Version, v) {
			return true
		}
	}
	return false
}

// decodeAddress validates a Base58Check transparent address and returns
// its version prefix and 20 byte hash.
func decodeAddress(addr string) (decodedAddress, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return decodedAddress{}, errors.New("empty address")
	}
	version, payload, err := base58CheckDecode(addr)
	if err != nil {
		return decodedAddress{}, fmt.Errorf("decode address %s: %w", addr, err)
	}
	if len(payload) != 20 {
		return decodedAddress{}, fmt.Errorf("address %s has %d byte hash", addr, len(payload))
	}
	return decodedAddress{Version: version, Hash: payload}, nil
}

func payToPubKeyHashScript(hash []byte) ([]byte, error) {
	return txscript.NewScriptBuilder().
		AddOp(txscript.OP_DUP).
		AddOp(txscript.OP_HASH160).
		AddData(hash).
		AddOp(txscript.OP_EQUALVERIFY).
		AddOp(txscript.OP_CHECKSIG).
		Script()
}

func payToScriptHashScript(hash []byte) ([]byte, error) {
	return txscript.NewScriptBuilder().
		AddOp(txscript.OP_HASH160).
		AddData(hash).
		AddOp(txscript.OP_EQUAL).
		Script()
}

func payToPubKeyScript(pubkey []byte) ([]byte, error) {
	return txscript.NewScriptBuilder().
		AddData(pubkey).
		AddOp(txscript.OP_CHECKSIG).
		Script()
}

// scriptForAddress returns the output script paying addr.
func scriptForAddress(addr string) ([]byte, error) {
	decoded, err := decodeAddress(addr)
	if err != nil {
		return nil, err
	}
	if decoded.isScriptHash() {
		return payToScriptHashScript(decoded.Hash)
	}
	return payToPubKeyHashScript(decoded.Hash)
}

func scriptForPubKeyHex(pubkey string) ([]byte, error) {
	raw, err := hex.DecodeString(strings.TrimSpace(pubkey))
	if err != nil {
		return nil, fmt.Errorf("decode pubkey: %w", err)
	}
	if len(raw) != 33 && len(raw) != 65 {
		return nil, fmt.Errorf("pubkey must be 33 or 65 bytes, got %d", len(raw))
	}
	return payToPubKeyScript(raw)
}
