package main

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/btcsuite/btcd/wire"
	hex "github.com/tmthrgd/go-hex"
)

var (
	errBase58Checksum = errors.New("base58check: invalid checksum")
	errBase58Format   = errors.New("base58check: invalid format")
)

func packUint32LE(v uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return b[:]
}

func packUint32BE(v uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return b[:]
}

func packInt64LE(v int64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(v))
	return b[:]
}

// appendVarInt appends the Bitcoin CompactSize encoding of v.
func appendVarInt(dst []byte, v uint64) []byte {
	var buf bytes.Buffer
	buf.Grow(9)
	_ = wire.WriteVarInt(&buf, 0, v)
	return append(dst, buf.Bytes()...)
}

func appendVarBytes(dst []byte, b []byte) []byte {
	dst = appendVarInt(dst, uint64(len(b)))
	return append(dst, b...)
}

func reverseBytes(in []byte) []byte {
	out := make([]byte, len(in))
	for i := range in {
		out[len(in)-1-i] = in[i]
	}
	return out
}

// reverseBytes32 reverses a 32-byte array in place.
func reverseBytes32(b *[32]byte) {
	for i, j := 0, 31; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
}

func reverseHex(s string) (string, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(reverseBytes(raw)), nil
}

// decodeHexToFixedBytes decodes src into dst, which must be exactly half
// its length.
func decodeHexToFixedBytes(dst []byte, src string) error {
	if len(src) != len(dst)*2 {
		return fmt.Errorf("expected %d hex characters, got %d", len(dst)*2, len(src))
	}
	if _, err := hex.Decode(dst, []byte(src)); err != nil {
		return fmt.Errorf("invalid hex digit in %q", src)
	}
	return nil
}

// parseUint32LEHex parses 8 hex characters holding a little-endian uint32,
// the way miners submit nTime.
func parseUint32LEHex(s string) (uint32, error) {
	var b [4]byte
	if err := decodeHexToFixedBytes(b[:], s); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

// serializeNumberScript returns the minimal BIP34 push of n, as used for
// the height in a coinbase scriptSig.
func serializeNumberScript(n int64) []byte {
	if n >= 1 && n <= 16 {
		return []byte{0x01, byte(n)}
	}
	var body []byte
	neg := n < 0
	abs := n
	if neg {
		abs = -n
	}
	for abs > 0 {
		body = append(body, byte(abs&0xff))
		abs >>= 8
	}
	if len(body) > 0 && body[len(body)-1]&0x80 != 0 {
		if neg {
			body = append(body, 0x80)
		} else {
			body = append(body, 0x00)
		}
	} else if neg && len(body) > 0 {
		body[len(body)-1] |= 0x80
	}
	return append([]byte{byte(len(body))}, body...)
}

// base58CheckDecode returns the version prefix and payload of a
// Base58Check string. Payloads of 22 bytes carry a two byte version
// (Zcash style transparent addresses); 21 bytes carry a single byte.
func base58CheckDecode(s string) ([]byte, []byte, error) {
	result, version, err := base58.CheckDecode(s)
	if err != nil {
		if errors.Is(err, base58.ErrChecksum) {
			return nil, nil, errBase58Checksum
		}
		return nil, nil, errBase58Format
	}
	full := append([]byte{version}, result...)
	switch len(full) {
	case 21:
		return full[:1], full[1:], nil
	case 22:
		return full[:2], full[2:], nil
	default:
		return full[:1], full[1:], nil
	}
}
