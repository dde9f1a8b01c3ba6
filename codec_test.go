package main

import (
	"errors"
	"testing"

	hex "github.com/tmthrgd/go-hex"
)

func TestSerializeNumberScript(t *testing.T) {
	tests := []struct {
		n    int64
		want string
	}{
		{1, "0101"},
		{16, "0110"},
		{17, "0111"},
		{127, "017f"},
		{128, "028000"},
		{256, "020001"},
		{500000, "0320a107"},
		{-1, "0181"},
	}
	for _, tc := range tests {
		got := hex.EncodeToString(serializeNumberScript(tc.n))
		if got != tc.want {
			t.Fatalf("serializeNumberScript(%d) = %s, want %s", tc.n, got, tc.want)
		}
	}
}

func TestAppendVarInt(t *testing.T) {
	tests := []struct {
		v    uint64
		want string
	}{
		{0, "00"},
		{0xfc, "fc"},
		{0xfd, "fdfd00"},
		{0xffff, "fdffff"},
		{0x10000, "fe00000100"},
		{0x100000000, "ff0000000001000000"},
	}
	for _, tc := range tests {
		got := hex.EncodeToString(appendVarInt(nil, tc.v))
		if got != tc.want {
			t.Fatalf("appendVarInt(%#x) = %s, want %s", tc.v, got, tc.want)
		}
	}
	if got := hex.EncodeToString(appendVarBytes([]byte{0xaa}, []byte{1, 2})); got != "aa020102" {
		t.Fatalf("appendVarBytes = %s", got)
	}
}

func TestParseUint32LEHex(t *testing.T) {
	v, err := parseUint32LEHex("00e1f505")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if v != 100000000 {
		t.Fatalf("got %d, want 100000000", v)
	}
	for _, bad := range []string{"", "00e1f5", "00e1f50500", "zze1f505"} {
		if _, err := parseUint32LEHex(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestReverseHex(t *testing.T) {
	got, err := reverseHex("01020304")
	if err != nil || got != "04030201" {
		t.Fatalf("reverseHex = %q, %v", got, err)
	}
	if _, err := reverseHex("0g"); err == nil {
		t.Fatalf("expected error for invalid hex")
	}
	var h [32]byte
	h[0] = 1
	reverseBytes32(&h)
	if h[31] != 1 || h[0] != 0 {
		t.Fatalf("reverseBytes32 did not reverse in place")
	}
}

func TestBase58CheckVersions(t *testing.T) {
	payload := testHash160(7)
	for _, version := range [][]byte{{0x3c}, {0x1c, 0xb8}} {
		addr := base58CheckEncode(version, payload)
		gotVersion, gotPayload, err := base58CheckDecode(addr)
		if err != nil {
			t.Fatalf("decode %s: %v", addr, err)
		}
		if hex.EncodeToString(gotVersion) != hex.EncodeToString(version) {
			t.Fatalf("version = %x, want %x", gotVersion, version)
		}
		if hex.EncodeToString(gotPayload) != hex.EncodeToString(payload) {
			t.Fatalf("payload = %x, want %x", gotPayload, payload)
		}
	}
}

func TestBase58CheckRejectsBadChecksum(t *testing.T) {
	addr := base58CheckEncode([]byte{0x3c}, testHash160(7))
	last := addr[len(addr)-1]
	repl := byte('2')
	if last == '2' {
		repl = '3'
	}
	mangled := addr[:len(addr)-1] + string(repl)
	if _, _, err := base58CheckDecode(mangled); !errors.Is(err, errBase58Checksum) {
		t.Fatalf("expected checksum error, got %v", err)
	}
	if _, _, err := base58CheckDecode("1"); !errors.Is(err, errBase58Format) {
		t.Fatalf("expected format error, got %v", err)
	}
}
