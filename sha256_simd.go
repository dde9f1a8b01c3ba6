//go:build !noavx

package main

import simdsha "github.com/minio/sha256-simd"

// sha256Sum hashes header and coinbase data. The SIMD build picks SHA-NI
// or AVX2 at runtime and falls back to generic code on older CPUs.
func sha256Sum(b []byte) [32]byte {
	return simdsha.Sum256(b)
}

func sha256ImplementationName() string {
	return "sha256-simd"
}
