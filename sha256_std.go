//go:build noavx

package main

import stdsha "crypto/sha256"

func sha256Sum(b []byte) [32]byte {
	return stdsha.Sum256(b)
}

func sha256ImplementationName() string {
	return "crypto/sha256"
}
