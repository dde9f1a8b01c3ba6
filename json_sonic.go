//go:build !nojsonsimd

package main

import (
	"reflect"

	"github.com/bytedance/sonic"
)

var jsonCodec = sonic.ConfigDefault

func init() {
	// Compile the hot Stratum and RPC codecs up front so the first miner
	// or template does not pay for it. Failures fall back to lazy codegen.
	for _, v := range []any{
		StratumRequest{},
		StratumResponse{},
		StratumNotification{},
		rpcRequest{},
		rpcResponse{},
		GetBlockTemplateResult{},
		decodedRawTransaction{},
	} {
		_ = sonic.Pretouch(reflect.TypeOf(v))
	}
}

func fastJSONMarshal(v any) ([]byte, error) {
	return jsonCodec.Marshal(v)
}

func fastJSONUnmarshal(data []byte, v any) error {
	return jsonCodec.Unmarshal(data, v)
}

func jsonBackendName() string {
	return "sonic"
}
