//go:build nojsonsimd

package main

import stdjson "encoding/json"

func fastJSONMarshal(v any) ([]byte, error) {
	return stdjson.Marshal(v)
}

func fastJSONUnmarshal(data []byte, v any) error {
	return stdjson.Unmarshal(data, v)
}

func jsonBackendName() string {
	return "encoding/json"
}
