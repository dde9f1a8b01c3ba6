package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml"
)

func ensureExampleFiles(dataDir string) {
	if dataDir == "" {
		dataDir = defaultDataDir
	}
	examplesDir := filepath.Join(dataDir, "config", "examples")
	if err := os.MkdirAll(examplesDir, 0o755); err != nil {
		logger.Warn("create examples directory for example configs failed", "dir", examplesDir, "error", err)
		return
	}
	ensureExampleFile(filepath.Join(examplesDir, "config.toml.example"), exampleConfigBytes())
	ensureExampleFile(filepath.Join(examplesDir, "secrets.toml.example"), secretsConfigExample)
}

func ensureExampleFile(path string, contents []byte) {
	if len(contents) == 0 {
		return
	}
	if err := os.WriteFile(path, contents, 0o644); err != nil {
		logger.Warn("write example config failed", "path", path, "error", err)
	}
}

func withPrependedTOMLComments(data []byte, parts ...[]byte) []byte {
	total := len(data)
	for _, part := range parts {
		total += len(part)
	}
	out := make([]byte, 0, total)
	for _, part := range parts {
		out = append(out, part...)
	}
	out = append(out, data...)
	return out
}

func exampleHeader(text string) []byte {
	return fmt.Appendf(nil, "# Generated %s example (copy to a real config and edit as needed)\n\n", text)
}

func baseConfigDocComments() []byte {
	return []byte(`# Key notes
# - [coin].algorithm: komodo or zcash (Equihash 200,9 header layout).
# - [coin].peer_magic / peer_magic_testnet: network magic for [p2p] block notify.
# - [pool].address: transparent address of a key held by the first daemon's wallet.
# - [pool].block_refresh_interval: seconds between getblocktemplate polls, 0 disables.
# - [pool].diff_grace_window: seconds a retargeted miner may still submit at its
#   previous difficulty, 0 is strict.
# - [pool].min_diff_adjust / min_diff_auto_lower: cap port difficulty at the
#   network difficulty.
# - [[ports]]: one Stratum listener each; add a [ports.vardiff] table to retarget.
# - [[recipients]]: percent of the block reward paid to extra addresses.
# - [cli]: local control socket used by -blocknotify.
#
# Logging
# - [logging].level: debug, info, warn, error.
#
`)
}

func exampleConfigBytes() []byte {
	fc := buildBaseFileConfig(exampleConfig())
	data, err := toml.Marshal(fc)
	if err != nil {
		logger.Warn("encode config example failed", "error", err)
		return nil
	}
	return withPrependedTOMLComments(data, exampleHeader("base config"), baseConfigDocComments())
}
