package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml"
)

func writeTestConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func testConfigTOML(dataDir, address string) string {
	return `
[coin]
name = "komodo"
symbol = "kmd"
algorithm = "komodo"
peer_magic = "f9eee48d"
block_time = 60

[pool]
address = " ` + address + ` "
coinbase_tag = "/equipool/"
data_dir = "` + filepath.ToSlash(dataDir) + `"
connection_timeout = 300
block_refresh_interval = 0.5
diff_grace_window = 20

[[daemons]]
host = "127.0.0.1"
port = 7771

[[daemons]]
host = "10.0.0.2"
port = 7771
user = "own"
password = "ownpass"

[[ports]]
port = 3256
diff = 10.0

[[ports]]
port = 3032
diff = 0.05
  [ports.vardiff]
  min_diff = 0.01
  max_diff = 64.0
  x2mode = true

[p2p]
enabled = true
host = "127.0.0.1"
port = 7770

[zmq]
hashblock_addr = "tcp://127.0.0.1:28332"

[cli]
enabled = true
port = 17200

[logging]
level = "DEBUG"
`
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	dataDir := filepath.Join(dir, "data")
	configPath := writeTestConfig(t, dir, testConfigTOML(dataDir, testPoolAddress(t)))
	secrets := "[[daemon_credentials]]\nuser = \"rpcuser\"\npassword = \"rpcpass\"\n\n[[daemon_credentials]]\nuser = \"ignored\"\npassword = \"ignored\"\n"
	if err := os.WriteFile(filepath.Join(dir, "secrets.toml"), []byte(secrets), 0o644); err != nil {
		t.Fatalf("write secrets: %v", err)
	}

	cfg, secretsPath, err := loadConfig(configPath, "")
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if secretsPath != filepath.Join(dir, "secrets.toml") {
		t.Fatalf("secrets path = %s", secretsPath)
	}
	if cfg.CoinSymbol != "KMD" || cfg.Address != testPoolAddress(t) || cfg.CoinbaseTag != "/equipool/" {
		t.Fatalf("coin/pool fields = %s %q %q", cfg.CoinSymbol, cfg.Address, cfg.CoinbaseTag)
	}
	if cfg.ConnectionTimeout != 300*time.Second || cfg.BlockRefreshInterval != 500*time.Millisecond || cfg.DiffGraceWindow != 20*time.Second {
		t.Fatalf("durations = %v %v %v", cfg.ConnectionTimeout, cfg.BlockRefreshInterval, cfg.DiffGraceWindow)
	}
	if len(cfg.Daemons) != 2 || cfg.Daemons[0].User != "rpcuser" || cfg.Daemons[1].Password != "ownpass" {
		t.Fatalf("daemons = %+v", cfg.Daemons)
	}
	port, ok := cfg.Port(3032)
	if !ok || port.VarDiff == nil || port.VarDiff.MinDiff != 0.01 || port.VarDiff.MaxDiff != 64 || !port.VarDiff.X2Mode {
		t.Fatalf("port 3032 = %+v", port)
	}
	if port.VarDiff.TargetTime != defaultVarDiffTargetTime {
		t.Fatalf("vardiff defaults not applied: %+v", port.VarDiff)
	}
	if fixed, _ := cfg.Port(3256); fixed.VarDiff != nil || fixed.Diff != 10 {
		t.Fatalf("port 3256 = %+v", fixed)
	}
	if got := cfg.PortNumbers(); len(got) != 2 || got[0] != 3032 {
		t.Fatalf("port numbers = %v", got)
	}
	if !cfg.P2PEnabled || cfg.ZMQHashBlockAddr != "tcp://127.0.0.1:28332" || cfg.LogLevel != "debug" {
		t.Fatalf("p2p/zmq/logging = %v %q %q", cfg.P2PEnabled, cfg.ZMQHashBlockAddr, cfg.LogLevel)
	}
	if cfg.CLIAddr() != "127.0.0.1:17200" {
		t.Fatalf("cli addr = %s", cfg.CLIAddr())
	}
	if len(cfg.CLISecret) == 0 {
		t.Fatalf("cli secret should be generated")
	}
	if err := validateConfig(cfg); err != nil {
		t.Fatalf("validateConfig: %v", err)
	}

	again, _, err := loadConfig(configPath, "")
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if again.CLISecret != cfg.CLISecret {
		t.Fatalf("generated cli secret should be persisted")
	}
	if again.Daemons[0].User != "rpcuser" {
		t.Fatalf("persisting the cli secret dropped daemon credentials")
	}
	info, err := os.Stat(secretsPath)
	if err != nil || info.Mode().Perm() != 0o600 {
		t.Fatalf("secrets permissions = %v, %v", info.Mode().Perm(), err)
	}
	if _, err := os.Stat(filepath.Join(dataDir, "config", "examples", "config.toml.example")); err != nil {
		t.Fatalf("example config not written: %v", err)
	}
}

func TestLoadConfigParseError(t *testing.T) {
	dir := t.TempDir()
	path := writeTestConfig(t, dir, "[pool\naddress = ")
	if _, _, err := loadConfig(path, ""); err == nil || !strings.Contains(err.Error(), "parse") {
		t.Fatalf("expected parse error, got %v", err)
	}
}

func TestExampleConfigParses(t *testing.T) {
	data := exampleConfigBytes()
	if len(data) == 0 {
		t.Fatalf("empty example config")
	}
	var fc baseFileConfig
	if err := toml.Unmarshal(data, &fc); err != nil {
		t.Fatalf("parse example: %v", err)
	}
	cfg := defaultConfig()
	if err := applyBaseConfig(&cfg, fc); err != nil {
		t.Fatalf("apply example: %v", err)
	}
	if cfg.Address != "YOURPOOLTADDRESSHERE" || len(cfg.Ports) != 2 || len(cfg.Daemons) != 1 {
		t.Fatalf("example config = %+v", cfg)
	}
	if p, ok := cfg.Port(3032); !ok || p.VarDiff == nil {
		t.Fatalf("example port 3032 should use vardiff")
	}
}

func validTestConfig(t *testing.T) Config {
	t.Helper()
	cfg := defaultConfig()
	cfg.Address = testPoolAddress(t)
	cfg.Daemons = []DaemonConfig{{Host: "127.0.0.1", Port: 7771}}
	vd := defaultVarDiffConfig()
	cfg.Ports = []PortConfig{{Port: 3032, Diff: 0.05, VarDiff: &vd}}
	return cfg
}

func TestValidateConfig(t *testing.T) {
	if err := validateConfig(validTestConfig(t)); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"no daemons", func(c *Config) { c.Daemons = nil }, "no daemons"},
		{"daemon port", func(c *Config) { c.Daemons[0].Port = 0 }, "daemons[0].port"},
		{"algorithm", func(c *Config) { c.Algorithm = "x11" }, "unknown algorithm"},
		{"address", func(c *Config) { c.Address = "" }, "pool.address"},
		{"bad address", func(c *Config) { c.Address = "abc" }, "pool.address"},
		{"pubkey", func(c *Config) { c.PubKey = "02ab" }, "pool.pubkey"},
		{"no ports", func(c *Config) { c.Ports = nil }, "[[ports]]"},
		{"duplicate port", func(c *Config) { c.Ports = append(c.Ports, c.Ports[0]) }, "configured twice"},
		{"port diff", func(c *Config) { c.Ports[0].Diff = 0 }, "diff must be > 0"},
		{"vardiff range", func(c *Config) { c.Ports[0].VarDiff.MaxDiff = 0.01 }, "below min_diff"},
		{"vardiff variance", func(c *Config) { c.Ports[0].VarDiff.VariancePercent = 100 }, "variance_percent"},
		{"recipients total", func(c *Config) {
			c.Recipients = []RecipientConfig{{Address: c.Address, Percent: 60}, {Address: c.Address, Percent: 40}}
		}, "must be < 100"},
		{"recipient address", func(c *Config) { c.Recipients = []RecipientConfig{{Address: "zz", Percent: 1}} }, "recipients[0].address"},
		{"timeout", func(c *Config) { c.ConnectionTimeout = 0 }, "connection_timeout"},
		{"max jobs", func(c *Config) { c.MaxValidJobs = 0 }, "max_valid_jobs"},
		{"p2p port", func(c *Config) { c.P2PEnabled = true }, "p2p.port"},
		{"p2p magic", func(c *Config) { c.P2PEnabled = true; c.P2PPort = 7770; c.PeerMagic = "zz" }, "peer magic"},
		{"cli port", func(c *Config) { c.CLIEnabled = true; c.CLIPort = 0 }, "cli.port"},
		{"discord channel", func(c *Config) { c.DiscordBotToken = "token" }, "notify_channel_id"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validTestConfig(t)
			tc.mutate(&cfg)
			err := validateConfig(cfg)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestSanitizeAddress(t *testing.T) {
	if got := sanitizeAddress(" RAbc-12_3\n"); got != "RAbc123" {
		t.Fatalf("sanitizeAddress = %q", got)
	}
}

func TestEnsureSecretFilePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets.toml")
	if err := os.WriteFile(path, []byte("cli_secret = \"x\"\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	ensureSecretFilePermissions(path)
	info, err := os.Stat(path)
	if err != nil || info.Mode().Perm() != 0o600 {
		t.Fatalf("mode = %v, %v", info.Mode().Perm(), err)
	}
}
