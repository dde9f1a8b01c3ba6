package main

import (
	"net"
	"sort"
	"strconv"
	"time"
)

var secretsConfigExample = []byte(`# RPC credentials, indexed like [[daemons]] in config.toml. A daemon entry
# that sets its own password keeps it.
# [[daemon_credentials]]
# user = "rpcuser"
# password = "rpcpassword"

# Optional Discord notifications integration.
# discord_token = "YOUR_DISCORD_BOT_TOKEN"

# Shared secret for signing CLI control channel tokens. Generated on first
# start when empty.
# cli_secret = ""
`)

// DaemonConfig is one coin daemon reachable over JSON-RPC.
type DaemonConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	TLS      bool
}

// PortConfig is a Stratum listener and its starting difficulty. VarDiff is
// nil when the port uses a fixed difficulty.
type PortConfig struct {
	Port    int
	Diff    float64
	VarDiff *VarDiffConfig
}

// RecipientConfig takes Percent of the block reward out of the pool output.
type RecipientConfig struct {
	Address string
	Percent float64
}

type Config struct {
	// Coin.
	CoinName         string
	CoinSymbol       string
	Algorithm        string
	PeerMagic        string
	PeerMagicTestnet string
	BlockTime        int // seconds, used for network hashrate estimates

	// Pool identity and coinbase.
	Address                string
	PubKey                 string
	InstanceID             uint32
	CoinbaseTag            string
	Recipients             []RecipientConfig
	EmitInvalidBlockHashes bool

	// Stratum.
	StratumHost           string
	Ports                 []PortConfig
	ConnectionTimeout     time.Duration
	JobRebroadcastTimeout time.Duration
	BlockRefreshInterval  time.Duration // 0 disables template polling
	TCPProxyProtocol      bool
	BroadcastConcurrency  int
	MaxValidJobs          int
	DiffGraceWindow       time.Duration // 0 = strict current-difficulty shares

	// Effective port difficulty.
	MinDiffAdjust    bool
	MinDiffAutoLower bool

	// Log toggles.
	PrintShares      bool
	PrintSubmissions bool
	PrintNethash     bool
	PrintVarDiff     bool

	Daemons []DaemonConfig

	// Block notify sources.
	P2PEnabled             bool
	P2PHost                string
	P2PPort                int
	P2PDisableTransactions bool
	ZMQHashBlockAddr       string

	// CLI control channel.
	CLIEnabled bool
	CLIHost    string
	CLIPort    int
	CLISecret  string // store in secrets.toml

	// Discord integration.
	DiscordBotToken        string // store in secrets.toml
	DiscordNotifyChannelID string

	DataDir       string
	StatsInterval time.Duration
	LogLevel      string
}

// PortNumbers lists the configured Stratum ports in ascending order.
func (cfg Config) PortNumbers() []int {
	out := make([]int, 0, len(cfg.Ports))
	for _, p := range cfg.Ports {
		out = append(out, p.Port)
	}
	sort.Ints(out)
	return out
}

// Port returns the configuration of a single Stratum port.
func (cfg Config) Port(port int) (PortConfig, bool) {
	for _, p := range cfg.Ports {
		if p.Port == port {
			return p, true
		}
	}
	return PortConfig{}, false
}

func (cfg Config) CLIAddr() string {
	return net.JoinHostPort(cfg.CLIHost, strconv.Itoa(cfg.CLIPort))
}
