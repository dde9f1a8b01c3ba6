package main

type coinConfig struct {
	Name             string `toml:"name"`
	Symbol           string `toml:"symbol"`
	Algorithm        string `toml:"algorithm"`
	PeerMagic        string `toml:"peer_magic"`
	PeerMagicTestnet string `toml:"peer_magic_testnet"`
	BlockTime        *int   `toml:"block_time"`
}

type poolConfig struct {
	Address                string   `toml:"address"`
	PubKey                 string   `toml:"pubkey"`
	InstanceID             *int64   `toml:"instance_id"`
	CoinbaseTag            *string  `toml:"coinbase_tag"`
	EmitInvalidBlockHashes bool     `toml:"emit_invalid_block_hashes"`
	StratumHost            string   `toml:"stratum_host"`
	ConnectionTimeout      *int     `toml:"connection_timeout"`
	JobRebroadcastTimeout  *int     `toml:"job_rebroadcast_timeout"`
	BlockRefreshInterval   *float64 `toml:"block_refresh_interval"`
	TCPProxyProtocol       bool     `toml:"tcp_proxy_protocol"`
	BroadcastConcurrency   *int     `toml:"broadcast_concurrency"`
	MaxValidJobs           *int     `toml:"max_valid_jobs"`
	DiffGraceWindow        *int     `toml:"diff_grace_window"`
	MinDiffAdjust          bool     `toml:"min_diff_adjust"`
	MinDiffAutoLower       bool     `toml:"min_diff_auto_lower"`
	PrintShares            *bool    `toml:"print_shares"`
	PrintSubmissions       *bool    `toml:"print_submissions"`
	PrintNethash           bool     `toml:"print_nethash"`
	PrintVarDiff           bool     `toml:"print_vardiff"`
	DataDir                string   `toml:"data_dir"`
	StatsInterval          *int     `toml:"stats_interval"`
}

type daemonFileConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	TLS      bool   `toml:"tls"`
}

type vardiffFileConfig struct {
	MinDiff         float64 `toml:"min_diff"`
	MaxDiff         float64 `toml:"max_diff"`
	TargetTime      float64 `toml:"target_time"`
	RetargetTime    float64 `toml:"retarget_time"`
	VariancePercent float64 `toml:"variance_percent"`
	X2Mode          bool    `toml:"x2mode"`
}

type portFileConfig struct {
	Port    int                `toml:"port"`
	Diff    float64            `toml:"diff"`
	VarDiff *vardiffFileConfig `toml:"vardiff"`
}

type recipientFileConfig struct {
	Address string  `toml:"address"`
	Percent float64 `toml:"percent"`
}

type p2pConfig struct {
	Enabled             bool   `toml:"enabled"`
	Host                string `toml:"host"`
	Port                int    `toml:"port"`
	DisableTransactions bool   `toml:"disable_transactions"`
}

type zmqConfig struct {
	HashBlockAddr string `toml:"hashblock_addr"`
}

type cliConfig struct {
	Enabled bool   `toml:"enabled"`
	Host    string `toml:"host"`
	Port    *int   `toml:"port"`
}

type discordConfig struct {
	NotifyChannelID string `toml:"notify_channel_id"`
}

type loggingConfig struct {
	Level string `toml:"level"`
}

// baseFileConfig mirrors config.toml.
type baseFileConfig struct {
	Coin       coinConfig            `toml:"coin"`
	Pool       poolConfig            `toml:"pool"`
	Daemons    []daemonFileConfig    `toml:"daemons"`
	Ports      []portFileConfig      `toml:"ports"`
	Recipients []recipientFileConfig `toml:"recipients"`
	P2P        p2pConfig             `toml:"p2p"`
	ZMQ        zmqConfig             `toml:"zmq"`
	CLI        cliConfig             `toml:"cli"`
	Discord    discordConfig         `toml:"discord"`
	Logging    loggingConfig         `toml:"logging"`
}

type daemonCredentials struct {
	User     string `toml:"user"`
	Password string `toml:"password"`
}

// secretsConfig holds values from secrets.toml. This file is gitignored so
// only store sensitive credentials here.
type secretsConfig struct {
	DaemonCredentials []daemonCredentials `toml:"daemon_credentials"`
	DiscordBotToken   string              `toml:"discord_token"`
	CLISecret         string              `toml:"cli_secret"`
}
