package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml"
)

// loadConfig reads config.toml and the optional secrets.toml next to it,
// generating a CLI secret on first start. It returns the path the secrets
// were read from.
func loadConfig(configPath, secretsPath string) (Config, string, error) {
	cfg := defaultConfig()

	if configPath == "" {
		configPath = defaultConfigPath()
	}
	bc, ok, err := loadBaseConfigFile(configPath)
	if err != nil {
		return cfg, "", err
	}
	if !ok {
		ensureExampleFiles(cfg.DataDir)
		examplePath := filepath.Join(cfg.DataDir, "config", "examples", "config.toml.example")
		return cfg, "", fmt.Errorf("config file %s is missing; copy %s and set [pool].address", configPath, examplePath)
	}
	if err := applyBaseConfig(&cfg, *bc); err != nil {
		return cfg, "", err
	}
	ensureExampleFiles(cfg.DataDir)

	if secretsPath == "" {
		secretsPath = filepath.Join(filepath.Dir(configPath), "secrets.toml")
	}
	ensureSecretFilePermissions(secretsPath)
	sc, ok, err := loadSecretsFile(secretsPath)
	if err != nil {
		return cfg, secretsPath, err
	}
	if ok {
		applySecretsConfig(&cfg, *sc)
	}

	if cfg.CLIEnabled && cfg.CLISecret == "" {
		cfg.CLISecret = generateCLISecret()
		if err := persistCLISecret(secretsPath, sc, cfg.CLISecret); err != nil {
			logger.Warn("persist cli secret failed", "path", secretsPath, "error", err)
		} else {
			logger.Info("generated cli secret", "path", secretsPath)
		}
	}
	return cfg, secretsPath, nil
}

func loadTOMLFile[T any](path string) (*T, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read %s: %w", path, err)
	}

	var cfg T
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, true, fmt.Errorf("parse %s: %w", path, err)
	}

	return &cfg, true, nil
}

func loadBaseConfigFile(path string) (*baseFileConfig, bool, error) {
	return loadTOMLFile[baseFileConfig](path)
}

func loadSecretsFile(path string) (*secretsConfig, bool, error) {
	return loadTOMLFile[secretsConfig](path)
}

func ensureSecretFilePermissions(path string) {
	if strings.TrimSpace(path) == "" {
		return
	}
	info, err := os.Stat(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logger.Warn("secrets file stat failed", "path", path, "error", err)
		}
		return
	}
	if !info.Mode().IsRegular() {
		return
	}
	if info.Mode().Perm()&0o077 == 0 {
		return
	}
	if err := os.Chmod(path, 0o600); err != nil {
		logger.Warn("secrets file chmod failed", "path", path, "error", err)
		return
	}
	logger.Warn("secrets file permissions tightened", "path", path, "mode", "0600")
}

func applyBaseConfig(cfg *Config, fc baseFileConfig) error {
	if fc.Coin.Name != "" {
		cfg.CoinName = strings.TrimSpace(fc.Coin.Name)
	}
	if fc.Coin.Symbol != "" {
		cfg.CoinSymbol = strings.ToUpper(strings.TrimSpace(fc.Coin.Symbol))
	}
	if fc.Coin.Algorithm != "" {
		cfg.Algorithm = strings.ToLower(strings.TrimSpace(fc.Coin.Algorithm))
	}
	cfg.PeerMagic = strings.TrimSpace(fc.Coin.PeerMagic)
	cfg.PeerMagicTestnet = strings.TrimSpace(fc.Coin.PeerMagicTestnet)
	if fc.Coin.BlockTime != nil {
		cfg.BlockTime = *fc.Coin.BlockTime
	}

	cfg.Address = sanitizeAddress(fc.Pool.Address)
	cfg.PubKey = strings.TrimSpace(fc.Pool.PubKey)
	if fc.Pool.InstanceID != nil {
		if *fc.Pool.InstanceID < 0 || *fc.Pool.InstanceID > 0xffffffff {
			return fmt.Errorf("pool.instance_id out of range: %d", *fc.Pool.InstanceID)
		}
		cfg.InstanceID = uint32(*fc.Pool.InstanceID)
	}
	if fc.Pool.CoinbaseTag != nil {
		cfg.CoinbaseTag = *fc.Pool.CoinbaseTag
	}
	cfg.EmitInvalidBlockHashes = fc.Pool.EmitInvalidBlockHashes
	if fc.Pool.StratumHost != "" {
		cfg.StratumHost = strings.TrimSpace(fc.Pool.StratumHost)
	}
	if fc.Pool.ConnectionTimeout != nil {
		cfg.ConnectionTimeout = time.Duration(*fc.Pool.ConnectionTimeout) * time.Second
	}
	if fc.Pool.JobRebroadcastTimeout != nil {
		cfg.JobRebroadcastTimeout = time.Duration(*fc.Pool.JobRebroadcastTimeout) * time.Second
	}
	if fc.Pool.BlockRefreshInterval != nil {
		cfg.BlockRefreshInterval = time.Duration(*fc.Pool.BlockRefreshInterval * float64(time.Second))
	}
	cfg.TCPProxyProtocol = fc.Pool.TCPProxyProtocol
	if fc.Pool.BroadcastConcurrency != nil {
		cfg.BroadcastConcurrency = *fc.Pool.BroadcastConcurrency
	}
	if fc.Pool.MaxValidJobs != nil {
		cfg.MaxValidJobs = *fc.Pool.MaxValidJobs
	}
	if fc.Pool.DiffGraceWindow != nil {
		cfg.DiffGraceWindow = time.Duration(*fc.Pool.DiffGraceWindow) * time.Second
	}
	cfg.MinDiffAdjust = fc.Pool.MinDiffAdjust
	cfg.MinDiffAutoLower = fc.Pool.MinDiffAutoLower
	if fc.Pool.PrintShares != nil {
		cfg.PrintShares = *fc.Pool.PrintShares
	}
	if fc.Pool.PrintSubmissions != nil {
		cfg.PrintSubmissions = *fc.Pool.PrintSubmissions
	}
	cfg.PrintNethash = fc.Pool.PrintNethash
	cfg.PrintVarDiff = fc.Pool.PrintVarDiff
	if fc.Pool.DataDir != "" {
		cfg.DataDir = strings.TrimSpace(fc.Pool.DataDir)
	}
	if fc.Pool.StatsInterval != nil {
		cfg.StatsInterval = time.Duration(*fc.Pool.StatsInterval) * time.Second
	}

	cfg.Daemons = cfg.Daemons[:0]
	for _, d := range fc.Daemons {
		cfg.Daemons = append(cfg.Daemons, DaemonConfig{
			Host:     strings.TrimSpace(d.Host),
			Port:     d.Port,
			User:     d.User,
			Password: d.Password,
			TLS:      d.TLS,
		})
	}

	cfg.Ports = cfg.Ports[:0]
	for _, p := range fc.Ports {
		pc := PortConfig{Port: p.Port, Diff: p.Diff}
		if pc.Diff <= 0 {
			pc.Diff = defaultPortDiff
		}
		if p.VarDiff != nil {
			vd := defaultVarDiffConfig()
			if p.VarDiff.MinDiff > 0 {
				vd.MinDiff = p.VarDiff.MinDiff
			}
			if p.VarDiff.MaxDiff > 0 {
				vd.MaxDiff = p.VarDiff.MaxDiff
			}
			if p.VarDiff.TargetTime > 0 {
				vd.TargetTime = p.VarDiff.TargetTime
			}
			if p.VarDiff.RetargetTime > 0 {
				vd.RetargetTime = p.VarDiff.RetargetTime
			}
			if p.VarDiff.VariancePercent > 0 {
				vd.VariancePercent = p.VarDiff.VariancePercent
			}
			vd.X2Mode = p.VarDiff.X2Mode
			pc.VarDiff = &vd
		}
		cfg.Ports = append(cfg.Ports, pc)
	}

	cfg.Recipients = cfg.Recipients[:0]
	for _, r := range fc.Recipients {
		cfg.Recipients = append(cfg.Recipients, RecipientConfig{
			Address: sanitizeAddress(r.Address),
			Percent: r.Percent,
		})
	}

	cfg.P2PEnabled = fc.P2P.Enabled
	cfg.P2PHost = strings.TrimSpace(fc.P2P.Host)
	cfg.P2PPort = fc.P2P.Port
	cfg.P2PDisableTransactions = fc.P2P.DisableTransactions
	cfg.ZMQHashBlockAddr = strings.TrimSpace(fc.ZMQ.HashBlockAddr)

	cfg.CLIEnabled = fc.CLI.Enabled
	if fc.CLI.Host != "" {
		cfg.CLIHost = strings.TrimSpace(fc.CLI.Host)
	}
	if fc.CLI.Port != nil {
		cfg.CLIPort = *fc.CLI.Port
	}
	cfg.DiscordNotifyChannelID = strings.TrimSpace(fc.Discord.NotifyChannelID)
	if fc.Logging.Level != "" {
		cfg.LogLevel = strings.ToLower(strings.TrimSpace(fc.Logging.Level))
	}
	return nil
}

func applySecretsConfig(cfg *Config, sc secretsConfig) {
	for i, cred := range sc.DaemonCredentials {
		if i >= len(cfg.Daemons) {
			logger.Warn("secrets has more daemon credentials than configured daemons", "count", len(sc.DaemonCredentials))
			break
		}
		if cfg.Daemons[i].User == "" {
			cfg.Daemons[i].User = cred.User
		}
		if cfg.Daemons[i].Password == "" {
			cfg.Daemons[i].Password = cred.Password
		}
	}
	if sc.DiscordBotToken != "" {
		cfg.DiscordBotToken = strings.TrimSpace(sc.DiscordBotToken)
	}
	if sc.CLISecret != "" {
		cfg.CLISecret = strings.TrimSpace(sc.CLISecret)
	}
}

// persistCLISecret writes secret back into secrets.toml, keeping every
// other value the file already held.
func persistCLISecret(path string, existing *secretsConfig, secret string) error {
	var sc secretsConfig
	if existing != nil {
		sc = *existing
	}
	sc.CLISecret = secret
	data, err := toml.Marshal(sc)
	if err != nil {
		return fmt.Errorf("encode secrets: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return writeFileAtomic(path, data, 0o600)
}
