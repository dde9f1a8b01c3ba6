package main

import (
	"fmt"
	"strings"
)

func validateConfig(cfg Config) error {
	if len(cfg.Daemons) == 0 {
		return fmt.Errorf("no daemons have been configured - pool cannot start")
	}
	for i, d := range cfg.Daemons {
		if d.Port <= 0 || d.Port > 65535 {
			return fmt.Errorf("daemons[%d].port must be 1-65535, got %d", i, d.Port)
		}
	}
	if _, err := loadAlgorithm(cfg.Algorithm); err != nil {
		return err
	}
	if strings.TrimSpace(cfg.Address) == "" {
		return fmt.Errorf("pool.address is required for coinbase outputs")
	}
	if _, err := scriptForAddress(cfg.Address); err != nil {
		return fmt.Errorf("pool.address: %w", err)
	}
	if cfg.PubKey != "" {
		if _, err := scriptForPubKeyHex(cfg.PubKey); err != nil {
			return fmt.Errorf("pool.pubkey: %w", err)
		}
	}
	if len(cfg.Ports) == 0 {
		return fmt.Errorf("at least one [[ports]] entry is required")
	}
	seen := make(map[int]bool, len(cfg.Ports))
	for _, p := range cfg.Ports {
		if p.Port <= 0 || p.Port > 65535 {
			return fmt.Errorf("port must be 1-65535, got %d", p.Port)
		}
		if seen[p.Port] {
			return fmt.Errorf("port %d configured twice", p.Port)
		}
		seen[p.Port] = true
		if p.Diff <= 0 {
			return fmt.Errorf("port %d: diff must be > 0", p.Port)
		}
		if err := validateVarDiff(p); err != nil {
			return err
		}
	}
	var percent float64
	for i, r := range cfg.Recipients {
		if _, err := scriptForAddress(r.Address); err != nil {
			return fmt.Errorf("recipients[%d].address: %w", i, err)
		}
		if r.Percent <= 0 {
			return fmt.Errorf("recipients[%d].percent must be > 0", i)
		}
		percent += r.Percent
	}
	if percent >= 100 {
		return fmt.Errorf("recipients take %.2f%% of the block reward, must be < 100", percent)
	}
	if cfg.ConnectionTimeout <= 0 {
		return fmt.Errorf("pool.connection_timeout must be > 0")
	}
	if cfg.JobRebroadcastTimeout < 0 {
		return fmt.Errorf("pool.job_rebroadcast_timeout cannot be negative")
	}
	if cfg.DiffGraceWindow < 0 {
		return fmt.Errorf("pool.diff_grace_window cannot be negative")
	}
	if cfg.MaxValidJobs <= 0 {
		return fmt.Errorf("pool.max_valid_jobs must be > 0, got %d", cfg.MaxValidJobs)
	}
	if cfg.BroadcastConcurrency <= 0 {
		return fmt.Errorf("pool.broadcast_concurrency must be > 0, got %d", cfg.BroadcastConcurrency)
	}
	if cfg.BlockTime <= 0 {
		return fmt.Errorf("coin.block_time must be > 0")
	}
	if cfg.P2PEnabled {
		if cfg.P2PPort <= 0 || cfg.P2PPort > 65535 {
			return fmt.Errorf("p2p.port must be 1-65535, got %d", cfg.P2PPort)
		}
		if cfg.PeerMagic != "" {
			if _, err := parsePeerMagic(cfg.PeerMagic); err != nil {
				return err
			}
		}
		if cfg.PeerMagicTestnet != "" {
			if _, err := parsePeerMagic(cfg.PeerMagicTestnet); err != nil {
				return err
			}
		}
	}
	if cfg.CLIEnabled && (cfg.CLIPort <= 0 || cfg.CLIPort > 65535) {
		return fmt.Errorf("cli.port must be 1-65535, got %d", cfg.CLIPort)
	}
	if cfg.DiscordBotToken != "" && cfg.DiscordNotifyChannelID == "" {
		return fmt.Errorf("discord.notify_channel_id is required when discord_token is set")
	}
	return nil
}

func validateVarDiff(p PortConfig) error {
	vd := p.VarDiff
	if vd == nil {
		return nil
	}
	if vd.MinDiff <= 0 {
		return fmt.Errorf("port %d: vardiff min_diff must be > 0", p.Port)
	}
	if vd.MaxDiff < vd.MinDiff {
		return fmt.Errorf("port %d: vardiff max_diff %v is below min_diff %v", p.Port, vd.MaxDiff, vd.MinDiff)
	}
	if vd.TargetTime <= 0 || vd.RetargetTime <= 0 {
		return fmt.Errorf("port %d: vardiff target_time and retarget_time must be > 0", p.Port)
	}
	if vd.VariancePercent < 0 || vd.VariancePercent >= 100 {
		return fmt.Errorf("port %d: vardiff variance_percent must be in [0,100)", p.Port)
	}
	return nil
}
