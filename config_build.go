package main

// buildBaseFileConfig renders cfg in config.toml shape, used for the
// generated example file.
func buildBaseFileConfig(cfg Config) baseFileConfig {
	fc := baseFileConfig{
		Coin: coinConfig{
			Name:             cfg.CoinName,
			Symbol:           cfg.CoinSymbol,
			Algorithm:        cfg.Algorithm,
			PeerMagic:        cfg.PeerMagic,
			PeerMagicTestnet: cfg.PeerMagicTestnet,
			BlockTime:        intPtr(cfg.BlockTime),
		},
		Pool: poolConfig{
			Address:                cfg.Address,
			PubKey:                 cfg.PubKey,
			CoinbaseTag:            stringPtr(cfg.CoinbaseTag),
			EmitInvalidBlockHashes: cfg.EmitInvalidBlockHashes,
			StratumHost:            cfg.StratumHost,
			ConnectionTimeout:      intPtr(int(cfg.ConnectionTimeout.Seconds())),
			JobRebroadcastTimeout:  intPtr(int(cfg.JobRebroadcastTimeout.Seconds())),
			BlockRefreshInterval:   float64Ptr(cfg.BlockRefreshInterval.Seconds()),
			TCPProxyProtocol:       cfg.TCPProxyProtocol,
			BroadcastConcurrency:   intPtr(cfg.BroadcastConcurrency),
			MaxValidJobs:           intPtr(cfg.MaxValidJobs),
			DiffGraceWindow:        intPtr(int(cfg.DiffGraceWindow.Seconds())),
			MinDiffAdjust:          cfg.MinDiffAdjust,
			MinDiffAutoLower:       cfg.MinDiffAutoLower,
			PrintShares:            boolPtr(cfg.PrintShares),
			PrintSubmissions:       boolPtr(cfg.PrintSubmissions),
			PrintNethash:           cfg.PrintNethash,
			PrintVarDiff:           cfg.PrintVarDiff,
			DataDir:                cfg.DataDir,
			StatsInterval:          intPtr(int(cfg.StatsInterval.Seconds())),
		},
		P2P: p2pConfig{
			Enabled:             cfg.P2PEnabled,
			Host:                cfg.P2PHost,
			Port:                cfg.P2PPort,
			DisableTransactions: cfg.P2PDisableTransactions,
		},
		ZMQ:     zmqConfig{HashBlockAddr: cfg.ZMQHashBlockAddr},
		CLI:     cliConfig{Enabled: cfg.CLIEnabled, Host: cfg.CLIHost, Port: intPtr(cfg.CLIPort)},
		Discord: discordConfig{NotifyChannelID: cfg.DiscordNotifyChannelID},
		Logging: loggingConfig{Level: cfg.LogLevel},
	}
	if cfg.InstanceID != 0 {
		id := int64(cfg.InstanceID)
		fc.Pool.InstanceID = &id
	}
	for _, d := range cfg.Daemons {
		// Credentials belong in secrets.toml.
		fc.Daemons = append(fc.Daemons, daemonFileConfig{Host: d.Host, Port: d.Port, TLS: d.TLS})
	}
	for _, p := range cfg.Ports {
		pf := portFileConfig{Port: p.Port, Diff: p.Diff}
		if p.VarDiff != nil {
			pf.VarDiff = &vardiffFileConfig{
				MinDiff:         p.VarDiff.MinDiff,
				MaxDiff:         p.VarDiff.MaxDiff,
				TargetTime:      p.VarDiff.TargetTime,
				RetargetTime:    p.VarDiff.RetargetTime,
				VariancePercent: p.VarDiff.VariancePercent,
				X2Mode:          p.VarDiff.X2Mode,
			}
		}
		fc.Ports = append(fc.Ports, pf)
	}
	for _, r := range cfg.Recipients {
		fc.Recipients = append(fc.Recipients, recipientFileConfig{Address: r.Address, Percent: r.Percent})
	}
	return fc
}

// exampleConfig is the default configuration with placeholders for every
// value an operator has to provide.
func exampleConfig() Config {
	cfg := defaultConfig()
	cfg.Address = "YOUR_POOL_T_ADDRESS_HERE"
	cfg.PeerMagic = "f9eee48d"
	cfg.PeerMagicTestnet = "5a1f7e62"
	cfg.Daemons = []DaemonConfig{{Host: "127.0.0.1", Port: 7771}}
	vd := defaultVarDiffConfig()
	cfg.Ports = []PortConfig{
		{Port: 3032, Diff: 0.05, VarDiff: &vd},
		{Port: 3256, Diff: 10},
	}
	cfg.P2PHost = "127.0.0.1"
	cfg.P2PPort = 7770
	return cfg
}
