package main

import (
	"path/filepath"
	"time"
)

const (
	defaultDataDir   = "data"
	defaultAlgorithm = "komodo"
	defaultCoinName  = "komodo"
	defaultSymbol    = "KMD"
	defaultBlockTime = 60

	defaultStratumHost           = "0.0.0.0"
	defaultConnectionTimeout     = 600 * time.Second
	defaultJobRebroadcastTimeout = 55 * time.Second
	defaultBlockRefreshInterval  = 1 * time.Second
	defaultDiffGraceWindow       = 30 * time.Second
	defaultBroadcastConcurrency  = 256
	defaultStatsInterval         = 60 * time.Second

	defaultPortDiff = 1.0

	defaultVarDiffTargetTime   = 15
	defaultVarDiffRetargetTime = 90
	defaultVarDiffVariance     = 30

	defaultCLIHost = "127.0.0.1"
	defaultCLIPort = 17117

	defaultZMQReceiveTimeout     = 5 * time.Second
	defaultZMQRecreateBackoffMin = 500 * time.Millisecond
	defaultZMQRecreateBackoffMax = 10 * time.Second
	defaultZMQReconnectInterval  = time.Second
	defaultZMQReconnectMax       = 10 * time.Second
)

func defaultConfig() Config {
	return Config{
		CoinName:              defaultCoinName,
		CoinSymbol:            defaultSymbol,
		Algorithm:             defaultAlgorithm,
		BlockTime:             defaultBlockTime,
		CoinbaseTag:           poolSoftwareName,
		StratumHost:           defaultStratumHost,
		ConnectionTimeout:     defaultConnectionTimeout,
		JobRebroadcastTimeout: defaultJobRebroadcastTimeout,
		BlockRefreshInterval:  defaultBlockRefreshInterval,
		DiffGraceWindow:       defaultDiffGraceWindow,
		BroadcastConcurrency:  defaultBroadcastConcurrency,
		MaxValidJobs:          defaultMaxValidJobs,
		StatsInterval:         defaultStatsInterval,
		PrintShares:           true,
		PrintSubmissions:      true,
		CLIHost:               defaultCLIHost,
		CLIPort:               defaultCLIPort,
		DataDir:               defaultDataDir,
		LogLevel:              "info",
	}
}

func defaultConfigPath() string {
	return filepath.Join(defaultDataDir, "config", "config.toml")
}

func defaultVarDiffConfig() VarDiffConfig {
	return VarDiffConfig{
		MinDiff:         0.05,
		MaxDiff:         16,
		TargetTime:      defaultVarDiffTargetTime,
		RetargetTime:    defaultVarDiffRetargetTime,
		VariancePercent: defaultVarDiffVariance,
	}
}
