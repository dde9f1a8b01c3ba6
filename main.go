package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	debugpkg "runtime/debug"
	"syscall"
	"time"
)

// buildTime can be overridden at build time with:
//
//	go build -ldflags="-X main.buildTime=2025-01-02T15:04:05Z"
var buildTime = ""

func main() {
	// Capture unexpected panics to panic.log with a stack trace.
	defer func() {
		if r := recover(); r != nil {
			if f, err := os.OpenFile("panic.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644); err == nil {
				defer f.Close()
				ts := time.Now().UTC().Format(time.RFC3339)
				fmt.Fprintf(f, "[%s] panic: %v\nbuild_time=%s\n%s\n\n", ts, r, buildTime, debugpkg.Stack())
			}
			panic(r)
		}
	}()

	configFlag := flag.String("config", "", "path to config.toml (default data/config/config.toml)")
	secretsFlag := flag.String("secrets", "", "path to secrets.toml")
	stdoutLogFlag := flag.Bool("stdout", false, "mirror logs to stdout")
	logLevelFlag := flag.String("log-level", "", "override log level (debug/info/warn/error)")
	blockNotifyFlag := flag.String("blocknotify", "", "send a block hash to a running pool and exit (daemon -blocknotify hook)")
	cliCommandFlag := flag.String("cli", "", "send a control command (e.g. stats) to a running pool and exit")
	flag.Parse()

	cfg, _, err := loadConfig(*configFlag, *secretsFlag)
	if err != nil {
		fatal("config", err)
	}

	if *blockNotifyFlag != "" || *cliCommandFlag != "" {
		os.Exit(runCLIClient(cfg, *blockNotifyFlag, *cliCommandFlag, flag.Args()))
	}

	if err := validateConfig(cfg); err != nil {
		fatal("config", err)
	}
	logLevelName := cfg.LogLevel
	if *logLevelFlag != "" {
		logLevelName = *logLevelFlag
	}
	level, err := parseLogLevel(logLevelName)
	if err != nil {
		fatal("log level", err)
	}
	setLogLevel(level)

	logDir, err := initLogDir(cfg)
	if err != nil {
		fatal("log dir", err)
	}
	configureFileLogging(
		filepath.Join(logDir, "pool.log"),
		filepath.Join(logDir, "errors.log"),
		filepath.Join(logDir, "debug.log"),
		*stdoutLogFlag,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := newPoolMetrics()
	pool, err := NewPool(cfg, metrics)
	if err != nil {
		fatal("pool", err)
	}

	db, err := openStateDB(stateDBPathFromDataDir(cfg.DataDir))
	if err != nil {
		fatal("state db", err)
	}
	state := newStateStore(db)
	pool.AttachStateStore(state)
	stateDone := make(chan struct{})
	go func() {
		defer close(stateDone)
		state.run(ctx, stateFlushInterval)
	}()

	journal := newBlockJournal(blockJournalPath(cfg.DataDir, cfg.CoinSymbol))

	discord, err := newDiscordNotifier(cfg)
	if err != nil {
		logger.Warn("discord notifier disabled", "error", err)
		discord = nil
	}
	if discord != nil {
		go discord.run(ctx)
		discordLog.Info("discord notifier started", "channel_id", cfg.DiscordNotifyChannelID)
	}

	worker := &poolWorker{
		printShares: cfg.PrintShares,
		journal:     journal,
		state:       state,
		discord:     discord,
		metrics:     metrics,
		now:         time.Now,
	}
	pool.OnShare(worker.handleShare)

	if err := pool.Start(ctx); err != nil {
		if ctx.Err() == nil {
			fatal("pool start", err)
		}
	}

	var cli *cliListener
	if cfg.CLIEnabled && ctx.Err() == nil {
		cli = newCLIListener(cfg.CLIAddr(), cfg.CLISecret, pool.handleCLICommand)
		if err := cli.Start(ctx); err != nil {
			fatal("cli", err)
		}
	}

	<-ctx.Done()
	poolLog.Info("shutdown requested; closing stratum listeners")
	pool.Stop(shutdownDrainTimeout)
	if cli != nil {
		cli.Wait()
	}
	journal.Close()
	<-stateDone
	if err := state.Close(); err != nil {
		databaseLog.Warn("state db close", "error", err)
	}
	poolLog.Info("shutdown complete")
	logger.Stop()
}

// runCLIClient sends one command to the pool's control socket and prints
// the reply. It returns the process exit code.
func runCLIClient(cfg Config, blockHash, command string, args []string) int {
	params := args
	if blockHash != "" {
		command = "blocknotify"
		params = []string{cfg.CoinSymbol, blockHash}
	}
	if cfg.CLISecret == "" {
		fmt.Fprintln(os.Stderr, "cli secret is not configured; set cli_secret in secrets.toml")
		return 1
	}
	ctx, cancel := context.WithTimeout(context.Background(), cliIOTimeout)
	defer cancel()
	reply, err := sendCLICommand(ctx, cfg.CLIAddr(), cfg.CLISecret, command, params)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	fmt.Println(reply)
	return 0
}

func initLogDir(cfg Config) (string, error) {
	dir := cfg.DataDir
	if dir == "" {
		dir = defaultDataDir
	}
	logDir := filepath.Join(dir, "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return "", err
	}
	return logDir, nil
}
