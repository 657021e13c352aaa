// Package main provides the crypwalletd daemon, a Bitcoin SPV-style wallet
// that keeps a reconciled ledger and serves it over JSON-RPC and WebSocket.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lightningnetwork/lnd/ticker"

	"github.com/klingon-exchange/crypwallet/internal/backend"
	"github.com/klingon-exchange/crypwallet/internal/chain"
	"github.com/klingon-exchange/crypwallet/internal/chainclient"
	"github.com/klingon-exchange/crypwallet/internal/config"
	"github.com/klingon-exchange/crypwallet/internal/engine"
	"github.com/klingon-exchange/crypwallet/internal/ledger"
	"github.com/klingon-exchange/crypwallet/internal/price"
	"github.com/klingon-exchange/crypwallet/internal/rpc"
	"github.com/klingon-exchange/crypwallet/internal/send"
	"github.com/klingon-exchange/crypwallet/pkg/logging"
)

var (
	version = rpc.Version
	commit  = "unknown"
)

func main() {
	// Parse flags
	var (
		dataDir     = flag.String("data-dir", "~/.crypwallet", "Data directory")
		network     = flag.String("network", "", "Network (mainnet, testnet), overrides config")
		apiAddr     = flag.String("api", "", "JSON-RPC API address, overrides config")
		explorerURL = flag.String("explorer", "", "Block explorer API URL, overrides config")
		checkpoints = flag.String("checkpoints", "", "Checkpoint file, overrides config")
		logLevel    = flag.String("log-level", "", "Log level (debug, info, warn, error), overrides config")
		logFile     = flag.String("log-file", "", "Log file path, overrides config")
		noPrices    = flag.Bool("no-prices", false, "Disable the price board")
		noCreate    = flag.Bool("no-create", false, "Fail instead of creating a new wallet")
		passphrase  = flag.String("passphrase", "", "Optional BIP39 passphrase")
		showVersion = flag.Bool("version", false, "Show version and exit")
	)
	flag.Parse()

	// Set up logging (initial, replaced once the config is loaded)
	log := logging.New(&logging.Config{
		Level:      "info",
		TimeFormat: time.TimeOnly,
	})
	logging.SetDefault(log)

	if *showVersion {
		log.Infof("crypwalletd %s (commit: %s)", version, commit)
		os.Exit(0)
	}

	cfg, err := config.LoadConfig(*dataDir)
	if err != nil {
		log.Fatal("Failed to load config", "error", err)
	}

	// Apply CLI overrides (CLI flags take precedence over config file)
	cfg.Storage.DataDir = *dataDir
	if *network != "" {
		cfg.Network = chain.Network(*network)
	}
	if *apiAddr != "" {
		cfg.RPC.Listen = *apiAddr
	}
	if *checkpoints != "" {
		cfg.Sync.Checkpoints = *checkpoints
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if *logFile != "" {
		cfg.Logging.File = *logFile
	}
	if *noPrices {
		cfg.Prices.Enabled = false
	}
	if *noCreate {
		cfg.Wallet.CreateIfMissing = false
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal("Invalid configuration", "error", err)
	}
	if *explorerURL != "" {
		if cfg.Network == chain.Mainnet {
			cfg.Explorer.MainnetURL = *explorerURL
		} else {
			cfg.Explorer.TestnetURL = *explorerURL
		}
	}

	// Update logging with config level and file
	log, logCloser, err := logging.NewWithFile(&logging.Config{
		Level:      cfg.Logging.Level,
		TimeFormat: time.TimeOnly,
		File:       cfg.Logging.File,
		MaxRolls:   cfg.Logging.MaxRolls,
	})
	if err != nil {
		logging.GetDefault().Fatal("Failed to open log file", "error", err)
	}
	defer logCloser.Close()
	logging.SetDefault(log)

	log.Info("Config loaded", "path", config.ConfigPath(*dataDir))

	params, err := cfg.Params()
	if err != nil {
		log.Fatal("Unsupported network", "error", err)
	}

	password := cfg.Password()
	if password == "" {
		log.Fatal("Seed password not set", "env", cfg.Wallet.PasswordEnv)
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	explorer, err := backend.New(&cfg.Explorer, params.Network)
	if err != nil {
		log.Fatal("Failed to create explorer backend", "error", err)
	}
	defer explorer.Close()
	log.Info("Explorer backend initialized", "type", cfg.Explorer.Type, "url", cfg.Explorer.URLFor(params.Network))

	// The ledger owns every observer-visible value.
	walletLedger := ledger.New(&ledger.Config{Logger: log})
	if err := walletLedger.Start(); err != nil {
		log.Fatal("Failed to start ledger", "error", err)
	}
	defer walletLedger.Stop()

	dataPath := cfg.NetworkDataDir()
	adapter := chainclient.NewAdapter(&chainclient.AdapterConfig{
		NewClient: func() (chainclient.ChainClient, error) {
			e, err := engine.New(&engine.Config{
				DataDir:         dataPath,
				Params:          params,
				Backend:         explorer,
				Password:        password,
				Passphrase:      *passphrase,
				CreateIfMissing: cfg.Wallet.CreateIfMissing,
				OnWalletCreated: printMnemonic,
				GapLimit:        cfg.Sync.GapLimit,
				HeaderBatch:     cfg.Sync.HeaderBatch,
				PollInterval:    cfg.Sync.PollInterval,
			})
			if err != nil {
				return nil, err
			}
			return e, nil
		},
		Checkpoints: checkpointSource(cfg.Sync.Checkpoints, dataPath, params),
		Sink:        walletLedger,
		Logger:      log,
	})
	defer adapter.Close()

	sender := send.NewCoordinator(adapter, params.ChainCfg(), walletLedger, log)

	var board *price.Board
	if cfg.Prices.Enabled {
		board = price.NewBoard(&price.Config{
			Fetcher: price.NewClient(cfg.Prices.BaseURL, 0),
			Coins:   cfg.Prices.Coins,
			Quote:   cfg.Prices.Quote,
			TopN:    cfg.Prices.TopN,
			Ticker:  ticker.New(cfg.Prices.RefreshInterval),
			Logger:  log,
		})
		go board.Run(ctx)
		log.Info("Price board started", "quote", cfg.Prices.Quote, "coins", len(cfg.Prices.Coins))
	}

	// Start RPC server
	rpcServer := rpc.NewServer(&rpc.Config{
		Loader:   adapter,
		Ledger:   walletLedger,
		Sender:   sender,
		Explorer: explorer,
		Prices:   board,
		Params:   params,
		Logger:   log,
	})
	if err := rpcServer.Start(cfg.RPC.Listen); err != nil {
		log.Fatal("Failed to start RPC server", "error", err)
	}

	// Load the wallet right away, the same as a wallet_load call.
	adapter.Load(ctx, false)

	printBanner(log, cfg, rpcServer.Addr())

	// Start status ticker
	go func() {
		statusTicker := time.NewTicker(60 * time.Second)
		defer statusTicker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-statusTicker.C:
				status := walletLedger.Status()
				snap := walletLedger.Snapshot()
				log.Info("Status",
					"engine", adapter.State(),
					"sync", status.Text,
					"balance", snap.BalanceDisplay,
					"txs", len(snap.Transactions),
					"ws_clients", rpcServer.WSHub().ClientCount())
			}
		}
	}()

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	<-sigCh
	log.Info("Shutting down...")

	// Graceful shutdown
	cancel()

	if err := rpcServer.Stop(); err != nil {
		log.Error("Error stopping RPC server", "error", err)
	}
	if err := adapter.Close(); err != nil {
		log.Error("Error closing wallet engine", "error", err)
	}

	log.Info("Goodbye!")
}

// printMnemonic shows a freshly generated seed once. It goes to stderr only
// so it never lands in the log file.
func printMnemonic(mnemonic string) {
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "A new wallet was created. Write down these words and keep them safe:")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintf(os.Stderr, "    %s\n", mnemonic)
	fmt.Fprintln(os.Stderr, "")
}

func printBanner(log *logging.Logger, cfg *config.Config, apiAddr string) {
	networkLabel := "mainnet"
	if cfg.Network == chain.Testnet {
		networkLabel = "TESTNET"
	}

	log.Info("")
	log.Info("=================================================")
	log.Infof("  Crypwallet Daemon (%s)", networkLabel)
	log.Infof("  Version: %s", version)
	log.Info("=================================================")
	log.Info("")
	log.Infof("  API: http://%s", apiAddr)
	log.Infof("  WS:  ws://%s/ws", apiAddr)
	log.Info("")
	log.Infof("  Explorer: %s", cfg.Explorer.URLFor(cfg.Network))
	log.Infof("  Prices: %v | Gap limit: %d", cfg.Prices.Enabled, cfg.Sync.GapLimit)
	log.Infof("  Data dir: %s", cfg.NetworkDataDir())
	log.Info("")
	log.Info("=================================================")
	log.Info("")
}
