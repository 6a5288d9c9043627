package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tolelom/tolescrow/config"
	"github.com/tolelom/tolescrow/consensus"
	"github.com/tolelom/tolescrow/core"
	"github.com/tolelom/tolescrow/events"
	"github.com/tolelom/tolescrow/indexer"
	"github.com/tolelom/tolescrow/internal/logging"
	"github.com/tolelom/tolescrow/metrics"
	"github.com/tolelom/tolescrow/rpc"
	"github.com/tolelom/tolescrow/storage"
	"github.com/tolelom/tolescrow/vm"
	"github.com/tolelom/tolescrow/vm/modules/economy"
	"github.com/tolelom/tolescrow/vm/modules/escrow"
	"github.com/tolelom/tolescrow/wallet"
)

func newRunCmd() *cobra.Command {
	var cfgPath, keyPath string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the node",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cfgPath)
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runNode(ctx, cfg, keyPath)
		},
	}
	cmd.Flags().StringVar(&cfgPath, "config", "config.toml", "path to TOML config file")
	cmd.Flags().StringVar(&keyPath, "key", "validator.key", "path to validator keystore")
	return cmd
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		cfg = config.DefaultConfig()
		return cfg, cfg.Validate()
	}
	return cfg, err
}

func runNode(ctx context.Context, cfg *config.Config, keyPath string) error {
	log, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	password, err := readPassword(false)
	if err != nil {
		return err
	}
	privKey, err := wallet.LoadKey(keyPath, password)
	if err != nil {
		return fmt.Errorf("load key: %w", err)
	}
	if len(cfg.Validators) == 0 {
		cfg.Validators = []string{privKey.Public().Hex()}
		log.Warn("no validators configured, running as sole validator")
	}

	// ---- storage ----
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("mkdir data dir: %w", err)
	}
	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "chain"))
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()
	state := storage.NewStateDB(db)

	// ---- chain ----
	bc := core.NewBlockchain(storage.NewBlockStore(db))
	if err := bc.Init(); err != nil {
		return fmt.Errorf("blockchain init: %w", err)
	}
	if bc.Tip() == nil {
		genesis, err := config.CreateGenesisBlock(cfg, state, privKey, time.Now().UnixNano())
		if err != nil {
			return fmt.Errorf("genesis: %w", err)
		}
		if err := bc.AddBlock(genesis); err != nil {
			return fmt.Errorf("add genesis: %w", err)
		}
		log.Info("genesis block committed", zap.String("hash", genesis.Hash))
	}

	// ---- events, indexer ----
	emitter := events.NewEmitter(log.Named("events"))
	idx := indexer.New(db, emitter, log)

	// ---- VM ----
	registry := vm.NewRegistry()
	economy.Register(registry)
	engine := escrow.New(escrow.Config{
		CancelDelay: cfg.CancelDelay(),
		Logger:      log,
		Metrics:     metrics.Escrow(),
	})
	escrow.Register(registry, engine)
	exec := vm.NewExecutor(state, emitter, vm.WithRegistry(registry), vm.WithLogger(log.Named("vm")))
	emitter.Subscribe(events.EventBlockCommit, func(events.Event) {
		vault, err := state.GetAccount(engine.Vault())
		if err != nil {
			log.Warn("read escrow vault", zap.Error(err))
			return
		}
		metrics.Escrow().SetValueLocked(vault.Balance)
	})

	// ---- consensus ----
	mempool := core.NewMempool(cfg.Genesis.ChainID, cfg.MempoolSize)
	poa := consensus.New(cfg, bc, state, mempool, exec, emitter, privKey,
		consensus.WithLogger(log),
		consensus.WithMetrics(metrics.Chain()))

	// ---- RPC ----
	server := rpc.NewServer(rpc.ServerConfig{
		Addr:      cfg.RPCAddr,
		AuthToken: cfg.RPCAuthToken,
		RateLimit: cfg.RPCRateLimit,
		Logger:    log,
	}, rpc.NewHandler(bc, mempool, state, idx, cfg.Genesis.ChainID))
	if err := server.Start(); err != nil {
		return fmt.Errorf("rpc start: %w", err)
	}
	defer func() {
		if err := server.Stop(); err != nil {
			log.Warn("rpc stop", zap.Error(err))
		}
	}()

	// ---- block production ----
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		poa.Run(cfg.BlockIntervalDuration(), done)
	}()
	log.Info("node running",
		zap.String("node_id", cfg.NodeID),
		zap.String("chain_id", cfg.Genesis.ChainID),
		zap.String("validator", privKey.Public().Hex()),
		zap.String("escrow_vault", engine.Vault()),
		zap.Duration("cancel_delay", engine.CancelDelay()))

	<-ctx.Done()
	log.Info("shutting down")
	// Stop block production before the deferred RPC and DB shutdown.
	close(done)
	wg.Wait()
	return nil
}
