// Package node assembles a voting client from configuration.
package node

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"

	"zvote/cache"
	"zvote/decryption"
	"zvote/devnet"
	"zvote/encryption"
	"zvote/internal/config"
	"zvote/ledger"
	"zvote/proposals"
	"zvote/relayer"
	"zvote/service"
	"zvote/storage"
	"zvote/wallet"
)

type Node struct {
	config  *config.Config
	logger  *slog.Logger
	Service *service.VotingService
	Engines *encryption.Service
	Wallet  *wallet.Wallet
	// Devnet and Network are set in devnet mode only.
	Devnet  *devnet.Contract
	Network *devnet.Network
	store   storage.Store
	closers []func()
}

// New builds every component cfg names. registry may be nil.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, registry prometheus.Registerer) (*Node, error) {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	n := &Node{config: cfg, logger: logger}
	if err := n.build(ctx, registry); err != nil {
		n.Close()
		return nil, err
	}
	return n, nil
}

func (n *Node) build(ctx context.Context, registry prometheus.Registerer) error {
	cfg := n.config
	w, err := loadWallet(cfg)
	if err != nil {
		return err
	}
	n.Wallet = w

	var (
		reader ledger.Ledger
		writer ledger.Writer
		engine encryption.Engine
		domain encryption.Domain
	)
	switch cfg.Ledger {
	case config.LedgerDevnet:
		opts := []devnet.NetworkOptionFunc{
			devnet.WithNetworkLogger(n.logger),
			devnet.WithKeySize(cfg.DevnetKeySize),
		}
		if cfg.DecryptionContract != "" {
			opts = append(opts, devnet.WithDecryptionDomain(cfg.ChainID, common.HexToAddress(cfg.DecryptionContract)))
		} else {
			opts = append(opts, devnet.WithDecryptionDomain(cfg.ChainID, devnet.DefaultDecryptionContract))
		}
		network, err := devnet.NewNetwork(opts...)
		if err != nil {
			return fmt.Errorf("failed to start devnet: %w", err)
		}
		contractOpts := []devnet.ContractOptionFunc{devnet.WithContractLogger(n.logger)}
		if cfg.ContractAddress != "" {
			contractOpts = append(contractOpts, devnet.WithContractAddress(common.HexToAddress(cfg.ContractAddress)))
		}
		contract := devnet.NewContract(network, contractOpts...)
		n.closers = append(n.closers, contract.Close)
		n.Network, n.Devnet = network, contract
		reader, engine, domain = contract, devnet.NewLocalEngine(network), network.Domain()
		if w != nil {
			writer = contract.Writer(w.Address())
		}
	case config.LedgerRPC:
		contract, client, err := ledger.Dial(ctx, cfg.RPCURL, common.HexToAddress(cfg.ContractAddress),
			ledger.WithContractLogger(n.logger))
		if err != nil {
			return err
		}
		n.closers = append(n.closers, client.Close)
		reader = contract
		engine = relayer.NewClient(cfg.RelayerURL,
			relayer.WithHTTPClient(&http.Client{Timeout: cfg.EngineReadyTimeout}),
			relayer.WithLogger(n.logger),
		)
		domain = encryption.NewDomain(cfg.ChainID, common.HexToAddress(cfg.DecryptionContract))
		if w != nil {
			opts, err := w.TransactOpts()
			if err != nil {
				return err
			}
			writer = contract.Writer(opts, cfg.GasLimit)
		}
	default:
		return fmt.Errorf("unknown ledger %q", cfg.Ledger)
	}

	store, err := openStore(cfg, n.logger)
	if err != nil {
		return err
	}
	n.store = store

	n.Engines = encryption.NewService(engine,
		encryption.WithLogger(n.logger),
		encryption.WithReadiness(cfg.EnginePollInterval, cfg.EngineReadyTimeout),
	)
	svcCfg := service.Config{
		Ledger:    reader,
		Writer:    writer,
		Encryptor: encryption.NewVoteEncryptor(n.Engines, n.logger),
		Tracker: proposals.NewTracker(reader,
			proposals.WithConcurrency(cfg.ScanWorkers),
			proposals.WithLogger(n.logger),
		),
		Decrypter:    decryption.NewProtocol(reader, n.Engines, domain, decryption.WithLogger(n.logger)),
		Cache:        cache.NewReconciler(store),
		Logger:       n.logger,
		PromRegistry: registry,
		ViewTTL:      cfg.ViewTTL,
		ScanWorkers:  cfg.ScanWorkers,
		PageSize:     cfg.PageSize,
	}
	if w != nil {
		svcCfg.Identity = w
	}
	n.Service, err = service.NewVotingService(svcCfg)
	return err
}

// loadWallet returns the configured account. Devnet mode generates a
// throwaway account when none is configured; rpc mode stays read-only.
func loadWallet(cfg *config.Config) (*wallet.Wallet, error) {
	switch {
	case cfg.PrivateKey != "":
		return wallet.FromHex(cfg.PrivateKey, cfg.ChainID)
	case cfg.KeystorePath != "":
		return wallet.FromKeystore(cfg.KeystorePath, cfg.KeystorePassword, cfg.ChainID)
	case cfg.Ledger == config.LedgerDevnet:
		return wallet.Generate(cfg.ChainID)
	}
	return nil, nil
}

func openStore(cfg *config.Config, logger *slog.Logger) (storage.Store, error) {
	switch strings.ToLower(cfg.CacheBackend) {
	case config.CacheMemory:
		return storage.NewMemoryStore(), nil
	case config.CacheJSON:
		return storage.NewJSONStore(cfg.CachePath)
	case config.CacheBadger:
		return storage.NewBadgerStore(cfg.CachePath, logger)
	}
	return nil, fmt.Errorf("unknown cache backend %q", cfg.CacheBackend)
}

// RelayerHandler serves the devnet network's relayer API, or nil outside
// devnet mode.
func (n *Node) RelayerHandler() http.Handler {
	if n.Network == nil {
		return nil
	}
	return devnet.NewRelayerHandler(n.Network, n.logger)
}

// Run starts background work until ctx is done: engine pre-warm and, in
// devnet mode, closing expired proposals.
func (n *Node) Run(ctx context.Context) {
	n.Engines.Warm()
	if n.Devnet != nil && n.config.DevnetCloseInterval > 0 {
		n.Devnet.Run(ctx, n.config.DevnetCloseInterval)
		return
	}
	<-ctx.Done()
}

func (n *Node) Close() {
	for i := len(n.closers) - 1; i >= 0; i-- {
		n.closers[i]()
	}
	n.closers = nil
	if n.store != nil {
		if err := n.store.Close(); err != nil && !errors.Is(err, storage.ErrClosed) {
			n.logger.Warn("failed to close cache", "component", "node", "error", err)
		}
		n.store = nil
	}
}
