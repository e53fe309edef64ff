// Command relayer runs the account contracts on an in-memory chain and serves the gasless
// relayer API in front of them.
package main

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/ametist/accountbox"
	"github.com/ametist/accountbox/chain"
	"github.com/ametist/accountbox/config"
	"github.com/ametist/accountbox/factory"
	"github.com/ametist/accountbox/forwarder"
	relayerhttp "github.com/ametist/accountbox/http"
	"github.com/ametist/accountbox/indexer"
	"github.com/ametist/accountbox/mechanisms/evm"
	evmsigner "github.com/ametist/accountbox/signers/evm"
	"github.com/ametist/accountbox/token"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	flagSet := pflag.NewFlagSet("relayer", pflag.ContinueOnError)
	flagSet.StringVar(&cfg.ListenAddr, "listen", cfg.ListenAddr, "address the relayer API listens on")
	flagSet.Uint64Var(&cfg.ChainID, "chain-id", cfg.ChainID, "chain id of the in-memory chain")
	flagSet.StringVar(&cfg.DatabaseURL, "database-url", cfg.DatabaseURL, "Postgres URL of the event index (in memory when empty)")
	flagSet.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "trace, debug, info, warn, error or crit")
	flagSet.DurationVar(&cfg.RequestTimeout, "request-timeout", cfg.RequestTimeout, "deadline of one relayed request")
	showVersion := flagSet.Bool("version", false, "print the version and exit")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if *showVersion {
		fmt.Println("relayer", accountbox.Version)
		return nil
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	lvl, err := cfg.Level()
	if err != nil {
		return err
	}
	log.SetDefault(log.NewLogger(log.NewTerminalHandlerWithLevel(os.Stderr, lvl, true)))
	gin.SetMode(gin.ReleaseMode)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg)
}

// deployment is the set of contracts the relayer fronts
type deployment struct {
	chain     *chain.Chain
	forwarder common.Address
	factory   common.Address
	token     common.Address
}

func deploy(cfg *config.Config) (*deployment, error) {
	ownerKey, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.OwnerKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid owner key: %w", err)
	}
	relayerKey, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.RelayerKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid relayer key: %w", err)
	}
	owner := crypto.PubkeyToAddress(ownerKey.PublicKey)
	relayer := crypto.PubkeyToAddress(relayerKey.PublicKey)

	c := chain.New(chain.Config{
		ChainID: cfg.ChainIDBig(),
		Alloc: map[common.Address]*big.Int{
			owner:   cfg.GenesisBalance,
			relayer: cfg.GenesisBalance,
		},
	})

	fwd, err := forwarder.Deploy(c, owner, cfg.ForwarderName)
	if err != nil {
		return nil, fmt.Errorf("failed to deploy forwarder: %w", err)
	}
	handle, err := factory.DeployUpgradeable(c, owner, fwd.Address(), owner)
	if err != nil {
		return nil, fmt.Errorf("failed to deploy factory: %w", err)
	}
	v2, err := factory.UpgradeToV2(c, owner, owner, handle.Handle)
	if err != nil {
		return nil, fmt.Errorf("failed to upgrade factory: %w", err)
	}
	tok, err := token.Deploy(c, owner, cfg.TokenName, cfg.TokenSymbol)
	if err != nil {
		return nil, fmt.Errorf("failed to deploy token: %w", err)
	}

	log.Info("Contracts deployed",
		"chainId", cfg.ChainID,
		"owner", owner,
		"forwarder", fwd.Address(),
		"factory", handle.Handle,
		"implementation", v2,
		"token", tok.Address(),
		"funded", evm.FormatAmount(cfg.GenesisBalance, evm.DefaultDecimals),
	)
	return &deployment{chain: c, forwarder: fwd.Address(), factory: handle.Handle, token: tok.Address()}, nil
}

func serve(ctx context.Context, cfg *config.Config) error {
	d, err := deploy(cfg)
	if err != nil {
		return err
	}
	go d.chain.FollowClock(ctx, time.Second)

	relayer, err := evmsigner.NewClientSignerFromPrivateKey(cfg.RelayerKey)
	if err != nil {
		return err
	}
	relayer.WithBackend(d.chain)

	repo, err := openRepository(ctx, cfg)
	if err != nil {
		return err
	}
	defer repo.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	ix := indexer.New(d.chain, repo, indexer.Config{
		Factory:    d.factory,
		Forwarder:  d.forwarder,
		Token:      d.token,
		Registerer: reg,
	})
	server := relayerhttp.NewServer(relayerhttp.Config{
		Forwarder:      d.forwarder,
		Factory:        d.factory,
		Token:          d.token,
		Relayer:        relayer,
		RequestTimeout: cfg.RequestTimeout,
		Registry:       reg,
	})

	return supervise(ctx, ix.Run, func(ctx context.Context) error {
		return server.Run(ctx, cfg.ListenAddr)
	})
}

// supervise runs the indexer and the API together; whichever fails first stops the other
func supervise(ctx context.Context, index, api func(context.Context) error) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := index(ctx); err != nil {
			log.Error("Indexer stopped, shutting down", "err", err)
			return fmt.Errorf("indexer: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := api(ctx); err != nil {
			return fmt.Errorf("relayer api: %w", err)
		}
		return nil
	})
	return g.Wait()
}

func openRepository(ctx context.Context, cfg *config.Config) (indexer.Repository, error) {
	if cfg.DatabaseURL == "" {
		log.Info("Indexing in memory")
		return indexer.NewMemoryRepository(), nil
	}
	repo, err := indexer.NewPostgresRepository(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	log.Info("Indexing to Postgres")
	return repo, nil
}
