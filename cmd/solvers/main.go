// Command solvers runs the CoW Protocol DEX-aggregator solver engine: an
// HTTP server that quotes incoming orders against a single external DEX
// or DEX aggregator API and returns single-order settlement solutions.
package main

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/holiman/uint256"
	"github.com/urfave/cli/v2"

	"github.com/cowprotocol/dex-solvers/internal/domain/dex/tolerance"
	"github.com/cowprotocol/dex-solvers/internal/domain/eth"
	solverdex "github.com/cowprotocol/dex-solvers/internal/domain/solver/dex"
	"github.com/cowprotocol/dex-solvers/internal/infra/config"
	"github.com/cowprotocol/dex-solvers/internal/infra/dex/balancer"
	"github.com/cowprotocol/dex-solvers/internal/infra/dex/httpx"
	"github.com/cowprotocol/dex-solvers/internal/infra/dex/okx"
	"github.com/cowprotocol/dex-solvers/internal/infra/dex/oneinch"
	"github.com/cowprotocol/dex-solvers/internal/infra/dex/paraswap"
	"github.com/cowprotocol/dex-solvers/internal/infra/dex/simulator"
	"github.com/cowprotocol/dex-solvers/internal/infra/dex/zeroex"
	"github.com/cowprotocol/dex-solvers/internal/infra/logging"
	"github.com/cowprotocol/dex-solvers/internal/infra/ratelimit"

	"github.com/cowprotocol/dex-solvers/internal/api"
)

var configFlag = &cli.StringFlag{
	Name:  "config",
	Usage: "path to a TOML configuration file to load",
}

var addrFlag = &cli.StringFlag{
	Name:  "addr",
	Usage: "address to listen on, overriding the config file",
}

var logFlag = &cli.StringFlag{
	Name:  "log",
	Usage: "log level (debug, info, warn, error), overriding the config file",
}

var useJSONLogsFlag = &cli.BoolFlag{
	Name:  "use-json-logs",
	Usage: "emit logs as JSON instead of human-readable text",
}

func main() {
	app := &cli.App{
		Name:  "solvers",
		Usage: "run a CoW Protocol DEX-aggregator solver",
		Flags: []cli.Flag{configFlag, addrFlag, logFlag, useJSONLogsFlag},
		Commands: []*cli.Command{
			adapterCommand("balancer", "solve against the Balancer Smart Order Router", runBalancer),
			adapterCommand("zeroex", "solve against the 0x swap API", runZeroEx),
			adapterCommand("oneinch", "solve against the 1inch aggregation protocol API", runOneInch),
			adapterCommand("paraswap", "solve against the ParaSwap swap API", runParaSwap),
			adapterCommand("okx", "solve against the OKX DEX aggregator API", runOkx),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func adapterCommand(name, usage string, run func(*cli.Context, *config.Config) (solverdex.Adapter, error)) *cli.Command {
	return &cli.Command{
		Name:  name,
		Usage: usage,
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			adapter, err := run(c, cfg)
			if err != nil {
				return err
			}
			return serve(c, cfg, adapter)
		},
	}
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String(configFlag.Name))
	if err != nil {
		return nil, err
	}
	if c.String(addrFlag.Name) != "" {
		cfg.ListenAddress = c.String(addrFlag.Name)
	}
	if c.String(logFlag.Name) != "" {
		cfg.Logging.Level = c.String(logFlag.Name)
	}
	if c.Bool(useJSONLogsFlag.Name) {
		cfg.Logging.UseJSON = true
	}
	logging.Configure()
	return cfg, nil
}

func newHTTPClient(cfg *config.Config) (*httpx.Client, error) {
	var watcher httpx.BlockWatcher
	if cfg.Ethereum.RPC != "" {
		rpc, err := ethclient.Dial(cfg.Ethereum.RPC)
		if err != nil {
			return nil, fmt.Errorf("dialing ethereum rpc: %w", err)
		}
		w := &httpx.PollingBlockWatcher{}
		go pollBlocks(rpc, w)
		watcher = w
	}
	return httpx.New(10*time.Second, watcher), nil
}

func pollBlocks(rpc *ethclient.Client, w *httpx.PollingBlockWatcher) {
	for {
		header, err := rpc.HeaderByNumber(context.Background(), nil)
		if err == nil {
			w.Set(header.Hash())
		}
		time.Sleep(6 * time.Second)
	}
}

func runBalancer(c *cli.Context, cfg *config.Config) (solverdex.Adapter, error) {
	client, err := newHTTPClient(cfg)
	if err != nil {
		return nil, err
	}
	settlement, err := eth.ParseAddress(cfg.Ethereum.Settlement)
	if err != nil {
		return nil, err
	}
	vault, err := eth.ParseAddress(cfg.Dex.Balancer.Vault)
	if err != nil {
		return nil, err
	}
	return balancer.New(client, balancer.Config{
		Endpoint:   cfg.Dex.Balancer.Endpoint,
		ChainID:    eth.ChainID(cfg.Ethereum.ChainID),
		Vault:      eth.ContractAddress(vault),
		Settlement: eth.ContractAddress(settlement),
	}), nil
}

func runZeroEx(c *cli.Context, cfg *config.Config) (solverdex.Adapter, error) {
	client, err := newHTTPClient(cfg)
	if err != nil {
		return nil, err
	}
	settlement, err := eth.ParseAddress(cfg.Ethereum.Settlement)
	if err != nil {
		return nil, err
	}
	return zeroex.New(client, zeroex.Config{
		ChainID:         eth.ChainID(cfg.Ethereum.ChainID),
		Endpoint:        cfg.Dex.ZeroEx.Endpoint,
		APIKey:          cfg.Dex.ZeroEx.APIKey,
		ExcludedSources: cfg.Dex.ZeroEx.ExcludedSources,
		Settlement:      eth.ContractAddress(settlement),
	}), nil
}

func runOneInch(c *cli.Context, cfg *config.Config) (solverdex.Adapter, error) {
	client, err := newHTTPClient(cfg)
	if err != nil {
		return nil, err
	}
	settlement, err := eth.ParseAddress(cfg.Ethereum.Settlement)
	if err != nil {
		return nil, err
	}
	var referrer *eth.Address
	if cfg.Dex.OneInch.Referrer != "" {
		addr, err := eth.ParseAddress(cfg.Dex.OneInch.Referrer)
		if err != nil {
			return nil, err
		}
		referrer = &addr
	}
	return oneinch.New(client, oneinch.Config{
		Endpoint:   cfg.Dex.OneInch.Endpoint,
		APIKey:     cfg.Dex.OneInch.APIKey,
		Settlement: eth.ContractAddress(settlement),
		Protocols:  cfg.Dex.OneInch.Protocols,
		Referrer:   referrer,
	}), nil
}

func runParaSwap(c *cli.Context, cfg *config.Config) (solverdex.Adapter, error) {
	client, err := newHTTPClient(cfg)
	if err != nil {
		return nil, err
	}
	settlement, err := eth.ParseAddress(cfg.Ethereum.Settlement)
	if err != nil {
		return nil, err
	}
	return paraswap.New(client, paraswap.Config{
		Endpoint:          cfg.Dex.ParaSwap.Endpoint,
		ExcludeDexs:       cfg.Dex.ParaSwap.ExcludeDexs,
		IgnoreBadUsdPrice: cfg.Dex.ParaSwap.IgnoreBadUsdPrice,
		Address:           settlement,
		APIKey:            cfg.Dex.ParaSwap.APIKey,
		Partner:           cfg.Dex.ParaSwap.Partner,
		ChainID:           eth.ChainID(cfg.Ethereum.ChainID),
	}), nil
}

func runOkx(c *cli.Context, cfg *config.Config) (solverdex.Adapter, error) {
	client, err := newHTTPClient(cfg)
	if err != nil {
		return nil, err
	}
	return okx.New(client, okx.Config{
		Endpoint: cfg.Dex.Okx.Endpoint,
		ChainID:  eth.ChainID(cfg.Ethereum.ChainID),
		Credentials: okx.Credentials{
			ProjectID:     cfg.Dex.Okx.ProjectID,
			APIKey:        cfg.Dex.Okx.APIKey,
			APISecretKey:  cfg.Dex.Okx.APISecretKey,
			APIPassphrase: cfg.Dex.Okx.APIPassphrase,
		},
	}), nil
}

func serve(c *cli.Context, cfg *config.Config, adapter solverdex.Adapter) error {
	settlement, err := eth.ParseAddress(cfg.Ethereum.Settlement)
	if err != nil {
		return err
	}
	authenticator, err := eth.ParseAddress(cfg.Ethereum.Authenticator)
	if err != nil {
		return err
	}
	rpc, err := ethclient.Dial(cfg.Ethereum.RPC)
	if err != nil {
		return fmt.Errorf("dialing ethereum rpc: %w", err)
	}
	sim := simulator.New(rpc, eth.ContractAddress(settlement), eth.ContractAddress(authenticator))

	solverCfg, err := toSolverConfig(cfg.Dex)
	if err != nil {
		return err
	}

	solver := solverdex.New(adapter, sim, solverCfg)
	server := api.New(solver)

	addr := fmt.Sprintf("%s:%d", cfg.ListenAddress, cfg.ListenPort)
	logger := logging.GetLogger()
	logger.Info("listening", "addr", addr)

	httpServer := &http.Server{Addr: addr, Handler: server.Handler()}
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()
	errCh := make(chan error, 1)
	go func() { errCh <- httpServer.ListenAndServe() }()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return httpServer.Shutdown(context.Background())
	}
}

func toSolverConfig(cfg config.DexConfig) (solverdex.Config, error) {
	absoluteSlippage, err := parseOptionalEther(cfg.AbsoluteSlippage)
	if err != nil {
		return solverdex.Config{}, fmt.Errorf("invalid absoluteSlippage: %w", err)
	}
	absoluteMinSurplus, err := parseOptionalEther(cfg.AbsoluteMinimumSurplus)
	if err != nil {
		return solverdex.Config{}, fmt.Errorf("invalid absoluteMinimumSurplus: %w", err)
	}

	relSlippage := new(big.Rat).SetFloat64(cfg.RelativeSlippage)
	slippage, ok := tolerance.New[tolerance.SlippagePolicy](relSlippage, absoluteSlippage)
	if !ok {
		return solverdex.Config{}, fmt.Errorf("invalid relativeSlippage %v", cfg.RelativeSlippage)
	}

	relMinSurplus := new(big.Rat).SetFloat64(cfg.RelativeMinimumSurplus)
	minSurplus, ok := tolerance.New[tolerance.MinimumSurplusPolicy](relMinSurplus, absoluteMinSurplus)
	if !ok {
		return solverdex.Config{}, fmt.Errorf("invalid relativeMinimumSurplus %v", cfg.RelativeMinimumSurplus)
	}

	smallestFill, ok := uint256.FromDecimal(cfg.SmallestPartialFill)
	if !ok {
		return solverdex.Config{}, fmt.Errorf("invalid smallestPartialFill %q", cfg.SmallestPartialFill)
	}

	return solverdex.Config{
		Slippage:            slippage,
		MinimumSurplus:      minSurplus,
		ConcurrentRequests:  cfg.ConcurrentRequests,
		SmallestPartialFill: eth.NewEther(smallestFill),
		RateLimitStrategy: ratelimit.Strategy{
			GrowthFactor: cfg.BackOffGrowthFactor,
			MinBackOff:   cfg.MinBackOff,
			MaxBackOff:   cfg.MaxBackOff,
		},
		GasOffset:               eth.NewGas(cfg.GasOffset),
		InternalizeInteractions: cfg.InternalizeInteractions,
	}, nil
}

// parseOptionalEther parses s as a base-10 wei amount, returning nil if s
// is empty.
func parseOptionalEther(s string) (*eth.Ether, error) {
	if s == "" {
		return nil, nil
	}
	v, ok := uint256.FromDecimal(s)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	e := eth.NewEther(v)
	return &e, nil
}
