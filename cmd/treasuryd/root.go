package main

import (
	"context"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"Treasury-Rebalancer/internal/config"
	"Treasury-Rebalancer/internal/cowswap"
	"Treasury-Rebalancer/internal/rebalancer"
	"Treasury-Rebalancer/internal/tenderly"
	"Treasury-Rebalancer/internal/web3/ethereum"
	"Treasury-Rebalancer/internal/web3/provider"
	"Treasury-Rebalancer/pkg/logger"
)

// app 保存命令之间共享的配置与依赖。
type app struct {
	configPath string
	network    string

	cfg      *config.Config
	networks *config.Networks
	chains   *provider.Registry
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "treasuryd",
		Short:         "Keeps the DAO stablecoin wallet topped up from its ETH balance",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init()
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.chains != nil {
				a.chains.Close()
			}
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", os.Getenv("TREASURY_CONFIG"), "Path to a YAML or JSON config file")
	root.PersistentFlags().StringVarP(&a.network, "network", "n", "", "Network to rebalance, overrides the config file")

	root.AddCommand(
		a.newRunCmd(config.ModeSimulate, "Build the batch and simulate it on Tenderly"),
		a.newRunCmd(config.ModeRelay, "Build the batch and send it through the relayer"),
		a.newRunCmd(rebalancer.ModeBuild, "Build the batch and print it without dispatching"),
		a.newServeCmd(),
		a.newSubmitCmd(),
		a.newNetworksCmd(),
	)
	return root
}

func (a *app) init() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.network != "" {
		cfg.Network = strings.ToLower(strings.TrimSpace(a.network))
	}
	if err := logger.Init(cfg.Logging); err != nil {
		return err
	}
	networks, err := config.LoadNetworks(cfg.NetworksFile)
	if err != nil {
		return err
	}
	chains, err := provider.NewRegistry(networks, cfg.RPC)
	if err != nil {
		return err
	}
	a.cfg, a.networks, a.chains = cfg, networks, chains
	return nil
}

// newRebalancer 按网络与模式装配编排器及其协作方。
func (a *app) newRebalancer(ctx context.Context, name string, mode config.Mode) (*rebalancer.Rebalancer, error) {
	if mode != rebalancer.ModeBuild {
		if err := a.cfg.RequireCredentials(mode); err != nil {
			return nil, err
		}
	}
	network, err := a.networks.Get(name)
	if err != nil {
		return nil, err
	}
	chain, err := a.chains.Client(ctx, network.Name)
	if err != nil {
		return nil, err
	}

	baseURL := a.cfg.CowSwap.BaseURL
	if baseURL == "" {
		baseURL = network.CowAPI
	}
	venue, err := cowswap.NewClient(cowswap.Config{
		BaseURL:        baseURL,
		Timeout:        a.cfg.CowSwap.Timeout,
		RequestsPerSec: a.cfg.CowSwap.RequestsPerSec,
		Burst:          a.cfg.CowSwap.Burst,
		OrderValidity:  a.cfg.CowSwap.OrderValidity,
	})
	if err != nil {
		return nil, err
	}

	opts := []rebalancer.Option{
		rebalancer.WithGasLimit(a.cfg.Relayer.GasLimit),
		rebalancer.WithLogger(logger.Named("rebalancer")),
		rebalancer.WithAuditLogger(logger.Audit()),
	}
	if a.cfg.Relayer.PrivateKey != "" {
		relayer, err := ethereum.NewRelayer(ctx, chain.Backend(), a.cfg.Relayer.PrivateKey)
		if err != nil {
			return nil, err
		}
		opts = append(opts, rebalancer.WithRelayer(relayer))
	}
	if a.cfg.Relayer.Address != "" {
		opts = append(opts, rebalancer.WithCaller(common.HexToAddress(a.cfg.Relayer.Address)))
	}
	if mode == config.ModeSimulate {
		sim, err := tenderly.NewClient(tenderly.Config{
			APIBase:   a.cfg.Tenderly.APIBase,
			User:      a.cfg.Tenderly.User,
			Project:   a.cfg.Tenderly.Project,
			AccessKey: a.cfg.Tenderly.AccessKey,
			Timeout:   a.cfg.Tenderly.Timeout,
		})
		if err != nil {
			return nil, err
		}
		opts = append(opts, rebalancer.WithSimulator(tenderly.NewScheduler(sim, a.cfg.Tenderly.Delay)))
	}
	return rebalancer.New(network, chain, venue, opts...)
}

// execute 运行一次再平衡，供 CLI 命令与 serve 模式共用。
func (a *app) execute(ctx context.Context, network string, mode config.Mode) (*rebalancer.Result, error) {
	rb, err := a.newRebalancer(ctx, network, mode)
	if err != nil {
		return nil, err
	}
	if mode == rebalancer.ModeBuild {
		return rb.BuildBatch(ctx)
	}
	return rb.Run(ctx, mode)
}
