package provider

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"Treasury-Rebalancer/internal/config"
	xerrors "Treasury-Rebalancer/internal/errors"
	"Treasury-Rebalancer/internal/web3/ethereum"
)

// Registry hands out one chain client per network, dialing on first use.
type Registry struct {
	networks *config.Networks
	rpc      config.RPCConfig

	mu      sync.Mutex
	clients map[string]*ethereum.Client
}

// NewRegistry binds the network table to the configured RPC endpoints.
func NewRegistry(networks *config.Networks, rpc config.RPCConfig) (*Registry, error) {
	if networks == nil {
		return nil, errors.New("未提供网络表")
	}
	return &Registry{networks: networks, rpc: rpc, clients: make(map[string]*ethereum.Client)}, nil
}

// Client returns the client for network, dialing it if needed.
func (r *Registry) Client(ctx context.Context, network string) (*ethereum.Client, error) {
	if r == nil {
		return nil, errors.New("未初始化的链客户端注册表")
	}
	network = strings.ToLower(strings.TrimSpace(network))
	if _, err := r.networks.Get(network); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if client, ok := r.clients[network]; ok {
		return client, nil
	}
	endpoint := r.rpc.Endpoint(network)
	if endpoint == "" {
		return nil, xerrors.Newf(xerrors.CodeInitializationFailure, "网络 %s 未配置 RPC 地址", network)
	}
	client, err := ethereum.NewClient(ctx, ethereum.Config{Name: network, RPCURL: endpoint, Timeout: r.rpc.Timeout})
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "初始化链 "+network+" 失败")
	}
	r.clients[network] = client
	return client, nil
}

// Configured lists the networks that have an RPC endpoint.
func (r *Registry) Configured() []string {
	if r == nil {
		return nil
	}
	var names []string
	for _, name := range r.networks.Names() {
		if r.rpc.Endpoint(name) != "" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Close releases all clients managed by the registry.
func (r *Registry) Close() {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, client := range r.clients {
		if client != nil {
			client.Close()
		}
		delete(r.clients, name)
	}
}
