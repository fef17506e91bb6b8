package dfs

import (
	"context"
	"fmt"
	"sort"

	"github.com/dfsbench/dfsbench/pkg/config"
)

// Registry holds the networks available to this process, by name.
type Registry struct {
	networks map[string]Network
}

func NewRegistry(networks ...Network) *Registry {
	r := &Registry{networks: make(map[string]Network, len(networks))}
	for _, n := range networks {
		r.networks[n.Name()] = n
	}
	return r
}

// FromConfig builds the named networks from their .env.toml sections.
func FromConfig(cfg *config.EnvConfig, names ...string) (*Registry, error) {
	r := NewRegistry()
	for _, name := range names {
		switch name {
		case "ipfs":
			var c IPFSConfig
			if err := cfg.Network(name, &c); err != nil {
				return nil, err
			}
			r.networks[name] = NewIPFS(c)
		case "swarm":
			var c SwarmConfig
			if err := cfg.Network(name, &c); err != nil {
				return nil, err
			}
			r.networks[name] = NewSwarm(c)
		default:
			return nil, fmt.Errorf("%w: %s", ErrUnknownNetwork, name)
		}
	}
	return r, nil
}

func (r *Registry) Get(name string) (Network, bool) {
	n, ok := r.networks[name]
	return n, ok
}

// Names returns the registered network names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.networks))
	for n := range r.networks {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// PeerReachable checks address from the local node of the named network.
func (r *Registry) PeerReachable(ctx context.Context, network, address string) (bool, error) {
	n, ok := r.networks[network]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownNetwork, network)
	}
	return n.PeerReachable(ctx, address)
}
