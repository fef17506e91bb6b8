package experiment

import (
	"fmt"

	"github.com/dfsbench/dfsbench/pkg/api"
)

// Info describes an experiment of the catalog.
type Info struct {
	Strategy    Strategy
	Description string
	Networks    []string
}

func (i Info) Name() string { return i.Strategy.String() }

// Supports returns true if the experiment can run on network.
func (i Info) Supports(network string) bool {
	for _, n := range i.Networks {
		if n == network {
			return true
		}
	}
	return false
}

// Descriptor builds the descriptor announced to the coordinator.
func (i Info) Descriptor(network, nodeAddress string) api.Descriptor {
	return api.Descriptor{
		Name:        i.Name(),
		Description: i.Description,
		Network:     network,
		NodeAddress: nodeAddress,
	}
}

// Catalog lists every experiment, in execution order.
var Catalog = []Info{
	{
		Strategy: Normal,
		Description: "For each round one node uploads a series of content and the rest of the nodes download it. " +
			"Since the content is replicated amongst the nodes that download it, every node except the first " +
			"one to download it may get the content from a node other than the uploader (the responsible " +
			"nodes in the case of Swarm).",
		Networks: []string{"ipfs", "swarm"},
	},
	{
		Strategy: Disconnect,
		Description: "For each round one node uploads a series of content and the rest of the nodes download it. " +
			"Since the connection with the uploader is not terminated instantly, each downloader disconnects " +
			"from the uploader once it has the content.",
		Networks: []string{"ipfs", "swarm"},
	},
	{
		Strategy: DoNotCacheDisconnect,
		Description: "For each round one node uploads a series of content and the rest of the nodes download it. " +
			"Each downloader removes the content from local storage after getting it, and then disconnects " +
			"from the uploader. On IPFS this ensures the content is always retrieved from the uploader; on " +
			"Swarm it ensures nodes that already downloaded the content cannot serve it from cache.",
		Networks: []string{"ipfs", "swarm"},
	},
	{
		Strategy: DoNotCache,
		Description: "For each round one node uploads a series of content and the rest of the nodes download it. " +
			"Each downloader removes the content from local storage after getting it. On IPFS this ensures " +
			"the content is always retrieved from the uploader; on Swarm it ensures nodes that already " +
			"downloaded the content cannot serve it from cache.",
		Networks: []string{"ipfs", "swarm"},
	},
}

// Select returns the catalog entries supporting network, restricted to the
// given names when any are given. Unknown names are an error.
func Select(network string, selected ...string) ([]Info, error) {
	want := make(map[string]bool, len(selected))
	for _, s := range selected {
		if _, err := ParseStrategy(s); err != nil {
			return nil, err
		}
		want[s] = true
	}

	var out []Info
	for _, i := range Catalog {
		if !i.Supports(network) {
			continue
		}
		if len(want) > 0 && !want[i.Name()] {
			continue
		}
		out = append(out, i)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no experiments selected for network %s", network)
	}
	return out, nil
}
