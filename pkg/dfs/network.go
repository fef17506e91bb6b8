// Package dfs implements the storage networks experiments run against.
package dfs

import (
	"context"
	"errors"

	"github.com/dfsbench/dfsbench/pkg/api"
)

var ErrUnknownNetwork = errors.New("unknown network")

// Network is a decentralised file system reachable through a local node.
type Network interface {
	// Name is the identifier used in experiment descriptors ("ipfs", "swarm").
	Name() string

	// ID returns the address other nodes know the local node by.
	ID(ctx context.Context) (string, error)

	// Add stores data and returns its content identifier.
	Add(ctx context.Context, data []byte) (string, error)

	// Get retrieves the content identified by id and measures the retrieval.
	Get(ctx context.Context, id string) (api.Stat, error)

	// Remove drops id from the local node's storage, so the next Get has to
	// fetch it from the network again.
	Remove(ctx context.Context, id string) error

	// Disconnect closes the connection to the given peer, if any.
	Disconnect(ctx context.Context, peer string) error

	// PeerReachable checks whether the local node can reach address.
	PeerReachable(ctx context.Context, address string) (bool, error)

	// Clear drops everything the local node stores.
	Clear(ctx context.Context) error
}
