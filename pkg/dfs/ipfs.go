package dfs

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"io/ioutil"
	"time"

	shell "github.com/ipfs/go-ipfs-api"
	"go.uber.org/zap"

	"github.com/dfsbench/dfsbench/pkg/api"
	"github.com/dfsbench/dfsbench/pkg/logging"
)

// IPFSConfig is the [networks.ipfs] section of .env.toml.
type IPFSConfig struct {
	API     string        `mapstructure:"api"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// IPFS talks to a local IPFS node through its HTTP API.
type IPFS struct {
	sh  *shell.Shell
	log *zap.SugaredLogger

	id string
}

var _ Network = (*IPFS)(nil)

func NewIPFS(cfg IPFSConfig) *IPFS {
	sh := shell.NewShell(cfg.API)
	if cfg.Timeout > 0 {
		sh.SetTimeout(cfg.Timeout)
	}
	return &IPFS{sh: sh, log: logging.S().With("network", "ipfs")}
}

func (n *IPFS) Name() string { return "ipfs" }

func (n *IPFS) ID(ctx context.Context) (string, error) {
	if n.id != "" {
		return n.id, nil
	}
	out, err := n.sh.ID()
	if err != nil {
		return "", fmt.Errorf("failed to get ipfs node id: %w", err)
	}
	n.id = out.ID
	return n.id, nil
}

func (n *IPFS) Add(ctx context.Context, data []byte) (string, error) {
	start := time.Now()
	cid, err := n.sh.Add(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("ipfs add: %w", err)
	}
	n.log.Debugw("added", "cid", cid, "size", len(data), "took", time.Since(start))
	return cid, nil
}

func (n *IPFS) Get(ctx context.Context, id string) (api.Stat, error) {
	start := time.Now()
	resp, err := n.sh.Request("cat", id).Send(ctx)
	if err != nil {
		return api.Stat{}, fmt.Errorf("ipfs cat %s: %w", id, err)
	}
	defer resp.Close()
	if resp.Error != nil {
		return api.Stat{}, fmt.Errorf("ipfs cat %s: %w", id, resp.Error)
	}

	size, err := io.Copy(ioutil.Discard, resp.Output)
	if err != nil {
		return api.Stat{}, fmt.Errorf("ipfs cat %s: %w", id, err)
	}
	return api.Stat{
		ID:        id,
		Size:      uint64(size),
		Latency:   time.Since(start),
		Retrieved: time.Now(),
	}, nil
}

func (n *IPFS) Remove(ctx context.Context, id string) error {
	// fails when the content was cached but never pinned; the gc below removes
	// it either way.
	if err := n.sh.Unpin(id); err != nil {
		n.log.Debugw("unpin failed", "cid", id, "error", err)
	}
	return n.gc(ctx)
}

func (n *IPFS) Disconnect(ctx context.Context, peer string) error {
	infos, err := n.sh.SwarmPeers(ctx)
	if err != nil {
		return fmt.Errorf("ipfs swarm peers: %w", err)
	}
	for _, p := range infos.Peers {
		if p.Peer != peer {
			continue
		}
		if err := n.sh.Request("swarm/disconnect", p.Addr+"/p2p/"+p.Peer).Exec(ctx, nil); err != nil {
			return fmt.Errorf("ipfs swarm disconnect %s: %w", peer, err)
		}
		n.log.Infow("disconnected from peer", "peer", peer)
		return nil
	}
	n.log.Debugw("not connected to peer", "peer", peer)
	return nil
}

func (n *IPFS) PeerReachable(ctx context.Context, address string) (bool, error) {
	info, err := n.sh.FindPeer(address)
	if err != nil {
		n.log.Debugw("peer lookup failed", "peer", address, "error", err)
		return false, nil
	}
	return len(info.Addrs) > 0, nil
}

func (n *IPFS) Clear(ctx context.Context) error {
	pins, err := n.sh.Pins()
	if err != nil {
		return fmt.Errorf("ipfs pin ls: %w", err)
	}
	unpinned := 0
	for cid, info := range pins {
		// indirect pins go away with their recursive root.
		if info.Type != string(shell.RecursivePin) {
			continue
		}
		if err := n.sh.Unpin(cid); err != nil {
			return fmt.Errorf("ipfs pin rm %s: %w", cid, err)
		}
		unpinned++
	}
	if err := n.gc(ctx); err != nil {
		return err
	}
	n.log.Infow("cleared ipfs repo", "unpinned", unpinned)
	return nil
}

func (n *IPFS) gc(ctx context.Context) error {
	if err := n.sh.Request("repo/gc").Exec(ctx, nil); err != nil {
		return fmt.Errorf("ipfs repo gc: %w", err)
	}
	return nil
}
