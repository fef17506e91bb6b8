package dfs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dfsbench/dfsbench/pkg/api"
	"github.com/dfsbench/dfsbench/pkg/logging"
)

const (
	postageAmount = "10000000"
	postageDepth  = 20
)

// SwarmConfig is the [networks.swarm] section of .env.toml.
type SwarmConfig struct {
	API      string        `mapstructure:"api"`
	DebugAPI string        `mapstructure:"debug_api"`
	BatchID  string        `mapstructure:"batch_id"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// Swarm talks to a local Bee node through its HTTP and debug APIs.
type Swarm struct {
	cfg    SwarmConfig
	client *http.Client
	log    *zap.SugaredLogger

	batch string
	id    string
}

var _ Network = (*Swarm)(nil)

func NewSwarm(cfg SwarmConfig) *Swarm {
	cfg.API = strings.TrimSuffix(withScheme(cfg.API), "/")
	cfg.DebugAPI = strings.TrimSuffix(withScheme(cfg.DebugAPI), "/")
	return &Swarm{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		log:    logging.S().With("network", "swarm"),
		batch:  cfg.BatchID,
	}
}

func (n *Swarm) Name() string { return "swarm" }

func (n *Swarm) ID(ctx context.Context) (string, error) {
	if n.id != "" {
		return n.id, nil
	}
	var out struct {
		Overlay string `json:"overlay"`
	}
	if err := n.do(ctx, http.MethodGet, n.cfg.DebugAPI+"/addresses", nil, nil, &out); err != nil {
		return "", fmt.Errorf("failed to get bee overlay address: %w", err)
	}
	n.id = out.Overlay
	return n.id, nil
}

func (n *Swarm) Add(ctx context.Context, data []byte) (string, error) {
	batch, err := n.postageBatch(ctx)
	if err != nil {
		return "", err
	}

	hdr := http.Header{}
	hdr.Set("Content-Type", "application/octet-stream")
	hdr.Set("Swarm-Postage-Batch-Id", batch)
	hdr.Set("Swarm-Pin", "true")
	hdr.Set("Swarm-Deferred-Upload", "true")

	var out struct {
		Reference string `json:"reference"`
	}
	if err := n.do(ctx, http.MethodPost, n.cfg.API+"/bytes", bytes.NewReader(data), hdr, &out); err != nil {
		return "", fmt.Errorf("swarm upload: %w", err)
	}
	return out.Reference, nil
}

func (n *Swarm) Get(ctx context.Context, id string) (api.Stat, error) {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.cfg.API+"/bytes/"+id, nil)
	if err != nil {
		return api.Stat{}, err
	}
	resp, err := n.client.Do(req)
	if err != nil {
		return api.Stat{}, fmt.Errorf("swarm download %s: %w", id, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return api.Stat{}, fmt.Errorf("swarm download %s: %w", id, statusError(resp))
	}
	size, err := io.Copy(ioutil.Discard, resp.Body)
	if err != nil {
		return api.Stat{}, fmt.Errorf("swarm download %s: %w", id, err)
	}
	return api.Stat{
		ID:        id,
		Size:      uint64(size),
		Latency:   time.Since(start),
		Retrieved: time.Now(),
	}, nil
}

// Remove unpins the content. Bee keeps no separate cache that can be dropped
// on demand; unpinned chunks are eventually evicted by the node's reserve.
func (n *Swarm) Remove(ctx context.Context, id string) error {
	err := n.do(ctx, http.MethodDelete, n.cfg.API+"/pins/"+id, nil, nil, nil)
	if err != nil {
		n.log.Debugw("unpin failed", "reference", id, "error", err)
	}
	return nil
}

func (n *Swarm) Disconnect(ctx context.Context, peer string) error {
	if err := n.do(ctx, http.MethodDelete, n.cfg.DebugAPI+"/peers/"+peer, nil, nil, nil); err != nil {
		return fmt.Errorf("swarm disconnect %s: %w", peer, err)
	}
	n.log.Infow("disconnected from peer", "peer", peer)
	return nil
}

func (n *Swarm) PeerReachable(ctx context.Context, address string) (bool, error) {
	err := n.do(ctx, http.MethodPost, n.cfg.DebugAPI+"/pingpong/"+address, nil, nil, nil)
	if err != nil {
		n.log.Debugw("pingpong failed", "peer", address, "error", err)
		return false, nil
	}
	return true, nil
}

func (n *Swarm) Clear(ctx context.Context) error {
	var out struct {
		References []string `json:"references"`
	}
	if err := n.do(ctx, http.MethodGet, n.cfg.API+"/pins", nil, nil, &out); err != nil {
		return fmt.Errorf("swarm list pins: %w", err)
	}
	for _, ref := range out.References {
		if err := n.Remove(ctx, ref); err != nil {
			return err
		}
	}
	return nil
}

// postageBatch returns the configured batch, else the first usable batch of
// the node, else a newly bought one.
func (n *Swarm) postageBatch(ctx context.Context) (string, error) {
	if n.batch != "" {
		return n.batch, nil
	}

	var stamps struct {
		Stamps []struct {
			BatchID  string `json:"batchID"`
			Usable   bool   `json:"usable"`
			BatchTTL int64  `json:"batchTTL"`
		} `json:"stamps"`
	}
	if err := n.do(ctx, http.MethodGet, n.cfg.DebugAPI+"/stamps", nil, nil, &stamps); err != nil {
		return "", fmt.Errorf("failed to list postage batches: %w", err)
	}
	for _, s := range stamps.Stamps {
		if s.Usable && s.BatchTTL >= 0 {
			n.batch = s.BatchID
			n.log.Infow("using postage batch", "batch", n.batch)
			return n.batch, nil
		}
	}

	var created struct {
		BatchID string `json:"batchID"`
	}
	url := fmt.Sprintf("%s/stamps/%s/%d", n.cfg.DebugAPI, postageAmount, postageDepth)
	if err := n.do(ctx, http.MethodPost, url, nil, nil, &created); err != nil {
		return "", fmt.Errorf("failed to buy a postage batch: %w", err)
	}
	n.batch = created.BatchID
	n.log.Infow("bought postage batch", "batch", n.batch)
	return n.batch, nil
}

func (n *Swarm) do(ctx context.Context, method, url string, body io.Reader, hdr http.Header, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return err
	}
	for k, v := range hdr {
		req.Header[k] = v
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func statusError(resp *http.Response) error {
	var e struct {
		Message string `json:"message"`
	}
	b, _ := ioutil.ReadAll(io.LimitReader(resp.Body, 4096))
	if json.Unmarshal(b, &e) == nil && e.Message != "" {
		return fmt.Errorf("%s: %s", resp.Status, e.Message)
	}
	return fmt.Errorf("%s", resp.Status)
}

func withScheme(addr string) string {
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return addr
	}
	return "http://" + addr
}
