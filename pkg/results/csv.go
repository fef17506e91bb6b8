package results

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/dfsbench/dfsbench/pkg/api"
)

var csvHeader = []string{
	"date", "experiment", "round", "leader", "worker", "user", "id", "size", "latency_ms",
}

// CSV appends records to one file per network and worker:
// <dir>/<network>/retrieve/<worker id>.csv.
type CSV struct {
	dir string
	mu  sync.Mutex
}

var _ Sink = (*CSV)(nil)

func NewCSV(dir string) *CSV {
	return &CSV{dir: dir}
}

// Path returns the file holding the records of worker on network.
func (c *CSV) Path(network string, worker api.Identity) string {
	if network == "" {
		network = "unknown"
	}
	return filepath.Join(c.dir, network, "retrieve", worker.ID+".csv")
}

func (c *CSV) WriteRoundResult(_ context.Context, worker api.Identity, rec Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	path := c.Path(rec.Network, worker)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create results directory: %w", err)
	}

	_, err := os.Stat(path)
	fresh := os.IsNotExist(err)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open results file: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if fresh {
		_ = w.Write(csvHeader)
	}
	now := time.Now().UTC().Format(time.RFC3339)
	for _, s := range rec.Download.Results {
		_ = w.Write([]string{
			now,
			rec.Experiment,
			strconv.Itoa(rec.Round),
			rec.Leader.ID,
			worker.ID,
			worker.User,
			s.ID,
			strconv.FormatUint(s.Size, 10),
			strconv.FormatFloat(float64(s.Latency)/float64(time.Millisecond), 'f', 4, 64),
		})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("failed to write results: %w", err)
	}
	return f.Sync()
}

func (c *CSV) Close() error { return nil }
