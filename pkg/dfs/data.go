package dfs

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
)

// DataOptions describes the series of payloads uploaded by a leader: sizes
// start at Start and grow by Step (multiplied or added, per Op) up to Max.
type DataOptions struct {
	Start string
	Max   string
	Step  uint64
	Op    string
}

// Sizes expands the options into the list of payload sizes in bytes.
func (o DataOptions) Sizes() ([]uint64, error) {
	start, err := humanize.ParseBytes(o.Start)
	if err != nil {
		return nil, fmt.Errorf("invalid start size %q: %w", o.Start, err)
	}
	max, err := humanize.ParseBytes(o.Max)
	if err != nil {
		return nil, fmt.Errorf("invalid max size %q: %w", o.Max, err)
	}
	if start == 0 {
		return nil, fmt.Errorf("start size must be positive")
	}
	if start > max {
		return nil, fmt.Errorf("start size %s exceeds max size %s", humanize.IBytes(start), humanize.IBytes(max))
	}

	var next func(uint64) uint64
	switch o.Op {
	case "*", "":
		if o.Step < 2 {
			return nil, fmt.Errorf("step must be at least 2 when multiplying, got %d", o.Step)
		}
		next = func(s uint64) uint64 { return s * o.Step }
	case "+":
		if o.Step < 1 {
			return nil, fmt.Errorf("step must be positive when adding")
		}
		next = func(s uint64) uint64 { return s + o.Step }
	default:
		return nil, fmt.Errorf("unsupported step operator %q", o.Op)
	}

	var sizes []uint64
	for s := start; s <= max; s = next(s) {
		sizes = append(sizes, s)
	}
	return sizes, nil
}

const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

var (
	rndMu sync.Mutex
	rnd   = rand.New(rand.NewSource(time.Now().UnixNano()))
)

// Payload returns size random alphanumeric bytes. Every payload is distinct,
// so nodes never hold it before the upload.
func Payload(size uint64) []byte {
	b := make([]byte, size)

	rndMu.Lock()
	defer rndMu.Unlock()
	for i := range b {
		b[i] = alphabet[rnd.Intn(len(alphabet))]
	}
	return b
}
