package experiment

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/dfsbench/dfsbench/pkg/api"
	"github.com/dfsbench/dfsbench/pkg/dfs"
	"github.com/dfsbench/dfsbench/pkg/logging"
	"github.com/dfsbench/dfsbench/pkg/retry"
)

// Methods are the two actions a worker performs for the coordinator.
type Methods interface {
	// Upload stores a series of payloads and returns their identifiers.
	Upload(ctx context.Context) (api.Upload, error)
	// Download retrieves everything in u and reports one measurement per
	// identifier.
	Download(ctx context.Context, u api.Upload) (api.Download, error)
}

// Session holds everything the methods of an experiment need: the network
// to act on, the payloads to upload, and the retry policy for every call
// into the network.
type Session struct {
	Network dfs.Network
	Data    dfs.DataOptions
	Retry   retry.Policy
	Log     *zap.SugaredLogger
}

// Methods returns the upload and download methods of strategy s.
func (s *Session) Methods(st Strategy) Methods {
	log := s.Log
	if log == nil {
		log = logging.S()
	}
	return &methods{
		Session:  s,
		strategy: st,
		log:      log.With("network", s.Network.Name(), "experiment", st.String()),
	}
}

type methods struct {
	*Session
	strategy Strategy
	log      *zap.SugaredLogger
}

func (m *methods) Upload(ctx context.Context) (api.Upload, error) {
	sizes, err := m.Data.Sizes()
	if err != nil {
		return api.Upload{}, err
	}

	var u api.Upload
	for _, size := range sizes {
		payload := dfs.Payload(size)

		var id string
		err := m.Retry.Do(ctx, "add", func(ctx context.Context) (err error) {
			id, err = m.Network.Add(ctx, payload)
			return err
		})
		switch {
		case errors.Is(err, retry.ErrSkipped):
			m.log.Warnw("skipping payload", "size", size)
			continue
		case err != nil:
			return api.Upload{}, err
		}
		u.IDs = append(u.IDs, id)
	}

	if m.strategy.disconnects() {
		if u.From, err = m.Network.ID(ctx); err != nil {
			return api.Upload{}, err
		}
	}

	m.log.Infow("uploaded", "count", len(u.IDs))
	return u, nil
}

func (m *methods) Download(ctx context.Context, u api.Upload) (api.Download, error) {
	d := api.Download{Results: make([]api.Stat, 0, len(u.IDs))}
	for _, id := range u.IDs {
		var stat api.Stat
		err := m.Retry.Do(ctx, "get", func(ctx context.Context) (err error) {
			stat, err = m.Network.Get(ctx, id)
			return err
		})
		switch {
		case errors.Is(err, retry.ErrSkipped):
			m.log.Warnw("skipping identifier", "id", id)
			continue
		case err != nil:
			return api.Download{}, err
		}
		d.Results = append(d.Results, stat)

		if m.strategy.evicts() {
			err := m.Retry.Do(ctx, "remove", func(ctx context.Context) error {
				return m.Network.Remove(ctx, id)
			})
			if err != nil && !errors.Is(err, retry.ErrSkipped) {
				return api.Download{}, err
			}
		}
	}

	if m.strategy.disconnects() {
		if u.From == "" {
			return api.Download{}, fmt.Errorf("%s: upload does not name its uploader", m.strategy)
		}
		// the content is already measured; a failed disconnect only affects
		// the next downloads.
		err := m.Retry.Do(ctx, "disconnect", func(ctx context.Context) error {
			return m.Network.Disconnect(ctx, u.From)
		})
		if err != nil {
			m.log.Warnw("could not disconnect from uploader", "peer", u.From, "error", err)
		}
	}

	m.log.Infow("downloaded", "count", len(d.Results))
	return d, nil
}
