package worker

import (
	"fmt"
	"io/ioutil"
	"os"
	"os/user"
	"path/filepath"
	"strings"

	"github.com/rs/xid"

	"github.com/dfsbench/dfsbench/pkg/api"
)

// EnvWorkerID carries the worker id to child processes and restarts.
const EnvWorkerID = "DFSBENCH_WORKER_ID"

// ResolveIdentity returns the stable identity of this worker. The id is, in
// order: id, the EnvWorkerID variable, the content of idFile, or a fresh id.
// A fresh id is written to idFile and the environment, so a restarted worker
// presents the same one.
func ResolveIdentity(id, name, idFile string) (api.Identity, error) {
	if name == "" {
		name = defaultUser()
	}

	if id == "" {
		id = os.Getenv(EnvWorkerID)
	}
	if id == "" && idFile != "" {
		b, err := ioutil.ReadFile(idFile)
		switch {
		case err == nil:
			id = strings.TrimSpace(string(b))
		case !os.IsNotExist(err):
			return api.Identity{}, fmt.Errorf("failed to read worker id: %w", err)
		}
	}
	if id == "" {
		id = xid.New().String()
		if idFile != "" {
			if err := os.MkdirAll(filepath.Dir(idFile), 0o755); err != nil {
				return api.Identity{}, err
			}
			if err := ioutil.WriteFile(idFile, []byte(id+"\n"), 0o644); err != nil {
				return api.Identity{}, fmt.Errorf("failed to persist worker id: %w", err)
			}
		}
	}
	_ = os.Setenv(EnvWorkerID, id)

	return api.Identity{ID: id, User: name}, nil
}

func defaultUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	if h, err := os.Hostname(); err == nil {
		return h
	}
	return "worker"
}
