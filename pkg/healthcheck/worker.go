package healthcheck

import (
	"net/url"
	"strings"

	"github.com/dfsbench/dfsbench/pkg/config"
	"github.com/dfsbench/dfsbench/pkg/dfs"
)

// Worker enlists the preflight checks of a worker host: its directories
// exist, the coordinator endpoint accepts connections and every selected
// storage node answers.
func Worker(dirs config.Directories, endpoint string, networks *dfs.Registry) *Helper {
	h := &Helper{}
	h.Enlist("home-dir", DirExistsChecker(dirs.Home()), DirExistsFixer(dirs.Home()))
	h.Enlist("state-dir", DirExistsChecker(dirs.State()), DirExistsFixer(dirs.State()))
	h.Enlist("coordinator", DialableChecker(hostPort(endpoint)), nil)
	for _, name := range networks.Names() {
		n, _ := networks.Get(name)
		h.Enlist(name+"-node", NodeChecker(n), nil)
	}
	return h
}

// hostPort extracts host:port from a coordinator endpoint, which may be a
// bare address or a URL.
func hostPort(endpoint string) string {
	if !strings.Contains(endpoint, "://") {
		return strings.TrimSuffix(endpoint, "/")
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return endpoint
	}
	return u.Host
}
