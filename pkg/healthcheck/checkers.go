package healthcheck

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/dfsbench/dfsbench/pkg/dfs"
)

const dialTimeout = 5 * time.Second

// DialableChecker returns a Checker, a method which when executed will tell us whether a
// port is dialable. A false return could mean the network is unreachable, or that the
// socket is closed.
func DialableChecker(address string) Checker {
	return func(ctx context.Context) (bool, string, error) {
		d := net.Dialer{Timeout: dialTimeout}
		conn, err := d.DialContext(ctx, "tcp", address)
		if err != nil {
			return false, fmt.Sprintf("%s not dialable.", address), nil
		}
		_ = conn.Close()
		return true, fmt.Sprintf("%s is dialable.", address), nil
	}
}

// DirExistsChecker returns a Checker, a method which when executed will check whether a
// directory exists. Aside from a missing directory, which DirExistsFixer handles, any
// file permission or I/O errors will be returned to the caller.
func DirExistsChecker(path string) Checker {
	return func(context.Context) (bool, string, error) {
		fi, err := os.Stat(path)
		if err != nil {
			if os.IsNotExist(err) {
				return false, "directory does not exist. can recreate.", nil
			}
			return false, "filesystem error. cannot recreate.", err
		}
		if fi.IsDir() {
			return true, "directory already exists.", nil
		}
		return false, "expected directory. found regular file. please fix manually.", fmt.Errorf("not a directory")
	}
}

// NodeChecker returns a Checker, a method which when executed will ask the local node of
// a storage network for its address.
func NodeChecker(n dfs.Network) Checker {
	return func(ctx context.Context) (bool, string, error) {
		ctx, cancel := context.WithTimeout(ctx, dialTimeout)
		defer cancel()

		id, err := n.ID(ctx)
		if err != nil {
			return false, fmt.Sprintf("%s node not responding: %s.", n.Name(), err), nil
		}
		return true, fmt.Sprintf("%s node is up: %s.", n.Name(), id), nil
	}
}
