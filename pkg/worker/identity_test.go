package worker

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolveIdentity(t *testing.T) {
	idFile := filepath.Join(t.TempDir(), "worker.id")

	t.Run("flag wins", func(t *testing.T) {
		t.Setenv(EnvWorkerID, "from-env")
		id, err := ResolveIdentity("from-flag", "alice", idFile)
		require.NoError(t, err)
		require.Equal(t, "from-flag", id.ID)
		require.Equal(t, "alice", id.User)
	})

	t.Run("env before file", func(t *testing.T) {
		t.Setenv(EnvWorkerID, "from-env")
		id, err := ResolveIdentity("", "alice", idFile)
		require.NoError(t, err)
		require.Equal(t, "from-env", id.ID)
	})

	t.Run("fresh id is persisted", func(t *testing.T) {
		t.Setenv(EnvWorkerID, "")
		first, err := ResolveIdentity("", "alice", idFile)
		require.NoError(t, err)
		require.NotEmpty(t, first.ID)
		require.Equal(t, first.ID, os.Getenv(EnvWorkerID))

		b, err := ioutil.ReadFile(idFile)
		require.NoError(t, err)
		require.Equal(t, first.ID, strings.TrimSpace(string(b)))

		os.Unsetenv(EnvWorkerID)
		second, err := ResolveIdentity("", "alice", idFile)
		require.NoError(t, err)
		require.Equal(t, first.ID, second.ID)
	})
}
