package config

import "path/filepath"

type Directories struct {
	home string
}

func NewDirectories(home string) Directories {
	return Directories{home}
}

func (d Directories) Home() string {
	return d.home
}

func (d Directories) State() string {
	return filepath.Join(d.home, "state")
}

func (d Directories) Results() string {
	return filepath.Join(d.home, "results")
}

// WorkerIDFile holds the generated identity of a worker installation.
func (d Directories) WorkerIDFile() string {
	return filepath.Join(d.home, "worker.id")
}
