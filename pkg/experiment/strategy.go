// Package experiment defines the experiments workers run against a storage
// network, and the upload/download methods each one uses.
package experiment

import (
	"fmt"
)

// Strategy selects how content is uploaded and downloaded during a round.
type Strategy int

const (
	// Normal uploads a series of payloads; downloaders fetch them and keep them.
	Normal Strategy = iota
	// Disconnect is Normal, but downloaders disconnect from the uploader once
	// they have the content.
	Disconnect
	// DoNotCache is Normal, but downloaders drop the content from local
	// storage after fetching it.
	DoNotCache
	// DoNotCacheDisconnect combines DoNotCache and Disconnect.
	DoNotCacheDisconnect
)

var names = map[Strategy]string{
	Normal:               "normal",
	Disconnect:           "disconnect",
	DoNotCache:           "do-not-cache",
	DoNotCacheDisconnect: "do-not-cache-disconnect",
}

func (s Strategy) String() string {
	if n, ok := names[s]; ok {
		return n
	}
	return fmt.Sprintf("Strategy(%d)", int(s))
}

// ParseStrategy returns the strategy with the given experiment name.
func ParseStrategy(name string) (Strategy, error) {
	for s, n := range names {
		if n == name {
			return s, nil
		}
	}
	return Normal, fmt.Errorf("unknown experiment: %s", name)
}

func (s Strategy) disconnects() bool {
	return s == Disconnect || s == DoNotCacheDisconnect
}

func (s Strategy) evicts() bool {
	return s == DoNotCache || s == DoNotCacheDisconnect
}
