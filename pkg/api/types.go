package api

import (
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Identity identifies a participant across reconnections. ID is stable for
// the lifetime of a worker installation; User is a display name.
type Identity struct {
	ID   string `json:"id" validate:"required"`
	User string `json:"user"`
}

func (i Identity) String() string {
	if i.User == "" {
		return i.ID
	}
	return i.User + "/" + i.ID
}

// Descriptor describes an experiment. Workers announce it with `running` and
// `start`; the coordinator freezes the one received with `start`.
type Descriptor struct {
	Name        string `json:"name" validate:"required"`
	Description string `json:"description,omitempty"`
	Network     string `json:"network,omitempty"`
	NodeAddress string `json:"nodeAddress,omitempty"`
}

// Validate checks the descriptor is usable.
func (d Descriptor) Validate() error {
	return validate.Struct(d)
}

// Upload is the outcome of an upload. IDs are opaque content identifiers;
// From is the node id of the uploader, set by strategies that need it.
type Upload struct {
	IDs  []string `json:"ids"`
	From string   `json:"from,omitempty"`
}

// Stat is a single retrieval measurement.
type Stat struct {
	ID        string        `json:"id"`
	Size      uint64        `json:"size"`
	Latency   time.Duration `json:"latency"`
	Retrieved time.Time     `json:"retrieved"`
}

// Download is the outcome of a download.
type Download struct {
	Results []Stat `json:"results"`
}
