package api

// Status is the snapshot served by the coordinator at /status.
type Status struct {
	Phase        string              `json:"phase"`
	Auto         bool                `json:"auto"`
	Connections  int                 `json:"connections,omitempty"`
	Experiment   *ExperimentStatus   `json:"experiment,omitempty"`
	Participants []ParticipantStatus `json:"participants"`
}

type ExperimentStatus struct {
	Descriptor  Descriptor `json:"descriptor"`
	Workers     []string   `json:"workers"`
	TotalRounds int        `json:"total_rounds"`
	Round       int        `json:"round"`
	Leader      string     `json:"leader,omitempty"`
	Uploaded    bool       `json:"uploaded"`
	Finished    int        `json:"finished"`
	Downloaders int        `json:"downloaders"`
}

type ParticipantStatus struct {
	Identity      Identity `json:"identity"`
	Connected     bool     `json:"connected"`
	Participating bool     `json:"participating"`
	Ready         bool     `json:"ready"`
	LastEvent     string   `json:"last_event,omitempty"`
	LastStatus    string   `json:"last_status,omitempty"`
	LastRound     *int     `json:"last_round,omitempty"`
}
