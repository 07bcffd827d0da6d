package api

import "time"

// v0 contains the public types recorded for every deployment run.

type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
	// RunRejected means the operator declined the confirmation prompt.
	RunRejected RunStatus = "rejected"
)

// Done reports whether the status is terminal.
func (s RunStatus) Done() bool {
	return s == RunSucceeded || s == RunFailed || s == RunRejected
}

type RunRecord struct {
	ID         string    `json:"id" yaml:"id"`
	StartedAt  time.Time `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitempty" yaml:"finished_at,omitempty"`
	Status     RunStatus `json:"status" yaml:"status"`
	Hosts      int       `json:"hosts" yaml:"hosts"`
	Install    bool      `json:"install" yaml:"install"`
	ForceLoad  bool      `json:"force_load" yaml:"force_load"`
	Error      string    `json:"error,omitempty" yaml:"error,omitempty"`
}

// StepRecord is one delegated step of a run.
type StepRecord struct {
	Seq         int           `json:"seq" yaml:"seq"`
	Name        string        `json:"name" yaml:"name"`
	Duration    time.Duration `json:"duration" yaml:"duration"`
	Status      RunStatus     `json:"status" yaml:"status"`
	HostsDone   int           `json:"hosts_done" yaml:"hosts_done"`
	HostsFailed int           `json:"hosts_failed" yaml:"hosts_failed"`
	Error       string        `json:"error,omitempty" yaml:"error,omitempty"`
}
