package ipc

import (
	"voxelpipe/internal/jobs"
	"voxelpipe/internal/module"
)

// ServiceName is the RPC service name methods are registered under.
const ServiceName = "Voxelpipe"

// StatusRequest fetches server status.
type StatusRequest struct{}

// StatusResponse describes the serving process.
type StatusResponse struct {
	PID          int    `json:"pid"`
	DatabasePath string `json:"database_path"`
	Scheduler    bool   `json:"scheduler"`
	ActiveJob    string `json:"active_job,omitempty"`
}

// RequestJobRequest records a new job. Held jobs are stored as stubs and
// wait for Release before the scheduler picks them up.
type RequestJobRequest struct {
	Name       string         `json:"name"`
	Kwargs     map[string]any `json:"kwargs"`
	SourceUUID string         `json:"source_uuid,omitempty"`
	Hold       bool           `json:"hold,omitempty"`
}

// RequestJobResponse returns the requested job.
type RequestJobResponse struct {
	Job jobs.Job `json:"job"`
}

// ListRequest filters jobs by status. Empty lists every job.
type ListRequest struct {
	Statuses []string `json:"statuses"`
}

// ListResponse contains jobs in creation order.
type ListResponse struct {
	Jobs []jobs.Job `json:"jobs"`
}

// ShowRequest fetches one job.
type ShowRequest struct {
	UUID string `json:"uuid"`
}

// ShowResponse contains a job with its events and object counts.
type ShowResponse struct {
	Job    jobs.Job          `json:"job"`
	Events []jobs.Event      `json:"events"`
	Counts jobs.ObjectCounts `json:"counts"`
}

// KillRequest asks for a job to be terminated.
type KillRequest struct {
	UUID string `json:"uuid"`
}

// Kill methods reported in KillResponse.
const (
	KillDequeued  = "dequeued"
	KillScheduler = "scheduler"
	KillSignal    = "signal"
)

// KillResponse reports how a kill was carried out.
type KillResponse struct {
	Killed  bool   `json:"killed"`
	Method  string `json:"method,omitempty"`
	Message string `json:"message"`
}

// ReleaseRequest queues a held job.
type ReleaseRequest struct {
	UUID string `json:"uuid"`
}

// ReleaseResponse returns the queued job.
type ReleaseResponse struct {
	Job jobs.Job `json:"job"`
}

// DeleteRequest removes a job that is held or finished, with its events and
// objects.
type DeleteRequest struct {
	UUID string `json:"uuid"`
}

// DeleteResponse confirms a deletion.
type DeleteResponse struct {
	Deleted bool `json:"deleted"`
}

// ModulesRequest lists registered modules, optionally limited to a group.
type ModulesRequest struct {
	Group string `json:"group"`
}

// ModulesResponse contains module descriptors.
type ModulesResponse struct {
	Modules []module.Descriptor `json:"modules"`
}

// ObjectsRequest lists the objects a job reported.
type ObjectsRequest struct {
	UUID           string `json:"uuid"`
	SourceFilename string `json:"source_filename,omitempty"`
	TargetFilename string `json:"target_filename,omitempty"`
	Skipped        *bool  `json:"skipped,omitempty"`
	// CountsOnly omits the object records.
	CountsOnly bool `json:"counts_only,omitempty"`
}

// ObjectsResponse contains object records and per-module counts.
type ObjectsResponse struct {
	Counts  jobs.ObjectCounts   `json:"counts"`
	Objects []jobs.ObjectRecord `json:"objects,omitempty"`
}
