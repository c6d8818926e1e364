package jobs

import (
	"fmt"
	"strings"
	"time"

	"voxelpipe/internal/object"
)

// Status represents the lifecycle of a job.
type Status string

const (
	StatusStub      Status = "stub"
	StatusRequested Status = "requested"
	StatusStarted   Status = "started"
	StatusFinished  Status = "finished"
	StatusFailed    Status = "failed"
	StatusKilled    Status = "killed"
)

var allStatuses = []Status{
	StatusStub,
	StatusRequested,
	StatusStarted,
	StatusFinished,
	StatusFailed,
	StatusKilled,
}

// AllStatuses returns every job status in lifecycle order.
func AllStatuses() []Status {
	return append([]Status(nil), allStatuses...)
}

// ParseStatus converts a user supplied name into a Status.
func ParseStatus(value string) (Status, error) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	for _, s := range allStatuses {
		if s == normalized {
			return s, nil
		}
	}
	return "", fmt.Errorf("unknown job status %q", value)
}

// Terminal reports whether no further status change is expected.
func (s Status) Terminal() bool {
	switch s {
	case StatusFinished, StatusFailed, StatusKilled:
		return true
	default:
		return false
	}
}

// EventType classifies job events.
type EventType string

const (
	EventStarted     EventType = "started"
	EventInfo        EventType = "info"
	EventFinished    EventType = "finished"
	EventFailed      EventType = "failed"
	EventKilled      EventType = "killed"
	EventError       EventType = "error"
	EventException   EventType = "exception"
	EventGraphResult EventType = "graph_result"
)

// Job is one durable, trackable pipeline run.
type Job struct {
	UUID       string         `json:"uuid"`
	Name       string         `json:"name"`
	Kwargs     map[string]any `json:"kwargs"`
	Status     Status         `json:"status"`
	SourceUUID string         `json:"source_uuid,omitempty"`
	PID        int            `json:"pid,omitempty"`
	Progress   map[string]any `json:"progress,omitempty"`
	// SourceObjectCounts maps source module uuids to their item counts.
	SourceObjectCounts map[string]int `json:"source_object_count,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

// Event is one entry of a job's append-only log.
type Event struct {
	UUID       string         `json:"uuid"`
	JobUUID    string         `json:"job_uuid"`
	SourceUUID string         `json:"source_uuid,omitempty"`
	Type       EventType      `json:"type"`
	Text       string         `json:"text"`
	Data       map[string]any `json:"data,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// ObjectRecord is a processed or skipped object reported by a job.
type ObjectRecord struct {
	UUID           string            `json:"uuid"`
	JobUUID        string            `json:"job_uuid"`
	SourceUUID     string            `json:"source_uuid,omitempty"`
	DataType       object.DataType   `json:"data_type"`
	SourceFilename string            `json:"source_filename"`
	SourceModule   string            `json:"source_module"`
	TargetFilename string            `json:"target_filename"`
	TargetModule   string            `json:"target_module"`
	Skipped        bool              `json:"skipped"`
	Descriptor     object.Descriptor `json:"data"`
	CreatedAt      time.Time         `json:"created_at"`
}

// ObjectFilter narrows Objects. Zero fields match everything.
type ObjectFilter struct {
	SourceFilename string
	TargetFilename string
	Skipped        *bool
}

// ObjectCounts counts distinct filenames per module uuid.
type ObjectCounts struct {
	Sources map[string]int `json:"sources"`
	Targets map[string]int `json:"targets"`
}

// Identifier prefixes.
const (
	JobPrefix    = "p-"
	EventPrefix  = "e-"
	ObjectPrefix = "o-"
)
