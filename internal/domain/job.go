package domain

import (
	"strings"
	"time"
)

// JobStatus enumerates the provider job lifecycle states.
type JobStatus string

const (
	JobStatusStarting   JobStatus = "starting"
	JobStatusProcessing JobStatus = "processing"
	JobStatusSucceeded  JobStatus = "succeeded"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCanceled   JobStatus = "canceled"
)

// ParseJobStatus maps a provider status string onto a JobStatus. Unknown
// values are reported as processing so they keep being polled.
func ParseJobStatus(raw string) JobStatus {
	switch s := JobStatus(strings.ToLower(strings.TrimSpace(raw))); s {
	case JobStatusStarting, JobStatusProcessing, JobStatusSucceeded, JobStatusFailed, JobStatusCanceled:
		return s
	case "cancelled":
		return JobStatusCanceled
	case "queued", "pending", "":
		return JobStatusStarting
	default:
		return JobStatusProcessing
	}
}

// Terminal reports whether no further transition can occur.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusSucceeded, JobStatusFailed, JobStatusCanceled:
		return true
	default:
		return false
	}
}

// Job is one external provider invocation.
type Job struct {
	ProviderJobID string
	Status        JobStatus
	OutputURL     string
	ErrorMessage  string
	Attempts      int
	RetriesUsed   int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// JobHandle is what the poller needs to check a pending job.
type JobHandle struct {
	ID        string
	StatusURL string
}

// SubmissionResult is the outcome of a submit or status call: an immediate
// success with an output, a terminal failure with a classification, or a
// pending job to be polled.
type SubmissionResult struct {
	Job     Job
	Handle  JobHandle
	Failure *Classification
}

// Pending reports whether the job still needs polling.
func (r SubmissionResult) Pending() bool {
	return r.Failure == nil && !r.Job.Status.Terminal()
}

// Succeeded reports whether the job finished with an output.
func (r SubmissionResult) Succeeded() bool {
	return r.Failure == nil && r.Job.Status == JobStatusSucceeded
}
