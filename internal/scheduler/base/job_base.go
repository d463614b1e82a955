// Package base provides the job contract and run bookkeeping shared by scheduler jobs.
package base

import (
	"context"
	"sync"
	"time"
)

// Job is a unit of background work run by the scheduler
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// JobStatus is the outcome of the most recent run of a job
type JobStatus struct {
	LastStarted  time.Time     `json:"last_started,omitempty"`
	LastDuration time.Duration `json:"last_duration_ns"`
	LastError    string        `json:"last_error,omitempty"`
	Runs         int64         `json:"runs"`
	Failures     int64         `json:"failures"`
}

// JobBase records run outcomes. Jobs embed it so the scheduler can report on them.
type JobBase struct {
	mu     sync.Mutex
	status JobStatus
}

// RecordRun stores the outcome of a run that started at started
func (j *JobBase) RecordRun(started time.Time, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.status.LastStarted = started
	j.status.LastDuration = time.Since(started)
	j.status.Runs++
	if err != nil {
		j.status.LastError = err.Error()
		j.status.Failures++
	} else {
		j.status.LastError = ""
	}
}

// Status returns a copy of the run bookkeeping
func (j *JobBase) Status() JobStatus {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}
