// Package batch solves many problem files concurrently and tracks each one as a job.
package batch

import (
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/cwbudde/qpbridge/internal/store"
)

// JobState represents the current state of a job
type JobState string

const (
	StatePending   JobState = "pending"
	StateRunning   JobState = "running"
	StateCompleted JobState = "completed"
	StateFailed    JobState = "failed"
	StateCancelled JobState = "cancelled"
)

// Job is one problem file moving through the runner.
type Job struct {
	ID         string      `json:"id"`
	Path       string      `json:"path"`
	Name       string      `json:"name,omitempty"`
	State      JobState    `json:"state"`
	Result     string      `json:"result,omitempty"`
	Cost       store.Float `json:"cost"`
	Iterations int         `json:"iterations"`
	Saved      bool        `json:"saved"`
	StartTime  time.Time   `json:"startTime"`
	EndTime    *time.Time  `json:"endTime,omitempty"`
	Error      string      `json:"error,omitempty"`
}

// Manager tracks jobs in creation order and publishes their state changes.
type Manager struct {
	mu     sync.RWMutex
	jobs   map[string]*Job
	order  []string
	events *Broadcaster
}

// NewManager creates an empty Manager.
func NewManager() *Manager {
	return &Manager{
		jobs:   make(map[string]*Job),
		events: NewBroadcaster(logr.Discard()),
	}
}

// Events returns the broadcaster of job state changes.
func (m *Manager) Events() *Broadcaster { return m.events }

// CreateJob registers a pending job for path.
func (m *Manager) CreateJob(path string) Job {
	m.mu.Lock()
	defer m.mu.Unlock()

	job := &Job{
		ID:    uuid.New().String(),
		Path:  path,
		State: StatePending,
	}
	m.jobs[job.ID] = job
	m.order = append(m.order, job.ID)
	return *job
}

// GetJob returns a copy of the job with the given ID.
func (m *Manager) GetJob(id string) (Job, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	job, ok := m.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *job, true
}

// ListJobs returns copies of all jobs in creation order.
func (m *Manager) ListJobs() []Job {
	m.mu.RLock()
	defer m.mu.RUnlock()

	jobs := make([]Job, 0, len(m.order))
	for _, id := range m.order {
		jobs = append(jobs, *m.jobs[id])
	}
	return jobs
}

// UpdateJob atomically updates a job using the provided function.
// A state change is broadcast after the update.
func (m *Manager) UpdateJob(id string, updateFn func(*Job)) error {
	m.mu.Lock()
	job, ok := m.jobs[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("job not found: %s", id)
	}
	before := job.State
	updateFn(job)
	snapshot := *job
	m.mu.Unlock()

	if snapshot.State != before {
		m.events.Broadcast(eventOf(snapshot))
	}
	return nil
}

// Count returns the number of jobs in each state.
func (m *Manager) Count() map[JobState]int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := make(map[JobState]int)
	for _, job := range m.jobs {
		counts[job.State]++
	}
	return counts
}

func (m *Manager) finish(id string, state JobState, err error) {
	end := time.Now()
	m.UpdateJob(id, func(j *Job) {
		j.State = state
		j.EndTime = &end
		if err != nil {
			j.Error = err.Error()
		}
	})
}
