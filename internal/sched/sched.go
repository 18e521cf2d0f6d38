// Package sched runs the recurring maintenance jobs: the retention
// sweep and the deferred-scan drain. Jobs are registered with six-field
// cron expressions (seconds included).
package sched

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	rcron "github.com/robfig/cron/v3"
)

type Job struct {
	Name     string
	Schedule string
	Run      func(ctx context.Context) error
}

type JobStatus struct {
	Name       string    `json:"name"`
	Schedule   string    `json:"schedule"`
	LastRunAt  time.Time `json:"lastRunAt"`
	LastStatus string    `json:"lastStatus,omitempty"`
	LastError  string    `json:"lastError,omitempty"`
}

type Service struct {
	cron *rcron.Cron

	mu      sync.Mutex
	jobs    map[string]Job
	status  map[string]*JobStatus
	runCtx  context.Context
	cancel  context.CancelFunc
	started bool
}

func NewService() *Service {
	return &Service{
		cron:   rcron.New(rcron.WithSeconds()),
		jobs:   make(map[string]Job),
		status: make(map[string]*JobStatus),
	}
}

// Register adds a job before or after Start. Invalid expressions are
// rejected up front.
func (s *Service) Register(job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[job.Name]; ok {
		return fmt.Errorf("job %s already registered", job.Name)
	}
	if _, err := s.cron.AddFunc(job.Schedule, func() { s.execute(job.Name) }); err != nil {
		return fmt.Errorf("register job %s (%s): %w", job.Name, job.Schedule, err)
	}
	s.jobs[job.Name] = job
	s.status[job.Name] = &JobStatus{Name: job.Name, Schedule: job.Schedule}
	return nil
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.runCtx, s.cancel = context.WithCancel(ctx)
	s.started = true
	n := len(s.jobs)
	s.mu.Unlock()

	s.cron.Start()
	log.Printf("[sched] started with %d jobs", n)
}

func (s *Service) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(5 * time.Second):
		log.Printf("[sched] stop timeout waiting for running jobs")
	}
	log.Printf("[sched] stopped")
}

// RunNow executes a registered job immediately, outside its schedule.
func (s *Service) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	job, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("job %s not found", name)
	}
	return s.runAndRecord(ctx, job)
}

func (s *Service) Status() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]JobStatus, 0, len(s.status))
	for _, st := range s.status {
		out = append(out, *st)
	}
	return out
}

func (s *Service) execute(name string) {
	s.mu.Lock()
	job, ok := s.jobs[name]
	ctx := s.runCtx
	s.mu.Unlock()
	if !ok {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if err := s.runAndRecord(ctx, job); err != nil {
		log.Printf("[sched] job %s: %v", name, err)
	}
}

func (s *Service) runAndRecord(ctx context.Context, job Job) error {
	err := job.Run(ctx)

	s.mu.Lock()
	st := s.status[job.Name]
	st.LastRunAt = time.Now()
	if err != nil {
		st.LastStatus = "error"
		st.LastError = err.Error()
	} else {
		st.LastStatus = "ok"
		st.LastError = ""
	}
	s.mu.Unlock()
	return err
}
