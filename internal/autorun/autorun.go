// Package autorun schedules recurring searches on a cron expression, e.g.
// re-probing the cluster's admission ceiling every night.
package autorun

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/osctools/gpuscout/internal/domain"
)

// Schedule is one named recurring search.
type Schedule struct {
	Name   string
	Cron   string
	Bounds domain.SearchBounds
}

// Validate checks the schedule's cron expression and bounds.
func (s Schedule) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("schedule name is required")
	}
	if _, err := ParseCron(s.Cron); err != nil {
		return fmt.Errorf("schedule %s: %w", s.Name, err)
	}
	return s.Bounds.Validate()
}

// ParseCron parses a five-field cron expression.
func ParseCron(expr string) (cron.Schedule, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	return parser.Parse(expr)
}

// Scheduler tracks when each schedule is due. A schedule never overlaps
// itself: while one run is marked running, ShouldRun stays false for it.
type Scheduler struct {
	schedules map[string]Schedule
	parser    cron.Parser
	lastRun   map[string]time.Time
	running   map[string]bool
	mu        sync.RWMutex
}

// NewScheduler creates a scheduler from validated schedules.
func NewScheduler(schedules []Schedule) (*Scheduler, error) {
	s := &Scheduler{
		schedules: make(map[string]Schedule),
		parser:    cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		lastRun:   make(map[string]time.Time),
		running:   make(map[string]bool),
	}

	for _, sched := range schedules {
		if err := sched.Validate(); err != nil {
			return nil, err
		}
		s.schedules[sched.Name] = sched
	}

	return s, nil
}

// NextRun returns the next scheduled run time for a schedule.
func (s *Scheduler) NextRun(name string) time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sched, ok := s.schedules[name]
	if !ok {
		return time.Time{}
	}
	parsed, err := s.parser.Parse(sched.Cron)
	if err != nil {
		return time.Time{}
	}
	return parsed.Next(time.Now())
}

// ShouldRun reports whether a schedule is due and not already running.
func (s *Scheduler) ShouldRun(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sched, ok := s.schedules[name]
	if !ok {
		return false
	}
	if s.running[name] {
		return false
	}

	parsed, err := s.parser.Parse(sched.Cron)
	if err != nil {
		return false
	}

	lastRun := s.lastRun[name]
	if lastRun.IsZero() {
		lastRun = time.Now().Add(-24 * time.Hour)
	}
	return time.Now().After(parsed.Next(lastRun))
}

// MarkRunning marks a schedule as currently running.
func (s *Scheduler) MarkRunning(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running[name] = true
}

// MarkComplete marks a schedule as finished and resets its due time.
func (s *Scheduler) MarkComplete(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running[name] = false
	s.lastRun[name] = time.Now()
}

// Get returns the schedule by name.
func (s *Scheduler) Get(name string) (Schedule, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sched, ok := s.schedules[name]
	return sched, ok
}

// List returns all schedule names.
func (s *Scheduler) List() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.schedules))
	for name := range s.schedules {
		names = append(names, name)
	}
	return names
}

// Due returns the names of all schedules that should run now.
func (s *Scheduler) Due() []string {
	var due []string
	for _, name := range s.List() {
		if s.ShouldRun(name) {
			due = append(due, name)
		}
	}
	return due
}
