package automation

import (
	"context"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/pinnlo/service_layer/internal/app/domain/automation"
	"github.com/pinnlo/service_layer/internal/logging"
)

// RunFunc is invoked by the scheduler when a rule is due.
type RunFunc func(ruleID, userID string)

type scheduled struct {
	entry    cron.EntryID
	schedule string
}

// Scheduler keeps one cron entry per enabled schedule rule.
type Scheduler struct {
	cron *cron.Cron
	run  RunFunc
	log  *logging.Logger

	mu      sync.Mutex
	entries map[string]scheduled
}

// NewScheduler creates a stopped scheduler using standard 5-field cron specs.
func NewScheduler(run RunFunc, log *logging.Logger) *Scheduler {
	if log == nil {
		log = logging.NewDefault("automation-scheduler")
	}
	c := cron.New(
		cron.WithLogger(cron.PrintfLogger(log)),
		cron.WithChain(cron.Recover(cron.PrintfLogger(log)), cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	return &Scheduler{cron: c, run: run, log: log, entries: make(map[string]scheduled)}
}

// Sync adds, replaces or removes the entry for r according to its state.
func (s *Scheduler) Sync(r automation.Rule) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.entries[r.ID]
	if !r.Enabled || r.TriggerType != automation.TriggerSchedule {
		if ok {
			s.cron.Remove(existing.entry)
			delete(s.entries, r.ID)
		}
		return
	}
	if ok && existing.schedule == r.Schedule {
		return
	}
	if ok {
		s.cron.Remove(existing.entry)
		delete(s.entries, r.ID)
	}

	ruleID, userID := r.ID, r.UserID
	id, err := s.cron.AddFunc(r.Schedule, func() { s.run(ruleID, userID) })
	if err != nil {
		s.log.WithError(err).WithField("rule_id", r.ID).Warn("schedule rule failed")
		return
	}
	s.entries[r.ID] = scheduled{entry: id, schedule: r.Schedule}
}

// Remove drops the entry for ruleID, if any.
func (s *Scheduler) Remove(ruleID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.entries[ruleID]; ok {
		s.cron.Remove(existing.entry)
		delete(s.entries, ruleID)
	}
}

// Scheduled reports whether ruleID has a cron entry.
func (s *Scheduler) Scheduled(ruleID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[ruleID]
	return ok
}

func (s *Scheduler) Start() { s.cron.Start() }

// Stop stops the cron loop and waits for running jobs or ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
