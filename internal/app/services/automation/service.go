// Package automation runs automation rules: scheduled, card-event and manual
// triggers that generate cards for a strategy.
package automation

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pinnlo/service_layer/internal/app/domain/automation"
	"github.com/pinnlo/service_layer/internal/app/domain/card"
	"github.com/pinnlo/service_layer/internal/app/metrics"
	"github.com/pinnlo/service_layer/internal/app/services/cards"
	"github.com/pinnlo/service_layer/internal/app/services/generation"
	"github.com/pinnlo/service_layer/internal/app/storage"
	svcerrors "github.com/pinnlo/service_layer/internal/errors"
	"github.com/pinnlo/service_layer/internal/logging"
)

const (
	DefaultExecutionLimit = 20
	MaxExecutionLimit     = 100
	runTimeout            = 5 * time.Minute
)

// Generator is the generation pipeline rules act through.
type Generator interface {
	Generate(ctx context.Context, userID string, req generation.Request) (generation.Result, error)
}

// Config tunes the service.
type Config struct {
	ConditionTimeout time.Duration
}

// Service manages automation rules and runs them.
type Service struct {
	store      storage.AutomationStore
	strategies storage.StrategyStore
	generator  Generator
	scheduler  *Scheduler
	cfg        Config
	log        *logging.Logger
	now        func() time.Time

	hooksMu sync.Mutex
	stopped bool
	hooks   sync.WaitGroup
}

// New creates an automation service. Scheduling starts with Start.
func New(cfg Config, store storage.AutomationStore, strategies storage.StrategyStore, generator Generator, log *logging.Logger) *Service {
	if cfg.ConditionTimeout <= 0 {
		cfg.ConditionTimeout = DefaultConditionTimeout
	}
	if log == nil {
		log = logging.NewDefault("automation")
	}
	s := &Service{
		store:      store,
		strategies: strategies,
		generator:  generator,
		cfg:        cfg,
		log:        log,
		now:        func() time.Time { return time.Now().UTC() },
	}
	s.scheduler = NewScheduler(s.runScheduled, log)
	return s
}

// Scheduler exposes the cron scheduler, mainly for lifecycle registration.
func (s *Service) Scheduler() *Scheduler { return s.scheduler }

// CreateRule validates and stores a rule and schedules it when enabled.
func (s *Service) CreateRule(ctx context.Context, userID string, r automation.Rule) (automation.Rule, error) {
	r.ID = ""
	r.UserID = userID
	r.StrategyID = strings.TrimSpace(r.StrategyID)
	if err := s.validate(&r); err != nil {
		return automation.Rule{}, err
	}
	if _, err := s.strategies.GetStrategy(ctx, userID, r.StrategyID); err != nil {
		return automation.Rule{}, svcerrors.FromStore(err, "strategy")
	}
	r.LastRunAt = nil
	r.NextRunAt = r.NextRun(s.now())

	created, err := s.store.CreateRule(ctx, r)
	if err != nil {
		return automation.Rule{}, svcerrors.FromStore(err, "automation rule")
	}
	s.scheduler.Sync(created)
	s.log.WithContext(ctx).
		WithField("rule_id", created.ID).
		WithField("trigger", created.TriggerType).
		Info("automation rule created")
	return created, nil
}

// UpdateRule applies a partial update and reschedules the rule.
func (s *Service) UpdateRule(ctx context.Context, userID, id string, patch automation.Patch) (automation.Rule, error) {
	r, err := s.store.GetRule(ctx, userID, id)
	if err != nil {
		return automation.Rule{}, svcerrors.FromStore(err, "automation rule")
	}
	if patch.Empty() {
		return r, nil
	}
	patch.Apply(&r)
	if err := s.validate(&r); err != nil {
		return automation.Rule{}, err
	}
	r.NextRunAt = r.NextRun(s.now())

	updated, err := s.store.UpdateRule(ctx, r)
	if err != nil {
		return automation.Rule{}, svcerrors.FromStore(err, "automation rule")
	}
	s.scheduler.Sync(updated)
	return updated, nil
}

func (s *Service) GetRule(ctx context.Context, userID, id string) (automation.Rule, error) {
	r, err := s.store.GetRule(ctx, userID, id)
	if err != nil {
		return automation.Rule{}, svcerrors.FromStore(err, "automation rule")
	}
	return r, nil
}

func (s *Service) ListRules(ctx context.Context, userID, strategyID string) ([]automation.Rule, error) {
	return s.store.ListRules(ctx, userID, strings.TrimSpace(strategyID))
}

// DeleteRule removes a rule and unschedules it.
func (s *Service) DeleteRule(ctx context.Context, userID, id string) error {
	if err := s.store.DeleteRule(ctx, userID, id); err != nil {
		return svcerrors.FromStore(err, "automation rule")
	}
	s.scheduler.Remove(id)
	return nil
}

// ListExecutions returns a rule's executions, newest first.
func (s *Service) ListExecutions(ctx context.Context, userID, ruleID string, limit int) ([]automation.Execution, error) {
	if _, err := s.store.GetRule(ctx, userID, ruleID); err != nil {
		return nil, svcerrors.FromStore(err, "automation rule")
	}
	switch {
	case limit <= 0:
		limit = DefaultExecutionLimit
	case limit > MaxExecutionLimit:
		limit = MaxExecutionLimit
	}
	return s.store.ListExecutions(ctx, userID, ruleID, limit)
}

// RunRule runs a rule now, regardless of its trigger type.
func (s *Service) RunRule(ctx context.Context, userID, id string) (automation.Execution, error) {
	r, err := s.store.GetRule(ctx, userID, id)
	if err != nil {
		return automation.Execution{}, svcerrors.FromStore(err, "automation rule")
	}
	return s.Run(ctx, r, automation.TriggerManual, nil)
}

// HandleCardInsert fires the enabled card_event rules of the cards' strategy.
// Cards written by a rule are ignored.
func (s *Service) HandleCardInsert(ctx context.Context, ev cards.InsertEvent) {
	if _, automated := cards.AutomationOrigin(ctx); automated {
		return
	}
	rules, err := s.store.ListEnabledRules(ctx, automation.TriggerCardEvent)
	if err != nil {
		s.log.WithContext(ctx).WithError(err).Warn("list card event rules failed")
		return
	}
	for _, c := range ev.Cards {
		if cards.FromAutomation(c) {
			continue
		}
		for _, r := range rules {
			if r.StrategyID != c.StrategyID || r.UserID != c.UserID || !r.MatchesCardType(c.CardType) {
				continue
			}
			c := c
			if _, err := s.Run(ctx, r, automation.TriggerCardEvent, &c); err != nil {
				s.log.WithContext(ctx).WithError(err).WithField("rule_id", r.ID).Warn("card event rule failed")
			}
		}
	}
}

// CardInsertHook returns a cards.Listener that handles inserts in the
// background, detached from the request that created the cards. Stop waits
// for pending handlers.
func (s *Service) CardInsertHook() cards.Listener {
	return func(ctx context.Context, ev cards.InsertEvent) {
		if _, automated := cards.AutomationOrigin(ctx); automated {
			return
		}
		runCtx := logging.WithTraceID(context.Background(), logging.GetTraceID(ctx))
		s.hooksMu.Lock()
		if s.stopped {
			s.hooksMu.Unlock()
			s.log.WithContext(ctx).WithField("strategy_id", ev.StrategyID).Warn("automation stopped; card insert ignored")
			return
		}
		s.hooks.Add(1)
		s.hooksMu.Unlock()
		go func() {
			defer s.hooks.Done()
			runCtx, cancel := context.WithTimeout(runCtx, runTimeout)
			defer cancel()
			s.HandleCardInsert(runCtx, ev)
		}()
	}
}

// Run executes one rule and records the execution. Errors from the action are
// recorded on the execution; the returned error reports bookkeeping failures.
func (s *Service) Run(ctx context.Context, r automation.Rule, trigger automation.TriggerType, trigCard *card.Card) (automation.Execution, error) {
	start := time.Now()
	exec, err := s.store.CreateExecution(ctx, automation.Execution{
		RuleID:     r.ID,
		UserID:     r.UserID,
		StrategyID: r.StrategyID,
		Trigger:    string(trigger),
		Status:     automation.StatusRunning,
		StartedAt:  s.now(),
	})
	if err != nil {
		return automation.Execution{}, fmt.Errorf("create execution: %w", err)
	}
	entry := s.log.WithContext(ctx).WithField("rule_id", r.ID).WithField("execution_id", exec.ID).WithField("trigger", trigger)

	s.act(ctx, r, trigCard, &exec)

	finished := s.now()
	exec.FinishedAt = &finished
	if exec, err = s.store.UpdateExecution(ctx, exec); err != nil {
		return automation.Execution{}, fmt.Errorf("update execution: %w", err)
	}
	metrics.RecordAutomationRun(string(trigger), string(exec.Status), time.Since(start))

	if current, err := s.store.GetRule(ctx, r.UserID, r.ID); err != nil {
		entry.WithError(err).Warn("reload rule failed")
	} else if err := s.store.RecordRuleRun(ctx, r.UserID, r.ID, finished, current.NextRun(finished)); err != nil {
		entry.WithError(err).Warn("update rule run times failed")
	}

	entry = entry.WithField("status", exec.Status)
	if exec.Status == automation.StatusFailed {
		entry.WithField("error", exec.Error).Warn("automation run failed")
	} else {
		entry.WithField("cards_created", exec.CardsCreated).Info("automation run finished")
	}
	return exec, nil
}

func (s *Service) act(ctx context.Context, r automation.Rule, trigCard *card.Card, exec *automation.Execution) {
	if r.Condition != "" {
		st, err := s.strategies.GetStrategy(ctx, r.UserID, r.StrategyID)
		if err != nil {
			exec.Status, exec.Error = automation.StatusFailed, fmt.Sprintf("load strategy: %v", err)
			return
		}
		env := ConditionEnv{Rule: r, Strategy: st, Now: s.now()}
		if trigCard != nil {
			env.Card = *trigCard
		}
		ok, err := EvaluateCondition(ctx, r.Condition, env, s.cfg.ConditionTimeout)
		if err != nil {
			exec.Status, exec.Error = automation.StatusFailed, err.Error()
			return
		}
		if !ok {
			exec.Status = automation.StatusSkipped
			return
		}
	}

	res, err := s.generator.Generate(cards.WithAutomationOrigin(ctx, r.ID), r.UserID, generation.Request{
		StrategyID:      r.StrategyID,
		CardType:        r.Action.CardType,
		Count:           r.Action.Count,
		Provider:        r.Action.Provider,
		Model:           r.Action.Model,
		Instructions:    r.Action.Instructions,
		IncludeExisting: true,
		Commit:          r.Action.AutoCommit,
	})
	if err != nil {
		exec.Status, exec.Error = automation.StatusFailed, err.Error()
		return
	}

	exec.Status = automation.StatusSucceeded
	exec.PreviewID = res.PreviewID
	exec.CardIDs = []string{}
	if res.Committed {
		for _, c := range res.Cards {
			exec.CardIDs = append(exec.CardIDs, c.ID)
		}
		exec.CardsCreated = len(res.Cards)
	}
}

// runScheduled is the cron callback. It reloads the rule so that edits made
// since scheduling take effect.
func (s *Service) runScheduled(ruleID, userID string) {
	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()
	ctx = logging.WithTraceID(ctx, logging.NewTraceID())

	r, err := s.store.GetRule(ctx, userID, ruleID)
	if err != nil {
		s.log.WithError(err).WithField("rule_id", ruleID).Warn("scheduled rule vanished")
		s.scheduler.Remove(ruleID)
		return
	}
	if !r.Enabled || r.TriggerType != automation.TriggerSchedule {
		s.scheduler.Remove(ruleID)
		return
	}
	if _, err := s.Run(ctx, r, automation.TriggerSchedule, nil); err != nil {
		s.log.WithError(err).WithField("rule_id", ruleID).Error("scheduled run failed")
	}
}

func (s *Service) validate(r *automation.Rule) error {
	if err := r.Validate(card.ValidType); err != nil {
		return svcerrors.BadRequest(err.Error())
	}
	if r.Condition != "" {
		if err := CompileCondition(r.Condition); err != nil {
			return svcerrors.InvalidFormat("condition", err.Error())
		}
	}
	return nil
}

// Name implements system.Service.
func (s *Service) Name() string { return "automation" }

// Start loads enabled schedule rules and starts the scheduler.
func (s *Service) Start(ctx context.Context) error {
	rules, err := s.store.ListEnabledRules(ctx, automation.TriggerSchedule)
	if err != nil {
		return fmt.Errorf("load schedule rules: %w", err)
	}
	for _, r := range rules {
		s.scheduler.Sync(r)
	}
	s.scheduler.Start()
	s.log.WithField("rules", len(rules)).Info("automation scheduler started")
	return nil
}

// Stop stops the scheduler and waits for running jobs and insert handlers.
func (s *Service) Stop(ctx context.Context) error {
	s.hooksMu.Lock()
	s.stopped = true
	s.hooksMu.Unlock()
	if err := s.scheduler.Stop(ctx); err != nil {
		return err
	}
	done := make(chan struct{})
	go func() {
		s.hooks.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
