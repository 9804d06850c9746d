// Package scheduler triggers repayment cycles for notes that fall due.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/Dan9191/note-lending/internal/models"
	"github.com/Dan9191/note-lending/internal/service"
)

// Engine is the part of the repayment engine the scheduler drives
type Engine interface {
	ListDue(ctx context.Context, asOf time.Time) ([]string, error)
	ProcessCycle(ctx context.Context, noteID string) (*service.CycleResult, error)
}

// Summary counts the outcome of one run
type Summary struct {
	Due     int `json:"due"`
	Settled int `json:"settled"`
	Failed  int `json:"failed"`
}

// Scheduler runs due cycles on a cron schedule
type Scheduler struct {
	cron    *cron.Cron
	engine  Engine
	log     *logrus.Logger
	clock   func() time.Time
	baseCtx context.Context

	mu      sync.Mutex
	running bool
}

// New creates a scheduler. Cron specs carry a seconds field.
func New(baseCtx context.Context, engine Engine, log *logrus.Logger) *Scheduler {
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	return &Scheduler{
		cron:    cron.New(cron.WithSeconds()),
		engine:  engine,
		log:     log,
		clock:   time.Now,
		baseCtx: baseCtx,
	}
}

// WithClock overrides the clock used to decide which notes are due.
func (s *Scheduler) WithClock(clock func() time.Time) {
	if clock != nil {
		s.clock = clock
	}
}

// Start registers the cycle job under spec and starts the cron loop
func (s *Scheduler) Start(spec string) error {
	if _, err := s.cron.AddFunc(spec, func() { s.RunOnce(s.baseCtx) }); err != nil {
		return err
	}
	s.cron.Start()
	s.log.WithField("schedule", spec).Info("Cycle scheduler started")
	return nil
}

// Stop waits for a running job to finish
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.log.Info("Cycle scheduler stopped")
}

// RunOnce processes every note due now. A note that cannot be settled is
// logged and left for the next run; the remaining notes are still processed.
// Overlapping runs are skipped.
func (s *Scheduler) RunOnce(ctx context.Context) Summary {
	var sum Summary

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.log.Warn("Previous cycle run still in progress, skipping")
		return sum
	}
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	asOf := s.clock().UTC()
	due, err := s.engine.ListDue(ctx, asOf)
	if err != nil {
		s.log.Errorf("Failed to list due notes: %v", err)
		return sum
	}
	sum.Due = len(due)

	for _, noteID := range due {
		if ctx.Err() != nil {
			break
		}
		entry := s.log.WithField("note_id", noteID)
		if _, err := s.engine.ProcessCycle(ctx, noteID); err != nil {
			sum.Failed++
			switch {
			case errors.Is(err, models.ErrSettlementFailed):
				entry.Warnf("Cycle not settled: %v", err)
			case errors.Is(err, models.ErrNotFound):
				entry.Debugf("Note closed before its cycle ran: %v", err)
			default:
				entry.Errorf("Cycle processing failed: %v", err)
			}
			continue
		}
		sum.Settled++
	}

	s.log.WithFields(logrus.Fields{
		"as_of":   asOf.Format(time.RFC3339),
		"due":     sum.Due,
		"settled": sum.Settled,
		"failed":  sum.Failed,
	}).Info("Cycle run finished")
	return sum
}
