// Package scheduler runs periodic reward distribution over all creators.
//
// A run first reconciles uncertain ledger entries and trades, then pages through
// creator accounts and distributes to each one in a bounded worker pool. A
// failing account is recorded in the run report and never stops the others.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dmitrijs2005/walletkeeper/internal/logging"
	"github.com/dmitrijs2005/walletkeeper/internal/server/models"
	"github.com/dmitrijs2005/walletkeeper/internal/server/services"
	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

const (
	defaultPageSize = 200

	resultCompleted = "completed"
	resultFailed    = "failed"
	resultSkipped   = "skipped"
)

// ErrRunInProgress is returned by RunOnce while another run is active.
var ErrRunInProgress = errors.New("distribution run already in progress")

// Distributor is the reward engine as seen by the scheduler.
type Distributor interface {
	Distribute(ctx context.Context, accountID string) (*services.DistributionResult, error)
	ReconcileAll(ctx context.Context) (int, error)
	CurrentPeriod() string
}

// CreatorLister pages through accounts by role.
type CreatorLister interface {
	ListByRole(ctx context.Context, role models.Role, afterID string, limit int) ([]*models.Account, error)
}

// ReportStore archives finished run reports.
type ReportStore interface {
	Store(ctx context.Context, kind string, startedAt time.Time, report any) (string, error)
}

// ReconcileFunc resolves one kind of uncertain chain write and reports how
// many were resolved.
type ReconcileFunc func(ctx context.Context) (int, error)

// RunObserver records run metrics.
type RunObserver interface {
	ObserveSchedulerRun(result string, outcomes map[string]int, d time.Duration)
}

// RunReport summarizes one distribution run.
type RunReport struct {
	StartedAt      time.Time                      `json:"startedAt"`
	FinishedAt     time.Time                      `json:"finishedAt"`
	Period         string                         `json:"period"`
	Reconciled     int                            `json:"reconciled"`
	ReconcileError string                         `json:"reconcileError,omitempty"`
	ListError      string                         `json:"listError,omitempty"`
	Outcomes       map[string]int                 `json:"outcomes"`
	Results        []*services.DistributionResult `json:"results"`
	ArchiveKey     string                         `json:"-"`
}

type Scheduler struct {
	spec        string
	distributor Distributor
	creators    CreatorLister
	workers     int
	pageSize    int
	reports     ReportStore
	observer    RunObserver
	logger      logging.Logger
	reconcilers []ReconcileFunc

	running atomic.Bool
	cron    *cron.Cron
}

// New validates spec eagerly so a bad expression fails at startup.
// reports and observer may be nil.
func New(spec string, workers int, distributor Distributor, creators CreatorLister,
	reports ReportStore, observer RunObserver, logger logging.Logger) (*Scheduler, error) {
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("invalid reward schedule %q: %w", spec, err)
	}
	if workers < 1 {
		workers = 1
	}
	return &Scheduler{
		spec:        spec,
		distributor: distributor,
		creators:    creators,
		workers:     workers,
		pageSize:    defaultPageSize,
		reports:     reports,
		observer:    observer,
		logger:      logger,
	}, nil
}

// AddReconciler adds a pass that runs after the ledger reconciliation at the
// start of every run. Call it before Start.
func (s *Scheduler) AddReconciler(fn ReconcileFunc) {
	s.reconcilers = append(s.reconcilers, fn)
}

// Start registers the run with a UTC cron and starts it. Runs use ctx, so
// cancelling it aborts an active run.
func (s *Scheduler) Start(ctx context.Context) error {
	c := cron.New(cron.WithLocation(time.UTC))
	if _, err := c.AddFunc(s.spec, func() {
		if _, err := s.RunOnce(ctx); err != nil && !errors.Is(err, ErrRunInProgress) {
			s.logger.Warn(ctx, "reward distribution finished with errors", "error", err)
		}
	}); err != nil {
		return err
	}
	s.cron = c
	c.Start()
	s.logger.Info(ctx, "reward scheduler started", "schedule", s.spec, "workers", s.workers)
	return nil
}

// Stop stops the cron and waits for an active run until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.cron == nil {
		return nil
	}
	select {
	case <-s.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce performs one distribution run. The returned error joins every
// per-account failure; the report is returned either way.
func (s *Scheduler) RunOnce(ctx context.Context) (*RunReport, error) {
	if !s.running.CompareAndSwap(false, true) {
		s.logger.Warn(ctx, "previous reward distribution still running, skipping")
		if s.observer != nil {
			s.observer.ObserveSchedulerRun(resultSkipped, nil, 0)
		}
		return nil, ErrRunInProgress
	}
	defer s.running.Store(false)

	report := &RunReport{
		StartedAt: time.Now().UTC(),
		Period:    s.distributor.CurrentPeriod(),
		Outcomes:  map[string]int{},
	}
	log := s.logger.With("period", report.Period)

	reconciled, reconErr := s.distributor.ReconcileAll(ctx)
	for _, fn := range s.reconcilers {
		n, err := fn(ctx)
		reconciled += n
		reconErr = multierr.Append(reconErr, err)
	}
	report.Reconciled = reconciled
	if reconErr != nil {
		report.ReconcileError = reconErr.Error()
		log.Warn(ctx, "reconciliation pass incomplete", "error", reconErr)
	}

	var (
		mu   sync.Mutex
		errs error
		g    errgroup.Group
	)
	g.SetLimit(s.workers)

	after := ""
	for {
		page, err := s.creators.ListByRole(ctx, models.RoleCreator, after, s.pageSize)
		if err != nil {
			report.ListError = err.Error()
			errs = multierr.Append(errs, fmt.Errorf("listing creators: %w", err))
			break
		}
		for _, account := range page {
			id := account.ID
			g.Go(func() error {
				res, err := s.distributor.Distribute(ctx, id)
				mu.Lock()
				defer mu.Unlock()
				if res == nil {
					res = &services.DistributionResult{AccountID: id, Outcome: services.OutcomeFailed}
				}
				if err != nil {
					res.Reason = err.Error()
					errs = multierr.Append(errs, fmt.Errorf("account %s: %w", id, err))
				}
				report.Results = append(report.Results, res)
				report.Outcomes[res.Outcome]++
				return nil
			})
		}
		if len(page) < s.pageSize {
			break
		}
		after = page[len(page)-1].ID
	}
	_ = g.Wait()

	report.FinishedAt = time.Now().UTC()
	elapsed := report.FinishedAt.Sub(report.StartedAt)

	result := resultCompleted
	if report.ListError != "" {
		result = resultFailed
	}
	if s.observer != nil {
		s.observer.ObserveSchedulerRun(result, report.Outcomes, elapsed)
	}

	log.Info(ctx, "reward distribution finished",
		"result", result,
		"accounts", len(report.Results),
		"paid", report.Outcomes[services.OutcomePaid],
		"skipped", report.Outcomes[services.OutcomeSkipped],
		"failed", report.Outcomes[services.OutcomeFailed],
		"uncertain", report.Outcomes[services.OutcomeUncertain],
		"reconciled", report.Reconciled,
		"duration", elapsed)

	if s.reports != nil {
		key, err := s.reports.Store(ctx, "rewards", report.StartedAt, report)
		if err != nil {
			log.Error(ctx, "failed to archive run report", "error", err)
		} else {
			report.ArchiveKey = key
		}
	}

	return report, errs
}
