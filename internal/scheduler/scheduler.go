// Package scheduler drives the periodic balance fetches: one job per
// deposit per tick, dispatched to a bounded worker pool. Writes to a
// deposit's cache are only safe with one writer, so the scheduler keeps a
// single-flight set keyed by deposit id; a deposit whose previous fetch is
// still running is skipped, not queued.
package scheduler

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/finadmin/backend/internal/adapters"
	"github.com/finadmin/backend/internal/config"
	"github.com/finadmin/backend/internal/models"
)

// Reconciler is the ingestion half of the reconcile service.
type Reconciler interface {
	Reconcile(ctx context.Context, deposit *models.Deposit, balance int64, fetchedAt time.Time) error
	RecordFailure(ctx context.Context, deposit *models.Deposit, fetchedAt time.Time) error
	RecordInternal(ctx context.Context, deposit *models.Deposit, balance int64, fetchedAt time.Time) error
}

// DepositLister yields the deposits to fetch each tick.
type DepositLister interface {
	ListFetchable(ctx context.Context) ([]models.Deposit, error)
}

type Scheduler struct {
	cfg        *config.SchedulerConfig
	deposits   DepositLister
	reconciler Reconciler
	rahkaran   adapters.BalanceFetcher
	bank       adapters.BalanceFetcher

	mu       sync.Mutex
	inflight map[int]bool

	stop chan struct{}
	wg   sync.WaitGroup
}

func New(cfg *config.SchedulerConfig, deposits DepositLister, reconciler Reconciler, rahkaran, bank adapters.BalanceFetcher) *Scheduler {
	return &Scheduler{
		cfg:        cfg,
		deposits:   deposits,
		reconciler: reconciler,
		rahkaran:   rahkaran,
		bank:       bank,
		inflight:   make(map[int]bool),
		stop:       make(chan struct{}),
	}
}

// Start launches the tick loop. The first batch runs immediately.
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()

		s.runBatch(context.Background())
		for {
			select {
			case <-ticker.C:
				s.runBatch(context.Background())
			case <-s.stop:
				return
			}
		}
	}()
	log.Printf("[SCHEDULER] Started, interval %s, %d workers", s.cfg.Interval, s.cfg.Workers)
}

// Stop halts the tick loop and waits for in-flight jobs.
func (s *Scheduler) Stop() {
	close(s.stop)
	s.wg.Wait()
	log.Println("[SCHEDULER] Stopped")
}

// RunBatch fetches every deposit once, using the worker pool. Exposed for
// manual triggering.
func (s *Scheduler) RunBatch(ctx context.Context) error {
	return s.runBatch(ctx)
}

func (s *Scheduler) runBatch(ctx context.Context) error {
	deposits, err := s.deposits.ListFetchable(ctx)
	if err != nil {
		log.Printf("[SCHEDULER] Failed to list deposits: %v", err)
		return err
	}

	jobs := make(chan models.Deposit)

	var workers sync.WaitGroup
	for i := 0; i < s.cfg.Workers; i++ {
		workers.Add(1)
		go func() {
			defer workers.Done()
			for dep := range jobs {
				s.fetchDeposit(ctx, dep)
			}
		}()
	}

	for _, dep := range deposits {
		jobs <- dep
	}
	close(jobs)
	workers.Wait()
	return nil
}

// fetchDeposit runs one deposit's fetch-and-reconcile cycle under the
// single-flight guard.
func (s *Scheduler) fetchDeposit(ctx context.Context, dep models.Deposit) {
	if !s.acquire(dep.ID) {
		log.Printf("[SCHEDULER] Fetch already in flight for deposit %d, skipping", dep.ID)
		return
	}
	defer s.release(dep.ID)

	s.fetchRahkaran(ctx, &dep)
	if dep.HasBankingAPIAccess {
		s.fetchInternal(ctx, &dep)
	}
}

func (s *Scheduler) fetchRahkaran(ctx context.Context, dep *models.Deposit) {
	reading, err := adapters.FetchWithRetry(ctx, s.rahkaran, dep.AccountNo, s.cfg.FetchAttempts, s.cfg.FetchTimeout)
	if err != nil {
		log.Printf("[SCHEDULER] Rahkaran fetch failed for deposit %d: %v", dep.ID, err)
		if recErr := s.reconciler.RecordFailure(ctx, dep, time.Now().UTC()); recErr != nil {
			log.Printf("[SCHEDULER] Failed to record fetch failure for deposit %d: %v", dep.ID, recErr)
		}
		return
	}

	if err := s.reconciler.Reconcile(ctx, dep, reading.Balance, reading.FetchedAt); err != nil {
		log.Printf("[SCHEDULER] Reconcile failed for deposit %d: %v", dep.ID, err)
	}
}

func (s *Scheduler) fetchInternal(ctx context.Context, dep *models.Deposit) {
	reading, err := adapters.FetchWithRetry(ctx, s.bank, dep.AccountNo, s.cfg.FetchAttempts, s.cfg.FetchTimeout)
	if err != nil {
		log.Printf("[SCHEDULER] Bank fetch failed for deposit %d: %v", dep.ID, err)
		return
	}

	if err := s.reconciler.RecordInternal(ctx, dep, reading.Balance, reading.FetchedAt); err != nil {
		log.Printf("[SCHEDULER] Internal sync failed for deposit %d: %v", dep.ID, err)
	}
}

func (s *Scheduler) acquire(depositID int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.inflight[depositID] {
		return false
	}
	s.inflight[depositID] = true
	return true
}

func (s *Scheduler) release(depositID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inflight, depositID)
}
