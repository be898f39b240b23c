package services

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/finadmin/backend/internal/events"
	"github.com/finadmin/backend/internal/models"
)

// ReconcileService ingests one externally fetched balance reading for one
// deposit and decides whether it represents new information.
//
// The deposit's cached current balances and the historical snapshot ledger
// are separate concerns: the cache serves fast current-balance reads, the
// ledger serves period derivation. A cache change does not always produce a
// ledger row (same day, different fetch) and a ledger row does not require
// a cache change (identical fetch timestamp).
//
// The read-then-conditionally-write sequence on the deposit cache is not
// safe under concurrent writers for the same deposit; the scheduler keeps
// at most one fetch-and-reconcile in flight per deposit.
type ReconcileService struct {
	db        *sql.DB
	store     *SnapshotStore
	publisher events.Publisher
	redis     *redis.Client
}

// NewReconcileService creates the ingestion service. publisher and
// redisClient may be nil; events and cache invalidation are then skipped.
func NewReconcileService(db *sql.DB, store *SnapshotStore, publisher events.Publisher, redisClient *redis.Client) *ReconcileService {
	return &ReconcileService{
		db:        db,
		store:     store,
		publisher: publisher,
		redis:     redisClient,
	}
}

// Reconcile merges one Rahkaran reading into the deposit's cached state and
// the snapshot ledger. Calling it twice with the same reading leaves exactly
// one snapshot row for that deposit and day.
func (rs *ReconcileService) Reconcile(ctx context.Context, deposit *models.Deposit, balance int64, fetchedAt time.Time) error {
	fetchedAt = fetchedAt.UTC()

	// Step 1: cache update. Any change of the ERP fetch timestamp, exact
	// equality not day equality, is a change event. It also resets the
	// internal-bank cache to unknown, forcing a future internal re-fetch.
	changed := deposit.RahkaranBalanceLastSyncedAt == nil || !deposit.RahkaranBalanceLastSyncedAt.Equal(fetchedAt)
	if changed {
		if deposit.Balance != nil && *deposit.Balance != balance {
			rs.publish(ctx, events.BalanceDiscrepancy{
				DepositID:       deposit.ID,
				InternalBalance: *deposit.Balance,
				RahkaranBalance: balance,
				Difference:      balance - *deposit.Balance,
				DetectedAt:      fetchedAt,
			})
		}

		if err := rs.updateRahkaranCache(ctx, deposit.ID, balance, fetchedAt); err != nil {
			return fmt.Errorf("update deposit %d cache: %w", deposit.ID, err)
		}

		deposit.Balance = nil
		deposit.BalanceLastSyncedAt = nil
		deposit.RahkaranBalance = &balance
		deposit.RahkaranBalanceLastSyncedAt = &fetchedAt
		rs.invalidateBalanceCache(ctx, deposit.ID)
	}

	// Step 2: ledger append, deduplicated per ERP-fetch calendar day.
	exists, err := rs.store.HasRahkaranSnapshotOn(ctx, deposit.ID, fetchedAt)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	snap := &models.BalanceSnapshot{
		DepositID: deposit.ID,
		Internal:  models.FailedReading(),
		Rahkaran:  models.SuccessfulReading(balance, fetchedAt),
	}
	if err := rs.store.Append(ctx, snap); err != nil {
		return err
	}

	rs.publish(ctx, events.SnapshotRecorded{
		DepositID: deposit.ID,
		Source:    "rahkaran",
		Status:    string(models.FetchSuccess),
		Balance:   &balance,
		FetchedAt: fetchedAt,
	})
	return nil
}

// RecordFailure appends a fail-status snapshot for a fetch attempt that
// produced no balance. The deposit cache is left untouched.
func (rs *ReconcileService) RecordFailure(ctx context.Context, deposit *models.Deposit, fetchedAt time.Time) error {
	fetchedAt = fetchedAt.UTC()

	exists, err := rs.store.HasRahkaranSnapshotOn(ctx, deposit.ID, fetchedAt)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	failed := models.FailedReading()
	failed.FetchedAt = &fetchedAt

	snap := &models.BalanceSnapshot{
		DepositID: deposit.ID,
		Internal:  models.FailedReading(),
		Rahkaran:  failed,
	}
	if err := rs.store.Append(ctx, snap); err != nil {
		return err
	}

	rs.publish(ctx, events.SnapshotRecorded{
		DepositID: deposit.ID,
		Source:    "rahkaran",
		Status:    string(models.FetchFail),
		FetchedAt: fetchedAt,
	})
	return nil
}

// RecordInternal ingests a reading from the internal banking adapter. It
// refreshes the internal cache and appends an internal-source snapshot,
// deduplicated per fetch day like the ERP side.
func (rs *ReconcileService) RecordInternal(ctx context.Context, deposit *models.Deposit, balance int64, fetchedAt time.Time) error {
	fetchedAt = fetchedAt.UTC()

	if deposit.RahkaranBalance != nil && *deposit.RahkaranBalance != balance {
		rs.publish(ctx, events.BalanceDiscrepancy{
			DepositID:       deposit.ID,
			InternalBalance: balance,
			RahkaranBalance: *deposit.RahkaranBalance,
			Difference:      *deposit.RahkaranBalance - balance,
			DetectedAt:      fetchedAt,
		})
	}

	if err := rs.updateInternalCache(ctx, deposit.ID, balance, fetchedAt); err != nil {
		return fmt.Errorf("update deposit %d cache: %w", deposit.ID, err)
	}
	deposit.Balance = &balance
	deposit.BalanceLastSyncedAt = &fetchedAt
	rs.invalidateBalanceCache(ctx, deposit.ID)

	exists, err := rs.store.HasInternalSnapshotOn(ctx, deposit.ID, fetchedAt)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	snap := &models.BalanceSnapshot{
		DepositID: deposit.ID,
		Internal:  models.SuccessfulReading(balance, fetchedAt),
		Rahkaran:  models.FailedReading(),
	}
	if err := rs.store.Append(ctx, snap); err != nil {
		return err
	}

	rs.publish(ctx, events.SnapshotRecorded{
		DepositID: deposit.ID,
		Source:    "bankapi",
		Status:    string(models.FetchSuccess),
		Balance:   &balance,
		FetchedAt: fetchedAt,
	})
	return nil
}

func (rs *ReconcileService) updateRahkaranCache(ctx context.Context, depositID int, balance int64, fetchedAt time.Time) error {
	_, err := rs.db.ExecContext(ctx, `
		UPDATE deposits
		SET balance = NULL, balance_last_synced_at = NULL, rahkaran_balance = $1, rahkaran_balance_last_synced_at = $2, updated_at = $3
		WHERE id = $4`,
		balance, fetchedAt, time.Now().UTC(), depositID)
	return err
}

func (rs *ReconcileService) updateInternalCache(ctx context.Context, depositID int, balance int64, fetchedAt time.Time) error {
	_, err := rs.db.ExecContext(ctx, `
		UPDATE deposits
		SET balance = $1, balance_last_synced_at = $2, updated_at = $3
		WHERE id = $4`,
		balance, fetchedAt, time.Now().UTC(), depositID)
	return err
}

func (rs *ReconcileService) publish(ctx context.Context, event any) {
	if rs.publisher == nil {
		return
	}
	if err := rs.publisher.Publish(ctx, event); err != nil {
		log.Printf("[RECONCILE] Failed to publish event: %v", err)
	}
}

func (rs *ReconcileService) invalidateBalanceCache(ctx context.Context, depositID int) {
	if rs.redis == nil {
		return
	}
	if err := rs.redis.Del(ctx, depositBalanceCacheKey(depositID)).Err(); err != nil {
		log.Printf("[RECONCILE] Failed to invalidate balance cache for deposit %d: %v", depositID, err)
	}
}

func depositBalanceCacheKey(depositID int) string {
	return fmt.Sprintf("deposit:balance:%d", depositID)
}
