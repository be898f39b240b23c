package services

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"

	"github.com/finadmin/backend/internal/models"
)

const snapshotColumns = `id, deposit_id, status, balance, fetched_at, rahkaran_status, rahkaran_balance, rahkaran_fetched_at, created_at`

// Successful-observation filter: a snapshot is visible to reporting when at
// least one source carries a success status with a non-null balance. Failed
// attempts stay in the table but never reach financial computation.
const snapshotVisible = `((rahkaran_status = 'success' AND rahkaran_balance IS NOT NULL) OR (status = 'success' AND balance IS NOT NULL))`

// observedAt orders snapshots by the timestamp of the winning source.
const snapshotObservedAt = `COALESCE(rahkaran_fetched_at, fetched_at)`

// SnapshotStore is the append-only log of balance observations. Rows are
// never updated or deleted; the reconcile service is responsible for
// deduplication before appending, with the unique day indexes on the
// balances table as the backstop against check-then-act races.
type SnapshotStore struct {
	db *sql.DB
}

func NewSnapshotStore(db *sql.DB) *SnapshotStore {
	return &SnapshotStore{db: db}
}

// Append inserts one snapshot row. An insert rejected by the per-day unique
// index means a concurrent fetch already recorded the observation; that is
// a benign no-op, not an error.
func (s *SnapshotStore) Append(ctx context.Context, snap *models.BalanceSnapshot) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO balances (deposit_id, status, balance, fetched_at, rahkaran_status, rahkaran_balance, rahkaran_fetched_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		snap.DepositID,
		string(snap.Internal.Status), snap.Internal.Balance, snap.Internal.FetchedAt,
		string(snap.Rahkaran.Status), snap.Rahkaran.Balance, snap.Rahkaran.FetchedAt,
		time.Now().UTC())
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return nil
		}
		return err
	}
	return nil
}

// ListSuccessfulInRange returns the deposit's successful snapshots observed
// in [start, until), ascending by source timestamp. The result is a finite
// slice, re-enumerable by the caller.
func (s *SnapshotStore) ListSuccessfulInRange(ctx context.Context, depositID int, start, until time.Time) ([]models.BalanceSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+snapshotColumns+`
		FROM balances
		WHERE deposit_id = $1
		  AND `+snapshotVisible+`
		  AND `+snapshotObservedAt+` >= $2
		  AND `+snapshotObservedAt+` < $3
		ORDER BY `+snapshotObservedAt+` ASC`,
		depositID, start, until)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snaps []models.BalanceSnapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, *snap)
	}
	return snaps, rows.Err()
}

// LatestAsOf returns the most recent successful snapshot observed at or
// before the given time, or nil when the deposit has none.
func (s *SnapshotStore) LatestAsOf(ctx context.Context, depositID int, at time.Time) (*models.BalanceSnapshot, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+snapshotColumns+`
		FROM balances
		WHERE deposit_id = $1
		  AND `+snapshotVisible+`
		  AND `+snapshotObservedAt+` <= $2
		ORDER BY `+snapshotObservedAt+` DESC
		LIMIT 1`,
		depositID, at)

	snap, err := scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// HasRahkaranSnapshotOn reports whether a row already records an ERP fetch
// for the deposit on the calendar day of at.
func (s *SnapshotStore) HasRahkaranSnapshotOn(ctx context.Context, depositID int, at time.Time) (bool, error) {
	return s.hasSnapshotOn(ctx, `rahkaran_fetched_at`, depositID, at)
}

// HasInternalSnapshotOn is the internal-source counterpart.
func (s *SnapshotStore) HasInternalSnapshotOn(ctx context.Context, depositID int, at time.Time) (bool, error) {
	return s.hasSnapshotOn(ctx, `fetched_at`, depositID, at)
}

func (s *SnapshotStore) hasSnapshotOn(ctx context.Context, column string, depositID int, at time.Time) (bool, error) {
	day := StartOfDay(at)
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM balances
			WHERE deposit_id = $1 AND `+column+` >= $2 AND `+column+` < $3
		)`,
		depositID, day, day.AddDate(0, 0, 1)).Scan(&exists)
	return exists, err
}

// StartOfDay truncates a timestamp to its UTC calendar day. Snapshot
// deduplication is scoped per source-timestamp day, always in UTC.
func StartOfDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(row rowScanner) (*models.BalanceSnapshot, error) {
	var (
		snap                         models.BalanceSnapshot
		status, rahkaranStatus       string
		balance, rahkaranBalance     sql.NullInt64
		fetchedAt, rahkaranFetchedAt sql.NullTime
	)

	if err := row.Scan(
		&snap.ID, &snap.DepositID,
		&status, &balance, &fetchedAt,
		&rahkaranStatus, &rahkaranBalance, &rahkaranFetchedAt,
		&snap.CreatedAt,
	); err != nil {
		return nil, err
	}

	snap.Internal = readingFromColumns(status, balance, fetchedAt)
	snap.Rahkaran = readingFromColumns(rahkaranStatus, rahkaranBalance, rahkaranFetchedAt)
	return &snap, nil
}

func readingFromColumns(status string, balance sql.NullInt64, fetchedAt sql.NullTime) models.SourceReading {
	reading := models.SourceReading{Status: models.FetchStatus(status)}
	if balance.Valid {
		v := balance.Int64
		reading.Balance = &v
	}
	if fetchedAt.Valid {
		t := fetchedAt.Time
		reading.FetchedAt = &t
	}
	return reading
}
