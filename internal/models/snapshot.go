package models

import (
	"time"
)

// FetchStatus is the outcome of a single balance fetch attempt.
type FetchStatus string

const (
	FetchSuccess FetchStatus = "success"
	FetchFail    FetchStatus = "fail"
)

// SourceReading is one source's half of a snapshot: status, observation
// timestamp and balance. Balance and FetchedAt are only meaningful when
// Status is FetchSuccess.
type SourceReading struct {
	Status    FetchStatus `json:"status" db:"status"`
	Balance   *int64      `json:"balance" db:"balance"`
	FetchedAt *time.Time  `json:"fetched_at" db:"fetched_at"`
}

// OK reports whether the reading carries a usable balance.
func (r SourceReading) OK() bool {
	return r.Status == FetchSuccess && r.Balance != nil && r.FetchedAt != nil
}

// FailedReading returns a fail-status reading with no balance.
func FailedReading() SourceReading {
	return SourceReading{Status: FetchFail}
}

// SuccessfulReading returns a success-status reading.
func SuccessfulReading(balance int64, fetchedAt time.Time) SourceReading {
	return SourceReading{Status: FetchSuccess, Balance: &balance, FetchedAt: &fetchedAt}
}

// BalanceSnapshot is one observation attempt for one deposit. Rows are
// immutable once written; together they form the append-only ledger all
// income/expense figures are derived from. There is no transaction ledger
// behind them: the delta between consecutive snapshots is the only proxy
// for cash movement, so observation frequency bounds report resolution.
type BalanceSnapshot struct {
	ID        int           `json:"id" db:"id"`
	DepositID int           `json:"deposit_id" db:"deposit_id"`
	Internal  SourceReading `json:"internal"`
	Rahkaran  SourceReading `json:"rahkaran"`
	CreatedAt time.Time     `json:"created_at" db:"created_at"`
}

// Observation returns the balance and timestamp the reporting engine should
// use for this snapshot. The Rahkaran side wins when both succeeded; the
// snapshot is invisible to reporting when neither did.
func (s *BalanceSnapshot) Observation() (int64, time.Time, bool) {
	if s.Rahkaran.OK() {
		return *s.Rahkaran.Balance, *s.Rahkaran.FetchedAt, true
	}
	if s.Internal.OK() {
		return *s.Internal.Balance, *s.Internal.FetchedAt, true
	}
	return 0, time.Time{}, false
}
