// Package events defines the outbound event contract for balance ingestion.
package events

import (
	"context"
	"time"
)

// SnapshotRecorded is published when a new snapshot row is appended.
type SnapshotRecorded struct {
	DepositID int       `json:"deposit_id"`
	Source    string    `json:"source"`
	Status    string    `json:"status"`
	Balance   *int64    `json:"balance"`
	FetchedAt time.Time `json:"fetched_at"`
}

// BalanceDiscrepancy is published when the two source caches of one deposit
// are both populated and disagree. Divergence is observable, not an error.
type BalanceDiscrepancy struct {
	DepositID       int       `json:"deposit_id"`
	InternalBalance int64     `json:"internal_balance"`
	RahkaranBalance int64     `json:"rahkaran_balance"`
	Difference      int64     `json:"difference"`
	DetectedAt      time.Time `json:"detected_at"`
}

// Publisher delivers ingestion events to interested consumers.
type Publisher interface {
	Publish(ctx context.Context, event any) error
}
