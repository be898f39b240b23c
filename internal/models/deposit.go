package models

import (
	"time"
)

// Organ represents an organization that owns deposits. It carries no
// balance of its own; it is purely an aggregation boundary for reporting.
type Organ struct {
	ID        int       `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Code      string    `json:"code" db:"code"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Bank represents the holding bank of a deposit.
type Bank struct {
	ID   int    `json:"id" db:"id"`
	Name string `json:"name" db:"name"`
	Code string `json:"code" db:"code"`
}

// Deposit represents a bank account belonging to one organ.
//
// The two balance caches are independent: Balance comes from the internal
// banking adapter, RahkaranBalance from the Rahkaran ERP feed. Each is
// nullable and carries its own sync timestamp. The caches may diverge;
// divergence is a detectable event, not an error.
type Deposit struct {
	ID                          int        `json:"id" db:"id"`
	OrganID                     int        `json:"organ_id" db:"organ_id"`
	BankID                      int        `json:"bank_id" db:"bank_id"`
	AccountNo                   string     `json:"account_no" db:"account_no"`
	Currency                    string     `json:"currency" db:"currency"`
	HasBankingAPIAccess         bool       `json:"has_banking_api_access" db:"has_banking_api_access"`
	Balance                     *int64     `json:"balance" db:"balance"`
	BalanceLastSyncedAt         *time.Time `json:"balance_last_synced_at" db:"balance_last_synced_at"`
	RahkaranBalance             *int64     `json:"rahkaran_balance" db:"rahkaran_balance"`
	RahkaranBalanceLastSyncedAt *time.Time `json:"rahkaran_balance_last_synced_at" db:"rahkaran_balance_last_synced_at"`
	CreatedAt                   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt                   time.Time  `json:"updated_at" db:"updated_at"`
}

// Diverged reports whether both balance caches are populated and disagree.
func (d *Deposit) Diverged() bool {
	return d.Balance != nil && d.RahkaranBalance != nil && *d.Balance != *d.RahkaranBalance
}
