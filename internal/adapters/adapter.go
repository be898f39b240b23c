// Package adapters holds the fetchers that normalize remote bank and ERP
// responses into balance readings. Each adapter is a thin boundary; the
// reconciliation core only ever sees a Reading or a FetchError.
package adapters

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"
)

// Reading is one normalized balance observation from a remote source.
// Balances are integer currency units (rials); no fractional subunits.
type Reading struct {
	Balance   int64     `json:"balance"`
	FetchedAt time.Time `json:"fetched_at"`
}

// BalanceFetcher is implemented once per bank/ERP integration.
type BalanceFetcher interface {
	// Source identifies the integration, e.g. "bankapi" or "rahkaran".
	Source() string
	// FetchBalance retrieves the current balance of one account.
	FetchBalance(ctx context.Context, accountNo string) (*Reading, error)
}

// FetchError wraps a network or parse failure from a remote source.
// Callers record it as a fail-status snapshot; it never propagates past
// the ingestion boundary.
type FetchError struct {
	Source    string
	AccountNo string
	Err       error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch from %s for account %s failed: %v", e.Source, e.AccountNo, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// IsFetchError reports whether err is a source fetch failure.
func IsFetchError(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe)
}

// FetchWithRetry calls the fetcher up to attempts times with a per-attempt
// timeout, returning the first successful reading. Only fetch failures are
// retried; context cancellation stops the loop.
func FetchWithRetry(ctx context.Context, f BalanceFetcher, accountNo string, attempts int, timeout time.Duration) (*Reading, error) {
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		reading, err := f.FetchBalance(attemptCtx, accountNo)
		cancel()
		if err == nil {
			return reading, nil
		}

		lastErr = err
		if i < attempts-1 {
			log.Printf("[FETCH] %s attempt %d/%d for account %s failed: %v", f.Source(), i+1, attempts, accountNo, err)
		}
	}
	return nil, lastErr
}
