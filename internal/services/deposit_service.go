package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"

	"github.com/finadmin/backend/internal/models"
)

const balanceCacheTTL = time.Minute

// DepositService serves organ and deposit reads: the identity/hierarchy
// surface the reporting engine and the scheduler both consume.
type DepositService struct {
	db    *sql.DB
	store *SnapshotStore
	redis *redis.Client
}

func NewDepositService(db *sql.DB, store *SnapshotStore, redisClient *redis.Client) *DepositService {
	return &DepositService{db: db, store: store, redis: redisClient}
}

// DepositBalance is the current-balance view of one deposit: both source
// caches side by side, plus whether they diverge.
type DepositBalance struct {
	DepositID                   int        `json:"deposit_id"`
	AccountNo                   string     `json:"account_no"`
	Currency                    string     `json:"currency"`
	Balance                     *int64     `json:"balance"`
	BalanceLastSyncedAt         *time.Time `json:"balance_last_synced_at"`
	RahkaranBalance             *int64     `json:"rahkaran_balance"`
	RahkaranBalanceLastSyncedAt *time.Time `json:"rahkaran_balance_last_synced_at"`
	Diverged                    bool       `json:"diverged"`
}

// ListFetchable returns the deposits the scheduler should fetch balances
// for, together with their cached sync state.
func (ds *DepositService) ListFetchable(ctx context.Context) ([]models.Deposit, error) {
	rows, err := ds.db.QueryContext(ctx, `
		SELECT id, organ_id, bank_id, account_no, currency, has_banking_api_access,
		       balance, balance_last_synced_at, rahkaran_balance, rahkaran_balance_last_synced_at
		FROM deposits
		ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var deposits []models.Deposit
	for rows.Next() {
		dep, err := scanDeposit(rows)
		if err != nil {
			return nil, err
		}
		deposits = append(deposits, *dep)
	}
	return deposits, rows.Err()
}

// GetDeposit loads one deposit by id.
func (ds *DepositService) GetDeposit(ctx context.Context, depositID int) (*models.Deposit, error) {
	row := ds.db.QueryRowContext(ctx, `
		SELECT id, organ_id, bank_id, account_no, currency, has_banking_api_access,
		       balance, balance_last_synced_at, rahkaran_balance, rahkaran_balance_last_synced_at
		FROM deposits
		WHERE id = $1`, depositID)

	dep, err := scanDeposit(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrDepositNotFound
	}
	if err != nil {
		return nil, err
	}
	return dep, nil
}

// ListOrgans returns all organs
// @Summary List organs
// @Tags organs
// @Produce json
// @Success 200 {array} models.Organ
// @Router /organs [get]
func (ds *DepositService) ListOrgans(w http.ResponseWriter, r *http.Request) {
	rows, err := ds.db.QueryContext(r.Context(), `SELECT id, name, code, created_at, updated_at FROM organs ORDER BY name`)
	if err != nil {
		log.Printf("[DEPOSIT] Failed to list organs: %v", err)
		SendErrorResponse(w, "Failed to list organs", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	organs := []models.Organ{}
	for rows.Next() {
		var organ models.Organ
		if err := rows.Scan(&organ.ID, &organ.Name, &organ.Code, &organ.CreatedAt, &organ.UpdatedAt); err != nil {
			SendErrorResponse(w, "Failed to list organs", http.StatusInternalServerError, nil)
			return
		}
		organs = append(organs, organ)
	}
	SendJSON(w, organs)
}

// ListOrganDeposits returns one organ's deposits
// @Summary List an organ's deposits
// @Tags organs
// @Produce json
// @Param organId path int true "Organ ID"
// @Success 200 {array} models.Deposit
// @Failure 404 {object} ErrorResponse
// @Router /organs/{organId}/deposits [get]
func (ds *DepositService) ListOrganDeposits(w http.ResponseWriter, r *http.Request) {
	organID, err := strconv.Atoi(chi.URLParam(r, "organId"))
	if err != nil {
		SendErrorResponse(w, "Invalid organ id", http.StatusBadRequest, nil)
		return
	}

	var id int
	err = ds.db.QueryRowContext(r.Context(), `SELECT id FROM organs WHERE id = $1`, organID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		SendErrorResponse(w, ErrOrganNotFound.Error(), http.StatusNotFound, nil)
		return
	}
	if err != nil {
		SendErrorResponse(w, "Failed to list deposits", http.StatusInternalServerError, nil)
		return
	}

	rows, err := ds.db.QueryContext(r.Context(), `
		SELECT id, organ_id, bank_id, account_no, currency, has_banking_api_access,
		       balance, balance_last_synced_at, rahkaran_balance, rahkaran_balance_last_synced_at
		FROM deposits
		WHERE organ_id = $1
		ORDER BY id`, organID)
	if err != nil {
		SendErrorResponse(w, "Failed to list deposits", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	deposits := []models.Deposit{}
	for rows.Next() {
		dep, err := scanDeposit(rows)
		if err != nil {
			SendErrorResponse(w, "Failed to list deposits", http.StatusInternalServerError, nil)
			return
		}
		deposits = append(deposits, *dep)
	}
	SendJSON(w, deposits)
}

// GetDepositBalance returns a deposit's current cached balances
// @Summary Current balances of one deposit
// @Description Both source caches side by side; falls back to the latest ledger snapshot when the caches are empty
// @Tags deposits
// @Produce json
// @Param depositId path int true "Deposit ID"
// @Success 200 {object} DepositBalance
// @Failure 404 {object} ErrorResponse
// @Router /deposits/{depositId}/balance [get]
func (ds *DepositService) GetDepositBalance(w http.ResponseWriter, r *http.Request) {
	depositID, err := strconv.Atoi(chi.URLParam(r, "depositId"))
	if err != nil {
		SendErrorResponse(w, "Invalid deposit id", http.StatusBadRequest, nil)
		return
	}

	if cached := ds.cachedBalance(r.Context(), depositID); cached != nil {
		w.Header().Set("Content-Type", "application/json")
		w.Write(cached)
		return
	}

	dep, err := ds.GetDeposit(r.Context(), depositID)
	if errors.Is(err, ErrDepositNotFound) {
		SendErrorResponse(w, err.Error(), http.StatusNotFound, nil)
		return
	}
	if err != nil {
		log.Printf("[DEPOSIT] Failed to load deposit %d: %v", depositID, err)
		SendErrorResponse(w, "Failed to load deposit", http.StatusInternalServerError, nil)
		return
	}

	balance := DepositBalance{
		DepositID:                   dep.ID,
		AccountNo:                   dep.AccountNo,
		Currency:                    dep.Currency,
		Balance:                     dep.Balance,
		BalanceLastSyncedAt:         dep.BalanceLastSyncedAt,
		RahkaranBalance:             dep.RahkaranBalance,
		RahkaranBalanceLastSyncedAt: dep.RahkaranBalanceLastSyncedAt,
		Diverged:                    dep.Diverged(),
	}

	// Both caches empty, e.g. right after an ERP change event cleared the
	// internal side and before any re-fetch: serve the latest ledger row,
	// attributed to the side the observation came from.
	if balance.Balance == nil && balance.RahkaranBalance == nil {
		snap, err := ds.store.LatestAsOf(r.Context(), depositID, time.Now().UTC())
		if err == nil && snap != nil {
			switch {
			case snap.Rahkaran.OK():
				value, at := *snap.Rahkaran.Balance, *snap.Rahkaran.FetchedAt
				balance.RahkaranBalance = &value
				balance.RahkaranBalanceLastSyncedAt = &at
			case snap.Internal.OK():
				value, at := *snap.Internal.Balance, *snap.Internal.FetchedAt
				balance.Balance = &value
				balance.BalanceLastSyncedAt = &at
			}
		}
	}

	ds.cacheBalance(r.Context(), depositID, &balance)
	SendJSON(w, balance)
}

func (ds *DepositService) cachedBalance(ctx context.Context, depositID int) []byte {
	if ds.redis == nil {
		return nil
	}
	data, err := ds.redis.Get(ctx, depositBalanceCacheKey(depositID)).Bytes()
	if err != nil {
		return nil
	}
	return data
}

func (ds *DepositService) cacheBalance(ctx context.Context, depositID int, balance *DepositBalance) {
	if ds.redis == nil {
		return
	}
	data, err := json.Marshal(balance)
	if err != nil {
		return
	}
	if err := ds.redis.Set(ctx, depositBalanceCacheKey(depositID), data, balanceCacheTTL).Err(); err != nil {
		log.Printf("[DEPOSIT] Failed to cache balance for deposit %d: %v", depositID, err)
	}
}

func scanDeposit(row rowScanner) (*models.Deposit, error) {
	var (
		dep                        models.Deposit
		balance, rahkaranBalance   sql.NullInt64
		syncedAt, rahkaranSyncedAt sql.NullTime
	)

	if err := row.Scan(
		&dep.ID, &dep.OrganID, &dep.BankID, &dep.AccountNo, &dep.Currency, &dep.HasBankingAPIAccess,
		&balance, &syncedAt, &rahkaranBalance, &rahkaranSyncedAt,
	); err != nil {
		return nil, err
	}

	if balance.Valid {
		v := balance.Int64
		dep.Balance = &v
	}
	if syncedAt.Valid {
		t := syncedAt.Time
		dep.BalanceLastSyncedAt = &t
	}
	if rahkaranBalance.Valid {
		v := rahkaranBalance.Int64
		dep.RahkaranBalance = &v
	}
	if rahkaranSyncedAt.Valid {
		t := rahkaranSyncedAt.Time
		dep.RahkaranBalanceLastSyncedAt = &t
	}
	return &dep, nil
}
