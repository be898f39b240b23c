package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

const rahkaranSource = "rahkaran"

// RahkaranClient fetches deposit balances from the Rahkaran ERP feed.
// The feed reports amounts as decimal strings; balances in this domain are
// whole rials, so fractional amounts are rejected as parse failures.
type RahkaranClient struct {
	baseURL  string
	username string
	password string
	client   *http.Client
}

type rahkaranBalanceResponse struct {
	AccountNo string `json:"account_no"`
	Balance   string `json:"balance"`
	FetchedAt string `json:"fetched_at"`
}

// NewRahkaranClient builds a client from viper config.
func NewRahkaranClient() *RahkaranClient {
	viper.SetDefault("rahkaran.base_url", "http://localhost:9090")
	viper.SetDefault("rahkaran.timeout", 15*time.Second)

	return &RahkaranClient{
		baseURL:  viper.GetString("rahkaran.base_url"),
		username: viper.GetString("rahkaran.username"),
		password: viper.GetString("rahkaran.password"),
		client:   &http.Client{Timeout: viper.GetDuration("rahkaran.timeout")},
	}
}

func (c *RahkaranClient) Source() string {
	return rahkaranSource
}

// FetchBalance retrieves the ERP's view of one deposit's balance.
func (c *RahkaranClient) FetchBalance(ctx context.Context, accountNo string) (*Reading, error) {
	url := fmt.Sprintf("%s/api/deposits/%s/balance", c.baseURL, accountNo)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &FetchError{Source: rahkaranSource, AccountNo: accountNo, Err: err}
	}
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &FetchError{Source: rahkaranSource, AccountNo: accountNo, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &FetchError{
			Source:    rahkaranSource,
			AccountNo: accountNo,
			Err:       fmt.Errorf("unexpected status %d", resp.StatusCode),
		}
	}

	var body rahkaranBalanceResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, &FetchError{Source: rahkaranSource, AccountNo: accountNo, Err: err}
	}

	return c.parseReading(accountNo, body)
}

func (c *RahkaranClient) parseReading(accountNo string, body rahkaranBalanceResponse) (*Reading, error) {
	amount, err := decimal.NewFromString(body.Balance)
	if err != nil {
		return nil, &FetchError{Source: rahkaranSource, AccountNo: accountNo, Err: fmt.Errorf("invalid balance %q: %w", body.Balance, err)}
	}
	if !amount.IsInteger() {
		return nil, &FetchError{Source: rahkaranSource, AccountNo: accountNo, Err: fmt.Errorf("fractional balance %q not representable in rials", body.Balance)}
	}

	fetchedAt := time.Now().UTC()
	if body.FetchedAt != "" {
		parsed, err := time.Parse(time.RFC3339, body.FetchedAt)
		if err != nil {
			return nil, &FetchError{Source: rahkaranSource, AccountNo: accountNo, Err: fmt.Errorf("invalid fetched_at %q: %w", body.FetchedAt, err)}
		}
		fetchedAt = parsed.UTC()
	}

	return &Reading{Balance: amount.IntPart(), FetchedAt: fetchedAt}, nil
}
