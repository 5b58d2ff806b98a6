package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-logr/logr"
	"github.com/patrickmn/go-cache"

	"github.com/coinchat/backend/internal/config"
	"github.com/coinchat/backend/internal/model/market"
)

// ErrDataProvider is matched by every failure the gateway surfaces after
// exhausting its retries.
var ErrDataProvider = errors.New("market data provider error")

// ProviderError describes one failed provider operation.
type ProviderError struct {
	Op     string
	Status int
	Err    error

	permanent bool
}

func (e *ProviderError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: provider returned status %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Is makes every ProviderError match ErrDataProvider.
func (e *ProviderError) Is(target error) bool { return target == ErrDataProvider }

func (e *ProviderError) retryable() bool {
	if e.permanent {
		return false
	}
	return e.Status == 0 || e.Status == http.StatusTooManyRequests || e.Status >= http.StatusInternalServerError
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithLogger sets the client logger.
func WithLogger(logger logr.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithBackOff sets the retry schedule factory. A new BackOff is built per request.
func WithBackOff(newBackOff func() backoff.BackOff) Option {
	return func(c *Client) {
		c.newBackOff = newBackOff
	}
}

// Client is the CoinGecko-backed market data gateway.
type Client struct {
	cfg        config.MarketConfig
	httpClient *http.Client
	snapshots  *cache.Cache
	newBackOff func() backoff.BackOff
	logger     logr.Logger
}

// NewClient builds a gateway from configuration.
func NewClient(cfg config.MarketConfig, opts ...Option) *Client {
	defaults := config.DefaultMarketConfig()
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.Currency == "" {
		cfg.Currency = defaults.Currency
	}
	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{},
		newBackOff: func() backoff.BackOff { return backoff.NewExponentialBackOff() },
		logger:     logr.Discard(),
	}
	if cfg.CacheTTL > 0 {
		c.snapshots = cache.New(cfg.CacheTTL, 2*cfg.CacheTTL)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Currency returns the configured quote currency.
func (c *Client) Currency() string {
	return c.cfg.Currency
}

// GetSnapshot fetches current market data for the given coin ids. Unknown ids
// are simply absent from the result.
func (c *Client) GetSnapshot(ctx context.Context, ids []string, currency string) ([]market.Snapshot, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	currency = c.currencyOrDefault(currency)
	key := currency + "|" + strings.Join(ids, ",")

	if c.snapshots != nil {
		if cached, ok := c.snapshots.Get(key); ok {
			return append([]market.Snapshot(nil), cached.([]market.Snapshot)...), nil
		}
	}

	query := url.Values{}
	query.Set("vs_currency", currency)
	query.Set("ids", strings.Join(ids, ","))

	var snapshots []market.Snapshot
	if err := c.getJSON(ctx, "coins/markets", "/coins/markets", query, &snapshots); err != nil {
		return nil, err
	}

	if c.snapshots != nil {
		c.snapshots.SetDefault(key, append([]market.Snapshot(nil), snapshots...))
	}
	return snapshots, nil
}

type marketChartPayload struct {
	Prices [][2]float64 `json:"prices"`
}

// GetHistoricalSeries fetches the price history of one coin over the last days.
func (c *Client) GetHistoricalSeries(ctx context.Context, id, currency string, days int) (market.Series, error) {
	if days < 1 {
		return market.Series{}, &ProviderError{Op: "coins/market_chart", Err: fmt.Errorf("days must be positive, got %d", days), permanent: true}
	}
	currency = c.currencyOrDefault(currency)

	query := url.Values{}
	query.Set("vs_currency", currency)
	query.Set("days", strconv.Itoa(days))

	var payload marketChartPayload
	path := "/coins/" + url.PathEscape(id) + "/market_chart"
	if err := c.getJSON(ctx, "coins/market_chart", path, query, &payload); err != nil {
		return market.Series{}, err
	}

	points := make([]market.PricePoint, 0, len(payload.Prices))
	for _, pair := range payload.Prices {
		points = append(points, market.PricePoint{TimestampMs: int64(pair[0]), Price: pair[1]})
	}

	return market.Series{CoinID: id, Currency: currency, Days: days, Points: points}, nil
}

func (c *Client) currencyOrDefault(currency string) string {
	if currency = strings.ToLower(strings.TrimSpace(currency)); currency != "" {
		return currency
	}
	return c.cfg.Currency
}

// getJSON performs the request with retries and decodes the body into out.
func (c *Client) getJSON(ctx context.Context, op, path string, query url.Values, out any) error {
	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		err := c.fetch(ctx, op, path, query, out)
		if err == nil {
			return struct{}{}, nil
		}
		if ctx.Err() != nil {
			return struct{}{}, backoff.Permanent(ctx.Err())
		}

		var providerErr *ProviderError
		if errors.As(err, &providerErr) && !providerErr.retryable() {
			return struct{}{}, backoff.Permanent(err)
		}
		c.logger.V(1).Info("market request failed, retrying", "op", op, "attempt", attempt, "error", err.Error())
		return struct{}{}, err
	},
		backoff.WithBackOff(c.newBackOff()),
		backoff.WithMaxTries(uint(c.cfg.MaxRetries)),
	)
	if err == nil {
		return nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	var providerErr *ProviderError
	if !errors.As(err, &providerErr) {
		err = &ProviderError{Op: op, Err: err}
	}
	c.logger.Info("market request gave up", "op", op, "attempts", attempt, "error", err.Error())
	return err
}

func (c *Client) fetch(ctx context.Context, op, path string, query url.Values, out any) error {
	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	endpoint := c.cfg.BaseURL + path + "?" + query.Encode()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		return &ProviderError{Op: op, Err: err, permanent: true}
	}
	req.Header.Set("Accept", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("x-cg-demo-api-key", c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &ProviderError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &ProviderError{Op: op, Status: resp.StatusCode, Err: errors.New(strings.TrimSpace(string(body)))}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &ProviderError{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}
