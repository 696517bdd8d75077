package pricing

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"github.com/vaultline/ledger/internal/httputil"
	"github.com/vaultline/ledger/pkg/logger"
)

// DefaultCoinIDs maps tickers to quote service coin ids.
var DefaultCoinIDs = map[string]string{
	"BTC":  "bitcoin",
	"ETH":  "ethereum",
	"USDT": "tether",
	"LTC":  "litecoin",
	"SOL":  "solana",
}

type HTTPConfig struct {
	BaseURL           string
	APIKey            string
	Timeout           time.Duration
	Retry             httputil.RetryConfig
	RequestsPerSecond float64
	CoinIDs           map[string]string
	// HTTPClient overrides the retrying client built from Timeout and Retry.
	HTTPClient *http.Client
}

// HTTPOracle queries a simple-price endpoint of the form
// <base>/simple/price?ids=<coin>&vs_currencies=usd and reads <coin>.usd.
type HTTPOracle struct {
	baseURL string
	apiKey  string
	client  *http.Client
	limiter *rate.Limiter
	coinIDs map[string]string
	log     *logger.Logger
}

func NewHTTPOracle(cfg HTTPConfig, log *logger.Logger) *HTTPOracle {
	if log == nil {
		log = logger.NewDefault("pricing")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	client := cfg.HTTPClient
	if client == nil {
		client = httputil.NewClient(cfg.Timeout, cfg.Retry)
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	coinIDs := cfg.CoinIDs
	if len(coinIDs) == 0 {
		coinIDs = DefaultCoinIDs
	}
	return &HTTPOracle{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  client,
		limiter: rate.NewLimiter(limit, 1),
		coinIDs: coinIDs,
		log:     log,
	}
}

func (o *HTTPOracle) USDPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	coinID, ok := o.coinIDs[symbol]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrUnsupportedSymbol, symbol)
	}
	if err := o.limiter.Wait(ctx); err != nil {
		return decimal.Zero, err
	}

	query := url.Values{"ids": {coinID}, "vs_currencies": {"usd"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL+"/simple/price?"+query.Encode(), nil)
	if err != nil {
		return decimal.Zero, err
	}
	req.Header.Set("Accept", "application/json")
	if o.apiKey != "" {
		req.Header.Set("x-cg-pro-api-key", o.apiKey)
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("price request for %s: %w", symbol, err)
	}
	body, err := httputil.ReadBody(resp)
	if err != nil {
		return decimal.Zero, fmt.Errorf("price request for %s: %w", symbol, err)
	}

	result := gjson.GetBytes(body, coinID+".usd")
	if !result.Exists() || result.Type != gjson.Number {
		return decimal.Zero, fmt.Errorf("no usd quote for %s in response", symbol)
	}
	price, err := decimal.NewFromString(result.Raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse usd quote for %s: %w", symbol, err)
	}
	if !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("non-positive usd quote for %s: %s", symbol, price)
	}

	o.log.WithField("symbol", symbol).WithField("price_usd", price.String()).Debug("fetched usd quote")
	return price, nil
}
