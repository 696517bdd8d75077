// Package pricing converts USD amounts into crypto quantities using an
// upstream quote service.
package pricing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/vaultline/ledger/internal/config"
	"github.com/vaultline/ledger/internal/httputil"
	"github.com/vaultline/ledger/pkg/logger"
)

// ErrUnsupportedSymbol is returned for tickers the oracle cannot quote.
var ErrUnsupportedSymbol = errors.New("unsupported crypto symbol")

// Oracle returns the current USD price of one unit of a crypto symbol.
type Oracle interface {
	USDPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// OracleFunc adapts a function to the Oracle interface.
type OracleFunc func(ctx context.Context, symbol string) (decimal.Decimal, error)

func (f OracleFunc) USDPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return f(ctx, symbol)
}

// CryptoAmount converts a USD amount at price into crypto units, 8 decimal places.
func CryptoAmount(usd, price decimal.Decimal) decimal.Decimal {
	if !price.IsPositive() {
		return decimal.Zero
	}
	return usd.DivRound(price, 8)
}

// New builds the oracle selected by cfg.Mode.
func New(cfg config.PricingConfig, log *logger.Logger) (Oracle, error) {
	switch cfg.Mode {
	case "static":
		prices, err := ParseStaticPrices(cfg.StaticPrices)
		if err != nil {
			return nil, err
		}
		return NewStaticOracle(prices), nil
	case "http", "":
		retry := httputil.DefaultRetryConfig()
		if cfg.MaxRetries >= 0 {
			retry.MaxRetries = cfg.MaxRetries
		}
		if cfg.InitialBackoff > 0 {
			retry.InitialBackoff = cfg.InitialBackoff
		}
		return NewHTTPOracle(HTTPConfig{
			BaseURL:           cfg.BaseURL,
			APIKey:            cfg.APIKey,
			Timeout:           cfg.Timeout,
			Retry:             retry,
			RequestsPerSecond: cfg.RequestsPerSecond,
		}, log), nil
	default:
		return nil, fmt.Errorf("unsupported pricing mode %q", cfg.Mode)
	}
}

// StaticOracle serves fixed prices.
type StaticOracle struct {
	prices map[string]decimal.Decimal
}

func NewStaticOracle(prices map[string]decimal.Decimal) *StaticOracle {
	normalized := make(map[string]decimal.Decimal, len(prices))
	for symbol, price := range prices {
		normalized[strings.ToUpper(strings.TrimSpace(symbol))] = price
	}
	return &StaticOracle{prices: normalized}
}

func (o *StaticOracle) USDPrice(_ context.Context, symbol string) (decimal.Decimal, error) {
	price, ok := o.prices[strings.ToUpper(strings.TrimSpace(symbol))]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrUnsupportedSymbol, symbol)
	}
	return price, nil
}

// ParseStaticPrices parses SYMBOL=price pairs.
func ParseStaticPrices(pairs []string) (map[string]decimal.Decimal, error) {
	prices := make(map[string]decimal.Decimal, len(pairs))
	for _, pair := range pairs {
		symbol, raw, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("invalid static price %q: want SYMBOL=price", pair)
		}
		price, err := decimal.NewFromString(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("invalid static price %q: %w", pair, err)
		}
		if !price.IsPositive() {
			return nil, fmt.Errorf("static price for %s must be positive", symbol)
		}
		prices[strings.ToUpper(strings.TrimSpace(symbol))] = price
	}
	return prices, nil
}
