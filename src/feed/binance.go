package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
)

const DefaultBinanceURL = "https://api.binance.com"

// BinanceSource polls the public klines endpoint.
type BinanceSource struct {
	baseURL    string
	client     *http.Client
	closedOnly bool
}

type BinanceOption func(*BinanceSource)

func WithHTTPClient(client *http.Client) BinanceOption {
	return func(b *BinanceSource) {
		b.client = client
	}
}

// WithClosedOnly reports the last completed bar instead of the one still
// forming.
func WithClosedOnly() BinanceOption {
	return func(b *BinanceSource) {
		b.closedOnly = true
	}
}

func NewBinanceSource(baseURL string, opts ...BinanceOption) *BinanceSource {
	if baseURL == "" {
		baseURL = DefaultBinanceURL
	}
	b := &BinanceSource{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *BinanceSource) klinesURL(symbol, timeframe string) (string, error) {
	u, err := url.Parse(b.baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base url %q: %w", b.baseURL, err)
	}
	u = u.JoinPath("/api/v3/klines")
	q := u.Query()
	q.Set("symbol", ExchangeSymbol(symbol))
	q.Set("interval", timeframe)
	q.Set("limit", "2")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Latest fetches the two most recent klines and returns the newest one, or
// the older one when only closed bars are wanted.
func (b *BinanceSource) Latest(ctx context.Context, symbol, timeframe string) (Candle, error) {
	endpoint, err := b.klinesURL(symbol, timeframe)
	if err != nil {
		return Candle{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Candle{}, err
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return Candle{}, fmt.Errorf("klines request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Candle{}, fmt.Errorf("klines status %s: %s", resp.Status, string(body))
	}

	var rows [][]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return Candle{}, fmt.Errorf("decoding klines: %w", err)
	}
	if len(rows) == 0 {
		return Candle{}, ErrNoData
	}

	row := rows[len(rows)-1]
	if b.closedOnly {
		if len(rows) < 2 {
			return Candle{}, ErrNoData
		}
		row = rows[len(rows)-2]
	}
	return parseKline(row)
}

func parseKline(row []json.RawMessage) (Candle, error) {
	if len(row) < 5 {
		return Candle{}, fmt.Errorf("kline has %d fields, want at least 5", len(row))
	}
	var openMs int64
	if err := json.Unmarshal(row[0], &openMs); err != nil {
		return Candle{}, fmt.Errorf("kline open time: %w", err)
	}
	var closeStr string
	if err := json.Unmarshal(row[4], &closeStr); err != nil {
		return Candle{}, fmt.Errorf("kline close: %w", err)
	}
	return newCandle(openMs, closeStr)
}

func newCandle(openMs int64, closeStr string) (Candle, error) {
	c, err := decimal.NewFromString(closeStr)
	if err != nil {
		return Candle{}, fmt.Errorf("close %q: %w", closeStr, err)
	}
	return Candle{
		Open:  time.UnixMilli(openMs).UTC(),
		Close: c,
	}, nil
}
