package marketdata

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"tradecore/pkg/types"
)

// barsResponse is the JSON shape returned by GET /bars.
type barsResponse struct {
	Bars []barMessage `json:"bars"`
}

// HistoricalClient fetches historical bars over REST, retrying on 5xx
// errors, matching the teacher's resty client construction.
type HistoricalClient struct {
	http *resty.Client
}

// NewHistoricalClient builds a resty-backed historical bars client against
// baseURL.
func NewHistoricalClient(baseURL string) *HistoricalClient {
	http := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		})
	return &HistoricalClient{http: http}
}

// GetHistoricalBars fetches timestamp-ascending bars for symbol between
// start and end.
func (c *HistoricalClient) GetHistoricalBars(ctx context.Context, symbol string, timeframe types.Timeframe, start, end time.Time) ([]types.Bar, error) {
	var result barsResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"symbol":    symbol,
			"timeframe": string(timeframe),
			"start":     start.Format(time.RFC3339Nano),
			"end":       end.Format(time.RFC3339Nano),
		}).
		SetResult(&result).
		Get("/bars")
	if err != nil {
		return nil, fmt.Errorf("marketdata: get historical bars: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("marketdata: get historical bars: status %d: %s", resp.StatusCode(), resp.String())
	}

	bars := make([]types.Bar, 0, len(result.Bars))
	for _, b := range result.Bars {
		bars = append(bars, types.Bar{
			Symbol:    b.Symbol,
			Open:      b.Open,
			High:      b.High,
			Low:       b.Low,
			Close:     b.Close,
			Volume:    b.Volume,
			Timestamp: b.TS,
		})
	}
	return bars, nil
}

// HistoricalSource serves GetHistoricalBars on behalf of a StreamProvider.
// HistoricalClient and AlpacaHistorical both implement it, so either can
// back the historical half of the Provider contract while StreamProvider
// always owns the live half.
type HistoricalSource interface {
	GetHistoricalBars(ctx context.Context, symbol string, timeframe types.Timeframe, start, end time.Time) ([]types.Bar, error)
}

// GetHistoricalBars on StreamProvider delegates to its configured
// HistoricalSource so the same Provider value satisfies both the streaming
// and historical halves of the contract.
func (p *StreamProvider) GetHistoricalBars(ctx context.Context, symbol string, timeframe types.Timeframe, start, end time.Time) ([]types.Bar, error) {
	if p.historical == nil {
		return nil, fmt.Errorf("marketdata: no historical source configured")
	}
	return p.historical.GetHistoricalBars(ctx, symbol, timeframe, start, end)
}

// WithHistoricalSource attaches a HistoricalSource (a HistoricalClient or
// an AlpacaHistorical) to serve GetHistoricalBars calls.
func (p *StreamProvider) WithHistoricalSource(c HistoricalSource) *StreamProvider {
	p.historical = c
	return p
}
