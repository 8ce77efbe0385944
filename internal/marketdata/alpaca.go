package marketdata

import (
	"context"
	"fmt"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"tradecore/pkg/types"
)

// AlpacaHistorical is a concrete vendor adapter for historical bars, backed
// by the real Alpaca market data SDK rather than a hand-rolled REST shim.
// It only ever serves GetHistoricalBars — live streaming still goes through
// StreamProvider, configured against Alpaca's own websocket endpoint.
type AlpacaHistorical struct {
	client *marketdata.Client
}

// NewAlpacaHistorical builds an adapter authenticated with keyID/secretKey.
func NewAlpacaHistorical(keyID, secretKey string) *AlpacaHistorical {
	client := marketdata.NewClient(marketdata.ClientOpts{
		APIKey:    keyID,
		APISecret: secretKey,
	})
	return &AlpacaHistorical{client: client}
}

var timeframeToAlpaca = map[types.Timeframe]marketdata.TimeFrame{
	types.Timeframe1Min:  marketdata.OneMin,
	types.Timeframe5Min:  marketdata.NewTimeFrame(5, marketdata.Min),
	types.Timeframe1Hour: marketdata.OneHour,
	types.Timeframe1Day:  marketdata.OneDay,
}

// GetHistoricalBars fetches bars for symbol from Alpaca between start and
// end, in timestamp-ascending order (the SDK's native order).
func (a *AlpacaHistorical) GetHistoricalBars(ctx context.Context, symbol string, timeframe types.Timeframe, start, end time.Time) ([]types.Bar, error) {
	tf, ok := timeframeToAlpaca[timeframe]
	if !ok {
		return nil, fmt.Errorf("marketdata: unsupported timeframe %q for alpaca", timeframe)
	}

	bars, err := a.client.GetBars(symbol, marketdata.GetBarsRequest{
		TimeFrame: tf,
		Start:     start,
		End:       end,
	})
	if err != nil {
		return nil, fmt.Errorf("marketdata: alpaca get bars: %w", err)
	}

	out := make([]types.Bar, 0, len(bars))
	for _, b := range bars {
		out = append(out, types.Bar{
			Symbol:    symbol,
			Open:      b.Open,
			High:      b.High,
			Low:       b.Low,
			Close:     b.Close,
			Volume:    float64(b.Volume),
			Timestamp: b.Timestamp,
		})
	}
	return out, nil
}

