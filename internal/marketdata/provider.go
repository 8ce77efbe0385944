// Package marketdata implements the Market Data Provider contract: a
// vendor-agnostic streaming + historical bar source that publishes
// MarketData events onto the bus.
package marketdata

import (
	"context"
	"errors"
	"time"

	"tradecore/pkg/types"
)

// ErrNotConnected is returned by Subscribe before Connect has succeeded.
var ErrNotConnected = errors.New("marketdata: not connected")

// ErrAuthFailed is returned when the provider's credentials are rejected.
var ErrAuthFailed = errors.New("marketdata: authentication failed")

// ErrFatal's message is carried on the STOPPED SystemStatus event published
// once reconnection attempts are exhausted.
var ErrFatal = errors.New("marketdata: fatal, reconnect attempts exhausted")

// Provider is the vendor-agnostic streaming market data contract.
type Provider interface {
	Connect(ctx context.Context) error
	Disconnect() error
	Subscribe(symbols []string) error
	Unsubscribe(symbols []string) error
	GetHistoricalBars(ctx context.Context, symbol string, timeframe types.Timeframe, start, end time.Time) ([]types.Bar, error)
	IsConnected() bool
}
