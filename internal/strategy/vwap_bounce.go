package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"tradecore/internal/bus"
	"tradecore/internal/indicators"
	"tradecore/pkg/types"
)

// VWAPBounceConfig parameterizes the VWAP Bounce strategy.
type VWAPBounceConfig struct {
	EMAPeriod       int
	BounceTolerance float64 // percent, default 0.3
	TargetProfit    float64 // percent, default 1.0
	StopLoss        float64 // percent, default 0.5
	Quantity        float64 // default 100
	Location        *time.Location
}

func DefaultVWAPBounceConfig(loc *time.Location) VWAPBounceConfig {
	return VWAPBounceConfig{
		EMAPeriod:       20,
		BounceTolerance: 0.3,
		TargetProfit:    1.0,
		StopLoss:        0.5,
		Quantity:        100,
		Location:        loc,
	}
}

type vwapBounceSymbolState struct {
	vwap        *indicators.VWAP
	ema         *indicators.EMA
	hasPosition bool
	entryPrice  float64
}

// VWAPBounce is a long-only day-trading strategy that buys pullbacks to
// VWAP in an uptrend and exits on profit target, trend break, runaway
// take-profit, or stop loss.
type VWAPBounce struct {
	*Runtime
	cfg    VWAPBounceConfig
	state  map[string]*vwapBounceSymbolState
	logger *slog.Logger
}

// NewVWAPBounce constructs a VWAP Bounce strategy instance.
func NewVWAPBounce(id string, symbols []string, cfg VWAPBounceConfig, b *bus.Bus, logger *slog.Logger) *VWAPBounce {
	s := &VWAPBounce{
		cfg:    cfg,
		state:  make(map[string]*vwapBounceSymbolState),
		logger: logger.With("strategy", id),
	}
	for _, sym := range symbols {
		s.state[sym] = &vwapBounceSymbolState{
			vwap: indicators.NewVWAP(cfg.Location),
			ema:  indicators.NewEMA(cfg.EMAPeriod),
		}
	}
	s.Runtime = NewRuntime(id, "vwap_bounce", symbols, s, b, logger)
	return s
}

func vwapBounceSchema(params map[string]any) error {
	return nil
}

// VWAPBounceFactory is registered under the name "vwap_bounce".
func VWAPBounceFactory(b *bus.Bus, logger *slog.Logger, loc *time.Location) Factory {
	return func(id string, symbols []string, params map[string]any) (Strategy, error) {
		cfg := DefaultVWAPBounceConfig(loc)
		if v, ok := params["ema_period"].(int); ok {
			cfg.EMAPeriod = v
		}
		if v, ok := params["bounce_tolerance"].(float64); ok {
			cfg.BounceTolerance = v
		}
		if v, ok := params["target_profit"].(float64); ok {
			cfg.TargetProfit = v
		}
		switch v := params["quantity"].(type) {
		case float64:
			cfg.Quantity = v
		case int:
			cfg.Quantity = float64(v)
		}
		return NewVWAPBounce(id, symbols, cfg, b, logger), nil
	}
}

func (s *VWAPBounce) OnOrderFilled(ctx context.Context, event types.OrderFilledEvent) {
	st, ok := s.state[event.Symbol]
	if !ok {
		return
	}
	// Authoritative position update overrides the optimistic flip made at
	// signal-emission time.
	st.hasPosition = event.Action == types.Buy
	if st.hasPosition {
		st.entryPrice = event.FillPrice
	}
}

func (s *VWAPBounce) OnMarketData(ctx context.Context, event types.MarketDataEvent) {
	st, ok := s.state[event.Symbol]
	if !ok {
		return
	}

	st.vwap.UpdateOHLCV(event.DataTimestamp, event.High, event.Low, event.Close, event.Volume)
	st.ema.Update(event.Close)

	if !st.vwap.IsReady() || !st.ema.IsReady() {
		return
	}

	distancePct := st.vwap.PriceDistanceFromVWAP(event.Close)
	vwapValue := st.vwap.Value()

	if !st.hasPosition {
		s.evaluateEntry(ctx, event, st, distancePct, vwapValue)
		return
	}
	s.evaluateExit(ctx, event, st, distancePct, vwapValue)
}

func (s *VWAPBounce) evaluateEntry(ctx context.Context, event types.MarketDataEvent, st *vwapBounceSymbolState, distancePct, vwapValue float64) {
	uptrend := event.Close > vwapValue && st.ema.Value() > vwapValue
	within := abs(distancePct) <= s.cfg.BounceTolerance
	if !uptrend || !within {
		return
	}

	confidence := 0.75 + (s.cfg.BounceTolerance-abs(distancePct))/s.cfg.BounceTolerance*0.15
	if confidence > 0.90 {
		confidence = 0.90
	}

	st.hasPosition = true // optimistic flip, OnOrderFilled is authoritative
	s.PublishSignal(ctx, types.SignalEvent{
		StrategyID: s.ID(),
		Symbol:     event.Symbol,
		Action:     types.Buy,
		Confidence: confidence,
		Quantity:   s.cfg.Quantity,
		Reason:     fmt.Sprintf("vwap bounce entry: distance=%.3f%% uptrend", distancePct),
		EventTime:  event.EventTime,
	})
}

func (s *VWAPBounce) evaluateExit(ctx context.Context, event types.MarketDataEvent, st *vwapBounceSymbolState, distancePct, vwapValue float64) {
	profitPct := (event.Close - st.entryPrice) / st.entryPrice * 100

	var confidence float64
	var reason string
	switch {
	case profitPct >= s.cfg.TargetProfit:
		confidence, reason = 0.80, "target profit reached"
	case event.Close < vwapValue:
		confidence, reason = 0.85, "trend break: price below vwap"
	case distancePct > 2*s.cfg.TargetProfit:
		confidence, reason = 0.90, "runaway take-profit"
	case profitPct <= -s.cfg.StopLoss:
		confidence, reason = 0.85, "stop loss"
	default:
		return
	}

	st.hasPosition = false // optimistic flip, OnOrderFilled is authoritative
	s.PublishSignal(ctx, types.SignalEvent{
		StrategyID: s.ID(),
		Symbol:     event.Symbol,
		Action:     types.Sell,
		Confidence: confidence,
		Quantity:   s.cfg.Quantity,
		Reason:     reason,
		EventTime:  event.EventTime,
	})
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
