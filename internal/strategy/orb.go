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

// ORBConfig parameterizes the Opening Range Breakout strategy.
type ORBConfig struct {
	ATRPeriod     int
	RangeMinutes  int // length of the opening range, default 15
	MarketOpen    time.Duration // time-of-day offset, e.g. 9h30m
	ExitTime      time.Duration // force-close offset, default 15h55m
	ATRStopMult   float64       // default 2.0
	AllowShort    bool          // short entries on a breakdown below the opening range low; off by default
	Quantity      float64
	Location      *time.Location
}

func DefaultORBConfig(loc *time.Location) ORBConfig {
	return ORBConfig{
		ATRPeriod:    14,
		RangeMinutes: 15,
		MarketOpen:   9*time.Hour + 30*time.Minute,
		ExitTime:     15*time.Hour + 55*time.Minute,
		ATRStopMult:  2.0,
		AllowShort:   false,
		Quantity:     100,
		Location:     loc,
	}
}

type openingRange struct {
	high, low  float64
	isComplete bool
	startTs    time.Time
	endTs      time.Time
	barCount   int
}

type orbSymbolState struct {
	atr         *indicators.ATR
	or          openingRange
	currentDay  string
	direction   types.Side // "" flat, Buy = long, Sell = short
	tradedToday bool
	entryPrice  float64
	stopPrice   float64
}

// ORB buys a breakout of the opening range once it's complete, stops at
// max(range low, entry - k*ATR), and force-closes at the configured exit
// time. Short-side breakouts are gated off by AllowShort.
type ORB struct {
	*Runtime
	cfg    ORBConfig
	state  map[string]*orbSymbolState
	logger *slog.Logger
}

// NewORB constructs an Opening Range Breakout strategy instance.
func NewORB(id string, symbols []string, cfg ORBConfig, b *bus.Bus, logger *slog.Logger) *ORB {
	s := &ORB{
		cfg:    cfg,
		state:  make(map[string]*orbSymbolState),
		logger: logger.With("strategy", id),
	}
	for _, sym := range symbols {
		s.state[sym] = &orbSymbolState{atr: indicators.NewATR(cfg.ATRPeriod)}
	}
	s.Runtime = NewRuntime(id, "orb", symbols, s, b, logger)
	return s
}

// ORBFactory is registered under the name "orb".
func ORBFactory(b *bus.Bus, logger *slog.Logger, loc *time.Location) Factory {
	return func(id string, symbols []string, params map[string]any) (Strategy, error) {
		cfg := DefaultORBConfig(loc)
		if v, ok := params["range_minutes"].(int); ok {
			cfg.RangeMinutes = v
		}
		if v, ok := params["allow_short"].(bool); ok {
			cfg.AllowShort = v
		}
		switch v := params["quantity"].(type) {
		case float64:
			cfg.Quantity = v
		case int:
			cfg.Quantity = float64(v)
		}
		return NewORB(id, symbols, cfg, b, logger), nil
	}
}

func (s *ORB) OnOrderFilled(ctx context.Context, event types.OrderFilledEvent) {
	st, ok := s.state[event.Symbol]
	if !ok {
		return
	}
	switch event.Action {
	case types.Buy:
		if st.direction == types.Sell {
			st.direction = "" // short covered
		} else {
			st.direction = types.Buy // long opened
			st.entryPrice = event.FillPrice
		}
	case types.Sell:
		if st.direction == types.Buy {
			st.direction = "" // long closed
		} else {
			st.direction = types.Sell // short opened
			st.entryPrice = event.FillPrice
		}
	}
}

func (s *ORB) OnMarketData(ctx context.Context, event types.MarketDataEvent) {
	st, ok := s.state[event.Symbol]
	if !ok {
		return
	}

	day := event.DataTimestamp.In(s.cfg.Location).Format("2006-01-02")
	if day != st.currentDay {
		s.resetDay(st, day)
	}
	st.atr.UpdateOHLCV(event.High, event.Low, event.Close)

	tod := timeOfDay(event.DataTimestamp, s.cfg.Location)
	rangeEnd := s.cfg.MarketOpen + time.Duration(s.cfg.RangeMinutes)*time.Minute

	switch {
	case tod < s.cfg.MarketOpen:
		return
	case tod < rangeEnd:
		s.accumulateRange(st, event)
		return
	}

	if !st.or.isComplete {
		st.or.isComplete = true
		st.or.endTs = event.DataTimestamp
	}

	if st.direction != "" {
		s.evaluateExit(ctx, event, st, tod)
		return
	}
	if !st.tradedToday && tod < s.cfg.ExitTime {
		s.evaluateEntry(ctx, event, st)
	}
}

func (s *ORB) resetDay(st *orbSymbolState, day string) {
	st.currentDay = day
	st.or = openingRange{}
	st.direction = ""
	st.tradedToday = false
	st.atr.Reset()
}

func (s *ORB) accumulateRange(st *orbSymbolState, event types.MarketDataEvent) {
	if st.or.barCount == 0 {
		st.or.startTs = event.DataTimestamp
		st.or.high = event.High
		st.or.low = event.Low
	} else {
		if event.High > st.or.high {
			st.or.high = event.High
		}
		if event.Low < st.or.low {
			st.or.low = event.Low
		}
	}
	st.or.barCount++
}

func (s *ORB) evaluateEntry(ctx context.Context, event types.MarketDataEvent, st *orbSymbolState) {
	if event.Close > st.or.high {
		s.enterLong(ctx, event, st)
		return
	}
	if s.cfg.AllowShort && event.Close < st.or.low {
		s.enterShort(ctx, event, st)
	}
}

func (s *ORB) enterLong(ctx context.Context, event types.MarketDataEvent, st *orbSymbolState) {
	breakoutPct := (event.Close - st.or.high) / st.or.high * 100
	confidence := 0.80
	if breakoutPct > 0.5 {
		confidence = 0.85
	}

	st.tradedToday = true
	st.direction = types.Buy // optimistic flip, OnOrderFilled is authoritative
	st.entryPrice = event.Close

	stopDistance := st.atr.GetStopLossDistance(s.cfg.ATRStopMult)
	st.stopPrice = st.or.low
	if computed := event.Close - stopDistance; computed > st.stopPrice {
		st.stopPrice = computed
	}

	s.PublishSignal(ctx, types.SignalEvent{
		StrategyID: s.ID(),
		Symbol:     event.Symbol,
		Action:     types.Buy,
		Confidence: confidence,
		Quantity:   s.cfg.Quantity,
		Reason:     fmt.Sprintf("orb breakout: %.3f%% above opening range high", breakoutPct),
		EventTime:  event.EventTime,
	})
}

// enterShort mirrors enterLong for a breakdown below the opening range low.
// Only reached when AllowShort is set; off by default.
func (s *ORB) enterShort(ctx context.Context, event types.MarketDataEvent, st *orbSymbolState) {
	breakdownPct := (st.or.low - event.Close) / st.or.low * 100
	confidence := 0.80
	if breakdownPct > 0.5 {
		confidence = 0.85
	}

	st.tradedToday = true
	st.direction = types.Sell // optimistic flip, OnOrderFilled is authoritative
	st.entryPrice = event.Close

	stopDistance := st.atr.GetStopLossDistance(s.cfg.ATRStopMult)
	st.stopPrice = st.or.high
	if computed := event.Close + stopDistance; computed < st.stopPrice {
		st.stopPrice = computed
	}

	s.PublishSignal(ctx, types.SignalEvent{
		StrategyID: s.ID(),
		Symbol:     event.Symbol,
		Action:     types.Sell,
		Confidence: confidence,
		Quantity:   s.cfg.Quantity,
		Reason:     fmt.Sprintf("orb breakdown: %.3f%% below opening range low", breakdownPct),
		EventTime:  event.EventTime,
	})
}

func (s *ORB) evaluateExit(ctx context.Context, event types.MarketDataEvent, st *orbSymbolState, tod time.Duration) {
	forceClose := tod >= s.cfg.ExitTime
	var stopHit bool
	if st.direction == types.Sell {
		stopHit = event.Close >= st.stopPrice
	} else {
		stopHit = event.Close <= st.stopPrice
	}

	if !forceClose && !stopHit {
		return
	}

	reason := "stop loss"
	confidence := 0.85
	if forceClose {
		reason = "forced close at exit time"
		confidence = 0.80
	}

	exitAction := types.Sell
	if st.direction == types.Sell {
		exitAction = types.Buy // covering a short closes with a buy
	}

	st.direction = "" // optimistic flip, OnOrderFilled is authoritative
	s.PublishSignal(ctx, types.SignalEvent{
		StrategyID: s.ID(),
		Symbol:     event.Symbol,
		Action:     exitAction,
		Confidence: confidence,
		Quantity:   s.cfg.Quantity,
		Reason:     reason,
		EventTime:  event.EventTime,
	})
}

// ForceCloseAll closes any open position on every symbol regardless of
// whether a bar has arrived at or after the configured exit time. The
// engine schedules this via cron at a fixed 15:55 (DefaultORBConfig's
// ExitTime, which ORBFactory does not override) as a proactive
// complement to the lazy per-bar check in evaluateExit — a symbol with no
// trade at exactly the exit minute would otherwise stay open until its next
// bar.
func (s *ORB) ForceCloseAll(ctx context.Context) {
	for symbol, st := range s.state {
		if st.direction == "" {
			continue
		}
		exitAction := types.Sell
		if st.direction == types.Sell {
			exitAction = types.Buy // covering a short closes with a buy
		}
		st.direction = ""
		s.PublishSignal(ctx, types.SignalEvent{
			StrategyID: s.ID(),
			Symbol:     symbol,
			Action:     exitAction,
			Confidence: 0.80,
			Quantity:   s.cfg.Quantity,
			Reason:     "forced close at exit time (scheduled)",
			EventTime:  time.Now(),
		})
	}
}

func timeOfDay(ts time.Time, loc *time.Location) time.Duration {
	t := ts.In(loc)
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute + time.Duration(t.Second())*time.Second
}
