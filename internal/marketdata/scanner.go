package marketdata

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"time"

	"tradecore/pkg/types"
)

// ScanResult is the ranked symbol universe produced by one Scanner pass.
type ScanResult struct {
	Symbols   []RankedSymbol
	ScannedAt time.Time
}

// RankedSymbol is one symbol's opportunity score: recent volume weighted by
// realized volatility, the same shape of composite score the teacher's
// market scanner used for spread-volume-liquidity ranking, adapted to bars.
type RankedSymbol struct {
	Symbol     string
	Volume     float64
	Volatility float64
	Score      float64
}

// Scanner periodically ranks a configured symbol universe by recent volume
// and realized volatility, publishing the latest top-N on Results(). The
// engine runs it but does not read its results; strategy symbol lists come
// only from configuration.
type Scanner struct {
	provider Provider
	universe []string
	topN     int
	lookback time.Duration
	timeframe types.Timeframe
	interval time.Duration

	logger   *slog.Logger
	resultCh chan ScanResult
}

// NewScanner creates a scanner over universe, ranking with provider's
// historical bars.
func NewScanner(provider Provider, universe []string, topN int, lookback time.Duration, timeframe types.Timeframe, interval time.Duration, logger *slog.Logger) *Scanner {
	return &Scanner{
		provider:  provider,
		universe:  universe,
		topN:      topN,
		lookback:  lookback,
		timeframe: timeframe,
		interval:  interval,
		logger:    logger.With("component", "scanner"),
		resultCh:  make(chan ScanResult, 1),
	}
}

// Results returns the channel that carries the latest ranked symbol set.
func (s *Scanner) Results() <-chan ScanResult { return s.resultCh }

// Run starts the polling loop. Blocks until ctx is cancelled.
func (s *Scanner) Run(ctx context.Context) {
	s.scan(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.scan(ctx)
		}
	}
}

func (s *Scanner) scan(ctx context.Context) {
	end := time.Now()
	start := end.Add(-s.lookback)

	ranked := make([]RankedSymbol, 0, len(s.universe))
	for _, symbol := range s.universe {
		bars, err := s.provider.GetHistoricalBars(ctx, symbol, s.timeframe, start, end)
		if err != nil {
			s.logger.Warn("scan: fetch bars failed", "symbol", symbol, "error", err)
			continue
		}
		if len(bars) < 2 {
			continue
		}
		ranked = append(ranked, score(symbol, bars))
	}

	sort.Slice(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })
	if len(ranked) > s.topN {
		ranked = ranked[:s.topN]
	}

	result := ScanResult{Symbols: ranked, ScannedAt: time.Now()}
	s.logger.Info("scan complete", "universe", len(s.universe), "selected", len(ranked))

	select {
	case s.resultCh <- result:
	default:
		select {
		case <-s.resultCh:
		default:
		}
		s.resultCh <- result
	}
}

// score computes volume * sqrt(realizedVolatility), a composite akin to the
// spread*sqrt(volume)*liquidityFactor ranking used for opportunity scoring
// elsewhere in this codebase's ancestry, adapted to bar data.
func score(symbol string, bars []types.Bar) RankedSymbol {
	var totalVolume float64
	returns := make([]float64, 0, len(bars)-1)
	for i, b := range bars {
		totalVolume += b.Volume
		if i > 0 && bars[i-1].Close > 0 {
			returns = append(returns, (b.Close-bars[i-1].Close)/bars[i-1].Close)
		}
	}
	vol := stddev(returns)
	return RankedSymbol{
		Symbol:     symbol,
		Volume:     totalVolume,
		Volatility: vol,
		Score:      totalVolume * math.Sqrt(vol+1e-9),
	}
}

func stddev(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var mean float64
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))

	var sumSq float64
	for _, x := range xs {
		d := x - mean
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(xs)))
}
