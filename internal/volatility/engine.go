// Package volatility blends on-chain and traditional-market realized
// volatility into the single input the option pricer consumes.
package volatility

import (
	"context"
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var ErrDataUnavailable = errors.New("volatility data unavailable")

type Recommendation string

const (
	RecommendationSafe    Recommendation = "safe"
	RecommendationCaution Recommendation = "caution"
	RecommendationWarning Recommendation = "warning"
)

func Recommend(divergence float64) Recommendation {
	switch {
	case divergence < 0.10:
		return RecommendationSafe
	case divergence < 0.25:
		return RecommendationCaution
	default:
		return RecommendationWarning
	}
}

// HistorySource returns price samples covering roughly the last lookbackDays.
type HistorySource interface {
	History(ctx context.Context, symbol string, lookbackDays int) ([]Sample, error)
}

type Asset struct {
	// Mint keys the on-chain history, Ticker the traditional market.
	Mint   string
	Ticker string
}

type Options struct {
	OnChainWeight     float64
	OffChainWeight    float64
	MinSamples        int
	OnChainAdjustment float64
}

type Estimate struct {
	Volatility     float64
	OnChain        float64
	OffChain       float64
	HasOnChain     bool
	HasOffChain    bool
	Fallback       bool
	Divergence     float64
	Recommendation Recommendation
}

type Engine struct {
	onChain  HistorySource
	offChain HistorySource
	opts     Options
	log      *zap.Logger
}

func NewEngine(onChain, offChain HistorySource, opts Options, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.OnChainAdjustment == 0 {
		opts.OnChainAdjustment = 1
	}
	if opts.OnChainWeight == 0 && opts.OffChainWeight == 0 {
		opts.OnChainWeight, opts.OffChainWeight = 0.5, 0.5
	}
	return &Engine{onChain: onChain, offChain: offChain, opts: opts, log: log}
}

func (e *Engine) Estimate(ctx context.Context, asset Asset, lookbackDays int) (Estimate, error) {
	var (
		onVol, offVol float64
		onErr, offErr error
		g             errgroup.Group
	)
	g.Go(func() error {
		onVol, onErr = e.onChainVol(ctx, asset.Mint, lookbackDays)
		return nil
	})
	g.Go(func() error {
		offVol, offErr = e.offChainVol(ctx, asset.Ticker, lookbackDays)
		return nil
	})
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return Estimate{}, err
	}

	est := Estimate{
		OnChain:     onVol,
		OffChain:    offVol,
		HasOnChain:  onErr == nil,
		HasOffChain: offErr == nil,
	}
	switch {
	case est.HasOnChain && est.HasOffChain:
		est.Volatility = e.blend(onVol, offVol)
		est.Divergence = Divergence(onVol, offVol)
	case est.HasOnChain:
		e.log.Warn("off-chain volatility unavailable, using on-chain only",
			zap.String("ticker", asset.Ticker), zap.Error(offErr))
		est.Volatility = onVol
		est.Fallback = true
	case est.HasOffChain:
		e.log.Warn("on-chain volatility unavailable, using off-chain only",
			zap.String("mint", asset.Mint), zap.Error(onErr))
		est.Volatility = offVol
		est.Fallback = true
	default:
		return Estimate{}, fmt.Errorf("%w: on-chain: %v; off-chain: %v", ErrDataUnavailable, onErr, offErr)
	}
	est.Recommendation = Recommend(est.Divergence)
	return est, nil
}

func (e *Engine) blend(onVol, offVol float64) float64 {
	total := e.opts.OnChainWeight + e.opts.OffChainWeight
	return (onVol*e.opts.OnChainWeight + offVol*e.opts.OffChainWeight) / total
}

func (e *Engine) onChainVol(ctx context.Context, mint string, lookbackDays int) (float64, error) {
	if e.onChain == nil || mint == "" {
		return 0, fmt.Errorf("%w: no on-chain source", ErrDataUnavailable)
	}
	samples, err := e.onChain.History(ctx, mint, lookbackDays)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrDataUnavailable, err)
	}
	vol, err := Realized(samples, PeriodsPerYear(samples), e.opts.MinSamples)
	if err != nil {
		return 0, err
	}
	// Round-the-clock trading adjustment for the tokenized asset.
	return vol * e.opts.OnChainAdjustment, nil
}

func (e *Engine) offChainVol(ctx context.Context, ticker string, lookbackDays int) (float64, error) {
	if e.offChain == nil || ticker == "" {
		return 0, fmt.Errorf("%w: no off-chain source", ErrDataUnavailable)
	}
	samples, err := e.offChain.History(ctx, ticker, lookbackDays)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrDataUnavailable, err)
	}
	return Realized(samples, TradingDaysPerYear, e.opts.MinSamples)
}

// Divergence is the relative disagreement of on-chain against off-chain vol.
func Divergence(onVol, offVol float64) float64 {
	if offVol == 0 {
		if onVol == 0 {
			return 0
		}
		return math.Inf(1)
	}
	return math.Abs(onVol-offVol) / offVol
}
