package pricefeed

import (
	"context"
	"time"

	"optionsfi-keeper/internal/state"

	"go.uber.org/zap"
)

type SpotSource interface {
	Latest(ctx context.Context, feedID string) (Quote, error)
}

// Target maps an oracle feed to the history symbol it is stored under.
type Target struct {
	Symbol string
	FeedID string
}

// Sampler periodically snapshots spot prices into the price store so an
// on-chain realized volatility can be computed later.
type Sampler struct {
	spot      SpotSource
	store     state.PriceStore
	targets   []Target
	interval  time.Duration
	retention time.Duration
	log       *zap.Logger
	now       func() time.Time
}

func NewSampler(spot SpotSource, store state.PriceStore, targets []Target, interval, retention time.Duration, log *zap.Logger) *Sampler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Sampler{
		spot:      spot,
		store:     store,
		targets:   targets,
		interval:  interval,
		retention: retention,
		log:       log,
		now:       time.Now,
	}
}

func (s *Sampler) Run(ctx context.Context) error {
	s.SampleOnce(ctx)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.SampleOnce(ctx)
		}
	}
}

// SampleOnce records one price per target and prunes expired samples. It
// returns the number of samples stored.
func (s *Sampler) SampleOnce(ctx context.Context) int {
	stored := 0
	for _, target := range s.targets {
		if target.FeedID == "" || target.Symbol == "" {
			continue
		}
		quote, err := s.spot.Latest(ctx, target.FeedID)
		if err != nil {
			s.log.Warn("price sample failed", zap.String("symbol", target.Symbol), zap.Error(err))
			continue
		}
		ts := quote.PublishTime
		if ts.IsZero() {
			ts = s.now()
		}
		if err := s.store.AppendPrice(ctx, state.PricePoint{Symbol: target.Symbol, Time: ts, Price: quote.Price}); err != nil {
			s.log.Warn("price sample store failed", zap.String("symbol", target.Symbol), zap.Error(err))
			continue
		}
		stored++
	}
	if s.retention > 0 {
		if n, err := s.store.PrunePrices(ctx, s.now().Add(-s.retention)); err != nil {
			s.log.Warn("price sample prune failed", zap.Error(err))
		} else if n > 0 {
			s.log.Debug("pruned price samples", zap.Int64("rows", n))
		}
	}
	return stored
}
