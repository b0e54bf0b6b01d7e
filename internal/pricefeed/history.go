package pricefeed

import (
	"context"
	"time"

	"optionsfi-keeper/internal/state"
	"optionsfi-keeper/internal/volatility"
)

// History serves the locally sampled oracle prices as a volatility source.
type History struct {
	store state.PriceStore
	now   func() time.Time
}

func NewHistory(store state.PriceStore) *History {
	return &History{store: store, now: time.Now}
}

func (h *History) History(ctx context.Context, symbol string, lookbackDays int) ([]volatility.Sample, error) {
	since := h.now().Add(-time.Duration(lookbackDays) * 24 * time.Hour)
	points, err := h.store.PriceHistory(ctx, symbol, since)
	if err != nil {
		return nil, err
	}
	out := make([]volatility.Sample, len(points))
	for i, p := range points {
		out[i] = volatility.Sample{Time: p.Time, Price: p.Price}
	}
	return out, nil
}
