package app

import (
	"context"
	"time"

	"optionsfi-keeper/internal/keeper"
	"optionsfi-keeper/internal/solvency"
	"optionsfi-keeper/internal/state"
	"optionsfi-keeper/internal/timescale"

	"go.uber.org/zap"
)

// recorder keeps the last roll snapshot per vault in the state store and
// mirrors every roll and solvency check to Timescale when enabled.
type recorder struct {
	store     state.Store
	timescale *timescale.Writer
	log       *zap.Logger
}

func (r *recorder) RecordRoll(ctx context.Context, report keeper.Report, err error) {
	if report.Outcome == keeper.OutcomeSkipped || report.Outcome == keeper.OutcomeInFlight {
		return
	}
	errText := ""
	if err != nil {
		errText = err.Error()
	}
	now := time.Now().UTC()
	if r.store != nil {
		snap := state.RollSnapshot{
			AssetID:     report.AssetID,
			Outcome:     string(report.Outcome),
			Epoch:       report.Epoch,
			Spot:        report.Spot,
			Strike:      report.Pricing.Strike,
			Volatility:  report.Volatility.Volatility,
			Divergence:  report.Volatility.Divergence,
			Theoretical: report.Theoretical,
			Premium:     report.Auction.Best.Premium,
			MakerID:     report.Auction.Best.MakerID,
			Signature:   report.Settlement.Signature,
			Error:       errText,
			UpdatedAtMS: now.UnixMilli(),
		}
		if err := state.SaveRollSnapshot(ctx, r.store, snap); err != nil && r.log != nil {
			r.log.Warn("roll snapshot save failed", zap.String("asset", report.AssetID), zap.Error(err))
		}
	}
	r.timescale.EnqueueRoll(timescale.RollRecord{
		Time:        now,
		AssetID:     report.AssetID,
		Epoch:       report.Epoch,
		Outcome:     string(report.Outcome),
		Reason:      report.Reason,
		Spot:        report.Spot,
		Strike:      report.Pricing.Strike,
		Volatility:  report.Volatility.Volatility,
		Divergence:  report.Volatility.Divergence,
		Theoretical: report.Theoretical,
		Notional:    report.Notional,
		Premium:     report.Auction.Best.Premium,
		MakerID:     report.Auction.Best.MakerID,
		RFQID:       report.Auction.Request.ID,
		Quotes:      report.Auction.Received,
		Rejected:    report.Auction.Rejected,
		ImpliedVol:  report.ImpliedVol,
		Signature:   report.Settlement.Signature,
		Attempts:    report.Settlement.Attempts,
		Error:       errText,
	})
}

func (r *recorder) RecordSolvency(ctx context.Context, report solvency.Report, err error) {
	errText := ""
	if err != nil {
		errText = err.Error()
	}
	r.timescale.EnqueueSolvency(timescale.SolvencyRecord{
		Time:      time.Now().UTC(),
		AssetID:   report.AssetID,
		Recorded:  report.Recorded,
		Actual:    report.Actual,
		Shortfall: report.Shortfall,
		Signature: report.Signature,
		Error:     errText,
	})
}
