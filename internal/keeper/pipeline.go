// Package keeper schedules and runs the per-epoch roll of each vault.
package keeper

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"optionsfi-keeper/internal/pricefeed"
	"optionsfi-keeper/internal/pricing"
	"optionsfi-keeper/internal/rfq"
	"optionsfi-keeper/internal/settle"
	"optionsfi-keeper/internal/vault"
	"optionsfi-keeper/internal/volatility"

	"go.uber.org/zap"
)

type Outcome string

const (
	OutcomeRolled     Outcome = "rolled"
	OutcomeSkipped    Outcome = "skipped"
	OutcomeInFlight   Outcome = "in_flight"
	OutcomeNoCapacity Outcome = "no_capacity"
	OutcomeNoFill     Outcome = "no_fill"
	OutcomeReview     Outcome = "review"
	OutcomeFailed     Outcome = "failed"
)

// Vault identifies one managed vault and its market data keys.
type Vault struct {
	AssetID     string
	Address     string
	Ticker      string
	Mint        string
	PriceFeedID string
}

type SpotSource interface {
	Latest(ctx context.Context, feedID string) (pricefeed.Quote, error)
}

type VolatilityEstimator interface {
	Estimate(ctx context.Context, asset volatility.Asset, lookbackDays int) (volatility.Estimate, error)
}

type CapacityChecker interface {
	Evaluate(s vault.State) vault.Capacity
}

type Auction interface {
	NewRequest(assetID, vaultAddress string, epoch uint64, strike float64, expiry time.Time, notional uint64) rfq.Request
	Run(ctx context.Context, req rfq.Request, theoretical float64) (rfq.Result, error)
}

type Settler interface {
	Submit(ctx context.Context, roll vault.RollInstruction) (settle.Outcome, error)
}

// Expirer owns the option written by the last roll and settles it once it
// has expired.
type Expirer interface {
	Pending(ctx context.Context, assetID string) (settle.OpenOption, bool, error)
	Settle(ctx context.Context, assetID string, spot float64) (settle.ExpiryResult, error)
	Open(ctx context.Context, roll vault.RollInstruction) error
}

// Limiter spaces confirmed rolls. It is checked before the auction and
// recorded only once a roll lands.
type Limiter interface {
	Remaining(op string) time.Duration
	Record(op string)
}

type PipelineOptions struct {
	LookbackDays     int
	MaxDivergence    float64
	HaltOnDivergence bool
	MaxRollFraction  float64
	TokenDecimals    int32
	PremiumDecimals  int32
}

// Report describes what one pipeline run observed and did.
type Report struct {
	AssetID    string
	Outcome    Outcome
	Reason     string
	Epoch      uint64
	Capacity   vault.Capacity
	Spot       float64
	Volatility volatility.Estimate
	Pricing    pricing.Result
	Notional   uint64
	// Theoretical is the fair total premium for Notional.
	Theoretical float64
	Auction     rfq.Result
	Premium     uint64
	ImpliedVol  float64
	Settlement  settle.Outcome
	// Expiry is the settlement of the previous epoch's option, when this run
	// closed one.
	Expiry   settle.ExpiryResult
	Started  time.Time
	Finished time.Time
}

type Pipeline struct {
	client     vault.Client
	capacity   CapacityChecker
	spot       SpotSource
	volatility VolatilityEstimator
	pricer     *pricing.Engine
	auction    Auction
	settler    Settler
	expiry     Expirer
	limiter    Limiter
	opts       PipelineOptions
	log        *zap.Logger
	now        func() time.Time
}

func NewPipeline(client vault.Client, capacity CapacityChecker, spot SpotSource, vol VolatilityEstimator, pricer *pricing.Engine, auction Auction, settler Settler, expiry Expirer, limiter Limiter, opts PipelineOptions, log *zap.Logger) *Pipeline {
	if log == nil {
		log = zap.NewNop()
	}
	return &Pipeline{
		client:     client,
		capacity:   capacity,
		spot:       spot,
		volatility: vol,
		pricer:     pricer,
		auction:    auction,
		settler:    settler,
		expiry:     expiry,
		limiter:    limiter,
		opts:       opts,
		log:        log,
		now:        time.Now,
	}
}

func RollLimiterKey(assetID string) string {
	return "roll:" + assetID
}

// Run takes one vault through capacity, pricing, auction and settlement.
// Benign halts return a nil error with the halting outcome; the caller owns
// per-vault exclusion.
func (p *Pipeline) Run(ctx context.Context, v Vault) (Report, error) {
	report := Report{AssetID: v.AssetID, Started: p.now()}
	finish := func(outcome Outcome, reason string, err error) (Report, error) {
		report.Outcome = outcome
		report.Reason = reason
		report.Finished = p.now()
		return report, err
	}

	st, err := p.client.GetVaultState(ctx, v.AssetID)
	if err != nil {
		return finish(OutcomeFailed, "vault state", fmt.Errorf("read vault state: %w", err))
	}
	report.Epoch = st.Epoch
	now := p.now()
	if st.IsPaused {
		return finish(OutcomeSkipped, "vault paused", nil)
	}
	if !st.RollDue(now) {
		return finish(OutcomeSkipped, "epoch not elapsed", nil)
	}
	if p.expiry != nil {
		res, _, err := p.settleExpired(ctx, v, now)
		report.Expiry = res
		switch {
		case errors.Is(err, settle.ErrNotExpired):
			return finish(OutcomeSkipped, err.Error(), nil)
		case err != nil:
			return finish(OutcomeFailed, "expiry settlement", err)
		}
	}

	capacity := p.capacity.Evaluate(st)
	report.Capacity = capacity
	if capacity.Violated {
		p.log.Error("vault exposure already exceeds utilization cap",
			zap.String("asset", v.AssetID),
			zap.Uint64("exposed", capacity.Exposed),
			zap.Uint64("total_assets", st.TotalAssets),
			zap.Uint16("cap_bps", st.UtilizationCapBps))
	}
	if !capacity.OK {
		return finish(OutcomeNoCapacity, fmt.Sprintf("available %d below tradeable minimum", capacity.Available), nil)
	}
	notional := vault.RollNotional(capacity, st.TotalAssets, p.opts.MaxRollFraction)
	if notional == 0 {
		return finish(OutcomeNoCapacity, "roll notional rounds to zero", nil)
	}
	report.Notional = notional

	quote, err := p.spot.Latest(ctx, v.PriceFeedID)
	if err != nil {
		return finish(OutcomeFailed, "spot price", fmt.Errorf("spot price: %w", err))
	}
	report.Spot = quote.Price

	est, err := p.volatility.Estimate(ctx, volatility.Asset{Mint: v.Mint, Ticker: v.Ticker}, p.opts.LookbackDays)
	if err != nil {
		return finish(OutcomeFailed, "volatility", fmt.Errorf("estimate volatility: %w", err))
	}
	report.Volatility = est
	if p.opts.HaltOnDivergence && p.opts.MaxDivergence > 0 && est.Divergence > p.opts.MaxDivergence {
		return finish(OutcomeReview, fmt.Sprintf("volatility divergence %.2f%% exceeds %.2f%%", pct(est.Divergence), pct(p.opts.MaxDivergence)), nil)
	}

	priced := p.pricer.Price(quote.Price, est.Volatility, est.Divergence)
	report.Pricing = priced
	tokens := vault.FromBaseUnits(notional, p.opts.TokenDecimals)
	report.Theoretical = priced.TheoreticalPremium * tokens

	rollKey := RollLimiterKey(v.AssetID)
	if p.limiter != nil {
		if wait := p.limiter.Remaining(rollKey); wait > 0 {
			return finish(OutcomeSkipped, fmt.Sprintf("roll rate limited for %s", wait.Round(time.Second)), nil)
		}
	}

	req := p.auction.NewRequest(v.AssetID, v.Address, st.Epoch, priced.Strike, p.pricer.Expiry(now), notional)
	res, err := p.auction.Run(ctx, req, report.Theoretical)
	if err != nil {
		return finish(OutcomeFailed, "auction", fmt.Errorf("rfq %s: %w", req.ID, err))
	}
	report.Auction = res
	if !res.Filled {
		return finish(OutcomeNoFill, fmt.Sprintf("no eligible quote (%d received, %d rejected)", res.Received, res.Rejected), nil)
	}
	if iv, ok := pricing.ImpliedVolatility(res.Best.Premium/tokens, quote.Price, priced.Strike, p.pricer.Years(), p.pricer.RiskFreeRate); ok {
		report.ImpliedVol = iv
	}

	premium, err := vault.ToBaseUnits(res.Best.Premium, p.opts.PremiumDecimals)
	if err != nil {
		return finish(OutcomeFailed, "premium conversion", fmt.Errorf("convert premium: %w", err))
	}
	report.Premium = premium

	roll := vault.RollInstruction{
		AssetID:       v.AssetID,
		ExpectedEpoch: st.Epoch,
		Notional:      notional,
		Premium:       premium,
		Strike:        priced.Strike,
		Expiry:        req.Expiry,
		MakerID:       res.Best.MakerID,
		RFQID:         res.Request.ID,
	}
	out, err := p.settler.Submit(ctx, roll)
	report.Settlement = out
	if err != nil {
		reason := "settlement"
		var rejected *vault.RejectedError
		if errors.As(err, &rejected) {
			reason = "rejected: " + rejected.Reason
		}
		return finish(OutcomeFailed, reason, fmt.Errorf("settle roll: %w", err))
	}
	if p.limiter != nil {
		p.limiter.Record(rollKey)
	}
	if p.expiry != nil {
		if err := p.expiry.Open(ctx, roll); err != nil {
			p.log.Error("open option record failed, expiry will not settle automatically",
				zap.String("asset", v.AssetID), zap.Uint64("epoch", st.Epoch+1), zap.Error(err))
		}
	}

	p.log.Info("epoch rolled",
		zap.String("asset", v.AssetID),
		zap.Uint64("epoch", st.Epoch),
		zap.String("maker", res.Best.MakerID),
		zap.Float64("premium", res.Best.Premium),
		zap.Float64("theoretical", report.Theoretical),
		zap.Float64("implied_vol", report.ImpliedVol),
		zap.String("signature", out.Signature),
		zap.Bool("recovered", out.Recovered))
	return finish(OutcomeRolled, "", nil)
}

// settleExpired closes the option opened by the previous roll. It reports
// false without error when no option is open.
func (p *Pipeline) settleExpired(ctx context.Context, v Vault, now time.Time) (settle.ExpiryResult, bool, error) {
	open, ok, err := p.expiry.Pending(ctx, v.AssetID)
	if err != nil {
		return settle.ExpiryResult{AssetID: v.AssetID}, false, fmt.Errorf("read open option: %w", err)
	}
	if !ok {
		return settle.ExpiryResult{AssetID: v.AssetID}, false, nil
	}
	if now.Before(open.Expiry) {
		return settle.ExpiryResult{AssetID: v.AssetID, Epoch: open.Epoch, Strike: open.Strike},
			false, fmt.Errorf("%w: epoch %d option expires %s", settle.ErrNotExpired, open.Epoch, open.Expiry.UTC().Format(time.RFC3339))
	}
	quote, err := p.spot.Latest(ctx, v.PriceFeedID)
	if err != nil {
		return settle.ExpiryResult{AssetID: v.AssetID, Epoch: open.Epoch}, false, fmt.Errorf("expiry spot price: %w", err)
	}
	res, err := p.expiry.Settle(ctx, v.AssetID, quote.Price)
	if err != nil {
		return res, false, err
	}
	return res, true, nil
}

// SettleExpiry settles the vault's expired option outside the roll tick.
func (p *Pipeline) SettleExpiry(ctx context.Context, v Vault) (settle.ExpiryResult, error) {
	if p.expiry == nil {
		return settle.ExpiryResult{AssetID: v.AssetID}, errors.New("expiry settlement not configured")
	}
	res, ok, err := p.settleExpired(ctx, v, p.now())
	if err == nil && !ok {
		err = settle.ErrNoOpenOption
	}
	return res, err
}

func pct(v float64) float64 {
	if math.IsInf(v, 0) {
		return v
	}
	return v * 100
}
