package settle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"optionsfi-keeper/internal/metrics"
	"optionsfi-keeper/internal/pricing"
	"optionsfi-keeper/internal/state"
	"optionsfi-keeper/internal/vault"

	"go.uber.org/zap"
)

var (
	ErrNoOpenOption = errors.New("no open option")
	ErrNotExpired   = errors.New("option not expired")
)

// alreadySettledReason is the gateway's rejection for a repeated settlement.
const alreadySettledReason = "EpochAlreadySettled"

// OpenOption is the covered call written by the last confirmed roll.
type OpenOption struct {
	AssetID    string    `json:"asset_id"`
	Epoch      uint64    `json:"epoch"`
	Strike     float64   `json:"strike"`
	Expiry     time.Time `json:"expiry"`
	Notional   uint64    `json:"notional"`
	Premium    uint64    `json:"premium"`
	MakerID    string    `json:"maker_id"`
	RFQID      string    `json:"rfq_id"`
	OpenedAtMS int64     `json:"opened_at_ms"`
}

type ExpiryResult struct {
	AssetID    string  `json:"asset_id"`
	Epoch      uint64  `json:"epoch"`
	Spot       float64 `json:"spot"`
	Strike     float64 `json:"strike"`
	InTheMoney bool    `json:"itm"`
	Payoff     uint64  `json:"payoff"`
	Premium    uint64  `json:"premium"`
	NetPremium uint64  `json:"net_premium"`
	Signature  string  `json:"signature,omitempty"`
	Settled    bool    `json:"settled"`
	// Recovered is set when the gateway had already seen this settlement.
	Recovered bool `json:"recovered,omitempty"`
}

type EpochSettler interface {
	SettleEpoch(ctx context.Context, s vault.Settlement) (string, error)
}

type ExpiryOptions struct {
	TokenDecimals   int32
	PremiumDecimals int32
}

// Expiry tracks the open option per vault and settles it once expired.
type Expiry struct {
	client  EpochSettler
	store   state.Store
	opts    ExpiryOptions
	metrics *metrics.Metrics
	log     *zap.Logger
	now     func() time.Time
}

func NewExpiry(client EpochSettler, store state.Store, opts ExpiryOptions, m *metrics.Metrics, log *zap.Logger) *Expiry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Expiry{
		client:  client,
		store:   store,
		opts:    opts,
		metrics: metrics.OrNoop(m),
		log:     log,
		now:     time.Now,
	}
}

func OpenOptionKey(assetID string) string {
	return "option:open:" + assetID
}

func SettledOptionKey(assetID string) string {
	return "option:settled:" + assetID
}

// Open records the option written by a confirmed roll. The option belongs to
// the epoch the roll moved the vault into.
func (e *Expiry) Open(ctx context.Context, roll vault.RollInstruction) error {
	return e.save(ctx, OpenOptionKey(roll.AssetID), OpenOption{
		AssetID:    roll.AssetID,
		Epoch:      roll.ExpectedEpoch + 1,
		Strike:     roll.Strike,
		Expiry:     roll.Expiry.UTC(),
		Notional:   roll.Notional,
		Premium:    roll.Premium,
		MakerID:    roll.MakerID,
		RFQID:      roll.RFQID,
		OpenedAtMS: e.now().UnixMilli(),
	})
}

func (e *Expiry) Pending(ctx context.Context, assetID string) (OpenOption, bool, error) {
	raw, ok, err := e.store.Get(ctx, OpenOptionKey(assetID))
	if err != nil || !ok || strings.TrimSpace(raw) == "" {
		return OpenOption{}, false, err
	}
	var open OpenOption
	if err := json.Unmarshal([]byte(raw), &open); err != nil {
		return OpenOption{}, false, fmt.Errorf("decode open option: %w", err)
	}
	return open, true, nil
}

// Settle closes the open option at spot. The payoff is deducted from the
// premium and only the remainder is credited to the vault.
func (e *Expiry) Settle(ctx context.Context, assetID string, spot float64) (ExpiryResult, error) {
	open, ok, err := e.Pending(ctx, assetID)
	if err != nil {
		return ExpiryResult{AssetID: assetID}, err
	}
	if !ok {
		return ExpiryResult{AssetID: assetID}, ErrNoOpenOption
	}
	res := ExpiryResult{AssetID: assetID, Epoch: open.Epoch, Spot: spot, Strike: open.Strike, Premium: open.Premium}
	if now := e.now(); now.Before(open.Expiry) {
		return res, fmt.Errorf("%w: epoch %d expires %s", ErrNotExpired, open.Epoch, open.Expiry.Format(time.RFC3339))
	}
	if spot <= 0 {
		return res, fmt.Errorf("invalid settlement spot %v", spot)
	}

	res.Payoff, res.InTheMoney = pricing.CallPayoff(spot, open.Strike, open.Notional)
	premiumTokens, err := vault.PremiumToUnderlying(open.Premium, spot, e.opts.PremiumDecimals, e.opts.TokenDecimals)
	if err != nil {
		return res, fmt.Errorf("convert premium: %w", err)
	}
	if premiumTokens > res.Payoff {
		res.NetPremium = premiumTokens - res.Payoff
	}

	sig, err := e.client.SettleEpoch(ctx, vault.Settlement{
		AssetID:    assetID,
		Epoch:      open.Epoch,
		Spot:       spot,
		Strike:     open.Strike,
		InTheMoney: res.InTheMoney,
		Payoff:     res.Payoff,
		NetPremium: res.NetPremium,
	})
	if err != nil {
		var rejected *vault.RejectedError
		if !errors.As(err, &rejected) || rejected.Reason != alreadySettledReason {
			return res, fmt.Errorf("settle epoch %d: %w", open.Epoch, err)
		}
		res.Recovered = true
	}
	res.Signature = sig
	res.Settled = true

	if err := e.save(ctx, SettledOptionKey(assetID), res); err != nil {
		e.log.Warn("settled option record failed", zap.String("asset", assetID), zap.Error(err))
	}
	if err := e.store.Delete(ctx, OpenOptionKey(assetID)); err != nil {
		return res, fmt.Errorf("clear open option: %w", err)
	}
	e.metrics.ExpirySettlements.Inc()
	e.log.Info("option settled",
		zap.String("asset", assetID),
		zap.Uint64("epoch", open.Epoch),
		zap.Float64("spot", spot),
		zap.Float64("strike", open.Strike),
		zap.Bool("itm", res.InTheMoney),
		zap.Uint64("payoff", res.Payoff),
		zap.Uint64("net_premium", res.NetPremium),
		zap.String("signature", sig),
		zap.Bool("recovered", res.Recovered))
	return res, nil
}

func (e *Expiry) save(ctx context.Context, key string, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return e.store.Set(ctx, key, string(payload))
}
