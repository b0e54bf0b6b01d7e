// Package solvency keeps each vault's premium token account backed by at
// least the premium balance the vault has recorded.
package solvency

import (
	"context"
	"errors"
	"fmt"

	"optionsfi-keeper/internal/metrics"
	"optionsfi-keeper/internal/vault"

	"go.uber.org/zap"
)

var ErrInsolvencyUnresolved = errors.New("insolvency unresolved")

// Limiter gates corrective transfers per vault. keeper.Runtime satisfies it.
type Limiter interface {
	Allow(op string) bool
}

type Report struct {
	AssetID   string `json:"asset_id"`
	Recorded  uint64 `json:"recorded"`
	Actual    uint64 `json:"actual"`
	Shortfall uint64 `json:"shortfall"`
	Healthy   bool   `json:"healthy"`
	// Signature is set when a corrective transfer landed.
	Signature   string `json:"signature,omitempty"`
	RateLimited bool   `json:"rate_limited,omitempty"`
}

type Options struct {
	AutoReconcile  bool
	FundingAccount string
}

type Reconciler struct {
	client  vault.Client
	limiter Limiter
	opts    Options
	metrics *metrics.Metrics
	log     *zap.Logger
}

func NewReconciler(client vault.Client, limiter Limiter, opts Options, m *metrics.Metrics, log *zap.Logger) *Reconciler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Reconciler{
		client:  client,
		limiter: limiter,
		opts:    opts,
		metrics: metrics.OrNoop(m),
		log:     log,
	}
}

func LimiterKey(assetID string) string {
	return "reconcile:" + assetID
}

// Check compares recorded and actual premium balances without moving funds.
func (r *Reconciler) Check(ctx context.Context, assetID string) (Report, error) {
	st, err := r.client.GetVaultState(ctx, assetID)
	if err != nil {
		return Report{AssetID: assetID}, fmt.Errorf("read vault state: %w", err)
	}
	return r.check(ctx, st)
}

func (r *Reconciler) check(ctx context.Context, st vault.State) (Report, error) {
	report := Report{AssetID: st.AssetID, Recorded: st.PremiumBalance}
	actual, err := r.client.TokenBalance(ctx, st.PremiumTokenAccount)
	if err != nil {
		return report, fmt.Errorf("read premium account balance: %w", err)
	}
	report.Actual = actual
	if actual >= st.PremiumBalance {
		report.Healthy = true
		return report, nil
	}
	report.Shortfall = st.PremiumBalance - actual
	return report, nil
}

// Reconcile checks the vault and, when auto reconciliation is enabled,
// transfers exactly the shortfall from the funding account.
func (r *Reconciler) Reconcile(ctx context.Context, assetID string) (Report, error) {
	st, err := r.client.GetVaultState(ctx, assetID)
	if err != nil {
		return Report{AssetID: assetID}, fmt.Errorf("read vault state: %w", err)
	}
	return r.reconcile(ctx, st, r.opts.AutoReconcile)
}

// Fix is Reconcile with the transfer forced on, for operator use.
func (r *Reconciler) Fix(ctx context.Context, assetID string) (Report, error) {
	st, err := r.client.GetVaultState(ctx, assetID)
	if err != nil {
		return Report{AssetID: assetID}, fmt.Errorf("read vault state: %w", err)
	}
	return r.reconcile(ctx, st, true)
}

func (r *Reconciler) reconcile(ctx context.Context, st vault.State, transfer bool) (Report, error) {
	report, err := r.check(ctx, st)
	if err != nil || report.Healthy {
		return report, err
	}
	fields := []zap.Field{
		zap.String("asset", st.AssetID),
		zap.Uint64("recorded", report.Recorded),
		zap.Uint64("actual", report.Actual),
		zap.Uint64("shortfall", report.Shortfall),
	}
	if !transfer {
		r.log.Warn("premium account shortfall detected, auto reconcile disabled", fields...)
		return report, nil
	}
	if r.opts.FundingAccount == "" {
		r.metrics.ReconcileFailures.Inc()
		return report, fmt.Errorf("%w: no funding account configured", ErrInsolvencyUnresolved)
	}
	if r.limiter != nil && !r.limiter.Allow(LimiterKey(st.AssetID)) {
		report.RateLimited = true
		r.log.Warn("premium account shortfall, transfer rate limited", fields...)
		return report, nil
	}
	sig, err := r.client.Transfer(ctx, r.opts.FundingAccount, st.PremiumTokenAccount, report.Shortfall)
	if err != nil {
		r.metrics.ReconcileFailures.Inc()
		r.log.Error("corrective transfer failed", append(fields, zap.Error(err))...)
		return report, fmt.Errorf("%w: transfer %d to %s: %w", ErrInsolvencyUnresolved, report.Shortfall, st.PremiumTokenAccount, err)
	}
	report.Signature = sig
	r.metrics.ReconcileTransfers.Inc()
	r.log.Info("corrective transfer sent", append(fields, zap.String("signature", sig))...)
	return report, nil
}
