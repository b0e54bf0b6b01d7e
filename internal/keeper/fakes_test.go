package keeper

import (
	"context"
	"errors"
	"sync"
	"time"

	"optionsfi-keeper/internal/pricefeed"
	"optionsfi-keeper/internal/rfq"
	"optionsfi-keeper/internal/solvency"
	"optionsfi-keeper/internal/vault"
	"optionsfi-keeper/internal/volatility"
)

const testVaultAddress = "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin"

type fakeChain struct {
	mu        sync.Mutex
	state     vault.State
	stateErr  error
	submitErr error
	settleErr error
	rolls     []vault.RollInstruction
	settled   []vault.Settlement
}

func (f *fakeChain) GetVaultState(ctx context.Context, assetID string) (vault.State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stateErr != nil {
		return vault.State{}, f.stateErr
	}
	return f.state, nil
}

func (f *fakeChain) SubmitRoll(ctx context.Context, roll vault.RollInstruction) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return "", f.submitErr
	}
	if roll.ExpectedEpoch != f.state.Epoch {
		return "", &vault.RejectedError{Reason: "EpochMismatch"}
	}
	f.rolls = append(f.rolls, roll)
	f.state.Epoch++
	f.state.EpochNotionalExposed = roll.Notional
	return "sig-roll", nil
}

func (f *fakeChain) SettleEpoch(ctx context.Context, s vault.Settlement) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.settleErr != nil {
		return "", f.settleErr
	}
	f.settled = append(f.settled, s)
	return "sig-settle", nil
}

func (f *fakeChain) TokenBalance(ctx context.Context, account string) (uint64, error) {
	return 0, errors.New("not implemented")
}

func (f *fakeChain) Transfer(ctx context.Context, from, to string, amount uint64) (string, error) {
	return "", errors.New("not implemented")
}

type countingCapacity struct {
	inner *vault.CapacityEvaluator
	calls int
}

func (c *countingCapacity) Evaluate(s vault.State) vault.Capacity {
	c.calls++
	return c.inner.Evaluate(s)
}

type fixedSpot struct {
	price float64
	err   error
}

func (f fixedSpot) Latest(ctx context.Context, feedID string) (pricefeed.Quote, error) {
	if f.err != nil {
		return pricefeed.Quote{}, f.err
	}
	return pricefeed.Quote{Price: f.price, PublishTime: time.Now()}, nil
}

type fixedVol struct {
	est volatility.Estimate
	err error
}

func (f fixedVol) Estimate(ctx context.Context, asset volatility.Asset, lookbackDays int) (volatility.Estimate, error) {
	return f.est, f.err
}

type quoteMaker struct {
	id      string
	premium float64
}

func (m quoteMaker) ID() string { return m.id }

func (m quoteMaker) RequestQuote(ctx context.Context, req rfq.Request) (rfq.Quote, bool, error) {
	return rfq.Quote{RFQID: req.ID, MakerID: m.id, Premium: m.premium}, true, nil
}

type recordingAlerts struct {
	mu       sync.Mutex
	messages []string
}

func (r *recordingAlerts) Send(ctx context.Context, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, message)
	return nil
}

func (r *recordingAlerts) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.messages)
}

type scriptedRunner struct {
	mu      sync.Mutex
	calls   int
	results []error
	block   chan struct{}
}

func (s *scriptedRunner) Run(ctx context.Context, v Vault) (Report, error) {
	s.mu.Lock()
	i := s.calls
	s.calls++
	var err error
	if i < len(s.results) {
		err = s.results[i]
	}
	block := s.block
	s.mu.Unlock()
	if block != nil {
		<-block
	}
	if err != nil {
		return Report{AssetID: v.AssetID, Outcome: OutcomeFailed}, err
	}
	return Report{AssetID: v.AssetID, Outcome: OutcomeSkipped, Reason: "epoch not elapsed"}, nil
}

type fixedReconciler struct {
	report solvency.Report
	err    error
	// fixed is returned by Fix; Reconcile returns report.
	fixed solvency.Report
}

func (f fixedReconciler) Reconcile(ctx context.Context, assetID string) (solvency.Report, error) {
	return f.report, f.err
}

func (f fixedReconciler) Fix(ctx context.Context, assetID string) (solvency.Report, error) {
	return f.fixed, f.err
}
