package keeper

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"optionsfi-keeper/internal/metrics"
	"optionsfi-keeper/internal/settle"
	"optionsfi-keeper/internal/solvency"
	"optionsfi-keeper/internal/vault"

	"go.uber.org/zap"
)

var (
	ErrUnknownVault = errors.New("unknown vault")
	ErrInFlight     = errors.New("roll already in flight")
)

type Runner interface {
	Run(ctx context.Context, v Vault) (Report, error)
}

type Reconciler interface {
	Reconcile(ctx context.Context, assetID string) (solvency.Report, error)
	Fix(ctx context.Context, assetID string) (solvency.Report, error)
}

// ExpirySettler is implemented by runners that can settle an expired option
// on demand.
type ExpirySettler interface {
	SettleExpiry(ctx context.Context, v Vault) (settle.ExpiryResult, error)
}

type Alerter interface {
	Send(ctx context.Context, message string) error
}

// Recorder persists run results. Implementations must not block.
type Recorder interface {
	RecordRoll(ctx context.Context, report Report, err error)
	RecordSolvency(ctx context.Context, report solvency.Report, err error)
}

type SchedulerOptions struct {
	TickInterval           time.Duration
	ReconcileInterval      time.Duration
	MaxConsecutiveFailures int
}

// Health is the per-vault view served to operators.
type Health struct {
	AssetID             string    `json:"asset_id"`
	LastOutcome         Outcome   `json:"last_outcome,omitempty"`
	LastReason          string    `json:"last_reason,omitempty"`
	LastError           string    `json:"last_error,omitempty"`
	LastRun             time.Time `json:"last_run,omitempty"`
	LastEpoch           uint64    `json:"last_epoch"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	Degraded            bool      `json:"degraded"`
	Insolvent           bool      `json:"insolvent"`
	Shortfall           uint64    `json:"shortfall"`
	LastReconcile       time.Time `json:"last_reconcile,omitempty"`
}

type Scheduler struct {
	vaults     []Vault
	runtime    *Runtime
	pipeline   Runner
	reconciler Reconciler
	alerts     Alerter
	recorder   Recorder
	events     *Events
	metrics    *metrics.Metrics
	log        *zap.Logger
	opts       SchedulerOptions
	now        func() time.Time

	mu     sync.Mutex
	health map[string]*Health
	wg     sync.WaitGroup

	reconciling sync.Mutex
}

func NewScheduler(vaults []Vault, runtime *Runtime, pipeline Runner, reconciler Reconciler, alerts Alerter, recorder Recorder, events *Events, m *metrics.Metrics, opts SchedulerOptions, log *zap.Logger) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	if runtime == nil {
		runtime = NewRuntime(nil)
	}
	if events == nil {
		events = NewEvents(defaultEventCapacity)
	}
	if opts.MaxConsecutiveFailures <= 0 {
		opts.MaxConsecutiveFailures = 3
	}
	health := make(map[string]*Health, len(vaults))
	for _, v := range vaults {
		health[v.AssetID] = &Health{AssetID: v.AssetID}
	}
	return &Scheduler{
		vaults:     vaults,
		runtime:    runtime,
		pipeline:   pipeline,
		reconciler: reconciler,
		alerts:     alerts,
		recorder:   recorder,
		events:     events,
		metrics:    metrics.OrNoop(m),
		log:        log,
		opts:       opts,
		now:        time.Now,
		health:     health,
	}
}

func (s *Scheduler) Runtime() *Runtime { return s.runtime }

func (s *Scheduler) Events() *Events { return s.events }

func (s *Scheduler) Vaults() []Vault {
	return append([]Vault(nil), s.vaults...)
}

// Run drives the roll and reconcile timers until ctx is done, then waits for
// in-flight pipeline runs.
func (s *Scheduler) Run(ctx context.Context) error {
	defer s.wg.Wait()
	s.Tick(ctx)

	rollTicker := time.NewTicker(s.opts.TickInterval)
	defer rollTicker.Stop()
	var reconcileC <-chan time.Time
	if s.reconciler != nil && s.opts.ReconcileInterval > 0 {
		reconcileTicker := time.NewTicker(s.opts.ReconcileInterval)
		defer reconcileTicker.Stop()
		reconcileC = reconcileTicker.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-rollTicker.C:
			s.Tick(ctx)
		case <-reconcileC:
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.ReconcileAll(ctx)
			}()
		}
	}
}

// Tick launches one pipeline run per vault. A vault with a run in flight is
// dropped for this tick.
func (s *Scheduler) Tick(ctx context.Context) {
	if s.runtime.Paused() {
		s.log.Debug("keeper paused, skipping roll tick")
		return
	}
	for _, v := range s.vaults {
		release, ok := s.runtime.TryAcquire(v.AssetID)
		if !ok {
			s.log.Debug("roll in flight, tick dropped", zap.String("asset", v.AssetID))
			s.events.Add(Event{Time: s.now(), AssetID: v.AssetID, Kind: "roll", Outcome: OutcomeInFlight, Message: "tick dropped"})
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer release()
			_, _ = s.runVault(ctx, v)
		}()
	}
}

// Trigger runs the pipeline for one vault synchronously. It ignores the
// operator pause but not per-vault exclusion.
func (s *Scheduler) Trigger(ctx context.Context, assetID string) (Report, error) {
	v, ok := s.vault(assetID)
	if !ok {
		return Report{}, fmt.Errorf("%w: %s", ErrUnknownVault, assetID)
	}
	release, ok := s.runtime.TryAcquire(assetID)
	if !ok {
		return Report{AssetID: assetID, Outcome: OutcomeInFlight}, ErrInFlight
	}
	defer release()
	return s.runVault(ctx, v)
}

func (s *Scheduler) runVault(ctx context.Context, v Vault) (Report, error) {
	report, err := s.pipeline.Run(ctx, v)
	if report.AssetID == "" {
		report.AssetID = v.AssetID
	}
	if err != nil {
		report.Outcome = OutcomeFailed
	}
	s.observeRoll(ctx, report, err)
	return report, err
}

func (s *Scheduler) observeRoll(ctx context.Context, report Report, err error) {
	fields := []zap.Field{
		zap.String("asset", report.AssetID),
		zap.String("outcome", string(report.Outcome)),
		zap.Uint64("epoch", report.Epoch),
	}
	if report.Reason != "" {
		fields = append(fields, zap.String("reason", report.Reason))
	}
	switch report.Outcome {
	case OutcomeRolled:
		s.metrics.RollsSubmitted.Inc()
	case OutcomeSkipped:
		s.metrics.RollsSkipped.Inc()
	case OutcomeNoCapacity:
		s.metrics.NoCapacity.Inc()
	case OutcomeNoFill:
		s.metrics.NoFill.Inc()
	case OutcomeReview:
		s.metrics.ReviewHalts.Inc()
	case OutcomeFailed:
		s.metrics.RollsFailed.Inc()
	}
	if err != nil {
		s.log.Warn("roll pipeline failed", append(fields, zap.Error(err))...)
	} else if report.Outcome == OutcomeSkipped {
		s.log.Debug("roll pipeline finished", fields...)
	} else {
		s.log.Info("roll pipeline finished", fields...)
	}

	message := report.Reason
	if err != nil {
		message = err.Error()
	}
	s.events.Add(Event{Time: s.now(), AssetID: report.AssetID, Kind: "roll", Outcome: report.Outcome, Message: message})
	if s.recorder != nil {
		s.recorder.RecordRoll(ctx, report, err)
	}

	if report.Expiry.Settled {
		s.observeExpiry(ctx, report.Expiry)
	}

	degradedNow, streak := s.updateHealth(report, err)
	switch {
	case report.Outcome == OutcomeRolled:
		s.alert(ctx, fmt.Sprintf("%s rolled epoch %d: premium %.4f from %s (theoretical %.4f)",
			report.AssetID, report.Epoch, report.Auction.Best.Premium, report.Auction.Best.MakerID, report.Theoretical))
	case report.Outcome == OutcomeReview:
		s.alert(ctx, fmt.Sprintf("%s roll halted for review: %s", report.AssetID, report.Reason))
	case vault.IsRejected(err):
		s.alert(ctx, fmt.Sprintf("%s roll rejected: %v", report.AssetID, err))
	}
	if degradedNow {
		s.metrics.DegradedAlerts.Inc()
		s.log.Error("vault degraded", zap.String("asset", report.AssetID), zap.Int("consecutive_failures", streak), zap.Error(err))
		s.events.Add(Event{Time: s.now(), AssetID: report.AssetID, Kind: "health", Message: "degraded"})
		s.alert(ctx, fmt.Sprintf("FATAL: %s degraded after %d consecutive failures: %v", report.AssetID, streak, err))
	}
}

// updateHealth tracks the failure streak. It reports true exactly once per
// transition into the degraded state.
func (s *Scheduler) updateHealth(report Report, err error) (bool, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.healthLocked(report.AssetID)
	h.LastOutcome = report.Outcome
	h.LastReason = report.Reason
	h.LastRun = s.now()
	h.LastEpoch = report.Epoch
	if err == nil {
		h.LastError = ""
		h.ConsecutiveFailures = 0
		if h.Degraded {
			h.Degraded = false
			s.log.Info("vault recovered", zap.String("asset", report.AssetID))
		}
		s.metrics.DegradedVaults.Set(float64(s.degradedCountLocked()))
		return false, 0
	}
	h.LastError = err.Error()
	h.ConsecutiveFailures++
	transitioned := false
	if !h.Degraded && h.ConsecutiveFailures >= s.opts.MaxConsecutiveFailures {
		h.Degraded = true
		transitioned = true
	}
	s.metrics.DegradedVaults.Set(float64(s.degradedCountLocked()))
	return transitioned, h.ConsecutiveFailures
}

// ReconcileAll runs the reconciler for every vault. Overlapping calls are
// skipped.
func (s *Scheduler) ReconcileAll(ctx context.Context) {
	if s.reconciler == nil {
		return
	}
	if !s.reconciling.TryLock() {
		s.log.Debug("reconcile pass already running")
		return
	}
	defer s.reconciling.Unlock()
	for _, v := range s.vaults {
		if ctx.Err() != nil {
			return
		}
		_, _ = s.Reconcile(ctx, v.AssetID)
	}
}

// Settle runs expiry settlement for one vault under the same per-vault
// exclusion as a roll.
func (s *Scheduler) Settle(ctx context.Context, assetID string) (settle.ExpiryResult, error) {
	v, ok := s.vault(assetID)
	if !ok {
		return settle.ExpiryResult{}, fmt.Errorf("%w: %s", ErrUnknownVault, assetID)
	}
	settler, ok := s.pipeline.(ExpirySettler)
	if !ok {
		return settle.ExpiryResult{}, errors.New("expiry settlement not configured")
	}
	release, ok := s.runtime.TryAcquire(assetID)
	if !ok {
		return settle.ExpiryResult{AssetID: assetID}, ErrInFlight
	}
	defer release()
	res, err := settler.SettleExpiry(ctx, v)
	if err != nil {
		s.log.Warn("expiry settlement failed", zap.String("asset", assetID), zap.Error(err))
		s.events.Add(Event{Time: s.now(), AssetID: assetID, Kind: "expiry", Message: err.Error()})
		return res, err
	}
	s.observeExpiry(ctx, res)
	return res, nil
}

func (s *Scheduler) observeExpiry(ctx context.Context, res settle.ExpiryResult) {
	kind := "OTM"
	if res.InTheMoney {
		kind = "ITM"
	}
	msg := fmt.Sprintf("%s epoch %d settled %s at %.4f (strike %.4f): payoff %d, net premium %d",
		res.AssetID, res.Epoch, kind, res.Spot, res.Strike, res.Payoff, res.NetPremium)
	s.events.Add(Event{Time: s.now(), AssetID: res.AssetID, Kind: "expiry", Message: msg})
	s.alert(ctx, msg)
}

// Reconcile follows the reconciler's auto-reconcile setting.
func (s *Scheduler) Reconcile(ctx context.Context, assetID string) (solvency.Report, error) {
	return s.reconcile(ctx, assetID, false)
}

// Repair reconciles with the corrective transfer forced on.
func (s *Scheduler) Repair(ctx context.Context, assetID string) (solvency.Report, error) {
	return s.reconcile(ctx, assetID, true)
}

func (s *Scheduler) reconcile(ctx context.Context, assetID string, force bool) (solvency.Report, error) {
	if s.reconciler == nil {
		return solvency.Report{}, errors.New("reconciler not configured")
	}
	if _, ok := s.vault(assetID); !ok {
		return solvency.Report{}, fmt.Errorf("%w: %s", ErrUnknownVault, assetID)
	}
	var (
		report solvency.Report
		err    error
	)
	if force {
		report, err = s.reconciler.Fix(ctx, assetID)
	} else {
		report, err = s.reconciler.Reconcile(ctx, assetID)
	}
	report.AssetID = assetID

	s.mu.Lock()
	h := s.healthLocked(assetID)
	h.LastReconcile = s.now()
	h.Shortfall = report.Shortfall
	h.Insolvent = err != nil && errors.Is(err, solvency.ErrInsolvencyUnresolved)
	if err == nil && report.Shortfall > 0 && report.Signature == "" {
		h.Insolvent = true
	}
	s.mu.Unlock()

	if s.recorder != nil {
		s.recorder.RecordSolvency(ctx, report, err)
	}
	switch {
	case err != nil:
		s.log.Error("solvency reconcile failed", zap.String("asset", assetID), zap.Error(err))
		s.events.Add(Event{Time: s.now(), AssetID: assetID, Kind: "solvency", Message: err.Error()})
		if errors.Is(err, solvency.ErrInsolvencyUnresolved) {
			s.alert(ctx, fmt.Sprintf("FATAL: %s premium shortfall %d unresolved: %v", assetID, report.Shortfall, err))
		}
	case report.Signature != "":
		msg := fmt.Sprintf("%s premium shortfall %d repaired (%s)", assetID, report.Shortfall, report.Signature)
		s.events.Add(Event{Time: s.now(), AssetID: assetID, Kind: "solvency", Message: msg})
		s.alert(ctx, msg)
	case report.Shortfall > 0:
		msg := fmt.Sprintf("%s premium shortfall %d detected (recorded %d, actual %d)", assetID, report.Shortfall, report.Recorded, report.Actual)
		s.events.Add(Event{Time: s.now(), AssetID: assetID, Kind: "solvency", Message: msg})
		s.alert(ctx, msg)
	default:
		s.log.Debug("vault solvent", zap.String("asset", assetID), zap.Uint64("recorded", report.Recorded), zap.Uint64("actual", report.Actual))
	}
	return report, err
}

// Status returns a copy of every vault's health, sorted by asset.
func (s *Scheduler) Status() []Health {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Health, 0, len(s.health))
	for _, h := range s.health {
		out = append(out, *h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AssetID < out[j].AssetID })
	return out
}

// Healthy is false when any vault is degraded or insolvent.
func (s *Scheduler) Healthy() bool {
	for _, h := range s.Status() {
		if h.Degraded || h.Insolvent {
			return false
		}
	}
	return true
}

func (s *Scheduler) vault(assetID string) (Vault, bool) {
	for _, v := range s.vaults {
		if v.AssetID == assetID {
			return v, true
		}
	}
	return Vault{}, false
}

func (s *Scheduler) healthLocked(assetID string) *Health {
	h, ok := s.health[assetID]
	if !ok {
		h = &Health{AssetID: assetID}
		s.health[assetID] = h
	}
	return h
}

func (s *Scheduler) degradedCountLocked() int {
	count := 0
	for _, h := range s.health {
		if h.Degraded {
			count++
		}
	}
	return count
}

func (s *Scheduler) alert(ctx context.Context, message string) {
	if s.alerts == nil {
		return
	}
	if err := s.alerts.Send(ctx, message); err != nil {
		s.log.Warn("alert send failed", zap.Error(err))
	}
}
