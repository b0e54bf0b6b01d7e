// Package settle drives one epoch roll to a definite on-chain outcome.
package settle

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"optionsfi-keeper/internal/metrics"
	"optionsfi-keeper/internal/state"
	"optionsfi-keeper/internal/vault"

	"go.uber.org/zap"
)

var ErrExhausted = errors.New("settlement attempts exhausted")

// landedMarker is journaled when a roll is known to have landed but its
// signature was lost to a timeout.
const landedMarker = "landed"

type Options struct {
	MaxAttempts int
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

type Outcome struct {
	Signature string
	Phase     Phase
	Attempts  int
	History   []Phase
	// Recovered is set when the roll was found already landed rather than
	// confirmed by a submission response.
	Recovered bool
}

type Submitter struct {
	client  vault.Client
	store   state.Store
	opts    Options
	metrics *metrics.Metrics
	log     *zap.Logger
	wait    func(ctx context.Context, d time.Duration) error
}

func NewSubmitter(client vault.Client, store state.Store, opts Options, m *metrics.Metrics, log *zap.Logger) *Submitter {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = 200 * time.Millisecond
	}
	if opts.BackoffMax < opts.BackoffBase {
		opts.BackoffMax = opts.BackoffBase
	}
	return &Submitter{
		client:  client,
		store:   store,
		opts:    opts,
		metrics: metrics.OrNoop(m),
		log:     log,
		wait:    sleepCtx,
	}
}

func JournalKey(assetID string, epoch uint64) string {
	return "roll:" + assetID + ":" + strconv.FormatUint(epoch, 10)
}

// Submit lands roll at most once. A timeout is resolved by re-reading the
// vault epoch before any resubmission, so the epoch advances by exactly one
// per logical roll.
func (s *Submitter) Submit(ctx context.Context, roll vault.RollInstruction) (Outcome, error) {
	sm := NewStateMachine()
	key := JournalKey(roll.AssetID, roll.ExpectedEpoch)
	if s.store != nil {
		if sig, ok, err := s.store.Get(ctx, key); err != nil {
			return Outcome{}, fmt.Errorf("read settlement journal: %w", err)
		} else if ok {
			sm.Apply(EventLanded)
			s.log.Info("roll already journaled", zap.String("asset", roll.AssetID), zap.Uint64("epoch", roll.ExpectedEpoch))
			return s.outcome(sm, sig, 0, true), nil
		}
	}

	backoff := s.opts.BackoffBase
	var lastErr error
	for attempt := 1; ; attempt++ {
		sm.Apply(EventSubmit)
		sig, err := s.client.SubmitRoll(ctx, roll)
		switch {
		case err == nil:
			sm.Apply(EventConfirmed)
			s.journal(ctx, key, sig)
			return s.outcome(sm, sig, attempt, false), nil
		case ctx.Err() != nil:
			return s.outcome(sm, "", attempt, false), ctx.Err()
		case vault.IsRejected(err):
			if attempt > 1 {
				// An earlier ambiguous attempt may have landed after its recheck.
				if landed, rerr := s.landed(ctx, roll); rerr == nil && landed {
					sm.Apply(EventTimeout)
					sm.Apply(EventRecheck)
					sm.Apply(EventLanded)
					s.journal(ctx, key, landedMarker)
					return s.outcome(sm, "", attempt, true), nil
				}
			}
			sm.Apply(EventRejected)
			s.log.Error("roll rejected", zap.String("asset", roll.AssetID), zap.Uint64("epoch", roll.ExpectedEpoch), zap.Error(err))
			return s.outcome(sm, "", attempt, false), err
		case errors.Is(err, vault.ErrTimeout):
			sm.Apply(EventTimeout)
			sm.Apply(EventRecheck)
			landed, rerr := s.landed(ctx, roll)
			if rerr == nil && landed {
				sm.Apply(EventLanded)
				s.log.Info("ambiguous roll found landed", zap.String("asset", roll.AssetID), zap.Uint64("epoch", roll.ExpectedEpoch))
				s.journal(ctx, key, landedMarker)
				return s.outcome(sm, "", attempt, true), nil
			}
			if rerr != nil {
				s.log.Warn("roll recheck failed", zap.String("asset", roll.AssetID), zap.Error(rerr))
				sm.Apply(EventTransient)
				lastErr = fmt.Errorf("%w; recheck: %v", err, rerr)
			} else {
				sm.Apply(EventNotLanded)
				lastErr = err
			}
		default:
			sm.Apply(EventTransient)
			lastErr = err
		}

		if attempt >= s.opts.MaxAttempts {
			sm.Apply(EventExhausted)
			return s.outcome(sm, "", attempt, false), fmt.Errorf("%w after %d attempts: %w", ErrExhausted, attempt, lastErr)
		}
		s.metrics.SettlementRetries.Inc()
		s.log.Warn("roll submission retrying",
			zap.String("asset", roll.AssetID),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(lastErr))
		if err := s.wait(ctx, backoff); err != nil {
			return s.outcome(sm, "", attempt, false), err
		}
		backoff *= 2
		if backoff > s.opts.BackoffMax {
			backoff = s.opts.BackoffMax
		}
	}
}

// landed reports whether the vault has moved past the roll's expected epoch.
func (s *Submitter) landed(ctx context.Context, roll vault.RollInstruction) (bool, error) {
	st, err := s.client.GetVaultState(ctx, roll.AssetID)
	if err != nil {
		return false, err
	}
	return st.Epoch > roll.ExpectedEpoch, nil
}

func (s *Submitter) journal(ctx context.Context, key, sig string) {
	if s.store == nil {
		return
	}
	if err := s.store.Set(ctx, key, sig); err != nil {
		s.log.Warn("failed to persist settlement journal", zap.String("key", key), zap.Error(err))
	}
}

func (s *Submitter) outcome(sm *StateMachine, sig string, attempts int, recovered bool) Outcome {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sig == landedMarker {
		sig = ""
	}
	return Outcome{
		Signature: sig,
		Phase:     sm.Phase,
		Attempts:  attempts,
		History:   append([]Phase(nil), sm.History...),
		Recovered: recovered,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
