package rfq

import (
	"context"
	"errors"
	"fmt"
	"time"

	"optionsfi-keeper/internal/guard"
	"optionsfi-keeper/internal/metrics"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Better reports whether a should win over b.
type Better func(a, b Quote) bool

// HighestPremium ranks the vault's side of the trade: it sells the option,
// so more premium is better, and the earlier of two equal bids wins.
func HighestPremium(a, b Quote) bool {
	if a.Premium != b.Premium {
		return a.Premium > b.Premium
	}
	return a.ReceivedAt.Before(b.ReceivedAt)
}

type Options struct {
	Timeout time.Duration
	Bounds  guard.QuoteBounds
	// MakerAddresses pins makers to a signing address; quotes from a pinned
	// maker must carry a valid signature.
	MakerAddresses map[string]common.Address
	Signer         *Signer
	Better         Better
}

type Result struct {
	Request  Request
	Best     Quote
	Filled   bool
	Received int
	Rejected int
	Declined int
	Failed   int
}

type Coordinator struct {
	makers  []Maker
	opts    Options
	metrics *metrics.Metrics
	log     *zap.Logger
	now     func() time.Time
	newID   func() string
}

func NewCoordinator(makers []Maker, opts Options, m *metrics.Metrics, log *zap.Logger) *Coordinator {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Better == nil {
		opts.Better = HighestPremium
	}
	return &Coordinator{
		makers:  makers,
		opts:    opts,
		metrics: metrics.OrNoop(m),
		log:     log,
		now:     time.Now,
		newID:   uuid.NewString,
	}
}

// NewRequest builds a call RFQ with a fresh id.
func (c *Coordinator) NewRequest(assetID, vaultAddress string, epoch uint64, strike float64, expiry time.Time, notional uint64) Request {
	return Request{
		ID:           c.newID(),
		AssetID:      assetID,
		Epoch:        epoch,
		Strike:       strike,
		Expiry:       expiry,
		Notional:     notional,
		VaultAddress: vaultAddress,
		OptionType:   OptionTypeCall,
		IssuedAt:     c.now(),
	}
}

type makerResult struct {
	makerID string
	quote   Quote
	ok      bool
	err     error
}

// Run broadcasts req to every maker and returns the best eligible quote
// received before the deadline. theoretical is the fair total premium for
// the notional and anchors the quote bounds. An auction with no eligible
// quote returns Filled=false and a nil error.
func (c *Coordinator) Run(ctx context.Context, req Request, theoretical float64) (Result, error) {
	fields := guard.RequestFields{
		AssetID:      req.AssetID,
		VaultAddress: req.VaultAddress,
		Strike:       req.Strike,
		Expiry:       req.Expiry,
		Notional:     req.Notional,
	}
	if err := guard.ValidateRequest(fields, c.now()); err != nil {
		return Result{}, err
	}
	if c.opts.Signer != nil {
		if err := c.opts.Signer.SignRequest(&req); err != nil {
			return Result{}, fmt.Errorf("sign rfq: %w", err)
		}
	}
	res := Result{Request: req}
	if len(c.makers) == 0 {
		return res, nil
	}

	deadline := c.now().Add(c.opts.Timeout)
	roundCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	// Buffered to the maker count so stragglers never block after the
	// collector has stopped listening.
	results := make(chan makerResult, len(c.makers))
	for _, maker := range c.makers {
		go func() {
			q, ok, err := maker.RequestQuote(roundCtx, req)
			results <- makerResult{makerID: maker.ID(), quote: q, ok: ok, err: err}
		}()
	}

	timer := time.NewTimer(c.opts.Timeout)
	defer timer.Stop()
	pending := len(c.makers)
collect:
	for pending > 0 {
		select {
		case r := <-results:
			pending--
			receivedAt := c.now()
			if receivedAt.After(deadline) {
				c.log.Debug("discarding late maker result", zap.String("maker", r.makerID))
				break collect
			}
			c.consider(&res, r, receivedAt, theoretical)
		case <-timer.C:
			break collect
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
	}
	if pending > 0 {
		c.log.Info("rfq deadline reached", zap.String("rfq", req.ID), zap.Int("outstanding", pending))
	}
	if res.Filled {
		c.log.Info("rfq filled",
			zap.String("rfq", req.ID),
			zap.String("asset", req.AssetID),
			zap.String("maker", res.Best.MakerID),
			zap.Float64("premium", res.Best.Premium),
			zap.Int("received", res.Received),
			zap.Int("rejected", res.Rejected))
	} else {
		c.log.Info("rfq closed without fill",
			zap.String("rfq", req.ID),
			zap.String("asset", req.AssetID),
			zap.Int("received", res.Received),
			zap.Int("rejected", res.Rejected),
			zap.Int("declined", res.Declined),
			zap.Int("failed", res.Failed))
	}
	return res, nil
}

func (c *Coordinator) consider(res *Result, r makerResult, receivedAt time.Time, theoretical float64) {
	switch {
	case r.err != nil:
		res.Failed++
		if !errors.Is(r.err, context.DeadlineExceeded) && !errors.Is(r.err, context.Canceled) {
			c.log.Warn("maker request failed", zap.String("maker", r.makerID), zap.Error(r.err))
		}
		return
	case !r.ok:
		res.Declined++
		return
	}
	res.Received++
	c.metrics.QuotesReceived.Inc()
	q := r.quote
	q.ReceivedAt = receivedAt
	if err := c.check(res.Request, r.makerID, q, theoretical); err != nil {
		res.Rejected++
		c.metrics.QuotesRejected.Inc()
		c.log.Warn("maker quote rejected", zap.String("maker", r.makerID), zap.Float64("premium", q.Premium), zap.Error(err))
		return
	}
	if !res.Filled || c.opts.Better(q, res.Best) {
		res.Best = q
		res.Filled = true
	}
}

func (c *Coordinator) check(req Request, makerID string, q Quote, theoretical float64) error {
	if q.RFQID != req.ID {
		return fmt.Errorf("%w: quote for rfq %q", guard.ErrValidationFailed, q.RFQID)
	}
	if q.MakerID != makerID {
		return fmt.Errorf("%w: maker %q answered as %q", guard.ErrValidationFailed, makerID, q.MakerID)
	}
	if err := c.opts.Bounds.Check(q.Premium, theoretical); err != nil {
		return err
	}
	if addr, pinned := c.opts.MakerAddresses[makerID]; pinned {
		if err := VerifyQuote(q, addr); err != nil {
			return fmt.Errorf("%w: %v", guard.ErrValidationFailed, err)
		}
	}
	return nil
}
