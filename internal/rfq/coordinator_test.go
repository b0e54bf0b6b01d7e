package rfq

import (
	"context"
	"errors"
	"testing"
	"time"

	"optionsfi-keeper/internal/guard"

	"github.com/ethereum/go-ethereum/common"
)

const testVault = "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin"

type fakeMaker struct {
	id      string
	premium float64
	delay   time.Duration
	// stubborn makers ignore cancellation and answer after delay anyway.
	stubborn bool
	decline  bool
	err      error
	mutate   func(*Quote)
	signer   *Signer
}

func (f *fakeMaker) ID() string { return f.id }

func (f *fakeMaker) RequestQuote(ctx context.Context, req Request) (Quote, bool, error) {
	if f.stubborn {
		time.Sleep(f.delay)
	} else {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return Quote{}, false, ctx.Err()
		}
	}
	if f.err != nil {
		return Quote{}, false, f.err
	}
	if f.decline {
		return Quote{}, false, nil
	}
	q := Quote{RFQID: req.ID, MakerID: f.id, Premium: f.premium}
	if f.mutate != nil {
		f.mutate(&q)
	}
	if f.signer != nil {
		if err := f.signer.SignQuote(&q); err != nil {
			return Quote{}, false, err
		}
	}
	return q, true, nil
}

func newTestCoordinator(makers []Maker, timeout time.Duration) *Coordinator {
	return NewCoordinator(makers, Options{
		Timeout: timeout,
		Bounds:  guard.QuoteBounds{MaxMultiple: 3},
	}, nil, nil)
}

func testRequest(c *Coordinator) Request {
	return c.NewRequest("NVDAx", testVault, 7, 110, time.Now().Add(7*24*time.Hour), 5_000_000)
}

func TestRunPicksHighestPremium(t *testing.T) {
	c := newTestCoordinator([]Maker{
		&fakeMaker{id: "alpha", premium: 4.2},
		&fakeMaker{id: "beta", premium: 4.5},
		&fakeMaker{id: "gamma", premium: 3.9},
	}, time.Second)
	res, err := c.Run(context.Background(), testRequest(c), 4.6)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !res.Filled || res.Best.MakerID != "beta" || res.Best.Premium != 4.5 {
		t.Fatalf("expected beta at 4.5, got %+v", res.Best)
	}
	if res.Received != 3 {
		t.Fatalf("expected 3 quotes, got %d", res.Received)
	}
}

func TestRunIgnoresLateQuotes(t *testing.T) {
	c := newTestCoordinator([]Maker{
		&fakeMaker{id: "fast", premium: 4.2},
		&fakeMaker{id: "slow", premium: 9.0, delay: 400 * time.Millisecond, stubborn: true},
		&fakeMaker{id: "polite", premium: 9.5, delay: 400 * time.Millisecond},
	}, 50*time.Millisecond)
	start := time.Now()
	res, err := c.Run(context.Background(), testRequest(c), 4.6)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 300*time.Millisecond {
		t.Fatalf("expected auction to close at the deadline, took %v", elapsed)
	}
	if res.Best.MakerID != "fast" {
		t.Fatalf("expected only the on-time quote to win, got %+v", res.Best)
	}
	if !res.Best.ReceivedAt.Before(start.Add(50 * time.Millisecond).Add(time.Millisecond)) {
		t.Fatalf("winning quote stamped after deadline: %v", res.Best.ReceivedAt)
	}
}

func TestRunTieGoesToEarliest(t *testing.T) {
	c := newTestCoordinator([]Maker{
		&fakeMaker{id: "late", premium: 4.5, delay: 30 * time.Millisecond},
		&fakeMaker{id: "early", premium: 4.5},
	}, time.Second)
	res, err := c.Run(context.Background(), testRequest(c), 4.6)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Best.MakerID != "early" {
		t.Fatalf("expected earliest equal bid, got %s", res.Best.MakerID)
	}
}

func TestRunNoFill(t *testing.T) {
	c := newTestCoordinator([]Maker{
		&fakeMaker{id: "decliner", decline: true},
		&fakeMaker{id: "broken", err: errors.New("maker offline")},
	}, 100*time.Millisecond)
	res, err := c.Run(context.Background(), testRequest(c), 4.6)
	if err != nil {
		t.Fatalf("expected no-fill to be benign, got %v", err)
	}
	if res.Filled {
		t.Fatalf("expected no fill, got %+v", res.Best)
	}
	if res.Declined != 1 || res.Failed != 1 {
		t.Fatalf("unexpected tallies %+v", res)
	}
}

func TestRunNoMakers(t *testing.T) {
	c := newTestCoordinator(nil, 100*time.Millisecond)
	res, err := c.Run(context.Background(), testRequest(c), 4.6)
	if err != nil || res.Filled {
		t.Fatalf("expected empty no-fill, got %+v err %v", res, err)
	}
}

func TestRunRejectsInvalidQuotes(t *testing.T) {
	c := newTestCoordinator([]Maker{
		&fakeMaker{id: "greedy", premium: 14.0},
		&fakeMaker{id: "zero", premium: 0},
		&fakeMaker{id: "wrongrfq", premium: 5.0, mutate: func(q *Quote) { q.RFQID = "other" }},
		&fakeMaker{id: "imposter", premium: 5.1, mutate: func(q *Quote) { q.MakerID = "honest" }},
		&fakeMaker{id: "honest", premium: 4.0},
	}, time.Second)
	res, err := c.Run(context.Background(), testRequest(c), 4.6)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Best.MakerID != "honest" {
		t.Fatalf("expected only valid quote to win, got %+v", res.Best)
	}
	if res.Rejected != 4 {
		t.Fatalf("expected 4 rejections, got %d", res.Rejected)
	}
}

func TestRunRejectsInvalidRequest(t *testing.T) {
	c := newTestCoordinator([]Maker{&fakeMaker{id: "alpha", premium: 4.2}}, time.Second)
	req := testRequest(c)
	req.Notional = 0
	if _, err := c.Run(context.Background(), req, 4.6); !errors.Is(err, guard.ErrValidationFailed) {
		t.Fatalf("expected validation failure, got %v", err)
	}
}

func TestRunVerifiesPinnedMakers(t *testing.T) {
	good, err := NewSigner("4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318")
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	other, err := NewSigner("8da4ef21b864d2cc526dbdb2a120bd2874c36c9d0a1fb7f8c63d7f7a8b41de8f")
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	c := NewCoordinator([]Maker{
		&fakeMaker{id: "alpha", premium: 4.2, signer: good},
		&fakeMaker{id: "beta", premium: 4.5, signer: other},
		&fakeMaker{id: "gamma", premium: 4.4},
	}, Options{
		Timeout: time.Second,
		Bounds:  guard.QuoteBounds{MaxMultiple: 3},
		MakerAddresses: map[string]common.Address{
			"alpha": good.Address(),
			"beta":  good.Address(),
		},
	}, nil, nil)
	res, err := c.Run(context.Background(), testRequest(c), 4.6)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Best.MakerID != "gamma" {
		t.Fatalf("expected unpinned gamma to beat signed alpha, got %s", res.Best.MakerID)
	}
	if res.Rejected != 1 {
		t.Fatalf("expected beta's foreign signature rejected, got %d rejections", res.Rejected)
	}
}

func TestRunSignsRequest(t *testing.T) {
	signer, err := NewSigner("4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318")
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	seen := make(chan Request, 1)
	maker := &recordingMaker{seen: seen}
	c := NewCoordinator([]Maker{maker}, Options{Timeout: time.Second, Bounds: guard.QuoteBounds{MaxMultiple: 3}, Signer: signer}, nil, nil)
	if _, err := c.Run(context.Background(), testRequest(c), 4.6); err != nil {
		t.Fatalf("run: %v", err)
	}
	req := <-seen
	if req.Keeper != signer.Address().Hex() {
		t.Fatalf("expected keeper address stamped, got %q", req.Keeper)
	}
	if err := VerifyRequest(req, signer.Address()); err != nil {
		t.Fatalf("expected valid request signature: %v", err)
	}
}

type recordingMaker struct {
	seen chan Request
}

func (r *recordingMaker) ID() string { return "rec" }

func (r *recordingMaker) RequestQuote(ctx context.Context, req Request) (Quote, bool, error) {
	r.seen <- req
	return Quote{}, false, nil
}

func TestHighestPremium(t *testing.T) {
	t0 := time.Unix(0, 0)
	a := Quote{Premium: 4.5, ReceivedAt: t0}
	b := Quote{Premium: 4.5, ReceivedAt: t0.Add(time.Millisecond)}
	if !HighestPremium(a, b) || HighestPremium(b, a) {
		t.Fatalf("expected earlier equal bid to win")
	}
	if !HighestPremium(Quote{Premium: 5}, a) {
		t.Fatalf("expected higher premium to win")
	}
}
