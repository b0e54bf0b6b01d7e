package pricing

import "testing"

func TestCallPayoffInTheMoney(t *testing.T) {
	payoff, itm := CallPayoff(120, 110, 4_000_000)
	if !itm {
		t.Fatalf("expected in the money")
	}
	// 4,000,000 * 10 / 120
	if payoff != 333_333 {
		t.Fatalf("expected 333333, got %d", payoff)
	}
}

func TestCallPayoffOutOfTheMoney(t *testing.T) {
	for _, spot := range []float64{100, 110} {
		if payoff, itm := CallPayoff(spot, 110, 4_000_000); itm || payoff != 0 {
			t.Fatalf("spot %v: expected worthless option, got %d itm=%v", spot, payoff, itm)
		}
	}
	if _, itm := CallPayoff(120, 0, 4_000_000); itm {
		t.Fatalf("expected zero strike treated as unset")
	}
}
