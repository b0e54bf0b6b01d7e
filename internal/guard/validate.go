package guard

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"time"

	"go.uber.org/multierr"
)

var ErrValidationFailed = errors.New("validation failed")

const (
	maxStrike        = 1_000_000
	maxExpiryHorizon = 365 * 24 * time.Hour
	// MaxNotional is the largest notional exactly representable in a float64.
	MaxNotional uint64 = 1<<53 - 1
)

var (
	assetIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,32}$`)
	addressPattern = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]{32,44}$`)
)

// RequestFields is the subset of an RFQ checked before it goes out.
type RequestFields struct {
	AssetID      string
	VaultAddress string
	Strike       float64
	Expiry       time.Time
	Notional     uint64
}

// ValidateRequest checks every field and reports all failures at once.
func ValidateRequest(req RequestFields, now time.Time) error {
	var errs error
	if !assetIDPattern.MatchString(req.AssetID) {
		errs = multierr.Append(errs, fmt.Errorf("asset id %q: must be 1-32 characters of [A-Za-z0-9_-]", req.AssetID))
	}
	if !addressPattern.MatchString(req.VaultAddress) {
		errs = multierr.Append(errs, fmt.Errorf("vault address %q: not a base58 address", req.VaultAddress))
	}
	if math.IsNaN(req.Strike) || req.Strike <= 0 || req.Strike >= maxStrike {
		errs = multierr.Append(errs, fmt.Errorf("strike %v: must be in (0, %d)", req.Strike, maxStrike))
	}
	if !req.Expiry.After(now) || !req.Expiry.Before(now.Add(maxExpiryHorizon)) {
		errs = multierr.Append(errs, fmt.Errorf("expiry %s: must be within the next year", req.Expiry.UTC().Format(time.RFC3339)))
	}
	if req.Notional == 0 || req.Notional > MaxNotional {
		errs = multierr.Append(errs, fmt.Errorf("notional %d: must be in (0, %d]", req.Notional, MaxNotional))
	}
	if errs != nil {
		return fmt.Errorf("%w: %w", ErrValidationFailed, errs)
	}
	return nil
}

// QuoteBounds rejects maker premiums that fall outside a band around the
// theoretical total premium.
type QuoteBounds struct {
	MaxMultiple float64
	MinRatio    float64
}

func (b QuoteBounds) Check(premium, theoretical float64) error {
	if math.IsNaN(premium) || math.IsInf(premium, 0) || premium <= 0 {
		return fmt.Errorf("%w: premium %v must be positive", ErrValidationFailed, premium)
	}
	if theoretical <= 0 || math.IsNaN(theoretical) {
		return fmt.Errorf("%w: no theoretical reference for premium %v", ErrValidationFailed, premium)
	}
	if b.MaxMultiple > 0 && premium > b.MaxMultiple*theoretical {
		return fmt.Errorf("%w: premium %.6f exceeds %.1fx theoretical %.6f", ErrValidationFailed, premium, b.MaxMultiple, theoretical)
	}
	if b.MinRatio > 0 && premium < b.MinRatio*theoretical {
		return fmt.Errorf("%w: premium %.6f below floor %.6f", ErrValidationFailed, premium, b.MinRatio*theoretical)
	}
	return nil
}
