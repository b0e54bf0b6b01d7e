package vault

import (
	"errors"
	"fmt"
)

// ErrTimeout marks a submission whose outcome is unknown: the transaction may
// or may not have landed.
var ErrTimeout = errors.New("vault: confirmation timeout")

// RejectedError is a deterministic refusal by the vault program. Resubmitting
// the same instruction fails the same way.
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("vault: rejected: %s", e.Reason)
}

func IsRejected(err error) bool {
	var rejected *RejectedError
	return errors.As(err, &rejected)
}

// IsTransient reports whether err is worth retrying unchanged.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	return !IsRejected(err) && !errors.Is(err, ErrTimeout)
}
