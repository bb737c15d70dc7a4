package store

import (
	"errors"
	"fmt"
)

var (
	// ErrExhausted means the gift has reached its claim limit.
	ErrExhausted = errors.New("gift exhausted")
	// ErrOnCooldown means the wish was claimed less than 7 days ago.
	ErrOnCooldown = errors.New("gift on cooldown")
	// ErrUnavailable wraps backend failures. The claim may be retried.
	ErrUnavailable = errors.New("store unavailable")
	// ErrInvariant means the stored record is malformed.
	ErrInvariant = errors.New("gift state invariant violated")
	ErrUnknownGift = errors.New("unknown gift")
)

// Claimed reports whether a Claim call took effect.
func Claimed(err error) bool {
	return err == nil
}

// Declined reports whether err is an expected refusal rather than a failure.
func Declined(err error) bool {
	return errors.Is(err, ErrExhausted) || errors.Is(err, ErrOnCooldown)
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}
