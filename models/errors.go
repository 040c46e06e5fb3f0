package models

import (
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrForbidden        = errors.New("forbidden")
	ErrNotFoundOrDenied = errors.New("not found or access denied")
	ErrInvalidInput     = errors.New("invalid input")
	ErrInvalidState     = errors.New("invalid state")
	ErrPayloadTooLarge  = errors.New("payload too large")
	ErrUpstream         = errors.New("upstream error")
	ErrUpstreamTimeout  = errors.New("upstream timeout")
	ErrCacheUnavailable = errors.New("cache unavailable")

	ErrFolderNotEmpty        = fmt.Errorf("folder is not empty: %w", ErrInvalidState)
	ErrFolderCycle           = fmt.Errorf("folder cannot be moved into its own subtree: %w", ErrInvalidState)
	ErrCouponInvalid         = fmt.Errorf("coupon is invalid or expired: %w", ErrInvalidState)
	ErrCouponAlreadyRedeemed = fmt.Errorf("coupon already redeemed: %w", ErrInvalidState)
	ErrSelfGrant             = fmt.Errorf("cannot grant access to the folder owner: %w", ErrInvalidState)
)

// QuotaExceededError is returned when an admission asks for more bytes than
// the user has available.
type QuotaExceededError struct {
	Requested int64
	Available int64
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("storage quota exceeded: requested %s, available %s",
		humanize.IBytes(uint64(e.Requested)), humanize.IBytes(uint64(max(e.Available, 0))))
}
