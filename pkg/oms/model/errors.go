package model

import "errors"

var (
	ErrInvalidOrderParameters = errors.New("invalid order parameters")
	ErrRateLimited            = errors.New("rate limited")
	ErrNetworkTimeout         = errors.New("network timeout")
	ErrInsufficientBalance    = errors.New("insufficient balance")
	ErrSymbolSuspended        = errors.New("symbol suspended")
	ErrAlreadyFilled          = errors.New("order already filled")
	ErrNotFound               = errors.New("not found")
	ErrSupervisionTimeout     = errors.New("supervision timeout")
)

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrNetworkTimeout)
}
