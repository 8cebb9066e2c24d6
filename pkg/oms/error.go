package oms

import "errors"

var (
	ErrOwnedByStrategy    = errors.New("order is owned by a strategy")
	ErrInvalidOrderStatus = errors.New("invalid order status")
	errUnknownKind        = errors.New("unknown request kind")
	errMissingParams      = errors.New("missing params for request kind")
)
