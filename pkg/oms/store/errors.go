package store

import "errors"

var (
	errDuplicateOrder     = errors.New("duplicate order")
	errEmptyClientOrderID = errors.New("empty client order id")
)
