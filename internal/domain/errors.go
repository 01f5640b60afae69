package domain

import (
	"context"
	"errors"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrRateLimited   = errors.New("rate limited")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrInvalidTrade  = errors.New("invalid trade")
	ErrWSDisconnect  = errors.New("websocket disconnected")
	ErrConfiguration = errors.New("invalid configuration")

	// Execution failures. The first three are transient, the last two are
	// permanent for the order that produced them.
	ErrConnection          = errors.New("connection failed")
	ErrTimeout             = errors.New("request timed out")
	ErrOrderExecution      = errors.New("order execution failed")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidOrder        = errors.New("invalid order parameters")
)

// ErrorKind tags an execution failure for retry classification.
type ErrorKind string

const (
	KindConnection        ErrorKind = "connection"
	KindTimeout           ErrorKind = "timeout"
	KindExecution         ErrorKind = "execution"
	KindInsufficientFunds ErrorKind = "insufficient_funds"
	KindInvalidOrder      ErrorKind = "invalid_order"
	KindUnknown           ErrorKind = "unknown"
)

// KindOf classifies err. Permanent kinds are checked first so an error that
// wraps both (for example an invalid order reported over a flaky link) fails
// closed.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrInsufficientBalance):
		return KindInsufficientFunds
	case errors.Is(err, ErrInvalidOrder):
		return KindInvalidOrder
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, ErrConnection), errors.Is(err, ErrRateLimited):
		return KindConnection
	case errors.Is(err, ErrOrderExecution):
		return KindExecution
	default:
		return KindUnknown
	}
}
