package errors

import (
	"errors"
)

var (
	ErrInvalidCredentials = errors.New("invalid api key")
	ErrAccountNotFound    = errors.New("account not found")
	ErrAccountDisabled    = errors.New("account disabled")
	ErrInsufficientFunds  = errors.New("insufficient wallet balance")
	ErrInvalidAmount      = errors.New("amount must be positive")
	ErrInvalidInput       = errors.New("invalid input")

	ErrServiceNotFound = errors.New("service not found")
	ErrServiceDisabled = errors.New("service disabled")

	ErrNilTransaction      = errors.New("transaction is nil")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrAlreadySettled      = errors.New("transaction already settled")
	ErrDuplicateReference  = errors.New("transaction reference already used")
	ErrInvalidOutcome      = errors.New("invalid transaction outcome")

	ErrDuplicateRecharge = errors.New("recharge already applied")

	ErrUpstreamFailed   = errors.New("upstream provider failed")
	ErrUpstreamTimeout  = errors.New("upstream provider timed out")
	ErrResponseTooLarge = errors.New("upstream response too large")
	ErrUnknownURLMode   = errors.New("unknown url mode")

	ErrStorage = errors.New("storage failure")
)
