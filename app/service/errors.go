package service

import "errors"

var (
	ErrInvalidRequest       = errors.New("invalid request")
	ErrInvalidCredential    = errors.New("invalid credential")
	ErrRateLimited          = errors.New("rate limit exceeded")
	ErrProductNotFound      = errors.New("product not found")
	ErrProcessorUnavailable = errors.New("payment processor unavailable")
	ErrProcessorRejected    = errors.New("payment processor rejected request")
	ErrUnauthorized         = errors.New("unauthorized")
)
