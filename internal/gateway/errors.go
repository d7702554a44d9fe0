// Package gateway implements the Gateway Front (C5): the request surface
// that authenticates callers, validates submissions, drives the
// submission state machine, and orchestrates the audit log, crypto
// sealer, precedence queue, and dispatch worker behind it.
package gateway

import "errors"

// Error taxonomy surfaced by the HTTP layer as the matching status code
// and error envelope code.
var (
	ErrInvalidToken   = errors.New("gateway: invalid or expired token")
	ErrForbidden      = errors.New("gateway: insufficient permission")
	ErrValidation     = errors.New("gateway: validation failed")
	ErrIntegrity      = errors.New("gateway: integrity check failed")
	ErrRateLimited    = errors.New("gateway: rate limit exceeded")
	ErrQueueFull      = errors.New("gateway: queue full")
	ErrNotFound       = errors.New("gateway: not found")
	ErrClassification = errors.New("gateway: classification exceeds role ceiling")
	ErrInternal       = errors.New("gateway: internal error")
)
