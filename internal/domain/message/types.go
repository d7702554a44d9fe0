// Package message defines the core submission record shared by the
// precedence queue, dispatch worker, and gateway front.
package message

import (
	"errors"
	"time"
)

// Precedence is the military-standard message precedence level. Lower
// numeric value means higher priority.
type Precedence string

const (
	PrecedenceFlash     Precedence = "FLASH"
	PrecedenceImmediate Precedence = "IMMEDIATE"
	PrecedencePriority  Precedence = "PRIORITY"
	PrecedenceRoutine   Precedence = "ROUTINE"
)

// Order is the strict dispatch order, highest precedence first.
var Order = []Precedence{PrecedenceFlash, PrecedenceImmediate, PrecedencePriority, PrecedenceRoutine}

// Rank returns the numeric priority (1=FLASH .. 4=ROUTINE), or 0 if unknown.
func (p Precedence) Rank() int {
	switch p {
	case PrecedenceFlash:
		return 1
	case PrecedenceImmediate:
		return 2
	case PrecedencePriority:
		return 3
	case PrecedenceRoutine:
		return 4
	default:
		return 0
	}
}

func (p Precedence) Valid() bool {
	return p.Rank() != 0
}

// Classification is an opaque security label enforced only at submission
// validation and at get_content's classification-ceiling check.
type Classification string

const (
	ClassificationUnclassified Classification = "UNCLASSIFIED"
	ClassificationConfidential Classification = "CONFIDENTIAL"
	ClassificationSecret       Classification = "SECRET"
	ClassificationTopSecret    Classification = "TOP_SECRET"
)

var classificationRank = map[Classification]int{
	ClassificationUnclassified: 0,
	ClassificationConfidential: 1,
	ClassificationSecret:       2,
	ClassificationTopSecret:    3,
}

func (c Classification) Valid() bool {
	_, ok := classificationRank[c]
	return ok
}

// Rank returns the classification's position in the hierarchy, lowest
// first. Unknown classifications rank below UNCLASSIFIED.
func (c Classification) Rank() int {
	if r, ok := classificationRank[c]; ok {
		return r
	}
	return -1
}

// Status is the submission's current position in its delivery state
// machine. Transitions are monotonic and never regress.
type Status string

const (
	StatusQueued   Status = "QUEUED"
	StatusInFlight Status = "IN_FLIGHT"
	StatusDelivered Status = "DELIVERED"
	StatusFailed   Status = "FAILED"
	StatusExpired  Status = "EXPIRED"
)

func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusFailed || s == StatusExpired
}

// Message is the submission record. SealedPayload is opaque ciphertext
// produced by the crypto sealer and is never logged.
type Message struct {
	ID             string
	Precedence     Precedence
	Classification Classification
	Sender         string
	Recipient      string
	SealedPayload  []byte
	SubmittedAt    time.Time
	TTLSeconds     int
	ExpiresAt      time.Time
	Status         Status
	AttemptCount   int
	NextAttemptAt  time.Time
}

func (m Message) Expired(now time.Time) bool {
	return !m.ExpiresAt.After(now)
}

var (
	ErrNotFound         = errors.New("message: not found")
	ErrInvalidArgument  = errors.New("message: invalid argument")
	ErrConflict         = errors.New("message: conflict")
	ErrQueueFull        = errors.New("message: queue full")
	ErrIntegrity         = errors.New("message: integrity check failed")
	ErrAlreadyTerminal  = errors.New("message: already in a terminal state")
)

const (
	MaxContentBytes = 65536
	MinTTLSeconds   = 1
	MaxTTLSeconds   = 86400
)

// ValidateSubmission checks a submission's field-level constraints,
// independent of authentication, authorization, or backpressure.
func ValidateSubmission(precedence Precedence, classification Classification, contentLen, ttl int) error {
	if !precedence.Valid() {
		return ErrInvalidArgument
	}
	if !classification.Valid() {
		return ErrInvalidArgument
	}
	if contentLen <= 0 || contentLen > MaxContentBytes {
		return ErrInvalidArgument
	}
	if ttl < MinTTLSeconds || ttl > MaxTTLSeconds {
		return ErrInvalidArgument
	}
	return nil
}
