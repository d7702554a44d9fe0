// Package crypto implements the relay's authenticated-encryption
// contract: AES-256-GCM with a random 96-bit nonce per message and a
// key-version stamp that supports rotation without breaking the
// ability to decrypt messages sealed under a retired key.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ryanwelchtech/tactical-edge-comm-gateway/internal/domain/audit"
	"github.com/ryanwelchtech/tactical-edge-comm-gateway/internal/domain/message"
)

const (
	NonceSize  = 12 // 96 bits, GCM's recommended nonce size
	KeySize    = 32 // AES-256
	algVersion = "AES-256-GCM-v1"
)

var (
	ErrKeyNotFound     = errors.New("crypto: key version not found")
	ErrInvalidSeal     = errors.New("crypto: malformed sealed payload")
	ErrIntegrityFailed = message.ErrIntegrity
)

// Sink receives the SC-family audit events the sealer emits.
type Sink interface {
	Append(event audit.Event)
}

// KeyRing holds the symmetric keys known to this process, keyed by an
// opaque version identifier. The ring's Current version is used for new
// seals; every version remains usable for Open until explicitly pruned,
// so a retired key still opens payloads sealed under it.
type KeyRing struct {
	mu      sync.RWMutex
	keys    map[string][]byte
	current string
}

func NewKeyRing(version string, key []byte) (*KeyRing, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("crypto: key must be %d bytes, got %d", KeySize, len(key))
	}
	return &KeyRing{
		keys:    map[string][]byte{version: append([]byte(nil), key...)},
		current: version,
	}, nil
}

// Rotate installs a new current key version. The previous version remains
// retrievable until Prune is called.
func (r *KeyRing) Rotate(version string, key []byte) error {
	if len(key) != KeySize {
		return fmt.Errorf("crypto: key must be %d bytes, got %d", KeySize, len(key))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys[version] = append([]byte(nil), key...)
	r.current = version
	return nil
}

// Prune drops a retired key version, after which Open for that version
// fails with ErrKeyNotFound.
func (r *KeyRing) Prune(version string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if version == r.current {
		return
	}
	delete(r.keys, version)
}

func (r *KeyRing) lookup(version string) ([]byte, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	key, ok := r.keys[version]
	return key, ok
}

func (r *KeyRing) currentVersion() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// Sealer seals message content under the ring's current key and opens
// it back up again using whichever key version it was sealed under.
type Sealer struct {
	ring  *KeyRing
	sink  Sink
	now   func() time.Time
	newID func() string
}

type Option func(*Sealer)

func WithClock(now func() time.Time) Option {
	return func(s *Sealer) { s.now = now }
}

func WithIDFunc(f func() string) Option {
	return func(s *Sealer) { s.newID = f }
}

func NewSealer(ring *KeyRing, sink Sink, opts ...Option) *Sealer {
	s := &Sealer{ring: ring, sink: sink, now: time.Now, newID: defaultEventID}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// sealedPayload wire format (all big-endian, length-prefixed):
//
//	[2 bytes key-version length][key-version][12-byte nonce][ciphertext||tag]
func encodeSealed(version string, nonce, ciphertext []byte) []byte {
	out := make([]byte, 0, 2+len(version)+len(nonce)+len(ciphertext))
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(version)))
	out = append(out, lenBuf[:]...)
	out = append(out, version...)
	out = append(out, nonce...)
	out = append(out, ciphertext...)
	return out
}

func decodeSealed(sealed []byte) (version string, nonce, ciphertext []byte, err error) {
	if len(sealed) < 2 {
		return "", nil, nil, ErrInvalidSeal
	}
	vlen := int(binary.BigEndian.Uint16(sealed[:2]))
	rest := sealed[2:]
	if len(rest) < vlen+NonceSize {
		return "", nil, nil, ErrInvalidSeal
	}
	version = string(rest[:vlen])
	nonce = rest[vlen : vlen+NonceSize]
	ciphertext = rest[vlen+NonceSize:]
	if len(ciphertext) < 1 {
		return "", nil, nil, ErrInvalidSeal
	}
	return version, nonce, ciphertext, nil
}

// Seal encrypts plaintext under the ring's current key, stamping the
// result with the key version and a fresh random 96-bit nonce. It emits an
// ENCRYPT audit event and never returns partial data on error.
func (s *Sealer) Seal(plaintext []byte, classification message.Classification) ([]byte, error) {
	version := s.ring.currentVersion()
	key, ok := s.ring.lookup(version)
	if !ok {
		return nil, ErrKeyNotFound
	}
	aead, err := newAEAD(key)
	if err != nil {
		s.emit(audit.EventEncrypt, audit.OutcomeFailure, classification, err)
		return nil, err
	}
	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		s.emit(audit.EventEncrypt, audit.OutcomeFailure, classification, err)
		return nil, err
	}
	ciphertext := aead.Seal(nil, nonce, plaintext, nil)
	s.emit(audit.EventEncrypt, audit.OutcomeSuccess, classification, nil)
	return encodeSealed(version, nonce, ciphertext), nil
}

// Open verifies the authentication tag and returns the plaintext, or
// ErrIntegrityFailed if the tag does not verify. On failure it never
// returns partial data and emits an INTEGRITY_CHECK audit event with
// outcome FAILURE.
func (s *Sealer) Open(sealed []byte) ([]byte, error) {
	version, nonce, ciphertext, err := decodeSealed(sealed)
	if err != nil {
		s.emitIntegrity(audit.OutcomeFailure, err)
		return nil, ErrInvalidSeal
	}
	key, ok := s.ring.lookup(version)
	if !ok {
		s.emitIntegrity(audit.OutcomeFailure, ErrKeyNotFound)
		return nil, ErrKeyNotFound
	}
	aead, err := newAEAD(key)
	if err != nil {
		s.emitIntegrity(audit.OutcomeFailure, err)
		return nil, err
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		s.emitIntegrity(audit.OutcomeFailure, ErrIntegrityFailed)
		return nil, ErrIntegrityFailed
	}
	s.emit(audit.EventDecrypt, audit.OutcomeSuccess, "", nil)
	return plaintext, nil
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCMWithNonceSize(block, NonceSize)
}

func (s *Sealer) emit(eventType audit.EventType, outcome audit.Outcome, classification message.Classification, cause error) {
	if s.sink == nil {
		return
	}
	ctx := map[string]any{"algorithm": algVersion}
	if classification != "" {
		ctx["classification"] = string(classification)
	}
	if cause != nil {
		ctx["error"] = cause.Error()
	}
	s.sink.Append(audit.Event{
		EventID:       s.newID(),
		Timestamp:     s.now().UTC(),
		ControlFamily: audit.Family[eventType],
		EventType:     eventType,
		Action:        audit.Action{Operation: string(eventType), Outcome: outcome},
		Context:       ctx,
	})
}

func (s *Sealer) emitIntegrity(outcome audit.Outcome, cause error) {
	s.emit(audit.EventIntegrityCheck, outcome, "", cause)
}

func defaultEventID() string {
	var buf [16]byte
	_, _ = rand.Read(buf[:])
	const hex = "0123456789abcdef"
	out := make([]byte, 32)
	for i, b := range buf {
		out[i*2] = hex[b>>4]
		out[i*2+1] = hex[b&0x0f]
	}
	return string(out)
}
