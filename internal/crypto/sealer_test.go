package crypto

import (
	"bytes"
	"testing"
	"time"

	"github.com/ryanwelchtech/tactical-edge-comm-gateway/internal/domain/audit"
)

type fakeSink struct {
	events []audit.Event
}

func (f *fakeSink) Append(e audit.Event) {
	f.events = append(f.events, e)
}

func testKey(b byte) []byte {
	key := make([]byte, KeySize)
	for i := range key {
		key[i] = b
	}
	return key
}

func TestSealOpenRoundTrip(t *testing.T) {
	ring, err := NewKeyRing("v1", testKey(0x01))
	if err != nil {
		t.Fatalf("NewKeyRing: %v", err)
	}
	sink := &fakeSink{}
	sealer := NewSealer(ring, sink, WithClock(func() time.Time { return time.Unix(0, 0) }))

	plaintext := []byte("rendezvous at grid 38S MB 1234 5678")
	sealed, err := sealer.Seal(plaintext, "SECRET")
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if bytes.Contains(sealed, plaintext) {
		t.Fatalf("sealed payload must not contain plaintext")
	}

	opened, err := sealer.Open(sealed)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !bytes.Equal(opened, plaintext) {
		t.Fatalf("round trip mismatch: got %q want %q", opened, plaintext)
	}

	var sawEncrypt, sawDecrypt bool
	for _, e := range sink.events {
		switch e.EventType {
		case audit.EventEncrypt:
			sawEncrypt = true
		case audit.EventDecrypt:
			sawDecrypt = true
		}
	}
	if !sawEncrypt || !sawDecrypt {
		t.Fatalf("expected ENCRYPT and DECRYPT audit events, got %+v", sink.events)
	}
}

func TestOpenRejectsTampering(t *testing.T) {
	ring, _ := NewKeyRing("v1", testKey(0x02))
	sink := &fakeSink{}
	sealer := NewSealer(ring, sink)

	sealed, err := sealer.Seal([]byte("tamper me"), "CONFIDENTIAL")
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	tampered := append([]byte(nil), sealed...)
	tampered[len(tampered)-1] ^= 0xFF

	if _, err := sealer.Open(tampered); err != ErrIntegrityFailed {
		t.Fatalf("Open(tampered) = %v, want ErrIntegrityFailed", err)
	}

	var failureSeen bool
	for _, e := range sink.events {
		if e.EventType == audit.EventIntegrityCheck && e.Action.Outcome == audit.OutcomeFailure {
			failureSeen = true
		}
	}
	if !failureSeen {
		t.Fatalf("expected a FAILURE INTEGRITY_CHECK event")
	}
}

func TestRotateKeepsOldVersionOpenable(t *testing.T) {
	ring, _ := NewKeyRing("v1", testKey(0x03))
	sealer := NewSealer(ring, nil)

	sealed, err := sealer.Seal([]byte("sealed under v1"), "SECRET")
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	if err := ring.Rotate("v2", testKey(0x04)); err != nil {
		t.Fatalf("Rotate: %v", err)
	}

	opened, err := sealer.Open(sealed)
	if err != nil {
		t.Fatalf("Open after rotation: %v", err)
	}
	if string(opened) != "sealed under v1" {
		t.Fatalf("got %q", opened)
	}

	sealedV2, err := sealer.Seal([]byte("sealed under v2"), "SECRET")
	if err != nil {
		t.Fatalf("Seal after rotation: %v", err)
	}
	if opened, err := sealer.Open(sealedV2); err != nil || string(opened) != "sealed under v2" {
		t.Fatalf("Open(sealedV2) = %q, %v", opened, err)
	}
}

func TestPruneRetiresOldKey(t *testing.T) {
	ring, _ := NewKeyRing("v1", testKey(0x05))
	sealer := NewSealer(ring, nil)
	sealed, _ := sealer.Seal([]byte("old"), "SECRET")

	ring.Rotate("v2", testKey(0x06))
	ring.Prune("v1")

	if _, err := sealer.Open(sealed); err != ErrKeyNotFound {
		t.Fatalf("Open after prune = %v, want ErrKeyNotFound", err)
	}
}

func TestOpenRejectsMalformedInput(t *testing.T) {
	ring, _ := NewKeyRing("v1", testKey(0x07))
	sealer := NewSealer(ring, nil)

	for _, sealed := range [][]byte{nil, {0x00}, {0x00, 0x01, 0x02}} {
		if _, err := sealer.Open(sealed); err != ErrInvalidSeal {
			t.Fatalf("Open(%v) = %v, want ErrInvalidSeal", sealed, err)
		}
	}
}
