package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ryanwelchtech/tactical-edge-comm-gateway/internal/domain/message"
)

// memoryStore is the in-process fallback used when no Redis endpoint is
// configured. Alongside the four partitions it keeps an id-indexed side
// map, so a message's terminal record survives Ack/Reject for
// get_status/get_content lookups.
type memoryStore struct {
	mu         sync.Mutex
	partitions map[message.Precedence][]*message.Message
	all        map[string]*message.Message
}

func NewMemoryStore() Store {
	s := &memoryStore{
		partitions: make(map[message.Precedence][]*message.Message),
		all:        make(map[string]*message.Message),
	}
	for _, p := range message.Order {
		s.partitions[p] = nil
	}
	return s
}

func (s *memoryStore) Enqueue(_ context.Context, msg *message.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := cloneMessage(msg)
	s.partitions[msg.Precedence] = append(s.partitions[msg.Precedence], clone)
	s.all[msg.ID] = cloneMessage(clone)
	return nil
}

func (s *memoryStore) Peek(_ context.Context, precedence message.Precedence) (*message.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := s.partitions[precedence]
	if len(items) == 0 {
		return nil, ErrEmpty
	}
	return cloneMessage(items[0]), nil
}

func (s *memoryStore) Ack(_ context.Context, precedence message.Precedence, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.remove(precedence, id); err != nil {
		return err
	}
	if archived, ok := s.all[id]; ok {
		archived.Status = message.StatusDelivered
	}
	return nil
}

func (s *memoryStore) Reject(_ context.Context, precedence message.Precedence, id string, terminalStatus message.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.remove(precedence, id); err != nil {
		return err
	}
	if archived, ok := s.all[id]; ok {
		archived.Status = terminalStatus
	}
	return nil
}

func (s *memoryStore) Get(_ context.Context, id string) (*message.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	archived, ok := s.all[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneMessage(archived), nil
}

func (s *memoryStore) Remove(_ context.Context, precedence message.Precedence, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.remove(precedence, id); err != nil {
		return err
	}
	delete(s.all, id)
	return nil
}

func (s *memoryStore) remove(precedence message.Precedence, id string) error {
	items := s.partitions[precedence]
	for i, m := range items {
		if m.ID == id {
			s.partitions[precedence] = append(items[:i], items[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

func (s *memoryStore) Requeue(_ context.Context, msg *message.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.remove(msg.Precedence, msg.ID); err != nil && err != ErrNotFound {
		return err
	}
	clone := cloneMessage(msg)
	s.partitions[msg.Precedence] = append(s.partitions[msg.Precedence], clone)
	s.all[msg.ID] = cloneMessage(clone)
	return nil
}

func (s *memoryStore) Depth(_ context.Context, precedence message.Precedence) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.partitions[precedence]), nil
}

func (s *memoryStore) Depths(_ context.Context) (map[message.Precedence]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[message.Precedence]int, len(s.partitions))
	for p, items := range s.partitions {
		out[p] = len(items)
	}
	return out, nil
}

func (s *memoryStore) ScanExpired(_ context.Context, now time.Time) ([]*message.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var expired []*message.Message
	for p, items := range s.partitions {
		kept := items[:0:0]
		for _, m := range items {
			if m.Expired(now) {
				m.Status = message.StatusExpired
				if archived, ok := s.all[m.ID]; ok {
					archived.Status = message.StatusExpired
				}
				expired = append(expired, cloneMessage(m))
				continue
			}
			kept = append(kept, m)
		}
		s.partitions[p] = kept
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].SubmittedAt.Before(expired[j].SubmittedAt) })
	return expired, nil
}

func cloneMessage(m *message.Message) *message.Message {
	if m == nil {
		return nil
	}
	clone := *m
	if m.SealedPayload != nil {
		clone.SealedPayload = append([]byte(nil), m.SealedPayload...)
	}
	return &clone
}
