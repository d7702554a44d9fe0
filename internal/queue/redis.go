package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ryanwelchtech/tactical-edge-comm-gateway/internal/domain/message"
)

// redisStore persists each partition as a sorted set scored by a
// monotonic per-partition sequence counter, so enqueue and requeue both
// place the message at the tail — the score is an admission sequence,
// not a timestamp, which keeps FIFO ordering correct across requeues.
type redisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) Store {
	return &redisStore{client: client}
}

// terminalRetention is how long a message record survives in Redis past
// Ack/Reject, so get_status/get_content still resolve it after dispatch.
const terminalRetention = 24 * time.Hour

func queueKey(precedence message.Precedence) string {
	return fmt.Sprintf("tacedge:queue:%s", precedence)
}

func seqKey(precedence message.Precedence) string {
	return fmt.Sprintf("tacedge:queue:%s:seq", precedence)
}

func messageKey(id string) string {
	return fmt.Sprintf("tacedge:msg:%s", id)
}

func (s *redisStore) admit(ctx context.Context, msg *message.Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	ttl := time.Until(msg.ExpiresAt) + terminalRetention
	if ttl <= 0 {
		ttl = terminalRetention
	}
	seq, err := s.client.Incr(ctx, seqKey(msg.Precedence)).Result()
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.ZAdd(ctx, queueKey(msg.Precedence), redis.Z{Score: float64(seq), Member: msg.ID})
	pipe.Set(ctx, messageKey(msg.ID), payload, ttl)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *redisStore) Enqueue(ctx context.Context, msg *message.Message) error {
	return s.admit(ctx, msg)
}

func (s *redisStore) Peek(ctx context.Context, precedence message.Precedence) (*message.Message, error) {
	ids, err := s.client.ZRangeByScore(ctx, queueKey(precedence), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   "+inf",
		Count: 1,
	}).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, ErrEmpty
	}
	return s.loadMessage(ctx, ids[0])
}

func (s *redisStore) loadMessage(ctx context.Context, id string) (*message.Message, error) {
	raw, err := s.client.Get(ctx, messageKey(id)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var msg message.Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// archive transitions msg to terminalStatus, removes it from its
// partition, and retains the record under messageKey for
// terminalRetention so Get keeps resolving it.
func (s *redisStore) archive(ctx context.Context, precedence message.Precedence, id string, terminalStatus message.Status) error {
	msg, err := s.loadMessage(ctx, id)
	if err != nil {
		return err
	}
	msg.Status = terminalStatus
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.ZRem(ctx, queueKey(precedence), id)
	pipe.Set(ctx, messageKey(id), payload, terminalRetention)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *redisStore) Ack(ctx context.Context, precedence message.Precedence, id string) error {
	return s.archive(ctx, precedence, id, message.StatusDelivered)
}

func (s *redisStore) Reject(ctx context.Context, precedence message.Precedence, id string, terminalStatus message.Status) error {
	return s.archive(ctx, precedence, id, terminalStatus)
}

func (s *redisStore) Get(ctx context.Context, id string) (*message.Message, error) {
	return s.loadMessage(ctx, id)
}

// Remove deletes id's sorted-set member and its message record outright,
// rather than archiving it under a terminal status the way Reject does.
func (s *redisStore) Remove(ctx context.Context, precedence message.Precedence, id string) error {
	pipe := s.client.TxPipeline()
	pipe.ZRem(ctx, queueKey(precedence), id)
	pipe.Del(ctx, messageKey(id))
	_, err := pipe.Exec(ctx)
	return err
}

func (s *redisStore) Requeue(ctx context.Context, msg *message.Message) error {
	if err := s.client.ZRem(ctx, queueKey(msg.Precedence), msg.ID).Err(); err != nil {
		return err
	}
	return s.admit(ctx, msg)
}

func (s *redisStore) Depth(ctx context.Context, precedence message.Precedence) (int, error) {
	n, err := s.client.ZCard(ctx, queueKey(precedence)).Result()
	return int(n), err
}

func (s *redisStore) Depths(ctx context.Context) (map[message.Precedence]int, error) {
	out := make(map[message.Precedence]int, len(message.Order))
	for _, p := range message.Order {
		n, err := s.Depth(ctx, p)
		if err != nil {
			return nil, err
		}
		out[p] = n
	}
	return out, nil
}

func (s *redisStore) ScanExpired(ctx context.Context, now time.Time) ([]*message.Message, error) {
	var expired []*message.Message
	for _, p := range message.Order {
		ids, err := s.client.ZRange(ctx, queueKey(p), 0, -1).Result()
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			msg, err := s.loadMessage(ctx, id)
			if err == ErrNotFound {
				// the message record's key ran out its own TTL; drop the
				// dangling sorted-set member. With no record left, it is
				// not part of the returned list.
				s.client.ZRem(ctx, queueKey(p), id)
				continue
			}
			if err != nil {
				return nil, err
			}
			if !msg.Expired(now) {
				continue
			}
			if err := s.archive(ctx, p, id, message.StatusExpired); err != nil {
				return nil, err
			}
			msg.Status = message.StatusExpired
			expired = append(expired, msg)
		}
	}
	return expired, nil
}
