package metrics

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// transientTTL bounds how long tracking state survives if finalization
// never runs for a session.
const transientTTL = 24 * time.Hour

// RedisStore keeps transient tracking state in Redis, shared across server
// instances.
type RedisStore struct {
	client *redis.Client
}

var _ TransientStore = (*RedisStore)(nil)

// NewRedisStore creates a Redis-backed transient metrics store.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func joinKey(sessionID, userID uuid.UUID) string {
	return "metrics:join:" + sessionID.String() + ":" + userID.String()
}
func activeKey(sessionID uuid.UUID) string { return "metrics:active:" + sessionID.String() }
func watchKey(sessionID uuid.UUID) string  { return "metrics:watch:" + sessionID.String() }

func (s *RedisStore) SetJoinTime(ctx context.Context, sessionID, userID uuid.UUID, t time.Time) error {
	return s.client.Set(ctx, joinKey(sessionID, userID), t.UnixMilli(), transientTTL).Err()
}

func (s *RedisStore) JoinTime(ctx context.Context, sessionID, userID uuid.UUID) (time.Time, bool, error) {
	v, err := s.client.Get(ctx, joinKey(sessionID, userID)).Result()
	if err == redis.Nil {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(ms), true, nil
}

func (s *RedisStore) DeleteJoinTime(ctx context.Context, sessionID, userID uuid.UUID) error {
	return s.client.Del(ctx, joinKey(sessionID, userID)).Err()
}

func (s *RedisStore) AddActive(ctx context.Context, sessionID, userID uuid.UUID) (int, error) {
	key := activeKey(sessionID)
	pipe := s.client.TxPipeline()
	pipe.SAdd(ctx, key, userID.String())
	pipe.Expire(ctx, key, transientTTL)
	card := pipe.SCard(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return int(card.Val()), nil
}

func (s *RedisStore) RemoveActive(ctx context.Context, sessionID, userID uuid.UUID) error {
	return s.client.SRem(ctx, activeKey(sessionID), userID.String()).Err()
}

func (s *RedisStore) ActiveMembers(ctx context.Context, sessionID uuid.UUID) ([]uuid.UUID, error) {
	raw, err := s.client.SMembers(ctx, activeKey(sessionID)).Result()
	if err != nil {
		return nil, err
	}
	members := make([]uuid.UUID, 0, len(raw))
	for _, v := range raw {
		id, err := uuid.Parse(v)
		if err != nil {
			continue
		}
		members = append(members, id)
	}
	return members, nil
}

func (s *RedisStore) SetWatchSecs(ctx context.Context, sessionID, userID uuid.UUID, secs float64) error {
	key := watchKey(sessionID)
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, userID.String(), secs)
	pipe.Expire(ctx, key, transientTTL)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStore) WatchSecs(ctx context.Context, sessionID uuid.UUID) (map[uuid.UUID]float64, error) {
	raw, err := s.client.HGetAll(ctx, watchKey(sessionID)).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[uuid.UUID]float64, len(raw))
	for k, v := range raw {
		id, err := uuid.Parse(k)
		if err != nil {
			continue
		}
		secs, err := strconv.ParseFloat(v, 64)
		if err != nil {
			continue
		}
		out[id] = secs
	}
	return out, nil
}

func (s *RedisStore) Clear(ctx context.Context, sessionID uuid.UUID) error {
	members, err := s.client.SMembers(ctx, activeKey(sessionID)).Result()
	if err != nil && err != redis.Nil {
		return err
	}
	keys := []string{activeKey(sessionID), watchKey(sessionID)}
	for _, m := range members {
		if id, err := uuid.Parse(m); err == nil {
			keys = append(keys, joinKey(sessionID, id))
		}
	}
	return s.client.Del(ctx, keys...).Err()
}
