package sessions

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/classlive/backend/internal/models"
)

// Cache is a best-effort read-through cache for session documents, status,
// and per-organization session lists. Implementations never originate data;
// the store is the sole source of truth. A failing or absent cache degrades
// to "always miss".
type Cache interface {
	GetSession(ctx context.Context, id uuid.UUID) (*models.Session, bool)
	SetSession(ctx context.Context, sess *models.Session)
	GetStatus(ctx context.Context, id uuid.UUID) (string, bool)
	SetStatus(ctx context.Context, id uuid.UUID, status string)
	GetOrgList(ctx context.Context, orgID uuid.UUID) ([]models.Session, bool)
	SetOrgList(ctx context.Context, orgID uuid.UUID, list []models.Session)
	InvalidateSession(ctx context.Context, id uuid.UUID)
	InvalidateOrgList(ctx context.Context, orgID uuid.UUID)
}

const (
	sessionTTL = time.Minute
	statusTTL  = 30 * time.Second
	listTTL    = time.Minute
)

// RedisCache is the Redis-backed Cache. All errors are swallowed with a log
// line; callers fall through to the store.
type RedisCache struct {
	client *redis.Client
	logger *zap.Logger
}

var _ Cache = (*RedisCache)(nil)

// NewRedisCache creates a Redis-backed session cache.
func NewRedisCache(client *redis.Client, logger *zap.Logger) *RedisCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisCache{client: client, logger: logger}
}

func sessionKey(id uuid.UUID) string   { return "cache:session:" + id.String() }
func statusKey(id uuid.UUID) string    { return "cache:session:status:" + id.String() }
func orgListKey(org uuid.UUID) string  { return "cache:sessions:org:" + org.String() }

// GetSession returns a cached session document.
func (c *RedisCache) GetSession(ctx context.Context, id uuid.UUID) (*models.Session, bool) {
	raw, err := c.client.Get(ctx, sessionKey(id)).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("cache get failed", zap.Error(err))
		}
		return nil, false
	}
	var sess cachedSession
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, false
	}
	return sess.toModel(), true
}

// SetSession caches a session document.
func (c *RedisCache) SetSession(ctx context.Context, sess *models.Session) {
	raw, err := json.Marshal(fromModel(sess))
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, sessionKey(sess.ID), raw, sessionTTL).Err(); err != nil {
		c.logger.Warn("cache set failed", zap.Error(err))
	}
}

// GetStatus returns the cached lightweight status.
func (c *RedisCache) GetStatus(ctx context.Context, id uuid.UUID) (string, bool) {
	v, err := c.client.Get(ctx, statusKey(id)).Result()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("cache get failed", zap.Error(err))
		}
		return "", false
	}
	return v, true
}

// SetStatus caches the lightweight status.
func (c *RedisCache) SetStatus(ctx context.Context, id uuid.UUID, status string) {
	if err := c.client.Set(ctx, statusKey(id), status, statusTTL).Err(); err != nil {
		c.logger.Warn("cache set failed", zap.Error(err))
	}
}

// GetOrgList returns the cached organization session list.
func (c *RedisCache) GetOrgList(ctx context.Context, orgID uuid.UUID) ([]models.Session, bool) {
	raw, err := c.client.Get(ctx, orgListKey(orgID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("cache get failed", zap.Error(err))
		}
		return nil, false
	}
	var cached []cachedSession
	if err := json.Unmarshal(raw, &cached); err != nil {
		return nil, false
	}
	list := make([]models.Session, 0, len(cached))
	for _, cs := range cached {
		list = append(list, *cs.toModel())
	}
	return list, true
}

// SetOrgList caches the organization session list.
func (c *RedisCache) SetOrgList(ctx context.Context, orgID uuid.UUID, list []models.Session) {
	cached := make([]cachedSession, 0, len(list))
	for i := range list {
		cached = append(cached, fromModel(&list[i]))
	}
	raw, err := json.Marshal(cached)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, orgListKey(orgID), raw, listTTL).Err(); err != nil {
		c.logger.Warn("cache set failed", zap.Error(err))
	}
}

// InvalidateSession drops the session document and status entries.
func (c *RedisCache) InvalidateSession(ctx context.Context, id uuid.UUID) {
	if err := c.client.Del(ctx, sessionKey(id), statusKey(id)).Err(); err != nil {
		c.logger.Warn("cache invalidate failed", zap.Error(err))
	}
}

// InvalidateOrgList drops the organization session list entry.
func (c *RedisCache) InvalidateOrgList(ctx context.Context, orgID uuid.UUID) {
	if err := c.client.Del(ctx, orgListKey(orgID)).Err(); err != nil {
		c.logger.Warn("cache invalidate failed", zap.Error(err))
	}
}

// cachedSession round-trips the full document including fields that the
// public JSON shape hides (encrypted passcode, metrics finalized flag).
// Cached payloads are shared across actor types; redaction happens on read.
type cachedSession struct {
	models.Session
	EncryptedPasscode string          `json:"enc_passcode"`
	Metrics           *models.Metrics `json:"metrics_full"`
	IsDeleted         bool            `json:"is_deleted"`
}

func fromModel(s *models.Session) cachedSession {
	return cachedSession{
		Session:           *s,
		EncryptedPasscode: s.Meeting.EncryptedPasscode,
		Metrics:           s.Metrics,
		IsDeleted:         s.IsDeleted,
	}
}

func (cs *cachedSession) toModel() *models.Session {
	s := cs.Session
	s.Meeting.EncryptedPasscode = cs.EncryptedPasscode
	s.Metrics = cs.Metrics
	s.IsDeleted = cs.IsDeleted
	return &s
}

// NoopCache always misses. Used when no cache backend is configured, so the
// degrade-gracefully contract holds structurally.
type NoopCache struct{}

var _ Cache = NoopCache{}

func (NoopCache) GetSession(context.Context, uuid.UUID) (*models.Session, bool) { return nil, false }
func (NoopCache) SetSession(context.Context, *models.Session)                   {}
func (NoopCache) GetStatus(context.Context, uuid.UUID) (string, bool)           { return "", false }
func (NoopCache) SetStatus(context.Context, uuid.UUID, string)                  {}
func (NoopCache) GetOrgList(context.Context, uuid.UUID) ([]models.Session, bool) {
	return nil, false
}
func (NoopCache) SetOrgList(context.Context, uuid.UUID, []models.Session) {}
func (NoopCache) InvalidateSession(context.Context, uuid.UUID)            {}
func (NoopCache) InvalidateOrgList(context.Context, uuid.UUID)            {}
