package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"learnmate/internal/domain/model"
	"learnmate/internal/domain/ports/repository"
	"learnmate/internal/infra/metrics"
	red "learnmate/internal/infra/redis"
	"learnmate/internal/infra/security"
)

var _ repository.ChatRequestRepository = (*chatRequestRepoCacheDecorator)(nil)

// chatRequestRepoCacheDecorator serves status polls for finished requests from
// Redis. Only terminal snapshots are cached since they never change again.
// Snapshots carry message text, so they are sealed under the cache key.
type chatRequestRepoCacheDecorator struct {
	repository.ChatRequestRepository
	cache  red.RedisClient
	cipher *security.MessageCipher
	ttl    time.Duration
}

func NewChatRequestRepoCacheDecorator(inner repository.ChatRequestRepository, cache red.RedisClient,
	cipher *security.MessageCipher, ttl time.Duration) repository.ChatRequestRepository {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &chatRequestRepoCacheDecorator{ChatRequestRepository: inner, cache: cache, cipher: cipher, ttl: ttl}
}

func chatRequestKey(id string) string { return fmt.Sprintf("chat_request:id:%s", id) }

func (d *chatRequestRepoCacheDecorator) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.ChatRequest, error) {
	key := chatRequestKey(id)
	if val, err := d.cache.Get(ctx, key); err == nil {
		var req model.ChatRequest
		if plain, err := d.cipher.Open(key, val); err == nil && json.Unmarshal([]byte(plain), &req) == nil && req.Status.Terminal() {
			metrics.IncCacheRequest("chat_request", "hit")
			return &req, nil
		}
	} else if err != red.ErrCacheMiss {
		metrics.IncCacheRequest("chat_request", "error")
	}

	metrics.IncCacheRequest("chat_request", "miss")
	req, err := d.ChatRequestRepository.FindByID(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	// a row read inside an open tx may still roll back; only cache committed reads
	if tx == nil && req.Status.Terminal() {
		if b, err := json.Marshal(req); err == nil {
			if sealed, err := d.cipher.Seal(key, string(b)); err == nil {
				_ = d.cache.Set(ctx, key, sealed, d.ttl)
			}
		}
	}
	return req, nil
}

func (d *chatRequestRepoCacheDecorator) Finish(ctx context.Context, tx repository.Tx, req *model.ChatRequest) (bool, error) {
	_ = d.cache.Del(ctx, chatRequestKey(req.ID))
	return d.ChatRequestRepository.Finish(ctx, tx, req)
}

func (d *chatRequestRepoCacheDecorator) DeleteFinishedBefore(ctx context.Context, tx repository.Tx, before time.Time) (int64, error) {
	// cached entries expire on their own TTL
	return d.ChatRequestRepository.DeleteFinishedBefore(ctx, tx, before)
}
