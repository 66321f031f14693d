package repository

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache описывает контракт кэша вычисленных представлений (ваучеров и
// графиков погашения).
type Cache interface {
	Get(ctx context.Context, key string) (string, bool)
	Set(ctx context.Context, key string, value string) error
	Delete(ctx context.Context, key string) error
}

// cacheTTL ограничивает жизнь закэшированного представления: ваучер и
// график зависят от текущей даты (просрочка), поэтому не хранятся долго.
const cacheTTL = 5 * time.Minute

// RedisCache реализует Cache поверх Redis.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache создаёт кэш, подключённый к указанному адресу Redis.
func NewRedisCache(addr string) *RedisCache {
	return &RedisCache{
		client: redis.NewClient(&redis.Options{
			Addr: addr,
		}),
	}
}

// Get возвращает закэшированное значение и признак его наличия.
func (r *RedisCache) Get(ctx context.Context, key string) (string, bool) {
	val, err := r.client.Get(ctx, key).Result()
	if err != nil {
		return "", false
	}
	return val, true
}

// Set сохраняет значение с ограниченным временем жизни.
func (r *RedisCache) Set(ctx context.Context, key string, value string) error {
	return r.client.Set(ctx, key, value, cacheTTL).Err()
}

// Delete удаляет значение; используется для инвалидации после мутаций.
func (r *RedisCache) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}
