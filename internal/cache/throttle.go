// Package cache はRedisを使用した一時データ（送信制限など）の保存を提供する。
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Throttle は宛先ごとの送信制限を管理する。
// キーの存在確認と記録はSETNXで1回の操作として行う。
type Throttle struct {
	client *redis.Client
	prefix string
}

// NewThrottle はThrottleを生成する。prefixは全キーの先頭に付与される。
func NewThrottle(client *redis.Client, prefix string) *Throttle {
	return &Throttle{client: client, prefix: prefix}
}

// Open はredis URL（例: "redis://localhost:6379/1"）からクライアントを生成する。
func Open(redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

// Acquire はkeyの送信枠を取得する。
// ttlの間に既に取得済みの場合はfalseを返す。
func (t *Throttle) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := t.client.SetNX(ctx, t.prefix+key, time.Now().Unix(), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire throttle: %w", err)
	}
	return ok, nil
}

// Release はkeyの送信枠を解放する。後続処理が失敗した場合に再送を許可するために使う。
func (t *Throttle) Release(ctx context.Context, key string) error {
	if err := t.client.Del(ctx, t.prefix+key).Err(); err != nil {
		return fmt.Errorf("failed to release throttle: %w", err)
	}
	return nil
}

// Flush はキャッシュ全体を消去する。全宛先の送信制限が解除される。
func (t *Throttle) Flush(ctx context.Context) error {
	if err := t.client.FlushDB(ctx).Err(); err != nil {
		return fmt.Errorf("failed to flush cache: %w", err)
	}
	return nil
}

// Ping は接続を確認する。
func (t *Throttle) Ping(ctx context.Context) error {
	return t.client.Ping(ctx).Err()
}
