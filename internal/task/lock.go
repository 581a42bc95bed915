package task

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	xerrors "Treasury-Rebalancer/internal/errors"
)

// LockPrefix 是每个网络运行锁的键前缀。
const LockPrefix = "treasury:lock:"

// Release 释放已获取的锁。
type Release func(ctx context.Context) error

// Locker 保证同一网络同一时刻只有一次运行。
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Release, error)
}

func conflict(key string) error {
	return xerrors.Newf(xerrors.CodeConflict, "运行锁 %s 已被占用", key)
}

// MemoryLocker 是进程内的锁实现。
type MemoryLocker struct {
	mu    sync.Mutex
	held  map[string]lease
	clock func() time.Time
}

type lease struct {
	token   string
	expires time.Time
}

// NewMemoryLocker 创建进程内锁。
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]lease), clock: time.Now}
}

// Acquire 实现 Locker。过期的锁会被直接接管。
func (l *MemoryLocker) Acquire(_ context.Context, key string, ttl time.Duration) (Release, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.clock()
	if cur, ok := l.held[key]; ok && (cur.expires.IsZero() || now.Before(cur.expires)) {
		return nil, conflict(key)
	}
	token := uuid.NewString()
	var expires time.Time
	if ttl > 0 {
		expires = now.Add(ttl)
	}
	l.held[key] = lease{token: token, expires: expires}
	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		if cur, ok := l.held[key]; ok && cur.token == token {
			delete(l.held, key)
		}
		return nil
	}, nil
}

// releaseScript 只删除仍由自己持有的锁。
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker 使用 SET NX PX 实现跨进程的锁。
type RedisLocker struct {
	client redis.UniversalClient
}

// NewRedisLocker 创建 Redis 锁，连接由调用方负责关闭。
func NewRedisLocker(client redis.UniversalClient) (*RedisLocker, error) {
	if client == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "Redis 客户端不能为空")
	}
	return &RedisLocker{client: client}, nil
}

// Acquire 实现 Locker。
func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (Release, error) {
	if ttl <= 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "Redis 锁必须设置 TTL")
	}
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeCollaboratorFailure, err, "获取 Redis 锁失败")
	}
	if !ok {
		return nil, conflict(key)
	}
	return func(ctx context.Context) error {
		err := releaseScript.Run(ctx, l.client, []string{key}, token).Err()
		if err != nil && !errors.Is(err, redis.Nil) {
			return xerrors.Wrap(xerrors.CodeCollaboratorFailure, err, "释放 Redis 锁失败")
		}
		return nil
	}, nil
}
