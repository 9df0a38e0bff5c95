package service

import (
	"context"
	"coursegen_backend/internal/model"
	"coursegen_backend/internal/util"
	"coursegen_backend/pkg/logger"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	generationProgressKeyPrefix = "generation_progress:"
	generationLockKeyPrefix     = "generation_lock:"
	generationProgressTTL       = 24 * time.Hour
)

// ProgressTracker 记录生成阶段，并保证同一用户同一时间只有一次生成
type ProgressTracker interface {
	Acquire(ctx context.Context, userID uint) (release func(), err error)
	Update(ctx context.Context, userID uint, progress model.GenerationProgress)
	Get(ctx context.Context, userID uint) (*model.GenerationProgress, error)
}

type RedisProgressTracker struct {
	Redis   *redis.Client
	LockTTL time.Duration
}

func NewRedisProgressTracker(rdb *redis.Client, lockTTL time.Duration) *RedisProgressTracker {
	return &RedisProgressTracker{Redis: rdb, LockTTL: lockTTL}
}

// 只删除自己持有的锁
var releaseLockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

func (t *RedisProgressTracker) Acquire(ctx context.Context, userID uint) (func(), error) {
	key := fmt.Sprintf("%s%d", generationLockKeyPrefix, userID)
	token := uuid.NewString()

	ok, err := t.Redis.SetNX(ctx, key, token, t.LockTTL).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, util.ErrGenerationInProgress
	}

	return func() {
		if err := releaseLockScript.Run(context.Background(), t.Redis, []string{key}, token).Err(); err != nil && err != redis.Nil {
			logger.Log.Warn("Failed to release generation lock", zap.Uint("user_id", userID), zap.Error(err))
		}
	}, nil
}

func (t *RedisProgressTracker) Update(ctx context.Context, userID uint, progress model.GenerationProgress) {
	progress.UpdatedAt = time.Now()
	data, err := json.Marshal(progress)
	if err != nil {
		return
	}
	key := fmt.Sprintf("%s%d", generationProgressKeyPrefix, userID)
	// 进度只是旁路信息，写失败不影响生成
	if err := t.Redis.Set(ctx, key, data, generationProgressTTL).Err(); err != nil {
		logger.Log.Warn("Failed to record generation progress", zap.Uint("user_id", userID), zap.Error(err))
	}
}

func (t *RedisProgressTracker) Get(ctx context.Context, userID uint) (*model.GenerationProgress, error) {
	key := fmt.Sprintf("%s%d", generationProgressKeyPrefix, userID)
	val, err := t.Redis.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, util.ErrProgressNotFound
	} else if err != nil {
		return nil, err
	}

	var progress model.GenerationProgress
	if err := json.Unmarshal([]byte(val), &progress); err != nil {
		return nil, err
	}
	return &progress, nil
}

// MemoryProgressTracker 未启用 Redis 时的单实例实现
type MemoryProgressTracker struct {
	mu       sync.Mutex
	locks    map[uint]bool
	progress map[uint]model.GenerationProgress
}

func NewMemoryProgressTracker() *MemoryProgressTracker {
	return &MemoryProgressTracker{
		locks:    make(map[uint]bool),
		progress: make(map[uint]model.GenerationProgress),
	}
}

func (t *MemoryProgressTracker) Acquire(ctx context.Context, userID uint) (func(), error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.locks[userID] {
		return nil, util.ErrGenerationInProgress
	}
	t.locks[userID] = true

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.locks, userID)
			t.mu.Unlock()
		})
	}, nil
}

func (t *MemoryProgressTracker) Update(ctx context.Context, userID uint, progress model.GenerationProgress) {
	progress.UpdatedAt = time.Now()
	t.mu.Lock()
	t.progress[userID] = progress
	t.mu.Unlock()
}

func (t *MemoryProgressTracker) Get(ctx context.Context, userID uint) (*model.GenerationProgress, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.progress[userID]
	if !ok || time.Since(p.UpdatedAt) > generationProgressTTL {
		return nil, util.ErrProgressNotFound
	}
	return &p, nil
}
