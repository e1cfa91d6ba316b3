package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/IoanaComaniciu00/Lets-Fit-It/config"
	"github.com/IoanaComaniciu00/Lets-Fit-It/model"
	"github.com/IoanaComaniciu00/Lets-Fit-It/utils"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisService 可选的抠图结果缓存，按图片 MD5 索引
type RedisService struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisService(cfg *config.CacheConfig) *RedisService {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	return &RedisService{
		client: client,
		ttl:    cfg.TTL,
	}
}

func (s *RedisService) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func cacheKey(md5 string) string {
	return "cutout:" + md5
}

// GetResult 从缓存获取结果，未命中返回 nil
func (s *RedisService) GetResult(ctx context.Context, md5 string) (*model.SegmentResult, error) {
	data, err := s.client.Get(ctx, cacheKey(md5)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	var result model.SegmentResult
	if err := json.Unmarshal(data, &result); err != nil {
		utils.Logger.Error("failed to unmarshal cached result",
			zap.String("md5", md5), zap.Error(err))
		return nil, err
	}

	return &result, nil
}

// SetResult 写入缓存
func (s *RedisService) SetResult(ctx context.Context, md5 string, result *model.SegmentResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}

	return s.client.Set(ctx, cacheKey(md5), data, s.ttl).Err()
}

func (s *RedisService) Close() error {
	return s.client.Close()
}
