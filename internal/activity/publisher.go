package activity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// RedisPublisher 把活动事件写入 Redis Stream，供外部看板订阅。
type RedisPublisher struct {
	client *redis.Client
	key    string
	maxLen int64
	owned  bool
}

// NewRedisPublisher 基于已有客户端创建发布器。
func NewRedisPublisher(client *redis.Client, key string, maxLen int64) (*RedisPublisher, error) {
	if client == nil {
		return nil, errors.New("Redis 客户端不能为空")
	}
	if key == "" {
		key = "ghostsignal:activity"
	}
	return &RedisPublisher{client: client, key: key, maxLen: maxLen}, nil
}

// DialRedisPublisher 建立连接并校验可用性。
func DialRedisPublisher(ctx context.Context, addr, password string, db int, key string, maxLen int64) (*RedisPublisher, error) {
	if addr == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	p, err := NewRedisPublisher(client, key, maxLen)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	p.owned = true
	return p, nil
}

// Publish 以 XADD 追加事件，超过 maxLen 时近似裁剪。
func (p *RedisPublisher) Publish(ctx context.Context, e Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("编码活动事件失败: %w", err)
	}
	args := &redis.XAddArgs{
		Stream: p.key,
		Values: map[string]any{
			"seq":      strconv.FormatUint(e.Seq, 10),
			"type":     string(e.Type),
			"agent_id": e.AgentID,
			"event":    string(body),
		},
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}
	if err := p.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("Redis 发布活动事件失败: %w", err)
	}
	return nil
}

// Close 关闭由 DialRedisPublisher 建立的连接。
func (p *RedisPublisher) Close() error {
	if p.owned {
		return p.client.Close()
	}
	return nil
}
