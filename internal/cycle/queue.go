// Package cycle 通过消息队列异步触发智能体周期：HTTP 接口投递智能体 id，
// Processor 消费后调用协调器的 StartCycle。
package cycle

import (
	"context"
	"fmt"
	"strings"

	"GhostSignal-Chain/internal/config"
)

// Handler 处理来自消息队列的智能体 id。
type Handler func(ctx context.Context, agentID string) error

// Producer 负责向队列投递周期触发请求。
type Producer interface {
	Publish(ctx context.Context, agentID string) error
	Close() error
}

// Consumer 负责从队列中消费周期触发请求。
type Consumer interface {
	Consume(ctx context.Context, workerCount int, handler Handler) error
	Close() error
}

// Queue 同时具备生产者与消费者能力。
type Queue interface {
	Producer
	Consumer
}

// Open 按配置创建队列。
func Open(ctx context.Context, cfg config.CycleQueueConfig) (Queue, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", config.QueueMemory:
		return NewMemoryQueue(cfg.Buffer), nil
	case config.QueueRedis:
		return NewRedisQueue(ctx, RedisQueueConfig{
			Address:  cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Queue:    cfg.Key,
		})
	case config.QueueRabbitMQ:
		return NewRabbitMQQueue(RabbitMQConfig{
			URL:     cfg.RabbitMQ.URL,
			Queue:   cfg.RabbitMQ.Queue,
			Durable: true,
		})
	default:
		return nil, fmt.Errorf("不支持的周期队列驱动: %s", cfg.Driver)
	}
}
