// Package config 负责加载守护进程配置：先解析 JSON 或 YAML 文件，再填充默认值，
// 最后应用环境变量覆盖。
package config

import (
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"GhostSignal-Chain/pkg/logger"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config 描述了 GhostSignal 在启动阶段需要加载的全部配置。
type Config struct {
	Server     ServerConfig     `json:"server" yaml:"server"`
	Metrics    MetricsConfig    `json:"metrics" yaml:"metrics"`
	Logging    logger.Config    `json:"logging" yaml:"logging"`
	Tracing    TracingConfig    `json:"tracing" yaml:"tracing"`
	Alerting   AlertingConfig   `json:"alerting" yaml:"alerting"`
	Ledger     LedgerConfig     `json:"ledger" yaml:"ledger"`
	Retry      RetryConfig      `json:"retry" yaml:"retry"`
	Lifecycle  LifecycleConfig  `json:"lifecycle" yaml:"lifecycle"`
	Activity   ActivityConfig   `json:"activity" yaml:"activity"`
	CycleQueue CycleQueueConfig `json:"cycle_queue" yaml:"cycle_queue"`
	Agents     []AgentConfig    `json:"agents" yaml:"agents"`
	AgentsFile string           `json:"agents_file" yaml:"agents_file" env:"GHOSTSIGNAL_AGENTS_FILE"`
	Market     MarketConfig     `json:"market" yaml:"market"`
	Runtime    RuntimeConfig    `json:"runtime" yaml:"runtime"`
}

// ServerConfig 控制查询 API 的监听参数。
type ServerConfig struct {
	Address         string   `json:"address" yaml:"address" env:"GHOSTSIGNAL_SERVER_ADDRESS"`
	ReadTimeout     Duration `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    Duration `json:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout Duration `json:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// MetricsConfig 控制 Prometheus 指标暴露。
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled" env:"GHOSTSIGNAL_METRICS_ENABLED"`
	Path    string `json:"path" yaml:"path"`
}

// TracingConfig 控制 OTLP 链路追踪导出。
type TracingConfig struct {
	Enabled     bool    `json:"enabled" yaml:"enabled" env:"GHOSTSIGNAL_TRACING_ENABLED"`
	Endpoint    string  `json:"endpoint" yaml:"endpoint" env:"GHOSTSIGNAL_OTLP_ENDPOINT"`
	Insecure    bool    `json:"insecure" yaml:"insecure"`
	ServiceName string  `json:"service_name" yaml:"service_name"`
	SampleRatio float64 `json:"sample_ratio" yaml:"sample_ratio"`
}

// AlertingConfig 配置告警渠道，日志渠道始终开启。
type AlertingConfig struct {
	Slack    SlackConfig    `json:"slack" yaml:"slack"`
	DingTalk DingTalkConfig `json:"dingtalk" yaml:"dingtalk"`
	Email    EmailConfig    `json:"email" yaml:"email"`
}

// SlackConfig 为 Slack incoming webhook。
type SlackConfig struct {
	WebhookURL string `json:"webhook_url" yaml:"webhook_url" env:"GHOSTSIGNAL_SLACK_WEBHOOK"`
	Channel    string `json:"channel" yaml:"channel"`
}

// DingTalkConfig 为钉钉机器人 webhook。
type DingTalkConfig struct {
	WebhookURL string `json:"webhook_url" yaml:"webhook_url" env:"GHOSTSIGNAL_DINGTALK_WEBHOOK"`
}

// EmailConfig 为 SMTP 邮件告警。
type EmailConfig struct {
	SMTPAddr      string   `json:"smtp_addr" yaml:"smtp_addr"`
	Username      string   `json:"username" yaml:"username"`
	Password      string   `json:"password" yaml:"password" env:"GHOSTSIGNAL_SMTP_PASSWORD"`
	From          string   `json:"from" yaml:"from"`
	To            []string `json:"to" yaml:"to"`
	SubjectPrefix string   `json:"subject_prefix" yaml:"subject_prefix"`
}

// 账本驱动。
const (
	LedgerMemory    = "memory"
	LedgerSimulated = "simulated"
	LedgerEthereum  = "ethereum"
	LedgerHTTP      = "http"
)

// LedgerConfig 选择账本适配器并配置其连接参数。
type LedgerConfig struct {
	Driver      string         `json:"driver" yaml:"driver" env:"GHOSTSIGNAL_LEDGER_DRIVER"`
	CallTimeout Duration       `json:"call_timeout" yaml:"call_timeout"`
	Ethereum    EthereumConfig `json:"ethereum" yaml:"ethereum"`
	HTTP        GatewayConfig  `json:"http" yaml:"http"`
}

// EthereumConfig 描述 EVM 账本。
type EthereumConfig struct {
	RPCURL          string   `json:"rpc_url" yaml:"rpc_url" env:"GHOSTSIGNAL_ETH_RPC_URL"`
	PrivateKey      string   `json:"private_key" yaml:"private_key" env:"GHOSTSIGNAL_ETH_PRIVATE_KEY"`
	RegistryAddress string   `json:"registry_address" yaml:"registry_address" env:"GHOSTSIGNAL_ETH_REGISTRY"`
	GasLimit        uint64   `json:"gas_limit" yaml:"gas_limit"`
	PollInterval    Duration `json:"poll_interval" yaml:"poll_interval"`
}

// GatewayConfig 描述市场网关 HTTP 接口。
type GatewayConfig struct {
	BaseURL string   `json:"base_url" yaml:"base_url" env:"GHOSTSIGNAL_API_URL"`
	Timeout Duration `json:"timeout" yaml:"timeout"`
}

// RetryConfig 配置账本调用的重试与降级。
type RetryConfig struct {
	Cooldown           Duration `json:"cooldown" yaml:"cooldown" env:"GHOSTSIGNAL_RETRY_COOLDOWN"`
	ExhaustedRetries   int      `json:"exhausted_retries" yaml:"exhausted_retries"`
	UnavailableRetries int      `json:"unavailable_retries" yaml:"unavailable_retries"`
}

// LifecycleConfig 配置单个信号生命周期的节奏。
type LifecycleConfig struct {
	SignalInterval Duration `json:"signal_interval" yaml:"signal_interval" env:"GHOSTSIGNAL_SIGNAL_INTERVAL"`
	RevealDelay    Duration `json:"reveal_delay" yaml:"reveal_delay" env:"REVEAL_DELAY_SECONDS"`
	VerifyDelay    Duration `json:"verify_delay" yaml:"verify_delay" env:"GHOSTSIGNAL_VERIFY_DELAY"`
	AcquireTimeout Duration `json:"acquire_timeout" yaml:"acquire_timeout"`
	// LivenessWindow 为 0 时由协调器根据延迟与重试预算推导。
	LivenessWindow Duration `json:"liveness_window" yaml:"liveness_window"`
	DefaultStake   int64    `json:"default_stake" yaml:"default_stake" env:"STAKE_AMOUNT"`
	MinConfidence  float64  `json:"min_confidence" yaml:"min_confidence"`
}

// ActivityConfig 配置活动聚合器。
type ActivityConfig struct {
	BufferSize  int          `json:"buffer_size" yaml:"buffer_size"`
	IngestQueue int          `json:"ingest_queue" yaml:"ingest_queue"`
	RankingKey  string       `json:"ranking_key" yaml:"ranking_key"`
	Store       StoreConfig  `json:"store" yaml:"store"`
	Stream      StreamConfig `json:"stream" yaml:"stream"`
}

// StoreConfig 选择活动事件的持久化方式：none、file 或 mysql。
type StoreConfig struct {
	Driver string `json:"driver" yaml:"driver" env:"GHOSTSIGNAL_STORE_DRIVER"`
	DSN    string `json:"dsn" yaml:"dsn" env:"GHOSTSIGNAL_MYSQL_DSN"`
	Path   string `json:"path" yaml:"path"`
}

// StreamConfig 配置活动事件的 Redis Stream 转发。
type StreamConfig struct {
	Enabled bool        `json:"enabled" yaml:"enabled"`
	Redis   RedisConfig `json:"redis" yaml:"redis"`
	Key     string      `json:"key" yaml:"key"`
	MaxLen  int64       `json:"max_len" yaml:"max_len"`
}

// RedisConfig 为 Redis 连接参数。
type RedisConfig struct {
	Addr     string `json:"addr" yaml:"addr"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`
}

// 周期触发队列驱动。
const (
	QueueMemory   = "memory"
	QueueRedis    = "redis"
	QueueRabbitMQ = "rabbitmq"
)

// CycleQueueConfig 配置周期触发队列。
type CycleQueueConfig struct {
	Driver   string         `json:"driver" yaml:"driver" env:"GHOSTSIGNAL_QUEUE_DRIVER"`
	Buffer   int            `json:"buffer" yaml:"buffer"`
	Workers  int            `json:"workers" yaml:"workers"`
	Redis    RedisConfig    `json:"redis" yaml:"redis"`
	Key      string         `json:"key" yaml:"key"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq" yaml:"rabbitmq"`
}

// RabbitMQConfig 为 RabbitMQ 连接参数。
type RabbitMQConfig struct {
	URL   string `json:"url" yaml:"url" env:"GHOSTSIGNAL_AMQP_URL"`
	Queue string `json:"queue" yaml:"queue"`
}

// AgentConfig 描述一个信号智能体。
type AgentConfig struct {
	ID            string   `json:"id" yaml:"id"`
	Strategy      string   `json:"strategy" yaml:"strategy"`
	Pairs         []string `json:"pairs" yaml:"pairs"`
	Stake         int64    `json:"stake" yaml:"stake"`
	MinConfidence float64  `json:"min_confidence" yaml:"min_confidence"`
	Disabled      bool     `json:"disabled" yaml:"disabled"`
}

// MarketConfig 配置合成行情源。
type MarketConfig struct {
	Seed          uint64             `json:"seed" yaml:"seed"`
	Window        int                `json:"window" yaml:"window"`
	Volatility    float64            `json:"volatility" yaml:"volatility"`
	BasePrices    map[string]float64 `json:"base_prices" yaml:"base_prices"`
	HoldTolerance float64            `json:"hold_tolerance" yaml:"hold_tolerance"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `json:"data_dir" yaml:"data_dir" env:"GHOSTSIGNAL_DATA_DIR"`
}

// Load 解析指定路径的配置文件，按扩展名选择 JSON 或 YAML。
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return nil, stdErrors.New("配置文件路径为空")
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := decode(path, content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}
	baseDir := filepath.Dir(path)
	if err := finish(&cfg, baseDir); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default 返回只包含默认值与环境变量覆盖的配置，用于未提供配置文件的场景。
func Default() (*Config, error) {
	var cfg Config
	if err := finish(&cfg, "."); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func finish(cfg *Config, baseDir string) error {
	cfg.applyDefaults(baseDir)
	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("解析环境变量失败: %w", err)
	}
	if cfg.AgentsFile != "" {
		if !filepath.IsAbs(cfg.AgentsFile) {
			cfg.AgentsFile = filepath.Join(baseDir, cfg.AgentsFile)
		}
		agents, err := LoadAgents(cfg.AgentsFile)
		if err != nil {
			return err
		}
		cfg.Agents = append(cfg.Agents, agents...)
	}
	cfg.applyAgentDefaults()
	return cfg.Validate()
}

func decode(path string, content []byte, out any) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(content, out)
	default:
		return json.Unmarshal(content, out)
	}
}

// LoadAgents 读取 YAML 或 JSON 格式的智能体名册，顶层为 agents 列表。
func LoadAgents(path string) ([]AgentConfig, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取智能体名册失败: %w", err)
	}
	var roster struct {
		Agents []AgentConfig `json:"agents" yaml:"agents"`
	}
	if err := decode(path, content, &roster); err != nil {
		return nil, fmt.Errorf("解析智能体名册失败: %w", err)
	}
	return roster.Agents, nil
}
