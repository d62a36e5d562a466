package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	xerrors "GhostSignal-Chain/internal/errors"
)

// 与原始智能体保持一致的默认节奏。
const (
	DefaultSignalInterval = 300 * time.Second
	DefaultRevealDelay    = 60 * time.Second
	DefaultVerifyDelay    = 60 * time.Second
	DefaultCooldown       = 15 * time.Second
	DefaultStake          = 100
	DefaultMinConfidence  = 60
	DefaultBufferSize     = 1000
)

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = Duration(10 * time.Second)
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = Duration(15 * time.Second)
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = Duration(10 * time.Second)
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "ghostsignald"
	}
	if c.Tracing.SampleRatio <= 0 || c.Tracing.SampleRatio > 1 {
		c.Tracing.SampleRatio = 1
	}

	if c.Ledger.Driver == "" {
		c.Ledger.Driver = LedgerSimulated
	}
	if c.Ledger.CallTimeout == 0 {
		c.Ledger.CallTimeout = Duration(30 * time.Second)
	}
	if c.Ledger.Ethereum.RegistryAddress == "" {
		c.Ledger.Ethereum.RegistryAddress = "0x00000000000000000000000000000000000051a1"
	}
	if c.Ledger.Ethereum.GasLimit == 0 {
		c.Ledger.Ethereum.GasLimit = 200_000
	}
	if c.Ledger.Ethereum.PollInterval == 0 {
		c.Ledger.Ethereum.PollInterval = Duration(time.Second)
	}
	if c.Ledger.HTTP.Timeout == 0 {
		c.Ledger.HTTP.Timeout = Duration(30 * time.Second)
	}

	if c.Retry.Cooldown == 0 {
		c.Retry.Cooldown = Duration(DefaultCooldown)
	}
	if c.Retry.ExhaustedRetries <= 0 {
		c.Retry.ExhaustedRetries = 1
	}
	if c.Retry.UnavailableRetries <= 0 {
		c.Retry.UnavailableRetries = 2
	}

	if c.Lifecycle.SignalInterval == 0 {
		c.Lifecycle.SignalInterval = Duration(DefaultSignalInterval)
	}
	if c.Lifecycle.RevealDelay == 0 {
		c.Lifecycle.RevealDelay = Duration(DefaultRevealDelay)
	}
	if c.Lifecycle.VerifyDelay == 0 {
		c.Lifecycle.VerifyDelay = Duration(DefaultVerifyDelay)
	}
	if c.Lifecycle.AcquireTimeout == 0 {
		c.Lifecycle.AcquireTimeout = Duration(10 * time.Minute)
	}
	if c.Lifecycle.DefaultStake == 0 {
		c.Lifecycle.DefaultStake = DefaultStake
	}
	if c.Lifecycle.MinConfidence == 0 {
		c.Lifecycle.MinConfidence = DefaultMinConfidence
	}

	if c.Activity.BufferSize <= 0 {
		c.Activity.BufferSize = DefaultBufferSize
	}
	if c.Activity.IngestQueue <= 0 {
		c.Activity.IngestQueue = 256
	}
	if c.Activity.RankingKey == "" {
		c.Activity.RankingKey = "verified_correct"
	}
	if c.Activity.Store.Driver == "" {
		c.Activity.Store.Driver = "none"
	}
	if c.Activity.Stream.Key == "" {
		c.Activity.Stream.Key = "ghostsignal:activity"
	}
	if c.Activity.Stream.MaxLen <= 0 {
		c.Activity.Stream.MaxLen = 10_000
	}

	if c.CycleQueue.Driver == "" {
		c.CycleQueue.Driver = QueueMemory
	}
	if c.CycleQueue.Buffer <= 0 {
		c.CycleQueue.Buffer = 64
	}
	if c.CycleQueue.Workers <= 0 {
		c.CycleQueue.Workers = 2
	}
	if c.CycleQueue.Key == "" {
		c.CycleQueue.Key = "ghostsignal:cycles"
	}
	if c.CycleQueue.RabbitMQ.Queue == "" {
		c.CycleQueue.RabbitMQ.Queue = "ghostsignal.cycles"
	}

	if c.Market.Window <= 1 {
		c.Market.Window = 30
	}
	if c.Market.Volatility <= 0 {
		c.Market.Volatility = 0.02
	}

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else if !filepath.IsAbs(c.Runtime.DataDir) {
		c.Runtime.DataDir = filepath.Join(baseDir, c.Runtime.DataDir)
	}
	if c.Activity.Store.Driver == "file" && c.Activity.Store.Path == "" {
		c.Activity.Store.Path = filepath.Join(c.Runtime.DataDir, "activity.json")
	}
}

func (c *Config) applyAgentDefaults() {
	for i := range c.Agents {
		a := &c.Agents[i]
		a.ID = strings.TrimSpace(a.ID)
		if a.Strategy == "" {
			a.Strategy = "momentum"
		}
		if len(a.Pairs) == 0 {
			a.Pairs = []string{"BTC/USD", "ETH/USD"}
		}
		if a.Stake == 0 {
			a.Stake = c.Lifecycle.DefaultStake
		}
		if a.MinConfidence == 0 {
			a.MinConfidence = c.Lifecycle.MinConfidence
		}
	}
}

// Validate 检查配置取值是否合法。
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf(format, args...))
	}
	switch c.Ledger.Driver {
	case LedgerMemory, LedgerSimulated, LedgerEthereum, LedgerHTTP:
	default:
		return invalid("不支持的账本驱动 %q", c.Ledger.Driver)
	}
	if c.Ledger.Driver == LedgerHTTP && c.Ledger.HTTP.BaseURL == "" {
		return invalid("http 账本驱动需要配置 ledger.http.base_url")
	}
	if c.Ledger.Driver == LedgerEthereum && (c.Ledger.Ethereum.RPCURL == "" || c.Ledger.Ethereum.PrivateKey == "") {
		return invalid("ethereum 账本驱动需要配置 rpc_url 与 private_key")
	}
	switch c.CycleQueue.Driver {
	case QueueMemory, QueueRedis, QueueRabbitMQ:
	default:
		return invalid("不支持的周期队列驱动 %q", c.CycleQueue.Driver)
	}
	switch c.Activity.Store.Driver {
	case "none", "file", "mysql":
	default:
		return invalid("不支持的活动存储驱动 %q", c.Activity.Store.Driver)
	}
	if c.Activity.Store.Driver == "mysql" && c.Activity.Store.DSN == "" {
		return invalid("mysql 活动存储需要配置 dsn")
	}
	if c.Lifecycle.MinConfidence < 0 || c.Lifecycle.MinConfidence > 100 {
		return invalid("min_confidence 必须位于 [0, 100]")
	}
	seen := make(map[string]struct{}, len(c.Agents))
	for _, a := range c.Agents {
		if a.ID == "" {
			return invalid("智能体 id 不能为空")
		}
		if _, dup := seen[a.ID]; dup {
			return invalid("智能体 %s 重复配置", a.ID)
		}
		seen[a.ID] = struct{}{}
		if a.Stake < 0 {
			return invalid("智能体 %s 的 stake 不能为负", a.ID)
		}
	}
	return nil
}
