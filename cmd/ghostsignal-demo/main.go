package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"GhostSignal-Chain/internal/activity"
	"GhostSignal-Chain/internal/app"
	"GhostSignal-Chain/internal/config"
	"GhostSignal-Chain/internal/strategy"
	"GhostSignal-Chain/pkg/logger"

	"github.com/spf13/pflag"
)

var demoAgents = []string{"MomentumBot-α", "MeanRevBot-β", "VolSurfer-γ", "TrendSniper-δ", "ArbiTrader-ε"}

// report 为演示结束后输出的快照。
type report struct {
	Stats       activity.Stats          `json:"stats"`
	Leaderboard []activity.AgentSummary `json:"leaderboard"`
	Activity    []activity.Event        `json:"activity"`
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		log.Fatalf("ghostsignal-demo 运行失败: %v", err)
	}
}

func run(ctx context.Context, args []string) error {
	flags := pflag.NewFlagSet("ghostsignal-demo", pflag.ContinueOnError)
	count := flags.IntP("agents", "n", len(demoAgents), "演示智能体数量")
	driver := flags.String("ledger", config.LedgerSimulated, "账本驱动: simulated 或 memory")
	revealDelay := flags.Duration("reveal-delay", 2*time.Second, "提交到揭示的等待时间")
	verifyDelay := flags.Duration("verify-delay", 2*time.Second, "揭示到验证的等待时间")
	seed := flags.Uint64("seed", 0, "行情随机种子，0 表示随机")
	logLevel := flags.String("log-level", "warn", "日志级别")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if *count <= 0 || *count > len(demoAgents) {
		return fmt.Errorf("agents 取值范围为 1-%d", len(demoAgents))
	}

	if err := logger.Init(logger.Config{Level: *logLevel, Format: "text", OutputPaths: []string{"stderr"}}); err != nil {
		return err
	}
	defer logger.Sync()

	cfg, err := config.Default()
	if err != nil {
		return err
	}
	dataDir, err := os.MkdirTemp("", "ghostsignal-demo-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dataDir)

	cfg.Runtime.DataDir = dataDir
	cfg.Ledger.Driver = *driver
	cfg.Lifecycle.RevealDelay = config.Duration(*revealDelay)
	cfg.Lifecycle.VerifyDelay = config.Duration(*verifyDelay)
	cfg.Lifecycle.SignalInterval = config.Duration(time.Hour)
	cfg.Activity.Store.Driver = "none"
	cfg.Market.Seed = *seed
	strategies := strategy.Types()
	cfg.Agents = cfg.Agents[:0]
	for i := 0; i < *count; i++ {
		cfg.Agents = append(cfg.Agents, config.AgentConfig{
			ID:            demoAgents[i],
			Strategy:      strategies[i%len(strategies)],
			Pairs:         []string{"BTC/USD", "ETH/USD", "SOL/USD"},
			Stake:         cfg.Lifecycle.DefaultStake,
			MinConfidence: 1,
		})
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	application, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer application.Close()

	for _, st := range application.Coordinator.Agents() {
		if err := application.Coordinator.StartCycle(st.AgentID); err != nil {
			return err
		}
	}
	application.Coordinator.Wait()
	if err := application.Activity.Flush(ctx); err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(report{
		Stats:       application.Activity.Stats(),
		Leaderboard: application.Activity.Leaderboard(),
		Activity:    application.Activity.Recent(0, 0),
	})
}
