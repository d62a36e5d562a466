package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"GhostSignal-Chain/internal/app"
	"GhostSignal-Chain/internal/config"
	"GhostSignal-Chain/internal/observability/tracing"
	"GhostSignal-Chain/pkg/logger"

	"github.com/spf13/pflag"
)

// main 是 GhostSignal 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		log.Fatalf("ghostsignald 运行失败: %v", err)
	}
}

func run(ctx context.Context, args []string) error {
	flags := pflag.NewFlagSet("ghostsignald", pflag.ContinueOnError)
	configPath := flags.StringP("config", "c", "", "配置文件路径（JSON 或 YAML）")
	checkOnly := flags.Bool("check", false, "仅校验配置后退出")
	if err := flags.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if *checkOnly {
		fmt.Printf("配置有效: %d 个智能体, 账本驱动 %s\n", len(cfg.Agents), cfg.Ledger.Driver)
		return nil
	}

	if err := logger.Init(cfg.Logging); err != nil {
		return err
	}
	defer logger.Sync()

	shutdownTracing, err := tracing.Setup(ctx, cfg.Tracing)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.L().Warn("关闭链路追踪失败", slog.Any("error", err))
		}
	}()

	application, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer application.Close()

	logger.L().Info("ghostsignald 已启动",
		slog.String("addr", cfg.Server.Address),
		slog.String("ledger", cfg.Ledger.Driver),
		slog.Int("agents", len(application.Coordinator.Agents())),
		slog.Duration("liveness_window", application.Coordinator.LivenessWindow()))

	if err := application.Run(ctx); err != nil {
		return err
	}
	logger.L().Info("ghostsignald 已退出")
	return nil
}

func loadConfig(flagPath string) (*config.Config, error) {
	path := flagPath
	if path == "" {
		path = os.Getenv("GHOSTSIGNAL_CONFIG")
	}
	if path == "" {
		path = filepath.Join("configs", "ghostsignal.yaml")
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return config.Default()
		}
	}
	return config.Load(path)
}
