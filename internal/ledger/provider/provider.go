// Package provider 根据配置构造账本适配器。
package provider

import (
	"context"
	"fmt"
	"net/http"

	"GhostSignal-Chain/internal/config"
	"GhostSignal-Chain/internal/ledger"
	"GhostSignal-Chain/internal/ledger/ethereum"
	"GhostSignal-Chain/internal/ledger/httpapi"
)

// Handle 持有适配器及其资源释放函数。
type Handle struct {
	Adapter ledger.Adapter
	Driver  string
	close   func()
}

// Close 释放适配器持有的连接。
func (h *Handle) Close() {
	if h == nil || h.close == nil {
		return
	}
	h.close()
	h.close = nil
}

// New 按 cfg.Driver 构造适配器。stake 仅对 http 网关生效。
func New(ctx context.Context, cfg config.LedgerConfig, stake int64) (*Handle, error) {
	switch cfg.Driver {
	case config.LedgerMemory:
		return &Handle{Adapter: ledger.NewMemoryLedger(), Driver: cfg.Driver}, nil
	case config.LedgerSimulated:
		client, err := ethereum.NewDevChain(ctx, cfg.Ethereum.RegistryAddress,
			ethereum.WithGasLimit(cfg.Ethereum.GasLimit),
			ethereum.WithPollInterval(cfg.Ethereum.PollInterval.Std()))
		if err != nil {
			return nil, fmt.Errorf("初始化模拟链失败: %w", err)
		}
		return &Handle{Adapter: client, Driver: cfg.Driver, close: client.Close}, nil
	case config.LedgerEthereum:
		client, err := ethereum.NewClient(ctx, ethereum.Config{
			RPCURL:          cfg.Ethereum.RPCURL,
			PrivateKeyHex:   cfg.Ethereum.PrivateKey,
			RegistryAddress: cfg.Ethereum.RegistryAddress,
			GasLimit:        cfg.Ethereum.GasLimit,
			PollInterval:    cfg.Ethereum.PollInterval.Std(),
		})
		if err != nil {
			return nil, err
		}
		return &Handle{Adapter: client, Driver: cfg.Driver, close: client.Close}, nil
	case config.LedgerHTTP:
		client, err := httpapi.NewClient(cfg.HTTP.BaseURL,
			httpapi.WithHTTPClient(&http.Client{Timeout: cfg.HTTP.Timeout.Std()}),
			httpapi.WithStake(stake))
		if err != nil {
			return nil, err
		}
		return &Handle{Adapter: client, Driver: cfg.Driver}, nil
	default:
		return nil, fmt.Errorf("不支持的账本驱动 %q", cfg.Driver)
	}
}
