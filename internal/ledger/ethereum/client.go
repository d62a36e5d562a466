// Package ethereum 基于 go-ethereum 实现账本适配器：每个阶段调用都是一笔发往信号注册合约的
// EIP-1559 交易，调用数据为 register(string)、commit(bytes32)、reveal(bytes32)、verify(bytes32)
// 的 ABI 编码。既可连接真实 RPC 节点，也可使用进程内模拟链。
package ethereum

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	stdErrors "errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"GhostSignal-Chain/internal/ledger"
	"GhostSignal-Chain/internal/proofs"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/ethclient/simulated"
)

// RegistryABI 为信号注册合约的最小接口。
const RegistryABI = `[
	{"type":"function","name":"register","stateMutability":"nonpayable","inputs":[{"name":"agentId","type":"string"}],"outputs":[]},
	{"type":"function","name":"commit","stateMutability":"nonpayable","inputs":[{"name":"bindingHash","type":"bytes32"}],"outputs":[]},
	{"type":"function","name":"reveal","stateMutability":"nonpayable","inputs":[{"name":"secret","type":"bytes32"}],"outputs":[]},
	{"type":"function","name":"verify","stateMutability":"nonpayable","inputs":[{"name":"secret","type":"bytes32"}],"outputs":[]}
]`

const (
	defaultGasLimit     = 200_000
	defaultPollInterval = 500 * time.Millisecond
)

// Backend 为适配器所需的链访问能力，ethclient.Client 与模拟链客户端均满足。
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*coretypes.Header, error)
	SendTransaction(ctx context.Context, tx *coretypes.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*coretypes.Receipt, error)
}

// Config 描述 EVM 适配器的连接参数。
type Config struct {
	RPCURL          string
	PrivateKeyHex   string
	RegistryAddress string
	GasLimit        uint64
	PollInterval    time.Duration
}

// Client 实现 ledger.Adapter。
type Client struct {
	backend      Backend
	key          *ecdsa.PrivateKey
	from         common.Address
	registry     common.Address
	chainID      *big.Int
	signer       coretypes.Signer
	abi          abi.ABI
	gasLimit     uint64
	pollInterval time.Duration
	mine         func()
	closer       func()

	// 同一账户的交易必须串行分配 nonce。
	sendMu sync.Mutex
}

var _ ledger.Adapter = (*Client)(nil)

// Option 定义可选配置。
type Option func(*Client)

// WithGasLimit 设置每笔交易的 gas 上限。
func WithGasLimit(limit uint64) Option {
	return func(c *Client) {
		if limit > 0 {
			c.gasLimit = limit
		}
	}
}

// WithPollInterval 设置回执轮询间隔。
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

// NewClient 连接 RPC 节点并返回适配器。
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, stdErrors.New("未配置以太坊 RPC 地址")
	}
	key, err := parseKey(cfg.PrivateKeyHex)
	if err != nil {
		return nil, err
	}
	eth, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("连接以太坊节点失败: %w", err)
	}
	c, err := newClient(ctx, eth, key, cfg.RegistryAddress, WithGasLimit(cfg.GasLimit), WithPollInterval(cfg.PollInterval))
	if err != nil {
		eth.Close()
		return nil, err
	}
	c.closer = eth.Close
	return c, nil
}

// NewSimulatedClient 在 go-ethereum 模拟链上构造适配器，每笔交易发送后立即出块。
func NewSimulatedClient(ctx context.Context, backend *simulated.Backend, key *ecdsa.PrivateKey, registry string, opts ...Option) (*Client, error) {
	if backend == nil {
		return nil, stdErrors.New("模拟链后端不能为空")
	}
	c, err := newClient(ctx, backend.Client(), key, registry, opts...)
	if err != nil {
		return nil, err
	}
	c.mine = func() { backend.Commit() }
	return c, nil
}

// NewDevChain 创建一条为随机开发账户预充值的模拟链，并返回其适配器。
func NewDevChain(ctx context.Context, registry string, opts ...Option) (*Client, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("生成开发账户失败: %w", err)
	}
	funds, _ := new(big.Int).SetString("1000000000000000000000", 10)
	backend := simulated.NewBackend(coretypes.GenesisAlloc{
		crypto.PubkeyToAddress(key.PublicKey): {Balance: funds},
	})
	c, err := NewSimulatedClient(ctx, backend, key, registry, opts...)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}
	c.closer = func() { _ = backend.Close() }
	return c, nil
}

func newClient(ctx context.Context, backend Backend, key *ecdsa.PrivateKey, registry string, opts ...Option) (*Client, error) {
	if key == nil {
		return nil, stdErrors.New("未提供交易签名私钥")
	}
	registry = strings.TrimSpace(registry)
	if !common.IsHexAddress(registry) {
		return nil, fmt.Errorf("注册合约地址非法: %q", registry)
	}
	parsed, err := abi.JSON(strings.NewReader(RegistryABI))
	if err != nil {
		return nil, fmt.Errorf("解析 ABI 失败: %w", err)
	}
	chainID, err := backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取链 ID 失败: %w", err)
	}
	c := &Client{
		backend:      backend,
		key:          key,
		from:         crypto.PubkeyToAddress(key.PublicKey),
		registry:     common.HexToAddress(registry),
		chainID:      chainID,
		signer:       coretypes.LatestSignerForChainID(chainID),
		abi:          parsed,
		gasLimit:     defaultGasLimit,
		pollInterval: defaultPollInterval,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

func parseKey(raw string) (*ecdsa.PrivateKey, error) {
	raw = strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	if raw == "" {
		return nil, stdErrors.New("未配置交易签名私钥")
	}
	key, err := crypto.HexToECDSA(raw)
	if err != nil {
		return nil, fmt.Errorf("解析私钥失败: %w", err)
	}
	return key, nil
}

// Address 返回发送交易的账户地址。
func (c *Client) Address() common.Address { return c.from }

// ChainID 返回链 ID。
func (c *Client) ChainID() *big.Int { return new(big.Int).Set(c.chainID) }

// Close 释放网络连接或模拟链。
func (c *Client) Close() {
	if c.closer != nil {
		c.closer()
		c.closer = nil
	}
}

func (c *Client) Register(ctx context.Context, agentID string) (ledger.Receipt, error) {
	if strings.TrimSpace(agentID) == "" {
		return ledger.Receipt{}, ledger.Rejected(nil, "agent id is required")
	}
	return c.call(ctx, ledger.PhaseRegister, "register", agentID)
}

func (c *Client) CommitPhase(ctx context.Context, bindingHash string) (ledger.Receipt, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(bindingHash, "0x"))
	if err != nil || len(raw) != 32 {
		return ledger.Receipt{}, ledger.Rejected(err, "binding hash must be 32 bytes of hex")
	}
	var word [32]byte
	copy(word[:], raw)
	return c.call(ctx, ledger.PhaseCommit, "commit", word)
}

func (c *Client) RevealPhase(ctx context.Context, secret proofs.Secret) (ledger.Receipt, error) {
	return c.call(ctx, ledger.PhaseReveal, "reveal", [32]byte(secret))
}

func (c *Client) VerifyPhase(ctx context.Context, secret proofs.Secret) (ledger.Receipt, error) {
	return c.call(ctx, ledger.PhaseVerify, "verify", [32]byte(secret))
}

func (c *Client) call(ctx context.Context, phase ledger.Phase, method string, args ...any) (ledger.Receipt, error) {
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return ledger.Receipt{}, ledger.Rejected(err, "encode "+method)
	}
	tx, err := c.send(ctx, data)
	if err != nil {
		return ledger.Receipt{}, classify(err, string(phase))
	}
	receipt, err := c.waitReceipt(ctx, tx.Hash())
	if err != nil {
		return ledger.Receipt{}, classify(err, string(phase))
	}
	if receipt.Status != coretypes.ReceiptStatusSuccessful {
		return ledger.Receipt{}, ledger.Rejected(nil, fmt.Sprintf("%s transaction %s reverted", phase, tx.Hash().Hex()))
	}
	return ledger.Receipt{TxID: tx.Hash().Hex(), BlockHeight: receipt.BlockNumber.Uint64()}, nil
}

func (c *Client) send(ctx context.Context, data []byte) (*coretypes.Transaction, error) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	nonce, err := c.backend.PendingNonceAt(ctx, c.from)
	if err != nil {
		return nil, fmt.Errorf("查询 nonce 失败: %w", err)
	}
	tip, err := c.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取小费建议失败: %w", err)
	}
	head, err := c.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("获取最新区块失败: %w", err)
	}
	feeCap := new(big.Int).Set(tip)
	if head.BaseFee != nil {
		feeCap.Add(feeCap, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
	}

	registry := c.registry
	tx, err := coretypes.SignTx(coretypes.NewTx(&coretypes.DynamicFeeTx{
		ChainID:   c.chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       c.gasLimit,
		To:        &registry,
		Data:      data,
	}), c.signer, c.key)
	if err != nil {
		return nil, fmt.Errorf("签名交易失败: %w", err)
	}
	if err := c.backend.SendTransaction(ctx, tx); err != nil {
		return nil, err
	}
	if c.mine != nil {
		c.mine()
	}
	return tx, nil
}

func (c *Client) waitReceipt(ctx context.Context, hash common.Hash) (*coretypes.Receipt, error) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()
	for {
		receipt, err := c.backend.TransactionReceipt(ctx, hash)
		if err == nil {
			return receipt, nil
		}
		if !stdErrors.Is(err, gethcore.NotFound) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
