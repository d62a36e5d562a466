package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"

	"GhostSignal-Chain/internal/proofs"
)

// MemoryLedger 是进程内账本，按调用顺序出块，用于 simulated 驱动与测试。
// 重复注册、重复提交同一哈希、重复揭示以及验证未揭示的秘密值都会被拒绝。
type MemoryLedger struct {
	mu       sync.Mutex
	height   uint64
	agents   map[string]struct{}
	commits  map[string]struct{}
	revealed map[string]struct{}
	verified map[string]struct{}
}

// NewMemoryLedger 创建进程内账本。
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		agents:   make(map[string]struct{}),
		commits:  make(map[string]struct{}),
		revealed: make(map[string]struct{}),
		verified: make(map[string]struct{}),
	}
}

// Height 返回当前区块高度。
func (m *MemoryLedger) Height() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.height
}

func (m *MemoryLedger) Register(ctx context.Context, agentID string) (Receipt, error) {
	if err := ctx.Err(); err != nil {
		return Receipt{}, Unavailable(err, "register")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if agentID == "" {
		return Receipt{}, Rejected(nil, "empty agent id")
	}
	if _, ok := m.agents[agentID]; ok {
		return Receipt{}, Rejected(nil, fmt.Sprintf("agent %s already registered", agentID))
	}
	m.agents[agentID] = struct{}{}
	return m.mintLocked(PhaseRegister, agentID), nil
}

func (m *MemoryLedger) CommitPhase(ctx context.Context, bindingHash string) (Receipt, error) {
	if err := ctx.Err(); err != nil {
		return Receipt{}, Unavailable(err, "commit")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.commits[bindingHash]; ok {
		return Receipt{}, Rejected(nil, "duplicate commitment")
	}
	m.commits[bindingHash] = struct{}{}
	return m.mintLocked(PhaseCommit, bindingHash), nil
}

func (m *MemoryLedger) RevealPhase(ctx context.Context, secret proofs.Secret) (Receipt, error) {
	if err := ctx.Err(); err != nil {
		return Receipt{}, Unavailable(err, "reveal")
	}
	key := secret.Hex()
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.revealed[key]; ok {
		return Receipt{}, Rejected(nil, "secret already revealed")
	}
	m.revealed[key] = struct{}{}
	return m.mintLocked(PhaseReveal, key), nil
}

func (m *MemoryLedger) VerifyPhase(ctx context.Context, secret proofs.Secret) (Receipt, error) {
	if err := ctx.Err(); err != nil {
		return Receipt{}, Unavailable(err, "verify")
	}
	key := secret.Hex()
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.revealed[key]; !ok {
		return Receipt{}, Rejected(nil, "secret not revealed")
	}
	if _, ok := m.verified[key]; ok {
		return Receipt{}, Rejected(nil, "secret already verified")
	}
	m.verified[key] = struct{}{}
	return m.mintLocked(PhaseVerify, key), nil
}

func (m *MemoryLedger) mintLocked(phase Phase, key string) Receipt {
	m.height++
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d", phase, key, m.height)))
	return Receipt{TxID: "0x" + hex.EncodeToString(sum[:]), BlockHeight: m.height}
}
