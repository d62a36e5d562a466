package proofs

import (
	"fmt"
	"time"

	xerrors "GhostSignal-Chain/internal/errors"

	"github.com/google/uuid"
)

// Phase 表示承诺所处的协议阶段。
type Phase string

const (
	PhasePending   Phase = "pending"
	PhaseCommitted Phase = "committed"
	PhaseRevealed  Phase = "revealed"
	PhaseVerified  Phase = "verified"
)

func (p Phase) rank() int {
	switch p {
	case PhasePending:
		return 0
	case PhaseCommitted:
		return 1
	case PhaseRevealed:
		return 2
	case PhaseVerified:
		return 3
	default:
		return -1
	}
}

// Commitment 绑定一条信号与其秘密值。BindingHash 创建后不可修改，
// Phase 只能通过 Advance 单向推进。
type Commitment struct {
	ID          string
	SignalID    string
	BindingHash string
	Secret      Secret
	CreatedAt   time.Time
	Phase       Phase
}

// NewCommitment 为信号创建承诺，初始阶段为 pending，提交上链成功后推进到 committed。
func NewCommitment(signal Signal, secret Secret) (*Commitment, error) {
	hash, err := Bind(signal, secret)
	if err != nil {
		return nil, err
	}
	return &Commitment{
		ID:          uuid.NewString(),
		SignalID:    signal.ID,
		BindingHash: hash,
		Secret:      secret,
		CreatedAt:   time.Now().UTC(),
		Phase:       PhasePending,
	}, nil
}

// Advance 将承诺推进到下一阶段，拒绝回退或跳跃。
func (c *Commitment) Advance(next Phase) error {
	if c == nil {
		return xerrors.New(CodeInvalidTransition, "nil commitment")
	}
	if next.rank() < 0 || next.rank() != c.Phase.rank()+1 {
		return xerrors.New(CodeInvalidTransition, fmt.Sprintf("%s -> %s", c.Phase, next))
	}
	c.Phase = next
	return nil
}

// Open 判断承诺是否仍占用共享槽位（已提交但尚未验证）。
func (c *Commitment) Open() bool {
	return c != nil && (c.Phase == PhaseCommitted || c.Phase == PhaseRevealed)
}

// Destroy 清零秘密值，用于验证完成或生命周期被放弃之后。
func (c *Commitment) Destroy() {
	if c == nil {
		return
	}
	c.Secret.Zero()
}
