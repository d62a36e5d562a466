package proofs

import (
	"math"
	"strings"
	"time"
)

// Direction 表示信号给出的交易方向。
type Direction string

const (
	DirectionLong  Direction = "LONG"
	DirectionShort Direction = "SHORT"
	DirectionBuy   Direction = "BUY"
	DirectionSell  Direction = "SELL"
	DirectionHold  Direction = "HOLD"
)

// ParseDirection 忽略大小写解析交易方向。
func ParseDirection(raw string) (Direction, bool) {
	d := Direction(strings.ToUpper(strings.TrimSpace(raw)))
	switch d {
	case DirectionLong, DirectionShort, DirectionBuy, DirectionSell, DirectionHold:
		return d, true
	default:
		return "", false
	}
}

// Bullish 判断方向是否看涨。
func (d Direction) Bullish() bool {
	return d == DirectionLong || d == DirectionBuy
}

// Bearish 判断方向是否看跌。
func (d Direction) Bearish() bool {
	return d == DirectionShort || d == DirectionSell
}

// Signal 是智能体在披露前承诺的交易信号，生成后不可修改。
type Signal struct {
	ID          string    `json:"id"`
	AgentID     string    `json:"agent_id"`
	Pair        string    `json:"pair"`
	Direction   Direction `json:"direction"`
	TargetPrice float64   `json:"target_price"`
	// ReferencePrice 为生成信号时观察到的市场价格。
	ReferencePrice float64   `json:"reference_price"`
	Confidence     float64   `json:"confidence"`
	Strategy       string    `json:"strategy,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Normalize 返回规范化后的信号副本，并校验必填字段。
func (s Signal) Normalize() (Signal, error) {
	s.Pair = strings.ToUpper(strings.TrimSpace(s.Pair))
	if s.Pair == "" {
		return Signal{}, malformed("pair", "is required")
	}
	if strings.TrimSpace(string(s.Direction)) == "" {
		return Signal{}, malformed("direction", "is required")
	}
	dir, ok := ParseDirection(string(s.Direction))
	if !ok {
		return Signal{}, malformed("direction", "unsupported value "+string(s.Direction))
	}
	s.Direction = dir
	if s.CreatedAt.IsZero() {
		return Signal{}, malformed("created_at", "is required")
	}
	s.CreatedAt = s.CreatedAt.UTC()
	if math.IsNaN(s.TargetPrice) || math.IsInf(s.TargetPrice, 0) || s.TargetPrice < 0 {
		return Signal{}, malformed("target_price", "must be a finite non-negative number")
	}
	if math.IsNaN(s.ReferencePrice) || math.IsInf(s.ReferencePrice, 0) || s.ReferencePrice < 0 {
		return Signal{}, malformed("reference_price", "must be a finite non-negative number")
	}
	if math.IsNaN(s.Confidence) || s.Confidence < 0 || s.Confidence > 100 {
		return Signal{}, malformed("confidence", "must be within [0, 100]")
	}
	return s, nil
}

// Validate 校验信号是否满足绑定要求。
func (s Signal) Validate() error {
	_, err := s.Normalize()
	return err
}
