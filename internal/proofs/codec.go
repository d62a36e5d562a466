package proofs

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gowebpki/jcs"
)

type canonicalSignal struct {
	ID          string  `json:"id"`
	AgentID     string  `json:"agent_id"`
	Pair        string  `json:"pair"`
	Direction   string  `json:"direction"`
	TargetPrice float64 `json:"target_price"`
	Reference   float64 `json:"reference_price"`
	Confidence  float64 `json:"confidence"`
	Strategy    string  `json:"strategy"`
	CreatedAt   string  `json:"created_at"`
}

// Canonicalize 返回信号的 RFC 8785 规范化 JSON 表示。
func Canonicalize(signal Signal) ([]byte, error) {
	normalized, err := signal.Normalize()
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(canonicalSignal{
		ID:          normalized.ID,
		AgentID:     normalized.AgentID,
		Pair:        normalized.Pair,
		Direction:   string(normalized.Direction),
		TargetPrice: normalized.TargetPrice,
		Reference:   normalized.ReferencePrice,
		Confidence:  normalized.Confidence,
		Strategy:    normalized.Strategy,
		CreatedAt:   normalized.CreatedAt.Format(time.RFC3339Nano),
	})
	if err != nil {
		return nil, fmt.Errorf("序列化信号失败: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("规范化信号失败: %w", err)
	}
	return canonical, nil
}

// Bind 计算信号与秘密值的绑定哈希。
func Bind(signal Signal, secret Secret) (string, error) {
	canonical, err := Canonicalize(signal)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	h.Write(canonical)
	h.Write([]byte(secret.Hex()))
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Verify 重新计算绑定哈希并进行常量时间比较。
func Verify(bindingHash string, signal Signal, secret Secret) (bool, error) {
	computed, err := Bind(signal, secret)
	if err != nil {
		return false, err
	}
	expected, err := hex.DecodeString(bindingHash)
	if err != nil || len(expected) != sha256.Size {
		return false, nil
	}
	actual, _ := hex.DecodeString(computed)
	return subtle.ConstantTimeCompare(expected, actual) == 1, nil
}
