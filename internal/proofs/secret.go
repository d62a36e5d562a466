package proofs

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
)

// SecretSize 为秘密值的字节长度。
const SecretSize = 32

// Secret 是与信号一一对应的随机值，揭示前不得外传。
type Secret [SecretSize]byte

// NewSecret 生成新的随机秘密值。
func NewSecret() (Secret, error) {
	var s Secret
	if _, err := rand.Read(s[:]); err != nil {
		return Secret{}, fmt.Errorf("生成秘密值失败: %w", err)
	}
	return s, nil
}

// ParseSecret 从十六进制字符串解析秘密值。
func ParseSecret(raw string) (Secret, error) {
	raw = strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	decoded, err := hex.DecodeString(raw)
	if err != nil {
		return Secret{}, fmt.Errorf("解析秘密值失败: %w", err)
	}
	if len(decoded) != SecretSize {
		return Secret{}, fmt.Errorf("秘密值长度应为 %d 字节，实际为 %d", SecretSize, len(decoded))
	}
	var s Secret
	copy(s[:], decoded)
	return s, nil
}

// Hex 返回小写十六进制编码。
func (s Secret) Hex() string {
	return hex.EncodeToString(s[:])
}

// Zero 原地清零秘密值。
func (s *Secret) Zero() {
	for i := range s {
		s[i] = 0
	}
}

// IsZero 判断秘密值是否已被销毁。
func (s Secret) IsZero() bool {
	var acc byte
	for _, b := range s {
		acc |= b
	}
	return acc == 0
}

// String 避免在日志中意外打印秘密值。
func (s Secret) String() string {
	return "Secret(redacted)"
}

// GoString 同 String。
func (s Secret) GoString() string {
	return s.String()
}
