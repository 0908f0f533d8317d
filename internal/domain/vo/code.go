package vo

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"math/big"
)

const DefaultCodeLength = 6

var ten = big.NewInt(10)

// GenerateCode 生成 n 位数字验证码，每一位独立均匀取自 crypto/rand
func GenerateCode(n int) (string, error) {
	if n <= 0 {
		return "", fmt.Errorf("验证码长度必须为正数: %d", n)
	}
	buf := make([]byte, n)
	for i := range buf {
		d, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", fmt.Errorf("生成验证码失败: %w", err)
		}
		buf[i] = byte('0' + d.Int64())
	}
	return string(buf), nil
}

// IsValidCodeFormat 恰好 n 位数字
func IsValidCodeFormat(code string, n int) bool {
	if len(code) != n {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	return true
}

// CodesEqual 常量时间比较，避免按字节提前返回泄漏匹配前缀
func CodesEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
