package service

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	alphanumeric      = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	upperAlphanumeric = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	digits            = "0123456789"
)

func randomString(n int, alphabet string) (string, error) {
	limit := big.NewInt(int64(len(alphabet)))
	b := make([]byte, n)
	for i := range b {
		idx, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		b[i] = alphabet[idx.Int64()]
	}
	return string(b), nil
}

// newUserID 12 位字母数字
func newUserID() (string, error) {
	return randomString(12, alphanumeric)
}

// newVerificationCode 6 位数字
func newVerificationCode() (string, error) {
	return randomString(6, digits)
}

// newInviteCode 8 位大写字母数字
func newInviteCode() (string, error) {
	return randomString(8, upperAlphanumeric)
}

// newTradeOrderID XH + 时间戳 + 8 位随机串
func newTradeOrderID(now time.Time) string {
	return fmt.Sprintf("XH%d%s", now.Unix(), strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}
