// Package paygate 虎皮椒支付网关：签名协议与 HTTP 客户端
package paygate

import (
	"crypto/md5"
	"crypto/subtle"
	"encoding/hex"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// HashField 签名字段名
const HashField = "hash"

// Params 网关参数，值统一为字符串
type Params map[string]string

// Sign 去掉空值和 hash 字段，按 key 字典序拼接 k=v&k=v，追加密钥后取小写 md5
func Sign(params Params, secret string) string {
	keys := make([]string, 0, len(params))
	for k, v := range params {
		if k == HashField || v == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(params[k])
	}
	b.WriteString(secret)

	sum := md5.Sum([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// Verify 取出 hash 后对剩余参数重新签名并比较
func Verify(params Params, secret string) bool {
	received, ok := params[HashField]
	if !ok || received == "" {
		return false
	}
	expected := Sign(params, secret)
	return subtle.ConstantTimeCompare([]byte(strings.ToLower(received)), []byte(expected)) == 1
}

// FormatAmount 整数金额不带小数（66），否则保留两位（0.01）
func FormatAmount(amount decimal.Decimal) string {
	if amount.IsInteger() {
		return amount.StringFixed(0)
	}
	return amount.StringFixed(2)
}

// ParseAmount 解析网关回传的金额字符串
func ParseAmount(s string) (decimal.Decimal, error) {
	return decimal.NewFromString(strings.TrimSpace(s))
}
