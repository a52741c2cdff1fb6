package paygate

import (
	"crypto/md5"
	"encoding/hex"
	"maps"
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

const testSecret = "test-app-secret"

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

func TestSign_Canonicalization(t *testing.T) {
	params := Params{
		"trade_order_id": "XH1700000000abcd1234",
		"appid":          "201906100000",
		"total_fee":      "66",
		"title":          "monthly",
		"empty":          "",
		"hash":           "ignored",
	}

	want := md5Hex("appid=201906100000&title=monthly&total_fee=66&trade_order_id=XH1700000000abcd1234" + testSecret)
	assert.Equal(t, want, Sign(params, testSecret))
}

func TestSign_OrderIndependent(t *testing.T) {
	keys := []string{"appid", "trade_order_id", "total_fee", "title", "time", "notify_url", "mchid", "type", "nonce_str"}
	values := []string{"a1", "XH1", "0.01", "t", "1700000000", "http://x/notify", "m1", "WAP", "n0nce"}

	base := Params{}
	for i, k := range keys {
		base[k] = values[i]
	}
	expected := Sign(base, testSecret)

	r := rand.New(rand.NewSource(1))
	for i := 0; i < 20; i++ {
		perm := r.Perm(len(keys))
		p := Params{}
		for _, idx := range perm {
			p[keys[idx]] = values[idx]
		}
		assert.Equal(t, expected, Sign(p, testSecret))
	}
}

func TestSign_SecretMatters(t *testing.T) {
	p := Params{"a": "1"}
	assert.NotEqual(t, Sign(p, "s1"), Sign(p, "s2"))
}

func TestVerify(t *testing.T) {
	p := Params{"trade_order_id": "XH1", "total_fee": "99", "status": "OD"}
	p[HashField] = Sign(p, testSecret)

	assert.True(t, Verify(p, testSecret))
	assert.False(t, Verify(p, "other-secret"))

	tampered := maps.Clone(p)
	tampered["total_fee"] = "0.01"
	assert.False(t, Verify(tampered, testSecret))

	missing := maps.Clone(p)
	delete(missing, HashField)
	assert.False(t, Verify(missing, testSecret))

	// 校验不修改调用方的参数
	assert.Contains(t, p, HashField)
}

func TestFormatAmount(t *testing.T) {
	tests := []struct {
		in   decimal.Decimal
		want string
	}{
		{decimal.NewFromInt(66), "66"},
		{decimal.NewFromFloat(66.0), "66"},
		{decimal.RequireFromString("99.00"), "99"},
		{decimal.RequireFromString("0.01"), "0.01"},
		{decimal.RequireFromString("59.9"), "59.90"},
		{decimal.RequireFromString("12.345"), "12.35"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatAmount(tt.in), tt.in.String())
	}
}

func TestMissingFields(t *testing.T) {
	p := Params{}
	for _, f := range NotifyRequiredFields {
		p[f] = "x"
	}
	assert.Empty(t, MissingFields(p))

	p["open_order_id"] = ""
	delete(p, "appid")
	assert.ElementsMatch(t, []string{"open_order_id", "appid"}, MissingFields(p))
}
