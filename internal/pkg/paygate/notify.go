package paygate

import (
	"encoding/json"
	"io"
	"net/url"
)

// NotifyRequiredFields 回调必须携带的字段
var NotifyRequiredFields = []string{
	"trade_order_id",
	"total_fee",
	"transaction_id",
	"open_order_id",
	"order_title",
	"status",
	"nonce_str",
	"time",
	"appid",
	"hash",
}

// FromValues 表单回调转为参数，重复的 key 取第一个值
func FromValues(values url.Values) Params {
	params := make(Params, len(values))
	for k, v := range values {
		if len(v) > 0 {
			params[k] = v[0]
		}
	}
	return params
}

// FromJSON JSON 回调转为参数，数字按原样保留文本形式（66.0 不会变成 66）
func FromJSON(r io.Reader) (Params, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	var raw map[string]interface{}
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	return flatten(raw), nil
}

// MissingFields 返回缺失或为空的必填字段
func MissingFields(params Params) []string {
	var missing []string
	for _, f := range NotifyRequiredFields {
		if params[f] == "" {
			missing = append(missing, f)
		}
	}
	return missing
}
