package paygate

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/qs3c/meter_pay_server/config"
	"github.com/qs3c/meter_pay_server/internal/pkg/apperr"
)

// 网关回调状态
const (
	StatusPaid         = "OD"
	StatusPending      = "WP"
	StatusCancelled    = "CD"
	StatusRefunding    = "RD"
	StatusRefundFailed = "UD"
)

var (
	ErrGatewayUnavailable = apperr.New(apperr.KindGateway, "支付网关不可用")
	ErrGatewayMalformed   = apperr.New(apperr.KindGateway, "支付网关响应格式错误")
	ErrGatewaySignature   = apperr.New(apperr.KindGateway, "支付网关响应签名错误")
	ErrGatewayRejected    = apperr.New(apperr.KindGateway, "支付网关拒绝请求")
	ErrQueryTarget        = apperr.New(apperr.KindValidation, "trade_order_id 与 open_order_id 必须且只能提供一个")
)

// Order 下单参数
type Order struct {
	TradeOrderID string
	Amount       decimal.Decimal
	Title        string
}

// PayResult 下单结果
type PayResult struct {
	URL       string
	QRCodeURL string
	OpenID    string
}

// QueryResult 查询结果
type QueryResult struct {
	Status        string
	TradeOrderID  string
	OpenOrderID   string
	TransactionID string
	TotalFee      string
	PaymentMethod string
	Data          Params
}

// Gateway 持有商户配置和 HTTP 客户端
type Gateway struct {
	cfg        config.PaymentConfig
	httpClient *http.Client
	now        func() time.Time
	nonce      func() string
}

func New(cfg config.PaymentConfig) *Gateway {
	return &Gateway{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout()},
		now:        time.Now,
		nonce: func() string {
			return strings.ReplaceAll(uuid.NewString(), "-", "")
		},
	}
}

func (g *Gateway) AppID() string { return g.cfg.AppID }
func (g *Gateway) MchID() string { return g.cfg.MchID }

func (g *Gateway) Sign(params Params) string {
	return Sign(params, g.cfg.AppSecret)
}

func (g *Gateway) Verify(params Params) bool {
	return Verify(params, g.cfg.AppSecret)
}

// BuildPaymentRequest 组装并签名下单参数
func (g *Gateway) BuildPaymentRequest(order Order) Params {
	params := Params{
		"appid":          g.cfg.AppID,
		"trade_order_id": order.TradeOrderID,
		"total_fee":      FormatAmount(order.Amount),
		"title":          order.Title,
		"time":           strconv.FormatInt(g.now().Unix(), 10),
		"notify_url":     g.cfg.NotifyURL,
		"return_url":     g.cfg.ReturnURL,
		"mchid":          g.cfg.MchID,
		"type":           g.cfg.Type,
		"nonce_str":      g.nonce(),
	}
	params[HashField] = g.Sign(params)
	return params
}

// BuildQueryRequest tradeOrderID 和 openOrderID 互斥
func (g *Gateway) BuildQueryRequest(tradeOrderID, openOrderID string) (Params, error) {
	if (tradeOrderID == "") == (openOrderID == "") {
		return nil, ErrQueryTarget
	}
	params := Params{
		"appid":     g.cfg.AppID,
		"time":      strconv.FormatInt(g.now().Unix(), 10),
		"nonce_str": g.nonce(),
	}
	if tradeOrderID != "" {
		params["trade_order_id"] = tradeOrderID
	} else {
		params["open_order_id"] = openOrderID
	}
	params[HashField] = g.Sign(params)
	return params, nil
}

// Pay 请求托管支付链接
func (g *Gateway) Pay(ctx context.Context, order Order) (*PayResult, error) {
	body, err := g.post(ctx, g.cfg.APIURL, g.BuildPaymentRequest(order))
	if err != nil {
		return nil, err
	}

	top, _, err := decodeResponse(body)
	if err != nil {
		return nil, err
	}
	if top["errcode"] != "0" {
		return nil, apperr.Wrap(apperr.KindGateway, ErrGatewayRejected.Message,
			fmt.Errorf("errcode=%s errmsg=%s", top["errcode"], top["errmsg"]))
	}
	if _, signed := top[HashField]; signed && !g.Verify(top) {
		return nil, ErrGatewaySignature
	}
	if top["url"] == "" {
		return nil, ErrGatewayMalformed
	}
	return &PayResult{
		URL:       top["url"],
		QRCodeURL: top["url_qrcode"],
		OpenID:    top["openid"],
	}, nil
}

// Query 按商户订单号查询，响应必须带有效签名
func (g *Gateway) Query(ctx context.Context, tradeOrderID string) (*QueryResult, error) {
	req, err := g.BuildQueryRequest(tradeOrderID, "")
	if err != nil {
		return nil, err
	}
	body, err := g.post(ctx, g.cfg.QueryURL, req)
	if err != nil {
		return nil, err
	}

	top, data, err := decodeResponse(body)
	if err != nil {
		return nil, err
	}
	if top["errcode"] != "0" {
		return nil, apperr.Wrap(apperr.KindGateway, ErrGatewayRejected.Message,
			fmt.Errorf("errcode=%s errmsg=%s", top["errcode"], top["errmsg"]))
	}
	if data == nil {
		return nil, ErrGatewayMalformed
	}

	switch {
	case data[HashField] != "":
		if !g.Verify(data) {
			return nil, ErrGatewaySignature
		}
	case top[HashField] != "":
		if !g.Verify(top) {
			return nil, ErrGatewaySignature
		}
	default:
		return nil, ErrGatewaySignature
	}

	result := &QueryResult{
		Status:        data["status"],
		TradeOrderID:  data["trade_order_id"],
		OpenOrderID:   data["open_order_id"],
		TransactionID: data["transaction_id"],
		TotalFee:      data["total_fee"],
		PaymentMethod: data["payment_method"],
		Data:          data,
	}
	if result.Status == "" {
		return nil, ErrGatewayMalformed
	}
	if result.TradeOrderID == "" {
		result.TradeOrderID = tradeOrderID
	}
	return result, nil
}

func (g *Gateway) post(ctx context.Context, endpoint string, params Params) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout())
	defer cancel()

	form := url.Values{}
	for k, v := range params {
		form.Set(k, v)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindGateway, ErrGatewayUnavailable.Message, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindGateway, ErrGatewayUnavailable.Message, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindGateway, ErrGatewayUnavailable.Message, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, apperr.Wrap(apperr.KindGateway, ErrGatewayUnavailable.Message,
			fmt.Errorf("http status %d", resp.StatusCode))
	}
	return body, nil
}

// decodeResponse 将 JSON 响应的标量字段转为字符串参数，data 对象单独返回
func decodeResponse(body []byte) (top Params, data Params, err error) {
	dec := json.NewDecoder(strings.NewReader(string(body)))
	dec.UseNumber()

	var raw map[string]interface{}
	if err := dec.Decode(&raw); err != nil {
		return nil, nil, apperr.Wrap(apperr.KindGateway, ErrGatewayMalformed.Message, err)
	}

	top = flatten(raw)
	if _, ok := top["errcode"]; !ok {
		return nil, nil, ErrGatewayMalformed
	}
	if d, ok := raw["data"].(map[string]interface{}); ok {
		data = flatten(d)
	}
	return top, data, nil
}

func flatten(raw map[string]interface{}) Params {
	out := make(Params, len(raw))
	for k, v := range raw {
		switch val := v.(type) {
		case string:
			out[k] = val
		case json.Number:
			out[k] = val.String()
		case bool:
			out[k] = strconv.FormatBool(val)
		}
	}
	return out
}
