package repository

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/go-redis/redis/v8"

	"github.com/qs3c/meter_pay_server/internal/model"
)

var ErrOrderExists = errors.New("trade order id already exists")

func paymentKey(id string) string           { return "payment:" + id }
func paymentOrderKey(tradeNo string) string { return "payment:order:" + tradeNo }
func userPaymentsKey(userID string) string  { return "user_payments:" + userID }

type PaymentRepository struct {
	store *Store
}

func NewPaymentRepository(store *Store) *PaymentRepository {
	return &PaymentRepository{store: store}
}

// Create 先占用订单号索引，再写入记录和用户索引
func (r *PaymentRepository) Create(ctx context.Context, rec *model.PaymentRecord) error {
	ok, err := r.store.SetNX(ctx, paymentOrderKey(rec.TradeOrderID), rec.ID, 0)
	if err != nil {
		return err
	}
	if !ok {
		return ErrOrderExists
	}
	if err := r.store.SetJSON(ctx, paymentKey(rec.ID), rec, 0); err != nil {
		return err
	}
	_, err = r.store.ZAddNX(ctx, userPaymentsKey(rec.UserID), float64(rec.CreatedAt.Unix()), rec.ID)
	return err
}

func (r *PaymentRepository) GetByID(ctx context.Context, id string) (*model.PaymentRecord, error) {
	var rec model.PaymentRecord
	if err := r.store.GetJSON(ctx, paymentKey(id), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *PaymentRepository) GetIDByTradeOrderID(ctx context.Context, tradeOrderID string) (string, error) {
	return r.store.Get(ctx, paymentOrderKey(tradeOrderID))
}

func (r *PaymentRepository) GetByTradeOrderID(ctx context.Context, tradeOrderID string) (*model.PaymentRecord, error) {
	id, err := r.GetIDByTradeOrderID(ctx, tradeOrderID)
	if err != nil {
		return nil, err
	}
	return r.GetByID(ctx, id)
}

// Update 原子读改写，支付记录不过期
func (r *PaymentRepository) Update(ctx context.Context, id string, mutate func(*model.PaymentRecord) error) (*model.PaymentRecord, error) {
	return UpdateJSON(ctx, r.store, paymentKey(id), 0, mutate)
}

// ListByUser 按创建时间倒序
func (r *PaymentRepository) ListByUser(ctx context.Context, userID string) ([]*model.PaymentRecord, error) {
	ids, err := r.store.ZRevRange(ctx, userPaymentsKey(userID))
	if err != nil {
		return nil, err
	}
	records := make([]*model.PaymentRecord, 0, len(ids))
	for _, id := range ids {
		rec, err := r.GetByID(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
	return records, nil
}

// HasSuccessfulPayment 用户是否有过成功支付
func (r *PaymentRepository) HasSuccessfulPayment(ctx context.Context, userID string) (bool, error) {
	records, err := r.ListByUser(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, rec := range records {
		if rec.Status == model.PaymentSuccess || rec.Status == model.PaymentRefunded {
			return true, nil
		}
	}
	return false, nil
}

// IndexForUser 将支付记录加入用户索引，已存在时返回 false（重建索引用）
func (r *PaymentRepository) IndexForUser(ctx context.Context, rec *model.PaymentRecord) (bool, error) {
	return r.store.ZAddNX(ctx, userPaymentsKey(rec.UserID), float64(rec.CreatedAt.Unix()), rec.ID)
}

// IsIndexed 支付记录是否已在用户索引中
func (r *PaymentRepository) IsIndexed(ctx context.Context, rec *model.PaymentRecord) (bool, error) {
	err := r.store.Client().ZScore(ctx, userPaymentsKey(rec.UserID), rec.ID).Err()
	if err == redis.Nil {
		return false, nil
	}
	return err == nil, err
}

// ScanIDs 遍历 payment:* 中的支付记录 ID（跳过订单号索引）
func (r *PaymentRepository) ScanIDs(ctx context.Context, fn func(ids []string) error) error {
	return r.store.ScanAll(ctx, "payment:*", 100, func(keys []string) error {
		ids := make([]string, 0, len(keys))
		for _, k := range keys {
			if strings.HasPrefix(k, "payment:order:") {
				continue
			}
			ids = append(ids, strings.TrimPrefix(k, "payment:"))
		}
		if len(ids) == 0 {
			return nil
		}
		return fn(ids)
	})
}
