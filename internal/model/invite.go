package model

import (
	"time"
)

type InviteCode struct {
	Code      string     `json:"code"`
	OwnerID   string     `json:"owner_id"`
	CreatedAt time.Time  `json:"created_at"`
	UsedAt    *time.Time `json:"used_at,omitempty"`
	UsedBy    string     `json:"used_by,omitempty"`
	IsActive  bool       `json:"is_active"`
}

// Usable 可以被兑换：启用且未使用
func (c *InviteCode) Usable() bool {
	return c.IsActive && c.UsedAt == nil
}
