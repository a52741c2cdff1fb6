package service

import (
	"github.com/qs3c/meter_pay_server/internal/pkg/apperr"
)

var (
	ErrAlreadyRegistered  = apperr.New(apperr.KindValidation, "该邮箱已注册")
	ErrEmailNotVerified   = apperr.New(apperr.KindValidation, "邮箱未验证")
	ErrInvalidCode        = apperr.New(apperr.KindValidation, "验证码无效或已过期")
	ErrInvalidInviteCode  = apperr.New(apperr.KindValidation, "邀请码无效或已被使用")
	ErrInvalidPlan        = apperr.New(apperr.KindValidation, "不支持的订阅类型")
	ErrInvalidCallGrant   = apperr.New(apperr.KindValidation, "赠送次数必须大于 0")
	ErrInvalidCredentials = apperr.New(apperr.KindAuth, "邮箱或密码错误")
	ErrUnauthenticated    = apperr.New(apperr.KindAuth, "登录已失效，请重新登录")
	ErrAccountDisabled    = apperr.New(apperr.KindForbidden, "账户已停用")
	ErrUserNotFound       = apperr.New(apperr.KindNotFound, "用户不存在")
	ErrOrderNotFound      = apperr.New(apperr.KindNotFound, "订单不存在")
	ErrJobNotFound        = apperr.New(apperr.KindNotFound, "分析任务不存在")
	ErrInviteLimitReached = apperr.New(apperr.KindConflict, "您已有 5 个未使用的邀请码，已达上限")
	ErrInviteNotReserved  = apperr.New(apperr.KindConflict, "邀请码已被其他用户使用")
	ErrAlreadySubscribed  = apperr.New(apperr.KindConflict, "您已有有效的付费订阅")
	ErrQuotaExhausted     = apperr.New(apperr.KindQuota, "API调用次数不足，请升级您的订阅")
	ErrAmountMismatch     = apperr.New(apperr.KindGateway, "支付金额与订单不一致")
	ErrEmailSendFailed    = apperr.New(apperr.KindSystem, "邮件发送失败，请稍后重试")
)
