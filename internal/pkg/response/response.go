package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/qs3c/meter_pay_server/internal/pkg/apperr"
)

// 错误码定义
const (
	CodeSuccess          = 0
	CodeParamError       = 1000
	CodeAuthFailed       = 1001
	CodePermissionDenied = 1002
	CodeResourceNotFound = 1003
	CodeQuotaExceeded    = 1004
	CodeDuplicateAction  = 1005
	CodeServerError      = 5000
	CodeGatewayError     = 5002
)

// 错误码对应的默认消息
var codeMessages = map[int]string{
	CodeSuccess:          "success",
	CodeParamError:       "参数错误",
	CodeAuthFailed:       "认证失败",
	CodePermissionDenied: "权限不足",
	CodeResourceNotFound: "资源不存在",
	CodeQuotaExceeded:    "配额不足",
	CodeDuplicateAction:  "重复操作",
	CodeServerError:      "服务器内部错误",
	CodeGatewayError:     "支付服务暂时不可用，请稍后重试",
}

var codeStatus = map[int]int{
	CodeParamError:       http.StatusBadRequest,
	CodeAuthFailed:       http.StatusUnauthorized,
	CodePermissionDenied: http.StatusForbidden,
	CodeResourceNotFound: http.StatusNotFound,
	CodeQuotaExceeded:    http.StatusForbidden,
	CodeDuplicateAction:  http.StatusConflict,
	CodeServerError:      http.StatusInternalServerError,
	CodeGatewayError:     http.StatusBadGateway,
}

var kindCodes = map[apperr.Kind]int{
	apperr.KindValidation: CodeParamError,
	apperr.KindAuth:       CodeAuthFailed,
	apperr.KindForbidden:  CodePermissionDenied,
	apperr.KindNotFound:   CodeResourceNotFound,
	apperr.KindConflict:   CodeDuplicateAction,
	apperr.KindQuota:      CodeQuotaExceeded,
	apperr.KindGateway:    CodeGatewayError,
	apperr.KindSystem:     CodeServerError,
}

// Response 统一响应结构
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
}

// Success 成功响应
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    CodeSuccess,
		Message: "success",
		Data:    data,
	})
}

// SuccessWithMessage 带自定义消息的成功响应
func SuccessWithMessage(c *gin.Context, message string, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    CodeSuccess,
		Message: message,
		Data:    data,
	})
}

// Error 错误响应，HTTP 状态码由错误码决定
func Error(c *gin.Context, code int, message string) {
	if message == "" {
		message = codeMessages[code]
	}
	status, ok := codeStatus[code]
	if !ok {
		status = http.StatusInternalServerError
	}
	c.AbortWithStatusJSON(status, Response{
		Code:    code,
		Message: message,
		Data:    nil,
	})
}

// Fail 按错误分类输出响应。网关和系统错误只返回通用提示
func Fail(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	code := kindCodes[kind]
	_ = c.Error(err)

	message := apperr.MessageOf(err)
	if kind == apperr.KindGateway || kind == apperr.KindSystem {
		message = ""
	}
	Error(c, code, message)
}

// ParamError 参数错误
func ParamError(c *gin.Context, message string) {
	Error(c, CodeParamError, message)
}

// AuthError 认证失败
func AuthError(c *gin.Context, message string) {
	Error(c, CodeAuthFailed, message)
}

// NotFoundError 资源不存在
func NotFoundError(c *gin.Context, message string) {
	Error(c, CodeResourceNotFound, message)
}

// ServerError 服务器错误
func ServerError(c *gin.Context, message string) {
	Error(c, CodeServerError, message)
}
