// Package apperr 定义业务错误分类，handler 按分类映射响应码
package apperr

import (
	"errors"
)

type Kind int

const (
	KindSystem Kind = iota
	KindValidation
	KindAuth
	KindForbidden
	KindNotFound
	KindConflict
	KindQuota
	KindGateway
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuth:
		return "auth"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindQuota:
		return "quota"
	case KindGateway:
		return "gateway"
	default:
		return "system"
	}
}

// Error 携带分类的业务错误
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap 保留底层错误，Message 面向调用方
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is 让 Wrap 出来的错误仍能与同一个哨兵错误比较
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && e.Message == t.Message
}

// KindOf 返回错误分类，未分类的错误视为系统错误
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindSystem
}

// MessageOf 返回可以展示给调用方的信息
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return ""
}
