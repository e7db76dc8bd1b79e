package model

import (
	"errors"
	"fmt"
)

// Code 平台错误码
type Code string

const (
	CodeSymbolNotFound      Code = "SYMBOL_NOT_FOUND"
	CodeInvalidMode         Code = "INVALID_MODE"
	CodeInvalidDepth        Code = "INVALID_DEPTH"
	CodeSubscriptionError   Code = "SUBSCRIPTION_ERROR"
	CodeUnsubscriptionError Code = "UNSUBSCRIPTION_ERROR"
	CodeNotInitialized      Code = "NOT_INITIALIZED"
)

// Error carries a platform error code alongside the underlying cause.
type Error struct {
	Code Code
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

func NewError(code Code, msg string, err error) *Error {
	return &Error{Code: code, Msg: msg, Err: err}
}

// CodeOf 提取错误码，非 *Error 返回空串
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
