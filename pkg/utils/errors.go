package utils

import (
	"errors"
	"fmt"
	"net/http"
)

// ResponseCode business error code
type ResponseCode int

// Response codes. Grouped per the error taxonomy: validation and state
// machine errors are synchronous and never retried; gateway errors are
// retryable by the caller; signature failures are fatal per notification.
const (
	CodeSuccess ResponseCode = 0

	CodeInvalidParam           ResponseCode = 1001
	CodeItemNotFound           ResponseCode = 1002
	CodeInsufficientStock      ResponseCode = 1003
	CodeInvalidStateTransition ResponseCode = 1004
	CodeOrderNotFound          ResponseCode = 1005
	CodeInvalidWeights         ResponseCode = 1006
	CodeRefundExceedsPaid      ResponseCode = 1007

	CodeSignatureInvalid   ResponseCode = 2001
	CodeGatewayTimeout     ResponseCode = 2002
	CodeGatewayRejected    ResponseCode = 2003
	CodeGatewayUnavailable ResponseCode = 2004
	CodeRefundFailed       ResponseCode = 2005

	CodeUnauthorized  ResponseCode = 3001
	CodeForbidden     ResponseCode = 3002
	CodeRateLimit     ResponseCode = 3003
	CodeInternalError ResponseCode = 5000
	CodeDatabaseError ResponseCode = 5001
	CodeRedisError    ResponseCode = 5002
)

// AppError application error structure
type AppError struct {
	Code    ResponseCode `json:"code"`
	Message string       `json:"message"`
	Err     error        `json:"-"`
}

// Error implement error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("code: %d, message: %s, error: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("code: %d, message: %s", e.Code, e.Message)
}

// Unwrap implement errors.Unwrap interface
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match two AppErrors by code, so the sentinel errors
// below survive wrapping with context.
func (e *AppError) Is(target error) bool {
	var appErr *AppError
	if errors.As(target, &appErr) {
		return e.Code == appErr.Code
	}
	return false
}

// NewError create new application error
func NewError(code ResponseCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// WrapError wrap error with a business code
func WrapError(err error, code ResponseCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Predefined errors
var (
	ErrInvalidParam           = NewError(CodeInvalidParam, "invalid parameter")
	ErrItemNotFound           = NewError(CodeItemNotFound, "item not found")
	ErrInsufficientStock      = NewError(CodeInsufficientStock, "insufficient stock")
	ErrInvalidStateTransition = NewError(CodeInvalidStateTransition, "invalid order state transition")
	ErrOrderNotFound          = NewError(CodeOrderNotFound, "order not found")
	ErrInvalidWeights         = NewError(CodeInvalidWeights, "invalid destination weights")
	ErrRefundExceedsPaid      = NewError(CodeRefundExceedsPaid, "refund amount exceeds paid amount")

	ErrSignatureInvalid   = NewError(CodeSignatureInvalid, "signature verification failed")
	ErrGatewayTimeout     = NewError(CodeGatewayTimeout, "payment gateway timeout")
	ErrGatewayRejected    = NewError(CodeGatewayRejected, "payment gateway rejected request")
	ErrGatewayUnavailable = NewError(CodeGatewayUnavailable, "payment gateway unavailable")
	ErrRefundFailed       = NewError(CodeRefundFailed, "refund failed")

	ErrUnauthorized  = NewError(CodeUnauthorized, "unauthorized")
	ErrForbidden     = NewError(CodeForbidden, "forbidden")
	ErrRateLimit     = NewError(CodeRateLimit, "rate limit exceeded")
	ErrInternalError = NewError(CodeInternalError, "internal server error")
)

// IsAppError check if it's an application error
func IsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// GetErrorCode get error code
func GetErrorCode(err error) ResponseCode {
	if appErr, ok := IsAppError(err); ok {
		return appErr.Code
	}
	return CodeInternalError
}

// HTTPStatus maps a business code to an HTTP status.
func HTTPStatus(code ResponseCode) int {
	switch code {
	case CodeSuccess:
		return http.StatusOK
	case CodeInvalidParam, CodeInsufficientStock, CodeInvalidStateTransition,
		CodeInvalidWeights, CodeRefundExceedsPaid, CodeSignatureInvalid:
		return http.StatusBadRequest
	case CodeItemNotFound, CodeOrderNotFound:
		return http.StatusNotFound
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeRateLimit:
		return http.StatusTooManyRequests
	case CodeGatewayTimeout:
		return http.StatusGatewayTimeout
	case CodeGatewayUnavailable, CodeGatewayRejected:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
