package errors

import (
	"fmt"
	"runtime"
	"time"
)

// ErrorCode identifies a stable, machine-checkable error condition raised by
// the exchange and its matching engine.
type ErrorCode string

const (
	// Admission errors.
	UserNotFound       ErrorCode = "USER_NOT_FOUND"
	InstrumentNotFound ErrorCode = "INSTRUMENT_NOT_FOUND"
	DuplicateUser      ErrorCode = "DUPLICATE_USER"
	PermissionDenied   ErrorCode = "PERMISSION_DENIED"

	// Order validity errors.
	InvalidOrderSide          ErrorCode = "INVALID_ORDER_SIDE"
	InvalidOrderQuantity      ErrorCode = "INVALID_ORDER_QUANTITY"
	InvalidOrderType          ErrorCode = "INVALID_ORDER_TYPE"
	InvalidStopPrice          ErrorCode = "INVALID_STOP_PRICE"
	OrderExceedsPositionLimit ErrorCode = "ORDER_EXCEEDS_POSITION_LIMIT"

	// Matching outcomes that reject the submission outright.
	FOKInsufficientLiquidity ErrorCode = "FOK_INSUFFICIENT_LIQUIDITY"
	PostOnlyViolation        ErrorCode = "POST_ONLY_VIOLATION"
	SelfTradePrevention      ErrorCode = "SELF_TRADE_PREVENTION"

	// Internal / defensive.
	MatcherTypeMismatch ErrorCode = "MATCHER_TYPE_MISMATCH"

	// Account errors.
	InsufficientBalance ErrorCode = "INSUFFICIENT_BALANCE"

	// Trade log errors.
	InvalidAggressor ErrorCode = "INVALID_AGGRESSOR"
)

// ErrorSeverity represents the severity level of an error.
type ErrorSeverity string

const (
	SeverityLow      ErrorSeverity = "low"
	SeverityMedium   ErrorSeverity = "medium"
	SeverityHigh     ErrorSeverity = "high"
	SeverityCritical ErrorSeverity = "critical"
)

// ExchangeError is a structured error carrying a stable machine code, a
// human message, and a details payload for the code-specific fields the
// taxonomy demands (e.g. required/actual permission level, is-buy, quota).
type ExchangeError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Severity  ErrorSeverity          `json:"severity"`
	Timestamp time.Time              `json:"timestamp"`
	File      string                 `json:"file,omitempty"`
	Line      int                    `json:"line,omitempty"`
	Function  string                 `json:"function,omitempty"`
	Cause     error                  `json:"-"`
}

// Error implements the error interface.
func (e *ExchangeError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s (caused by: %v)", e.Code, e.Severity, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Severity, e.Message)
}

// Unwrap returns the underlying cause.
func (e *ExchangeError) Unwrap() error {
	return e.Cause
}

// WithDetail adds a detail to the error.
func (e *ExchangeError) WithDetail(key string, value interface{}) *ExchangeError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithCause adds a cause to the error.
func (e *ExchangeError) WithCause(cause error) *ExchangeError {
	e.Cause = cause
	return e
}

// New creates a new ExchangeError.
func New(code ErrorCode, message string) *ExchangeError {
	pc, file, line, _ := runtime.Caller(1)
	fn := runtime.FuncForPC(pc)
	var funcName string
	if fn != nil {
		funcName = fn.Name()
	}

	return &ExchangeError{
		Code:      code,
		Message:   message,
		Severity:  getSeverityForCode(code),
		Timestamp: time.Now(),
		File:      file,
		Line:      line,
		Function:  funcName,
	}
}

// Newf creates a new ExchangeError with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *ExchangeError {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap wraps an existing error with an ExchangeError.
func Wrap(err error, code ErrorCode, message string) *ExchangeError {
	if err == nil {
		return nil
	}

	pc, file, line, _ := runtime.Caller(1)
	fn := runtime.FuncForPC(pc)
	var funcName string
	if fn != nil {
		funcName = fn.Name()
	}

	return &ExchangeError{
		Code:      code,
		Message:   message,
		Severity:  getSeverityForCode(code),
		Timestamp: time.Now(),
		File:      file,
		Line:      line,
		Function:  funcName,
		Cause:     err,
	}
}

// Is checks if an error carries a specific error code.
func Is(err error, code ErrorCode) bool {
	var exErr *ExchangeError
	if As(err, &exErr) {
		return exErr.Code == code
	}
	return false
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	if err == nil {
		return false
	}

	if exErr, ok := err.(*ExchangeError); ok {
		if targetPtr, ok := target.(**ExchangeError); ok {
			*targetPtr = exErr
			return true
		}
	}

	if unwrapper, ok := err.(interface{ Unwrap() error }); ok {
		return As(unwrapper.Unwrap(), target)
	}

	return false
}

// GetErrorCode extracts the error code from an error, or "" if it is not an
// ExchangeError.
func GetErrorCode(err error) ErrorCode {
	var exErr *ExchangeError
	if As(err, &exErr) {
		return exErr.Code
	}
	return ""
}

// GetErrorDetails extracts the error details payload from an error.
func GetErrorDetails(err error) map[string]interface{} {
	var exErr *ExchangeError
	if As(err, &exErr) {
		return exErr.Details
	}
	return nil
}

// IsClientError determines whether an error stems from bad caller input
// rather than an internal defect.
func IsClientError(err error) bool {
	switch GetErrorCode(err) {
	case UserNotFound, InstrumentNotFound, DuplicateUser, PermissionDenied,
		InvalidOrderSide, InvalidOrderQuantity, InvalidOrderType, InvalidStopPrice,
		OrderExceedsPositionLimit, FOKInsufficientLiquidity, PostOnlyViolation,
		SelfTradePrevention, InsufficientBalance, InvalidAggressor:
		return true
	default:
		return false
	}
}

// getSeverityForCode returns the default severity for an error code.
func getSeverityForCode(code ErrorCode) ErrorSeverity {
	switch code {
	case MatcherTypeMismatch:
		return SeverityCritical
	case SelfTradePrevention, OrderExceedsPositionLimit, InsufficientBalance:
		return SeverityHigh
	case FOKInsufficientLiquidity, PostOnlyViolation, InvalidStopPrice,
		InvalidOrderType, InvalidOrderSide, InvalidOrderQuantity:
		return SeverityMedium
	default:
		return SeverityLow
	}
}
