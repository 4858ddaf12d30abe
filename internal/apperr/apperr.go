// Package apperr defines the closed set of ledger error codes and the typed error
// carried from the transaction manager up to the RPC layer.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies a ledger error kind. The set is closed; callers can switch on it
// exhaustively.
type Code string

const (
	CodeInvalidAmount          Code = "INVALID_AMOUNT"
	CodeInvalidCurrency        Code = "INVALID_CURRENCY"
	CodeInvalidSplitTotal      Code = "INVALID_SPLIT_TOTAL"
	CodeInvalidPercentageTotal Code = "INVALID_PERCENTAGE_TOTAL"
	CodeDuplicateSplitUsers    Code = "DUPLICATE_SPLIT_USERS"
	CodeInvalidSplitUser       Code = "INVALID_SPLIT_USER"
	CodeInvalidSplits          Code = "INVALID_SPLITS"
	CodeInvalidArgument        Code = "INVALID_ARGUMENT"
	CodeUserNotInGroup         Code = "USER_NOT_IN_GROUP"
	CodeGroupNotFound          Code = "GROUP_NOT_FOUND"
	CodeExpenseNotFound        Code = "EXPENSE_NOT_FOUND"
	CodeNotFound               Code = "NOT_FOUND"
	CodeConcurrentUpdate       Code = "CONCURRENT_UPDATE"
	CodeAlreadyMember          Code = "ALREADY_MEMBER"
	CodeGroupFull              Code = "GROUP_FULL"
	CodeDisplayNameTaken       Code = "DISPLAY_NAME_TAKEN"
	CodeOutstandingBalance     Code = "OUTSTANDING_BALANCE"
	CodeSettlementLocked       Code = "SETTLEMENT_LOCKED"
	CodeShareLinkInvalid       Code = "SHARE_LINK_INVALID"
	CodeForbidden              Code = "FORBIDDEN"
	CodeUnauthorized           Code = "UNAUTHORIZED"
	CodeInternal               Code = "INTERNAL"
)

// Codes lists every known code.
var Codes = []Code{
	CodeInvalidAmount, CodeInvalidCurrency, CodeInvalidSplitTotal, CodeInvalidPercentageTotal,
	CodeDuplicateSplitUsers, CodeInvalidSplitUser, CodeInvalidSplits, CodeInvalidArgument,
	CodeUserNotInGroup, CodeGroupNotFound, CodeExpenseNotFound, CodeNotFound,
	CodeConcurrentUpdate, CodeAlreadyMember, CodeGroupFull, CodeDisplayNameTaken,
	CodeOutstandingBalance, CodeSettlementLocked, CodeShareLinkInvalid,
	CodeForbidden, CodeUnauthorized, CodeInternal,
}

// StatusCode returns the HTTP status associated with the code.
func (c Code) StatusCode() int {
	switch c {
	case CodeInvalidAmount, CodeInvalidCurrency, CodeInvalidSplitTotal, CodeInvalidPercentageTotal,
		CodeDuplicateSplitUsers, CodeInvalidSplitUser, CodeInvalidSplits, CodeInvalidArgument,
		CodeUserNotInGroup:
		return http.StatusBadRequest
	case CodeGroupNotFound, CodeExpenseNotFound, CodeNotFound, CodeShareLinkInvalid:
		return http.StatusNotFound
	case CodeConcurrentUpdate, CodeAlreadyMember, CodeGroupFull, CodeDisplayNameTaken:
		return http.StatusConflict
	case CodeOutstandingBalance, CodeSettlementLocked:
		return http.StatusPreconditionFailed
	case CodeForbidden:
		return http.StatusForbidden
	case CodeUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// Retryable reports whether the caller may retry the same input after re-reading state.
func (c Code) Retryable() bool {
	return c == CodeConcurrentUpdate
}

// Valid reports whether c belongs to the closed set.
func (c Code) Valid() bool {
	for _, known := range Codes {
		if c == known {
			return true
		}
	}
	return false
}

// Error is the payload returned for every rejected ledger operation.
type Error struct {
	StatusCode int    `json:"statusCode"`
	Code       Code   `json:"code"`
	Message    string `json:"message"`
	// Field names the offending input, e.g. "splits[2].amount". Empty when not tied to one field.
	Field string `json:"field,omitempty"`

	cause error
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Field)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New creates an error with the given code and message.
func New(code Code, format string, args ...any) *Error {
	return &Error{
		StatusCode: code.StatusCode(),
		Code:       code,
		Message:    fmt.Sprintf(format, args...),
	}
}

// WithField returns e annotated with the offending field.
func (e *Error) WithField(field string) *Error {
	e.Field = field
	return e
}

// Wrap creates an error with the given code that keeps err as its cause.
func Wrap(code Code, err error, message string) *Error {
	e := New(code, "%s", message)
	e.cause = err
	return e
}

// Internal wraps an infrastructure failure.
func Internal(err error) *Error {
	return Wrap(CodeInternal, err, "internal error")
}

// CodeOf extracts the code from err, or CodeInternal if err is not an *Error.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}
