package service

import (
	"errors"
	"log/slog"
	"net/http"

	"connectrpc.com/connect"

	"github.com/mmynk/splitledger/internal/apperr"
	"github.com/mmynk/splitledger/internal/middleware"
)

// ErrorFieldHeader names the offending input field of a failed call.
const ErrorFieldHeader = "Ledger-Error-Field"

// connectCode maps a ledger error code to its connect code.
func connectCode(code apperr.Code) connect.Code {
	switch code {
	case apperr.CodeInvalidAmount, apperr.CodeInvalidCurrency, apperr.CodeInvalidSplitTotal,
		apperr.CodeInvalidPercentageTotal, apperr.CodeDuplicateSplitUsers, apperr.CodeInvalidSplitUser,
		apperr.CodeInvalidSplits, apperr.CodeInvalidArgument, apperr.CodeUserNotInGroup:
		return connect.CodeInvalidArgument
	case apperr.CodeGroupNotFound, apperr.CodeExpenseNotFound, apperr.CodeNotFound, apperr.CodeShareLinkInvalid:
		return connect.CodeNotFound
	case apperr.CodeConcurrentUpdate:
		return connect.CodeAborted
	case apperr.CodeAlreadyMember, apperr.CodeDisplayNameTaken:
		return connect.CodeAlreadyExists
	case apperr.CodeGroupFull:
		return connect.CodeResourceExhausted
	case apperr.CodeOutstandingBalance, apperr.CodeSettlementLocked:
		return connect.CodeFailedPrecondition
	case apperr.CodeForbidden:
		return connect.CodePermissionDenied
	case apperr.CodeUnauthorized:
		return connect.CodeUnauthenticated
	default:
		return connect.CodeInternal
	}
}

// toConnectError converts a ledger error into a connect error carrying the
// ledger code and field as metadata. Internal causes are logged, never sent.
func toConnectError(err error) error {
	if err == nil {
		return nil
	}
	var appErr *apperr.Error
	if !errors.As(err, &appErr) {
		slog.Error("Unclassified service error", "error", err)
		appErr = apperr.Internal(err)
	}
	if appErr.Code == apperr.CodeInternal {
		if cause := errors.Unwrap(appErr); cause != nil {
			slog.Error("Internal error", "error", cause)
		}
	}

	connectErr := connect.NewError(connectCode(appErr.Code), errors.New(appErr.Message))
	connectErr.Meta().Set(middleware.ErrorCodeHeader, string(appErr.Code))
	if appErr.Field != "" {
		connectErr.Meta().Set(ErrorFieldHeader, appErr.Field)
	}
	return connectErr
}

// LedgerError reconstructs the ledger error from a connect error returned to a
// client. Errors without ledger metadata become INTERNAL.
func LedgerError(err error) *apperr.Error {
	if err == nil {
		return nil
	}
	var connectErr *connect.Error
	if !errors.As(err, &connectErr) {
		return apperr.Internal(err)
	}
	code := apperr.Code(connectErr.Meta().Get(middleware.ErrorCodeHeader))
	if !code.Valid() {
		return apperr.Wrap(apperr.CodeInternal, err, connectErr.Message())
	}
	return apperr.New(code, "%s", connectErr.Message()).WithField(connectErr.Meta().Get(ErrorFieldHeader))
}

// httpStatus returns the HTTP status for err on plain HTTP routes.
func httpStatus(err error) int {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}
	return http.StatusInternalServerError
}
