package rpc

import (
	"context"
	"errors"
	"net/http"

	"repcollateral/native/access"
	nativecommon "repcollateral/native/common"
	"repcollateral/native/lending"
	"repcollateral/native/reputation"
)

// writeModuleError maps engine errors onto JSON-RPC codes. Unknown errors
// surface as internal errors with the message attached as data.
func writeModuleError(w http.ResponseWriter, id interface{}, err error) {
	if err == nil {
		return
	}
	status := http.StatusInternalServerError
	code := codeServerError
	message := "internal_error"
	switch {
	case errors.Is(err, nativecommon.ErrModulePaused):
		status = http.StatusServiceUnavailable
		code = codeModulePaused
		message = "module_paused"
	case errors.Is(err, reputation.ErrNotAuthorized),
		errors.Is(err, lending.ErrUnauthorized):
		status = http.StatusForbidden
		code = codeUnauthorized
		message = "forbidden"
	case errors.Is(err, nativecommon.ErrQuotaRequestsExceeded),
		errors.Is(err, nativecommon.ErrQuotaUnitsExceeded),
		errors.Is(err, nativecommon.ErrQuotaCounterOverflow):
		status = http.StatusTooManyRequests
		code = codeRateLimited
		message = "quota_exceeded"
	case errors.Is(err, reputation.ErrInvalidCategory),
		errors.Is(err, reputation.ErrInvalidUser),
		errors.Is(err, access.ErrInvalidAmount):
		status = http.StatusBadRequest
		code = codeInvalidParams
		message = "invalid_params"
	case errors.Is(err, lending.ErrLoanNotApproved),
		errors.Is(err, lending.ErrInsufficientCollateral),
		errors.Is(err, lending.ErrActiveLoan),
		errors.Is(err, lending.ErrNoActiveLoan),
		errors.Is(err, lending.ErrInsufficientLiquidity),
		errors.Is(err, lending.ErrNotLiquidatable),
		errors.Is(err, reputation.ErrOwnerNotSet):
		status = http.StatusConflict
		code = codeRejected
		message = "rejected"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusServiceUnavailable
		message = "request_cancelled"
	}
	writeError(w, status, id, code, message, err.Error())
}
