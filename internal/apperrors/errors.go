// Package apperrors is the standard error envelope shared by every DGC
// service, generalizing the teacher gateway's apperrors package from a
// handful of trading error codes to the full error-kind list of §7.
package apperrors

import (
	"fmt"
	"net/http"
)

// Code is a machine-readable error discriminator, echoed verbatim in the
// JSON error envelope's "error" field.
type Code string

const (
	// Input validation
	CodeInvalidRequest   Code = "invalid_request"
	CodeInvalidAmount    Code = "invalid_amount"
	CodeInvalidStatus    Code = "invalid_status"
	CodeInvalidCertID    Code = "invalid_cert_id"
	CodeInvalidListingID Code = "invalid_listing_id"
	CodeInvalidQuery     Code = "invalid_query"

	// Not found
	CodeNotFound Code = "not_found"

	// State conflict
	CodeStateConflict               Code = "state_conflict"
	CodeOwnerMismatch               Code = "owner_mismatch"
	CodeBuyerMismatch               Code = "buyer_mismatch"
	CodeIdempotencyKeyReuseConflict Code = "idempotency_key_reuse_conflict"
	CodeMissingIdempotencyKey       Code = "missing_idempotency_key"
	CodeDisputeAlreadyOpen          Code = "dispute_already_open"

	// Authorization
	CodeUnauthorizedService Code = "unauthorized_service"
	CodeForbidden           Code = "forbidden"

	// Locked by policy
	CodeMarketplaceFrozen Code = "marketplace_frozen"

	// Collaborator errors
	CodeCertificateServiceUnreachable     Code = "certificate_service_unreachable"
	CodeCertificateServiceError           Code = "certificate_service_error"
	CodeCertificateServiceInvalidResponse Code = "certificate_service_invalid_response"
	CodeLedgerAdapterUnreachable          Code = "ledger_adapter_unreachable"
	CodeLedgerAdapterError                Code = "ledger_adapter_error"
	CodeLedgerAdapterNotConfigured        Code = "ledger_adapter_not_configured"
	CodeReconciliationServiceUnreachable  Code = "reconciliation_service_unreachable"
	CodeReconciliationServiceError        Code = "reconciliation_service_error"
	CodeReconciliationInvalidResponse     Code = "reconciliation_service_invalid_response"
	CodeChainWriteFailed                  Code = "chain_write_failed"

	// Internal
	CodeInternal Code = "internal_error"
)

// AppError is the standard error struct returned by every DGC service.
type AppError struct {
	ErrCode    Code   `json:"error"`
	Message    string `json:"message,omitempty"`
	StatusCode int    `json:"statusCode,omitempty"`
	HTTPStatus int    `json:"-"`
	Cause      error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Cause }

// New builds an AppError, deriving its HTTP status from code unless a
// caller wants to echo a specific downstream status (see WithStatusCode).
func New(code Code, msg string, cause error) *AppError {
	return &AppError{
		ErrCode:    code,
		Message:    msg,
		HTTPStatus: statusFor(code),
		Cause:      cause,
	}
}

// WithStatusCode attaches a downstream status code to echo in the body,
// per §7's "downstream status codes may be echoed under statusCode".
func (e *AppError) WithStatusCode(status int) *AppError {
	e.StatusCode = status
	return e
}

// Wrap coerces any error into an AppError, defaulting to CodeInternal.
func Wrap(err error) *AppError {
	if err == nil {
		return nil
	}
	if appErr, ok := err.(*AppError); ok {
		return appErr
	}
	return New(CodeInternal, err.Error(), err)
}

func statusFor(code Code) int {
	switch code {
	case CodeInvalidRequest, CodeInvalidAmount, CodeInvalidStatus, CodeInvalidCertID,
		CodeInvalidListingID, CodeInvalidQuery, CodeMissingIdempotencyKey:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeStateConflict, CodeOwnerMismatch, CodeBuyerMismatch,
		CodeIdempotencyKeyReuseConflict, CodeDisputeAlreadyOpen:
		return http.StatusConflict
	case CodeUnauthorizedService:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeMarketplaceFrozen:
		return http.StatusLocked
	case CodeCertificateServiceUnreachable, CodeLedgerAdapterUnreachable,
		CodeReconciliationServiceUnreachable, CodeLedgerAdapterNotConfigured:
		return http.StatusServiceUnavailable
	case CodeCertificateServiceError, CodeCertificateServiceInvalidResponse,
		CodeLedgerAdapterError, CodeReconciliationServiceError,
		CodeReconciliationInvalidResponse, CodeChainWriteFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
