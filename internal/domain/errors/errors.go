package errors

import (
	"errors"
	"net/http"
)

// Domain errors
var (
	ErrNotFound          = errors.New("resource not found")
	ErrAlreadyExists     = errors.New("resource already exists")
	ErrInvalidInput      = errors.New("invalid input")
	ErrBadRequest        = errors.New("bad request")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrForbidden         = errors.New("forbidden")
	ErrInsufficientFunds = errors.New("insufficient funds")

	// Settlement
	ErrExternalCall        = errors.New("external call failed")
	ErrMissingKeyMaterial  = errors.New("missing key material")
	ErrResourceShortage    = errors.New("on-chain resources insufficient")
	ErrTransferFailed      = errors.New("transfer failed on chain")
	ErrConfirmationPending = errors.New("transaction confirmation pending")
	// ErrBroadcastUnknown means a signed tx may or may not have reached the network.
	ErrBroadcastUnknown  = errors.New("broadcast outcome unknown")
	ErrInvalidTransition = errors.New("invalid status transition")

	// Feature locks
	ErrFeatureLocked = errors.New("feature locked for maintenance")

	// Pools
	ErrNoSharesLeft      = errors.New("no shares left")
	ErrAlreadyClaimed    = errors.New("already claimed")
	ErrNotRecipient      = errors.New("claimant is not the pool recipient")
	ErrPoolNotClaimable  = errors.New("pool is not claimable")
	ErrInvalidTxPassword = errors.New("invalid transaction password")
)

// Error codes returned to API clients
const (
	CodeBadRequest          = "BAD_REQUEST"
	CodeInvalidInput        = "INVALID_INPUT"
	CodeNotFound            = "NOT_FOUND"
	CodeConflict            = "CONFLICT"
	CodeUnauthorized        = "UNAUTHORIZED"
	CodeForbidden           = "FORBIDDEN"
	CodeInternalError       = "INTERNAL_ERROR"
	CodeMaintenance         = "MAINTENANCE"
	CodeInsufficientFunds   = "INSUFFICIENT_FUNDS"
	CodeNoSharesLeft        = "NO_SHARES_LEFT"
	CodeAlreadyClaimed      = "ALREADY_CLAIMED"
	CodeNotRecipient        = "NOT_RECIPIENT"
	CodePoolNotClaimable    = "POOL_NOT_CLAIMABLE"
	CodeInvalidTxPassword   = "INVALID_TX_PASSWORD"
	CodeInvalidState        = "INVALID_STATE"
	CodePendingConfirmation = "PENDING_CONFIRMATION"
	CodeChainError          = "CHAIN_ERROR"
)

// AppError represents application error with HTTP status
type AppError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError creates a new app error
func NewAppError(status int, code, message string, err error) *AppError {
	return &AppError{
		Status:  status,
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Common error constructors
func NotFound(message string) *AppError {
	return NewAppError(http.StatusNotFound, CodeNotFound, message, ErrNotFound)
}

func BadRequest(message string) *AppError {
	return NewAppError(http.StatusBadRequest, CodeInvalidInput, message, ErrInvalidInput)
}

func Unauthorized(message string) *AppError {
	return NewAppError(http.StatusUnauthorized, CodeUnauthorized, message, ErrUnauthorized)
}

func Forbidden(message string) *AppError {
	return NewAppError(http.StatusForbidden, CodeForbidden, message, ErrForbidden)
}

func Conflict(message string) *AppError {
	return NewAppError(http.StatusConflict, CodeConflict, message, ErrAlreadyExists)
}

func Unavailable(message string) *AppError {
	return NewAppError(http.StatusServiceUnavailable, CodeMaintenance, message, ErrFeatureLocked)
}

func InternalError(err error) *AppError {
	return NewAppError(http.StatusInternalServerError, CodeInternalError, "internal server error", err)
}

// FromDomain maps a sentinel error to the AppError the HTTP layer returns.
func FromDomain(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	switch {
	case errors.Is(err, ErrNotFound):
		return NotFound("resource not found")
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrBadRequest):
		return NewAppError(http.StatusBadRequest, CodeBadRequest, err.Error(), err)
	case errors.Is(err, ErrAlreadyExists):
		return NewAppError(http.StatusConflict, CodeConflict, err.Error(), err)
	case errors.Is(err, ErrInsufficientFunds):
		return NewAppError(http.StatusUnprocessableEntity, CodeInsufficientFunds, "insufficient available balance", err)
	case errors.Is(err, ErrFeatureLocked):
		return Unavailable("system under maintenance, please try again later")
	case errors.Is(err, ErrNoSharesLeft):
		return NewAppError(http.StatusConflict, CodeNoSharesLeft, "all shares have been claimed", err)
	case errors.Is(err, ErrAlreadyClaimed):
		return NewAppError(http.StatusConflict, CodeAlreadyClaimed, "share already claimed", err)
	case errors.Is(err, ErrNotRecipient):
		return NewAppError(http.StatusForbidden, CodeNotRecipient, "this pool is reserved for another user", err)
	case errors.Is(err, ErrPoolNotClaimable):
		return NewAppError(http.StatusConflict, CodePoolNotClaimable, "pool cannot be claimed", err)
	case errors.Is(err, ErrInvalidTxPassword):
		return NewAppError(http.StatusForbidden, CodeInvalidTxPassword, "transaction password is incorrect", err)
	case errors.Is(err, ErrInvalidTransition):
		return NewAppError(http.StatusConflict, CodeInvalidState, err.Error(), err)
	case errors.Is(err, ErrForbidden):
		return Forbidden("forbidden")
	case errors.Is(err, ErrUnauthorized):
		return Unauthorized("unauthorized")
	case errors.Is(err, ErrConfirmationPending), errors.Is(err, ErrBroadcastUnknown):
		return NewAppError(http.StatusAccepted, CodePendingConfirmation, "transfer broadcast, awaiting confirmation", err)
	case errors.Is(err, ErrTransferFailed), errors.Is(err, ErrExternalCall), errors.Is(err, ErrResourceShortage):
		return NewAppError(http.StatusBadGateway, CodeChainError, "on-chain transfer failed", err)
	default:
		return InternalError(err)
	}
}
