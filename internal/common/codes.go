package common

import (
	"errors"
	"net/http"
)

// Stable machine-readable error codes returned to clients.
const (
	CodeValidation        = "VALIDATION_ERROR"
	CodeConflict          = "CONFLICT"
	CodeAlreadyClaimed    = "ALREADY_CLAIMED"
	CodeClaimInProgress   = "CLAIM_IN_PROGRESS"
	CodeForbidden         = "FORBIDDEN"
	CodeUnauthorized      = "UNAUTHORIZED"
	CodeNotFound          = "NOT_FOUND"
	CodeNoWallet          = "NO_WALLET"
	CodeNotConfigured     = "NOT_CONFIGURED"
	CodeIntegrity         = "INTEGRITY_ERROR"
	CodeDecode            = "DECODE_ERROR"
	CodeNothingToClaim    = "NOTHING_TO_CLAIM"
	CodeInsufficientFunds = "INSUFFICIENT_BALANCE"
	CodeRateLimited       = "RATE_LIMITED"
	CodeChainRejected     = "CHAIN_REJECTED"
	CodeChainUncertain    = "CHAIN_UNCERTAIN"
	CodeInternal          = "INTERNAL_ERROR"
)

// CodedError is implemented by errors that carry their own code and status,
// such as chain errors.
type CodedError interface {
	error
	Code() string
	HTTPStatus() int
}

// order matters: more specific sentinels come before their parents.
var codeTable = []struct {
	err    error
	code   string
	status int
}{
	{ErrAlreadyClaimed, CodeAlreadyClaimed, http.StatusConflict},
	{ErrClaimInProgress, CodeClaimInProgress, http.StatusConflict},
	{ErrValidation, CodeValidation, http.StatusBadRequest},
	{ErrConflict, CodeConflict, http.StatusConflict},
	{ErrVersionConflict, CodeConflict, http.StatusConflict},
	{ErrDuplicate, CodeConflict, http.StatusConflict},
	{ErrForbidden, CodeForbidden, http.StatusForbidden},
	{ErrUnauthorized, CodeUnauthorized, http.StatusUnauthorized},
	{ErrInvalidToken, CodeUnauthorized, http.StatusUnauthorized},
	{ErrTokenExpired, CodeUnauthorized, http.StatusUnauthorized},
	{ErrRefreshTokenExpired, CodeUnauthorized, http.StatusUnauthorized},
	{ErrNotFound, CodeNotFound, http.StatusNotFound},
	{ErrNoWallet, CodeNoWallet, http.StatusBadRequest},
	{ErrNotConfigured, CodeNotConfigured, http.StatusServiceUnavailable},
	{ErrIntegrity, CodeIntegrity, http.StatusInternalServerError},
	{ErrDecode, CodeDecode, http.StatusInternalServerError},
	{ErrNothingToClaim, CodeNothingToClaim, http.StatusBadRequest},
	{ErrInsufficientBalance, CodeInsufficientFunds, http.StatusBadRequest},
	{ErrRateLimited, CodeRateLimited, http.StatusTooManyRequests},
}

// Classify maps err to a stable code and an HTTP status. Unknown errors are
// reported as CodeInternal so their details never reach the caller.
func Classify(err error) (code string, status int) {
	if err == nil {
		return "", http.StatusOK
	}
	var coded CodedError
	if errors.As(err, &coded) {
		return coded.Code(), coded.HTTPStatus()
	}
	for _, e := range codeTable {
		if errors.Is(err, e.err) {
			return e.code, e.status
		}
	}
	return CodeInternal, http.StatusInternalServerError
}

// Code returns only the machine-readable code for err.
func Code(err error) string {
	c, _ := Classify(err)
	return c
}
