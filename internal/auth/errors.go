// errors.go -- Flow error codes and the uniform result shape.
package auth

import (
	"errors"
	"net/http"
)

// ErrAccountConflict is returned by AccountLinker.Resolve when the matched account
// cannot be signed into: it is deactivated, or the provider identity belongs to a
// different user than the one owning the email.
var ErrAccountConflict = errors.New("account conflict")

// ErrInvalidRole is returned by ParseRole for roles a caller may not request.
var ErrInvalidRole = errors.New("invalid role")

// Code classifies a failed flow for the caller.
type Code string

const (
	CodeInvalidState       Code = "INVALID_OR_EXPIRED_STATE"
	CodeProviderMismatch   Code = "PROVIDER_MISMATCH"
	CodeUnauthorized       Code = "UNAUTHORIZED"
	CodeBadRequest         Code = "BAD_REQUEST"
	CodeAccountConflict    Code = "ACCOUNT_CONFLICT"
	CodeConfigurationError Code = "CONFIGURATION_ERROR"
	CodeStoreUnavailable   Code = "STORE_UNAVAILABLE"
	CodeInternal           Code = "INTERNAL"
)

// HTTPStatus maps a code to the response status used by the handlers.
func (c Code) HTTPStatus() int {
	switch c {
	case "":
		return http.StatusOK
	case CodeInvalidState, CodeProviderMismatch, CodeBadRequest:
		return http.StatusBadRequest
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeAccountConflict:
		return http.StatusConflict
	case CodeStoreUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Outcome is the {success, code, message} triple every flow result carries.
// Code is empty on success.
type Outcome struct {
	Success bool   `json:"success"`
	Code    Code   `json:"code,omitempty"`
	Message string `json:"message"`
}

// FlowError pairs a caller-facing code and message with the internal cause.
// Message is safe to return to clients; Err is for logs only.
type FlowError struct {
	Code    Code
	Message string
	Err     error
}

func (e *FlowError) Error() string {
	if e.Err != nil {
		return string(e.Code) + ": " + e.Message + ": " + e.Err.Error()
	}
	return string(e.Code) + ": " + e.Message
}

func (e *FlowError) Unwrap() error { return e.Err }

// Outcome converts the error into a failed Outcome.
func (e *FlowError) Outcome() Outcome {
	return Outcome{Code: e.Code, Message: e.Message}
}

func flowErr(code Code, message string, err error) *FlowError {
	return &FlowError{Code: code, Message: message, Err: err}
}

// Caller-facing messages. Fixed strings; no provider or store detail leaks through.
const (
	msgInvalidState       = "sign-in session is invalid or has expired, please try signing in again"
	msgProviderMismatch   = "sign-in session does not belong to this provider"
	msgExchangeFailed     = "could not verify authorization with the provider"
	msgProfileFailed      = "could not read profile from the provider"
	msgIncompleteProfile  = "provider profile is missing required fields"
	msgAccountConflict    = "this account cannot be signed into with this provider"
	msgNotConfigured      = "provider is not configured"
	msgStoreUnavailable   = "sign-in is temporarily unavailable, please try again"
	msgInternal           = "internal server error"
	msgAccountCreated     = "account created"
	msgAccountLinked      = "provider linked to existing account"
	msgLoggedIn           = "logged in"
	msgAuthURLCreated     = "authorization url created"
	msgUnknownProvider    = "unknown provider"
	msgInvalidRedirectURI = "invalid redirect_uri"
	msgRedirectNotAllowed = "redirect_uri origin is not allowed"
	msgInvalidRole        = "invalid role"
	msgMissingCode        = "code is required"
)
