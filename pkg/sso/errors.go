package sso

import (
	"errors"
	"fmt"
)

// IssueCode names why a launch was refused
type IssueCode string

const (
	CodeNotAuthorized        IssueCode = "not-authorized"
	CodeNotFound             IssueCode = "not-found"
	CodeNotConfigured        IssueCode = "not-configured"
	CodeSubscriptionRequired IssueCode = "subscription-required"
)

// IssueError is a refused launch
type IssueError struct {
	Code   IssueCode
	Reason string
	// Missing lists product names the user still needs, base product first
	Missing []string
}

func (e *IssueError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Reason)
}

func issueError(code IssueCode, reason string) *IssueError {
	return &IssueError{Code: code, Reason: reason}
}

// VerifyCode names why a token was rejected
type VerifyCode string

const (
	CodeMissingToken       VerifyCode = "missing_token"
	CodeUnknownSpoke       VerifyCode = "unknown_spoke"
	CodeWrongApp           VerifyCode = "wrong_app"
	CodeInvalidNonce       VerifyCode = "invalid_nonce"
	CodeNonceReused        VerifyCode = "nonce_reused"
	CodeTokenExpired       VerifyCode = "token_expired"
	CodeInvalidSignature   VerifyCode = "invalid_signature"
	CodeVerificationFailed VerifyCode = "verification_failed"
	CodeUserNotFound       VerifyCode = "user_not_found"
)

// VerifyError is a rejected token. Every code is terminal for the token.
type VerifyError struct {
	Code VerifyCode
	Err  error
}

func (e *VerifyError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return string(e.Code)
}

func (e *VerifyError) Unwrap() error {
	return e.Err
}

func verifyError(code VerifyCode, err error) *VerifyError {
	return &VerifyError{Code: code, Err: err}
}

// VerifyErrorCode returns err's code, or "" when err is not a VerifyError
func VerifyErrorCode(err error) VerifyCode {
	var verr *VerifyError
	if errors.As(err, &verr) {
		return verr.Code
	}
	return ""
}

var (
	// ErrUserNotFound is returned by Directory lookups for unknown users
	ErrUserNotFound = errors.New("user not found")
	// ErrNoEmail blocks checkout for accounts without an address
	ErrNoEmail = errors.New("no email address on account")
	// ErrEmailNotVerified blocks checkout until the address is confirmed
	ErrEmailNotVerified = errors.New("email address not verified")
	// ErrUnknownProduct is returned for checkout of a product not on sale
	ErrUnknownProduct = errors.New("unknown product")
)
