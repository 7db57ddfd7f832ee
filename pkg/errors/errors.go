package errors

import (
	"errors"
)

type Code string

const (
	CodeConfiguration          Code = "configuration"
	CodeCryptoOperation        Code = "crypto_operation"
	CodeBadToken               Code = "bad_token"
	CodeIntrospectionTransport Code = "introspection_transport"
	CodeUnauthenticated        Code = "unauthenticated"
	CodePermissionDenied       Code = "permission_denied"
	CodeNotFound               Code = "not_found"
)

const (
	CodeUnknown            Code = "unknown"
	CodeStorageUnavailable Code = "storage_unavailable"
	CodeNotImplemented     Code = "not_implemented"
)

const (
	MessageEncryptFailed         = "Failed to encrypt text"
	MessageDecryptFailed         = "Failed to decrypt text"
	MessageTokenNullOrEmpty      = "Token is null or empty"
	MessageTokenNotActive        = "Token is not active"
	MessageOpaqueTokenExpired    = "Opaque token is expired"
	MessageSubjectNullOrEmpty    = "Subject is null or empty"
	MessageIntrospectionFailed   = "Failed to perform token introspection"
	MessageIntrospectionNullBody = "Token introspection response from IDP is null"
)

var ErrMissingAuthenticator = errors.New("statelessauth: authenticator is required")

type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}

	if e.Message != "" {
		return e.Message
	}

	if e.Err != nil {
		return e.Err.Error()
	}

	return string(e.Code)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func New(code Code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

func Wrap(code Code, message string, err error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Configuration builds a ConfigurationError naming the offending property.
func Configuration(message string) *Error {
	return New(CodeConfiguration, message)
}

func BadToken(message string) *Error {
	return New(CodeBadToken, message)
}

func IsCode(err error, code Code) bool {
	var typed *Error
	if !errors.As(err, &typed) {
		return false
	}
	return typed.Code == code
}

func IsConfiguration(err error) bool {
	return IsCode(err, CodeConfiguration)
}

func IsCryptoOperation(err error) bool {
	return IsCode(err, CodeCryptoOperation)
}

func IsBadToken(err error) bool {
	return IsCode(err, CodeBadToken)
}

func IsIntrospectionTransport(err error) bool {
	return IsCode(err, CodeIntrospectionTransport)
}

// IsAuthenticationFailure reports errors that should surface as 401 rather
// than as a server fault.
func IsAuthenticationFailure(err error) bool {
	return IsBadToken(err) || IsCode(err, CodeUnauthenticated) || IsCryptoOperation(err)
}

func IsInternalCode(err error) bool {
	return IsCode(err, CodeUnknown) ||
		IsCode(err, CodeStorageUnavailable) ||
		IsCode(err, CodeNotImplemented) ||
		IsIntrospectionTransport(err)
}
