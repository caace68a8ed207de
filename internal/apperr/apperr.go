// Package apperr carries the error taxonomy shared by the contrax services and the HTTP layer.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure for callers that need to branch on it.
type Kind string

const (
	KindValidation       Kind = "validation"
	KindNotFound         Kind = "not_found"
	KindConflict         Kind = "conflict"
	KindQuotaExceeded    Kind = "quota_exceeded"
	KindSignatureInvalid Kind = "signature_invalid"
	KindUpstream         Kind = "upstream"
	KindInternal         Kind = "internal"
)

// Error is a classified failure. Code has the form "<operation>.<reason>".
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New builds an Error for the given operation and reason.
func New(kind Kind, operation, reason, message string, cause error) *Error {
	return &Error{
		Kind:    kind,
		Code:    operation + "." + reason,
		Message: message,
		Err:     cause,
	}
}

func Validation(operation, reason, message string) *Error {
	return New(KindValidation, operation, reason, message, nil)
}

func NotFound(operation, reason, message string) *Error {
	return New(KindNotFound, operation, reason, message, nil)
}

func Conflict(operation, reason, message string) *Error {
	return New(KindConflict, operation, reason, message, nil)
}

func QuotaExceeded(operation, message string) *Error {
	return New(KindQuotaExceeded, operation, "quota_exceeded", message, nil)
}

func SignatureInvalid(operation string, cause error) *Error {
	return New(KindSignatureInvalid, operation, "signature_invalid", "assinatura do webhook inválida", cause)
}

func Upstream(operation, reason string, cause error) *Error {
	return New(KindUpstream, operation, reason, "falha ao comunicar com o provedor de pagamento", cause)
}

func Internal(operation, reason string, cause error) *Error {
	return New(KindInternal, operation, reason, "erro interno", cause)
}

// As extracts the first *Error in the chain.
func As(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// KindOf reports the kind of err, or KindInternal for unclassified errors.
func KindOf(err error) Kind {
	if appErr, ok := As(err); ok {
		return appErr.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// HTTPStatus maps a kind onto the status code used by the HTTP surface.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation, KindSignatureInvalid:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindQuotaExceeded:
		return http.StatusForbidden
	case KindConflict:
		return http.StatusConflict
	case KindUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
