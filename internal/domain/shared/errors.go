// Package shared содержит ошибки и события, общие для доменных пакетов.
package shared

import (
	"errors"
	"strings"
)

// ══════════════════════════════════════════════════════════════════════════════
// ERROR KINDS
// Транспорт сопоставляет ошибку с кодом ответа по её виду, а не по тексту.
// ══════════════════════════════════════════════════════════════════════════════

var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidInput       = errors.New("invalid input")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrServiceUnavailable = errors.New("service unavailable")
)

// DomainError - ошибка с доменным контекстом.
// errors.Is находит и Kind, и Err через Unwrap() []error.
type DomainError struct {
	Domain  string // "progression", "achievement", "admin"
	Op      string // операция: "Award", "Evaluate", ...
	Kind    error  // один из ErrNotFound, ErrInvalidInput, ...
	Message string
	Err     error // причина, может быть nil
}

func (e *DomainError) Error() string {
	var b strings.Builder
	b.WriteString(e.Domain)
	if e.Op != "" {
		b.WriteByte('.')
		b.WriteString(e.Op)
	}
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *DomainError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

func newError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{Domain: domain, Op: op, Kind: kind, Message: message}
}

// WrapError создаёт DomainError с причиной err.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{Domain: domain, Op: op, Kind: kind, Message: message, Err: err}
}

// Ошибки прогрессии.
var (
	ErrInvalidUserID     = newError("progression", "Validate", ErrInvalidInput, "user id must be a UUID")
	ErrInvalidXPCategory = newError("progression", "Validate", ErrInvalidInput, "unknown XP category")
	ErrInvalidXPAmount   = newError("progression", "Validate", ErrInvalidInput, "XP amount out of range")
	ErrUnknownXPAction   = newError("progression", "Resolve", ErrNotFound, "unknown XP action")
)

// Ошибки достижений и админки.
var (
	ErrInvalidDefinition     = newError("achievement", "Validate", ErrInvalidInput, "invalid achievement definition")
	ErrEvaluationAborted     = newError("achievement", "Evaluate", ErrServiceUnavailable, "evaluation pass aborted")
	ErrAdminKeyRejected      = newError("admin", "Authorize", ErrUnauthorized, "admin key rejected")
	ErrAdminKeyNotConfigured = newError("admin", "Authorize", ErrUnauthorized, "admin key not configured")
)

// IsNotFound сообщает, что запрошенная сущность не существует.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsUnauthorized сообщает об отказе в доступе.
func IsUnauthorized(err error) bool { return errors.Is(err, ErrUnauthorized) }

// IsValidation сообщает, что виноваты входные данные.
func IsValidation(err error) bool { return errors.Is(err, ErrInvalidInput) }

// IsUnavailable сообщает, что хранилище или зависимость недоступны.
func IsUnavailable(err error) bool { return errors.Is(err, ErrServiceUnavailable) }
