package api

import "fmt"

// ReasonCode классифицирует отклонение записи Validation Gate.
// Все коды терминальны для данной версии документа: клиент не должен
// повторять запись без изменения документа.
type ReasonCode string

const (
	// ReasonUnknownType docType не зарегистрирован в gate
	ReasonUnknownType ReasonCode = "unknown-type"
	// ReasonSchemaViolation обязательное поле отсутствует или не проходит формат
	ReasonSchemaViolation ReasonCode = "schema-violation"
	// ReasonRuleViolation нарушено кросс-полевое бизнес-правило
	ReasonRuleViolation ReasonCode = "rule-violation"
	// ReasonForbidden нарушение ownership/RBAC
	ReasonForbidden ReasonCode = "forbidden"
	// ReasonForbiddenImmutable изменение immutable поля без полномочий или correction
	ReasonForbiddenImmutable ReasonCode = "forbidden-immutable"
)

// RejectionError типизированное отклонение записи.
// Несет конкретное нарушенное правило, а не generic ошибку.
type RejectionError struct {
	Code   ReasonCode
	Detail string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Detail)
}

// Reject создает RejectionError с заданным кодом.
func Reject(code ReasonCode, format string, args ...any) *RejectionError {
	return &RejectionError{
		Code:   code,
		Detail: fmt.Sprintf(format, args...),
	}
}
