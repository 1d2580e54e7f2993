// Package validation реализует Validation Gate — единственную атомарную
// точку, через которую проходит каждая запись (create/update/delete)
// перед коммитом, одинаково для любого клиента и узла.
//
// Правила скомпилированы статически в таблицу по docType (вместо
// интерпретируемого кода правил внутри store), поэтому проверяются
// типами и тестируются отдельно от store.
package validation

import (
	"encoding/json"
	"fmt"
	"regexp"
)

// FieldRule описывает требования к одному полю документа:
// границы длины строки и опциональный формат.
type FieldRule struct {
	Pattern *regexp.Regexp
	Name    string
	Hint    string // человекочитаемое описание формата для сообщения об ошибке
	MinLen  int
	MaxLen  int
}

// check проверяет значение поля против правила
func (r FieldRule) check(value any) error {
	s, ok := value.(string)
	if !ok {
		return fmt.Errorf("field %q must be a string", r.Name)
	}

	if len(s) < r.MinLen {
		return fmt.Errorf("field %q must be at least %d characters long", r.Name, r.MinLen)
	}
	if r.MaxLen > 0 && len(s) > r.MaxLen {
		return fmt.Errorf("field %q must not exceed %d characters", r.Name, r.MaxLen)
	}
	if r.Pattern != nil && !r.Pattern.MatchString(s) {
		hint := r.Hint
		if hint == "" {
			hint = r.Pattern.String()
		}
		return fmt.Errorf("field %q must match format %s", r.Name, hint)
	}

	return nil
}

// BusinessRule кросс-полевое бизнес-правило типа документа
type BusinessRule struct {
	Check func(fields map[string]any) error
	Name  string
}

// RuleSet статически скомпилированный набор правил одного docType.
// Finalized сообщает, финализирован ли документ: только тогда
// действуют ограничения Immutable полей. nil означает "всегда".
type RuleSet struct {
	Finalized func(fields map[string]any) bool
	Required  []FieldRule
	Optional  []FieldRule
	Rules     []BusinessRule
	Immutable []string
}

// isFinalized применяет Finalized предикат к контенту документа
func (rs RuleSet) isFinalized(fields map[string]any) bool {
	if rs.Finalized == nil {
		return true
	}
	return rs.Finalized(fields)
}

// NumberField возвращает числовое значение поля. Значения приходят из
// JSON, поэтому числа всегда float64.
func NumberField(fields map[string]any, name string) (float64, bool) {
	n, ok := fields[name].(float64)
	return n, ok
}

// fieldEqual сравнивает значения полей через JSON сериализацию;
// значения приходят из JSON документов и сериализуются канонично.
func fieldEqual(a, b any) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}

	aj, errA := json.Marshal(a)
	bj, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}

	return string(aj) == string(bj)
}

// PositiveNumberRule строит бизнес-правило "поле обязано быть
// положительным числом". Используется, например, для лимита
// approval authority.
func PositiveNumberRule(field string) BusinessRule {
	return BusinessRule{
		Name: field + "-positive",
		Check: func(fields map[string]any) error {
			n, ok := NumberField(fields, field)
			if !ok {
				return fmt.Errorf("field %q must be a number", field)
			}
			if n <= 0 {
				return fmt.Errorf("field %q must be positive, got %v", field, n)
			}
			return nil
		},
	}
}
