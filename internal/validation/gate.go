package validation

import (
	"sync"

	"github.com/akarpov/crmsync/internal/models"
	"github.com/akarpov/crmsync/pkg/api"
)

// Gate проверяет каждую предложенную запись против таблицы правил.
// Проверки идут в фиксированном порядке, первая ошибка выигрывает:
// unknown-type → schema-violation → rule-violation → forbidden →
// forbidden-immutable. Gate не имеет побочных эффектов: либо accept,
// либо типизированное отклонение, прежнее состояние не тронуто.
type Gate struct {
	rules map[string]RuleSet
	mu    sync.RWMutex
}

// NewGate создает пустой gate. Типы документов регистрируются через
// Register — pluggable поверхность для новых типов сущностей.
func NewGate() *Gate {
	return &Gate{rules: make(map[string]RuleSet)}
}

// Register регистрирует набор правил для типа документа
func (g *Gate) Register(docType string, rs RuleSet) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rules[docType] = rs
}

// Check проверяет предложенный envelope. Для update previous содержит
// предыдущее состояние, для create previous == nil.
// Возвращает nil (accept) или *api.RejectionError.
func (g *Gate) Check(proposed, previous *models.Envelope, p models.Principal) error {
	// 1-3. Контентные проверки: тип, схема, бизнес-правила
	if err := g.CheckContent(proposed); err != nil {
		return err
	}

	g.mu.RLock()
	rs := g.rules[proposed.DocType]
	g.mu.RUnlock()

	// 4. Ownership / RBAC
	if err := g.checkOwnership(proposed, previous, p); err != nil {
		return err
	}

	// 5. Immutable поля финализированного документа
	if err := g.checkImmutable(rs, proposed, previous, p); err != nil {
		return err
	}

	return nil
}

// CheckContent проверяет только контент предложенного envelope: известный
// docType, схему полей и бизнес-правила. Ownership и immutable проверки
// требуют предыдущего состояния и выполняются полным Check. Расходящиеся
// записи проходят CheckContent до попадания в арену конфликтов.
func (g *Gate) CheckContent(proposed *models.Envelope) error {
	g.mu.RLock()
	rs, ok := g.rules[proposed.DocType]
	g.mu.RUnlock()

	// 1. docType должен быть известен
	if !ok {
		return api.Reject(api.ReasonUnknownType, "document type %q is not registered", proposed.DocType)
	}

	// Tombstone не несет content полей, schema и бизнес-правила к нему
	// не применяются
	if proposed.Deleted {
		return nil
	}

	// 2. Обязательные поля присутствуют и соответствуют формату
	for _, fr := range rs.Required {
		value, present := proposed.Fields[fr.Name]
		if !present {
			return api.Reject(api.ReasonSchemaViolation, "required field %q is missing", fr.Name)
		}
		if err := fr.check(value); err != nil {
			return api.Reject(api.ReasonSchemaViolation, "%s", err)
		}
	}
	for _, fr := range rs.Optional {
		value, present := proposed.Fields[fr.Name]
		if !present {
			continue
		}
		if err := fr.check(value); err != nil {
			return api.Reject(api.ReasonSchemaViolation, "%s", err)
		}
	}

	// 3. Кросс-полевые бизнес-правила
	for _, rule := range rs.Rules {
		if err := rule.Check(proposed.Fields); err != nil {
			return api.Reject(api.ReasonRuleViolation, "%s: %s", rule.Name, err)
		}
	}

	return nil
}

// checkOwnership применяет ограничения restrictive роли:
// create только с owner == principal, update/delete только своих
// документов, смена owner запрещена.
func (g *Gate) checkOwnership(proposed, previous *models.Envelope, p models.Principal) error {
	if p.IsElevated() {
		return nil
	}

	if previous == nil {
		if proposed.Owner != p.ID {
			return api.Reject(api.ReasonForbidden,
				"restricted principal %q may only create documents it owns", p.ID)
		}
		return nil
	}

	if previous.Owner != p.ID {
		return api.Reject(api.ReasonForbidden,
			"restricted principal %q may not modify document owned by %q", p.ID, previous.Owner)
	}
	if proposed.Owner != previous.Owner {
		return api.Reject(api.ReasonForbidden,
			"restricted principal %q may not change document owner", p.ID)
	}

	return nil
}

// checkImmutable разрешает изменение immutable поля финализированного
// документа только принципалу с elevated полномочиями и только при
// наличии structured correction записи (old, new, reason, approver).
func (g *Gate) checkImmutable(rs RuleSet, proposed, previous *models.Envelope, p models.Principal) error {
	if previous == nil || len(rs.Immutable) == 0 {
		return nil
	}
	if !rs.isFinalized(previous.Fields) {
		return nil
	}

	for _, field := range rs.Immutable {
		oldValue, hadOld := previous.Fields[field]
		newValue, hasNew := proposed.Fields[field]

		if proposed.Deleted {
			// Tombstone отбрасывает content поля целиком, это не
			// точечное изменение immutable поля
			continue
		}
		if hadOld == hasNew && fieldEqual(oldValue, newValue) {
			continue
		}

		if !p.IsElevated() {
			return api.Reject(api.ReasonForbiddenImmutable,
				"field %q is immutable on a finalized document", field)
		}
		if !hasCorrection(proposed, previous, field) {
			return api.Reject(api.ReasonForbiddenImmutable,
				"change of immutable field %q requires a correction entry", field)
		}
	}

	return nil
}

// hasCorrection проверяет, что proposed несет новую correction запись
// для поля: старое и новое значения совпадают с фактическим изменением,
// причина и утвердивший заполнены.
func hasCorrection(proposed, previous *models.Envelope, field string) bool {
	for i := len(previous.Corrections); i < len(proposed.Corrections); i++ {
		c := proposed.Corrections[i]
		if c.Field != field || c.Reason == "" || c.Approver == "" {
			continue
		}
		if fieldEqual(c.OldValue, previous.Fields[field]) &&
			fieldEqual(c.NewValue, proposed.Fields[field]) {
			return true
		}
	}
	return false
}
