package validation

import (
	"regexp"

	"github.com/akarpov/crmsync/internal/models"
)

// Форматы полей встроенных типов документов
var (
	// EmailPattern контактный формат для customer/project записей
	EmailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)
	// InvoiceNumberPattern идентификаторный формат номера счета
	InvoiceNumberPattern = regexp.MustCompile(`^INV-[0-9]{4,}$`)
	// ProjectCodePattern идентификаторный формат кода проекта
	ProjectCodePattern = regexp.MustCompile(`^PRJ-[0-9]+$`)
)

// NewDefaultGate создает gate со встроенными наборами правил.
// Новые типы сущностей добавляются через Register, ядро gate не меняется.
func NewDefaultGate() *Gate {
	g := NewGate()

	g.Register(models.DocTypeCustomer, RuleSet{
		Required: []FieldRule{
			{Name: "name", MinLen: 1, MaxLen: 200},
		},
		Optional: []FieldRule{
			{Name: "email", MaxLen: 254, Pattern: EmailPattern, Hint: "email address"},
			{Name: "city", MaxLen: 100},
		},
	})

	g.Register(models.DocTypeProject, RuleSet{
		Required: []FieldRule{
			{Name: "name", MinLen: 1, MaxLen: 120},
		},
		Optional: []FieldRule{
			{Name: "code", Pattern: ProjectCodePattern, Hint: "PRJ-<number>"},
		},
	})

	g.Register(models.DocTypeInvoice, RuleSet{
		Required: []FieldRule{
			{Name: "number", MinLen: 1, MaxLen: 32, Pattern: InvoiceNumberPattern, Hint: "INV-<number>"},
			{Name: "customer_id", MinLen: 1, MaxLen: 64},
		},
		Rules: []BusinessRule{
			PositiveNumberRule("amount"),
		},
		// Номер и сумма финализированного счета правятся только через
		// correction запись с elevated полномочиями
		Immutable: []string{"number", "amount"},
		Finalized: func(fields map[string]any) bool {
			status, _ := fields["status"].(string)
			return status == "finalized"
		},
	})

	g.Register(models.DocTypeApproval, RuleSet{
		Required: []FieldRule{
			{Name: "grantee", MinLen: 1, MaxLen: 64},
		},
		Rules: []BusinessRule{
			// Право утверждения требует положительного числового лимита
			PositiveNumberRule("limit"),
		},
	})

	return g
}
