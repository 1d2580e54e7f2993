package resolve

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/akarpov/crmsync/internal/models"
)

// Pick выбор пользователя для одного конфликтующего поля
type Pick string

const (
	// PickLocal взять значение локальной версии
	PickLocal Pick = "local"
	// PickServer взять значение серверной версии
	PickServer Pick = "server"
)

// FieldChoice одно расхождение между кандидатами: оба значения
// предъявляются шагу разрешения. Выбор по умолчанию — серверное значение.
type FieldChoice struct {
	Local  any    `json:"local"`
	Server any    `json:"server"`
	Field  string `json:"field"`
}

// FieldChoices строит пополевой diff кандидатов: для каждого поля,
// присутствующего хотя бы в одном кандидате, неравные значения попадают
// в список. Поля tombstone кандидата считаются отсутствующими.
// Порядок детерминирован (по имени поля).
func FieldChoices(local, server *models.Envelope) []FieldChoice {
	names := make(map[string]bool)
	for name := range local.Fields {
		names[name] = true
	}
	for name := range server.Fields {
		names[name] = true
	}

	choices := make([]FieldChoice, 0, len(names))
	for name := range names {
		lv, sv := local.Fields[name], server.Fields[name]
		if fieldEqual(lv, sv) {
			continue
		}
		choices = append(choices, FieldChoice{Field: name, Local: lv, Server: sv})
	}

	sort.Slice(choices, func(i, j int) bool {
		return choices[i].Field < choices[j].Field
	})

	return choices
}

// Picks набор решений пользователя по полям. Поля без явного решения
// получают серверное значение.
type Picks map[string]Pick

// AllLocal строит выбор "взять все локальное" для заданных расхождений
func AllLocal(choices []FieldChoice) Picks {
	picks := make(Picks, len(choices))
	for _, c := range choices {
		picks[c.Field] = PickLocal
	}
	return picks
}

// AllServer строит выбор "взять все серверное"
func AllServer(choices []FieldChoice) Picks {
	picks := make(Picks, len(choices))
	for _, c := range choices {
		picks[c.Field] = PickServer
	}
	return picks
}

// ApplyChoices строит сошедшийся документ из кандидатов и решений
// пользователя. Результат получает ревизию, превосходящую обоих
// родителей; разрешенные conflict ссылки очищаются, но вытесненные
// полные снимки обоих родителей остаются доступными через арену.
//
// Особый случай tombstone: если один кандидат удален и все решения
// отдают ему предпочтение, результат — подтвержденное удаление.
func ApplyChoices(local, server *models.Envelope, picks Picks) (*Resolution, error) {
	if local.ID != server.ID {
		return nil, fmt.Errorf("candidates have different ids: %q vs %q", local.ID, server.ID)
	}

	choices := FieldChoices(local, server)

	localPicks := 0
	for _, c := range choices {
		if picks[c.Field] == PickLocal {
			localPicks++
		}
	}

	merged := server.Clone()
	merged.BaseRev = server.Rev
	merged.Deleted = false

	// Подтверждение удаления: все решения в пользу tombstone стороны
	if server.Deleted && localPicks == 0 {
		merged = server.Clone()
		merged.BaseRev = server.Rev
		merged.Fields = map[string]any{}
		merged.Deleted = true
	} else if local.Deleted && localPicks == len(choices) && len(choices) > 0 {
		merged = local.Clone()
		merged.BaseRev = server.Rev
		merged.Fields = map[string]any{}
		merged.Deleted = true
	} else {
		if merged.Fields == nil {
			merged.Fields = make(map[string]any, len(choices))
		}
		for _, c := range choices {
			if picks[c.Field] == PickLocal {
				if c.Local == nil {
					delete(merged.Fields, c.Field)
					continue
				}
				merged.Fields[c.Field] = c.Local
			}
		}
	}

	// Audit выводится только из кандидатов: поздний кандидат дает
	// modified_by/modified_at, иначе результат разошелся бы по репликам
	later := server
	if local.Audit.ModifiedAt.After(server.Audit.ModifiedAt) {
		later = local
	}
	merged.Audit.ModifiedBy = later.Audit.ModifiedBy
	merged.Audit.ModifiedAt = later.Audit.ModifiedAt
	merged.Audit.Version = maxVersion(local, server) + 1

	merged.Conflicts = mergeConflictRefs(local, server, local.Rev, server.Rev)

	rev, err := supersedingRev(local, server, merged.Fields, merged.Deleted)
	if err != nil {
		return nil, err
	}
	merged.Rev = rev

	return &Resolution{
		Merged:     merged,
		Superseded: []*models.Envelope{local.Clone(), server.Clone()},
	}, nil
}

// fieldEqual сравнивает значения полей через JSON сериализацию:
// значения приходят из JSON документов, сериализация канонична
// (encoding/json сортирует ключи map).
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
