// Package resolve превращает обнаруженный конфликт ревизий в один
// сошедшийся документ: автоматически (last-write-wins) или через
// пополевой выбор пользователя (manual merge).
//
// Требование детерминизма: для одной и той же пары кандидатов и одной
// стратегии результат байтово идентичен на любой реплике. Поэтому все
// поля результата выводятся только из кандидатов (и выбора пользователя
// для manual), без обращения к часам или состоянию реплики.
package resolve

import (
	"fmt"
	"sort"

	"github.com/akarpov/crmsync/internal/models"
	"github.com/akarpov/crmsync/internal/revision"
)

// Strategy стратегия разрешения конфликта
type Strategy string

const (
	// StrategyLastWriteWins побеждает кандидат с поздним audit.modified_at
	StrategyLastWriteWins Strategy = "lww"
	// StrategyManual пополевой выбор пользователя, документ ждет решения
	StrategyManual Strategy = "manual"
)

// Config явная, индексированная по docType конфигурация стратегий.
// Единая точка выбора стратегии вместо ad hoc решения на каждом call site.
type Config struct {
	PerType map[string]Strategy
	Default Strategy
}

// DefaultConfig возвращает конфигурацию по умолчанию: типы, где тихая
// потеря данных неприемлема, разрешаются вручную, остальные — LWW.
func DefaultConfig() Config {
	return Config{
		Default: StrategyLastWriteWins,
		PerType: map[string]Strategy{
			models.DocTypeCustomer: StrategyManual,
			models.DocTypeInvoice:  StrategyManual,
		},
	}
}

// For возвращает стратегию для типа документа
func (c Config) For(docType string) Strategy {
	if s, ok := c.PerType[docType]; ok {
		return s
	}
	if c.Default != "" {
		return c.Default
	}
	return StrategyLastWriteWins
}

// Resolution результат разрешения конфликта.
// Merged возвращается в очередь Sync Engine как обычный update.
// Superseded — полные снимки проигравших/вытесненных версий; вызывающий
// обязан сохранить их в арену снимков, они никогда не отбрасываются.
type Resolution struct {
	Merged     *models.Envelope
	Superseded []*models.Envelope
}

// LWW разрешает конфликт автоматически: побеждает кандидат с поздним
// audit.modified_at; при равных временах tie-break по revision token,
// чтобы обе реплики выбрали одного победителя. Проигравший полный снимок
// сохраняется в conflicts, данные не теряются.
func LWW(local, server *models.Envelope) (*Resolution, error) {
	if local.ID != server.ID {
		return nil, fmt.Errorf("candidates have different ids: %q vs %q", local.ID, server.ID)
	}

	winner, loser := server, local
	if local.Audit.ModifiedAt.After(server.Audit.ModifiedAt) {
		winner, loser = local, server
	} else if local.Audit.ModifiedAt.Equal(server.Audit.ModifiedAt) &&
		revision.Compare(local.Rev, server.Rev) > 0 {
		winner, loser = local, server
	}

	merged := winner.Clone()
	merged.BaseRev = server.Rev
	merged.Conflicts = mergeConflictRefs(local, server, loser.Rev)
	merged.Audit.Version = maxVersion(local, server) + 1

	rev, err := supersedingRev(local, server, merged.Fields, merged.Deleted)
	if err != nil {
		return nil, err
	}
	merged.Rev = rev

	return &Resolution{
		Merged:     merged,
		Superseded: []*models.Envelope{loser.Clone()},
	}, nil
}

// mergeConflictRefs объединяет conflict ссылки обоих кандидатов и
// добавляет вытесненные ревизии; порядок детерминирован (revision.Compare).
func mergeConflictRefs(local, server *models.Envelope, superseded ...string) []string {
	seen := make(map[string]bool)
	refs := make([]string, 0, len(local.Conflicts)+len(server.Conflicts)+len(superseded))

	add := func(rev string) {
		if rev == "" || seen[rev] {
			return
		}
		seen[rev] = true
		refs = append(refs, rev)
	}

	for _, rev := range local.Conflicts {
		add(rev)
	}
	for _, rev := range server.Conflicts {
		add(rev)
	}
	for _, rev := range superseded {
		add(rev)
	}

	sort.Slice(refs, func(i, j int) bool {
		return revision.Compare(refs[i], refs[j]) < 0
	})

	return refs
}

// supersedingRev вычисляет ревизию, превосходящую обоих родителей:
// поколение на единицу выше максимального родительского.
func supersedingRev(local, server *models.Envelope, fields map[string]any, deleted bool) (string, error) {
	gen := revision.Generation(local.Rev)
	if g := revision.Generation(server.Rev); g > gen {
		gen = g
	}

	rev, err := revision.New(gen+1, fields, deleted)
	if err != nil {
		return "", fmt.Errorf("failed to compute superseding revision: %w", err)
	}
	return rev, nil
}

func maxVersion(local, server *models.Envelope) int64 {
	if local.Audit.Version > server.Audit.Version {
		return local.Audit.Version
	}
	return server.Audit.Version
}
