package models

import "github.com/akarpov/crmsync/pkg/api"

// ToAPI конвертирует внутренний envelope в wire формат.
// Клиентское состояние очереди (Status, QueuedForSync) не уходит на провод.
func (e *Envelope) ToAPI() api.Envelope {
	return api.Envelope{
		ID:      e.ID,
		Rev:     e.Rev,
		BaseRev: e.BaseRev,
		DocType: e.DocType,
		Owner:   e.Owner,
		Fields:  cloneFields(e.Fields),
		Audit: api.Audit{
			CreatedBy:  e.Audit.CreatedBy,
			CreatedAt:  e.Audit.CreatedAt,
			ModifiedBy: e.Audit.ModifiedBy,
			ModifiedAt: e.Audit.ModifiedAt,
			Version:    e.Audit.Version,
		},
		Conflicts:   append([]string(nil), e.Conflicts...),
		Corrections: correctionsToAPI(e.Corrections),
		Deleted:     e.Deleted,
	}
}

// FromAPI конвертирует wire envelope во внутреннюю форму
func FromAPI(w api.Envelope) *Envelope {
	return &Envelope{
		ID:      w.ID,
		Rev:     w.Rev,
		BaseRev: w.BaseRev,
		DocType: w.DocType,
		Owner:   w.Owner,
		Fields:  w.Fields,
		Audit: Audit{
			CreatedBy:  w.Audit.CreatedBy,
			CreatedAt:  w.Audit.CreatedAt,
			ModifiedBy: w.Audit.ModifiedBy,
			ModifiedAt: w.Audit.ModifiedAt,
			Version:    w.Audit.Version,
		},
		Conflicts:   append([]string(nil), w.Conflicts...),
		Corrections: correctionsFromAPI(w.Corrections),
		Deleted:     w.Deleted,
	}
}

func correctionsToAPI(cs []Correction) []api.Correction {
	if len(cs) == 0 {
		return nil
	}
	out := make([]api.Correction, 0, len(cs))
	for _, c := range cs {
		out = append(out, api.Correction{
			Field:     c.Field,
			OldValue:  c.OldValue,
			NewValue:  c.NewValue,
			Reason:    c.Reason,
			Approver:  c.Approver,
			ChangedAt: c.ChangedAt,
		})
	}
	return out
}

func correctionsFromAPI(cs []api.Correction) []Correction {
	if len(cs) == 0 {
		return nil
	}
	out := make([]Correction, 0, len(cs))
	for _, c := range cs {
		out = append(out, Correction{
			Field:     c.Field,
			OldValue:  c.OldValue,
			NewValue:  c.NewValue,
			Reason:    c.Reason,
			Approver:  c.Approver,
			ChangedAt: c.ChangedAt,
		})
	}
	return out
}
