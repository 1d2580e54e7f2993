package resolve

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akarpov/crmsync/internal/revision"
)

func TestFieldChoices(t *testing.T) {
	local := candidate("2-aaaa", t1, map[string]any{
		"name":  "Acme",
		"city":  "Berlin",
		"phone": "+49 30 1234",
	})
	server := candidate("2-bbbb", t2, map[string]any{
		"name": "Acme GmbH",
		"city": "Berlin",
		"vat":  "DE123",
	})

	choices := FieldChoices(local, server)

	// Только расхождения, отсортированы по имени поля
	require.Len(t, choices, 3)
	assert.Equal(t, "name", choices[0].Field)
	assert.Equal(t, "Acme", choices[0].Local)
	assert.Equal(t, "Acme GmbH", choices[0].Server)
	assert.Equal(t, "phone", choices[1].Field)
	assert.Nil(t, choices[1].Server)
	assert.Equal(t, "vat", choices[2].Field)
	assert.Nil(t, choices[2].Local)
}

func TestFieldChoices_NestedValues(t *testing.T) {
	local := candidate("2-aaaa", t1, map[string]any{
		"contact": map[string]any{"email": "a@acme.test"},
	})
	server := candidate("2-bbbb", t2, map[string]any{
		"contact": map[string]any{"email": "a@acme.test"},
	})

	assert.Empty(t, FieldChoices(local, server), "deep-equal values are not conflicts")
}

// Сценарий из протокола: локальный {name: Acme} против серверного
// {name: Acme GmbH}, пользователь выбирает серверное значение.
func TestApplyChoices_ServerPick(t *testing.T) {
	local := candidate("1-aaaa", t1, map[string]any{"name": "Acme", "owner_note": "call back"})
	server := candidate("1-bbbb", t2, map[string]any{"name": "Acme GmbH", "owner_note": "call back"})

	choices := FieldChoices(local, server)
	require.Len(t, choices, 1)

	res, err := ApplyChoices(local, server, AllServer(choices))
	require.NoError(t, err)

	assert.Equal(t, "Acme GmbH", res.Merged.Fields["name"])
	assert.Equal(t, int64(2), revision.Generation(res.Merged.Rev), "new revision supersedes both parents")
	assert.Contains(t, res.Merged.Conflicts, local.Rev, "local snapshot stays retained")

	// Оба вытесненных снимка остаются доступными
	require.Len(t, res.Superseded, 2)
	assert.Equal(t, "Acme", res.Superseded[0].Fields["name"])
	assert.Equal(t, "Acme GmbH", res.Superseded[1].Fields["name"])
}

func TestApplyChoices_PerFieldOverride(t *testing.T) {
	local := candidate("2-aaaa", t2, map[string]any{"name": "Acme", "city": "Berlin"})
	server := candidate("2-bbbb", t1, map[string]any{"name": "Acme GmbH", "city": "Hamburg"})

	res, err := ApplyChoices(local, server, Picks{"name": PickLocal})
	require.NoError(t, err)

	assert.Equal(t, "Acme", res.Merged.Fields["name"], "explicit local pick")
	assert.Equal(t, "Hamburg", res.Merged.Fields["city"], "default selection is the server value")
	assert.Equal(t, int64(3), res.Merged.Audit.Version)
	assert.Equal(t, local.Audit.ModifiedAt, res.Merged.Audit.ModifiedAt, "later candidate provides audit")
}

func TestApplyChoices_AllLocal(t *testing.T) {
	local := candidate("2-aaaa", t1, map[string]any{"name": "Acme", "city": "Berlin"})
	server := candidate("2-bbbb", t2, map[string]any{"name": "Acme GmbH", "vat": "DE123"})

	choices := FieldChoices(local, server)
	res, err := ApplyChoices(local, server, AllLocal(choices))
	require.NoError(t, err)

	assert.Equal(t, "Acme", res.Merged.Fields["name"])
	assert.Equal(t, "Berlin", res.Merged.Fields["city"])
	_, hasVAT := res.Merged.Fields["vat"]
	assert.False(t, hasVAT, "field absent locally is removed when user picks local")
}

func TestApplyChoices_Deterministic(t *testing.T) {
	local := candidate("2-aaaa", t1, map[string]any{"name": "Acme"})
	server := candidate("2-bbbb", t2, map[string]any{"name": "Acme GmbH"})
	picks := Picks{"name": PickServer}

	first, err := ApplyChoices(local, server, picks)
	require.NoError(t, err)
	second, err := ApplyChoices(local.Clone(), server.Clone(), picks)
	require.NoError(t, err)

	assert.Equal(t, first.Merged, second.Merged)
}

func TestApplyChoices_ConfirmServerDelete(t *testing.T) {
	local := candidate("2-aaaa", t1, map[string]any{"name": "Acme"})
	server := candidate("3-bbbb", t2, map[string]any{})
	server.Deleted = true

	res, err := ApplyChoices(local, server, Picks{})
	require.NoError(t, err)

	assert.True(t, res.Merged.Deleted)
	assert.Empty(t, res.Merged.Fields)
	assert.Equal(t, int64(4), revision.Generation(res.Merged.Rev))
}

func TestApplyChoices_RejectDeleteKeepLocal(t *testing.T) {
	local := candidate("2-aaaa", t1, map[string]any{"name": "Acme"})
	server := candidate("3-bbbb", t2, map[string]any{})
	server.Deleted = true

	choices := FieldChoices(local, server)
	res, err := ApplyChoices(local, server, AllLocal(choices))
	require.NoError(t, err)

	assert.False(t, res.Merged.Deleted, "picking local fields over a tombstone keeps the document")
	assert.Equal(t, "Acme", res.Merged.Fields["name"])
}
