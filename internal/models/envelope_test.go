package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEnvelope() *Envelope {
	return &Envelope{
		ID:      "cust-1",
		Rev:     "1-abc",
		DocType: DocTypeCustomer,
		Owner:   "u1",
		Fields: map[string]any{
			"name":    "Acme",
			"contact": map[string]any{"email": "info@acme.test"},
			"tags":    []any{"vip"},
		},
		Audit: Audit{
			CreatedBy:  "u1",
			CreatedAt:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			ModifiedBy: "u1",
			ModifiedAt: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
			Version:    2,
		},
		Conflicts: []string{"1-old"},
		Status:    StatusQueued,
	}
}

func TestEnvelope_Clone(t *testing.T) {
	original := testEnvelope()
	clone := original.Clone()

	require.Equal(t, original, clone)

	// Мутации клона не должны затрагивать оригинал
	clone.Fields["name"] = "Other"
	clone.Fields["contact"].(map[string]any)["email"] = "x@y.test"
	clone.Conflicts[0] = "2-new"

	assert.Equal(t, "Acme", original.Fields["name"])
	assert.Equal(t, "info@acme.test", original.Fields["contact"].(map[string]any)["email"])
	assert.Equal(t, "1-old", original.Conflicts[0])
}

func TestEnvelope_Tombstone(t *testing.T) {
	original := testEnvelope()
	at := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

	tomb := original.Tombstone("u2", at)

	assert.True(t, tomb.Deleted)
	assert.Empty(t, tomb.Fields, "tombstone drops content fields")
	assert.Equal(t, original.ID, tomb.ID)
	assert.Equal(t, original.DocType, tomb.DocType)
	assert.Equal(t, original.Rev, tomb.Rev)
	assert.Equal(t, original.Audit.CreatedBy, tomb.Audit.CreatedBy)
	assert.Equal(t, "u2", tomb.Audit.ModifiedBy)
	assert.Equal(t, at, tomb.Audit.ModifiedAt)

	// Оригинал не тронут
	assert.False(t, original.Deleted)
	assert.NotEmpty(t, original.Fields)
}

func TestEnvelope_ToAPI_RoundTrip(t *testing.T) {
	original := testEnvelope()

	wire := original.ToAPI()
	back := FromAPI(wire)

	// Клиентское состояние очереди не переживает wire конвертацию
	assert.Empty(t, back.Status)
	assert.False(t, back.QueuedForSync)

	back.Status = original.Status
	assert.Equal(t, original, back)
}

func TestPrincipal_IsElevated(t *testing.T) {
	assert.False(t, Principal{ID: "u1", Role: RoleRestricted}.IsElevated())
	assert.True(t, Principal{ID: "admin", Role: RoleElevated}.IsElevated())
}
