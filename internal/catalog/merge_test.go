package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func link(s string) *string { return &s }

func TestMerge_PreservesWhatsappGroupByNumber(t *testing.T) {
	t.Parallel()

	existing := &Discipline{
		ID:   "IME01",
		Name: "Calculo I",
		Classes: []Class{
			{Number: 1, Schedule: "SEG 10-12", Professor: "Ana", Vacancies: 40, WhatsappGroup: link("linkA")},
			{Number: 2, Schedule: "TER 10-12", Professor: "Bia", Vacancies: 30},
		},
	}
	incoming := Discipline{
		ID:   "IME01",
		Name: "Calculo I",
		Classes: []Class{
			{Number: 2, Schedule: "QUA 08-10", Professor: "Bia", Vacancies: 25},
			{Number: 1, Schedule: "SEG 10-12", Professor: "Caio", Vacancies: 38},
		},
	}

	merged := Merge(existing, incoming)

	require.Len(t, merged.Classes, 2)
	assert.Equal(t, 1, merged.Classes[0].Number)
	assert.Equal(t, "Caio", merged.Classes[0].Professor)
	assert.Equal(t, 38, merged.Classes[0].Vacancies)
	require.NotNil(t, merged.Classes[0].WhatsappGroup)
	assert.Equal(t, "linkA", *merged.Classes[0].WhatsappGroup)
	assert.Equal(t, "QUA 08-10", merged.Classes[1].Schedule)
	assert.Nil(t, merged.Classes[1].WhatsappGroup)
}

func TestMerge_IgnoresIncomingWhatsappGroup(t *testing.T) {
	t.Parallel()

	existing := &Discipline{ID: "IME01", Classes: []Class{{Number: 1, WhatsappGroup: link("linkA")}}}
	incoming := Discipline{ID: "IME01", Classes: []Class{{Number: 1, WhatsappGroup: link("bogus")}}}

	merged := Merge(existing, incoming)
	require.NotNil(t, merged.Classes[0].WhatsappGroup)
	assert.Equal(t, "linkA", *merged.Classes[0].WhatsappGroup)

	fresh := Merge(nil, incoming)
	assert.Nil(t, fresh.Classes[0].WhatsappGroup)
}

func TestMerge_DropsRemovedClassWithItsLink(t *testing.T) {
	t.Parallel()

	existing := &Discipline{
		ID: "IME01",
		Classes: []Class{
			{Number: 1, WhatsappGroup: link("linkA")},
			{Number: 3, WhatsappGroup: link("linkC")},
		},
	}
	incoming := Discipline{ID: "IME01", Classes: []Class{{Number: 1}}}

	merged := Merge(existing, incoming)
	require.Len(t, merged.Classes, 1)
	_, ok := merged.Class(3)
	assert.False(t, ok)
}

func TestMerge_DoesNotAliasExisting(t *testing.T) {
	t.Parallel()

	existing := &Discipline{ID: "IME01", Classes: []Class{{Number: 1, WhatsappGroup: link("linkA")}}}
	merged := Merge(existing, Discipline{ID: "IME01", Classes: []Class{{Number: 1}}})
	*merged.Classes[0].WhatsappGroup = "changed"

	assert.Equal(t, "linkA", *existing.Classes[0].WhatsappGroup)
}

func TestMerge_Idempotent(t *testing.T) {
	t.Parallel()

	existing := &Discipline{ID: "IME01", Name: "Calculo", Classes: []Class{{Number: 1, Professor: "Ana", WhatsappGroup: link("linkA")}}}
	incoming := Discipline{ID: "IME01", Name: "Calculo", Classes: []Class{{Number: 1, Professor: "Ana"}}}

	once := Merge(existing, incoming)
	twice := Merge(&once, incoming)

	assert.True(t, Equal(once, twice))
	assert.True(t, Equal(*existing, once))
}

func TestEqual(t *testing.T) {
	t.Parallel()

	base := Discipline{ID: "D1", Name: "A", Classes: []Class{{Number: 1}, {Number: 2, WhatsappGroup: link("x")}}}
	reordered := Discipline{ID: "D1", Name: "A", Classes: []Class{{Number: 2, WhatsappGroup: link("x")}, {Number: 1}}}

	tests := []struct {
		name  string
		other Discipline
		want  bool
	}{
		{name: "same content different order", other: reordered, want: true},
		{name: "name differs", other: Discipline{ID: "D1", Name: "B", Classes: base.Classes}, want: false},
		{name: "missing class", other: Discipline{ID: "D1", Name: "A", Classes: base.Classes[:1]}, want: false},
		{name: "link differs", other: Discipline{ID: "D1", Name: "A", Classes: []Class{{Number: 1}, {Number: 2}}}, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Equal(base, tt.other))
		})
	}
}

func TestDiscipline_Validate(t *testing.T) {
	t.Parallel()

	require.NoError(t, Discipline{ID: "D1", Classes: []Class{{Number: 1}, {Number: 2}}}.Validate())
	require.ErrorContains(t, Discipline{ID: " "}.Validate(), "id is required")
	require.ErrorContains(t, Discipline{ID: "D1", Classes: []Class{{Number: 1}, {Number: 1}}}.Validate(), "duplicate class number 1")
}
