package parser

import (
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/discipline-sync/internal/catalog"
)

func readFixture(t *testing.T, name string) []byte {
	t.Helper()
	raw, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(t, err)
	return raw
}

func TestParseDisciplineList(t *testing.T) {
	t.Parallel()

	page, err := url.Parse("https://portal.example.edu/disciplinas/")
	require.NoError(t, err)

	refs, next, err := New(Selectors{}).ParseDisciplineList(readFixture(t, "listing_page1.html"), page)
	require.NoError(t, err)

	require.Len(t, refs, 2)
	assert.Equal(t, catalog.DisciplineRef{
		ID:   "IME01",
		Name: "Cálculo Diferencial I",
		URL:  "https://portal.example.edu/disciplinas/IME01/turmas",
	}, refs[0])
	assert.Equal(t, "IME02", refs[1].ID)
	assert.Equal(t, "https://portal.example.edu/disciplinas/IME02/turmas", refs[1].URL)
	assert.Equal(t, "https://portal.example.edu/disciplinas/?page=2", next)
}

func TestParseDisciplineList_LastPageAndEmpty(t *testing.T) {
	t.Parallel()

	raw := []byte(`<table id="disciplinas"><tbody></tbody></table>`)
	refs, next, err := New(Selectors{}).ParseDisciplineList(raw, nil)
	require.NoError(t, err)
	assert.Empty(t, refs)
	assert.Empty(t, next)
}

func TestParseDisciplineList_SchemaDrift(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
		want string
	}{
		{name: "table renamed", raw: `<table id="courses"><tbody><tr><td>X</td></tr></tbody></table>`, want: "listing table"},
		{name: "row without id", raw: `<table id="disciplinas"><tbody><tr><td class="nome">X</td></tr></tbody></table>`, want: "row 1 has no discipline id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, _, err := New(Selectors{}).ParseDisciplineList([]byte(tt.raw), nil)
			var parseErr *ParseError
			require.ErrorAs(t, err, &parseErr)
			assert.Empty(t, parseErr.DisciplineID)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseClassPage(t *testing.T) {
	t.Parallel()

	ref := catalog.DisciplineRef{ID: "IME01", Name: "listing name"}
	d, err := New(Selectors{}).ParseClassPage(ref, readFixture(t, "class_page.html"))
	require.NoError(t, err)

	assert.Equal(t, "IME01", d.ID)
	assert.Equal(t, "Cálculo Diferencial I", d.Name)
	require.Len(t, d.Classes, 2)

	second, ok := d.Class(2)
	require.True(t, ok)
	assert.Equal(t, "TER 10:00-12:00 QUI 10:00-12:00", second.Schedule)
	assert.Equal(t, "Bia Souza", second.Professor)
	assert.Equal(t, 25, second.Vacancies)
	assert.Nil(t, second.WhatsappGroup)

	first, ok := d.Class(1)
	require.True(t, ok)
	assert.Equal(t, 0, first.Vacancies)
}

func TestParseClassPage_FallsBackToListingName(t *testing.T) {
	t.Parallel()

	raw := []byte(`<table class="turmas"><tbody><tr><td class="turma">1</td><td class="vagas">5</td></tr></tbody></table>`)
	d, err := New(Selectors{}).ParseClassPage(catalog.DisciplineRef{ID: "IME05", Name: "Geometria"}, raw)
	require.NoError(t, err)
	assert.Equal(t, "Geometria", d.Name)
	assert.Len(t, d.Classes, 1)
}

func TestParseClassPage_NoClassesIsValid(t *testing.T) {
	t.Parallel()

	raw := []byte(`<h1 class="disciplina">Topologia</h1><table class="turmas"><tbody></tbody></table>` +
		`<p class="sem-turmas">Nenhuma turma ofertada neste semestre.</p>`)
	d, err := New(Selectors{}).ParseClassPage(catalog.DisciplineRef{ID: "IME09"}, raw)
	require.NoError(t, err)
	assert.NotNil(t, d.Classes)
	assert.Empty(t, d.Classes)
}

func TestParseClassPage_VacanciesPlaceholders(t *testing.T) {
	t.Parallel()

	tests := map[string]int{
		`<td class="vagas">12 vagas</td>`: 12,
		`<td class="vagas">-</td>`:        0,
		`<td class="vagas"> </td>`:        0,
	}
	for cell, want := range tests {
		raw := `<h1 class="disciplina">X</h1><table class="turmas"><tbody><tr><td class="turma">1</td>` + cell + `</tr></tbody></table>`
		d, err := New(Selectors{}).ParseClassPage(catalog.DisciplineRef{ID: "IME04"}, []byte(raw))
		require.NoError(t, err, cell)
		require.Len(t, d.Classes, 1, cell)
		assert.Equal(t, want, d.Classes[0].Vacancies, cell)
	}
}

func TestParseClassPage_SchemaDrift(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
		want string
	}{
		{name: "missing table", raw: `<h1 class="disciplina">X</h1><div>maintenance</div>`, want: "class table"},
		{name: "missing name", raw: `<table class="turmas"></table>`, want: "discipline name"},
		{name: "row without number", raw: `<h1 class="disciplina">X</h1><table class="turmas"><tbody><tr><td class="turma">A</td></tr></tbody></table>`, want: "no class number"},
		{
			name: "duplicate numbers",
			raw:  `<h1 class="disciplina">X</h1><table class="turmas"><tbody><tr><td class="turma">1</td><td class="vagas">3</td></tr><tr><td class="turma">01</td><td class="vagas">4</td></tr></tbody></table>`,
			want: "duplicate class number 1",
		},
		{
			name: "rows drifted away",
			raw:  `<h1 class="disciplina">X</h1><table class="turmas"><thead><tr><th>Turma</th><th>Vagas</th></tr></thead></table>`,
			want: "no rows matching",
		},
		{
			name: "vacancies not numeric",
			raw:  `<h1 class="disciplina">X</h1><table class="turmas"><tbody><tr><td class="turma">1</td><td class="vagas">consultar</td></tr></tbody></table>`,
			want: `vacancies "consultar" is not a number`,
		},
		{
			name: "vacancies cell missing",
			raw:  `<h1 class="disciplina">X</h1><table class="turmas"><tbody><tr><td class="turma">1</td><td class="vaga">3</td></tr></tbody></table>`,
			want: "vacancies cell",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := New(Selectors{}).ParseClassPage(catalog.DisciplineRef{ID: "IME02"}, []byte(tt.raw))
			var parseErr *ParseError
			require.ErrorAs(t, err, &parseErr)
			assert.Equal(t, "IME02", parseErr.DisciplineID)
			assert.Contains(t, err.Error(), tt.want)
			assert.Equal(t, catalog.FailureParse, catalog.KindOf(err))
		})
	}
}

func TestNew_KeepsOverrides(t *testing.T) {
	t.Parallel()

	p := New(Selectors{ClassRow: "tr.offer"})
	assert.Equal(t, "tr.offer", p.Selectors().ClassRow)
	assert.Equal(t, DefaultSelectors().ClassTable, p.Selectors().ClassTable)
}

func TestLeadingInt(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		want int
		ok   bool
	}{
		"Turma 02": {2, true},
		"40":       {40, true},
		"-":        {0, false},
		"":         {0, false},
		"12/40":    {12, true},
	}
	for in, tt := range tests {
		got, ok := leadingInt(in)
		assert.Equal(t, tt.ok, ok, in)
		assert.Equal(t, tt.want, got, in)
	}
}
