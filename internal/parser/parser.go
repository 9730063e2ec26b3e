// Package parser turns raw portal HTML into typed catalog records.
package parser

import (
	"bytes"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/discipline-sync/internal/catalog"
)

// Selectors are the CSS selectors describing the portal markup.
type Selectors struct {
	ListTable      string `mapstructure:"list_table"`
	ListRow        string `mapstructure:"list_row"`
	ListID         string `mapstructure:"list_id"`
	ListName       string `mapstructure:"list_name"`
	ListLink       string `mapstructure:"list_link"`
	NextPage       string `mapstructure:"next_page"`
	DisciplineName string `mapstructure:"discipline_name"`
	ClassTable     string `mapstructure:"class_table"`
	ClassRow       string `mapstructure:"class_row"`
	ClassNumber    string `mapstructure:"class_number"`
	ClassSchedule  string `mapstructure:"class_schedule"`
	ClassProfessor string `mapstructure:"class_professor"`
	ClassVacancies string `mapstructure:"class_vacancies"`
	// ClassEmpty marks a page that confirms the discipline has no classes.
	ClassEmpty string `mapstructure:"class_empty"`
	LoginForm      string `mapstructure:"login_form"`
}

// DefaultSelectors matches the portal markup as currently deployed.
func DefaultSelectors() Selectors {
	return Selectors{
		ListTable:      "table#disciplinas",
		ListRow:        "tbody tr",
		ListID:         "td.codigo",
		ListName:       "td.nome",
		ListLink:       "a[href]",
		NextPage:       `a[rel="next"]`,
		DisciplineName: "h1.disciplina",
		ClassTable:     "table.turmas",
		ClassRow:       "tbody tr",
		ClassNumber:    "td.turma",
		ClassSchedule:  "td.horario",
		ClassProfessor: "td.professor",
		ClassVacancies: "td.vagas",
		ClassEmpty:     ".sem-turmas",
		LoginForm:      "form#login",
	}
}

// Parser extracts disciplines with a fixed set of selectors.
type Parser struct {
	sel Selectors
}

// New fills unset selectors with defaults.
func New(sel Selectors) *Parser {
	d := DefaultSelectors()
	fill := func(v *string, def string) {
		if strings.TrimSpace(*v) == "" {
			*v = def
		}
	}
	fill(&sel.ListTable, d.ListTable)
	fill(&sel.ListRow, d.ListRow)
	fill(&sel.ListID, d.ListID)
	fill(&sel.ListName, d.ListName)
	fill(&sel.ListLink, d.ListLink)
	fill(&sel.NextPage, d.NextPage)
	fill(&sel.DisciplineName, d.DisciplineName)
	fill(&sel.ClassTable, d.ClassTable)
	fill(&sel.ClassRow, d.ClassRow)
	fill(&sel.ClassNumber, d.ClassNumber)
	fill(&sel.ClassSchedule, d.ClassSchedule)
	fill(&sel.ClassProfessor, d.ClassProfessor)
	fill(&sel.ClassVacancies, d.ClassVacancies)
	fill(&sel.ClassEmpty, d.ClassEmpty)
	fill(&sel.LoginForm, d.LoginForm)
	return &Parser{sel: sel}
}

// Selectors returns the effective selectors.
func (p *Parser) Selectors() Selectors { return p.sel }

// ParseDisciplineList reads one listing page. next is the absolute URL of the
// following page, or empty on the last page.
func (p *Parser) ParseDisciplineList(raw []byte, pageURL *url.URL) ([]catalog.DisciplineRef, string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw))
	if err != nil {
		return nil, "", &ParseError{Reason: "listing is not valid html", Err: err}
	}
	table := doc.Find(p.sel.ListTable).First()
	if table.Length() == 0 {
		return nil, "", &ParseError{Reason: fmt.Sprintf("listing table %q not found", p.sel.ListTable)}
	}

	var (
		refs   []catalog.DisciplineRef
		rowErr error
	)
	table.Find(p.sel.ListRow).EachWithBreak(func(i int, row *goquery.Selection) bool {
		id := text(row.Find(p.sel.ListID))
		if id == "" {
			rowErr = &ParseError{Reason: fmt.Sprintf("listing row %d has no discipline id", i+1)}
			return false
		}
		ref := catalog.DisciplineRef{ID: id, Name: text(row.Find(p.sel.ListName))}
		if href, ok := row.Find(p.sel.ListLink).First().Attr("href"); ok {
			ref.URL = absolute(pageURL, href)
		}
		refs = append(refs, ref)
		return true
	})
	if rowErr != nil {
		return nil, "", rowErr
	}

	next := ""
	if href, ok := doc.Find(p.sel.NextPage).First().Attr("href"); ok && strings.TrimSpace(href) != "" {
		next = absolute(pageURL, href)
	}
	return refs, next, nil
}

// ParseClassPage reads the class page of ref into a validated Discipline.
func (p *Parser) ParseClassPage(ref catalog.DisciplineRef, raw []byte) (catalog.Discipline, error) {
	fail := func(reason string, err error) (catalog.Discipline, error) {
		return catalog.Discipline{}, &ParseError{DisciplineID: ref.ID, Reason: reason, Err: err}
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw))
	if err != nil {
		return fail("class page is not valid html", err)
	}
	name := text(doc.Find(p.sel.DisciplineName).First())
	if name == "" {
		name = ref.Name
	}
	if name == "" {
		return fail(fmt.Sprintf("discipline name %q not found", p.sel.DisciplineName), nil)
	}
	table := doc.Find(p.sel.ClassTable).First()
	if table.Length() == 0 {
		return fail(fmt.Sprintf("class table %q not found", p.sel.ClassTable), nil)
	}

	rows := table.Find(p.sel.ClassRow)
	if rows.Length() == 0 && doc.Find(p.sel.ClassEmpty).Length() == 0 {
		// Zero rows removes every stored class, so it has to be confirmed.
		return fail(fmt.Sprintf("class table has no rows matching %q and no empty marker %q", p.sel.ClassRow, p.sel.ClassEmpty), nil)
	}

	d := catalog.Discipline{ID: ref.ID, Name: name, Classes: []catalog.Class{}}
	var rowErr error
	rows.EachWithBreak(func(i int, row *goquery.Selection) bool {
		number, ok := leadingInt(text(row.Find(p.sel.ClassNumber)))
		if !ok {
			rowErr = fmt.Errorf("class row %d has no class number", i+1)
			return false
		}
		vacancies, err := p.vacancies(row)
		if err != nil {
			rowErr = fmt.Errorf("class row %d: %w", i+1, err)
			return false
		}
		d.Classes = append(d.Classes, catalog.Class{
			Number:    number,
			Schedule:  text(row.Find(p.sel.ClassSchedule)),
			Professor: text(row.Find(p.sel.ClassProfessor)),
			Vacancies: vacancies,
		})
		return true
	})
	if rowErr != nil {
		return fail(rowErr.Error(), nil)
	}
	if err := d.Validate(); err != nil {
		return fail("invalid discipline", err)
	}
	return d, nil
}

// text returns the selection text with whitespace collapsed.
func text(s *goquery.Selection) string {
	return strings.Join(strings.Fields(s.Text()), " ")
}

// vacancies reads the vacancies cell. The portal renders a full class as an
// empty cell or a dash; anything else without digits is drift.
func (p *Parser) vacancies(row *goquery.Selection) (int, error) {
	cell := row.Find(p.sel.ClassVacancies)
	if cell.Length() == 0 {
		return 0, fmt.Errorf("vacancies cell %q not found", p.sel.ClassVacancies)
	}
	raw := text(cell)
	if n, ok := leadingInt(raw); ok {
		return n, nil
	}
	if raw == "" || strings.Trim(raw, "-\u2013\u2014") == "" {
		return 0, nil
	}
	return 0, fmt.Errorf("vacancies %q is not a number", raw)
}

// leadingInt extracts the first run of digits, so "Turma 02" yields 2.
func leadingInt(s string) (int, bool) {
	start := strings.IndexFunc(s, unicode.IsDigit)
	if start < 0 {
		return 0, false
	}
	end := start
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	n, err := strconv.Atoi(s[start:end])
	if err != nil {
		return 0, false
	}
	return n, true
}

func absolute(base *url.URL, href string) string {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return ""
	}
	if base == nil {
		return ref.String()
	}
	return base.ResolveReference(ref).String()
}
