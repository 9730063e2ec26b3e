package catalog

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// DisciplineRef is one entry of the portal's discipline listing.
type DisciplineRef struct {
	ID   string `json:"discipline_id"`
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Discipline is the catalog record keyed by ID.
type Discipline struct {
	ID        string    `json:"discipline_id"`
	Name      string    `json:"name"`
	Classes   []Class   `json:"classes"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Class is one offering of a discipline. Number is unique within the discipline.
type Class struct {
	Number    int    `json:"number"`
	Schedule  string `json:"schedule"`
	Professor string `json:"professor"`
	Vacancies int    `json:"vacancies"`
	// WhatsappGroup is curated through the catalog API and never written by a sync.
	WhatsappGroup *string `json:"whatsapp_group,omitempty"`
}

// WhatsappUpdate is the only external write into a synced class.
type WhatsappUpdate struct {
	DisciplineID  string  `json:"discipline_id"`
	ClassNumber   int     `json:"class_number"`
	WhatsappGroup *string `json:"whatsapp_group"`
}

// Validate checks the catalog invariants for a single discipline.
func (d Discipline) Validate() error {
	if strings.TrimSpace(d.ID) == "" {
		return errors.New("discipline id is required")
	}
	seen := make(map[int]struct{}, len(d.Classes))
	for _, c := range d.Classes {
		if _, dup := seen[c.Number]; dup {
			return fmt.Errorf("discipline %s: duplicate class number %d", d.ID, c.Number)
		}
		seen[c.Number] = struct{}{}
	}
	return nil
}

// Class returns the class with the given number.
func (d Discipline) Class(number int) (Class, bool) {
	for _, c := range d.Classes {
		if c.Number == number {
			return c, true
		}
	}
	return Class{}, false
}

// Clone returns a deep copy so callers can mutate freely.
func (d Discipline) Clone() Discipline {
	out := d
	if d.Classes != nil {
		out.Classes = make([]Class, len(d.Classes))
		for i, c := range d.Classes {
			out.Classes[i] = c.clone()
		}
	}
	return out
}

func (c Class) clone() Class {
	if c.WhatsappGroup != nil {
		link := *c.WhatsappGroup
		c.WhatsappGroup = &link
	}
	return c
}

func sortClasses(classes []Class) {
	sort.Slice(classes, func(i, j int) bool { return classes[i].Number < classes[j].Number })
}
