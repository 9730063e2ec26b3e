package catalog

// Merge folds a freshly scraped discipline into the stored one.
//
// Portal fields overwrite stored fields class by class, matched on Number.
// WhatsappGroup is never taken from the portal: it is carried over from the
// stored class with the same number. A stored class whose number is absent
// from incoming is dropped together with its WhatsappGroup. UpdatedAt is left
// to the caller.
func Merge(existing *Discipline, incoming Discipline) Discipline {
	merged := Discipline{
		ID:        incoming.ID,
		Name:      incoming.Name,
		UpdatedAt: incoming.UpdatedAt,
		Classes:   make([]Class, 0, len(incoming.Classes)),
	}

	links := make(map[int]*string)
	if existing != nil {
		for _, c := range existing.Classes {
			if c.WhatsappGroup != nil {
				link := *c.WhatsappGroup
				links[c.Number] = &link
			}
		}
	}

	for _, c := range incoming.Classes {
		next := c.clone()
		next.WhatsappGroup = links[c.Number]
		merged.Classes = append(merged.Classes, next)
	}
	sortClasses(merged.Classes)
	return merged
}

// Equal reports whether two disciplines carry the same catalog content,
// ignoring UpdatedAt and class order.
func Equal(a, b Discipline) bool {
	if a.ID != b.ID || a.Name != b.Name || len(a.Classes) != len(b.Classes) {
		return false
	}
	for _, ca := range a.Classes {
		cb, ok := b.Class(ca.Number)
		if !ok {
			return false
		}
		if ca.Schedule != cb.Schedule || ca.Professor != cb.Professor || ca.Vacancies != cb.Vacancies {
			return false
		}
		if !sameLink(ca.WhatsappGroup, cb.WhatsappGroup) {
			return false
		}
	}
	return true
}

func sameLink(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
