package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/discipline-sync/internal/catalog"
)

// CatalogStore implements catalog.Store over the disciplines and classes tables.
type CatalogStore struct {
	pool Pool
}

// NewCatalogStore wraps an existing pool. Pass a pgxmock pool in tests.
func NewCatalogStore(pool Pool) (*CatalogStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &CatalogStore{pool: pool}, nil
}

// querier is satisfied by both Pool and pgx.Tx.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const (
	selectDisciplines   = `SELECT discipline_id, name, updated_at FROM disciplines ORDER BY discipline_id`
	selectDiscipline    = `SELECT discipline_id, name, updated_at FROM disciplines WHERE discipline_id = $1`
	lockDiscipline      = `SELECT discipline_id, name, updated_at FROM disciplines WHERE discipline_id = $1 FOR UPDATE`
	selectAllClasses    = `SELECT discipline_id, number, schedule, professor, vacancies, whatsapp_group FROM classes ORDER BY discipline_id, number`
	selectClasses       = `SELECT discipline_id, number, schedule, professor, vacancies, whatsapp_group FROM classes WHERE discipline_id = $1 ORDER BY number`
	upsertDiscipline    = `INSERT INTO disciplines (discipline_id, name, updated_at) VALUES ($1, $2, $3) ON CONFLICT (discipline_id) DO UPDATE SET name = EXCLUDED.name, updated_at = EXCLUDED.updated_at`
	deleteClasses       = `DELETE FROM classes WHERE discipline_id = $1`
	insertClass         = `INSERT INTO classes (discipline_id, number, schedule, professor, vacancies, whatsapp_group) VALUES ($1, $2, $3, $4, $5, $6)`
	deleteDiscipline    = `DELETE FROM disciplines WHERE discipline_id = $1`
	updateWhatsappGroup = `UPDATE classes SET whatsapp_group = $1 WHERE discipline_id = $2 AND number = $3`
	lockDisciplineRow   = `SELECT 1 FROM disciplines WHERE discipline_id = $1 FOR UPDATE`
)

// GetAllDisciplines loads the whole catalog with two queries.
func (s *CatalogStore) GetAllDisciplines(ctx context.Context) ([]catalog.Discipline, error) {
	rows, err := s.pool.Query(ctx, selectDisciplines)
	if err != nil {
		return nil, fmt.Errorf("list disciplines: %w", err)
	}
	var (
		out   []catalog.Discipline
		index = make(map[string]int)
	)
	for rows.Next() {
		var d catalog.Discipline
		if err := rows.Scan(&d.ID, &d.Name, &d.UpdatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan discipline row: %w", err)
		}
		index[d.ID] = len(out)
		out = append(out, d)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list disciplines: %w", err)
	}

	classes, err := scanClasses(ctx, s.pool, selectAllClasses)
	if err != nil {
		return nil, err
	}
	for id, cs := range classes {
		if i, ok := index[id]; ok {
			out[i].Classes = cs
		}
	}
	return out, nil
}

// GetDisciplineByID returns catalog.ErrNotFound when the id is unknown.
func (s *CatalogStore) GetDisciplineByID(ctx context.Context, id string) (catalog.Discipline, error) {
	d, err := loadDiscipline(ctx, s.pool, selectDiscipline, id)
	if err != nil {
		return catalog.Discipline{}, err
	}
	if d == nil {
		return catalog.Discipline{}, catalog.ErrNotFound
	}
	return *d, nil
}

// UpsertDiscipline replaces the record and all of its classes.
func (s *CatalogStore) UpsertDiscipline(ctx context.Context, d catalog.Discipline) error {
	if err := d.Validate(); err != nil {
		return err
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin upsert: %w", err)
	}
	if err := writeDiscipline(ctx, tx, d); err != nil {
		rollback(ctx, tx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit upsert %s: %w", d.ID, err)
	}
	return nil
}

// UpdateDiscipline locks the row, runs fn against the stored state, and
// writes the result in the same transaction.
func (s *CatalogStore) UpdateDiscipline(ctx context.Context, id string, fn catalog.UpdateFunc) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin update: %w", err)
	}
	existing, err := loadDiscipline(ctx, tx, lockDiscipline, id)
	if err != nil {
		rollback(ctx, tx)
		return err
	}
	next, err := fn(existing)
	if errors.Is(err, catalog.ErrNoChange) {
		rollback(ctx, tx)
		return nil
	}
	if err != nil {
		rollback(ctx, tx)
		return err
	}
	if next.ID != id {
		rollback(ctx, tx)
		return fmt.Errorf("update of %s returned discipline %s", id, next.ID)
	}
	if err := next.Validate(); err != nil {
		rollback(ctx, tx)
		return err
	}
	if err := writeDiscipline(ctx, tx, next); err != nil {
		rollback(ctx, tx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit update %s: %w", id, err)
	}
	return nil
}

// RemoveDiscipline deletes the discipline; classes go with it by cascade.
func (s *CatalogStore) RemoveDiscipline(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, deleteDiscipline, id)
	if err != nil {
		return fmt.Errorf("remove discipline %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return catalog.ErrNotFound
	}
	return nil
}

// UpdateWhatsappGroup sets or clears the link of one class. The parent
// discipline row is locked first so the write serializes with UpdateDiscipline.
func (s *CatalogStore) UpdateWhatsappGroup(ctx context.Context, update catalog.WhatsappUpdate) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin whatsapp update: %w", err)
	}
	var one int
	if err := tx.QueryRow(ctx, lockDisciplineRow, update.DisciplineID).Scan(&one); err != nil {
		rollback(ctx, tx)
		if errors.Is(err, pgx.ErrNoRows) {
			return catalog.ErrNotFound
		}
		return fmt.Errorf("lock discipline %s: %w", update.DisciplineID, err)
	}
	tag, err := tx.Exec(ctx, updateWhatsappGroup, update.WhatsappGroup, update.DisciplineID, update.ClassNumber)
	if err != nil {
		rollback(ctx, tx)
		return fmt.Errorf("update whatsapp group %s/%d: %w", update.DisciplineID, update.ClassNumber, err)
	}
	if tag.RowsAffected() == 0 {
		rollback(ctx, tx)
		return catalog.ErrNotFound
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit whatsapp update: %w", err)
	}
	return nil
}

func loadDiscipline(ctx context.Context, q querier, query, id string) (*catalog.Discipline, error) {
	var d catalog.Discipline
	err := q.QueryRow(ctx, query, id).Scan(&d.ID, &d.Name, &d.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load discipline %s: %w", id, err)
	}
	classes, err := scanClasses(ctx, q, selectClasses, id)
	if err != nil {
		return nil, err
	}
	d.Classes = classes[id]
	return &d, nil
}

func scanClasses(ctx context.Context, q querier, query string, args ...any) (map[string][]catalog.Class, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list classes: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]catalog.Class)
	for rows.Next() {
		var (
			id string
			c  catalog.Class
		)
		if err := rows.Scan(&id, &c.Number, &c.Schedule, &c.Professor, &c.Vacancies, &c.WhatsappGroup); err != nil {
			return nil, fmt.Errorf("scan class row: %w", err)
		}
		out[id] = append(out[id], c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list classes: %w", err)
	}
	return out, nil
}

func writeDiscipline(ctx context.Context, tx pgx.Tx, d catalog.Discipline) error {
	if _, err := tx.Exec(ctx, upsertDiscipline, d.ID, d.Name, d.UpdatedAt); err != nil {
		return fmt.Errorf("write discipline %s: %w", d.ID, err)
	}
	if _, err := tx.Exec(ctx, deleteClasses, d.ID); err != nil {
		return fmt.Errorf("clear classes of %s: %w", d.ID, err)
	}
	for _, c := range d.Classes {
		if _, err := tx.Exec(ctx, insertClass, d.ID, c.Number, c.Schedule, c.Professor, c.Vacancies, c.WhatsappGroup); err != nil {
			return fmt.Errorf("write class %s/%d: %w", d.ID, c.Number, err)
		}
	}
	return nil
}
