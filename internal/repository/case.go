package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/Hazimafiq/test-express-portal/internal/domain/model"
	"github.com/Hazimafiq/test-express-portal/internal/domain/status"
)

// Колонки cases для SELECT (порядок совпадает со scanCase).
const caseColumns = `case_id, name, gender, dob, email, treatment_brand, custom_sn,
	category, owner_id, status, created_at, updated_at`

const treatmentColumns = `case_id, crowding, deep_bite, spacing, narrow_arch,
	class_ii_div_1, class_ii_div_2, class_iii, open_bite, overjet,
	anterior_crossbite, posterior_crossbite, others, ipr, attachments,
	treatment_notes, model_type, product, arrival_date, updated_at`

// Значение сортировки по умолчанию.
const defaultCaseSortColumn = "created_at"

// CaseRepository — интерфейс доступа к таблицам cases и treatment_models.
type CaseRepository interface {
	// Exists проверяет, занят ли case_id.
	Exists(ctx context.Context, caseID string) (bool, error)
	// Create создаёт кейс и его клинические параметры в одной транзакции.
	// ErrConflict — case_id уже занят.
	Create(ctx context.Context, c *model.Case, t *model.Treatment) error
	// GetByID возвращает кейс по идентификатору.
	GetByID(ctx context.Context, caseID string) (*model.Case, error)
	// Update перезаписывает атрибуты кейса и обновляет updated_at.
	Update(ctx context.Context, c *model.Case) error
	// Touch обновляет только updated_at.
	Touch(ctx context.Context, caseID string) error
	// GetTreatment возвращает клинические параметры кейса.
	GetTreatment(ctx context.Context, caseID string) (*model.Treatment, error)
	// UpdateTreatment перезаписывает клинические параметры кейса.
	UpdateTreatment(ctx context.Context, t *model.Treatment) error
	// UpdateStatus условно меняет статус: строка обновляется, только если
	// текущий статус входит в from. ErrNotFound — ни одна строка не изменена.
	UpdateStatus(ctx context.Context, caseID string, to status.Status, from []status.Status) error
	// Search возвращает страницу кейсов и общее количество без пагинации.
	Search(ctx context.Context, q model.CaseQuery) ([]*model.Case, int, error)
	// CountByStatus возвращает количество кейсов по статусам.
	// Фильтр q.Status игнорируется.
	CountByStatus(ctx context.Context, q model.CaseQuery) (*model.StatusCounts, error)
}

type caseRepo struct {
	db DBTX
}

// NewCaseRepository создаёт репозиторий кейсов.
func NewCaseRepository(db DBTX) CaseRepository {
	return &caseRepo{db: db}
}

func (r *caseRepo) Exists(ctx context.Context, caseID string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM cases WHERE case_id = $1)`, caseID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("ошибка проверки case_id: %w", err)
	}
	return exists, nil
}

func (r *caseRepo) Create(ctx context.Context, c *model.Case, t *model.Treatment) error {
	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO cases (case_id, name, gender, dob, email, treatment_brand,
				custom_sn, category, owner_id, status)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			RETURNING created_at, updated_at`,
			c.CaseID, c.Name, c.Gender, c.DOB, c.Email, c.TreatmentBrand,
			c.CustomSN, c.Category, c.OwnerID, int(c.Status),
		).Scan(&c.CreatedAt, &c.UpdatedAt)
		if err != nil {
			return err
		}

		t.CaseID = c.CaseID
		return tx.QueryRow(ctx, `
			INSERT INTO treatment_models (case_id, crowding, deep_bite, spacing, narrow_arch,
				class_ii_div_1, class_ii_div_2, class_iii, open_bite, overjet,
				anterior_crossbite, posterior_crossbite, others, ipr, attachments,
				treatment_notes, model_type, product, arrival_date)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
			RETURNING updated_at`,
			treatmentArgs(t)...,
		).Scan(&t.UpdatedAt)
	})
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: case_id %s уже занят", ErrConflict, c.CaseID)
		}
		return fmt.Errorf("ошибка создания кейса: %w", err)
	}
	return nil
}

func (r *caseRepo) GetByID(ctx context.Context, caseID string) (*model.Case, error) {
	query := fmt.Sprintf(`SELECT %s FROM cases WHERE case_id = $1`, caseColumns)

	c, err := scanCase(r.db.QueryRow(ctx, query, caseID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения кейса: %w", err)
	}
	return c, nil
}

func (r *caseRepo) Update(ctx context.Context, c *model.Case) error {
	err := r.db.QueryRow(ctx, `
		UPDATE cases
		SET name = $2, gender = $3, dob = $4, email = $5, treatment_brand = $6,
			custom_sn = $7, updated_at = NOW()
		WHERE case_id = $1
		RETURNING updated_at`,
		c.CaseID, c.Name, c.Gender, c.DOB, c.Email, c.TreatmentBrand, c.CustomSN,
	).Scan(&c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("ошибка обновления кейса: %w", err)
	}
	return nil
}

func (r *caseRepo) Touch(ctx context.Context, caseID string) error {
	tag, err := r.db.Exec(ctx, `UPDATE cases SET updated_at = NOW() WHERE case_id = $1`, caseID)
	if err != nil {
		return fmt.Errorf("ошибка обновления кейса: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *caseRepo) GetTreatment(ctx context.Context, caseID string) (*model.Treatment, error) {
	query := fmt.Sprintf(`SELECT %s FROM treatment_models WHERE case_id = $1`, treatmentColumns)

	t := &model.Treatment{}
	err := r.db.QueryRow(ctx, query, caseID).Scan(
		&t.CaseID, &t.Crowding, &t.DeepBite, &t.Spacing, &t.NarrowArch,
		&t.ClassIIDiv1, &t.ClassIIDiv2, &t.ClassIII, &t.OpenBite, &t.Overjet,
		&t.AnteriorCrossbite, &t.PosteriorCrossbite, &t.Others, &t.IPR, &t.Attachments,
		&t.TreatmentNotes, &t.ModelType, &t.Product, &t.ArrivalDate, &t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения параметров лечения: %w", err)
	}
	return t, nil
}

func (r *caseRepo) UpdateTreatment(ctx context.Context, t *model.Treatment) error {
	err := r.db.QueryRow(ctx, `
		UPDATE treatment_models
		SET crowding = $2, deep_bite = $3, spacing = $4, narrow_arch = $5,
			class_ii_div_1 = $6, class_ii_div_2 = $7, class_iii = $8, open_bite = $9,
			overjet = $10, anterior_crossbite = $11, posterior_crossbite = $12,
			others = $13, ipr = $14, attachments = $15, treatment_notes = $16,
			model_type = $17, product = $18, arrival_date = $19, updated_at = NOW()
		WHERE case_id = $1
		RETURNING updated_at`,
		treatmentArgs(t)...,
	).Scan(&t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("ошибка обновления параметров лечения: %w", err)
	}
	return nil
}

func (r *caseRepo) UpdateStatus(ctx context.Context, caseID string, to status.Status, from []status.Status) error {
	codes := make([]int, len(from))
	for i, s := range from {
		codes[i] = int(s)
	}

	tag, err := r.db.Exec(ctx, `
		UPDATE cases
		SET status = $2, updated_at = NOW()
		WHERE case_id = $1 AND status = ANY($3)`,
		caseID, int(to), codes,
	)
	if err != nil {
		return fmt.Errorf("ошибка обновления статуса кейса: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *caseRepo) Search(ctx context.Context, q model.CaseQuery) ([]*model.Case, int, error) {
	where, args := buildCaseWhere(q, 1, true)
	argNum := len(args) + 1

	var total int
	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM cases %s`, where)
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("ошибка подсчёта кейсов: %w", err)
	}

	dataQuery := fmt.Sprintf(
		`SELECT %s FROM cases %s %s LIMIT $%d OFFSET $%d`,
		caseColumns, where, buildCaseOrderBy(q.SortBy, q.SortOrder), argNum, argNum+1,
	)
	args = append(args, q.Limit, q.Offset)

	rows, err := r.db.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("ошибка поиска кейсов: %w", err)
	}
	defer rows.Close()

	var result []*model.Case
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("ошибка сканирования кейса: %w", err)
		}
		result = append(result, c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("ошибка итерации результатов: %w", err)
	}

	return result, total, nil
}

func (r *caseRepo) CountByStatus(ctx context.Context, q model.CaseQuery) (*model.StatusCounts, error) {
	where, args := buildCaseWhere(q, 1, false)

	query := fmt.Sprintf(`SELECT status, COUNT(*) FROM cases %s GROUP BY status`, where)
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка подсчёта кейсов по статусам: %w", err)
	}
	defer rows.Close()

	counts := &model.StatusCounts{}
	for rows.Next() {
		var code, n int
		if err := rows.Scan(&code, &n); err != nil {
			return nil, fmt.Errorf("ошибка сканирования счётчика: %w", err)
		}
		switch status.Status(code) {
		case status.Draft:
			counts.Draft = n
		case status.Submitted:
			counts.Submitted = n
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка итерации результатов: %w", err)
	}

	counts.All = counts.Draft + counts.Submitted
	return counts, nil
}

// buildCaseWhere строит WHERE-условие и аргументы для поиска кейсов.
// withStatus=false пропускает фильтр статуса (для подсчёта по статусам);
// в этом случае удалённые кейсы исключаются всегда.
//
// Верхняя граница диапазона дат включительна: сравнение идёт
// с началом следующего дня.
func buildCaseWhere(q model.CaseQuery, startArg int, withStatus bool) (string, []any) {
	var conditions []string
	var args []any
	argNum := startArg

	if withStatus && q.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argNum))
		args = append(args, int(*q.Status))
		argNum++
	} else {
		conditions = append(conditions, fmt.Sprintf("status <> %d", int(status.Deleted)))
	}

	if q.OwnerID != nil {
		conditions = append(conditions, fmt.Sprintf("owner_id = $%d", argNum))
		args = append(args, *q.OwnerID)
		argNum++
	}

	if q.Brand != nil && *q.Brand != "" {
		conditions = append(conditions, fmt.Sprintf("treatment_brand = $%d", argNum))
		args = append(args, *q.Brand)
		argNum++
	}

	if q.Search != nil && strings.TrimSpace(*q.Search) != "" {
		conditions = append(conditions, fmt.Sprintf("(case_id ILIKE $%d OR name ILIKE $%d)", argNum, argNum))
		args = append(args, containsPattern(strings.TrimSpace(*q.Search)))
		argNum++
	}

	if q.CreatedFrom != nil {
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", argNum))
		args = append(args, *q.CreatedFrom)
		argNum++
	}
	if q.CreatedTo != nil {
		conditions = append(conditions, fmt.Sprintf("created_at < $%d", argNum))
		args = append(args, q.CreatedTo.AddDate(0, 0, 1))
		argNum++
	}
	if q.UpdatedFrom != nil {
		conditions = append(conditions, fmt.Sprintf("updated_at >= $%d", argNum))
		args = append(args, *q.UpdatedFrom)
		argNum++
	}
	if q.UpdatedTo != nil {
		conditions = append(conditions, fmt.Sprintf("updated_at < $%d", argNum))
		args = append(args, q.UpdatedTo.AddDate(0, 0, 1))
	}

	return "WHERE " + strings.Join(conditions, " AND "), args
}

// buildCaseOrderBy строит ORDER BY по whitelist полей.
func buildCaseOrderBy(sortBy, sortOrder string) string {
	column := defaultCaseSortColumn
	if sortBy == "updated_at" {
		column = "updated_at"
	}

	direction := "DESC"
	if strings.EqualFold(sortOrder, "asc") {
		direction = "ASC"
	}

	// case_id — стабильный порядок при равных временных метках
	return fmt.Sprintf("ORDER BY %s %s, case_id %s", column, direction, direction)
}

// rowScanner — общий интерфейс pgx.Row и pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanCase(row rowScanner) (*model.Case, error) {
	c := &model.Case{}
	var code int
	if err := row.Scan(
		&c.CaseID, &c.Name, &c.Gender, &c.DOB, &c.Email, &c.TreatmentBrand, &c.CustomSN,
		&c.Category, &c.OwnerID, &code, &c.CreatedAt, &c.UpdatedAt,
	); err != nil {
		return nil, err
	}
	c.Status = status.Status(code)
	return c, nil
}

func treatmentArgs(t *model.Treatment) []any {
	return []any{
		t.CaseID, t.Crowding, t.DeepBite, t.Spacing, t.NarrowArch,
		t.ClassIIDiv1, t.ClassIIDiv2, t.ClassIII, t.OpenBite, t.Overjet,
		t.AnteriorCrossbite, t.PosteriorCrossbite, t.Others, t.IPR, t.Attachments,
		t.TreatmentNotes, t.ModelType, t.Product, t.ArrivalDate,
	}
}
