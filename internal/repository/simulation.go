package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/Hazimafiq/test-express-portal/internal/domain/model"
)

const simulationColumns = `case_id, simulation_number, simulation_url, decision,
	created_by, decided_by, decided_at, created_at, updated_at`

// SimulationRepository — интерфейс доступа к таблице simulation_plans.
type SimulationRepository interface {
	// Create добавляет план с номером max+1 и заполняет p.SimulationNumber.
	// ErrConflict — параллельная вставка заняла тот же номер.
	Create(ctx context.Context, p *model.SimulationPlan) error
	// Get возвращает план по номеру.
	Get(ctx context.Context, caseID string, number int) (*model.SimulationPlan, error)
	// ListByCase возвращает планы кейса по возрастанию номера.
	ListByCase(ctx context.Context, caseID string) ([]*model.SimulationPlan, error)
	// UpdateURL меняет ссылку на просмотрщик симуляции.
	UpdateURL(ctx context.Context, caseID string, number int, url string) error
	// SetDecision фиксирует решение врача по плану.
	SetDecision(ctx context.Context, caseID string, number int, decision, decidedBy string) error
}

type simulationRepo struct {
	db DBTX
}

// NewSimulationRepository создаёт репозиторий планов симуляции.
func NewSimulationRepository(db DBTX) SimulationRepository {
	return &simulationRepo{db: db}
}

func (r *simulationRepo) Create(ctx context.Context, p *model.SimulationPlan) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO simulation_plans (case_id, simulation_number, simulation_url, created_by)
		SELECT $1, COALESCE(MAX(simulation_number), 0) + 1, $2, $3
		FROM simulation_plans
		WHERE case_id = $1
		RETURNING simulation_number, created_at, updated_at`,
		p.CaseID, p.SimulationURL, p.CreatedBy,
	).Scan(&p.SimulationNumber, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: план симуляции для кейса %s создаётся параллельно", ErrConflict, p.CaseID)
		}
		return fmt.Errorf("ошибка создания плана симуляции: %w", err)
	}
	return nil
}

func (r *simulationRepo) Get(ctx context.Context, caseID string, number int) (*model.SimulationPlan, error) {
	query := fmt.Sprintf(`SELECT %s FROM simulation_plans WHERE case_id = $1 AND simulation_number = $2`, simulationColumns)

	p, err := scanSimulation(r.db.QueryRow(ctx, query, caseID, number))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения плана симуляции: %w", err)
	}
	return p, nil
}

func (r *simulationRepo) ListByCase(ctx context.Context, caseID string) ([]*model.SimulationPlan, error) {
	query := fmt.Sprintf(`SELECT %s FROM simulation_plans WHERE case_id = $1 ORDER BY simulation_number`, simulationColumns)

	rows, err := r.db.Query(ctx, query, caseID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения планов симуляции: %w", err)
	}
	defer rows.Close()

	var result []*model.SimulationPlan
	for rows.Next() {
		p, err := scanSimulation(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования плана симуляции: %w", err)
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

func (r *simulationRepo) UpdateURL(ctx context.Context, caseID string, number int, url string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE simulation_plans
		SET simulation_url = $3, updated_at = NOW()
		WHERE case_id = $1 AND simulation_number = $2`,
		caseID, number, url,
	)
	if err != nil {
		return fmt.Errorf("ошибка обновления плана симуляции: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *simulationRepo) SetDecision(ctx context.Context, caseID string, number int, decision, decidedBy string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE simulation_plans
		SET decision = $3, decided_by = $4, decided_at = NOW(), updated_at = NOW()
		WHERE case_id = $1 AND simulation_number = $2`,
		caseID, number, decision, decidedBy,
	)
	if err != nil {
		return fmt.Errorf("ошибка сохранения решения по плану симуляции: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanSimulation(row rowScanner) (*model.SimulationPlan, error) {
	p := &model.SimulationPlan{}
	if err := row.Scan(
		&p.CaseID, &p.SimulationNumber, &p.SimulationURL, &p.Decision,
		&p.CreatedBy, &p.DecidedBy, &p.DecidedAt, &p.CreatedAt, &p.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return p, nil
}
