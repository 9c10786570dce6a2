package service

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"strings"

	"github.com/Hazimafiq/test-express-portal/internal/domain/filetype"
	"github.com/Hazimafiq/test-express-portal/internal/domain/model"
	"github.com/Hazimafiq/test-express-portal/internal/domain/status"
	"github.com/Hazimafiq/test-express-portal/internal/repository"
)

// Количество попыток вставки плана при гонке за номер.
const simulationCreateAttempts = 3

// SimulationService — планы симуляции лечения.
// Планы создаёт и меняет лаборатория, решение принимает врач-владелец.
type SimulationService struct {
	cases      *CaseService
	sims       repository.SimulationRepository
	files      repository.FileRegistryRepository
	reconciler *ReconcileService
	logger     *slog.Logger
}

// NewSimulationService создаёт сервис планов симуляции.
func NewSimulationService(
	cases *CaseService,
	sims repository.SimulationRepository,
	files repository.FileRegistryRepository,
	reconciler *ReconcileService,
	logger *slog.Logger,
) *SimulationService {
	return &SimulationService{
		cases:      cases,
		sims:       sims,
		files:      files,
		reconciler: reconciler,
		logger:     logger.With(slog.String("component", "simulation_service")),
	}
}

// Add создаёт план с номером max+1 и прикладывает обязательный файл схемы сепарации.
func (s *SimulationService) Add(ctx context.Context, session model.Session, caseID, simulationURL string, ipr *FilePart) (*model.SimulationPlan, *ReconcileReport, error) {
	if !session.IsStaff() {
		return nil, nil, ErrForbidden
	}
	simulationURL, err := validateSimulationURL(simulationURL)
	if err != nil {
		return nil, nil, err
	}
	if ipr == nil || ipr.Body == nil {
		return nil, nil, validationf("не передан файл %s", filetype.IPR)
	}
	if _, err := s.cases.Authorize(ctx, session, caseID, status.OpSimulate); err != nil {
		return nil, nil, err
	}

	plan := &model.SimulationPlan{
		CaseID:        caseID,
		SimulationURL: simulationURL,
		CreatedBy:     session.UserID,
	}
	for attempt := 1; ; attempt++ {
		err = s.sims.Create(ctx, plan)
		if err == nil {
			break
		}
		if !errors.Is(err, repository.ErrConflict) || attempt == simulationCreateAttempts {
			if errors.Is(err, repository.ErrConflict) {
				return nil, nil, ErrConflict
			}
			return nil, nil, storageErr("создание плана симуляции", err)
		}
	}

	s.logger.Info("План симуляции создан",
		slog.String("case_id", caseID),
		slog.Int("simulation_number", plan.SimulationNumber),
	)

	report, err := s.attachIPR(ctx, session, plan.SimulationNumber, caseID, *ipr, IntentUnspecified)
	s.cases.touch(ctx, caseID)
	return plan, report, err
}

// List возвращает планы кейса с привязанными файлами сепарации.
func (s *SimulationService) List(ctx context.Context, session model.Session, caseID string) ([]*model.SimulationPlan, error) {
	if _, err := s.cases.Authorize(ctx, session, caseID, status.OpView); err != nil {
		return nil, err
	}

	plans, err := s.sims.ListByCase(ctx, caseID)
	if err != nil {
		return nil, storageErr("получение планов симуляции", err)
	}
	if len(plans) == 0 {
		return plans, nil
	}

	files, err := s.files.ListByTypes(ctx, caseID, []filetype.Type{filetype.IPR})
	if err != nil {
		return nil, storageErr("получение файлов сепарации", err)
	}

	byNumber := make(map[int]*model.SimulationPlan, len(plans))
	for _, p := range plans {
		byNumber[p.SimulationNumber] = p
	}
	for _, f := range files {
		if f.SimulationNumber == nil {
			continue
		}
		if p, ok := byNumber[*f.SimulationNumber]; ok {
			p.IPRFiles = append(p.IPRFiles, f)
		}
	}
	return plans, nil
}

// Update меняет ссылку на симуляцию и, если передан, файл сепарации.
// intent применяется к слоту ipr этого плана (remove удаляет файл).
func (s *SimulationService) Update(ctx context.Context, session model.Session, caseID string, number int, simulationURL string, ipr *FilePart, intent Intent) (*ReconcileReport, error) {
	if !session.IsStaff() {
		return nil, ErrForbidden
	}
	simulationURL, err := validateSimulationURL(simulationURL)
	if err != nil {
		return nil, err
	}
	if _, err := s.cases.Authorize(ctx, session, caseID, status.OpSimulate); err != nil {
		return nil, err
	}

	if err := s.sims.UpdateURL(ctx, caseID, number, simulationURL); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, storageErr("обновление плана симуляции", err)
	}

	defer s.cases.touch(ctx, caseID)
	if ipr == nil && intent != IntentRemove {
		return nil, nil
	}
	var part FilePart
	if ipr != nil {
		part = *ipr
	}
	return s.attachIPR(ctx, session, number, caseID, part, intent)
}

// Decide фиксирует решение врача по плану: approved или revoked.
// Лаборатория решений не принимает.
func (s *SimulationService) Decide(ctx context.Context, session model.Session, caseID string, number int, decision string) error {
	if session.Role == model.RoleLab {
		return ErrForbidden
	}
	if decision != model.DecisionApproved && decision != model.DecisionRevoked {
		return validationf("недопустимое решение %q, допустимые: approved, revoked", decision)
	}
	if _, err := s.cases.Authorize(ctx, session, caseID, status.OpSimulate); err != nil {
		return err
	}

	if err := s.sims.SetDecision(ctx, caseID, number, decision, session.UserID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotFound
		}
		return storageErr("сохранение решения", err)
	}
	s.cases.touch(ctx, caseID)

	s.logger.Info("Решение по плану симуляции",
		slog.String("case_id", caseID),
		slog.Int("simulation_number", number),
		slog.String("decision", decision),
	)
	return nil
}

func (s *SimulationService) attachIPR(ctx context.Context, session model.Session, number int, caseID string, part FilePart, intent Intent) (*ReconcileReport, error) {
	req := ReconcileRequest{
		CaseID:           caseID,
		UploaderID:       session.UserID,
		SimulationNumber: &number,
		Intents:          IntentFlags{ByType: map[filetype.Type]Intent{filetype.IPR: intent}},
	}
	if part.Body != nil {
		part.FileType = filetype.IPR
		req.Files = map[filetype.Type]FilePart{filetype.IPR: part}
	}
	return s.reconciler.Reconcile(ctx, req)
}

// validateSimulationURL проверяет абсолютный http(s) URL.
func validateSimulationURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", validationf("не заполнено поле simulation_url")
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", validationf("simulation_url должен быть абсолютным http(s) URL")
	}
	return raw, nil
}
