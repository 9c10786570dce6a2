// case.go — бизнес-логика кейсов: создание, редактирование, статусы, поиск.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/mail"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Hazimafiq/test-express-portal/internal/domain/filetype"
	"github.com/Hazimafiq/test-express-portal/internal/domain/model"
	"github.com/Hazimafiq/test-express-portal/internal/domain/status"
	"github.com/Hazimafiq/test-express-portal/internal/repository"
)

// Prometheus-метрики кейсов.
var (
	caseTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cp_case_status_transitions_total",
		Help: "Количество успешных переходов статуса кейса (по целевому статусу).",
	}, []string{"to"})

	caseIDCollisionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cp_case_id_collisions_total",
		Help: "Количество повторных генераций case_id из-за коллизий.",
	})
)

// Алфавит case_id: строчные латинские буквы без "l", которую легко спутать с "1".
const caseIDLetters = "abcdefghijkmnopqrstuvwxyz"

// eventTimeout — таймаут публикации события, не зависящий от отмены запроса.
const eventTimeout = 5 * time.Second

// generateCaseID возвращает случайный идентификатор вида "abc-1234".
func generateCaseID() string {
	var b strings.Builder
	b.Grow(8)
	for range 3 {
		b.WriteByte(caseIDLetters[rand.IntN(len(caseIDLetters))])
	}
	b.WriteByte('-')
	fmt.Fprintf(&b, "%04d", rand.IntN(10000))
	return b.String()
}

// CaseInput — атрибуты кейса из формы.
type CaseInput struct {
	Name           string
	Gender         string
	DOB            *time.Time
	Email          string
	TreatmentBrand string
	CustomSN       string
	Treatment      model.Treatment
	// Status — желаемый статус: draft или submitted
	Status status.Status
}

// Submission — запрос на создание или редактирование кейса.
type Submission struct {
	// Category — normal или stl (при редактировании берётся из сохранённого кейса)
	Category string
	Input    CaseInput
	Files    map[filetype.Type]FilePart
	Intents  IntentFlags
}

// SubmitResult — итог создания или редактирования кейса.
type SubmitResult struct {
	CaseID string
	Status status.Status
	Report *ReconcileReport
}

// CaseDetails — кейс со всеми связанными данными.
type CaseDetails struct {
	Case       *model.Case
	Treatment  *model.Treatment
	Files      []*model.CaseFile
	Operations []status.Operation
}

// QueryResult — страница результатов поиска кейсов.
type QueryResult struct {
	Cases []*model.Case
	// Total — количество без пагинации
	Total int
	// Count — количество на странице
	Count int
}

// CaseService — бизнес-логика кейсов.
type CaseService struct {
	cases      repository.CaseRepository
	files      repository.FileRegistryRepository
	reconciler *ReconcileService
	events     EventPublisher
	newID      func() string
	logger     *slog.Logger
}

// NewCaseService создаёт сервис кейсов.
func NewCaseService(
	cases repository.CaseRepository,
	files repository.FileRegistryRepository,
	reconciler *ReconcileService,
	events EventPublisher,
	logger *slog.Logger,
) *CaseService {
	return &CaseService{
		cases:      cases,
		files:      files,
		reconciler: reconciler,
		events:     events,
		newID:      generateCaseID,
		logger:     logger.With(slog.String("component", "case_service")),
	}
}

// Create создаёт кейс, его клинические параметры и файлы.
//
// При частичном сбое файлов кейс остаётся созданным: возвращается
// результат вместе с *PartialFailureError.
func (s *CaseService) Create(ctx context.Context, session model.Session, sub Submission) (*SubmitResult, error) {
	if sub.Category != model.CategoryNormal && sub.Category != model.CategorySTL {
		return nil, validationf("недопустимая категория %q", sub.Category)
	}
	if err := validateInput(sub.Category, sub.Input); err != nil {
		return nil, err
	}
	if err := validateNewCaseFiles(sub); err != nil {
		return nil, err
	}

	c := &model.Case{
		Name:           strings.TrimSpace(sub.Input.Name),
		Gender:         sub.Input.Gender,
		DOB:            sub.Input.DOB,
		Email:          strings.TrimSpace(sub.Input.Email),
		TreatmentBrand: sub.Input.TreatmentBrand,
		CustomSN:       sub.Input.CustomSN,
		Category:       sub.Category,
		OwnerID:        session.UserID,
		Status:         sub.Input.Status,
	}
	treatment := sub.Input.Treatment

	for {
		id, err := s.nextCaseID(ctx)
		if err != nil {
			return nil, err
		}
		c.CaseID = id

		err = s.cases.Create(ctx, c, &treatment)
		if errors.Is(err, repository.ErrConflict) {
			// Параллельный запрос занял тот же идентификатор
			caseIDCollisionsTotal.Inc()
			continue
		}
		if err != nil {
			return nil, storageErr("создание кейса", err)
		}
		break
	}

	s.logger.Info("Кейс создан",
		slog.String("case_id", c.CaseID),
		slog.String("category", c.Category),
		slog.String("status", c.Status.String()),
		slog.String("owner_id", c.OwnerID),
	)

	result := &SubmitResult{CaseID: c.CaseID, Status: c.Status}
	report, err := s.reconciler.Reconcile(ctx, ReconcileRequest{
		CaseID:     c.CaseID,
		UploaderID: session.UserID,
		Files:      sub.Files,
		Intents:    sub.Intents,
	})
	result.Report = report

	if c.Status == status.Submitted && errors.Is(err, ErrPartialFailure) &&
		c.Category == model.CategoryNormal && !s.scansIntact(ctx, c.CaseID) {
		if sErr := s.SetStatus(ctx, c.CaseID, status.Draft); sErr != nil {
			return result, errors.Join(err, sErr)
		}
		c.Status = status.Draft
		result.Status = status.Draft
	}

	if c.Status == status.Submitted {
		s.publishSubmitted(ctx, c, session)
	}
	return result, err
}

// nextCaseID генерирует case_id, не занятый в БД.
// Повторяет попытки, пока не найдёт свободный или не отменится контекст.
func (s *CaseService) nextCaseID(ctx context.Context) (string, error) {
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		id := s.newID()
		exists, err := s.cases.Exists(ctx, id)
		if err != nil {
			return "", storageErr("проверка case_id", err)
		}
		if !exists {
			return id, nil
		}
		caseIDCollisionsTotal.Inc()
	}
}

// Edit перезаписывает атрибуты кейса, согласует файлы и меняет статус.
func (s *CaseService) Edit(ctx context.Context, session model.Session, caseID string, sub Submission) (*SubmitResult, error) {
	c, err := s.Authorize(ctx, session, caseID, status.OpEdit)
	if err != nil {
		return nil, err
	}
	if sub.Category != "" && sub.Category != c.Category {
		return nil, validationf("категория кейса %s — %s, изменить её нельзя", caseID, c.Category)
	}
	if err := validateInput(c.Category, sub.Input); err != nil {
		return nil, err
	}

	target := sub.Input.Status
	if err := status.CheckTransition(c.Status, target); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTransition, err)
	}

	if target == status.Submitted && c.Category == model.CategoryNormal {
		if err := s.requireScans(ctx, caseID, effectiveIntents(sub)); err != nil {
			return nil, err
		}
	}

	c.Name = strings.TrimSpace(sub.Input.Name)
	c.Gender = sub.Input.Gender
	c.DOB = sub.Input.DOB
	c.Email = strings.TrimSpace(sub.Input.Email)
	c.TreatmentBrand = sub.Input.TreatmentBrand
	c.CustomSN = sub.Input.CustomSN
	if err := s.cases.Update(ctx, c); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, storageErr("обновление кейса", err)
	}

	treatment := sub.Input.Treatment
	treatment.CaseID = caseID
	if err := s.cases.UpdateTreatment(ctx, &treatment); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, storageErr("обновление параметров лечения", err)
	}

	result := &SubmitResult{CaseID: caseID, Status: c.Status}
	report, reconcileErr := s.reconciler.Reconcile(ctx, ReconcileRequest{
		CaseID:     caseID,
		UploaderID: session.UserID,
		Files:      sub.Files,
		Intents:    sub.Intents,
	})
	result.Report = report
	if reconcileErr != nil && !errors.Is(reconcileErr, ErrPartialFailure) {
		return result, reconcileErr
	}

	if target == status.Submitted && c.Status != status.Submitted && errors.Is(reconcileErr, ErrPartialFailure) &&
		c.Category == model.CategoryNormal && !s.scansIntact(ctx, caseID) {
		target = c.Status
	}

	if target != c.Status {
		previous := c.Status
		if err := s.SetStatus(ctx, caseID, target); err != nil {
			return result, err
		}
		c.Status = target
		result.Status = target
		if target == status.Submitted && previous == status.Draft {
			s.publishSubmitted(ctx, c, session)
		}
	}

	s.logger.Info("Кейс обновлён",
		slog.String("case_id", caseID),
		slog.String("status", result.Status.String()),
	)
	return result, reconcileErr
}

// SetStatus условно переводит кейс в статус to.
//
// ErrNotFound — кейса нет; ErrInvalidTransition — переход из текущего
// статуса недопустим; ErrConflict — статус изменился параллельно.
func (s *CaseService) SetStatus(ctx context.Context, caseID string, to status.Status) error {
	if !to.Valid() {
		return validationf("недопустимый статус %d", int(to))
	}

	err := s.cases.UpdateStatus(ctx, caseID, to, status.Sources(to))
	if err == nil {
		caseTransitionsTotal.WithLabelValues(to.String()).Inc()
		s.logger.Info("Статус кейса изменён",
			slog.String("case_id", caseID),
			slog.String("status", to.String()),
		)
		return nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return storageErr("обновление статуса", err)
	}

	// Строка не обновлена: кейса нет или переход недопустим
	c, getErr := s.cases.GetByID(ctx, caseID)
	if errors.Is(getErr, repository.ErrNotFound) {
		return ErrNotFound
	}
	if getErr != nil {
		return storageErr("получение кейса", getErr)
	}
	if tErr := status.CheckTransition(c.Status, to); tErr != nil {
		return fmt.Errorf("%w: %w", ErrInvalidTransition, tErr)
	}
	return fmt.Errorf("%w: статус кейса %s изменён параллельно", ErrConflict, caseID)
}

// Submit отправляет кейс в лабораторию.
// Обычный кейс требует наличия верхнего и нижнего сканов.
func (s *CaseService) Submit(ctx context.Context, session model.Session, caseID string) error {
	c, err := s.Authorize(ctx, session, caseID, status.OpEdit)
	if err != nil {
		return err
	}
	if c.Category == model.CategoryNormal {
		if err := s.requireScans(ctx, caseID, IntentFlags{}); err != nil {
			return err
		}
	}

	if err := s.SetStatus(ctx, caseID, status.Submitted); err != nil {
		return err
	}
	if c.Status == status.Draft {
		c.Status = status.Submitted
		s.publishSubmitted(ctx, c, session)
	}
	return nil
}

// RevertToDraft возвращает кейс в черновик.
func (s *CaseService) RevertToDraft(ctx context.Context, session model.Session, caseID string) error {
	if _, err := s.Authorize(ctx, session, caseID, status.OpEdit); err != nil {
		return err
	}
	return s.SetStatus(ctx, caseID, status.Draft)
}

// Delete помечает кейс удалённым.
func (s *CaseService) Delete(ctx context.Context, session model.Session, caseID string) error {
	if _, err := s.Authorize(ctx, session, caseID, status.OpView); err != nil {
		return err
	}
	return s.SetStatus(ctx, caseID, status.Deleted)
}

// Authorize возвращает кейс, если пользователь имеет к нему доступ
// и операция op допустима в текущем статусе.
// Чужой кейс для врача неотличим от несуществующего.
func (s *CaseService) Authorize(ctx context.Context, session model.Session, caseID string, op status.Operation) (*model.Case, error) {
	c, err := s.cases.GetByID(ctx, caseID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, storageErr("получение кейса", err)
	}

	if !session.IsStaff() && c.OwnerID != session.UserID {
		return nil, ErrNotFound
	}

	if err := status.CheckOperation(c.Status, op); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTransition, err)
	}
	return c, nil
}

// Get возвращает кейс с клиническими параметрами и файлами.
func (s *CaseService) Get(ctx context.Context, session model.Session, caseID string) (*CaseDetails, error) {
	c, err := s.Authorize(ctx, session, caseID, status.OpView)
	if err != nil {
		return nil, err
	}

	treatment, err := s.cases.GetTreatment(ctx, caseID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, storageErr("получение параметров лечения", err)
	}

	list, err := s.files.ListByCase(ctx, caseID)
	if err != nil {
		return nil, storageErr("получение файлов кейса", err)
	}

	return &CaseDetails{
		Case:       c,
		Treatment:  treatment,
		Files:      list,
		Operations: status.AllowedOperations(c.Status),
	}, nil
}

// Query ищет кейсы. Врач видит только свои кейсы.
func (s *CaseService) Query(ctx context.Context, session model.Session, q model.CaseQuery) (*QueryResult, error) {
	scopeToOwner(session, &q)

	cases, total, err := s.cases.Search(ctx, q)
	if err != nil {
		return nil, storageErr("поиск кейсов", err)
	}
	return &QueryResult{Cases: cases, Total: total, Count: len(cases)}, nil
}

// CountsByStatus возвращает количество кейсов по статусам с учётом фильтров.
func (s *CaseService) CountsByStatus(ctx context.Context, session model.Session, q model.CaseQuery) (*model.StatusCounts, error) {
	scopeToOwner(session, &q)

	counts, err := s.cases.CountByStatus(ctx, q)
	if err != nil {
		return nil, storageErr("подсчёт кейсов", err)
	}
	return counts, nil
}

// requireScans проверяет, что после применения флагов оба основных скана на месте.
func (s *CaseService) requireScans(ctx context.Context, caseID string, intents IntentFlags) error {
	present, err := s.reconciler.ValidateRequiredFiles(ctx, caseID, intents)
	if err != nil {
		return err
	}

	var missing []string
	for _, ft := range filetype.PrimaryScans() {
		if !present[ft] {
			missing = append(missing, string(ft))
		}
	}
	if len(missing) > 0 {
		return validationf("для отправки кейса не хватает файлов: %s", strings.Join(missing, ", "))
	}
	return nil
}

// touch отмечает изменение кейса без смены атрибутов: план симуляции или
// его файлы. Сбой не прерывает операцию.
func (s *CaseService) touch(ctx context.Context, caseID string) {
	if err := s.cases.Touch(ctx, caseID); err != nil {
		s.logger.Warn("Не удалось обновить updated_at кейса",
			slog.String("case_id", caseID),
			slog.String("error", err.Error()),
		)
	}
}

// scansIntact перепроверяет основные сканы по реестру после частичного сбоя файлов.
func (s *CaseService) scansIntact(ctx context.Context, caseID string) bool {
	if err := s.requireScans(ctx, caseID, IntentFlags{}); err != nil {
		s.logger.Warn("Кейс остаётся черновиком: основные сканы не сохранены",
			slog.String("case_id", caseID),
			slog.String("error", err.Error()),
		)
		return false
	}
	return true
}

func (s *CaseService) publishSubmitted(ctx context.Context, c *model.Case, session model.Session) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), eventTimeout)
	defer cancel()

	err := s.events.Publish(ctx, CaseEvent{
		Type:        EventCaseSubmitted,
		CaseID:      c.CaseID,
		PatientName: c.Name,
		Brand:       c.TreatmentBrand,
		Category:    c.Category,
		ActorID:     session.UserID,
		ActorName:   session.Name,
		OccurredAt:  time.Now().UTC(),
	})
	if err != nil {
		s.logger.Warn("Не удалось опубликовать событие отправки кейса",
			slog.String("case_id", c.CaseID),
			slog.String("error", err.Error()),
		)
	}
}

func scopeToOwner(session model.Session, q *model.CaseQuery) {
	if !session.IsStaff() {
		owner := session.UserID
		q.OwnerID = &owner
	}
}

// effectiveIntents дополняет флаги: тип с новым файлом без флага считается new.
func effectiveIntents(sub Submission) IntentFlags {
	result := IntentFlags{
		ByType:        make(map[filetype.Type]Intent, len(sub.Intents.ByType)+len(sub.Files)),
		RemoveFileIDs: sub.Intents.RemoveFileIDs,
	}
	for ft, intent := range sub.Intents.ByType {
		result.ByType[ft] = intent
	}
	for ft := range sub.Files {
		if result.ByType[ft] != IntentRemove {
			result.ByType[ft] = IntentNew
		}
	}
	return result
}

// validateInput проверяет обязательные атрибуты по категории кейса.
func validateInput(category string, in CaseInput) error {
	if in.Status != status.Draft && in.Status != status.Submitted {
		return validationf("статус при сохранении кейса — только 0 (draft) или 1 (submitted)")
	}

	var missing []string
	require := func(name, value string) {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, name)
		}
	}

	require("name", in.Name)
	require("treatment_brand", in.TreatmentBrand)

	switch category {
	case model.CategorySTL:
		require("product", in.Treatment.Product)
		if in.Treatment.ArrivalDate == nil {
			missing = append(missing, "arrival_date")
		}
	default:
		require("gender", in.Gender)
		if in.DOB == nil {
			missing = append(missing, "dob")
		}
		require("ipr", in.Treatment.IPR)
		require("attachments", in.Treatment.Attachments)
		require("model_type", in.Treatment.ModelType)
	}

	if len(missing) > 0 {
		return validationf("не заполнены обязательные поля: %s", strings.Join(missing, ", "))
	}

	if email := strings.TrimSpace(in.Email); email != "" {
		if _, err := mail.ParseAddress(email); err != nil {
			return validationf("некорректный email %q", email)
		}
	}
	if in.DOB != nil && in.DOB.After(time.Now()) {
		return validationf("дата рождения в будущем")
	}
	return nil
}

// validateNewCaseFiles проверяет файлы нового кейса.
// Обычный кейс требует хотя бы один основной скан, а для отправки — оба.
func validateNewCaseFiles(sub Submission) error {
	if sub.Category == model.CategorySTL {
		if len(sub.Files) == 0 {
			return validationf("STL-кейс должен содержать хотя бы один файл")
		}
		return nil
	}

	_, hasUpper := sub.Files[filetype.UpperScan]
	_, hasLower := sub.Files[filetype.LowerScan]
	if !hasUpper && !hasLower {
		return validationf("требуется хотя бы один из файлов: upper_scan, lower_scan")
	}
	if sub.Input.Status == status.Submitted && (!hasUpper || !hasLower) {
		return validationf("для отправки кейса требуются оба файла: upper_scan, lower_scan")
	}
	return nil
}
