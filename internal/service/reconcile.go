// reconcile.go — согласование загруженных файлов кейса с реестром.
//
// Один запрос на отправку кейса несёт новые файлы по типам и флаги
// намерения по уже сохранённым файлам. Согласование приводит реестр
// case_files к желаемому состоянию: удаляет, заменяет на месте или
// добавляет файлы с новыми порядковыми номерами.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Hazimafiq/test-express-portal/internal/domain/filetype"
	"github.com/Hazimafiq/test-express-portal/internal/domain/model"
	"github.com/Hazimafiq/test-express-portal/internal/repository"
)

// Prometheus-метрики согласования файлов.
var reconcileFilesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "cp_reconcile_files_total",
	Help: "Количество операций над файлами при согласовании (по операции и результату).",
}, []string{"op", "result"})

// Intent — намерение клиента по файлу слота.
type Intent string

const (
	// IntentUnspecified — флаг не передан
	IntentUnspecified Intent = ""
	// IntentExisting — оставить сохранённый файл (или заменить на месте, если пришёл новый)
	IntentExisting Intent = "existing"
	// IntentNew — добавить новый файл отдельной записью
	IntentNew Intent = "new"
	// IntentRemove — удалить сохранённый файл
	IntentRemove Intent = "remove"
)

// ParseIntent разбирает значение флага намерения.
func ParseIntent(s string) (Intent, error) {
	switch Intent(strings.ToLower(strings.TrimSpace(s))) {
	case IntentUnspecified:
		return IntentUnspecified, nil
	case IntentExisting:
		return IntentExisting, nil
	case IntentNew:
		return IntentNew, nil
	case IntentRemove:
		return IntentRemove, nil
	default:
		return "", validationf("недопустимый флаг файла %q, допустимые: existing, new, remove", s)
	}
}

// IntentFlags — флаги намерения одного запроса.
type IntentFlags struct {
	// ByType — флаги по типу файла (обычный кейс, симуляция)
	ByType map[filetype.Type]Intent
	// RemoveFileIDs — удаление конкретных файлов по номеру (STL-кейсы)
	RemoveFileIDs []int
}

// Of возвращает флаг для типа файла.
func (f IntentFlags) Of(ft filetype.Type) Intent {
	return f.ByType[ft]
}

// FilePart — новый файл из multipart-запроса.
type FilePart struct {
	FileType     filetype.Type
	OriginalName string
	ContentType  string
	// Size — размер в байтах, -1 если неизвестен
	Size int64
	Body io.Reader
}

// ReconcileRequest — входные данные согласования.
type ReconcileRequest struct {
	CaseID     string
	UploaderID string
	// SimulationNumber — номер плана симуляции; nil вне потока симуляции
	SimulationNumber *int
	// Files — не более одного файла каждого типа
	Files   map[filetype.Type]FilePart
	Intents IntentFlags
}

// ReconcileReport — итог согласования.
type ReconcileReport struct {
	// Inserted — номера добавленных файлов
	Inserted []int
	// Updated — номера файлов, заменённых на месте
	Updated []int
	// Removed — количество удалённых записей
	Removed int
	// Failures — файлы, которые не удалось обработать
	Failures []FileFailure
}

// ObjectWriter — запись объектов в хранилище.
type ObjectWriter interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
	ObjectURL(key string) string
}

// ReconcileService — согласование файлов кейса с реестром.
type ReconcileService struct {
	files   repository.FileRegistryRepository
	store   ObjectWriter
	baseURL string
	logger  *slog.Logger
}

// NewReconcileService создаёт сервис согласования файлов.
// baseURL — публичный базовый URL портала для стабильных ссылок на файлы.
func NewReconcileService(
	files repository.FileRegistryRepository,
	store ObjectWriter,
	baseURL string,
	logger *slog.Logger,
) *ReconcileService {
	return &ReconcileService{
		files:   files,
		store:   store,
		baseURL: baseURL,
		logger:  logger.With(slog.String("component", "reconcile_service")),
	}
}

// plannedFile — файл с решённой операцией.
type plannedFile struct {
	part     FilePart
	existing *model.CaseFile // nil — вставка
	fileID   int
}

// Reconcile согласует файлы кейса.
//
// Pipeline:
//  1. Удаления: слоты с флагом remove и файлы из RemoveFileIDs
//  2. План: для каждого нового файла — замена на месте, если слот занят
//     и флаг existing/не задан, иначе вставка
//  3. Резервирование номеров для всех вставок одним запросом
//  4. Загрузка в хранилище и запись в реестр по одному файлу
//
// Сбой отдельного файла не прерывает обработку остальных: итоговая
// ошибка — *PartialFailureError со списком сбоев. Зарезервированные
// номера не пересматриваются: сбой вставки оставляет пропуск.
func (s *ReconcileService) Reconcile(ctx context.Context, req ReconcileRequest) (*ReconcileReport, error) {
	report := &ReconcileReport{}

	// 1. Удаления — строго до вставок и замен
	s.applyRemovals(ctx, req, report)

	// 2. План
	var plan []*plannedFile
	inserts := 0
	for _, ft := range filetype.All() {
		part, ok := req.Files[ft]
		if !ok {
			continue
		}

		p := &plannedFile{part: part}
		intent := req.Intents.Of(ft)
		if intent == IntentUnspecified || intent == IntentExisting {
			existing, err := s.files.GetBySlot(ctx, req.CaseID, ft, req.SimulationNumber)
			switch {
			case err == nil:
				p.existing = existing
				p.fileID = existing.FileID
			case errors.Is(err, repository.ErrNotFound):
			default:
				s.fail(report, FileFailure{FileType: ft, OriginalName: part.OriginalName, Op: "lookup", Err: err})
				continue
			}
		}
		if p.existing == nil {
			inserts++
		}
		plan = append(plan, p)
	}

	// 3. Резервирование номеров
	if inserts > 0 {
		first, err := s.files.ReserveFileIDs(ctx, req.CaseID, inserts)
		if err != nil {
			// Без номеров ни одна вставка невозможна
			for _, p := range plan {
				if p.existing == nil {
					s.fail(report, FileFailure{FileType: p.part.FileType, OriginalName: p.part.OriginalName, Op: "insert", Err: err})
				}
			}
			plan = onlyUpdates(plan)
		} else {
			next := first
			for _, p := range plan {
				if p.existing == nil {
					p.fileID = next
					next++
				}
			}
		}
	}

	// 4. Выполнение
	for _, p := range plan {
		if p.existing != nil {
			s.applyUpdate(ctx, req, p, report)
		} else {
			s.applyInsert(ctx, req, p, report)
		}
	}

	s.logger.Info("Файлы кейса согласованы",
		slog.String("case_id", req.CaseID),
		slog.Int("inserted", len(report.Inserted)),
		slog.Int("updated", len(report.Updated)),
		slog.Int("removed", report.Removed),
		slog.Int("failed", len(report.Failures)),
	)

	if len(report.Failures) > 0 {
		return report, &PartialFailureError{Failures: report.Failures}
	}
	return report, nil
}

func (s *ReconcileService) applyRemovals(ctx context.Context, req ReconcileRequest, report *ReconcileReport) {
	for _, ft := range filetype.All() {
		if req.Intents.Of(ft) != IntentRemove {
			continue
		}
		n, err := s.files.DeleteBySlot(ctx, req.CaseID, ft, req.SimulationNumber)
		if err != nil {
			s.fail(report, FileFailure{FileType: ft, Op: "remove", Err: err})
			continue
		}
		report.Removed += n
		reconcileFilesTotal.WithLabelValues("remove", "ok").Add(float64(n))
	}

	for _, fileID := range req.Intents.RemoveFileIDs {
		err := s.files.DeleteByFileID(ctx, req.CaseID, fileID)
		if errors.Is(err, repository.ErrNotFound) {
			s.logger.Debug("Файл для удаления уже отсутствует",
				slog.String("case_id", req.CaseID),
				slog.Int("file_id", fileID),
			)
			continue
		}
		if err != nil {
			s.fail(report, FileFailure{FileID: fileID, Op: "remove", Err: err})
			continue
		}
		report.Removed++
		reconcileFilesTotal.WithLabelValues("remove", "ok").Inc()
	}
}

func (s *ReconcileService) applyInsert(ctx context.Context, req ReconcileRequest, p *plannedFile, report *ReconcileReport) {
	content, err := s.upload(ctx, req.CaseID, p.part)
	if err != nil {
		s.fail(report, FileFailure{FileType: p.part.FileType, FileID: p.fileID, OriginalName: p.part.OriginalName, Op: "insert", Err: err})
		return
	}

	signedPath, err := FileLinkPath(s.baseURL, req.CaseID, p.fileID)
	if err != nil {
		s.fail(report, FileFailure{FileType: p.part.FileType, FileID: p.fileID, OriginalName: p.part.OriginalName, Op: "insert", Err: err})
		return
	}

	f := &model.CaseFile{
		CaseID:           req.CaseID,
		FileID:           p.fileID,
		FileType:         p.part.FileType,
		SimulationNumber: req.SimulationNumber,
		StorageKey:       content.StorageKey,
		StoredName:       content.StoredName,
		OriginalName:     content.OriginalName,
		StorageURL:       content.StorageURL,
		Size:             content.Size,
		ContentType:      content.ContentType,
		SignedURLPath:    signedPath,
		UploadedBy:       req.UploaderID,
	}
	if err := s.files.Insert(ctx, f); err != nil {
		s.fail(report, FileFailure{FileType: p.part.FileType, FileID: p.fileID, OriginalName: p.part.OriginalName, Op: "insert", Err: err})
		return
	}

	report.Inserted = append(report.Inserted, p.fileID)
	reconcileFilesTotal.WithLabelValues("insert", "ok").Inc()
}

func (s *ReconcileService) applyUpdate(ctx context.Context, req ReconcileRequest, p *plannedFile, report *ReconcileReport) {
	content, err := s.upload(ctx, req.CaseID, p.part)
	if err == nil {
		err = s.files.ReplaceContent(ctx, p.existing.ID, content, req.UploaderID)
	}
	if err != nil {
		s.fail(report, FileFailure{FileType: p.part.FileType, FileID: p.fileID, OriginalName: p.part.OriginalName, Op: "update", Err: err})
		return
	}

	report.Updated = append(report.Updated, p.fileID)
	reconcileFilesTotal.WithLabelValues("update", "ok").Inc()
}

// upload загружает файл в хранилище под уникальным ключом.
func (s *ReconcileService) upload(ctx context.Context, caseID string, part FilePart) (model.FileContent, error) {
	key := ObjectKey(caseID, part.FileType, uuid.NewString(), part.OriginalName)
	if err := s.store.Put(ctx, key, part.Body, part.Size, part.ContentType); err != nil {
		return model.FileContent{}, err
	}

	return model.FileContent{
		StorageKey:   key,
		StoredName:   StoredName(key),
		OriginalName: part.OriginalName,
		StorageURL:   s.store.ObjectURL(key),
		Size:         part.Size,
		ContentType:  part.ContentType,
	}, nil
}

func (s *ReconcileService) fail(report *ReconcileReport, f FileFailure) {
	report.Failures = append(report.Failures, f)
	reconcileFilesTotal.WithLabelValues(f.Op, "error").Inc()
	s.logger.Warn("Ошибка обработки файла",
		slog.String("op", f.Op),
		slog.String("file_type", string(f.FileType)),
		slog.Int("file_id", f.FileID),
		slog.String("original_name", f.OriginalName),
		slog.String("error", f.Err.Error()),
	)
}

// ValidateRequiredFiles сообщает, будут ли основные сканы присутствовать
// после применения флагов: remove → нет, new → да, иначе — есть ли запись.
func (s *ReconcileService) ValidateRequiredFiles(ctx context.Context, caseID string, intents IntentFlags) (map[filetype.Type]bool, error) {
	result := make(map[filetype.Type]bool, 2)
	for _, ft := range filetype.PrimaryScans() {
		switch intents.Of(ft) {
		case IntentRemove:
			result[ft] = false
		case IntentNew:
			result[ft] = true
		default:
			_, err := s.files.GetBySlot(ctx, caseID, ft, nil)
			switch {
			case err == nil:
				result[ft] = true
			case errors.Is(err, repository.ErrNotFound):
				result[ft] = false
			default:
				return nil, storageErr("проверка обязательных файлов", err)
			}
		}
	}
	return result, nil
}

func onlyUpdates(plan []*plannedFile) []*plannedFile {
	result := plan[:0]
	for _, p := range plan {
		if p.existing != nil {
			result = append(result, p)
		}
	}
	return result
}

// ObjectKey формирует ключ объекта: cases/<case_id>/<file_type>/<uid><ext>.
// Расширение берётся из имени файла клиента в нижнем регистре.
func ObjectKey(caseID string, ft filetype.Type, uid, originalName string) string {
	ext := strings.ToLower(path.Ext(path.Base(strings.ReplaceAll(originalName, `\`, "/"))))
	return fmt.Sprintf("cases/%s/%s/%s%s", caseID, ft, uid, ext)
}

// StoredName возвращает имя объекта без каталога и последнего расширения.
func StoredName(key string) string {
	base := path.Base(key)
	return strings.TrimSuffix(base, path.Ext(base))
}

// FileLinkPath возвращает стабильную ссылку портала на файл:
// <base>/file/<case_id>/<file_id>.
func FileLinkPath(baseURL, caseID string, fileID int) (string, error) {
	link, err := url.JoinPath(baseURL, "file", caseID, strconv.Itoa(fileID))
	if err != nil {
		return "", fmt.Errorf("ошибка построения ссылки на файл: %w", err)
	}
	return link, nil
}
