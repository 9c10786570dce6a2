// archive.go — выгрузка файлов кейса одним zip-архивом.
package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"

	"github.com/klauspost/compress/zip"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Hazimafiq/test-express-portal/internal/domain/filetype"
	"github.com/Hazimafiq/test-express-portal/internal/domain/model"
	"github.com/Hazimafiq/test-express-portal/internal/domain/status"
	"github.com/Hazimafiq/test-express-portal/internal/repository"
)

var archiveFilesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "cp_archive_files_total",
	Help: "Количество файлов, записанных в архивы (по результату).",
}, []string{"result"})

// missingListName — файл в архиве со списком не попавших в него файлов.
const missingListName = "MISSING.txt"

// ObjectStreamer — чтение объектов из хранилища.
type ObjectStreamer interface {
	Stream(ctx context.Context, key string) (io.ReadCloser, error)
}

// Archive — подготовленный к выгрузке набор файлов.
type Archive struct {
	// Name — имя архива для Content-Disposition
	Name  string
	Group filetype.Group
	files []*model.CaseFile
}

// ArchiveReport — итог записи архива.
type ArchiveReport struct {
	Written  int
	Failures []FileFailure
}

// ArchiveService собирает архивы моделей и фотографий кейса.
type ArchiveService struct {
	cases    *CaseService
	files    repository.FileRegistryRepository
	streamer ObjectStreamer
	logger   *slog.Logger
}

// NewArchiveService создаёт сервис архивов.
func NewArchiveService(cases *CaseService, files repository.FileRegistryRepository, streamer ObjectStreamer, logger *slog.Logger) *ArchiveService {
	return &ArchiveService{
		cases:    cases,
		files:    files,
		streamer: streamer,
		logger:   logger.With(slog.String("component", "archive_service")),
	}
}

// Prepare проверяет доступ и выбирает файлы группы.
// ErrNotFound — в кейсе нет файлов группы.
func (s *ArchiveService) Prepare(ctx context.Context, session model.Session, caseID string, group filetype.Group) (*Archive, error) {
	if _, err := s.cases.Authorize(ctx, session, caseID, status.OpDownload); err != nil {
		return nil, err
	}

	list, err := s.files.ListByTypes(ctx, caseID, group.Members())
	if err != nil {
		return nil, storageErr("получение файлов для архива", err)
	}
	// Файлы симуляций в архив кейса не входят
	files := list[:0]
	for _, f := range list {
		if f.SimulationNumber == nil {
			files = append(files, f)
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: в кейсе %s нет файлов группы %s", ErrNotFound, caseID, group)
	}

	return &Archive{
		Name:  fmt.Sprintf("%s_%s.zip", caseID, group),
		Group: group,
		files: files,
	}, nil
}

// Write потоково пишет архив в w. Сбой чтения отдельного объекта не
// прерывает архив: файл пропускается и попадает в MISSING.txt.
// Ошибка возвращается только при сбое записи в w.
func (s *ArchiveService) Write(ctx context.Context, a *Archive, w io.Writer) (*ArchiveReport, error) {
	report := &ArchiveReport{}
	zw := zip.NewWriter(w)

	// Сканы хорошо сжимаются, фотографии уже сжаты
	method := zip.Deflate
	if a.Group == filetype.GroupPhotos {
		method = zip.Store
	}

	for _, f := range a.files {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		written, err := s.writeEntry(ctx, zw, f, method)
		if err != nil {
			if written {
				// Запись в w уже началась — архив испорчен
				archiveFilesTotal.WithLabelValues("error").Inc()
				return report, fmt.Errorf("ошибка записи архива: %w", err)
			}
			report.Failures = append(report.Failures, FileFailure{
				FileType:     f.FileType,
				FileID:       f.FileID,
				OriginalName: f.OriginalName,
				Op:           "archive",
				Err:          err,
			})
			archiveFilesTotal.WithLabelValues("skipped").Inc()
			s.logger.Warn("Файл пропущен при сборке архива",
				slog.String("case_id", f.CaseID),
				slog.Int("file_id", f.FileID),
				slog.String("error", err.Error()),
			)
			continue
		}
		report.Written++
		archiveFilesTotal.WithLabelValues("ok").Inc()
	}

	if len(report.Failures) > 0 {
		if err := writeMissingList(zw, report.Failures); err != nil {
			return report, fmt.Errorf("ошибка записи архива: %w", err)
		}
	}
	if err := zw.Close(); err != nil {
		return report, fmt.Errorf("ошибка завершения архива: %w", err)
	}

	s.logger.Info("Архив выгружен",
		slog.String("name", a.Name),
		slog.Int("written", report.Written),
		slog.Int("skipped", len(report.Failures)),
	)
	return report, nil
}

// writeEntry копирует объект в архив. written=true означает, что
// заголовок записи уже создан и ошибка не может быть пропущена.
func (s *ArchiveService) writeEntry(ctx context.Context, zw *zip.Writer, f *model.CaseFile, method uint16) (written bool, err error) {
	body, err := s.streamer.Stream(ctx, f.StorageKey)
	if err != nil {
		return false, err
	}
	defer body.Close()

	entry, err := zw.CreateHeader(&zip.FileHeader{
		Name:     ArchiveEntryName(f),
		Method:   method,
		Modified: f.UpdatedAt,
	})
	if err != nil {
		return true, err
	}
	if _, err := io.Copy(entry, body); err != nil {
		return true, err
	}
	return true, nil
}

// ArchiveEntryName — имя файла в архиве: <file_type>_<file_id><ext>.
func ArchiveEntryName(f *model.CaseFile) string {
	ext := strings.ToLower(path.Ext(f.StorageKey))
	return fmt.Sprintf("%s_%d%s", f.FileType, f.FileID, ext)
}

func writeMissingList(zw *zip.Writer, failures []FileFailure) error {
	entry, err := zw.Create(missingListName)
	if err != nil {
		return err
	}
	for _, f := range failures {
		if _, err := fmt.Fprintf(entry, "%s_%d\t%s\t%v\n", f.FileType, f.FileID, f.OriginalName, f.Err); err != nil {
			return err
		}
	}
	return nil
}
