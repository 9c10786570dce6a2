package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Hazimafiq/test-express-portal/internal/domain/filetype"
	"github.com/Hazimafiq/test-express-portal/internal/domain/model"
)

// Колонки case_files для SELECT (порядок совпадает со scanCaseFile).
const caseFileColumns = `id, case_id, file_id, file_type, simulation_number, storage_key,
	stored_name, original_name, storage_url, size, content_type, signed_url_path,
	signed_url, signed_url_expires_at, access_count, uploaded_by, created_at, updated_at`

// FileRegistryRepository — интерфейс доступа к таблице case_files.
//
// Слот файла — пара (file_type, simulation_number) в пределах кейса.
// simulation_number = nil адресует файлы вне планов симуляции.
type FileRegistryRepository interface {
	// ListByCase возвращает все файлы кейса по возрастанию file_id.
	ListByCase(ctx context.Context, caseID string) ([]*model.CaseFile, error)
	// ListByTypes возвращает файлы кейса указанных типов.
	ListByTypes(ctx context.Context, caseID string, types []filetype.Type) ([]*model.CaseFile, error)
	// GetByFileID возвращает файл по порядковому номеру в кейсе.
	GetByFileID(ctx context.Context, caseID string, fileID int) (*model.CaseFile, error)
	// GetBySlot возвращает текущий (последний) файл слота.
	GetBySlot(ctx context.Context, caseID string, ft filetype.Type, simulationNumber *int) (*model.CaseFile, error)
	// ReserveFileIDs резервирует n последовательных file_id и возвращает первый.
	// Номера выше любого когда-либо выданного в кейсе, даже после удаления файлов.
	ReserveFileIDs(ctx context.Context, caseID string, n int) (int, error)
	// Insert создаёт запись файла с уже зарезервированным FileID.
	Insert(ctx context.Context, f *model.CaseFile) error
	// ReplaceContent заменяет содержимое файла на месте и сбрасывает
	// закэшированную подписанную ссылку.
	ReplaceContent(ctx context.Context, id int64, content model.FileContent, uploadedBy string) error
	// DeleteBySlot удаляет все файлы слота, возвращает количество.
	DeleteBySlot(ctx context.Context, caseID string, ft filetype.Type, simulationNumber *int) (int, error)
	// DeleteByFileID удаляет файл по порядковому номеру в кейсе.
	DeleteByFileID(ctx context.Context, caseID string, fileID int) error
	// StoreSignedURL сохраняет новую подписанную ссылку и увеличивает счётчик обращений.
	StoreSignedURL(ctx context.Context, id int64, signedURL string, expiresAt time.Time) error
	// IncrementAccess увеличивает счётчик обращений.
	IncrementAccess(ctx context.Context, id int64) error
}

type fileRegistryRepo struct {
	db DBTX
}

// NewFileRegistryRepository создаёт репозиторий файлов кейсов.
func NewFileRegistryRepository(db DBTX) FileRegistryRepository {
	return &fileRegistryRepo{db: db}
}

func (r *fileRegistryRepo) ListByCase(ctx context.Context, caseID string) ([]*model.CaseFile, error) {
	query := fmt.Sprintf(`SELECT %s FROM case_files WHERE case_id = $1 ORDER BY file_id`, caseFileColumns)
	return r.list(ctx, query, caseID)
}

func (r *fileRegistryRepo) ListByTypes(ctx context.Context, caseID string, types []filetype.Type) ([]*model.CaseFile, error) {
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = string(t)
	}

	query := fmt.Sprintf(`
		SELECT %s FROM case_files
		WHERE case_id = $1 AND file_type = ANY($2)
		ORDER BY file_id`, caseFileColumns)
	return r.list(ctx, query, caseID, names)
}

func (r *fileRegistryRepo) list(ctx context.Context, query string, args ...any) ([]*model.CaseFile, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения файлов кейса: %w", err)
	}
	defer rows.Close()

	var result []*model.CaseFile
	for rows.Next() {
		f, err := scanCaseFile(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования файла: %w", err)
		}
		result = append(result, f)
	}
	return result, rows.Err()
}

func (r *fileRegistryRepo) GetByFileID(ctx context.Context, caseID string, fileID int) (*model.CaseFile, error) {
	query := fmt.Sprintf(`SELECT %s FROM case_files WHERE case_id = $1 AND file_id = $2`, caseFileColumns)

	f, err := scanCaseFile(r.db.QueryRow(ctx, query, caseID, fileID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения файла: %w", err)
	}
	return f, nil
}

func (r *fileRegistryRepo) GetBySlot(ctx context.Context, caseID string, ft filetype.Type, simulationNumber *int) (*model.CaseFile, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM case_files
		WHERE case_id = $1 AND file_type = $2 AND simulation_number IS NOT DISTINCT FROM $3
		ORDER BY file_id DESC
		LIMIT 1`, caseFileColumns)

	f, err := scanCaseFile(r.db.QueryRow(ctx, query, caseID, string(ft), simulationNumber))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения файла слота: %w", err)
	}
	return f, nil
}

func (r *fileRegistryRepo) ReserveFileIDs(ctx context.Context, caseID string, n int) (int, error) {
	if n <= 0 {
		return 0, fmt.Errorf("некорректное количество номеров: %d", n)
	}

	var last int
	err := r.db.QueryRow(ctx, `
		UPDATE cases
		SET last_file_id = GREATEST(
			last_file_id,
			COALESCE((SELECT MAX(file_id) FROM case_files WHERE case_id = $1), 0)
		) + $2
		WHERE case_id = $1
		RETURNING last_file_id`,
		caseID, n,
	).Scan(&last)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("ошибка резервирования file_id: %w", err)
	}
	return last - n + 1, nil
}

func (r *fileRegistryRepo) Insert(ctx context.Context, f *model.CaseFile) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO case_files (case_id, file_id, file_type, simulation_number, storage_key,
			stored_name, original_name, storage_url, size, content_type, signed_url_path, uploaded_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id, created_at, updated_at`,
		f.CaseID, f.FileID, string(f.FileType), f.SimulationNumber, f.StorageKey,
		f.StoredName, f.OriginalName, f.StorageURL, f.Size, f.ContentType, f.SignedURLPath, f.UploadedBy,
	).Scan(&f.ID, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: file_id %d уже занят в кейсе %s", ErrConflict, f.FileID, f.CaseID)
		}
		return fmt.Errorf("ошибка регистрации файла: %w", err)
	}
	return nil
}

func (r *fileRegistryRepo) ReplaceContent(ctx context.Context, id int64, content model.FileContent, uploadedBy string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE case_files
		SET storage_key = $2, stored_name = $3, original_name = $4, storage_url = $5,
			size = $6, content_type = $7, uploaded_by = $8,
			signed_url = NULL, signed_url_expires_at = NULL, updated_at = NOW()
		WHERE id = $1`,
		id, content.StorageKey, content.StoredName, content.OriginalName, content.StorageURL,
		content.Size, content.ContentType, uploadedBy,
	)
	if err != nil {
		return fmt.Errorf("ошибка замены файла: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *fileRegistryRepo) DeleteBySlot(ctx context.Context, caseID string, ft filetype.Type, simulationNumber *int) (int, error) {
	tag, err := r.db.Exec(ctx, `
		DELETE FROM case_files
		WHERE case_id = $1 AND file_type = $2 AND simulation_number IS NOT DISTINCT FROM $3`,
		caseID, string(ft), simulationNumber,
	)
	if err != nil {
		return 0, fmt.Errorf("ошибка удаления файлов слота: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *fileRegistryRepo) DeleteByFileID(ctx context.Context, caseID string, fileID int) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM case_files WHERE case_id = $1 AND file_id = $2`, caseID, fileID)
	if err != nil {
		return fmt.Errorf("ошибка удаления файла: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *fileRegistryRepo) StoreSignedURL(ctx context.Context, id int64, signedURL string, expiresAt time.Time) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE case_files
		SET signed_url = $2, signed_url_expires_at = $3, access_count = access_count + 1
		WHERE id = $1`,
		id, signedURL, expiresAt,
	)
	if err != nil {
		return fmt.Errorf("ошибка сохранения подписанной ссылки: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *fileRegistryRepo) IncrementAccess(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `UPDATE case_files SET access_count = access_count + 1 WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("ошибка обновления счётчика обращений: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanCaseFile(row rowScanner) (*model.CaseFile, error) {
	f := &model.CaseFile{}
	var ft string
	if err := row.Scan(
		&f.ID, &f.CaseID, &f.FileID, &ft, &f.SimulationNumber, &f.StorageKey,
		&f.StoredName, &f.OriginalName, &f.StorageURL, &f.Size, &f.ContentType, &f.SignedURLPath,
		&f.SignedURL, &f.SignedURLExpiresAt, &f.AccessCount, &f.UploadedBy, &f.CreatedAt, &f.UpdatedAt,
	); err != nil {
		return nil, err
	}
	f.FileType = filetype.Type(ft)
	return f, nil
}
