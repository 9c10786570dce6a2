package model

import (
	"time"

	"github.com/Hazimafiq/test-express-portal/internal/domain/filetype"
)

// CaseFile — файл кейса. Хранится в таблице case_files.
//
// Поля SignedURL и SignedURLExpiresAt — персистентный кэш подписанной
// ссылки на объект; при замене содержимого оба сбрасываются в NULL.
type CaseFile struct {
	// ID — суррогатный ключ строки
	ID int64
	// CaseID — кейс-владелец
	CaseID string
	// FileID — порядковый номер файла в пределах кейса (1, 2, ...)
	FileID int
	// FileType — тип файла из закрытого словаря
	FileType filetype.Type
	// SimulationNumber — номер плана симуляции (только для файлов симуляции)
	SimulationNumber *int
	// StorageKey — ключ объекта в хранилище
	StorageKey string
	// StoredName — имя объекта без расширения
	StoredName string
	// OriginalName — имя файла на стороне клиента
	OriginalName string
	// StorageURL — постоянный URL объекта в хранилище
	StorageURL string
	// Size — размер в байтах
	Size int64
	// ContentType — MIME-тип
	ContentType string
	// SignedURLPath — стабильная ссылка портала на файл
	SignedURLPath string
	// SignedURL — закэшированная подписанная ссылка
	SignedURL *string
	// SignedURLExpiresAt — время истечения подписанной ссылки
	SignedURLExpiresAt *time.Time
	// AccessCount — число обращений к файлу
	AccessCount int
	// UploadedBy — идентификатор загрузившего (sub из JWT)
	UploadedBy string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// FileContent — метаданные загруженного в хранилище объекта,
// общие для вставки и замены файла.
type FileContent struct {
	StorageKey   string
	StoredName   string
	OriginalName string
	StorageURL   string
	Size         int64
	ContentType  string
}
