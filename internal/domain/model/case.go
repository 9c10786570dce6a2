// Пакет model — доменные модели Case Portal.
package model

import (
	"time"

	"github.com/Hazimafiq/test-express-portal/internal/domain/status"
)

// Категории кейса: обычный кейс с клиническими параметрами
// или загрузка одних только STL-моделей.
const (
	CategoryNormal = "normal"
	CategorySTL    = "stl"
)

// Case — кейс пациента. Хранится в таблице cases.
type Case struct {
	// CaseID — идентификатор вида "abc-1234"
	CaseID string
	// Name — имя пациента
	Name string
	// Gender — пол пациента
	Gender string
	// DOB — дата рождения (опционально)
	DOB *time.Time
	// Email — email пациента
	Email string
	// TreatmentBrand — бренд элайнеров
	TreatmentBrand string
	// CustomSN — серийный номер клиники (опционально)
	CustomSN string
	// Category — normal или stl
	Category string
	// OwnerID — идентификатор врача-владельца (sub из JWT)
	OwnerID string
	// Status — draft, submitted, deleted
	Status status.Status
	// CreatedAt — время создания записи
	CreatedAt time.Time
	// UpdatedAt — время последнего обновления
	UpdatedAt time.Time
}

// Treatment — клинические параметры лечения (1:1 с кейсом).
// Хранится в таблице treatment_models.
type Treatment struct {
	CaseID string

	Crowding           bool
	DeepBite           bool
	Spacing            bool
	NarrowArch         bool
	ClassIIDiv1        bool
	ClassIIDiv2        bool
	ClassIII           bool
	OpenBite           bool
	Overjet            bool
	AnteriorCrossbite  bool
	PosteriorCrossbite bool

	// Others — прочие жалобы свободным текстом
	Others string
	// IPR — нужна ли сепарация (yes/no)
	IPR string
	// Attachments — допускаются ли аттачменты (yes/no)
	Attachments string
	// TreatmentNotes — примечания врача
	TreatmentNotes string
	// ModelType — тип модели (digital, physical)
	ModelType string

	// Product — продукт (только для STL-кейсов)
	Product string
	// ArrivalDate — ожидаемая дата поступления моделей (только для STL-кейсов)
	ArrivalDate *time.Time

	UpdatedAt time.Time
}

// CaseQuery — параметры поиска кейсов.
type CaseQuery struct {
	// Brand — фильтр по бренду (точное совпадение)
	Brand *string
	// Status — фильтр по статусу. Без фильтра удалённые кейсы скрыты.
	Status *status.Status
	// Search — подстрока в case_id или имени пациента
	Search *string
	// CreatedFrom, CreatedTo — включительный диапазон дат создания
	CreatedFrom *time.Time
	CreatedTo   *time.Time
	// UpdatedFrom, UpdatedTo — включительный диапазон дат обновления
	UpdatedFrom *time.Time
	UpdatedTo   *time.Time
	// OwnerID — ограничение по владельцу (для роли doctor)
	OwnerID *string
	// SortBy — поле сортировки: created_at, updated_at
	SortBy string
	// SortOrder — asc или desc
	SortOrder string
	Limit     int
	Offset    int
}

// StatusCounts — количество кейсов по статусам.
type StatusCounts struct {
	// All — draft + submitted
	All       int
	Submitted int
	Draft     int
}
