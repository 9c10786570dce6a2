// errors.go — ошибки бизнес-логики сервисного слоя.
package service

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Hazimafiq/test-express-portal/internal/domain/filetype"
)

var (
	// ErrNotFound — ресурс не найден (или недоступен текущему пользователю).
	ErrNotFound = errors.New("ресурс не найден")
	// ErrValidation — ошибка валидации входных данных.
	ErrValidation = errors.New("ошибка валидации")
	// ErrStorage — сбой хранилища (БД или объектного хранилища).
	ErrStorage = errors.New("ошибка хранилища")
	// ErrInvalidTransition — переход статуса или операция недопустимы в текущем статусе.
	ErrInvalidTransition = errors.New("недопустимая операция для статуса кейса")
	// ErrForbidden — недостаточно прав.
	ErrForbidden = errors.New("недостаточно прав")
	// ErrConflict — конфликт параллельных изменений.
	ErrConflict = errors.New("конфликт параллельных изменений")
	// ErrPartialFailure — часть файлов не обработана.
	ErrPartialFailure = errors.New("часть файлов не обработана")
)

// FileFailure — сбой обработки одного файла.
type FileFailure struct {
	// FileType — тип файла
	FileType filetype.Type
	// FileID — номер файла (для удаления по номеру или после резервирования)
	FileID int
	// OriginalName — имя файла на стороне клиента
	OriginalName string
	// Op — remove, insert, update, archive
	Op  string
	Err error
}

// PartialFailureError — операция выполнена не для всех файлов.
// errors.Is(err, ErrPartialFailure) == true.
type PartialFailureError struct {
	Failures []FileFailure
}

func (e *PartialFailureError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s %s: %v", f.Op, f.FileType, f.Err))
	}
	return fmt.Sprintf("%s (%d): %s", ErrPartialFailure, len(e.Failures), strings.Join(parts, "; "))
}

// Is сопоставляет ошибку с ErrPartialFailure.
func (e *PartialFailureError) Is(target error) bool {
	return target == ErrPartialFailure
}

// validationf формирует ошибку валидации с описанием.
func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// storageErr оборачивает сбой хранилища, сохраняя исходную причину.
func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}
