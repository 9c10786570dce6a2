// Пакет status — конечный автомат статусов кейса.
//
// Жизненный цикл:
//   - draft ↔ submitted — кейс может быть отправлен и возвращён в черновик
//   - draft | submitted → deleted — мягкое удаление
//   - deleted — конечный статус, переходы запрещены
//
// Автомат не хранит состояние: текущий статус живёт в БД, а переход
// применяется условным UPDATE по множеству допустимых исходных статусов
// (см. Sources).
package status

import (
	"fmt"
	"strconv"
	"strings"
)

// Status — статус кейса. Значения совпадают с кодами в БД.
type Status int

const (
	// Deleted — кейс удалён (мягкое удаление, строка остаётся)
	Deleted Status = -1
	// Draft — черновик
	Draft Status = 0
	// Submitted — кейс отправлен в лабораторию
	Submitted Status = 1
)

// Operation — операция над кейсом.
type Operation string

const (
	OpView     Operation = "view"
	OpEdit     Operation = "edit"
	OpUpload   Operation = "upload"
	OpDownload Operation = "download"
	OpComment  Operation = "comment"
	OpSimulate Operation = "simulate"
)

// validTransitions — матрица допустимых переходов.
// Повторная установка draft или submitted допустима (идемпотентное сохранение).
var validTransitions = map[Status]map[Status]bool{
	Draft:     {Draft: true, Submitted: true, Deleted: true},
	Submitted: {Submitted: true, Draft: true, Deleted: true},
	Deleted:   {},
}

// allowedOperations — матрица допустимых операций для каждого статуса.
var allowedOperations = map[Status]map[Operation]bool{
	Draft:     {OpView: true, OpEdit: true, OpUpload: true, OpDownload: true, OpComment: true},
	Submitted: {OpView: true, OpEdit: true, OpUpload: true, OpDownload: true, OpComment: true, OpSimulate: true},
	Deleted:   {OpView: true, OpDownload: true},
}

// String возвращает машиночитаемое имя статуса.
func (s Status) String() string {
	switch s {
	case Draft:
		return "draft"
	case Submitted:
		return "submitted"
	case Deleted:
		return "deleted"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Valid сообщает, является ли значение допустимым статусом.
func (s Status) Valid() bool {
	_, ok := validTransitions[s]
	return ok
}

// CanTransition проверяет, допустим ли переход from → to.
func CanTransition(from, to Status) bool {
	return validTransitions[from][to]
}

// CheckTransition возвращает *TransitionError, если переход недопустим.
func CheckTransition(from, to Status) error {
	if !to.Valid() {
		return &TransitionError{
			Code:    "INVALID_STATUS",
			Message: fmt.Sprintf("недопустимый целевой статус: %d", int(to)),
		}
	}
	if !CanTransition(from, to) {
		return &TransitionError{
			Code:    "INVALID_TRANSITION",
			Message: fmt.Sprintf("переход %s → %s недопустим", from, to),
		}
	}
	return nil
}

// Sources возвращает статусы, из которых допустим переход в to.
// Используется для условного UPDATE ... WHERE status = ANY(...).
func Sources(to Status) []Status {
	var result []Status
	// Фиксированный порядок для стабильных SQL-параметров
	for _, from := range []Status{Draft, Submitted, Deleted} {
		if validTransitions[from][to] {
			result = append(result, from)
		}
	}
	return result
}

// CanPerform проверяет, допустима ли операция в указанном статусе.
func CanPerform(s Status, op Operation) bool {
	return allowedOperations[s][op]
}

// AllowedOperations возвращает операции, доступные в статусе, в стабильном порядке.
func AllowedOperations(s Status) []Operation {
	ops := allowedOperations[s]
	result := make([]Operation, 0, len(ops))
	for _, op := range []Operation{OpView, OpEdit, OpUpload, OpDownload, OpComment, OpSimulate} {
		if ops[op] {
			result = append(result, op)
		}
	}
	return result
}

// Parse разбирает статус из числового кода ("-1", "0", "1") или имени.
func Parse(s string) (Status, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	switch s {
	case "draft":
		return Draft, nil
	case "submitted":
		return Submitted, nil
	case "deleted":
		return Deleted, nil
	}

	n, err := strconv.Atoi(s)
	if err == nil && Status(n).Valid() {
		return Status(n), nil
	}
	return 0, fmt.Errorf("недопустимый статус: %q, допустимые: -1, 0, 1, draft, submitted, deleted", s)
}

// TransitionError — ошибка перехода между статусами.
type TransitionError struct {
	Code    string // INVALID_TRANSITION, INVALID_STATUS, OPERATION_NOT_ALLOWED
	Message string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// CheckOperation возвращает *TransitionError, если операция недоступна в статусе.
func CheckOperation(s Status, op Operation) error {
	if CanPerform(s, op) {
		return nil
	}
	return &TransitionError{
		Code:    "OPERATION_NOT_ALLOWED",
		Message: fmt.Sprintf("операция %s недоступна для кейса в статусе %s", op, s),
	}
}
