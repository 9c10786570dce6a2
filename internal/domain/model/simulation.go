package model

import "time"

// Решения врача по плану симуляции.
const (
	DecisionApproved = "approved"
	DecisionRevoked  = "revoked"
)

// SimulationPlan — план симуляции лечения. Хранится в таблице simulation_plans.
type SimulationPlan struct {
	CaseID string
	// SimulationNumber — номер плана в пределах кейса, начиная с 1
	SimulationNumber int
	// SimulationURL — ссылка на просмотрщик симуляции
	SimulationURL string
	// Decision — approved, revoked или nil (ожидает решения)
	Decision  *string
	CreatedBy string
	DecidedBy *string
	DecidedAt *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
	// IPRFiles — файлы схемы сепарации, привязанные к плану
	IPRFiles []*CaseFile
}
