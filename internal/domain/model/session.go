package model

// Роли пользователей портала.
const (
	// RoleDoctor — врач: видит и меняет только свои кейсы
	RoleDoctor = "doctor"
	// RoleLab — сотрудник лаборатории: все кейсы, планы симуляции
	RoleLab = "lab"
	// RoleAdmin — администратор: полный доступ
	RoleAdmin = "admin"
)

// Session — аутентифицированный пользователь запроса.
type Session struct {
	// UserID — sub из JWT
	UserID string
	// Name — отображаемое имя
	Name string
	// Role — doctor, lab, admin
	Role string
}

// IsStaff сообщает, имеет ли пользователь доступ ко всем кейсам.
func (s Session) IsStaff() bool {
	return s.Role == RoleLab || s.Role == RoleAdmin
}
