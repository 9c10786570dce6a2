// Пакет errors — ответы об ошибках API портала в едином формате
// {"error": {"code": "...", "message": "..."}}.
package errors

import (
	"encoding/json"
	"net/http"
)

// Kind — вид ошибки API: HTTP-статус и машиночитаемый код.
type Kind struct {
	Status int
	Code   string
}

var (
	Validation         = Kind{http.StatusBadRequest, "VALIDATION_ERROR"}
	Unauthorized       = Kind{http.StatusUnauthorized, "UNAUTHORIZED"}
	Forbidden          = Kind{http.StatusForbidden, "FORBIDDEN"}
	NotFound           = Kind{http.StatusNotFound, "NOT_FOUND"}
	Conflict           = Kind{http.StatusConflict, "CONFLICT"}
	InvalidTransition  = Kind{http.StatusConflict, "INVALID_TRANSITION"}
	PayloadTooLarge    = Kind{http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE"}
	Internal           = Kind{http.StatusInternalServerError, "INTERNAL_ERROR"}
	StorageUnavailable = Kind{http.StatusBadGateway, "STORAGE_UNAVAILABLE"}
)

type envelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Write отправляет ошибку данного вида с сообщением для клиента.
func (k Kind) Write(w http.ResponseWriter, message string) {
	var body envelope
	body.Error.Code = k.Code
	body.Error.Message = message

	h := w.Header()
	h.Set("Content-Type", "application/json")
	h.Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(k.Status)
	_ = json.NewEncoder(w).Encode(body)
}
