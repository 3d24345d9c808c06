package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/gabrielee5/grafo-sub000/internal/i18n"
)

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    string `json:"code"`
}

// WriteError renders key in the request locale.
func WriteError(w http.ResponseWriter, r *http.Request, status int, key i18n.Key, args ...any) {
	body := ErrorBody{
		Success: false,
		Error:   i18n.T(LocaleFromContext(r.Context()), key, args...),
		Code:    string(key),
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
