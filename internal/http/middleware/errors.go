package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/wolfman30/carebook/internal/apperr"
)

type errorBody struct {
	Error   apperr.Kind  `json:"error"`
	Message string       `json:"message"`
	Retry   apperr.Retry `json:"retry"`
}

func writeError(w http.ResponseWriter, err error) {
	writeErrorStatus(w, apperr.HTTPStatus(apperr.KindOf(err)), err)
}

func writeErrorStatus(w http.ResponseWriter, status int, err error) {
	kind := apperr.KindOf(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{
		Error:   kind,
		Message: apperr.UserMessage(err),
		Retry:   apperr.RetryOf(err),
	})
}
