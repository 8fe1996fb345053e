package httpx

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-stripe-orders/internal/apperr"
)

type errorBody struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

var statusByKind = map[apperr.Kind]int{
	apperr.KindValidation:        http.StatusBadRequest,
	apperr.KindAuthentication:    http.StatusUnauthorized,
	apperr.KindNotFound:          http.StatusNotFound,
	apperr.KindStateConflict:     http.StatusBadRequest,
	apperr.KindTransientUpstream: http.StatusServiceUnavailable,
	apperr.KindPersistence:       http.StatusInternalServerError,
	apperr.KindInternal:          http.StatusInternalServerError,
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, log *zap.Logger, err error) {
	kind := apperr.KindOf(err)
	code, ok := statusByKind[kind]
	if !ok {
		code = http.StatusInternalServerError
	}
	if code >= http.StatusInternalServerError {
		log.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("kind", string(kind)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err))
	}
	writeJSON(w, code, errorBody{Message: apperr.Message(err), Code: string(kind)})
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperr.Validation("Invalid request body")
	}
	return nil
}
