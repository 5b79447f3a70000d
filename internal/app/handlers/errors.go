package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/linemk/storefront/internal/lib/logger/sl"
	"github.com/linemk/storefront/internal/service"
)

// ErrorResponse — тело любого ответа с ошибкой.
type ErrorResponse struct {
	Error string `json:"error"`
}

var validate = validator.New()

// statusFor сопоставляет ошибку сервиса HTTP-статусу и сообщению для клиента.
// Внутренние ошибки наружу не раскрываются.
func statusFor(err error) (int, string) {
	var verr *service.ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, verr.Error()
	case errors.Is(err, service.ErrValidation):
		return http.StatusBadRequest, "validation error"
	case errors.Is(err, service.ErrUnauthenticated), errors.Is(err, service.ErrInvalidCredentials):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, service.ErrProductNotFound):
		return http.StatusNotFound, "product not found"
	case errors.Is(err, service.ErrProductInactive):
		return http.StatusNotFound, "product is not available"
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound, "not found"
	case errors.Is(err, service.ErrInsufficientStock):
		return http.StatusConflict, "insufficient stock"
	case errors.Is(err, service.ErrInvalidTransition):
		return http.StatusConflict, "invalid status transition"
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	status, msg := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", sl.Err(err))
	} else {
		logger.Warn("request rejected", slog.Int("status", status), sl.Err(err))
	}
	writeJSON(w, logger, status, ErrorResponse{Error: msg})
}

func badRequest(w http.ResponseWriter, logger *slog.Logger, msg string, err error) {
	logger.Warn("invalid request", slog.String("reason", msg), sl.Err(err))
	writeJSON(w, logger, http.StatusBadRequest, ErrorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, logger *slog.Logger, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("failed to encode response", sl.Err(err))
	}
}

// validationMessage возвращает первое нарушение в виде "field: tag".
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return "validation error: " + verrs[0].Namespace() + ": " + verrs[0].Tag()
	}
	return "validation error"
}
