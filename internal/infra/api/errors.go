package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"learnmate/internal/domain"
	"learnmate/internal/infra/i18n"
	"learnmate/internal/infra/logging"
)

type errorBody struct {
	Detail string `json:"detail"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, errorBody{Detail: detail})
}

// statusFor maps domain errors to HTTP status codes and the text clients see.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden, domain.ErrForbidden.Error()
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, i18n.T("api.not_found")
	case errors.Is(err, domain.ErrSessionBusy):
		return http.StatusConflict, domain.ErrSessionBusy.Error()
	case errors.Is(err, domain.ErrAlreadyExists):
		return http.StatusConflict, domain.ErrAlreadyExists.Error()
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests, domain.ErrRateLimited.Error()
	case errors.Is(err, domain.ErrUpstreamTimeout):
		return http.StatusGatewayTimeout, i18n.T("api.upstream_timeout")
	case errors.Is(err, domain.ErrUpstreamUnavailable), errors.Is(err, domain.ErrEmptyCompletion):
		return http.StatusBadGateway, i18n.T("api.upstream_unavailable")
	default:
		return http.StatusInternalServerError, i18n.T("api.internal")
	}
}

func writeError(w http.ResponseWriter, r *http.Request, log *zerolog.Logger, err error) {
	status, detail := statusFor(err)
	if status >= http.StatusInternalServerError {
		logging.With(r.Context(), log).Error().Err(err).Int("status", status).Msg("request failed")
	}
	writeDetail(w, status, detail)
}
