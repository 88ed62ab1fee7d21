package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/gridlens/gridlens/internal/core/tibber"
)

type errorResponse struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleHomes(w http.ResponseWriter, r *http.Request) {
	homes, err := s.api.GetHomes(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, homes)
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	homeID := chi.URLParam(r, "homeID")
	devices, err := s.api.GetDevices(r.Context(), homeID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, devices)
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	report, err := s.reporter.Compile(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.api.CacheStats())
}

func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	s.api.InvalidateCache()
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (s *Server) handleLimiterState(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.api.LimiterState())
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Debug("failed to encode response", zap.Error(err))
	}
}

// writeError maps client errors onto HTTP statuses: credential failures and
// invalid input are the caller's problem, everything else is an upstream
// failure.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	code := "INTERNAL_ERROR"

	var authErr *tibber.AuthError
	var apiErr *tibber.APIError
	switch {
	case errors.As(err, &authErr):
		status = http.StatusBadGateway
		code = "UPSTREAM_AUTH_FAILED"
	case errors.As(err, &apiErr):
		if apiErr.Op == "validate" {
			status = http.StatusBadRequest
			code = "INVALID_INPUT"
		} else {
			status = http.StatusBadGateway
			code = "UPSTREAM_ERROR"
		}
	}

	requestID := middleware.GetReqID(r.Context())
	s.logger.Warn("request failed",
		zap.String("path", r.URL.Path),
		zap.String("code", code),
		zap.String("request_id", requestID),
		zap.Error(err))

	s.writeJSON(w, status, errorResponse{Error: errorDetail{
		Code:      code,
		Message:   err.Error(),
		RequestID: requestID,
	}})
}
