package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/authz-engine/rbac-core/internal/audit"
	"github.com/authz-engine/rbac-core/internal/engine"
)

const requestIDHeader = "X-Request-ID"

// maxBodyBytes bounds request bodies
const maxBodyBytes = 1 << 20

func requestID(r *http.Request) string {
	if id := r.Header.Get(requestIDHeader); id != "" {
		return id
	}
	return uuid.NewString()
}

// authorizeHandler handles POST /v1/authorize
func (s *Server) authorizeHandler(w http.ResponseWriter, r *http.Request) {
	id := requestID(r)
	w.Header().Set(requestIDHeader, id)

	var req AuthorizeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, id, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if req.User == nil || req.User.ID == "" {
		s.writeError(w, http.StatusBadRequest, id, "user.id is required")
		return
	}
	if req.Permission == "" {
		s.writeError(w, http.StatusBadRequest, id, "permission is required")
		return
	}

	ctx := audit.WithRequestID(r.Context(), id)
	allowed, err := s.engine.Authorize(ctx, req.Permission, req.User, req.Resource)
	if err != nil && errors.Is(err, engine.ErrHydration) {
		s.logger.Error("Authorization check failed",
			zap.String("request_id", id),
			zap.Error(err),
		)
		s.writeError(w, http.StatusInternalServerError, id, "role hydration failed")
		return
	}

	// Invalid policy data has already been logged by the engine and denies
	status := http.StatusOK
	if !allowed || err != nil {
		status = http.StatusForbidden
	}
	_ = WriteJSON(w, status, AuthorizeResponse{Allowed: allowed && err == nil, RequestID: id})
}

// authorizeBatchHandler handles POST /v1/authorize/batch
func (s *Server) authorizeBatchHandler(w http.ResponseWriter, r *http.Request) {
	id := requestID(r)
	w.Header().Set(requestIDHeader, id)

	var req BatchRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, id, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if req.User == nil || req.User.ID == "" {
		s.writeError(w, http.StatusBadRequest, id, "user.id is required")
		return
	}
	if len(req.Checks) > s.config.MaxBatch {
		s.writeError(w, http.StatusRequestEntityTooLarge, id,
			fmt.Sprintf("batch of %d checks exceeds the limit of %d", len(req.Checks), s.config.MaxBatch))
		return
	}
	for i, c := range req.Checks {
		if c.Permission == "" {
			s.writeError(w, http.StatusBadRequest, id, fmt.Sprintf("checks[%d].permission is required", i))
			return
		}
	}

	ctx := audit.WithRequestID(r.Context(), id)
	results, err := s.engine.EvaluateBatch(ctx, req.Checks, req.User)
	if err != nil {
		s.logger.Error("Batch authorization failed",
			zap.String("request_id", id),
			zap.Int("checks", len(req.Checks)),
			zap.Error(err),
		)
		s.writeError(w, http.StatusInternalServerError, id, "role hydration failed")
		return
	}

	resp := BatchResponse{Results: make([]BatchResult, len(results)), RequestID: id}
	for i, res := range results {
		resp.Results[i] = BatchResult{Allowed: res.Allowed, Failed: res.Err != nil}
	}
	_ = WriteJSON(w, http.StatusOK, resp)
}

func (s *Server) writeError(w http.ResponseWriter, status int, id, message string) {
	_ = WriteJSON(w, status, ErrorResponse{Error: message, RequestID: id})
}
