package api

import (
	"encoding/json"
	"net/http"

	"github.com/authz-engine/rbac-core/pkg/types"
)

// AuthorizeRequest is the body of POST /v1/authorize
type AuthorizeRequest struct {
	User       *types.User      `json:"user"`
	Permission types.Permission `json:"permission"`
	Resource   types.Resource   `json:"resource,omitempty"`
}

// AuthorizeResponse answers a single check
type AuthorizeResponse struct {
	Allowed   bool   `json:"allowed"`
	RequestID string `json:"request_id"`
}

// BatchRequest is the body of POST /v1/authorize/batch
type BatchRequest struct {
	User   *types.User   `json:"user"`
	Checks []types.Check `json:"checks"`
}

// BatchResult is one entry of a batch response. Failed marks a check denied
// because of invalid policy data.
type BatchResult struct {
	Allowed bool `json:"allowed"`
	Failed  bool `json:"failed,omitempty"`
}

// BatchResponse answers a batch in request order
type BatchResponse struct {
	Results   []BatchResult `json:"results"`
	RequestID string        `json:"request_id"`
}

// HealthResponse is the body of GET /health
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	Uptime  string `json:"uptime"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// WriteJSON writes data as a JSON response
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if data == nil {
		return nil
	}
	return json.NewEncoder(w).Encode(data)
}

// WriteError writes an error response
func WriteError(w http.ResponseWriter, statusCode int, message string) {
	_ = WriteJSON(w, statusCode, ErrorResponse{Error: message})
}
