package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/adfharrison1/go-odm/pkg/domain"
)

// ErrorResponse represents a standard JSON error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// SyncFailureResponse describes one failed reference document mutation
type SyncFailureResponse struct {
	Index string `json:"index"`
	Field string `json:"field"`
	Value string `json:"value"`
	Op    string `json:"op"`
	Error string `json:"error"`
}

// WriteJSONError writes a JSON error response with the given status code and message
func WriteJSONError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	}

	json.NewEncoder(w).Encode(response)
}

// StatusFor maps an ODM error to the HTTP status reported for it
func StatusFor(err error) int {
	var (
		psf *domain.PartialSyncFailure
		cme *domain.ConcurrentModificationError
		sue *domain.StoreUnavailableError
	)
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrUnknownModel):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidSchema),
		errors.Is(err, domain.ErrMissingKey),
		errors.Is(err, domain.ErrUnknownIndex),
		errors.Is(err, domain.ErrUnencodableValue):
		return http.StatusBadRequest
	case errors.As(err, &psf):
		return http.StatusMultiStatus
	case errors.As(err, &cme):
		return http.StatusConflict
	case errors.As(err, &sue), errors.Is(err, domain.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func syncFailures(psf *domain.PartialSyncFailure) []SyncFailureResponse {
	out := make([]SyncFailureResponse, 0, len(psf.Failed))
	for _, f := range psf.Failed {
		out = append(out, SyncFailureResponse{
			Index: f.Spec.IndexName,
			Field: f.Spec.FieldPath,
			Value: f.Value,
			Op:    string(f.Op),
			Error: f.Err.Error(),
		})
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
