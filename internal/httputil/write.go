package httputil

import (
	"encoding/json"
	"net/http"

	svcerrors "github.com/vaultline/ledger/internal/errors"
)

// ErrorResponse is the body of every failed API call.
type ErrorResponse struct {
	Error         string         `json:"error"`
	Code          string         `json:"code"`
	CurrentStatus string         `json:"currentStatus,omitempty"`
	Details       map[string]any `json:"details,omitempty"`
}

// WriteJSON writes data as a JSON response.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// WriteError renders err in the API error envelope. Errors that are not a
// *ServiceError, and unexpected ones, are reported with a generic message so
// internal detail never reaches the client.
func WriteError(w http.ResponseWriter, err error) {
	se := svcerrors.GetServiceError(err)
	if se == nil {
		se = svcerrors.Unexpected("", err)
	}

	resp := ErrorResponse{Code: string(se.Code), Error: se.Message, CurrentStatus: se.CurrentStatus()}
	if se.Code == svcerrors.CodeUnexpected {
		resp.Error = "An unexpected error occurred"
	} else if len(se.Details) > 0 {
		resp.Details = make(map[string]any, len(se.Details))
		for k, v := range se.Details {
			if k != "currentStatus" {
				resp.Details[k] = v
			}
		}
		if len(resp.Details) == 0 {
			resp.Details = nil
		}
	}

	status := se.HTTPStatus
	if status == 0 {
		status = http.StatusInternalServerError
	}
	WriteJSON(w, status, resp)
}
