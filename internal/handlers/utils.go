package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/ipulse/apiserver/types"
)

const maxRequestBytes = 1 << 20

var errInvalidRequest = errors.New("invalid request")

// AccountResponse is the envelope every account endpoint answers with.
// Callers inspect Success first and fall back to the status code and
// Message to tell failures apart.
type AccountResponse struct {
	Success  bool        `json:"success"`
	Message  string      `json:"message,omitempty"`
	User     *types.User `json:"user,omitempty"`
	Password string      `json:"password,omitempty"`
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	body := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	dec := json.NewDecoder(body)
	if err := dec.Decode(dst); err != nil {
		return errInvalidRequest
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errInvalidRequest
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

func writeSuccess(w http.ResponseWriter, resp AccountResponse) {
	resp.Success = true
	writeJSON(w, http.StatusOK, resp)
}

func writeFailure(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, AccountResponse{Success: false, Message: message})
}
