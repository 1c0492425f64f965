package common

import (
	"encoding/json"
	"errors"
	"net/http"
)

type ErrorResponse struct {
	StatusCode int    `json:"statusCode"`
	Message    string `json:"message"`
	Code       string `json:"code,omitempty"`
}

func RespondWithError(w http.ResponseWriter, code int, message string) {
	RespondWithJSON(w, code, ErrorResponse{StatusCode: code, Message: message})
}

// RespondWithDomainError derives status, message and code from err. Internal
// errors are reported generically.
func RespondWithDomainError(w http.ResponseWriter, err error) {
	status := HTTPStatusFromError(err)
	resp := ErrorResponse{StatusCode: status, Message: err.Error(), Code: ErrorCode(err)}
	var k *Kind
	if errors.As(err, &k) {
		resp.Message = k.Message
	}
	if status == http.StatusInternalServerError {
		resp.Message = ErrInternalServer.Error()
	}
	RespondWithJSON(w, status, resp)
}

func RespondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"statusCode":500,"message":"Failed to marshal JSON response"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}
