package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/contractflow/contractflow/pkg/workflow"
)

// NewRequestID returns a fresh request identifier.
func NewRequestID() string { return "req_" + uuid.NewString() }

// ErrorBody is the error half of every failed response.
type ErrorBody struct {
	Class         workflow.ErrorClass     `json:"class"`
	Code          string                  `json:"code"`
	Message       string                  `json:"message"`
	ContractID    string                  `json:"contract_id,omitempty"`
	TrackID       string                  `json:"track_id,omitempty"`
	CurrentStatus workflow.ContractStatus `json:"current_status,omitempty"`
	Details       map[string]interface{}  `json:"details,omitempty"`
}

// ErrorResponse is the envelope written for failed requests.
type ErrorResponse struct {
	RequestID string    `json:"request_id"`
	Error     ErrorBody `json:"error"`
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ReadJSON decodes the request body into dst, rejecting unknown fields.
// An empty body leaves dst untouched.
func ReadJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// WriteError writes err in the error envelope with the status of its class.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	body := ErrorBody{
		Class:   workflow.ErrorClassInternal,
		Code:    workflow.ErrCodeInternal,
		Message: "internal error",
	}
	var werr *workflow.Error
	if errors.As(err, &werr) {
		body.Class = werr.Class
		body.Code = werr.Code
		body.Message = werr.Message
		body.ContractID = werr.ContractID
		body.TrackID = werr.TrackID
		body.CurrentStatus = werr.CurrentStatus
		body.Details = werr.Details
		if body.Class == workflow.ErrorClassInternal {
			body.Details = nil
		}
	}
	WriteJSON(w, StatusFor(body.Class), ErrorResponse{
		RequestID: RequestIDFrom(r.Context()),
		Error:     body,
	})
}

// StatusFor maps an error class to its HTTP status.
func StatusFor(class workflow.ErrorClass) int {
	switch class {
	case workflow.ErrorClassInvalidState:
		return http.StatusUnprocessableEntity
	case workflow.ErrorClassForbidden:
		return http.StatusForbidden
	case workflow.ErrorClassValidation:
		return http.StatusBadRequest
	case workflow.ErrorClassNotFound:
		return http.StatusNotFound
	case workflow.ErrorClassConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func badRequest(message string, err error) error {
	return workflow.NewValidationError(message, err).WithCode(workflow.ErrCodeValidation)
}

// expectedVersion reads the caller's version from If-Match, falling back to
// the body value. Zero means the version read inside the transaction.
func expectedVersion(r *http.Request, body int64) (int64, error) {
	h := strings.Trim(strings.TrimPrefix(r.Header.Get("If-Match"), "W/"), `"`)
	if h == "" {
		return body, nil
	}
	v, err := strconv.ParseInt(h, 10, 64)
	if err != nil || v < 0 {
		return 0, badRequest("If-Match must be a contract version", err)
	}
	if body != 0 && body != v {
		return 0, badRequest("If-Match and body version disagree", nil)
	}
	return v, nil
}

func etag(version int64) string {
	return `"` + strconv.FormatInt(version, 10) + `"`
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, badRequest(key+" must be a non-negative integer", err)
	}
	return n, nil
}
