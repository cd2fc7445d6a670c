package errors

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/3leaps/plotherd/pkg/job"
)

// HTTPError is the body of every non-2xx response.
type HTTPError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// HTTPErrorResponse wraps HTTPError under an "error" key.
type HTTPErrorResponse struct {
	Error HTTPError `json:"error"`
}

// WriteError writes a JSON error envelope with the given status.
func WriteError(w http.ResponseWriter, status int, code, message string, details map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(HTTPErrorResponse{
		Error: HTTPError{Code: code, Message: message, Details: details},
	})
}

// RespondWithError maps err onto a status code and writes the envelope.
//
// Job selection failures map to 404 (no match) and 409 (ambiguous prefix,
// with the candidate plot IDs in details). Classified *Error values use
// their Kind. Anything else is a 500.
func RespondWithError(w http.ResponseWriter, _ *http.Request, err error) {
	status, code, details := classify(err)
	WriteError(w, status, code, err.Error(), details)
}

func classify(err error) (int, string, map[string]any) {
	var amb *job.AmbiguousError
	if errors.As(err, &amb) {
		return http.StatusConflict, "AMBIGUOUS_PREFIX", map[string]any{
			"prefix":   amb.Prefix,
			"plot_ids": amb.PlotIDs,
		}
	}
	if errors.Is(err, job.ErrNoMatch) {
		return http.StatusNotFound, string(KindNotFound), nil
	}

	var e *Error
	if errors.As(err, &e) {
		return statusFor(e.Kind), string(e.Kind), e.Details
	}
	return http.StatusInternalServerError, string(KindInternal), nil
}

func statusFor(k Kind) int {
	switch k {
	case KindInvalid:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindExternalService:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
