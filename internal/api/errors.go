package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/queuectl/queuectl/internal/job"
)

var errorStatuses = []struct {
	err    error
	status int
}{
	{job.ErrDuplicateID, http.StatusConflict},
	{job.ErrNotFound, http.StatusNotFound},
	{job.ErrNotDead, http.StatusConflict},
	{job.ErrStorageUnavailable, http.StatusServiceUnavailable},
	{job.ErrLockTimeout, http.StatusServiceUnavailable},
	{job.ErrInvalidJob, http.StatusBadRequest},
	{job.ErrInvalidState, http.StatusBadRequest},
}

// StatusForError maps queue errors to HTTP status codes.
func StatusForError(err error) int {
	for _, es := range errorStatuses {
		if errors.Is(err, es.err) {
			return es.status
		}
	}
	return http.StatusInternalServerError
}

// StatusError is an error response received by the Client.
// It unwraps to the queue error the server reported, if any.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s (HTTP %d)", e.Message, e.StatusCode)
}

func (e *StatusError) Unwrap() error {
	for _, es := range errorStatuses {
		if es.status == e.StatusCode && hasSentinelPrefix(e.Message, es.err.Error()) {
			return es.err
		}
	}
	return nil
}

// hasSentinelPrefix reports whether msg is the sentinel text itself
// or the sentinel text wrapped with ": detail".
func hasSentinelPrefix(msg, sentinel string) bool {
	rest, ok := strings.CutPrefix(msg, sentinel)
	return ok && (rest == "" || strings.HasPrefix(rest, ":"))
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusForError(err)
	if status == http.StatusInternalServerError {
		log.ErrorCtx(r.Context(), "Request failed").
			Str("path", r.URL.Path).
			Err(err).
			Log()
	}
	writeJSON(w, status, ErrorResponse{Error: err.Error()})
}
