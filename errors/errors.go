package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrUnavailable    = fmt.Errorf("server is shutting down")
	ErrNotFound       = fmt.Errorf("user not registered")
	ErrConflict       = fmt.Errorf("could not reconnect user")
	ErrNoTalkingStick = fmt.Errorf("talking stick not claimed")
	ErrIdleTimeout    = fmt.Errorf("delivery channel idle timeout")
	ErrWorkerPanic    = fmt.Errorf("worker panic")
	ErrEmptyWords     = fmt.Errorf("no words have been found")
)

// MapToHTTPStatus translates domain sentinel errors into HTTP status codes
// at the transport boundary. Unknown errors become a 500.
func MapToHTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
