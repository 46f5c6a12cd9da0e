package rest

import (
	"errors"
	"fmt"
	"net/http"
)

// StatusError is returned for any non-2xx vendor response.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	body := string(e.Body)
	if len(body) > 512 {
		body = body[:512] + "..."
	}
	if body == "" {
		return fmt.Sprintf("rest: %s %s returned %d", e.Method, e.URL, e.StatusCode)
	}
	return fmt.Sprintf("rest: %s %s returned %d: %s", e.Method, e.URL, e.StatusCode, body)
}

// StatusCode returns the HTTP status carried by err, or 0 when err is not a
// *StatusError.
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}

// IsNotFound reports whether err is a 404 from the vendor.
func IsNotFound(err error) bool {
	return StatusCode(err) == http.StatusNotFound
}

// CodeOf turns the outcome of a call into an HTTP status code. A *StatusError
// is absorbed and its code returned; transport and decode errors are passed
// through unchanged.
func CodeOf(resp *Response, err error) (int, error) {
	if err == nil {
		if resp == nil {
			return 0, nil
		}
		return resp.StatusCode, nil
	}
	if code := StatusCode(err); code != 0 {
		return code, nil
	}
	return 0, err
}
