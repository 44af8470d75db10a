package rest

import (
	"errors"
	"fmt"
	"net/http"
)

// HTTPError is returned for any non-2xx response.
type HTTPError struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	return fmt.Sprintf("%s: server returned %d: %s", e.Op, e.StatusCode, msg)
}

// TransportError is returned when a request was sent but no response arrived.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: no response: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// RequestError is returned when a request could not be built.
type RequestError struct {
	Op  string
	Err error
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("%s: build request: %v", e.Op, e.Err)
}

func (e *RequestError) Unwrap() error { return e.Err }

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode
	}
	return 0
}
