package restclient

import (
	"fmt"
	"io"
	"net/http"
)

const maxErrorBodySize = 4096

// ClientError represents a 400 Bad Request response. The caller made a
// malformed request; retrying will not help.
type ClientError struct {
	StatusCode int
	Body       string
}

func (e *ClientError) Error() string {
	return fmt.Sprintf("client error: HTTP %d: %s", e.StatusCode, e.Body)
}

// UnhandledError represents any non-2xx response other than 400. For the
// retried statuses (429, 502, 503) it is surfaced, wrapped, only once the
// retry budget is exhausted.
type UnhandledError struct {
	StatusCode int
	Body       string
}

func (e *UnhandledError) Error() string {
	return fmt.Sprintf("unhandled error: HTTP %d: %s", e.StatusCode, e.Body)
}

func newResponseError(resp *http.Response) error {
	limited := io.LimitReader(resp.Body, maxErrorBodySize)
	body, _ := io.ReadAll(limited)

	switch resp.StatusCode {
	case http.StatusBadRequest:
		return &ClientError{StatusCode: resp.StatusCode, Body: string(body)}
	default:
		return &UnhandledError{StatusCode: resp.StatusCode, Body: string(body)}
	}
}
