package fetch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"policycrawl/pkg/utils"
)

// ErrorKind is the coarse failure category surfaced in session log
// messages. It is intentionally smaller than utils.CategorizeError's
// output, which labels the error metrics: someone reading a crawl log
// needs "dns" not "RetryFailed_DNSLookup".
type ErrorKind string

const (
	KindTimeout    ErrorKind = "timeout"
	KindDNS        ErrorKind = "dns"
	KindConnection ErrorKind = "connection"
	KindHTTPError  ErrorKind = "http_error"
	KindTooLarge   ErrorKind = "too_large"
)

// Error wraps a fetch failure with its kind, the URL involved, and the HTTP
// status when one was received.
type Error struct {
	Kind       ErrorKind
	URL        string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("fetch %s: %s (status %d): %v", e.URL, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// ClassifyError converts any error returned by the Fetcher into a typed
// *Error. A nil input returns nil. Already-typed errors pass through.
func ClassifyError(rawURL string, err error) *Error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe
	}

	kind := KindConnection
	status := 0

	switch {
	case errors.Is(err, utils.ErrBodyTooLarge):
		kind = KindTooLarge
	case errors.Is(err, context.DeadlineExceeded):
		kind = KindTimeout
	case errors.Is(err, utils.ErrClientHTTPError),
		errors.Is(err, utils.ErrServerHTTPError),
		errors.Is(err, utils.ErrOtherHTTPError):
		kind = KindHTTPError
		status = statusFromError(err)
	default:
		msg := strings.ToLower(err.Error())
		var netErr net.Error
		switch {
		case errors.As(err, &netErr) && netErr.Timeout():
			kind = KindTimeout
		case strings.Contains(msg, "no such host"):
			kind = KindDNS
		case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
			kind = KindTimeout
		}
	}

	return &Error{Kind: kind, URL: rawURL, StatusCode: status, Err: err}
}

// statusFromError digs the numeric status out of the "status NNN" text the
// Fetcher embeds when it wraps an HTTP status error.
func statusFromError(err error) int {
	msg := err.Error()
	idx := strings.Index(msg, "status ")
	if idx < 0 {
		return 0
	}
	rest := msg[idx+len("status "):]
	code := 0
	for _, r := range rest {
		if r < '0' || r > '9' {
			break
		}
		code = code*10 + int(r-'0')
	}
	if code < 100 || code > 599 {
		return 0
	}
	return code
}
