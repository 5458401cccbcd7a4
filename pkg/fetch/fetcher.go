package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"policycrawl/pkg/config"
	"policycrawl/pkg/utils"
)

// Fetcher handles making HTTP requests with configured retry logic, using an underlying http.Client
type Fetcher struct {
	client *http.Client      // The configured HTTP client to use for requests
	cfg    *config.AppConfig // Application config, needed primarily for retry settings
	log    *logrus.Logger
}

// NewFetcher creates a new Fetcher instance
func NewFetcher(client *http.Client, cfg *config.AppConfig, log *logrus.Logger) *Fetcher {
	return &Fetcher{
		client: client,
		cfg:    cfg,
		log:    log,
	}
}

// newRequest builds a request carrying the configured User-Agent.
func (f *Fetcher) newRequest(ctx context.Context, method, rawURL string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return nil, utils.WrapErrorf(utils.ErrRequestCreation, "%s %s: %v", method, rawURL, err)
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	return req, nil
}

// Get fetches rawURL with retries. On success the caller owns resp.Body.
func (f *Fetcher) Get(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := f.newRequest(ctx, http.MethodGet, rawURL)
	if err != nil {
		return nil, err
	}
	return f.FetchWithRetry(ctx, req)
}

// FetchPage fetches an HTML page body, capped at the configured page size.
// Returns the body bytes, the final URL after redirects, and the Content-Type.
// Non-HTML responses are returned as-is; the caller decides what to do with
// a Content-Type of application/pdf reached through a redirect.
func (f *Fetcher) FetchPage(ctx context.Context, rawURL string) (body []byte, finalURL, contentType string, err error) {
	resp, err := f.Get(ctx, rawURL)
	if err != nil {
		if resp != nil {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}
		return nil, "", "", err
	}
	defer resp.Body.Close()

	finalURL = rawURL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}
	contentType = resp.Header.Get("Content-Type")

	maxSize := f.cfg.Crawl.MaxPageSizeBytes
	limited := io.LimitReader(resp.Body, maxSize+1)
	body, err = io.ReadAll(limited)
	if err != nil {
		return nil, finalURL, contentType, utils.WrapErrorf(utils.ErrResponseBodyRead, "reading %s: %v", rawURL, err)
	}
	if int64(len(body)) > maxSize {
		return nil, finalURL, contentType, utils.WrapErrorf(utils.ErrBodyTooLarge, "page %s exceeds %d bytes", rawURL, maxSize)
	}
	return body, finalURL, contentType, nil
}

// ProbeIsPDF sends a HEAD request and reports whether the URL serves a PDF,
// judged by Content-Type or a .pdf Content-Disposition filename. Used for
// document-looking URLs that lack a .pdf extension. Errors are swallowed:
// an unreachable probe target just means "not confirmed".
func (f *Fetcher) ProbeIsPDF(ctx context.Context, rawURL string) bool {
	req, err := f.newRequest(ctx, http.MethodHead, rawURL)
	if err != nil {
		return false
	}
	resp, err := f.client.Do(req)
	if err != nil {
		f.log.WithField("url", rawURL).Debugf("HEAD probe failed: %v", err)
		return false
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false
	}
	if strings.Contains(strings.ToLower(resp.Header.Get("Content-Type")), "application/pdf") {
		return true
	}
	return strings.Contains(strings.ToLower(resp.Header.Get("Content-Disposition")), ".pdf")
}

// OpenDownload starts a GET for a document and returns the response for
// streaming. It rejects non-PDF Content-Types and bodies whose declared
// length exceeds the file size cap. The caller must close resp.Body.
func (f *Fetcher) OpenDownload(ctx context.Context, rawURL string) (*http.Response, error) {
	resp, err := f.Get(ctx, rawURL)
	if err != nil {
		if resp != nil {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}
		return nil, err
	}

	contentType := strings.ToLower(resp.Header.Get("Content-Type"))
	if contentType != "" && !strings.Contains(contentType, "application/pdf") &&
		!strings.Contains(contentType, "application/octet-stream") {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		return nil, utils.WrapErrorf(utils.ErrNotPDF, "%s served Content-Type %q", rawURL, contentType)
	}

	if max := f.cfg.Crawl.MaxFileSizeBytes; resp.ContentLength > 0 && resp.ContentLength > max {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		return nil, utils.WrapErrorf(utils.ErrBodyTooLarge, "%s declares %d bytes, cap is %d", rawURL, resp.ContentLength, max)
	}
	return resp, nil
}

// FetchWithRetry performs an HTTP request associated with the provided context
// It implements a retry mechanism with exponential backoff and jitter for transient network errors and specific HTTP status codes (5xx, 429)
func (f *Fetcher) FetchWithRetry(ctx context.Context, req *http.Request) (*http.Response, error) {
	var lastErr error              // Stores the error from the *last* failed attempt in the loop
	var currentResp *http.Response // Stores the response from the *current* attempt (potentially failed)

	reqLog := f.log.WithField("url", req.URL.String())

	// Get retry settings from the application configuration
	maxRetries := f.cfg.MaxRetries
	initialRetryDelay := f.cfg.InitialRetryDelay
	maxRetryDelay := f.cfg.MaxRetryDelay

	// Retry loop: Try up to maxRetries+1 times (initial attempt + retries)
	for attempt := 0; attempt <= maxRetries; attempt++ {

		// Check if the context has been cancelled *before* making the attempt or sleeping
		select {
		case <-ctx.Done():
			reqLog.Warnf("Context cancelled before attempt %d: %v", attempt, ctx.Err())
			if lastErr != nil {
				return nil, fmt.Errorf("context cancelled (%v) during retry backoff after error: %w", ctx.Err(), lastErr)
			}
			return nil, fmt.Errorf("context cancelled before first attempt: %w", ctx.Err())
		default:
		}

		// Apply delay only *before* retry attempts (not before the first attempt)
		if attempt > 0 {
			// Calculate delay: initial * 2^(attempt-1), capped by maxRetryDelay
			backoff := float64(initialRetryDelay) * math.Pow(2, float64(attempt-1))
			delay := time.Duration(backoff)
			if delay <= 0 || delay > maxRetryDelay {
				delay = maxRetryDelay
			}

			// Add jitter: +/- 10% of the calculated delay to help avoid thundering herd
			var jitter time.Duration
			if delay > 0 {
				jitter = time.Duration(rand.Int63n(int64(delay)/5)) - (delay / 10)
			}
			finalDelay := delay + jitter
			if finalDelay < 0 {
				finalDelay = 0
			}

			reqLog.WithFields(logrus.Fields{"attempt": attempt, "max_retries": maxRetries, "delay": finalDelay}).Warn("Retrying request...")

			// Wait for the calculated delay, but respect context cancellation during the wait
			select {
			case <-time.After(finalDelay):
			case <-ctx.Done():
				reqLog.Warnf("Context cancelled during retry sleep: %v", ctx.Err())
				if lastErr != nil {
					return nil, fmt.Errorf("context cancelled (%v) during retry delay after error: %w", ctx.Err(), lastErr)
				}
				return nil, fmt.Errorf("context cancelled during retry delay: %w", ctx.Err())
			}
		}

		// Attach the current context to the request for this attempt
		reqWithCtx := req.WithContext(ctx)
		currentResp, lastErr = f.client.Do(reqWithCtx)

		// Errors occurring before getting an HTTP response (DNS, TCP, TLS errors etc.)
		if lastErr != nil {
			// Check specifically for context cancellation/timeout during the HTTP call itself
			if errors.Is(lastErr, context.Canceled) || errors.Is(lastErr, context.DeadlineExceeded) {
				reqLog.Warnf("Context cancelled/timed out during HTTP request execution: %v", lastErr)
				if currentResp != nil {
					io.Copy(io.Discard, currentResp.Body)
					currentResp.Body.Close()
				}
				// Do not retry context errors. Return the context error directly
				return nil, lastErr
			}

			// Log other network errors and proceed to retry
			reqLog.WithField("attempt", attempt).Errorf("Network error: %v", lastErr)
			if currentResp != nil {
				io.Copy(io.Discard, currentResp.Body)
				currentResp.Body.Close()
			}
			continue // Go to the next retry attempt for network errors
		}

		// If lastErr is nil, we received an HTTP response - check its status code
		statusCode := currentResp.StatusCode
		resLog := reqLog.WithFields(logrus.Fields{"status_code": statusCode, "status": currentResp.Status, "attempt": attempt})

		switch {
		case statusCode >= 200 && statusCode < 300:
			// Success (2xx)! Return the response immediately - caller must close body
			resLog.Debug("Successfully fetched")
			return currentResp, nil

		case statusCode >= 500:
			// Server Error (5xx). These are potentially transient, so retry
			resLog.Warn("Server error, retrying...")
			lastErr = fmt.Errorf("%w: status %d %s", utils.ErrServerHTTPError, statusCode, currentResp.Status)
			// Must drain and close the body before the next retry attempt
			io.Copy(io.Discard, currentResp.Body)
			currentResp.Body.Close()
			continue

		case statusCode == http.StatusTooManyRequests:
			// Rate limited by the server; retry according to policy
			resLog.Warn("Received 429 Too Many Requests, retrying...")
			lastErr = fmt.Errorf("%w: status %d %s", utils.ErrClientHTTPError, statusCode, currentResp.Status)
			io.Copy(io.Discard, currentResp.Body)
			currentResp.Body.Close()
			continue

		case statusCode >= 400 && statusCode < 500:
			// Other client errors (4xx, excluding 429) are not retryable
			resLog.Warn("Client error (4xx), not retrying")
			// Return the response object (caller might want to inspect headers/body)
			// *** Caller MUST close currentResp.Body in this case ***
			return currentResp, fmt.Errorf("%w: status %d %s", utils.ErrClientHTTPError, statusCode, currentResp.Status)

		default:
			// Other non-2xx statuses (e.g., 3xx if redirects were disabled)
			resLog.Warnf("Non-retryable/unexpected status: %d", statusCode)
			// *** Caller MUST close currentResp.Body in this case ***
			return currentResp, fmt.Errorf("%w: status %d %s", utils.ErrOtherHTTPError, statusCode, currentResp.Status)
		}
	}

	// If the loop completes, all attempts (initial + retries) have failed
	reqLog.Errorf("All %d fetch retries failed. Last error: %v", maxRetries+1, lastErr)
	if currentResp != nil {
		io.Copy(io.Discard, currentResp.Body)
		currentResp.Body.Close()
	}

	if lastErr != nil {
		// Check if the loop terminated because the context was cancelled during the *final* backoff sleep
		if errors.Is(lastErr, context.Canceled) || errors.Is(lastErr, context.DeadlineExceeded) {
			return nil, lastErr
		}
		// Otherwise, wrap the last HTTP/network error with the ErrRetryFailed sentinel
		return nil, fmt.Errorf("%w: %w", utils.ErrRetryFailed, lastErr)
	}

	return nil, utils.ErrRetryFailed
}
