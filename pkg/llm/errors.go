package llm

import (
	"errors"
	"fmt"
	"net/http"

	openai "github.com/sashabaranov/go-openai"
)

// Error kinds. Every provider failure returned by Complete matches exactly one
// of them. A cancelled or expired context is returned as the context's own
// error and matches none.
var (
	// ErrTransient covers network failures, timeouts, rate limits and 5xx.
	ErrTransient = errors.New("transient provider error")
	// ErrAuthentication is fatal: a missing or rejected API key.
	ErrAuthentication = errors.New("authentication failed")
	// ErrQuotaExceeded means the provider account or the local token budget is spent.
	ErrQuotaExceeded = errors.New("quota exceeded")
	// ErrRejected covers other 4xx responses and empty completions.
	ErrRejected = errors.New("request rejected")
)

// ProviderError carries the model and HTTP status of a failed call.
type ProviderError struct {
	Model      string
	StatusCode int
	Kind       error
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("llm %s: %v (http %d): %v", e.Model, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("llm %s: %v: %v", e.Model, e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

const insufficientQuota = "insufficient_quota"

func classify(model string, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		quota := apiErr.Type == insufficientQuota
		if code, ok := apiErr.Code.(string); ok && code == insufficientQuota {
			quota = true
		}
		return &ProviderError{
			Model:      model,
			StatusCode: apiErr.HTTPStatusCode,
			Kind:       kindForStatus(apiErr.HTTPStatusCode, quota),
			Err:        err,
		}
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &ProviderError{
			Model:      model,
			StatusCode: reqErr.HTTPStatusCode,
			Kind:       kindForStatus(reqErr.HTTPStatusCode, false),
			Err:        err,
		}
	}

	return &ProviderError{Model: model, Kind: ErrTransient, Err: err}
}

func kindForStatus(status int, quota bool) error {
	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return ErrAuthentication
	case status == http.StatusTooManyRequests && quota:
		return ErrQuotaExceeded
	case status == 0,
		status == http.StatusRequestTimeout,
		status == http.StatusTooManyRequests,
		status >= http.StatusInternalServerError:
		return ErrTransient
	default:
		return ErrRejected
	}
}
