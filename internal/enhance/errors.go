package enhance

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog/log"
	"google.golang.org/genai"
)

var (
	// ErrEmptyImage is returned when Enhance is called with no image bytes.
	ErrEmptyImage = errors.New("enhance: empty input image")
	// ErrEmptyResponse is returned when the model answers with no candidates.
	ErrEmptyResponse = errors.New("enhance: model returned no candidates")
	// ErrNoImage is returned when the first candidate carries no inline image.
	ErrNoImage = errors.New("enhance: model response contained no image")
)

// ErrorKind categorizes a failed remote call.
type ErrorKind int

const (
	// KindUnknown indicates an unclassified failure.
	KindUnknown ErrorKind = iota
	// KindAuth indicates a missing, invalid, or revoked API key.
	KindAuth
	// KindQuota indicates the quota was exceeded or the call was rate limited.
	KindQuota
	// KindNetwork indicates a connectivity problem before a response arrived.
	KindNetwork
	// KindServer indicates a 5xx from the model service.
	KindServer
	// KindBadRequest indicates the service rejected the request payload.
	KindBadRequest
)

func (k ErrorKind) String() string {
	switch k {
	case KindAuth:
		return "auth"
	case KindQuota:
		return "quota"
	case KindNetwork:
		return "network"
	case KindServer:
		return "server"
	case KindBadRequest:
		return "bad_request"
	default:
		return "unknown"
	}
}

// RemoteCallError wraps a transport, auth, quota, or server failure from the
// model service.
type RemoteCallError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *RemoteCallError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *RemoteCallError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the same request may succeed later.
func (e *RemoteCallError) Retryable() bool {
	switch e.Kind {
	case KindQuota, KindNetwork, KindServer:
		return true
	default:
		return false
	}
}

// ClassifyError turns an error from the genai SDK into a *RemoteCallError.
// Context cancellation is returned unchanged so callers can tell it apart.
func ClassifyError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var apiErr *genai.APIError
	if errors.As(err, &apiErr) {
		return classifyAPIError(apiErr, err)
	}

	errLower := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errLower, "api key not valid") ||
		strings.Contains(errLower, "invalid api key") ||
		strings.Contains(errLower, "api_key_invalid") ||
		strings.Contains(errLower, "permission denied") ||
		strings.Contains(errLower, "permission_denied") ||
		strings.Contains(errLower, "unauthenticated"):
		return &RemoteCallError{Kind: KindAuth, Message: "API key is invalid or has been revoked", Err: err}

	case strings.Contains(errLower, "quota") ||
		strings.Contains(errLower, "resource exhausted") ||
		strings.Contains(errLower, "resource_exhausted") ||
		strings.Contains(errLower, "rate limit"):
		return &RemoteCallError{Kind: KindQuota, Message: "API quota exceeded or rate limited", Err: err}

	case strings.Contains(errLower, "connection") ||
		strings.Contains(errLower, "network") ||
		strings.Contains(errLower, "timeout") ||
		strings.Contains(errLower, "dial") ||
		strings.Contains(errLower, "no such host") ||
		strings.Contains(errLower, "unreachable") ||
		strings.Contains(errLower, "eof"):
		return &RemoteCallError{Kind: KindNetwork, Message: "network error reaching the model service", Err: err}

	case strings.Contains(errLower, "internal") ||
		strings.Contains(errLower, "unavailable"):
		return &RemoteCallError{Kind: KindServer, Message: "model service error", Err: err}

	default:
		return &RemoteCallError{Kind: KindUnknown, Message: "model call failed", Err: err}
	}
}

func classifyAPIError(apiErr *genai.APIError, err error) *RemoteCallError {
	switch {
	case apiErr.Code == 400:
		return &RemoteCallError{Kind: KindBadRequest, Message: "bad request - image or API key may be malformed", Err: err}
	case apiErr.Code == 401 || apiErr.Code == 403:
		return &RemoteCallError{Kind: KindAuth, Message: "API key is invalid, expired, or lacks permissions", Err: err}
	case apiErr.Code == 429:
		return &RemoteCallError{Kind: KindQuota, Message: "API rate limit exceeded - try again later", Err: err}
	case apiErr.Code >= 500:
		return &RemoteCallError{Kind: KindServer, Message: "model service error - try again later", Err: err}
	default:
		log.Debug().Int("code", apiErr.Code).Str("status", apiErr.Status).Msg("Unclassified Gemini API error")
		return &RemoteCallError{Kind: KindUnknown, Message: apiErr.Message, Err: err}
	}
}
