package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	anthropicclient "github.com/anthropics/anthropic-sdk-go"
	"github.com/mx-space/distill/internal/pkg/apperr"
	openaiclient "github.com/openai/openai-go/v2"
)

// ErrEmptyResponse is returned when a provider answers without any text.
var ErrEmptyResponse = errors.New("ai: empty response")

// StatusError is an HTTP failure reported by a raw-HTTP provider.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("ai: upstream status %d", e.StatusCode)
	}
	return fmt.Sprintf("ai: upstream status %d: %s", e.StatusCode, e.Message)
}

func newStatusError(resp *http.Response, body []byte) *StatusError {
	msg := strings.TrimSpace(string(body))
	if len(msg) > 512 {
		msg = msg[:512]
	}
	return &StatusError{StatusCode: resp.StatusCode, Message: msg}
}

type failureClass int

const (
	classUnknown failureClass = iota
	classCanceled
	classTimeout
	classNetwork
	classEmpty
	classAuth
	classRateLimited
	classServer
	classClient
)

// StatusCode extracts the upstream HTTP status from a provider error, or 0.
func StatusCode(err error) int {
	var anthropicErr *anthropicclient.Error
	if errors.As(err, &anthropicErr) {
		return anthropicErr.StatusCode
	}
	var openaiErr *openaiclient.Error
	if errors.As(err, &openaiErr) {
		return openaiErr.StatusCode
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode
	}
	return 0
}

func classify(err error) failureClass {
	if err == nil {
		return classUnknown
	}
	if errors.Is(err, context.Canceled) {
		return classCanceled
	}
	if errors.Is(err, ErrEmptyResponse) {
		return classEmpty
	}
	if code := StatusCode(err); code != 0 {
		switch {
		case code == http.StatusUnauthorized || code == http.StatusForbidden:
			return classAuth
		case code == http.StatusTooManyRequests:
			return classRateLimited
		case code == http.StatusRequestTimeout:
			return classTimeout
		case code >= 500:
			return classServer
		default:
			return classClient
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return classTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return classTimeout
		}
		return classNetwork
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return classNetwork
	}
	return classUnknown
}

// Retryable reports whether a failed provider call may be attempted again:
// timeouts, 429, 5xx, dropped connections and empty answers.
func Retryable(err error) bool {
	switch classify(err) {
	case classTimeout, classNetwork, classEmpty, classRateLimited, classServer:
		return true
	}
	return false
}

// ToAppError maps an exhausted or fatal provider error onto the user-facing
// taxonomy.
func ToAppError(err error) *apperr.Error {
	if err == nil {
		return nil
	}
	var already *apperr.Error
	if errors.As(err, &already) {
		return already
	}
	switch classify(err) {
	case classAuth:
		return apperr.Wrap(apperr.KindAIAuth, "AI provider rejected the configured credentials", err)
	case classRateLimited:
		return apperr.Wrap(apperr.KindAIRateLimited, "AI provider is rate limiting requests, try again later", err)
	case classServer, classTimeout, classNetwork, classEmpty:
		return apperr.Wrap(apperr.KindAIUpstream, "AI provider is unavailable", err)
	}
	return apperr.Internal(err)
}
