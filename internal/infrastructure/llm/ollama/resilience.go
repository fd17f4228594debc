package ollama

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/kirillkom/document-pipeline/internal/infrastructure/resilience"
)

// StatusError is a non-2xx answer from Ollama. Body carries the server's
// reason, such as "model not found".
type StatusError struct {
	Path   string
	Status string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("ollama %s: %s", e.Path, e.Status)
	if body := strings.TrimSpace(e.Body); body != "" {
		msg += ": " + body
	}
	return msg
}

// classifyGenerateError adds Ollama's busy and loading statuses to the
// shared transient classification. Other statuses are the caller's fault and
// do not trip the breaker.
func classifyGenerateError(err error) resilience.ErrorClassification {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		switch statusErr.Code {
		case http.StatusRequestTimeout, http.StatusTooManyRequests, http.StatusInternalServerError,
			http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
		default:
			return resilience.ErrorClassification{}
		}
	}
	return resilience.ClassifyTransient(err)
}
