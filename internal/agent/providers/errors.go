package providers

import (
	"net/http"
	"strings"

	"github.com/haasonsaas/nexus-runtime/pkg/models"
)

// ClassifyStatus implements §6's HTTP-style classification: 408, 429, and
// 5xx are transient; any other status >= 400 is permanent.
func ClassifyStatus(status int) models.ErrorCode {
	switch {
	case status == http.StatusRequestTimeout || status == http.StatusTooManyRequests:
		return models.LlmTransient
	case status >= 500:
		return models.LlmTransient
	case status >= 400:
		return models.LlmPermanent
	default:
		return models.LlmPermanent
	}
}

// ClassifyError inspects a raw transport error (no HTTP status available,
// e.g. a dial/DNS failure) and returns LlmTransient for network-shaped
// errors per §6 ("network and DNS errors are transient"), LlmPermanent
// otherwise.
func ClassifyError(err error) models.ErrorCode {
	if err == nil {
		return models.LlmPermanent
	}
	s := strings.ToLower(err.Error())
	transientMarkers := []string{
		"timeout", "deadline exceeded", "context deadline", "etimedout",
		"connection refused", "connection reset", "no such host",
		"network is unreachable", "dial tcp", "dns",
	}
	for _, m := range transientMarkers {
		if strings.Contains(s, m) {
			return models.LlmTransient
		}
	}
	return models.LlmPermanent
}

// WrapProviderError builds the *models.RuntimeError the LLM Adapter
// surfaces to its caller for a failed call.
func WrapProviderError(provider string, code models.ErrorCode, cause error) *models.RuntimeError {
	return models.NewRuntimeError(code, provider+" call failed", cause)
}
