package api

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/bytedance/sonic"

	"github.com/dgallion1/lexclass/internal/classifier"
	"github.com/dgallion1/lexclass/internal/embedding"
	"github.com/dgallion1/lexclass/internal/index"
	"github.com/dgallion1/lexclass/internal/parser"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = sonic.ConfigDefault.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// statusFor maps classification and extraction errors to HTTP statuses.
func statusFor(err error) int {
	var retryable *embedding.RetryableError
	switch {
	case errors.Is(err, parser.ErrUnsupported):
		return http.StatusBadRequest
	case errors.Is(err, classifier.ErrEmptyDocument),
		errors.Is(err, classifier.ErrNoUsableText),
		errors.Is(err, classifier.ErrExtraction):
		return http.StatusUnprocessableEntity
	case errors.Is(err, classifier.ErrNoIndex),
		errors.Is(err, index.ErrDimensionMismatch),
		errors.Is(err, index.ErrCorruptIndex):
		return http.StatusServiceUnavailable
	case errors.As(err, &retryable):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func sanitizeFilename(name string) string {
	// Strip path components, keep only the base name.
	name = filepath.Base(name)
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.ReplaceAll(name, "\\", "_")
	name = strings.ReplaceAll(name, "..", "_")
	if name == "" || name == "." {
		name = "unnamed"
	}
	return name
}
