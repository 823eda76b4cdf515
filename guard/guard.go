// Package guard rejects requests that look like request smuggling or
// attempts to reach configuration files, before any routing happens.
package guard

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/exp/slog"
)

var (
	ErrSmuggling     = errors.New("both content-length and transfer-encoding present")
	ErrTraversal     = errors.New("path traversal")
	ErrForbiddenPath = errors.New("forbidden path")
)

var traversalSequences = []string{"../", `..\`, "/.."}

var forbiddenSubstrings = []string{
	".env",
	".ini",
	".conf",
	".config",
	".json",
	"/includes/",
	"/config/",
	"/settings/",
	"/includes/global.inc",
	"/config.",
}

// CheckHeaders compares header names case-insensitively.
func CheckHeaders(h http.Header) error {
	var hasLength, hasEncoding bool
	for name := range h {
		switch strings.ToLower(name) {
		case "content-length":
			hasLength = true
		case "transfer-encoding":
			hasEncoding = true
		}
	}
	if hasLength && hasEncoding {
		return ErrSmuggling
	}

	return nil
}

func CheckPath(p string) error {
	for _, seq := range traversalSequences {
		if strings.Contains(p, seq) {
			return fmt.Errorf("%w: %q", ErrTraversal, seq)
		}
	}
	lower := strings.ToLower(p)
	for _, sub := range forbiddenSubstrings {
		if strings.Contains(lower, sub) {
			return fmt.Errorf("%w: %q", ErrForbiddenPath, sub)
		}
	}

	return nil
}

// CheckRequest validates both the headers and the target path of r. Requests
// served on a NewListener connection are also checked against the raw
// header block read from the wire.
func CheckRequest(r *http.Request) error {
	if smuggledConn(r.Context()) {
		return ErrSmuggling
	}
	if err := CheckHeaders(r.Header); err != nil {
		return err
	}

	if r.URL == nil {
		return nil
	}
	paths := []string{r.URL.Path}
	if raw := r.URL.EscapedPath(); raw != r.URL.Path {
		paths = append(paths, raw)
		if decoded, err := url.PathUnescape(raw); err == nil {
			paths = append(paths, decoded)
		}
	}
	for _, p := range paths {
		if err := CheckPath(p); err != nil {
			return err
		}
	}

	return nil
}

// Middleware runs CheckRequest on every request, OPTIONS included.
func Middleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := CheckRequest(r); err != nil {
			logger.Warn("request rejected", slog.String("method", r.Method), slog.String("path", r.URL.Path), slog.String("err", err.Error()))
			w.Header().Set("Content-Type", "application/json")
			if errors.Is(err, ErrSmuggling) {
				w.Header().Set("Connection", "close")
			}
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]string{
				"error": fmt.Sprintf("invalid request: %v", err),
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}
