package host

import (
	"fmt"
	"net/http"
	"os"
)

// ErrorBody returns the bytes to serve for an HTTP error status: the
// host's "<root>/errors/<code>.html" if present (read straight from disk
// and, on a hit, primed into the host's FileCache so a repeat error reuses
// the cache), else a four-line hardcoded page — both behaviors grounded
// on utility.rs's default_error/hardcoded_error_body, the fallback
// reproduced verbatim in Go's fmt.Sprintf in place of Rust's format!.
func (h *Host) ErrorBody(code int, message string) []byte {
	path := h.errorsSubpath(code)
	if entry, ok := h.FileCache.Get(path); ok {
		return entry.Bytes
	}
	if raw, err := os.ReadFile(path); err == nil {
		h.FileCache.Insert(path, raw)
		return raw
	}
	return HardcodedErrorBody(code, message)
}

// HardcodedErrorBody is the fallback error page, adopted verbatim from
// utility.rs's hardcoded_error_body.
func HardcodedErrorBody(code int, message string) []byte {
	reason := http.StatusText(code)
	body := fmt.Sprintf(
		"<html><head><title>%d %s</title></head><body><center><h1>%d %s</h1><hr>An unexpected error occurred. <a href='/'>Return home</a>?",
		code, reason, code, reason,
	)
	if message != "" {
		body += "<p>" + message + "</p>"
	}
	body += "</center></body></html>"
	return []byte(body)
}
