package gateway

import (
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Machine-readable error codes returned to clients so they can distinguish
// auth failures without parsing messages.
const (
	codeMissingToken       = "MISSING_TOKEN"
	codeInvalidTokenFormat = "INVALID_TOKEN_FORMAT"
	codeTokenExpired       = "TOKEN_EXPIRED"
	codeMalformedToken     = "MALFORMED_TOKEN"
	codeUnsupportedToken   = "UNSUPPORTED_TOKEN"
	codeEmptyClaims        = "EMPTY_CLAIMS"
	codeInvalidToken       = "INVALID_TOKEN"
	codeInsufficientPerms  = "INSUFFICIENT_PERMISSIONS"
)

// writeAuthError writes the structured auth error envelope:
// {success:false, message, path, timestamp, errorCode}.
// The body is built by hand so the gateway controls exactly what is emitted
// on every failure path, including when JSON serialization itself would fail.
func writeAuthError(w http.ResponseWriter, r *http.Request, status int, message, errorCode string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	body := fmt.Sprintf(
		`{"success":false,"message":"%s","path":"%s","timestamp":"%s","errorCode":"%s"}`,
		escapeJSON(message),
		escapeJSON(r.URL.Path),
		time.Now().Format(time.RFC3339),
		escapeJSON(errorCode),
	)
	_, _ = w.Write([]byte(body))
}

// writeError writes the generic error envelope without an errorCode field,
// used by the central error translator for non-auth failures.
func writeError(w http.ResponseWriter, r *http.Request, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	body := fmt.Sprintf(
		`{"success":false,"message":"%s","path":"%s","timestamp":"%s"}`,
		escapeJSON(message),
		escapeJSON(r.URL.Path),
		time.Now().Format(time.RFC3339),
	)
	_, _ = w.Write([]byte(body))
}

// escapeJSON escapes the characters that would break a hand-built JSON string
// value: backslash, double quote, newline, carriage return, and tab.
func escapeJSON(s string) string {
	r := strings.NewReplacer(
		`\`, `\\`,
		`"`, `\"`,
		"\n", `\n`,
		"\r", `\r`,
		"\t", `\t`,
	)
	return r.Replace(s)
}
