package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"runtime/debug"
	"syscall"
)

// maxCauseDepth bounds the causal-chain walk so a cyclic Unwrap can never
// spin the handler.
const maxCauseDepth = 32

// StatusError carries an explicit HTTP status through the error chain; the
// translator passes its code through unchanged.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.Code, e.Message)
}

// ServiceNotFoundError reports that routing could not produce a usable
// downstream target. The translator maps it to 503.
type ServiceNotFoundError struct {
	Service string
}

func (e *ServiceNotFoundError) Error() string {
	return fmt.Sprintf("no instance available for service %q", e.Service)
}

// ErrorHandler is the single place that turns internal and downstream
// failures into the uniform client-facing JSON envelope. It is the last line
// of defense and never itself fails.
type ErrorHandler struct {
	logger *slog.Logger
}

func NewErrorHandler(logger *slog.Logger) *ErrorHandler {
	return &ErrorHandler{logger: logger}
}

// Handle classifies err, sets the response status and writes the generic
// error envelope, terminating the request.
func (h *ErrorHandler) Handle(w http.ResponseWriter, r *http.Request, err error) {
	status, message := classify(err)
	if status == http.StatusInternalServerError {
		// Full detail stays in the server log; the client gets a generic body.
		h.logger.ErrorContext(r.Context(), "gateway: unclassified error",
			"path", r.URL.Path,
			"error", err,
		)
	} else {
		h.logger.WarnContext(r.Context(), "gateway: request failed",
			"path", r.URL.Path,
			"status", status,
			"error", err,
		)
	}
	writeError(w, r, status, message)
}

// classify walks the cause chain looking for a known failure at any depth.
// Wrapping is common when errors propagate through the transport, so direct
// type checks alone are not enough.
func classify(err error) (int, string) {
	cur := err
	for depth := 0; cur != nil && depth < maxCauseDepth; depth++ {
		if se, ok := cur.(*StatusError); ok {
			msg := se.Message
			if msg == "" {
				msg = http.StatusText(se.Code)
			}
			return se.Code, msg
		}
		if _, ok := cur.(*ServiceNotFoundError); ok {
			return http.StatusServiceUnavailable, "Service temporarily unavailable"
		}
		if cur == syscall.ECONNREFUSED {
			return http.StatusServiceUnavailable, "Service temporarily unavailable"
		}
		if cur == context.DeadlineExceeded || cur == os.ErrDeadlineExceeded {
			return http.StatusGatewayTimeout, "Request to downstream service timed out"
		}
		if ne, ok := cur.(net.Error); ok && ne.Timeout() {
			return http.StatusGatewayTimeout, "Request to downstream service timed out"
		}
		cur = errors.Unwrap(cur)
	}
	return http.StatusInternalServerError, "Internal server error"
}

// Recovery converts panics anywhere below it into errors fed to the
// translator, so every failure path still produces valid JSON.
func Recovery(h *ErrorHandler, logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.ErrorContext(r.Context(), "gateway: panic recovered",
						"path", r.URL.Path,
						"panic", rec,
						"stack", string(debug.Stack()),
					)
					h.Handle(w, r, fmt.Errorf("panic: %v", rec))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
