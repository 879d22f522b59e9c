package gateway

import "net/http"

// Middleware is one stage of the request pipeline. A stage either calls next
// exactly once or writes a terminal response itself — never both.
type Middleware func(next http.Handler) http.Handler

// Chain wraps h with the given middlewares; the first middleware is the
// outermost and therefore sees the request first.
func Chain(h http.Handler, mws ...Middleware) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}
