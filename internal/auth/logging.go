// logging.go -- Request-scoped logging helpers.
//
// Wraps slog with automatic extraction of request context (request id, IP, user agent,
// method, path) so handlers and the orchestrator don't repeat these fields on every call.
// Attributes travel on the context, so code below the HTTP layer logs them too.
package auth

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
)

// logAttrsKey is unexported to prevent collisions with other packages using the same context.
type logAttrsKey struct{}

// RequestAttrs stores the standard request attributes on the request context.
// Mount after chi's RequestID and RealIP so both are populated.
func RequestAttrs(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := withLogAttrs(r.Context(),
			"request_id", middleware.GetReqID(r.Context()),
			"ip", r.RemoteAddr,
			"user_agent", r.UserAgent(),
			"method", r.Method,
			"path", r.URL.Path,
		)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// withLogAttrs returns ctx carrying args in addition to any attributes already present.
func withLogAttrs(ctx context.Context, args ...any) context.Context {
	prev := logAttrs(ctx)
	merged := make([]any, 0, len(prev)+len(args))
	merged = append(merged, prev...)
	merged = append(merged, args...)
	return context.WithValue(ctx, logAttrsKey{}, merged)
}

func logAttrs(ctx context.Context) []any {
	attrs, _ := ctx.Value(logAttrsKey{}).([]any)
	return attrs
}

func withAttrs(ctx context.Context, args []any) []any {
	attrs := logAttrs(ctx)
	out := make([]any, 0, len(attrs)+len(args))
	out = append(out, attrs...)
	return append(out, args...)
}

// logDebug logs at debug level with request context.
func logDebug(ctx context.Context, msg string, args ...any) {
	slog.DebugContext(ctx, msg, withAttrs(ctx, args)...)
}

// logInfo logs at info level with request context.
func logInfo(ctx context.Context, msg string, args ...any) {
	slog.InfoContext(ctx, msg, withAttrs(ctx, args)...)
}

// logWarn logs at warn level with request context.
func logWarn(ctx context.Context, msg string, args ...any) {
	slog.WarnContext(ctx, msg, withAttrs(ctx, args)...)
}

// logError logs at error level with request context.
func logError(ctx context.Context, msg string, args ...any) {
	slog.ErrorContext(ctx, msg, withAttrs(ctx, args)...)
}
