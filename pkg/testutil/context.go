package testutil

import (
	"net/http"
	"time"

	"secretsanta/internal/platform/middleware"
	"secretsanta/pkg/requestcontext"
)

// WithAdminToken marks req as coming from the admin dashboard.
func WithAdminToken(req *http.Request, token string) *http.Request {
	req.Header.Set(middleware.AdminTokenHeader, token)
	return req
}

// WithRequestTime pins the request clock, for handlers mounted without the
// request-time middleware.
func WithRequestTime(req *http.Request, now time.Time) *http.Request {
	return req.WithContext(requestcontext.WithTime(req.Context(), now))
}

// WithRequestID attaches a request ID the way the request-ID middleware would.
func WithRequestID(req *http.Request, requestID string) *http.Request {
	return req.WithContext(requestcontext.WithRequestID(req.Context(), requestID))
}
