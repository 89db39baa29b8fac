package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/httprate"
)

// RateLimit returns an HTTP middleware that limits requests per IP address
// to the specified number per minute. Uses a sliding window algorithm.
func RateLimit(requestsPerMinute int) func(http.Handler) http.Handler {
	return httprate.Limit(
		requestsPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(tooManyRequests),
	)
}

// RateLimitByPrincipal limits authenticated requests per API key, or per
// user for session logins. It must run after Authenticate: buckets are keyed
// on the verified principal, never on anything the client sends. Requests
// without a principal fall back to the client IP.
func RateLimitByPrincipal(requestsPerMinute int) func(http.Handler) http.Handler {
	return httprate.Limit(
		requestsPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			p, ok := PrincipalFrom(r.Context())
			switch {
			case ok && p.KeyID != 0:
				return "key:" + strconv.FormatInt(p.KeyID, 10), nil
			case ok:
				return "user:" + strconv.FormatInt(p.UserID, 10), nil
			}
			ip, err := httprate.KeyByIP(r)
			return "ip:" + ip, err
		}),
		httprate.WithLimitHandler(tooManyRequests),
	)
}

func tooManyRequests(w http.ResponseWriter, r *http.Request) {
	writeJSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
}
