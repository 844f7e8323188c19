package api

import "net/http"

// The admin surface only ever returns JSON, so the policy forbids every
// active content type outright.
const (
	apiContentSecurityPolicy = "default-src 'none'; frame-ancestors 'none'"
	apiFrameOptions          = "DENY"
	apiReferrerPolicy        = "no-referrer"
	apiContentTypeOptions    = "nosniff"
)

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Content-Security-Policy", apiContentSecurityPolicy)
		h.Set("X-Frame-Options", apiFrameOptions)
		h.Set("X-Content-Type-Options", apiContentTypeOptions)
		h.Set("Referrer-Policy", apiReferrerPolicy)
		if r.URL.Path != "/metrics" {
			h.Set("Cache-Control", "no-store")
		}
		next.ServeHTTP(w, r)
	})
}
