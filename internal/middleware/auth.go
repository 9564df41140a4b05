package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
)

// APIKeyAuth creates a middleware that validates API key authentication for
// the admin API. If apiKey is empty, the middleware is a no-op (disabled).
// When enabled, requests must include an "X-API-Key" header matching the
// configured key. Health checks and API docs stay public.
func APIKeyAuth(api huma.API, apiKey string) func(ctx huma.Context, next func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		path := ctx.URL().Path
		if apiKey == "" || path == "/health" || path == "/docs" || path == "/openapi.json" || path == "/openapi.yaml" {
			next(ctx)
			return
		}

		providedKey := ctx.Header("X-API-Key")
		if !secureCompare(providedKey, apiKey) {
			_ = huma.WriteErr(api, ctx, http.StatusUnauthorized,
				"invalid or missing API key",
			)
			return
		}

		next(ctx)
	}
}

// secureCompare performs a constant-time comparison to prevent timing
// attacks, padding both inputs to equal length first so the comparison time
// never leaks the expected key's length.
func secureCompare(a, b string) bool {
	aBytes := []byte(a)
	bBytes := []byte(b)

	maxLen := len(aBytes)
	if len(bBytes) > maxLen {
		maxLen = len(bBytes)
	}
	aPadded := make([]byte, maxLen)
	bPadded := make([]byte, maxLen)
	copy(aPadded, aBytes)
	copy(bPadded, bBytes)

	match := subtle.ConstantTimeCompare(aPadded, bPadded)
	lengthMatch := subtle.ConstantTimeEq(int32(len(aBytes)), int32(len(bBytes)))
	return match == 1 && lengthMatch == 1
}
