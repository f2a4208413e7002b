package httpapi

import (
	"bytes"
	"crypto/subtle"
	"io"
	"log/slog"
	"net/http"

	"golang.org/x/crypto/blake2b"

	"github.com/swisspipe/engine/internal/config"
	"github.com/swisspipe/engine/internal/http/response"
)

// payloadTooLargeJSON is a pre-marshaled 413 body, used even if the
// standard response encoder path can't be trusted once the body is
// known to have overrun its limit.
const payloadTooLargeJSON = `{"error":{"code":"PAYLOAD_TOO_LARGE","message":"request body exceeds size limit","details":[]}}`

// maxBodyBytes caps request body size with a two-phase check: a cheap
// Content-Length rejection followed by a MaxBytesReader backstop for
// requests that lie about their length (§6 SP_HTTP_MAX_BODY_BYTES).
func maxBodyBytes(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > 0 && r.ContentLength > maxBytes {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusRequestEntityTooLarge)
				_, _ = w.Write([]byte(payloadTooLargeJSON))
				return
			}

			body := http.MaxBytesReader(w, r.Body, maxBytes)
			buf, err := io.ReadAll(body)
			if err != nil {
				slog.WarnContext(r.Context(), "request body size limit exceeded",
					"method", r.Method, "path", r.URL.Path, "limit", maxBytes)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusRequestEntityTooLarge)
				_, _ = w.Write([]byte(payloadTooLargeJSON))
				return
			}

			r.Body = io.NopCloser(bytes.NewReader(buf))
			next.ServeHTTP(w, r)
		})
	}
}

// stripDangerousHeaders deletes every header named in names (case
// insensitive, via canonical form) before the request reaches a
// handler, so they never end up echoed into event.headers (§6
// "SP_DANGEROUS_HEADERS").
func stripDangerousHeaders(names []string) func(http.Handler) http.Handler {
	canonical := make([]string, len(names))
	for i, n := range names {
		canonical[i] = http.CanonicalHeaderKey(n)
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, h := range canonical {
				r.Header.Del(h)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// hashCredential computes BLAKE2b-256 of s, so credential comparison
// below never touches raw secret bytes directly.
func hashCredential(s string) [32]byte {
	return blake2b.Sum256([]byte(s))
}

// basicAuth compares Authorization: Basic credentials against cfg's
// single shared admin credential using BLAKE2b hashing and
// constant-time comparison (§6 "Admin surface ... authenticated with
// basic auth"). An empty cfg disables the check entirely, matching
// AuthConfig.Validate's documented opt-out.
func basicAuth(cfg config.AuthConfig) func(http.Handler) http.Handler {
	wantUser := hashCredential(cfg.Username)
	wantPass := hashCredential(cfg.Password)
	disabled := cfg.Username == "" && cfg.Password == ""

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if disabled {
				next.ServeHTTP(w, r)
				return
			}

			user, pass, ok := r.BasicAuth()
			if !ok {
				w.Header().Set("WWW-Authenticate", `Basic realm="swisspiped admin"`)
				response.Unauthorized(w, "missing admin credentials")
				return
			}

			gotUser := hashCredential(user)
			gotPass := hashCredential(pass)
			userOK := subtle.ConstantTimeCompare(gotUser[:], wantUser[:]) == 1
			passOK := subtle.ConstantTimeCompare(gotPass[:], wantPass[:]) == 1
			if !userOK || !passOK {
				slog.WarnContext(r.Context(), "admin auth failed", "path", r.URL.Path)
				w.Header().Set("WWW-Authenticate", `Basic realm="swisspiped admin"`)
				response.Unauthorized(w, "invalid admin credentials")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
