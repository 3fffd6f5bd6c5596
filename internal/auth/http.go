// ABOUTME: HTTP middleware attaching verified identities to request contexts
// ABOUTME: Absent credentials pass through; invalid credentials are rejected with 401

package auth

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
)

// rejectionErrorCode is the JSON-RPC error code carried by rejection envelopes.
const rejectionErrorCode = -32603

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

// Middleware creates an HTTP middleware that verifies a Bearer credential
// when one is present and attaches the resulting Identity to the request
// context. Requests without an Authorization header pass through untouched;
// whether the operation demands an identity is the dispatcher's decision.
// Requests presenting an invalid credential are rejected immediately so a
// bad token never silently degrades to anonymous access.
func Middleware(verifier TokenVerifier, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				next.ServeHTTP(w, r)
				return
			}

			token, errMsg := extractBearerToken(header)
			if errMsg != "" {
				writeRejection(w, errMsg)
				return
			}

			id, err := verifier.Verify(r.Context(), token)
			if err != nil {
				logger.Debug("credential rejected", "error", err)
				if errors.Is(err, ErrExpiredToken) {
					writeRejection(w, "token expired")
					return
				}
				writeRejection(w, "invalid token")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

// writeRejection writes a 401 protocol error envelope.
func writeRejection(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	resp := map[string]any{
		"jsonrpc": "2.0",
		"error": map[string]any{
			"code":    rejectionErrorCode,
			"message": message,
		},
		"id": nil,
	}
	_ = json.NewEncoder(w).Encode(resp)
}
