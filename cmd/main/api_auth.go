package main

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
)

// AuthAPI guards the /api/ routes with the key from the server config.
type AuthAPI struct {
	cm     *ConfigManager
	logger *slog.Logger
}

// NewAuthAPI creates a new instance of the AuthAPI.
func NewAuthAPI(cm *ConfigManager, logger *slog.Logger) *AuthAPI {
	return &AuthAPI{
		cm:     cm,
		logger: logger,
	}
}

// Authenticate is middleware that requires "Authorization: Bearer <key>" on
// every request when an api_key is configured. An empty key disables the
// check, which is only sensible when the server listens on localhost.
func (a *AuthAPI) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := a.cm.Get().Server.APIKey
		if key == "" {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			respondWithError(w, http.StatusUnauthorized, "Authorization header required")
			return
		}
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			respondWithError(w, http.StatusUnauthorized, "Authorization header format must be 'Bearer {api_key}'")
			return
		}

		if !keysMatch(parts[1], key) {
			a.logger.Warn("Rejected API request with invalid key", "remote_addr", r.RemoteAddr, "path", r.URL.Path)
			respondWithError(w, http.StatusUnauthorized, "Invalid API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// keysMatch compares hashes so the comparison time does not depend on the
// key length.
func keysMatch(given, want string) bool {
	g := sha256.Sum256([]byte(given))
	k := sha256.Sum256([]byte(want))
	return subtle.ConstantTimeCompare(g[:], k[:]) == 1
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			slog.Default().Error("Failed to encode JSON response", "error", err)
		}
	}
}
