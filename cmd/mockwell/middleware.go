package main

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

const (
	accessTokenTTL  = time.Hour
	refreshTokenTTL = 30 * 24 * time.Hour
)

// jwtSecret signs every token the mock issues. main seeds it from the flag
// or environment, falling back to a random per-process value.
var jwtSecret []byte

// tokenClaims is the JWT payload for both token kinds. Refresh marks tokens
// that are only valid at /auth/refresh.
type tokenClaims struct {
	UserID  string `json:"userId"`
	Refresh bool   `json:"refresh,omitempty"`
	jwt.RegisteredClaims
}

// =============================================================================
// Middleware
// =============================================================================

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && isOriginAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		} else if origin != "" {
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusForbidden)
				return
			}
			jsonError(w, "origin not allowed", http.StatusForbidden)
			return
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// authMiddleware requires a Bearer access token and exposes its user through
// the X-User-ID header. Refresh tokens are rejected here.
func authMiddleware() mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				jsonError(w, "missing authorization", http.StatusUnauthorized)
				return
			}

			claims, err := parseToken(token)
			if err != nil || claims.Refresh || claims.UserID == "" {
				jsonError(w, "invalid or expired token", http.StatusUnauthorized)
				return
			}

			r.Header.Set("X-User-ID", claims.UserID)
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return header[len("Bearer "):]
	}
	return ""
}

// requestUser returns the user ID placed by authMiddleware.
func requestUser(r *http.Request) string {
	return r.Header.Get("X-User-ID")
}

// =============================================================================
// JWT helpers
// =============================================================================

func generateToken(userID string, ttl time.Duration, refresh bool) (string, error) {
	now := time.Now()
	claims := &tokenClaims{
		UserID:  userID,
		Refresh: refresh,
		RegisteredClaims: jwt.RegisteredClaims{
			// The unique ID keeps same-second tokens distinct; without it a
			// rotated refresh token could collide with its predecessor.
			ID:        uuid.NewString(),
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    "mockwell",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(jwtSecret)
}

func parseToken(tokenString string) (*tokenClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &tokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method")
		}
		return jwtSecret, nil
	})
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*tokenClaims); ok && token.Valid {
		return claims, nil
	}
	return nil, fmt.Errorf("invalid token")
}

// hashToken is the digest under which refresh sessions are stored; the raw
// token never outlives the request.
func hashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

// =============================================================================
// Envelope writers
// =============================================================================

// envelope is the wire shape every endpoint responds with.
type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

func writeData(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(envelope{Success: true, Data: v})
}

func jsonError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Success: false, Message: message})
}

func isOriginAllowed(origin string) bool {
	allowed := os.Getenv("MOCKWELL_CORS_ORIGINS")
	if strings.TrimSpace(allowed) == "" {
		allowed = "http://localhost:3000,http://localhost:5173"
	}
	for _, candidate := range strings.Split(allowed, ",") {
		c := strings.TrimSpace(candidate)
		if c != "" && c == origin {
			return true
		}
	}
	return false
}
