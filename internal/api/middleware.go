/**
 * @description
 * This file contains the HTTP middleware shared by the service routers:
 * bearer-token authentication for public endpoints, a static internal API key
 * for service-to-service endpoints, and a Redis-backed rate limit on command
 * submissions.
 *
 * @dependencies
 * - github.com/golang-jwt/jwt/v5: token parsing and validation.
 */

package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/finverse/banking-platform/internal/app"
)

// contextKey is a private type so context keys never collide.
type contextKey string

const subjectContextKey contextKey = "authSubject"

// SubjectFromContext returns the authenticated subject, when any.
func SubjectFromContext(ctx context.Context) string {
	subject, _ := ctx.Value(subjectContextKey).(string)
	return subject
}

// BearerAuthMiddleware validates HS256 bearer tokens signed with the
// platform secret and stores the token subject in the request context.
func BearerAuthMiddleware(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "Authorization header required", http.StatusUnauthorized)
				return
			}
			tokenString := strings.TrimPrefix(authHeader, "Bearer ")
			if tokenString == authHeader {
				http.Error(w, "Invalid Authorization header format", http.StatusUnauthorized)
				return
			}

			token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
				}
				return []byte(secret), nil
			}, jwt.WithValidMethods([]string{"HS256"}))
			if err != nil || !token.Valid {
				http.Error(w, "Invalid token", http.StatusUnauthorized)
				return
			}

			subject := ""
			if claims, ok := token.Claims.(jwt.MapClaims); ok {
				if sub, subErr := claims.GetSubject(); subErr == nil {
					subject = sub
				}
			}
			if subject == "" {
				http.Error(w, "Token missing subject", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), subjectContextKey, subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// InternalAPIKeyMiddleware guards service-to-service endpoints with a static
// shared key.
func InternalAPIKeyMiddleware(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if key == "" || r.Header.Get("X-Internal-Api-Key") != key {
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RateLimitMiddleware throttles requests per authenticated subject using the
// Redis fixed-window limiter. A nil limiter or non-positive limit disables
// throttling.
func RateLimitMiddleware(limiter *app.RedisCommandRateLimiter, scope string, perMinute int) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter == nil || perMinute <= 0 {
				next.ServeHTTP(w, r)
				return
			}
			subject := SubjectFromContext(r.Context())
			if subject == "" {
				subject = r.RemoteAddr
			}
			count, retryAfter, err := limiter.Consume(r.Context(), scope, subject, perMinute, time.Minute)
			if err != nil {
				// Redis being down must not block the write path.
				next.ServeHTTP(w, r)
				return
			}
			if count > perMinute {
				w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfter))
				http.Error(w, "Too many requests", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
