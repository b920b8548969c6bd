package http

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/garyjia/po-workflow/internal/domain/entity"
)

const (
	ctxKeyRequestID = "request_id"
	ctxKeyActor     = "actor"
	headerRequestID = "X-Request-ID"
)

// Claims are the JWT claims issued by the identity provider
type Claims struct {
	UserID string `json:"uid"`
	Name   string `json:"name"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// RequestID tags every request with an id, reusing the caller's when present
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(headerRequestID)
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Set(ctxKeyRequestID, requestID)
		c.Writer.Header().Set(headerRequestID, requestID)
		c.Next()
	}
}

// CORS lets browser pages on other origins call the API
func CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// RequestLogger logs method, path, status and latency of each request
func RequestLogger(logger Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		kv := []interface{}{
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"latency", time.Since(start).String(),
			"client_ip", c.ClientIP(),
			"request_id", c.GetString(ctxKeyRequestID),
		}
		if actor, exists := actorFrom(c); exists {
			kv = append(kv, "user_id", actor.UserID)
		}

		if c.Writer.Status() >= http.StatusInternalServerError {
			logger.Error("HTTP request", kv...)
			return
		}
		logger.Info("HTTP request", kv...)
	}
}

// IdentitySync records verified identities so role lookups see them
type IdentitySync interface {
	SyncIdentity(ctx context.Context, userID, name string, role entity.Role) error
}

// JWTAuth verifies an HS256 bearer token and stores the actor on the context.
// identities may be nil; otherwise each new or changed identity is synced once.
func JWTAuth(secret string, identities IdentitySync) gin.HandlerFunc {
	var synced sync.Map // user id -> name + role
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, Response{
				Error: "authorization is required",
				Code:  "UNAUTHORIZED",
			})
			return
		}

		claims := &Claims{}
		token, err := jwt.ParseWithClaims(parts[1], claims, func(token *jwt.Token) (interface{}, error) {
			return []byte(secret), nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil || !token.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, Response{
				Error: "invalid or expired token",
				Code:  "UNAUTHORIZED",
			})
			return
		}

		role := entity.Role(claims.Role)
		if claims.UserID == "" || !role.IsValid() {
			c.AbortWithStatusJSON(http.StatusUnauthorized, Response{
				Error: "invalid token claims",
				Code:  "UNAUTHORIZED",
			})
			return
		}

		if identities != nil {
			fingerprint := claims.Name + "|" + claims.Role
			if prev, ok := synced.Load(claims.UserID); !ok || prev.(string) != fingerprint {
				if err := identities.SyncIdentity(c.Request.Context(), claims.UserID, claims.Name, role); err != nil {
					c.AbortWithStatusJSON(http.StatusInternalServerError, Response{
						Error: "internal server error",
						Code:  "INTERNAL_ERROR",
					})
					return
				}
				synced.Store(claims.UserID, fingerprint)
			}
		}

		c.Set(ctxKeyActor, entity.Actor{UserID: claims.UserID, Name: claims.Name, Role: role})
		c.Next()
	}
}

func actorFrom(c *gin.Context) (entity.Actor, bool) {
	v, exists := c.Get(ctxKeyActor)
	if !exists {
		return entity.Actor{}, false
	}
	actor, ok := v.(entity.Actor)
	return actor, ok
}

// IPRateLimiter hands out one token bucket per client IP
type IPRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*visitor
	limit    rate.Limit
	burst    int
	ttl      time.Duration
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewIPRateLimiter allows rps requests per second per IP with the given burst
func NewIPRateLimiter(rps float64, burst int) *IPRateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &IPRateLimiter{
		limiters: make(map[string]*visitor),
		limit:    rate.Limit(rps),
		burst:    burst,
		ttl:      10 * time.Minute,
	}
}

// Allow reports whether ip may make a request now
func (l *IPRateLimiter) Allow(ip string) bool {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	v, exists := l.limiters[ip]
	if !exists {
		v = &visitor{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[ip] = v
	}
	v.lastSeen = now

	if len(l.limiters) > 1024 {
		for key, other := range l.limiters {
			if now.Sub(other.lastSeen) > l.ttl {
				delete(l.limiters, key)
			}
		}
	}

	return v.limiter.AllowN(now, 1)
}

// Middleware rejects clients that exceed their bucket with 429
func (l *IPRateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.Allow(c.ClientIP()) {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, Response{
				Error: "too many requests",
				Code:  "RATE_LIMITED",
			})
			return
		}
		c.Next()
	}
}
