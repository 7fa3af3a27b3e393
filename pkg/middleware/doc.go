// Package middleware provides HTTP middleware for request identity and rate limiting.
//
// # Identity
//
// Identity stamps every request with a request id (X-Request-ID, generated when
// absent), the client session id (X-Session-ID) and the acting user. The user is
// taken from a verified OIDC bearer token when a TokenVerifier is configured,
// otherwise from the trusted X-User header:
//
//	verifier, _ := middleware.NewOIDCVerifier(ctx, issuer, clientID)
//	router.Use(middleware.NewIdentity(middleware.WithVerifier(verifier)).Handler)
//
// The audit interceptor reads the user back through audit.ContextActorProvider,
// and audit.RedisSessionActorProvider uses the session id.
//
// # Rate Limiting
//
// RateLimit keys requests by acting user, or by client IP for anonymous calls.
// LocalLimiter is an in-process token bucket; RedisLimiter shares a fixed window
// across instances. Limiter errors let requests through unless SetFailOpen(false).
//
//	limiter := middleware.NewRedisLimiter(redisClient, middleware.ExportRateLimitConfig(), "ratelimit:export")
//	exportRoute.Handler(middleware.NewRateLimit(limiter, logger).Handler(h))
//
// # Related Packages
//
//   - pkg/contextkeys: Context keys filled by Identity
//   - pkg/audit: Actor providers reading those keys
package middleware
