// Package contextkeys provides centralized context key definitions
//
// All context keys used across the application are defined here so their
// producers and consumers are discoverable in one place.
//
// USAGE PATTERN:
//
//	import "github.com/platinummonkey/chronicle/pkg/contextkeys"
//	ctx = contextkeys.WithUserID(ctx, "alice")
//	user := contextkeys.GetUserID(ctx)
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// RequestIDKey contains request ID string (UUID)
	// Set by: middleware.Identity (pkg/middleware/identity.go)
	// Used by: Logger, HTTP responses
	// Type: string
	RequestIDKey Key = "request_id"

	// UserIDKey contains the authenticated actor name
	// Set by: middleware.Identity after header or OIDC authentication
	// Used by: audit.ContextActorProvider, logger
	// Type: string
	UserIDKey Key = "user_id"

	// SessionIDKey contains the client session id
	// Set by: middleware.Identity from the X-Session-ID header
	// Used by: audit.RedisSessionActorProvider
	// Type: string
	SessionIDKey Key = "session_id"
)

// WithRequestID adds request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithUserID adds user ID to the context
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// WithSessionID adds session ID to the context
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, SessionIDKey, sessionID)
}

// GetRequestID retrieves request ID from context
func GetRequestID(ctx context.Context) string {
	return getString(ctx, RequestIDKey)
}

// GetUserID retrieves user ID from context
func GetUserID(ctx context.Context) string {
	return getString(ctx, UserIDKey)
}

// GetSessionID retrieves session ID from context
func GetSessionID(ctx context.Context) string {
	return getString(ctx, SessionIDKey)
}

func getString(ctx context.Context, key Key) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}
