package middleware

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/chronicle/pkg/contextkeys"
	"github.com/platinummonkey/chronicle/pkg/observability"
)

const (
	HeaderRequestID     = "X-Request-ID"
	HeaderUser          = "X-User"
	HeaderSessionID     = "X-Session-ID"
	HeaderAuthorization = "Authorization"
)

// Identity fills the request context with the request id, session id and
// acting user. The user comes from a verified bearer token when a verifier
// is configured, otherwise from the trusted X-User header.
type Identity struct {
	verifier    TokenVerifier
	logger      logrus.FieldLogger
	trustHeader bool
}

// IdentityOption configures the identity middleware
type IdentityOption func(*Identity)

// WithVerifier enables bearer token authentication
func WithVerifier(v TokenVerifier) IdentityOption {
	return func(m *Identity) {
		m.verifier = v
	}
}

// WithTrustedUserHeader controls whether X-User is accepted as the actor
func WithTrustedUserHeader(trust bool) IdentityOption {
	return func(m *Identity) {
		m.trustHeader = trust
	}
}

// WithIdentityLogger sets the base logger placed in the request context
func WithIdentityLogger(logger logrus.FieldLogger) IdentityOption {
	return func(m *Identity) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewIdentity creates the identity middleware. X-User is trusted by default.
func NewIdentity(opts ...IdentityOption) *Identity {
	m := &Identity{
		logger:      logrus.StandardLogger(),
		trustHeader: true,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Handler wraps an HTTP handler with identity resolution
func (m *Identity) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		requestID := r.Header.Get(HeaderRequestID)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(HeaderRequestID, requestID)
		ctx = contextkeys.WithRequestID(ctx, requestID)

		if sessionID := r.Header.Get(HeaderSessionID); sessionID != "" {
			ctx = contextkeys.WithSessionID(ctx, sessionID)
		}

		if authHeader := r.Header.Get(HeaderAuthorization); authHeader != "" {
			if m.verifier == nil {
				unauthorizedResponse(w, "bearer authentication is not configured")
				return
			}

			// Format: "Bearer <token>"
			scheme, token, ok := strings.Cut(authHeader, " ")
			if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
				unauthorizedResponse(w, "invalid authorization header format")
				return
			}

			user, err := m.verifier.Verify(ctx, token)
			if err != nil {
				m.logger.WithError(err).WithField("request_id", requestID).Warn("rejected bearer token")
				unauthorizedResponse(w, "invalid or expired token")
				return
			}
			ctx = contextkeys.WithUserID(ctx, user)
		} else if user := strings.TrimSpace(r.Header.Get(HeaderUser)); user != "" && m.trustHeader {
			ctx = contextkeys.WithUserID(ctx, user)
		}

		ctx = observability.WithLogger(ctx, m.logger)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func unauthorizedResponse(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"` + message + `"}`))
}
