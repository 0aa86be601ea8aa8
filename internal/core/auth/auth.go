// Package auth provides HMAC-based API key authentication for gRPC services.
package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/solatis/rewardkeeper/internal/types"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// contextKey is a typed key for context values to avoid collisions.
type contextKey string

// projectIDKey is the context key for storing the authenticated project ID.
const projectIDKey = contextKey("project_id")

// Queries interface defines database operations needed for authentication.
// Implemented by *db.Queries.
type Queries interface {
	Get(ctx context.Context, name string, dest interface{}, args ...interface{}) error
	Exec(ctx context.Context, name string, args ...interface{}) (sql.Result, error)
}

// Authenticator validates API keys using HMAC-SHA256 signatures.
// Holds in-memory secret map for O(1) lookup and queries for key verification.
type Authenticator struct {
	secrets map[string][]byte
	queries Queries
	log     *zap.Logger
}

// NewAuthenticator creates an authenticator with HMAC secrets and query interface.
func NewAuthenticator(secrets map[string][]byte, queries Queries, log *zap.Logger) *Authenticator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Authenticator{
		secrets: secrets,
		queries: queries,
		log:     log.Named("auth"),
	}
}

// errDatabase marks storage failures so the interceptor reports UNAVAILABLE.
var errDatabase = errors.New("database error")

// Authenticate validates API key and returns the owning project on success.
// Returns specific error for each failure mode.
func (a *Authenticator) Authenticate(ctx context.Context, apiKey string) (types.ProjectID, error) {
	secretID, _, err := ParseAPIKey(apiKey)
	if err != nil {
		return "", err
	}

	// O(1) lookup of HMAC secret using secret_id from key format
	secret, ok := a.secrets[secretID]
	if !ok {
		return "", ErrUnknownKey
	}

	computedHash := ComputeHMAC(secret, apiKey)

	// key_hash is unique, so at most one row matches
	var result struct {
		APIKeyID   string         `db:"api_key_id"`
		ProjectID  string         `db:"project_id"`
		LastUsedAt sql.NullString `db:"last_used_at"`
		RevokedAt  sql.NullString `db:"revoked_at"`
	}

	err = a.queries.Get(ctx, "get-api-key-by-hash", &result, computedHash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrInvalidKey
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", errDatabase, err)
	}

	if result.RevokedAt.Valid {
		return "", ErrKeyRevoked
	}

	// 1-minute throttle reduces write amplification for busy clients
	if shouldUpdateLastUsed(result.LastUsedAt) {
		ts := time.Now().UTC().Format(time.RFC3339Nano)
		if _, err := a.queries.Exec(ctx, "update-last-used", ts, result.APIKeyID); err != nil {
			a.log.Warn("failed to update last_used_at", zap.String("api_key_id", result.APIKeyID), zap.Error(err))
		}
	}

	return types.ProjectID(result.ProjectID), nil
}

// shouldUpdateLastUsed implements 1-minute throttle to reduce write amplification.
func shouldUpdateLastUsed(lastUsed sql.NullString) bool {
	if !lastUsed.Valid {
		return true
	}
	t, err := time.Parse(time.RFC3339Nano, lastUsed.String)
	if err != nil {
		return true
	}
	return time.Since(t) > time.Minute
}

// UnaryInterceptor returns gRPC interceptor that authenticates requests.
// Health checks pass through unauthenticated.
func (a *Authenticator) UnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if info.FullMethod == healthCheckMethod {
			return handler(ctx, req)
		}

		md, ok := metadata.FromIncomingContext(ctx)
		if !ok {
			return nil, status.Error(codes.Unauthenticated, "missing metadata")
		}

		apiKeys := md.Get("x-api-key")
		if len(apiKeys) == 0 {
			return nil, status.Error(codes.Unauthenticated, ErrMissingKey.Error())
		}

		projectID, err := a.Authenticate(ctx, apiKeys[0])
		if err != nil {
			switch {
			case errors.Is(err, ErrKeyRevoked):
				return nil, status.Error(codes.PermissionDenied, err.Error())
			case errors.Is(err, errDatabase):
				return nil, status.Error(codes.Unavailable, err.Error())
			default:
				return nil, status.Error(codes.Unauthenticated, err.Error())
			}
		}

		return handler(WithProjectID(ctx, projectID), req)
	}
}

const healthCheckMethod = "/grpc.health.v1.Health/Check"

// WithProjectID returns a context carrying the authenticated project.
func WithProjectID(ctx context.Context, projectID types.ProjectID) context.Context {
	return context.WithValue(ctx, projectIDKey, projectID)
}

// ProjectIDFromContext extracts the project ID from context.
// Returns empty string if not found.
func ProjectIDFromContext(ctx context.Context) types.ProjectID {
	if projectID, ok := ctx.Value(projectIDKey).(types.ProjectID); ok {
		return projectID
	}
	return ""
}
