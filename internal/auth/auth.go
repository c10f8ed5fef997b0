package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"google.golang.org/grpc/metadata"
)

var (
	ErrMissingAPIKey = errors.New("missing authorization header")
	ErrInvalidAPIKey = errors.New("invalid API key")
	ErrForbidden     = errors.New("API key does not grant this role")
	ErrNoKeysDefined = errors.New("no API key hashes configured")
)

// Role is the privilege an API key grants.
type Role int

const (
	RoleNone Role = iota
	// RoleService may submit prompts for checking and read ban info.
	RoleService
	// RoleAdmin may do everything, including rule and sanction management.
	RoleAdmin
)

func (r Role) String() string {
	switch r {
	case RoleService:
		return "service"
	case RoleAdmin:
		return "admin"
	default:
		return "none"
	}
}

// Allows reports whether r satisfies required. Admin implies service.
func (r Role) Allows(required Role) bool {
	return r >= required && r != RoleNone
}

// Authenticator maps a bearer token to the role it grants.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (Role, error)
}

// parseBearer strips an optional "Bearer " prefix.
// RFC 6750: the "Bearer" scheme is case-insensitive.
func parseBearer(value string) (string, error) {
	token := strings.TrimSpace(value)
	if len(token) >= 7 && strings.EqualFold(token[:7], "bearer ") {
		token = strings.TrimSpace(token[7:])
	}
	if token == "" || strings.EqualFold(token, "bearer") {
		return "", ErrMissingAPIKey
	}
	return token, nil
}

// TokenFromMetadata extracts the bearer token from gRPC incoming metadata.
func TokenFromMetadata(ctx context.Context) (string, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", ErrMissingAPIKey
	}
	values := md.Get("authorization")
	if len(values) == 0 {
		return "", ErrMissingAPIKey
	}
	return parseBearer(values[0])
}

// TokenFromRequest extracts the bearer token from an HTTP request.
func TokenFromRequest(r *http.Request) (string, error) {
	v := r.Header.Get("Authorization")
	if v == "" {
		return "", ErrMissingAPIKey
	}
	return parseBearer(v)
}
