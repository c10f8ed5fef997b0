package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// KeyPrefix marks keys issued by GenerateAPIKey.
const KeyPrefix = "mdk_"

// KeyAuthConfig configures the KeyAuthenticator.
type KeyAuthConfig struct {
	ServiceKeyHash string        // bcrypt hash; empty disables service keys
	AdminKeyHash   string        // bcrypt hash; empty disables admin keys
	CacheTTL       time.Duration // Default: 30s
	Logger         *zap.Logger
}

// KeyAuthenticator checks bearer tokens against bcrypt hashes of the
// service and admin keys. Successful checks are cached so bcrypt runs once
// per key per TTL. Failures are never cached.
type KeyAuthenticator struct {
	serviceHash []byte
	adminHash   []byte
	cache       *AuthCache
	logger      *zap.Logger
}

// NewKeyAuthenticator validates the configured hashes up front.
func NewKeyAuthenticator(cfg KeyAuthConfig) (*KeyAuthenticator, error) {
	if cfg.ServiceKeyHash == "" && cfg.AdminKeyHash == "" {
		return nil, ErrNoKeysDefined
	}
	for name, h := range map[string]string{"service": cfg.ServiceKeyHash, "admin": cfg.AdminKeyHash} {
		if h == "" {
			continue
		}
		if _, err := bcrypt.Cost([]byte(h)); err != nil {
			return nil, fmt.Errorf("NewKeyAuthenticator: %s key hash: %w", name, err)
		}
	}

	ttl := cfg.CacheTTL
	if ttl == 0 {
		ttl = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &KeyAuthenticator{cache: NewAuthCache(ttl), logger: logger}
	if cfg.ServiceKeyHash != "" {
		a.serviceHash = []byte(cfg.ServiceKeyHash)
	}
	if cfg.AdminKeyHash != "" {
		a.adminHash = []byte(cfg.AdminKeyHash)
	}
	return a, nil
}

// Authenticate returns the role granted by token.
//
// Flow:
//  1. Cache lookup: a fresh hit returns immediately
//  2. bcrypt against the admin hash, then the service hash
//  3. Cache the role on success
func (a *KeyAuthenticator) Authenticate(_ context.Context, token string) (Role, error) {
	if token == "" {
		return RoleNone, ErrMissingAPIKey
	}
	if role, ok := a.cache.Get(token); ok {
		return role, nil
	}

	role := a.verify(token)
	if role == RoleNone {
		a.logger.Debug("api key rejected")
		return RoleNone, ErrInvalidAPIKey
	}
	a.cache.Set(token, role)
	return role, nil
}

func (a *KeyAuthenticator) verify(token string) Role {
	if a.adminHash != nil && bcrypt.CompareHashAndPassword(a.adminHash, []byte(token)) == nil {
		return RoleAdmin
	}
	if a.serviceHash != nil && bcrypt.CompareHashAndPassword(a.serviceHash, []byte(token)) == nil {
		return RoleService
	}
	return RoleNone
}

// Require authenticates token and checks it grants required.
func Require(ctx context.Context, a Authenticator, token string, required Role) (Role, error) {
	role, err := a.Authenticate(ctx, token)
	if err != nil {
		return RoleNone, err
	}
	if !role.Allows(required) {
		return role, ErrForbidden
	}
	return role, nil
}

// GenerateAPIKey returns a new random key and its bcrypt hash.
// The plaintext is shown once; only the hash goes into configuration.
func GenerateAPIKey() (key, hash string, err error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", "", fmt.Errorf("GenerateAPIKey: %w", err)
	}
	key = KeyPrefix + hex.EncodeToString(raw)

	hashBytes, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", "", fmt.Errorf("GenerateAPIKey: %w", err)
	}
	return key, string(hashBytes), nil
}
