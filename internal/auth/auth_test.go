package auth

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"

	"golang.org/x/crypto/bcrypt"
	"google.golang.org/grpc/metadata"
)

const (
	testServiceKey = "mdk_test_service_key_1234567890"
	testAdminKey   = "mdk_test_admin_key_0987654321"
)

// testHash returns a bcrypt hash of key using MinCost (fast for tests).
func testHash(t *testing.T, key string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("failed to generate bcrypt hash: %v", err)
	}
	return string(hash)
}

func newTestAuthenticator(t *testing.T) *KeyAuthenticator {
	t.Helper()
	a, err := NewKeyAuthenticator(KeyAuthConfig{
		ServiceKeyHash: testHash(t, testServiceKey),
		AdminKeyHash:   testHash(t, testAdminKey),
	})
	if err != nil {
		t.Fatalf("NewKeyAuthenticator: %v", err)
	}
	return a
}

func TestKeyAuthenticator_Roles(t *testing.T) {
	a := newTestAuthenticator(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		token   string
		want    Role
		wantErr error
	}{
		{"service key", testServiceKey, RoleService, nil},
		{"admin key", testAdminKey, RoleAdmin, nil},
		{"unknown key", "mdk_wrong", RoleNone, ErrInvalidAPIKey},
		{"empty", "", RoleNone, ErrMissingAPIKey},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			role, err := a.Authenticate(ctx, tt.token)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if role != tt.want {
				t.Errorf("role = %v, want %v", role, tt.want)
			}
		})
	}
}

func TestKeyAuthenticator_CachesSuccessOnly(t *testing.T) {
	a := newTestAuthenticator(t)
	ctx := context.Background()

	if _, err := a.Authenticate(ctx, testServiceKey); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if role, ok := a.cache.Get(testServiceKey); !ok || role != RoleService {
		t.Errorf("cache = (%v, %v), want (service, true)", role, ok)
	}

	_, _ = a.Authenticate(ctx, "mdk_wrong")
	if _, ok := a.cache.Get("mdk_wrong"); ok {
		t.Error("failed authentication must not be cached")
	}
}

func TestNewKeyAuthenticator_Validation(t *testing.T) {
	if _, err := NewKeyAuthenticator(KeyAuthConfig{}); !errors.Is(err, ErrNoKeysDefined) {
		t.Errorf("err = %v, want ErrNoKeysDefined", err)
	}
	if _, err := NewKeyAuthenticator(KeyAuthConfig{AdminKeyHash: "not-a-bcrypt-hash"}); err == nil {
		t.Error("expected error for malformed hash")
	}

	a, err := NewKeyAuthenticator(KeyAuthConfig{ServiceKeyHash: testHash(t, testServiceKey)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := a.Authenticate(context.Background(), testAdminKey); !errors.Is(err, ErrInvalidAPIKey) {
		t.Errorf("admin key without admin hash: err = %v, want ErrInvalidAPIKey", err)
	}
}

func TestRequire(t *testing.T) {
	a := newTestAuthenticator(t)
	ctx := context.Background()

	if _, err := Require(ctx, a, testServiceKey, RoleAdmin); !errors.Is(err, ErrForbidden) {
		t.Errorf("service key for admin route: err = %v, want ErrForbidden", err)
	}
	if _, err := Require(ctx, a, testAdminKey, RoleService); err != nil {
		t.Errorf("admin key for service route: unexpected error %v", err)
	}
}

func TestRole_Allows(t *testing.T) {
	tests := []struct {
		role     Role
		required Role
		want     bool
	}{
		{RoleAdmin, RoleAdmin, true},
		{RoleAdmin, RoleService, true},
		{RoleService, RoleService, true},
		{RoleService, RoleAdmin, false},
		{RoleNone, RoleNone, false},
	}
	for _, tt := range tests {
		if got := tt.role.Allows(tt.required); got != tt.want {
			t.Errorf("%v.Allows(%v) = %v, want %v", tt.role, tt.required, got, tt.want)
		}
	}
}

func TestTokenFromMetadata(t *testing.T) {
	tests := []struct {
		name    string
		md      metadata.MD
		want    string
		wantErr error
	}{
		{"bearer", metadata.Pairs("authorization", "Bearer abc"), "abc", nil},
		{"lowercase scheme", metadata.Pairs("authorization", "bearer abc"), "abc", nil},
		{"raw token", metadata.Pairs("authorization", "abc"), "abc", nil},
		{"empty after bearer", metadata.Pairs("authorization", "Bearer "), "", ErrMissingAPIKey},
		{"just bearer", metadata.Pairs("authorization", "Bearer"), "", ErrMissingAPIKey},
		{"missing header", metadata.Pairs("x-other", "1"), "", ErrMissingAPIKey},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := metadata.NewIncomingContext(context.Background(), tt.md)
			got, err := TokenFromMetadata(ctx)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("token = %q, want %q", got, tt.want)
			}
		})
	}

	if _, err := TokenFromMetadata(context.Background()); !errors.Is(err, ErrMissingAPIKey) {
		t.Errorf("no metadata: err = %v, want ErrMissingAPIKey", err)
	}
}

func TestTokenFromRequest(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	if _, err := TokenFromRequest(r); !errors.Is(err, ErrMissingAPIKey) {
		t.Errorf("err = %v, want ErrMissingAPIKey", err)
	}
	r.Header.Set("Authorization", "Bearer abc")
	if got, err := TokenFromRequest(r); err != nil || got != "abc" {
		t.Errorf("got (%q, %v), want (abc, nil)", got, err)
	}
}

func TestGenerateAPIKey(t *testing.T) {
	key, hash, err := GenerateAPIKey()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(key) != len(KeyPrefix)+64 || key[:len(KeyPrefix)] != KeyPrefix {
		t.Errorf("key = %q, want %s + 64 hex chars", key, KeyPrefix)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)); err != nil {
		t.Errorf("hash does not match key: %v", err)
	}
}
