package auth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"collabhub/pkg/interfaces"
	"collabhub/pkg/types"
)

const testSecret = "test-secret"

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return token
}

// mockIdentityStore implements interfaces.IdentityStore with a func field
type mockIdentityStore struct {
	lookupFunc func(ctx context.Context, id string) (*types.Identity, error)
}

func (m *mockIdentityStore) LookupIdentity(ctx context.Context, id string) (*types.Identity, error) {
	return m.lookupFunc(ctx, id)
}

func knownUsers(ids ...string) *mockIdentityStore {
	known := make(map[string]bool)
	for _, id := range ids {
		known[id] = true
	}
	return &mockIdentityStore{lookupFunc: func(ctx context.Context, id string) (*types.Identity, error) {
		if !known[id] {
			return nil, interfaces.ErrPrincipalNotFound
		}
		return &types.Identity{ID: id, DisplayName: "Stored " + id, Email: id + "@store.example"}, nil
	}}
}

func silentLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestJWTVerifier_Verify(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	v := newJWTVerifier(testSecret, "", 0, func() time.Time { return now })

	valid := signToken(t, testSecret, jwt.MapClaims{
		"sub":   "u1",
		"email": "u1@example.com",
		"name":  "User One",
		"exp":   now.Add(time.Hour).Unix(),
	})
	claims, err := v.Verify(valid)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if claims.Subject != "u1" || claims.Email != "u1@example.com" || claims.Name != "User One" {
		t.Errorf("unexpected claims: %+v", claims)
	}
	if !claims.ExpiresAt.Equal(now.Add(time.Hour)) {
		t.Errorf("unexpected expiry %v", claims.ExpiresAt)
	}

	tests := []struct {
		name  string
		token string
		want  error
	}{
		{"garbage", "not-a-jwt", ErrInvalidCredential},
		{"wrong secret", signToken(t, "other", jwt.MapClaims{"sub": "u1"}), ErrInvalidCredential},
		{"missing subject", signToken(t, testSecret, jwt.MapClaims{"email": "x@example.com"}), ErrInvalidCredential},
		{"expired", signToken(t, testSecret, jwt.MapClaims{"sub": "u1", "exp": now.Add(-time.Minute).Unix()}), ErrExpiredCredential},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := v.Verify(tt.token); !errors.Is(err, tt.want) {
				t.Errorf("Verify() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestJWTVerifier_RejectsNonHMAC(t *testing.T) {
	v := NewJWTVerifier(testSecret, "", 0)
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "u1"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("failed to build unsigned token: %v", err)
	}
	if _, err := v.Verify(unsigned); !errors.Is(err, ErrInvalidCredential) {
		t.Errorf("expected ErrInvalidCredential for alg none, got %v", err)
	}
}

func TestJWTVerifier_IssuerAndLeeway(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	v := newJWTVerifier(testSecret, "board-app", 30*time.Second, func() time.Time { return now })

	wrongIssuer := signToken(t, testSecret, jwt.MapClaims{"sub": "u1", "iss": "someone-else"})
	if _, err := v.Verify(wrongIssuer); !errors.Is(err, ErrInvalidCredential) {
		t.Errorf("expected issuer mismatch to be invalid, got %v", err)
	}

	justExpired := signToken(t, testSecret, jwt.MapClaims{
		"sub": "u1", "iss": "board-app", "exp": now.Add(-10 * time.Second).Unix(),
	})
	if _, err := v.Verify(justExpired); err != nil {
		t.Errorf("token within leeway should verify, got %v", err)
	}
}

func TestGate_Authenticate(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	verifier := newJWTVerifier(testSecret, "", 0, func() time.Time { return now })
	gate := NewGate(verifier, knownUsers("u1", "u2"), 0, silentLogger())
	gate.now = func() time.Time { return now }
	ctx := context.Background()

	full := signToken(t, testSecret, jwt.MapClaims{"sub": "u1", "email": "tok@example.com", "name": "Token Name"})
	identity, err := gate.Authenticate(ctx, full)
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if identity.ID != "u1" || identity.DisplayName != "Token Name" || identity.Email != "tok@example.com" {
		t.Errorf("credential fields should win: %+v", identity)
	}

	// Missing name and email fall back to the identity store
	bare := signToken(t, testSecret, jwt.MapClaims{"sub": "u2"})
	identity, err = gate.Authenticate(ctx, bare)
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if identity.DisplayName != "Stored u2" || identity.Email != "u2@store.example" {
		t.Errorf("expected store fallback, got %+v", identity)
	}

	tests := []struct {
		name string
		raw  string
		want error
	}{
		{"empty", "  ", ErrInvalidCredential},
		{"malformed", "abc.def.ghi", ErrInvalidCredential},
		{"expired", signToken(t, testSecret, jwt.MapClaims{"sub": "u1", "exp": now.Add(-time.Second).Unix()}), ErrExpiredCredential},
		{"deleted principal", signToken(t, testSecret, jwt.MapClaims{"sub": "ghost"}), ErrUnknownPrincipal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			identity, err := gate.Authenticate(ctx, tt.raw)
			if !errors.Is(err, tt.want) {
				t.Errorf("Authenticate() error = %v, want %v", err, tt.want)
			}
			if identity != nil {
				t.Errorf("no identity should be returned on failure, got %+v", identity)
			}
		})
	}
}

// mockVerifier implements interfaces.CredentialVerifier with a func field
type mockVerifier struct {
	verifyFunc func(raw string) (*types.Claims, error)
}

func (m *mockVerifier) Verify(raw string) (*types.Claims, error) { return m.verifyFunc(raw) }

func TestGate_ExpiryRecheckedAgainstClock(t *testing.T) {
	expiry := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	verifier := &mockVerifier{verifyFunc: func(raw string) (*types.Claims, error) {
		return &types.Claims{Subject: "u1", ExpiresAt: expiry}, nil
	}}
	gate := NewGate(verifier, knownUsers("u1"), 0, silentLogger())

	current := expiry.Add(-time.Minute)
	gate.now = func() time.Time { return current }
	if _, err := gate.Authenticate(context.Background(), "tok"); err != nil {
		t.Fatalf("credential should be valid before expiry: %v", err)
	}

	// Same credential, presented again after the window elapsed mid-session
	current = expiry.Add(time.Second)
	if _, err := gate.Authenticate(context.Background(), "tok"); !errors.Is(err, ErrExpiredCredential) {
		t.Errorf("expected ErrExpiredCredential, got %v", err)
	}
}

func TestGate_VerifierErrorsMapToInvalid(t *testing.T) {
	verifier := &mockVerifier{verifyFunc: func(raw string) (*types.Claims, error) {
		return nil, errors.New("library exploded")
	}}
	gate := NewGate(verifier, knownUsers("u1"), 0, silentLogger())
	if _, err := gate.Authenticate(context.Background(), "tok"); !errors.Is(err, ErrInvalidCredential) {
		t.Errorf("expected ErrInvalidCredential, got %v", err)
	}
}

func TestGate_StoreFailure(t *testing.T) {
	verifier := &mockVerifier{verifyFunc: func(raw string) (*types.Claims, error) {
		return &types.Claims{Subject: "u1"}, nil
	}}
	storeErr := errors.New("connection refused")
	store := &mockIdentityStore{lookupFunc: func(ctx context.Context, id string) (*types.Identity, error) {
		return nil, storeErr
	}}
	gate := NewGate(verifier, store, 0, silentLogger())

	_, err := gate.Authenticate(context.Background(), "tok")
	if !errors.Is(err, storeErr) {
		t.Errorf("expected wrapped store error, got %v", err)
	}
	if errors.Is(err, ErrUnknownPrincipal) {
		t.Error("a store outage is not an unknown principal")
	}
}

func TestExtractCredential(t *testing.T) {
	tests := []struct {
		name   string
		target string
		header string
		want   string
	}{
		{"query parameter", "/collaboration?token=abc", "", "abc"},
		{"bearer header", "/collaboration", "Bearer xyz", "xyz"},
		{"lowercase bearer", "/collaboration", "bearer xyz", "xyz"},
		{"query wins", "/collaboration?token=abc", "Bearer xyz", "abc"},
		{"basic auth ignored", "/collaboration", "Basic dXNlcg==", ""},
		{"nothing", "/collaboration", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", tt.target, nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			if got := ExtractCredential(r); got != tt.want {
				t.Errorf("ExtractCredential() = %q, want %q", got, tt.want)
			}
		})
	}
}
