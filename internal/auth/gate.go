package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"collabhub/pkg/interfaces"
	"collabhub/pkg/types"
)

// Gate turns a raw bearer credential into a live identity
// ARCHITECTURAL DISCOVERY: The gate only decides; terminating the connection
// on failure is the lifecycle's job, so no half-authenticated state leaks out
type Gate struct {
	verifier   interfaces.CredentialVerifier
	identities interfaces.IdentityStore
	leeway     time.Duration
	now        func() time.Time
	logger     *slog.Logger
}

// NewGate creates an authentication gate
func NewGate(verifier interfaces.CredentialVerifier, identities interfaces.IdentityStore, leeway time.Duration, logger *slog.Logger) *Gate {
	return &Gate{
		verifier:   verifier,
		identities: identities,
		leeway:     leeway,
		now:        time.Now,
		logger:     logger.With("component", "auth"),
	}
}

// Authenticate validates raw and resolves the principal it names
func (g *Gate) Authenticate(ctx context.Context, raw string) (*types.Identity, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, fmt.Errorf("%w: empty credential", ErrInvalidCredential)
	}

	claims, err := g.verifier.Verify(raw)
	if err != nil {
		if errors.Is(err, ErrExpiredCredential) || errors.Is(err, ErrInvalidCredential) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}

	// TECHNICAL DISCOVERY: Credentials outlive the connect; the same credential is
	// re-checked on every join, so expiry is evaluated against the gate clock
	if !claims.ExpiresAt.IsZero() && !g.now().Before(claims.ExpiresAt.Add(g.leeway)) {
		return nil, fmt.Errorf("%w: expired at %s", ErrExpiredCredential, claims.ExpiresAt.Format(time.RFC3339))
	}

	stored, err := g.identities.LookupIdentity(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, interfaces.ErrPrincipalNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownPrincipal, claims.Subject)
		}
		return nil, fmt.Errorf("identity lookup failed: %w", err)
	}

	identity := &types.Identity{
		ID:          claims.Subject,
		DisplayName: claims.Name,
		Email:       claims.Email,
	}
	if identity.DisplayName == "" {
		identity.DisplayName = stored.DisplayName
	}
	if identity.Email == "" {
		identity.Email = stored.Email
	}
	return identity, nil
}

// ExtractCredential reads the bearer credential from the handshake
// FUNCTIONAL DISCOVERY: Browsers cannot set headers on a websocket upgrade,
// so the token query parameter is checked first
func ExtractCredential(r *http.Request) string {
	if token := strings.TrimSpace(r.URL.Query().Get("token")); token != "" {
		return token
	}
	header := r.Header.Get("Authorization")
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}
