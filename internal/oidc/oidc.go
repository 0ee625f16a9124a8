package oidc

import (
	"context"
	"fmt"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/gogotex/docstore/internal/config"
	"github.com/gogotex/docstore/pkg/middleware"
)

// Verifier checks ID tokens against a discovered OIDC provider.
type Verifier struct {
	verifier *oidc.IDTokenVerifier
}

// NewVerifier discovers the provider at issuer and verifies tokens for clientID.
func NewVerifier(ctx context.Context, issuer, clientID string) (*Verifier, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("discover OIDC provider %s: %w", issuer, err)
	}
	return &Verifier{verifier: provider.Verifier(&oidc.Config{ClientID: clientID})}, nil
}

// Verify implements middleware.Verifier.
func (v *Verifier) Verify(ctx context.Context, raw string) (middleware.Token, error) {
	tok, err := v.verifier.Verify(ctx, raw)
	if err != nil {
		return nil, err
	}
	return tok, nil
}

// Issuer builds the Keycloak realm issuer URL, or returns the base URL as-is
// when no realm is configured.
func Issuer(cfg config.KeycloakConfig) string {
	if cfg.Realm == "" {
		return cfg.URL
	}
	return strings.TrimRight(cfg.URL, "/") + "/realms/" + cfg.Realm
}

// FromConfig returns the verifier protecting the API, or nil when auth is off.
// ALLOW_INSECURE_TOKEN without a Keycloak URL selects the unverified decoder.
func FromConfig(ctx context.Context, cfg config.KeycloakConfig) (middleware.Verifier, error) {
	if cfg.URL != "" && cfg.ClientID != "" {
		v, err := NewVerifier(ctx, Issuer(cfg), cfg.ClientID)
		if err != nil {
			return nil, err
		}
		return v, nil
	}
	if cfg.AllowInsecure {
		return NewInsecureVerifier(), nil
	}
	return nil, nil
}
