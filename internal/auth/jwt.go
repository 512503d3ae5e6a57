package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the subset of an Azure AD access token this platform relies on.
type Claims struct {
	Subject  string `json:"sub"`
	Audience string `json:"aud"`
	Issuer   string `json:"iss"`
	Name     string `json:"name"`
	Email    string `json:"preferred_username"`
	jwt.RegisteredClaims
}

// TokenVerifier checks an operator bearer token and returns its claims.
// Concrete Azure-AD verification internals (tenant discovery, JWKS rotation
// policy) are an external collaborator per the platform's scope; this
// interface is the capability contract the HTTP layer depends on.
type TokenVerifier interface {
	Verify(ctx context.Context, rawToken string) (*Claims, error)
}

// NoopVerifier accepts any non-empty token and returns a fixed subject.
// Used when AUTH_ENABLED=false (local development).
type NoopVerifier struct{}

func (NoopVerifier) Verify(_ context.Context, rawToken string) (*Claims, error) {
	if rawToken == "" {
		return nil, fmt.Errorf("auth: empty token")
	}
	return &Claims{Subject: "dev-operator"}, nil
}

// jwksKey is one entry of a JWKS document.
type jwksKey struct {
	Kid string `json:"kid"`
	N   string `json:"n"`
	E   string `json:"e"`
	Kty string `json:"kty"`
}

type jwksDocument struct {
	Keys []jwksKey `json:"keys"`
}

// AzureADVerifier verifies Azure AD (Entra ID) issued JWTs against a cached
// JWKS document, checking signature, issuer, audience, and expiry.
type AzureADVerifier struct {
	jwksURL  string
	issuer   string
	audience string
	client   *http.Client

	mu        sync.Mutex
	keys      map[string]*rsa.PublicKey
	fetchedAt time.Time
	ttl       time.Duration
}

// NewAzureADVerifier builds a verifier for a given tenant/client/audience.
// The JWKS document is fetched lazily and cached for ttl.
func NewAzureADVerifier(tenantID, clientID, audience string) *AzureADVerifier {
	_ = clientID // reserved for future authorized-party (azp) checks
	return &AzureADVerifier{
		jwksURL:  fmt.Sprintf("https://login.microsoftonline.com/%s/discovery/v2.0/keys", tenantID),
		issuer:   fmt.Sprintf("https://login.microsoftonline.com/%s/v2.0", tenantID),
		audience: audience,
		client:   &http.Client{Timeout: 5 * time.Second},
		ttl:      1 * time.Hour,
	}
}

func (v *AzureADVerifier) Verify(ctx context.Context, rawToken string) (*Claims, error) {
	keys, err := v.jwksKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("auth: fetch jwks: %w", err)
	}

	claims := &Claims{}
	_, err = jwt.ParseWithClaims(rawToken, claims, func(t *jwt.Token) (interface{}, error) {
		kid, _ := t.Header["kid"].(string)
		key, ok := keys[kid]
		if !ok {
			return nil, fmt.Errorf("auth: unknown key id %q", kid)
		}
		return key, nil
	}, jwt.WithValidMethods([]string{"RS256"}), jwt.WithIssuer(v.issuer), jwt.WithAudience(v.audience))
	if err != nil {
		return nil, fmt.Errorf("auth: verify token: %w", err)
	}
	return claims, nil
}

func (v *AzureADVerifier) jwksKeys(ctx context.Context) (map[string]*rsa.PublicKey, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.keys != nil && time.Since(v.fetchedAt) < v.ttl {
		return v.keys, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.jwksURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := v.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("auth: jwks endpoint returned %d", resp.StatusCode)
	}

	var doc jwksDocument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("auth: decode jwks: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(doc.Keys))
	for _, k := range doc.Keys {
		if k.Kty != "RSA" {
			continue
		}
		pub, err := rsaPublicKeyFromJWK(k.N, k.E)
		if err != nil {
			continue
		}
		keys[k.Kid] = pub
	}

	v.keys = keys
	v.fetchedAt = time.Now()
	return keys, nil
}

func rsaPublicKeyFromJWK(nEnc, eEnc string) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(nEnc)
	if err != nil {
		return nil, fmt.Errorf("decode n: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(eEnc)
	if err != nil {
		return nil, fmt.Errorf("decode e: %w", err)
	}

	n := new(big.Int).SetBytes(nBytes)
	e := new(big.Int).SetBytes(eBytes)
	return &rsa.PublicKey{N: n, E: int(e.Int64())}, nil
}
