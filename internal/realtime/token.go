// Package realtime implements the live diagnostics channel: authenticated
// websocket connections joined to a broadcast group that receives redacted
// scraper events.
package realtime

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/golang-jwt/jwt/v5"
)

// TokenVerifier validates an identity token and returns its subject.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (subject string, err error)
}

// VerifierConfig locates the identity provider and its required claims.
type VerifierConfig struct {
	JWKSURL  string
	Audience string
	Issuer   string
	// CacheTTL bounds key-set reuse before a refetch (default 5m).
	CacheTTL time.Duration
	// HTTPTimeout bounds one JWKS fetch (default 5s).
	HTTPTimeout time.Duration
}

// JWKSVerifier checks RS256 identity tokens against a cached public key set
// keyed by the token header's kid.
type JWKSVerifier struct {
	cfg  VerifierConfig
	http *resty.Client

	mu        sync.RWMutex
	keys      map[string]*rsa.PublicKey
	fetchedAt time.Time
}

// NewJWKSVerifier builds a verifier with an empty cache.
func NewJWKSVerifier(cfg VerifierConfig) *JWKSVerifier {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 5 * time.Second
	}
	return &JWKSVerifier{
		cfg:  cfg,
		http: resty.New().SetTimeout(cfg.HTTPTimeout),
		keys: map[string]*rsa.PublicKey{},
	}
}

// Verify parses and validates the token: RS256 only, signature against the
// kid-matched key, audience, issuer, and expiry. It returns the subject claim.
func (v *JWKSVerifier) Verify(ctx context.Context, token string) (string, error) {
	parsed, err := jwt.Parse(token,
		func(t *jwt.Token) (any, error) { return v.keyFor(ctx, t) },
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithAudience(v.cfg.Audience),
		jwt.WithIssuer(v.cfg.Issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", fmt.Errorf("verify identity token: %w", err)
	}
	subject, err := parsed.Claims.GetSubject()
	if err != nil || subject == "" {
		return "", errors.New("identity token has no subject")
	}
	return subject, nil
}

// keyFor resolves the kid header against the cache, refetching the key set
// when the kid is unknown or the cache has expired.
func (v *JWKSVerifier) keyFor(ctx context.Context, t *jwt.Token) (*rsa.PublicKey, error) {
	kid, _ := t.Header["kid"].(string)
	if kid == "" {
		return nil, errors.New("token header missing kid")
	}

	v.mu.RLock()
	key, ok := v.keys[kid]
	fresh := time.Since(v.fetchedAt) < v.cfg.CacheTTL
	v.mu.RUnlock()
	if ok && fresh {
		return key, nil
	}

	if err := v.refresh(ctx); err != nil {
		return nil, err
	}

	v.mu.RLock()
	defer v.mu.RUnlock()
	key, ok = v.keys[kid]
	if !ok {
		return nil, fmt.Errorf("no key published for kid %q", kid)
	}
	return key, nil
}

// jwk is the subset of an RFC 7517 key the verifier consumes.
type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
}

func (v *JWKSVerifier) refresh(ctx context.Context) error {
	resp, err := v.http.R().SetContext(ctx).Get(v.cfg.JWKSURL)
	if err != nil {
		return fmt.Errorf("fetch jwks: %w", err)
	}
	if resp.StatusCode() != 200 {
		return fmt.Errorf("fetch jwks: status %d", resp.StatusCode())
	}

	var doc struct {
		Keys []jwk `json:"keys"`
	}
	if err := json.Unmarshal(resp.Body(), &doc); err != nil {
		return fmt.Errorf("parse jwks: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(doc.Keys))
	for _, k := range doc.Keys {
		if k.Kty != "RSA" || k.Kid == "" {
			continue
		}
		pub, err := k.publicKey()
		if err != nil {
			return fmt.Errorf("parse jwks key %q: %w", k.Kid, err)
		}
		keys[k.Kid] = pub
	}

	v.mu.Lock()
	v.keys = keys
	v.fetchedAt = time.Now()
	v.mu.Unlock()
	return nil
}

func (k jwk) publicKey() (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("decode modulus: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("decode exponent: %w", err)
	}
	e := 0
	for _, b := range eBytes {
		e = e<<8 | int(b)
	}
	if e <= 0 {
		return nil, errors.New("non-positive exponent")
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(nBytes), E: e}, nil
}

var _ TokenVerifier = (*JWKSVerifier)(nil)
