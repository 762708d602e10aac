// Package connector: inbound channel authentication.
//
// This file implements Verifier, which checks the bearer token the Bot
// Framework channel attaches to every activity it posts to the bot
// endpoint. Tokens are RS256 JWTs signed with keys published through the
// channel's OpenID metadata document:
//
//	openid configuration -> jwks_uri -> JSON Web Key Set
//
// Keys are cached for CacheTTL (24h by default). A token naming an unknown
// kid triggers one refresh under a mutex, so a key rotation is picked up
// without a restart and concurrent requests do not stampede the metadata
// endpoint.
//
// Accepted tokens must:
//   - be addressed to the bot's app id (aud)
//   - come from an allowed issuer
//   - carry an expiry, checked with a leeway for clock skew
//   - match the activity's service URL when they carry a serviceurl claim
package connector

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

const (
	defaultOpenIDURL    = "https://login.botframework.com/v1/.well-known/openidconfiguration"
	defaultIssuer       = "https://api.botframework.com"
	defaultJWKSCacheTTL = 24 * time.Hour
	defaultLeeway       = 5 * time.Minute
)

var (
	// ErrUnauthorized is returned for inbound activities whose token is
	// missing or does not verify.
	ErrUnauthorized = errors.New("connector: unauthorized activity")

	errMissingKeyIdentifier = errors.New("token missing key identifier")
	errKeyNotFound          = errors.New("signing key not found in JWKS")
	errUntrustedIssuer      = errors.New("token issuer not allowed")
	errServiceURLMismatch   = errors.New("token serviceurl does not match activity")
	errMissingAppID         = errors.New("app id configuration required")
)

// Authenticator checks the Authorization header of an inbound activity.
type Authenticator interface {
	Authenticate(ctx context.Context, authHeader, serviceURL string) error
}

// NoAuth accepts every activity. It is used with the local emulator.
type NoAuth struct{}

// Authenticate always succeeds.
func (NoAuth) Authenticate(context.Context, string, string) error { return nil }

// VerifierConfig configures a Verifier. Only AppID is required.
type VerifierConfig struct {
	AppID      string           // expected audience
	OpenIDURL  string           // metadata document; Bot Framework public cloud when empty
	Issuers    []string         // accepted iss values; https://api.botframework.com when empty
	HTTPClient *http.Client     // 10s timeout client when nil
	CacheTTL   time.Duration    // key set lifetime; 24h when zero
	Leeway     time.Duration    // allowed clock skew; 5m when zero
	Clock      func() time.Time // time.Now when nil
}

// Verifier validates channel tokens offline against the Bot Framework
// signing keys, discovered through OpenID metadata and cached.
type Verifier struct {
	appID      string
	openIDURL  string
	httpClient *http.Client
	leeway     time.Duration
	clock      func() time.Time
	issuers    map[string]struct{}
	cache      *jwksCache
	refresh    sync.Mutex // serializes key set fetches
}

// NewVerifier returns a Verifier for cfg.AppID. It fails only when the app
// id is blank; keys are fetched lazily on the first token.
func NewVerifier(cfg VerifierConfig) (*Verifier, error) {
	appID := strings.TrimSpace(cfg.AppID)
	if appID == "" {
		return nil, errMissingAppID
	}
	v := &Verifier{
		appID:      appID,
		openIDURL:  firstNonEmpty(strings.TrimSpace(cfg.OpenIDURL), defaultOpenIDURL),
		httpClient: cfg.HTTPClient,
		leeway:     cfg.Leeway,
		clock:      cfg.Clock,
		issuers:    make(map[string]struct{}),
		cache:      &jwksCache{ttl: cfg.CacheTTL},
	}
	if v.httpClient == nil {
		v.httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if v.leeway <= 0 {
		v.leeway = defaultLeeway
	}
	if v.clock == nil {
		v.clock = time.Now
	}
	if v.cache.ttl <= 0 {
		v.cache.ttl = defaultJWKSCacheTTL
	}
	for _, iss := range cfg.Issuers {
		if iss = strings.TrimSpace(iss); iss != "" {
			v.issuers[iss] = struct{}{}
		}
	}
	if len(v.issuers) == 0 {
		v.issuers[defaultIssuer] = struct{}{}
	}
	return v, nil
}

// Authenticate verifies the bearer token of an inbound activity. When the
// token carries a serviceurl claim it must match the activity's service URL.
func (v *Verifier) Authenticate(ctx context.Context, authHeader, serviceURL string) error {
	scheme, raw, ok := strings.Cut(strings.TrimSpace(authHeader), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(raw) == "" {
		return fmt.Errorf("%w: missing bearer token", ErrUnauthorized)
	}

	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(
		strings.TrimSpace(raw),
		claims,
		func(token *jwt.Token) (any, error) {
			kid, _ := token.Header["kid"].(string)
			if kid == "" {
				return nil, errMissingKeyIdentifier
			}
			return v.lookupKey(ctx, kid)
		},
		jwt.WithAudience(v.appID),
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithLeeway(v.leeway),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.clock),
	)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}

	// golang-jwt accepts a single issuer, so the set is checked here.
	iss, _ := claims.GetIssuer()
	if _, allowed := v.issuers[iss]; !allowed {
		return fmt.Errorf("%w: %w", ErrUnauthorized, errUntrustedIssuer)
	}
	// Binds the token to the service URL the reply will be sent to.
	if claimed, _ := claims["serviceurl"].(string); claimed != "" && serviceURL != "" &&
		strings.TrimRight(claimed, "/") != strings.TrimRight(serviceURL, "/") {
		return fmt.Errorf("%w: %w", ErrUnauthorized, errServiceURLMismatch)
	}
	return nil
}

// lookupKey returns the cached key for kid, refreshing the key set once when
// it is missing or stale.
func (v *Verifier) lookupKey(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	now := v.clock()
	if key := v.cache.get(kid, now); key != nil {
		return key, nil
	}

	// One refresh at a time.
	v.refresh.Lock()
	defer v.refresh.Unlock()
	// Another request may have refreshed while we waited.
	if key := v.cache.get(kid, now); key != nil {
		return key, nil
	}
	if err := v.refreshKeys(ctx, now); err != nil {
		return nil, err
	}
	if key := v.cache.get(kid, now); key != nil {
		return key, nil
	}
	return nil, errKeyNotFound
}

// openIDMetadata is the part of the OpenID configuration document in use.
type openIDMetadata struct {
	JWKSURI string `json:"jwks_uri"`
}

// refreshKeys replaces the whole cached key set. Non-RSA keys and keys not
// meant for signatures are skipped; a set with no usable key is an error and
// leaves the previous set in place.
func (v *Verifier) refreshKeys(ctx context.Context, fetchedAt time.Time) error {
	var meta openIDMetadata
	if err := v.getJSON(ctx, v.openIDURL, &meta); err != nil {
		return fmt.Errorf("openid metadata: %w", err)
	}
	if meta.JWKSURI == "" {
		return errors.New("openid metadata has no jwks_uri")
	}

	var document jwksDocument
	if err := v.getJSON(ctx, meta.JWKSURI, &document); err != nil {
		return fmt.Errorf("jwks: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(document.Keys))
	for _, key := range document.Keys {
		if key.KeyType != "RSA" || (key.Use != "" && key.Use != "sig") {
			continue
		}
		pub, err := key.toRSAPublicKey()
		if err != nil {
			zerolog.Ctx(ctx).Debug().Str("kid", key.KeyID).Err(err).Msg("skipping jwk")
			continue
		}
		keys[key.KeyID] = pub
	}
	if len(keys) == 0 {
		return errors.New("jwks document contained no usable keys")
	}
	v.cache.store(keys, fetchedAt)
	return nil
}

// getJSON fetches endpoint and decodes a 200 response into out.
func (v *Verifier) getJSON(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	resp, err := v.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("request returned status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// jwksCache holds one key set and its expiry.
type jwksCache struct {
	mu        sync.RWMutex
	keys      map[string]*rsa.PublicKey
	expiresAt time.Time
	ttl       time.Duration
}

// get returns nil for an unknown kid and for every kid once the set expired.
func (c *jwksCache) get(kid string, now time.Time) *rsa.PublicKey {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.keys == nil || now.After(c.expiresAt) {
		return nil
	}
	return c.keys[kid]
}

// store swaps in a freshly fetched set.
func (c *jwksCache) store(keys map[string]*rsa.PublicKey, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.keys = keys
	c.expiresAt = now.Add(c.ttl)
}

// jwksDocument is the body served at jwks_uri.
type jwksDocument struct {
	Keys []jwk `json:"keys"`
}

// jwk is an RSA JSON Web Key; other key types are skipped when decoding.
type jwk struct {
	KeyType string `json:"kty"`
	KeyID   string `json:"kid"`
	Use     string `json:"use"`
	Modulus string `json:"n"`
	Exp     string `json:"e"`
}

// toRSAPublicKey decodes the base64url modulus and big-endian exponent.
func (k jwk) toRSAPublicKey() (*rsa.PublicKey, error) {
	n, err := base64.RawURLEncoding.DecodeString(k.Modulus)
	if err != nil {
		return nil, fmt.Errorf("invalid modulus encoding: %w", err)
	}
	e, err := base64.RawURLEncoding.DecodeString(k.Exp)
	if err != nil {
		return nil, fmt.Errorf("invalid exponent encoding: %w", err)
	}
	if len(n) == 0 || len(e) == 0 {
		return nil, errors.New("missing modulus or exponent")
	}
	exponent := 0
	for _, b := range e {
		exponent = exponent<<8 + int(b)
	}
	if exponent == 0 {
		return nil, errors.New("invalid exponent value")
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(n), E: exponent}, nil
}
