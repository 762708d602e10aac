// Package auth issues and validates the admin API bearer tokens.
//
// Tokens use JWT framing (base64url header, body and signature joined by
// dots, no padding) with header {"typ":"JWT","alg":"RS256","kid":<key>} and
// body {"sub":<login>,"exp":<unix seconds>}. Signatures are RSASSA-PKCS1-v1_5
// over the SHA-256 digest of "header.body", produced and checked by the
// remote key service; private keys never leave it.
//
// A token is accepted while now <= exp. The checks run cheapest first: the
// framing and claims are checked locally, then the subject against the
// cached admin login, and only then is the key service asked to verify the
// signature.
package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"

	"github.com/tbourn/notify-bot/internal/keyvault"
)

const (
	defaultTokenTTL = time.Hour
	tokenType       = "JWT"
	tokenAlg        = "RS256"
)

var (
	// ErrInvalidToken wraps every reason a token is refused.
	ErrInvalidToken = errors.New("invalid token")

	// Reasons, in the order Validate checks them.
	errMalformed      = fmt.Errorf("%w: malformed", ErrInvalidToken)
	errMissingField   = fmt.Errorf("%w: missing field", ErrInvalidToken)
	errUnsupported    = fmt.Errorf("%w: unsupported type or algorithm", ErrInvalidToken)
	errExpired        = fmt.Errorf("%w: expired", ErrInvalidToken)
	errUnknownSubject = fmt.Errorf("%w: unknown subject", ErrInvalidToken)
	errUnknownKey     = fmt.Errorf("%w: unknown key", ErrInvalidToken)
	errBadSignature   = fmt.Errorf("%w: signature mismatch", ErrInvalidToken)
)

// KeyService is the part of the key service adapter the token service uses.
type KeyService interface {
	GetSecret(ctx context.Context, name string) (string, error)
	GetKey(ctx context.Context, name string) (keyvault.Key, error)
	GetOrCreateRandomKey(ctx context.Context, poolSize int) (keyvault.Key, error)
	Sign(ctx context.Context, key keyvault.Key, digest []byte) ([]byte, error)
	Verify(ctx context.Context, key keyvault.Key, digest, sig []byte) (bool, error)
}

// Token is the response body of a successful authentication.
type Token struct {
	TokenType   string `json:"tokenType" example:"Bearer"`
	ExpiresIn   int64  `json:"expiresIn" example:"3600"` // seconds
	AccessToken string `json:"accessToken"`
}

// Options configures a TokenService.
type Options struct {
	TTL            time.Duration // token lifetime; 1h when zero
	PoolSize       int           // signing key pool size; 3 when < 1
	LoginSecret    string        // secret holding the admin login
	PasswordSecret string        // secret holding the admin password
	CacheTTL       time.Duration // secret cache lifetime; 5m when zero
	Retries        int           // attempts per secret fetch; 3 when < 1
	RetryInterval  time.Duration // first backoff interval; 100ms when zero
	Now            func() time.Time
}

// TokenService issues and validates admin tokens.
type TokenService struct {
	keys     KeyService
	ttl      time.Duration
	poolSize int
	login    string // name of the secret, not the login itself
	password string // likewise
	secrets  *secretCache
	parser   *jwt.Parser // framing only; never verifies signatures
	now      func() time.Time
}

// NewTokenService returns a TokenService backed by keys.
func NewTokenService(keys KeyService, opts Options) *TokenService {
	s := &TokenService{
		keys:     keys,
		ttl:      opts.TTL,
		poolSize: opts.PoolSize,
		login:    opts.LoginSecret,
		password: opts.PasswordSecret,
		parser:   jwt.NewParser(jwt.WithStrictDecoding()),
		now:      opts.Now,
	}
	if s.ttl <= 0 {
		s.ttl = defaultTokenTTL
	}
	if s.poolSize < 1 {
		s.poolSize = 3
	}
	if s.login == "" {
		s.login = "adminLogin"
	}
	if s.password == "" {
		s.password = "adminPassword"
	}
	if s.now == nil {
		s.now = time.Now
	}
	s.secrets = newSecretCache(keys, opts.CacheTTL, opts.Retries, opts.RetryInterval, s.now)
	return s
}

// TTL returns the lifetime of issued tokens.
func (s *TokenService) TTL() time.Duration { return s.ttl }

// Authenticate checks login and password against the stored admin
// credentials and issues a token on match. A mismatch returns (nil, nil).
func (s *TokenService) Authenticate(ctx context.Context, login, password string) (*Token, error) {
	ctx, span := otel.Tracer("auth").Start(ctx, "auth.Authenticate")
	defer span.End()

	wantLogin, err := s.secrets.get(ctx, s.login)
	if err != nil {
		return nil, err
	}
	wantPassword, err := s.secrets.get(ctx, s.password)
	if err != nil {
		return nil, err
	}
	// Both comparisons always run so timing does not reveal which one failed.
	loginOK := subtle.ConstantTimeCompare([]byte(login), []byte(wantLogin)) == 1
	passwordOK := subtle.ConstantTimeCompare([]byte(password), []byte(wantPassword)) == 1
	if !loginOK || !passwordOK {
		tokensTotal.WithLabelValues("denied").Inc()
		return nil, nil
	}
	signed, err := s.Issue(ctx, login)
	if err != nil {
		return nil, err
	}
	return &Token{TokenType: "Bearer", ExpiresIn: int64(s.ttl / time.Second), AccessToken: signed}, nil
}

// Issue mints a token for login signed with a random pool key.
func (s *TokenService) Issue(ctx context.Context, login string) (string, error) {
	key, err := s.keys.GetOrCreateRandomKey(ctx, s.poolSize)
	if err != nil {
		return "", fmt.Errorf("issue token: %w", err)
	}
	// exp is carried in whole seconds.
	exp := s.now().Add(s.ttl).Truncate(time.Second)
	tok := jwt.NewWithClaims(signingMethod, jwt.RegisteredClaims{
		Subject:   login,
		ExpiresAt: jwt.NewNumericDate(exp),
	})
	// kid names the pool key so Validate can find it again.
	tok.Header["kid"] = key.Name

	signed, err := tok.SignedString(&remoteSigner{ctx: ctx, keys: s.keys, key: key})
	if err != nil {
		return "", fmt.Errorf("issue token: %w", err)
	}
	tokensTotal.WithLabelValues("issued").Inc()
	return signed, nil
}

// Validate reports whether token is well formed, unexpired, issued to the
// admin login and signed by a pool key. Every failure, including key service
// errors, yields false.
func (s *TokenService) Validate(ctx context.Context, token string) bool {
	_, ok := s.Subject(ctx, token)
	return ok
}

// Subject is Validate that also returns the token subject.
func (s *TokenService) Subject(ctx context.Context, token string) (string, bool) {
	sub, err := s.ValidateErr(ctx, token)
	if err != nil {
		zerolog.Ctx(ctx).Debug().Err(err).Msg("token rejected")
		tokensTotal.WithLabelValues("invalid").Inc()
		return "", false
	}
	tokensTotal.WithLabelValues("valid").Inc()
	return sub, true
}

// ValidateErr is Validate with the reason for refusal. On success it returns
// the token subject.
func (s *TokenService) ValidateErr(ctx context.Context, token string) (string, error) {
	ctx, span := otel.Tracer("auth").Start(ctx, "auth.Validate")
	defer span.End()

	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return "", errMalformed
	}
	// The signature is checked below by the key service, not by the parser.
	claims := &jwt.RegisteredClaims{}
	parsed, _, err := s.parser.ParseUnverified(token, claims)
	if err != nil {
		return "", fmt.Errorf("%w: %v", errMalformed, err)
	}
	typ, _ := parsed.Header["typ"].(string)
	alg, _ := parsed.Header["alg"].(string)
	kid, _ := parsed.Header["kid"].(string)
	if typ == "" || alg == "" || kid == "" || claims.Subject == "" || claims.ExpiresAt == nil {
		return "", errMissingField
	}
	if typ != tokenType || alg != tokenAlg {
		return "", errUnsupported
	}
	if s.now().After(claims.ExpiresAt.Time) {
		return "", errExpired
	}
	// Strict decoding: a signature segment with stray trailing bits is a
	// different token, not an alias of this one.
	sig, err := s.parser.DecodeSegment(parts[2])
	if err != nil || len(sig) == 0 {
		return "", errMalformed
	}

	// Only the admin login is ever issued a token.
	login, err := s.secrets.get(ctx, s.login)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if subtle.ConstantTimeCompare([]byte(claims.Subject), []byte(login)) != 1 {
		return "", errUnknownSubject
	}

	// A kid the key service does not know is a bad token, not an outage.
	key, err := s.keys.GetKey(ctx, kid)
	if errors.Is(err, keyvault.ErrNotFound) || errors.Is(err, keyvault.ErrInvalidName) {
		return "", errUnknownKey
	}
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	digest := sha256.Sum256([]byte(parts[0] + "." + parts[1]))
	ok, err := s.keys.Verify(ctx, key, digest[:], sig)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !ok {
		return "", errBadSignature
	}
	return claims.Subject, nil
}

// BearerToken extracts the token from an "Authorization: Bearer <token>"
// header value. The scheme is matched case-insensitively.
func BearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
