package auth

import (
	"context"
	"encoding/base64"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/smithy-go"

	"github.com/tbourn/notify-bot/internal/keyvault"
	"github.com/tbourn/notify-bot/internal/keyvault/keyvaulttest"
)

// ---------- fixture ----------

// fixture is a TokenService over the in-memory key service, with a clock the
// test moves by hand.
type fixture struct {
	svc     *TokenService
	secrets *keyvaulttest.Secrets
	kms     *keyvaulttest.KMS
	adapter *keyvault.Adapter

	mu  sync.Mutex
	now time.Time
}

// clock is the fixture's time source for both the adapter and the service.
func (f *fixture) clock() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// advance moves the fixture clock forward by d.
func (f *fixture) advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

// newFixture seeds the admin credentials admin/s3cret and a two-key pool size.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	f.kms = keyvaulttest.NewKMS()
	f.secrets = keyvaulttest.NewSecrets(map[string]string{
		"adminLogin":    "admin",
		"adminPassword": "s3cret",
	})
	f.adapter = keyvault.New(f.kms, f.secrets, keyvault.Options{Now: f.clock})
	f.svc = NewTokenService(f.adapter, Options{
		TTL:           time.Hour,
		PoolSize:      2,
		RetryInterval: time.Millisecond,
		Now:           f.clock,
	})
	return f
}

// authenticate logs in as the seeded admin and returns the raw token.
func authenticate(t *testing.T, f *fixture) string {
	t.Helper()
	tok, err := f.svc.Authenticate(context.Background(), "admin", "s3cret")
	if err != nil || tok == nil {
		t.Fatalf("Authenticate: %+v %v", tok, err)
	}
	if tok.TokenType != "Bearer" || tok.ExpiresIn != 3600 {
		t.Fatalf("unexpected token envelope %+v", tok)
	}
	return tok.AccessToken
}

// ---------- Authenticate() / Issue() ----------

func TestAuthenticate_ThenValidate(t *testing.T) {
	f := newFixture(t)
	token := authenticate(t, f)

	// three segments, no padding
	if strings.Count(token, ".") != 2 || strings.Contains(token, "=") {
		t.Fatalf("token not in unpadded h.b.s form: %q", token)
	}
	sub, err := f.svc.ValidateErr(context.Background(), token)
	if err != nil || sub != "admin" {
		t.Fatalf("ValidateErr: %q %v", sub, err)
	}
	if !f.svc.Validate(context.Background(), token) {
		t.Fatalf("fresh token must validate")
	}
}

func TestTokenService_TTL(t *testing.T) {
	if got := newFixture(t).svc.TTL(); got != time.Hour {
		t.Fatalf("TTL = %v", got)
	}
	// zero TTL falls back to the default
	if got := NewTokenService(nil, Options{}).TTL(); got != defaultTokenTTL {
		t.Fatalf("default TTL = %v", got)
	}
}

func TestAuthenticate_WrongCredentials(t *testing.T) {
	f := newFixture(t)
	for _, c := range [][2]string{{"admin", "nope"}, {"root", "s3cret"}, {"", ""}} {
		tok, err := f.svc.Authenticate(context.Background(), c[0], c[1])
		if err != nil || tok != nil {
			t.Fatalf("%v: want (nil, nil), got (%+v, %v)", c, tok, err)
		}
	}
	// denied logins never reach the key pool
	if f.kms.CallCount("CreateKey") != 0 {
		t.Fatalf("no key should be provisioned for denied logins")
	}
}

// ---------- Validate() ----------

// A token is valid up to and including exp.
func TestValidate_ExpiryBoundary(t *testing.T) {
	f := newFixture(t)
	token := authenticate(t, f)

	// exactly at exp
	f.advance(time.Hour)
	if !f.svc.Validate(context.Background(), token) {
		t.Fatalf("token must be valid at its exact expiry instant")
	}
	// just past it
	f.advance(time.Millisecond)
	if _, err := f.svc.ValidateErr(context.Background(), token); err != errExpired {
		t.Fatalf("want errExpired one millisecond after expiry, got %v", err)
	}
}

// Flipping any bit of the decoded signature must fail verification.
func TestValidate_AnyAlteredSignatureByte(t *testing.T) {
	f := newFixture(t)
	token := authenticate(t, f)
	parts := strings.Split(token, ".")
	sig, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		t.Fatal(err)
	}

	for i := range sig {
		altered := append([]byte(nil), sig...)
		altered[i] ^= 0x80 // high bit, always visible in the encoding
		forged := parts[0] + "." + parts[1] + "." + base64.RawURLEncoding.EncodeToString(altered)
		if f.svc.Validate(context.Background(), forged) {
			t.Fatalf("token with byte %d altered must not validate", i)
		}
	}
}

// Any changed character of the encoded signature is rejected, including the
// last one whose low bits a lenient decoder would ignore.
func TestValidate_AnyAlteredSignatureChar(t *testing.T) {
	f := newFixture(t)
	token := authenticate(t, f)
	parts := strings.Split(token, ".")

	for i := range parts[2] {
		sig := []byte(parts[2])
		// swap for another base64url character
		if sig[i] == 'A' {
			sig[i] = 'B'
		} else {
			sig[i] = 'A'
		}
		forged := parts[0] + "." + parts[1] + "." + string(sig)
		if forged == token {
			t.Fatalf("char %d: forged token equals original", i)
		}
		if f.svc.Validate(context.Background(), forged) {
			t.Fatalf("token with signature char %d altered must not validate", i)
		}
	}
}

// A body edited after signing no longer matches the signature.
func TestValidate_AlteredBody(t *testing.T) {
	f := newFixture(t)
	token := authenticate(t, f)
	parts := strings.Split(token, ".")

	// same subject, expiry pushed to 2100
	body := b64(`{"sub":"admin","exp":4102444800}`)
	if f.svc.Validate(context.Background(), parts[0]+"."+body+"."+parts[2]) {
		t.Fatalf("extended expiry must break the signature")
	}
}

// b64 is the unpadded base64url form used in token segments.
func b64(s string) string { return base64.RawURLEncoding.EncodeToString([]byte(s)) }

// Each malformed token is refused with the reason Validate checks first.
func TestValidate_StructuralFailures(t *testing.T) {
	f := newFixture(t)
	token := authenticate(t, f)
	parts := strings.Split(token, ".")
	sig := parts[2]
	exp := `"exp":1740833000` // still in the future on the fixture clock

	cases := []struct {
		name  string
		token string
		want  error
	}{
		{"empty", "", errMalformed},
		{"two parts", parts[0] + "." + parts[1], errMalformed},
		{"four parts", token + ".x", errMalformed},
		{"bad base64", "!!!." + parts[1] + "." + sig, errMalformed},
		{"missing kid", b64(`{"typ":"JWT","alg":"RS256"}`) + "." + b64(`{"sub":"admin",`+exp+`}`) + "." + sig, errMissingField},
		{"missing typ", b64(`{"alg":"RS256","kid":"1-2"}`) + "." + b64(`{"sub":"admin",`+exp+`}`) + "." + sig, errMissingField},
		{"missing sub", b64(`{"typ":"JWT","alg":"RS256","kid":"1-2"}`) + "." + b64(`{`+exp+`}`) + "." + sig, errMissingField},
		{"missing exp", b64(`{"typ":"JWT","alg":"RS256","kid":"1-2"}`) + "." + b64(`{"sub":"admin"}`) + "." + sig, errMissingField},
		{"wrong typ", b64(`{"typ":"JWS","alg":"RS256","kid":"1-2"}`) + "." + b64(`{"sub":"admin",`+exp+`}`) + "." + sig, errUnsupported},
		{"wrong alg", b64(`{"typ":"JWT","alg":"HS256","kid":"1-2"}`) + "." + b64(`{"sub":"admin",`+exp+`}`) + "." + sig, errUnsupported},
		{"empty signature", parts[0] + "." + parts[1] + ".", errMalformed},
		{"unknown subject", b64(`{"typ":"JWT","alg":"RS256","kid":"1-2"}`) + "." + b64(`{"sub":"mallory",`+exp+`}`) + "." + sig, errUnknownSubject},
		{"unknown kid", b64(`{"typ":"JWT","alg":"RS256","kid":"1-2"}`) + "." + b64(`{"sub":"admin",`+exp+`}`) + "." + sig, errUnknownKey},
		{"kid escaping prefix", b64(`{"typ":"JWT","alg":"RS256","kid":"../x"}`) + "." + b64(`{"sub":"admin",`+exp+`}`) + "." + sig, errUnknownKey},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.ValidateErr(context.Background(), tc.token)
			if err == nil || !strings.HasPrefix(err.Error(), tc.want.Error()) {
				t.Fatalf("want %v, got %v", tc.want, err)
			}
			if f.svc.Validate(context.Background(), tc.token) {
				t.Fatalf("Validate must be false")
			}
		})
	}
}

// A key service outage refuses the token instead of failing open.
func TestValidate_KeyServiceFailureIsFalse(t *testing.T) {
	f := newFixture(t)
	token := authenticate(t, f)

	// one throttled Verify, then the service answers again
	f.kms.FailNext("Verify", &smithy.GenericAPIError{Code: "ThrottlingException"})
	if f.svc.Validate(context.Background(), token) {
		t.Fatalf("key service error must yield false")
	}
	if !f.svc.Validate(context.Background(), token) {
		t.Fatalf("token must validate once the service recovers")
	}
}

// ---------- secret cache ----------

func TestSecretCache_RetriesTransientAndCaches(t *testing.T) {
	f := newFixture(t)
	throttled := &smithy.GenericAPIError{Code: "ThrottlingException"}
	f.secrets.FailGets(throttled, throttled)

	authenticate(t, f)
	// 2 throttled + 1 login + 1 password.
	if got := f.secrets.GetCount(); got != 4 {
		t.Fatalf("want 4 secret fetches, got %d", got)
	}
	// second login served from the cache
	authenticate(t, f)
	if got := f.secrets.GetCount(); got != 4 {
		t.Fatalf("cached secrets must not be refetched, got %d", got)
	}
	f.advance(6 * time.Minute) // past the 5m default cache TTL
	authenticate(t, f)
	if got := f.secrets.GetCount(); got != 6 {
		t.Fatalf("expired cache must refetch, got %d", got)
	}
}

// Access denied is not transient, so the first failure is final.
func TestSecretCache_GivesUpOnPermanentError(t *testing.T) {
	f := newFixture(t)
	f.secrets.FailGets(&smithy.GenericAPIError{Code: "AccessDeniedException"})

	if _, err := f.svc.Authenticate(context.Background(), "admin", "s3cret"); err == nil {
		t.Fatalf("expected error")
	}
	if got := f.secrets.GetCount(); got != 1 {
		t.Fatalf("permanent errors must not be retried, got %d fetches", got)
	}
}

func TestSecretCache_BoundedRetries(t *testing.T) {
	f := newFixture(t)
	throttled := &smithy.GenericAPIError{Code: "ThrottlingException"}
	// one more failure than the default 3 tries
	f.secrets.FailGets(throttled, throttled, throttled, throttled)

	if _, err := f.svc.Authenticate(context.Background(), "admin", "s3cret"); err == nil {
		t.Fatalf("expected error after exhausting retries")
	}
	if got := f.secrets.GetCount(); got != 3 {
		t.Fatalf("want 3 attempts, got %d", got)
	}
}

// ---------- BearerToken() ----------

func TestBearerToken(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"Bearer abc", "abc", true},
		{"bearer abc", "abc", true},
		{"  BEARER   abc  ", "abc", true},
		{"Basic abc", "", false},
		{"Bearer", "", false},
		{"Bearer   ", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, ok := BearerToken(tc.in)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("BearerToken(%q) = (%q, %v), want (%q, %v)", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}
