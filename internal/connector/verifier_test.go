package connector

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// botFramework serves OpenID metadata and a one-key JWKS, and signs tokens
// with that key.
type botFramework struct {
	srv      *httptest.Server
	key      *rsa.PrivateKey
	jwksHits atomic.Int32
}

func newBotFramework(t *testing.T) *botFramework {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	bf := &botFramework{key: key}
	mux := http.NewServeMux()
	mux.HandleFunc("/openid", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"jwks_uri": bf.srv.URL + "/keys"})
	})
	mux.HandleFunc("/keys", func(w http.ResponseWriter, r *http.Request) {
		bf.jwksHits.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]any{"keys": []any{map[string]string{
			"kty": "RSA",
			"use": "sig",
			"kid": "bf-key",
			"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
		}}})
	})
	bf.srv = httptest.NewServer(mux)
	t.Cleanup(bf.srv.Close)
	return bf
}

// token signs claims with the fake's key under the given kid.
func (bf *botFramework) token(t *testing.T, kid string, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = kid
	s, err := tok.SignedString(bf.key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

// verifier points a Verifier for app-id at the fake metadata.
func (bf *botFramework) verifier(t *testing.T) *Verifier {
	t.Helper()
	v, err := NewVerifier(VerifierConfig{
		AppID:      "app-id",
		OpenIDURL:  bf.srv.URL + "/openid",
		HTTPClient: bf.srv.Client(),
	})
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	return v
}

// validClaims is a token the channel would send to app-id right now.
func validClaims() jwt.MapClaims {
	now := time.Now()
	return jwt.MapClaims{
		"iss":        "https://api.botframework.com",
		"aud":        "app-id",
		"exp":        now.Add(5 * time.Minute).Unix(),
		"nbf":        now.Add(-time.Minute).Unix(),
		"serviceurl": "https://smba.example/emea/",
	}
}

// Valid channel tokens pass, and the JWKS is fetched once.
func TestVerifier_AcceptsChannelToken(t *testing.T) {
	bf := newBotFramework(t)
	v := bf.verifier(t)
	tok := bf.token(t, "bf-key", validClaims())

	// A trailing slash difference in the service URL is tolerated.
	for i := 0; i < 3; i++ {
		if err := v.Authenticate(context.Background(), "Bearer "+tok, "https://smba.example/emea"); err != nil {
			t.Fatalf("Authenticate: %v", err)
		}
	}
	if bf.jwksHits.Load() != 1 {
		t.Fatalf("signing keys must be cached, fetched %d times", bf.jwksHits.Load())
	}
}

// Every failure mode surfaces as ErrUnauthorized.
func TestVerifier_Rejections(t *testing.T) {
	bf := newBotFramework(t)
	v := bf.verifier(t)

	wrongAud := validClaims()
	wrongAud["aud"] = "someone-else"
	wrongIss := validClaims()
	wrongIss["iss"] = "https://evil.example"
	expired := validClaims()
	expired["exp"] = time.Now().Add(-time.Hour).Unix()
	noExp := validClaims()
	delete(noExp, "exp")

	// svc is the activity's service URL; empty skips that check.
	cases := []struct {
		name   string
		header string
		svc    string
	}{
		{"missing header", "", ""},
		{"wrong scheme", "Basic " + bf.token(t, "bf-key", validClaims()), ""},
		{"wrong audience", "Bearer " + bf.token(t, "bf-key", wrongAud), ""},
		{"wrong issuer", "Bearer " + bf.token(t, "bf-key", wrongIss), ""},
		{"expired", "Bearer " + bf.token(t, "bf-key", expired), ""},
		{"no expiry", "Bearer " + bf.token(t, "bf-key", noExp), ""},
		{"unknown kid", "Bearer " + bf.token(t, "other", validClaims()), ""},
		{"service url mismatch", "Bearer " + bf.token(t, "bf-key", validClaims()), "https://attacker.example/"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := v.Authenticate(context.Background(), tc.header, tc.svc)
			if !errors.Is(err, ErrUnauthorized) {
				t.Fatalf("want ErrUnauthorized, got %v", err)
			}
		})
	}
}

func TestNewVerifier_RequiresAppID(t *testing.T) {
	if _, err := NewVerifier(VerifierConfig{}); err == nil {
		t.Fatalf("expected error without app id")
	}
	// emulator mode
	if err := (NoAuth{}).Authenticate(context.Background(), "", ""); err != nil {
		t.Fatalf("NoAuth must accept: %v", err)
	}
}
