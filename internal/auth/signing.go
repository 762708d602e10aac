// Package auth: remote RS256 signing
//
// This file adapts the key service to jwt.SigningMethod so tokens can be
// built and framed with golang-jwt while the RSA operation itself happens
// in KMS. Both Sign and Verify hash "header.body" with SHA-256 and pass the
// digest on.
package auth

import (
	"context"
	"crypto/sha256"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tbourn/notify-bot/internal/keyvault"
)

// remoteSigner is the "key" handed to signingMethod: a pool key plus the
// service that holds its private half.
type remoteSigner struct {
	ctx  context.Context
	keys KeyService
	key  keyvault.Key
}

// remoteRS256 frames tokens as RS256 while delegating the signature to the
// key service. It must not be registered with jwt.RegisterSigningMethod: that
// would replace the library RS256 used for inbound bot tokens.
type remoteRS256 struct{}

var signingMethod jwt.SigningMethod = remoteRS256{}

// Alg reports RS256 so the header matches what verifiers expect.
func (remoteRS256) Alg() string { return tokenAlg }

func (remoteRS256) Sign(signingString string, key any) ([]byte, error) {
	rs, ok := key.(*remoteSigner)
	if !ok {
		return nil, jwt.ErrInvalidKeyType
	}
	digest := sha256.Sum256([]byte(signingString))
	return rs.keys.Sign(rs.ctx, rs.key, digest[:])
}

func (remoteRS256) Verify(signingString string, sig []byte, key any) error {
	rs, ok := key.(*remoteSigner)
	if !ok {
		return jwt.ErrInvalidKeyType
	}
	digest := sha256.Sum256([]byte(signingString))
	valid, err := rs.keys.Verify(rs.ctx, rs.key, digest[:], sig)
	if err != nil {
		return err
	}
	if !valid {
		return jwt.ErrSignatureInvalid
	}
	return nil
}
