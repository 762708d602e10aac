// Package keyvault: signing.
//
// Token signatures are produced and checked inside KMS; private key
// material never leaves the service. Both operations take a precomputed
// SHA-256 digest (MessageType DIGEST) with RSASSA-PKCS1-v1_5, which is what
// RS256 JWTs use.
package keyvault

import (
	"context"
	"errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	kmstypes "github.com/aws/aws-sdk-go-v2/service/kms/types"
)

// Sign signs a SHA-256 digest with key (RSASSA-PKCS1-v1_5). key must be a
// pool key as returned by GetKey or GetOrCreateRandomKey; its Name only
// labels the call in traces and metrics.
func (a *Adapter) Sign(ctx context.Context, key Key, digest []byte) ([]byte, error) {
	var sig []byte
	err := a.call(ctx, "Sign", key.Name, func(ctx context.Context) error {
		out, err := a.kms.Sign(ctx, &kms.SignInput{
			KeyId:            aws.String(key.ID),
			Message:          digest,
			MessageType:      kmstypes.MessageTypeDigest,
			SigningAlgorithm: kmstypes.SigningAlgorithmSpecRsassaPkcs1V15Sha256,
		})
		if err != nil {
			return err
		}
		sig = out.Signature
		return nil
	})
	return sig, err
}

// Verify checks sig over a SHA-256 digest with key. A signature that does
// not match is reported as (false, nil).
func (a *Adapter) Verify(ctx context.Context, key Key, digest, sig []byte) (bool, error) {
	var valid bool
	err := a.call(ctx, "Verify", key.Name, func(ctx context.Context) error {
		out, err := a.kms.Verify(ctx, &kms.VerifyInput{
			KeyId:            aws.String(key.ID),
			Message:          digest,
			MessageType:      kmstypes.MessageTypeDigest,
			Signature:        sig,
			SigningAlgorithm: kmstypes.SigningAlgorithmSpecRsassaPkcs1V15Sha256,
		})
		// KMS reports a mismatch as an error, not as SignatureValid=false.
		var invalid *kmstypes.KMSInvalidSignatureException
		if errors.As(err, &invalid) {
			return nil
		}
		if err != nil {
			return err
		}
		valid = out.SignatureValid
		return nil
	})
	return valid, err
}
