// Package keyvault: Secrets Manager access.
//
// The admin login and password are plain string secrets. Reads go through
// the same call wrapper as KMS operations, so they share its concurrency
// limit, tracing, metrics and error classification.
package keyvault

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// Secrets Manager names allow path-like separators that key names do not.
var secretNamePattern = regexp.MustCompile(`^[A-Za-z0-9/_+=.@-]{1,512}$`)

// validSecretName reports ErrInvalidName for names Secrets Manager would
// refuse: alphanumerics plus /_+=.@- and at most 512 characters.
func validSecretName(name string) error {
	if !secretNamePattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// GetSecret returns the current string value of the named secret.
func (a *Adapter) GetSecret(ctx context.Context, name string) (string, error) {
	if err := validSecretName(name); err != nil {
		return "", err
	}
	var value string
	err := a.call(ctx, "GetSecretValue", name, func(ctx context.Context) error {
		out, err := a.secrets.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
			SecretId: aws.String(name),
		})
		if err != nil {
			return err
		}
		switch {
		case out.SecretString != nil:
			value = *out.SecretString
		case out.SecretBinary != nil:
			value = string(out.SecretBinary)
		}
		return nil
	})
	return value, err
}

// SetSecret stores value as the current version of the named secret,
// creating the secret when it does not exist yet.
func (a *Adapter) SetSecret(ctx context.Context, name, value string) error {
	if err := validSecretName(name); err != nil {
		return err
	}
	err := a.call(ctx, "PutSecretValue", name, func(ctx context.Context) error {
		_, err := a.secrets.PutSecretValue(ctx, &secretsmanager.PutSecretValueInput{
			SecretId:     aws.String(name),
			SecretString: aws.String(value),
		})
		return err
	})
	if !errors.Is(err, ErrNotFound) {
		return err
	}
	return a.call(ctx, "CreateSecret", name, func(ctx context.Context) error {
		_, err := a.secrets.CreateSecret(ctx, &secretsmanager.CreateSecretInput{
			Name:         aws.String(name),
			SecretString: aws.String(value),
		})
		return err
	})
}
