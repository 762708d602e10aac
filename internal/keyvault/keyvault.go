// Package keyvault adapts AWS KMS and AWS Secrets Manager to the small set of
// operations the bot needs: named secrets, a rotating pool of RSA signing
// keys, and digest sign/verify.
//
// Pool keys are addressed through aliases of the form
// alias/<prefix>/<name>, where name is "<createdMicros>-<expiresUnix>". The
// expiry encoded in the name is authoritative; expired keys are skipped when
// a signing key is chosen and can be retired with ScheduleExpiredKeyDeletion.
//
// Every remote call goes through a weighted semaphore so that no more than
// Options.Workers requests are in flight at once. Failures are reported as
// *Error values classified as ErrNotFound, ErrTransient or ErrRejected.
package keyvault

import (
	"context"
	"math/rand/v2"
	"strings"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"
)

// KMSAPI is the subset of the KMS client used by Adapter.
type KMSAPI interface {
	DescribeKey(ctx context.Context, in *kms.DescribeKeyInput, optFns ...func(*kms.Options)) (*kms.DescribeKeyOutput, error)
	CreateKey(ctx context.Context, in *kms.CreateKeyInput, optFns ...func(*kms.Options)) (*kms.CreateKeyOutput, error)
	CreateAlias(ctx context.Context, in *kms.CreateAliasInput, optFns ...func(*kms.Options)) (*kms.CreateAliasOutput, error)
	DeleteAlias(ctx context.Context, in *kms.DeleteAliasInput, optFns ...func(*kms.Options)) (*kms.DeleteAliasOutput, error)
	ListAliases(ctx context.Context, in *kms.ListAliasesInput, optFns ...func(*kms.Options)) (*kms.ListAliasesOutput, error)
	ScheduleKeyDeletion(ctx context.Context, in *kms.ScheduleKeyDeletionInput, optFns ...func(*kms.Options)) (*kms.ScheduleKeyDeletionOutput, error)
	Sign(ctx context.Context, in *kms.SignInput, optFns ...func(*kms.Options)) (*kms.SignOutput, error)
	Verify(ctx context.Context, in *kms.VerifyInput, optFns ...func(*kms.Options)) (*kms.VerifyOutput, error)
}

// SecretsAPI is the subset of the Secrets Manager client used by Adapter.
type SecretsAPI interface {
	GetSecretValue(ctx context.Context, in *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
	PutSecretValue(ctx context.Context, in *secretsmanager.PutSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.PutSecretValueOutput, error)
	CreateSecret(ctx context.Context, in *secretsmanager.CreateSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.CreateSecretOutput, error)
}

// Key is a pool signing key.
type Key struct {
	Name      string    // "<createdMicros>-<expiresUnix>"
	ID        string    // KMS key id
	ExpiresAt time.Time // derived from Name
}

// Options configures an Adapter.
type Options struct {
	AliasPrefix string        // "token-signing" when empty
	KeyLifetime time.Duration // 7 days when zero
	Workers     int           // concurrent remote calls; 10 when < 1
	Now         func() time.Time
}

// Adapter talks to KMS and Secrets Manager. It is safe for concurrent use.
type Adapter struct {
	kms      KMSAPI
	secrets  SecretsAPI
	prefix   string
	lifetime time.Duration
	sem      *semaphore.Weighted
	pool     singleflight.Group // dedupes GetOrCreateRandomKey
	now      func() time.Time
	pick     func(n int) int // chooses among live keys; swapped in tests
}

// New returns an Adapter over the given clients.
func New(k KMSAPI, s SecretsAPI, opts Options) *Adapter {
	a := &Adapter{
		kms:      k,
		secrets:  s,
		prefix:   strings.Trim(strings.TrimPrefix(opts.AliasPrefix, "alias/"), "/"),
		lifetime: opts.KeyLifetime,
		now:      opts.Now,
		pick:     rand.IntN,
	}
	if a.prefix == "" {
		a.prefix = "token-signing"
	}
	if a.lifetime <= 0 {
		a.lifetime = 7 * 24 * time.Hour
	}
	workers := opts.Workers
	if workers < 1 {
		workers = 10
	}
	a.sem = semaphore.NewWeighted(int64(workers))
	if a.now == nil {
		a.now = time.Now
	}
	return a
}

// NewFromAWS builds an Adapter from the default AWS credential chain. The SDK
// retryer is capped at maxAttempts attempts per call.
func NewFromAWS(ctx context.Context, region string, maxAttempts int, opts Options) (*Adapter, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{}
	if region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(region))
	}
	if maxAttempts > 0 {
		loadOpts = append(loadOpts, awsconfig.WithRetryMaxAttempts(maxAttempts))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, err
	}
	return New(kms.NewFromConfig(cfg), secretsmanager.NewFromConfig(cfg), opts), nil
}

// call runs one remote operation under the concurrency limit, records its
// latency and classifies its error.
func (a *Adapter) call(ctx context.Context, op, name string, fn func(context.Context) error) error {
	ctx, span := otel.Tracer("keyvault").Start(ctx, "keyvault."+op)
	defer span.End()
	span.SetAttributes(attribute.String("keyvault.name", name))

	// Acquire may succeed on a cancelled context when a slot is free.
	if err := ctx.Err(); err != nil {
		return classify(op, name, err)
	}
	if err := a.sem.Acquire(ctx, 1); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return classify(op, name, err)
	}
	defer a.sem.Release(1)

	inflight.Inc()
	start := time.Now()
	err := fn(ctx)
	inflight.Dec()

	if err != nil {
		kerr := classify(op, name, err)
		callDuration.WithLabelValues(op, kindLabel(kerr.Kind)).Observe(time.Since(start).Seconds())
		span.RecordError(err)
		span.SetStatus(codes.Error, kerr.Kind.Error())
		return kerr
	}
	callDuration.WithLabelValues(op, "ok").Observe(time.Since(start).Seconds())
	return nil
}

// alias maps a pool key name to its full KMS alias.
func (a *Adapter) alias(name string) string {
	return "alias/" + a.prefix + "/" + name
}
