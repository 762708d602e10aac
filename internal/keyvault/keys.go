// Package keyvault: the signing key pool.
//
// Tokens are signed with one of a small pool of KMS keys chosen at random.
// A pool key is created with an expiry encoded in its alias name; once that
// passes it is no longer chosen for signing but still verifies tokens it
// signed earlier, until it is retired.
//
// Lifecycle:
//   - GetOrCreateRandomKey fills an empty pool with poolSize keys
//   - GetKey resolves the kid of an incoming token
//   - ScheduleExpiredKeyDeletion removes aliases and schedules deletion
//     (7 day pending window) of keys expired for longer than a grace period
package keyvault

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	kmstypes "github.com/aws/aws-sdk-go-v2/service/kms/types"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// namePattern keeps pool key names valid inside a KMS alias.
var namePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// validName wraps ErrInvalidName so callers can tell a bad kid from an outage.
func validName(name string) error {
	if !namePattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// KeyName builds the pool name of a key created at created that expires at
// expires: "<created unix micros>-<expires unix seconds>". The creation part
// only keeps names unique.
func KeyName(created, expires time.Time) string {
	return strconv.FormatInt(created.UnixMicro(), 10) + "-" + strconv.FormatInt(expires.Unix(), 10)
}

// ParseKeyName extracts the expiry encoded in a pool key name.
func ParseKeyName(name string) (expires time.Time, err error) {
	created, exp, ok := strings.Cut(name, "-")
	if !ok {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if _, err := strconv.ParseInt(created, 10, 64); err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	sec, err := strconv.ParseInt(exp, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return time.Unix(sec, 0), nil
}

// GetKey resolves a pool key by name. Keys that are disabled or pending
// deletion are reported as ErrNotFound.
func (a *Adapter) GetKey(ctx context.Context, name string) (Key, error) {
	if err := validName(name); err != nil {
		return Key{}, err
	}
	expires, err := ParseKeyName(name)
	if err != nil {
		return Key{}, err
	}
	var meta *kmstypes.KeyMetadata
	err = a.call(ctx, "DescribeKey", name, func(ctx context.Context) error {
		out, err := a.kms.DescribeKey(ctx, &kms.DescribeKeyInput{KeyId: aws.String(a.alias(name))})
		if err != nil {
			return err
		}
		meta = out.KeyMetadata
		return nil
	})
	if err != nil {
		return Key{}, err
	}
	if meta == nil || meta.KeyId == nil || meta.KeyState != kmstypes.KeyStateEnabled {
		return Key{}, &Error{Op: "DescribeKey", Name: name, Kind: ErrNotFound, Err: errors.New("key is not enabled")}
	}
	return Key{Name: name, ID: aws.ToString(meta.KeyId), ExpiresAt: expires}, nil
}

// CreateKey provisions an RSA-2048 signing key and binds it to the pool
// alias for name. When the alias already exists the existing key is returned
// and the freshly created key is scheduled for deletion.
func (a *Adapter) CreateKey(ctx context.Context, name string, expiresAt time.Time) (Key, error) {
	if err := validName(name); err != nil {
		return Key{}, err
	}
	var keyID string
	err := a.call(ctx, "CreateKey", name, func(ctx context.Context) error {
		out, err := a.kms.CreateKey(ctx, &kms.CreateKeyInput{
			KeySpec:     kmstypes.KeySpecRsa2048,
			KeyUsage:    kmstypes.KeyUsageTypeSignVerify,
			Description: aws.String("token signing key " + name),
			Tags: []kmstypes.Tag{
				{TagKey: aws.String("ExpiresAt"), TagValue: aws.String(expiresAt.UTC().Format(time.RFC3339))},
				{TagKey: aws.String("Pool"), TagValue: aws.String(a.prefix)},
			},
		})
		if err != nil {
			return err
		}
		keyID = aws.ToString(out.KeyMetadata.KeyId)
		return nil
	})
	if err != nil {
		return Key{}, err
	}

	// The alias is the claim on name. Losing the race to another creator
	// leaves this key unreferenced.
	err = a.call(ctx, "CreateAlias", name, func(ctx context.Context) error {
		_, err := a.kms.CreateAlias(ctx, &kms.CreateAliasInput{
			AliasName:   aws.String(a.alias(name)),
			TargetKeyId: aws.String(keyID),
		})
		return err
	})
	var exists *kmstypes.AlreadyExistsException
	switch {
	case err == nil:
		return Key{Name: name, ID: keyID, ExpiresAt: expiresAt.Truncate(time.Second)}, nil
	case errors.As(err, &exists):
		// another creator won; hand out its key
		existing, gerr := a.GetKey(ctx, name)
		if gerr != nil {
			return Key{}, gerr
		}
		if derr := a.scheduleDeletion(ctx, name, keyID); derr != nil {
			zerolog.Ctx(ctx).Warn().Err(derr).Str("key_id", keyID).Msg("redundant key not scheduled for deletion")
		}
		return existing, nil
	default:
		// nothing points at keyID
		if derr := a.scheduleDeletion(ctx, name, keyID); derr != nil {
			zerolog.Ctx(ctx).Warn().Err(derr).Str("key_id", keyID).Msg("orphan key not scheduled for deletion")
		}
		return Key{}, err
	}
}

// ListKeys returns every pool key, expired or not, in alias order.
func (a *Adapter) ListKeys(ctx context.Context) ([]Key, error) {
	prefix := a.alias("")
	// KMS cannot filter aliases by prefix server side.
	p := kms.NewListAliasesPaginator(a.kms, &kms.ListAliasesInput{})
	var keys []Key
	for p.HasMorePages() {
		var page *kms.ListAliasesOutput
		err := a.call(ctx, "ListAliases", "", func(ctx context.Context) error {
			var err error
			page, err = p.NextPage(ctx)
			return err
		})
		if err != nil {
			return nil, err
		}
		for _, al := range page.Aliases {
			name, ok := strings.CutPrefix(aws.ToString(al.AliasName), prefix)
			if !ok || al.TargetKeyId == nil {
				continue
			}
			// Aliases under the prefix that are not pool names are ignored.
			expires, err := ParseKeyName(name)
			if err != nil {
				continue
			}
			keys = append(keys, Key{Name: name, ID: aws.ToString(al.TargetKeyId), ExpiresAt: expires})
		}
	}
	return keys, nil
}

// GetOrCreateRandomKey picks a uniformly random unexpired pool key. When the
// pool is empty it provisions poolSize keys concurrently and picks one of
// them. Concurrent callers that find the pool empty share one provisioning
// run.
func (a *Adapter) GetOrCreateRandomKey(ctx context.Context, poolSize int) (Key, error) {
	live, err := a.liveKeys(ctx)
	if err != nil {
		return Key{}, err
	}
	if len(live) > 0 {
		return live[a.pick(len(live))], nil
	}

	v, err, _ := a.pool.Do("pool", func() (any, error) {
		// The run is shared, so it must outlive the caller that started it.
		ctx := context.WithoutCancel(ctx)
		// an earlier run may have filled the pool meanwhile
		live, err := a.liveKeys(ctx)
		if err != nil || len(live) > 0 {
			return live, err
		}
		return a.createPool(ctx, poolSize)
	})
	if err != nil {
		return Key{}, err
	}
	keys := v.([]Key)
	if len(keys) == 0 {
		return Key{}, &Error{Op: "GetOrCreateRandomKey", Kind: ErrNotFound, Err: errors.New("empty key pool")}
	}
	return keys[a.pick(len(keys))], nil
}

// liveKeys returns the pool keys whose expiry is still ahead.
func (a *Adapter) liveKeys(ctx context.Context) ([]Key, error) {
	all, err := a.ListKeys(ctx)
	if err != nil {
		return nil, err
	}
	now := a.now()
	// Filter in place; all is not used afterwards.
	live := all[:0]
	for _, k := range all {
		if k.ExpiresAt.After(now) {
			live = append(live, k)
		}
	}
	return live, nil
}

// createPool creates size keys in parallel, all expiring KeyLifetime from
// now. Names differ by a microsecond offset. The first failure cancels the
// remaining creations.
func (a *Adapter) createPool(ctx context.Context, size int) ([]Key, error) {
	if size < 1 {
		size = 1
	}
	now := a.now()
	expires := now.Add(a.lifetime)
	keys := make([]Key, size)

	g, gctx := errgroup.WithContext(ctx)
	for i := range keys {
		name := KeyName(now.Add(time.Duration(i)*time.Microsecond), expires)
		g.Go(func() error {
			k, err := a.CreateKey(gctx, name, expires)
			if err != nil {
				return err
			}
			keys[i] = k
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	zerolog.Ctx(ctx).Info().Int("keys", size).Time("expires_at", expires).Msg("signing key pool created")
	return keys, nil
}

// ScheduleExpiredKeyDeletion retires pool keys that expired more than grace
// ago: their alias is removed and the key is scheduled for deletion. It
// returns the names of the retired keys.
func (a *Adapter) ScheduleExpiredKeyDeletion(ctx context.Context, grace time.Duration) ([]string, error) {
	all, err := a.ListKeys(ctx)
	if err != nil {
		return nil, err
	}
	cutoff := a.now().Add(-grace)
	var retired []string
	for _, k := range all {
		if k.ExpiresAt.After(cutoff) {
			continue
		}
		// A key already half retired by an earlier run is finished here.
		if err := a.call(ctx, "DeleteAlias", k.Name, func(ctx context.Context) error {
			_, err := a.kms.DeleteAlias(ctx, &kms.DeleteAliasInput{AliasName: aws.String(a.alias(k.Name))})
			return err
		}); err != nil && !errors.Is(err, ErrNotFound) {
			return retired, err
		}
		if err := a.scheduleDeletion(ctx, k.Name, k.ID); err != nil && !errors.Is(err, ErrNotFound) {
			return retired, err
		}
		retired = append(retired, k.Name)
	}
	return retired, nil
}

// scheduleDeletion uses the shortest pending window KMS allows.
func (a *Adapter) scheduleDeletion(ctx context.Context, name, keyID string) error {
	return a.call(ctx, "ScheduleKeyDeletion", name, func(ctx context.Context) error {
		_, err := a.kms.ScheduleKeyDeletion(ctx, &kms.ScheduleKeyDeletionInput{
			KeyId:               aws.String(keyID),
			PendingWindowInDays: aws.Int32(7),
		})
		return err
	})
}
