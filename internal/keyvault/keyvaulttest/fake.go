// Package keyvaulttest provides in-memory fakes of the KMS and Secrets
// Manager APIs used by keyvault. The fake KMS signs with real RSA keys, so
// signatures round-trip through crypto/rsa.
//
// Errors have the types the AWS SDK returns (NotFoundException,
// AlreadyExistsException, KMSInvalidStateException and so on) so the adapter's
// error mapping is exercised as it is against the real services.
package keyvaulttest

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	kmstypes "github.com/aws/aws-sdk-go-v2/service/kms/types"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	smtypes "github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
)

// fakeKey is one KMS key: the private half stays here, as it would inside KMS.
type fakeKey struct {
	priv  *rsa.PrivateKey
	state kmstypes.KeyState
}

// KMS is an in-memory KMS. The zero value is not usable; call NewKMS.
type KMS struct {
	mu      sync.Mutex
	keys    map[string]*fakeKey // by key id
	aliases map[string]string   // full alias name -> key id
	seq     int                 // last issued key id suffix
	fail    map[string]error    // queued failures, one per operation

	// PageSize bounds ListAliases pages; 0 means unbounded.
	PageSize int
	// Calls counts invocations per operation.
	Calls map[string]int
	// OnCall, when set, runs at the start of every operation outside the
	// lock. Tests use it to hold a call in flight.
	OnCall func(op string)
}

// NewKMS returns an empty fake KMS.
func NewKMS() *KMS {
	return &KMS{
		keys:    make(map[string]*fakeKey),
		aliases: make(map[string]string),
		fail:    make(map[string]error),
		Calls:   make(map[string]int),
	}
}

// FailNext makes the next call of op return err.
func (f *KMS) FailNext(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[op] = err
}

// CallCount returns how many times op was invoked.
func (f *KMS) CallCount(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Calls[op]
}

// State reports the state of a key by id or alias.
func (f *KMS) State(keyID string) kmstypes.KeyState {
	f.mu.Lock()
	defer f.mu.Unlock()
	if k := f.resolve(keyID); k != nil {
		return k.state
	}
	return ""
}

// AddAlias points alias at an existing key, as an operator would.
func (f *KMS) AddAlias(alias, keyID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aliases[alias] = keyID
}

// Disable marks a key (by id or alias) as disabled.
func (f *KMS) Disable(keyID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if k := f.resolve(keyID); k != nil {
		k.state = kmstypes.KeyStateDisabled
	}
}

// enter counts op and returns the failure queued for it by FailNext.
func (f *KMS) enter(op string) error {
	if f.OnCall != nil {
		f.OnCall(op)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls[op]++
	if err, ok := f.fail[op]; ok {
		delete(f.fail, op)
		return err
	}
	return nil
}

// resolve must be called with mu held.
func (f *KMS) resolve(id string) *fakeKey {
	if strings.HasPrefix(id, "alias/") {
		id = f.aliases[id]
	}
	return f.keys[id]
}

// notFound builds the error KMS returns for an unknown key id or alias.
func notFound(id string) error {
	return &kmstypes.NotFoundException{Message: aws.String("key " + id + " not found")}
}

// DescribeKey resolves key ids and aliases alike.
func (f *KMS) DescribeKey(_ context.Context, in *kms.DescribeKeyInput, _ ...func(*kms.Options)) (*kms.DescribeKeyOutput, error) {
	if err := f.enter("DescribeKey"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	// the key id is needed in the output, so resolve by hand
	id := aws.ToString(in.KeyId)
	if strings.HasPrefix(id, "alias/") {
		id = f.aliases[id]
	}
	k, ok := f.keys[id]
	if !ok {
		return nil, notFound(aws.ToString(in.KeyId))
	}
	return &kms.DescribeKeyOutput{KeyMetadata: &kmstypes.KeyMetadata{
		KeyId:    aws.String(id),
		KeyState: k.state,
		Enabled:  k.state == kmstypes.KeyStateEnabled,
	}}, nil
}

// CreateKey generates a fresh RSA key in the enabled state. The key is smaller
// than the RSA_2048 KMS would create so tests stay fast; KeySpec and KeyUsage
// are echoed back unchanged.
func (f *KMS) CreateKey(_ context.Context, in *kms.CreateKeyInput, _ ...func(*kms.Options)) (*kms.CreateKeyOutput, error) {
	if err := f.enter("CreateKey"); err != nil {
		return nil, err
	}
	priv, err := rsa.GenerateKey(rand.Reader, 1024)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	id := fmt.Sprintf("key-%04d", f.seq)
	f.keys[id] = &fakeKey{priv: priv, state: kmstypes.KeyStateEnabled}
	return &kms.CreateKeyOutput{KeyMetadata: &kmstypes.KeyMetadata{
		KeyId:    aws.String(id),
		KeyState: kmstypes.KeyStateEnabled,
		Enabled:  true,
		KeySpec:  in.KeySpec,
		KeyUsage: in.KeyUsage,
	}}, nil
}

// CreateAlias fails with AlreadyExistsException when the alias is taken, which
// is how concurrent pool creators discover they lost the race.
func (f *KMS) CreateAlias(_ context.Context, in *kms.CreateAliasInput, _ ...func(*kms.Options)) (*kms.CreateAliasOutput, error) {
	if err := f.enter("CreateAlias"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	alias := aws.ToString(in.AliasName)
	if _, ok := f.aliases[alias]; ok {
		return nil, &kmstypes.AlreadyExistsException{Message: aws.String(alias + " already exists")}
	}
	target := aws.ToString(in.TargetKeyId)
	if _, ok := f.keys[target]; !ok {
		return nil, notFound(target)
	}
	f.aliases[alias] = target
	return &kms.CreateAliasOutput{}, nil
}

// DeleteAlias removes the alias only; the key it pointed at is untouched.
func (f *KMS) DeleteAlias(_ context.Context, in *kms.DeleteAliasInput, _ ...func(*kms.Options)) (*kms.DeleteAliasOutput, error) {
	if err := f.enter("DeleteAlias"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	alias := aws.ToString(in.AliasName)
	if _, ok := f.aliases[alias]; !ok {
		return nil, notFound(alias)
	}
	delete(f.aliases, alias)
	return &kms.DeleteAliasOutput{}, nil
}

// ListAliases pages through aliases in name order. The marker is the last
// alias of the previous page.
func (f *KMS) ListAliases(_ context.Context, in *kms.ListAliasesInput, _ ...func(*kms.Options)) (*kms.ListAliasesOutput, error) {
	if err := f.enter("ListAliases"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, 0, len(f.aliases))
	for a := range f.aliases {
		names = append(names, a)
	}
	sort.Strings(names)
	// resume after the marker, which may have been deleted since
	start := 0
	if m := aws.ToString(in.Marker); m != "" {
		start = sort.SearchStrings(names, m)
		if start < len(names) && names[start] == m {
			start++
		}
	}
	end := len(names)
	if f.PageSize > 0 && start+f.PageSize < end {
		end = start + f.PageSize
	}
	out := &kms.ListAliasesOutput{}
	for _, n := range names[start:end] {
		out.Aliases = append(out.Aliases, kmstypes.AliasListEntry{
			AliasName:   aws.String(n),
			TargetKeyId: aws.String(f.aliases[n]),
		})
	}
	if end < len(names) {
		out.Truncated = true
		out.NextMarker = aws.String(names[end-1])
	}
	return out, nil
}

// ScheduleKeyDeletion moves the key to PendingDeletion at once. There is no
// waiting period; the key simply stops being usable.
func (f *KMS) ScheduleKeyDeletion(_ context.Context, in *kms.ScheduleKeyDeletionInput, _ ...func(*kms.Options)) (*kms.ScheduleKeyDeletionOutput, error) {
	if err := f.enter("ScheduleKeyDeletion"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	k := f.resolve(aws.ToString(in.KeyId))
	if k == nil {
		return nil, notFound(aws.ToString(in.KeyId))
	}
	k.state = kmstypes.KeyStatePendingDeletion
	return &kms.ScheduleKeyDeletionOutput{KeyId: in.KeyId, KeyState: k.state}, nil
}

// usable returns the key when it exists and is enabled.
func (f *KMS) usable(id string) (*fakeKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := f.resolve(id)
	if k == nil {
		return nil, notFound(id)
	}
	if k.state != kmstypes.KeyStateEnabled {
		return nil, &kmstypes.KMSInvalidStateException{Message: aws.String(string(k.state))}
	}
	return k, nil
}

// Sign accepts only digest requests with RSASSA_PKCS1_V1_5_SHA_256, the one
// combination keyvault sends.
func (f *KMS) Sign(_ context.Context, in *kms.SignInput, _ ...func(*kms.Options)) (*kms.SignOutput, error) {
	if err := f.enter("Sign"); err != nil {
		return nil, err
	}
	k, err := f.usable(aws.ToString(in.KeyId))
	if err != nil {
		return nil, err
	}
	if in.MessageType != kmstypes.MessageTypeDigest || in.SigningAlgorithm != kmstypes.SigningAlgorithmSpecRsassaPkcs1V15Sha256 {
		return nil, &kmstypes.InvalidKeyUsageException{Message: aws.String("unsupported signing request")}
	}
	sig, err := rsa.SignPKCS1v15(nil, k.priv, crypto.SHA256, in.Message)
	if err != nil {
		return nil, err
	}
	return &kms.SignOutput{KeyId: in.KeyId, Signature: sig, SigningAlgorithm: in.SigningAlgorithm}, nil
}

// Verify mirrors KMS: a bad signature is a KMSInvalidSignatureException.
func (f *KMS) Verify(_ context.Context, in *kms.VerifyInput, _ ...func(*kms.Options)) (*kms.VerifyOutput, error) {
	if err := f.enter("Verify"); err != nil {
		return nil, err
	}
	k, err := f.usable(aws.ToString(in.KeyId))
	if err != nil {
		return nil, err
	}
	if err := rsa.VerifyPKCS1v15(&k.priv.PublicKey, crypto.SHA256, in.Message, in.Signature); err != nil {
		return nil, &kmstypes.KMSInvalidSignatureException{Message: aws.String("signature is invalid")}
	}
	return &kms.VerifyOutput{KeyId: in.KeyId, SignatureValid: true, SigningAlgorithm: in.SigningAlgorithm}, nil
}

// Secrets is an in-memory Secrets Manager.
type Secrets struct {
	mu     sync.Mutex
	values map[string]string
	fail   []error // consumed front to back by GetSecretValue

	// Gets counts GetSecretValue calls, failed ones included.
	Gets int
}

// NewSecrets returns a fake seeded with values.
func NewSecrets(values map[string]string) *Secrets {
	s := &Secrets{values: make(map[string]string)}
	for k, v := range values {
		s.values[k] = v
	}
	return s
}

// FailGets makes the next len(errs) GetSecretValue calls fail in order.
func (s *Secrets) FailGets(errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = append(s.fail, errs...)
}

// GetCount returns how many GetSecretValue calls were made.
func (s *Secrets) GetCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Gets
}

// GetSecretValue returns queued failures first, then the stored value or
// ResourceNotFoundException.
func (s *Secrets) GetSecretValue(_ context.Context, in *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Gets++
	if len(s.fail) > 0 {
		err := s.fail[0]
		s.fail = s.fail[1:]
		return nil, err
	}
	v, ok := s.values[aws.ToString(in.SecretId)]
	if !ok {
		return nil, &smtypes.ResourceNotFoundException{Message: aws.String("secret not found")}
	}
	return &secretsmanager.GetSecretValueOutput{Name: in.SecretId, SecretString: aws.String(v)}, nil
}

// PutSecretValue only updates existing secrets, so callers must fall back to
// CreateSecret for new names.
func (s *Secrets) PutSecretValue(_ context.Context, in *secretsmanager.PutSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.PutSecretValueOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	name := aws.ToString(in.SecretId)
	if _, ok := s.values[name]; !ok {
		return nil, &smtypes.ResourceNotFoundException{Message: aws.String("secret not found")}
	}
	s.values[name] = aws.ToString(in.SecretString)
	return &secretsmanager.PutSecretValueOutput{Name: in.SecretId}, nil
}

// CreateSecret refuses names that already exist.
func (s *Secrets) CreateSecret(_ context.Context, in *secretsmanager.CreateSecretInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.CreateSecretOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	name := aws.ToString(in.Name)
	if _, ok := s.values[name]; ok {
		return nil, &smtypes.ResourceExistsException{Message: aws.String("secret exists")}
	}
	s.values[name] = aws.ToString(in.SecretString)
	return &secretsmanager.CreateSecretOutput{Name: in.Name}, nil
}
