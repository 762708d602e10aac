// Package keyvault: error classification.
//
// SDK errors are mapped onto three kinds so callers can decide without
// knowing AWS error types:
//
//	ErrNotFound   missing, disabled or pending deletion
//	ErrTransient  throttling, server faults, timeouts, network errors
//	ErrRejected   everything the caller must fix (bad input, access denied)
//
// The concrete SDK error stays reachable through errors.As.
package keyvault

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	kmstypes "github.com/aws/aws-sdk-go-v2/service/kms/types"
	smtypes "github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/aws/smithy-go"
)

var (
	// ErrNotFound means the secret or key does not exist or cannot be used.
	ErrNotFound = errors.New("keyvault: not found")

	// ErrTransient means the call failed for a reason that may clear on its
	// own: throttling, a server fault, a timeout or a network error.
	ErrTransient = errors.New("keyvault: transient failure")

	// ErrRejected means the service refused the request; retrying the same
	// request will not help.
	ErrRejected = errors.New("keyvault: request rejected")

	// ErrInvalidName is returned for key names outside [A-Za-z0-9_-] and
	// for secret names Secrets Manager would refuse.
	ErrInvalidName = errors.New("keyvault: invalid name")
)

// Error describes a failed remote operation. errors.Is matches both Kind and
// the underlying SDK error.
type Error struct {
	Op   string
	Name string
	Kind error
	Err  error
}

func (e *Error) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("keyvault %s: %v: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("keyvault %s %q: %v: %v", e.Op, e.Name, e.Kind, e.Err)
}

func (e *Error) Unwrap() []error { return []error{e.Kind, e.Err} }

// throttlingCodes are the API error codes AWS services use for rate limits.
var throttlingCodes = map[string]bool{
	"ThrottlingException":                    true,
	"Throttling":                             true,
	"TooManyRequestsException":               true,
	"RequestLimitExceeded":                   true,
	"LimitExceededException":                 true,
	"ProvisionedThroughputExceededException": true,
}

func classify(op, name string, err error) *Error {
	return &Error{Op: op, Name: name, Kind: kindOf(err), Err: err}
}

// kindOf picks the kind for err. Unknown, non-API errors count as
// transient; a cancelled context is the caller's doing and is rejected.
func kindOf(err error) error {
	var (
		kmsNotFound  *kmstypes.NotFoundException
		smNotFound   *smtypes.ResourceNotFoundException
		disabled     *kmstypes.DisabledException
		invalidState *kmstypes.KMSInvalidStateException
		netErr       net.Error
		apiErr       smithy.APIError
	)
	switch {
	case errors.As(err, &kmsNotFound), errors.As(err, &smNotFound),
		errors.As(err, &disabled), errors.As(err, &invalidState):
		return ErrNotFound
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr):
		return ErrTransient
	case errors.Is(err, context.Canceled):
		return ErrRejected
	case errors.As(err, &apiErr):
		if throttlingCodes[apiErr.ErrorCode()] || apiErr.ErrorFault() == smithy.FaultServer {
			return ErrTransient
		}
		if strings.HasSuffix(apiErr.ErrorCode(), "NotFoundException") {
			return ErrNotFound
		}
		return ErrRejected
	default:
		return ErrTransient
	}
}

// kindLabel is the metric label for kind.
func kindLabel(kind error) string {
	switch kind {
	case ErrNotFound:
		return "not_found"
	case ErrTransient:
		return "transient"
	default:
		return "rejected"
	}
}
